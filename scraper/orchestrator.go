package scraper

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"carbitrage/config"
	"carbitrage/logging"
	"carbitrage/models"
	"carbitrage/pricing"
	"carbitrage/services"
	"carbitrage/storage"
	"carbitrage/workers"
)

// StudyCatalog resolves the studies a run should execute.
type StudyCatalog interface {
	All(ctx context.Context) ([]*models.Study, error)
	Get(ctx context.Context, id string) (*models.Study, error)
}

// EventLog receives run-scoped events for the progress dashboard.
type EventLog interface {
	Log(runID *uuid.UUID, level models.LogLevel, message, studyID string) error
}

type StatsUpdater interface {
	UpdateStudyStats(ctx context.Context, studyID string) error
}

type Deps struct {
	Scanner    Searcher
	Registry   *Registry
	Normalizer *pricing.Normalizer
	Sink       storage.ResultSink
	Runs       storage.RunStore
	Events     EventLog
	Stats      StatsUpdater
	Studies    StudyCatalog
}

// Outcome summarises one ExecuteStudy call for batch aggregation. Exactly
// one of the counters is 1.
type Outcome struct {
	Status        models.ResultStatus
	Nulls         int
	Opportunities int
	Blocked       int
	Result        *models.StudyRunResult
}

type Orchestrator struct {
	scanner     Searcher
	registry    *Registry
	normalizer  *pricing.Normalizer
	sink        storage.ResultSink
	runs        storage.RunStore
	events      EventLog
	stats       StatsUpdater
	studies     StudyCatalog
	threshold   float64
	concurrency int

	mu     sync.Mutex
	paused bool
}

func NewOrchestrator(cfg *config.Config, deps Deps) *Orchestrator {
	return &Orchestrator{
		scanner:     deps.Scanner,
		registry:    deps.Registry,
		normalizer:  deps.Normalizer,
		sink:        deps.Sink,
		runs:        deps.Runs,
		events:      deps.Events,
		stats:       deps.Stats,
		studies:     deps.Studies,
		threshold:   cfg.Scan.Threshold,
		concurrency: cfg.Scan.Concurrency,
	}
}

// ExecuteStudy runs one study to a terminal status and appends exactly one
// result row. It never returns an error: failures become NULL results.
func (o *Orchestrator) ExecuteStudy(ctx context.Context, runID uuid.UUID, study *models.Study) Outcome {
	result := o.evaluate(ctx, &runID, study)
	result.RunID = runID
	result.StudyID = study.ID
	result.CreatedAt = time.Now()

	o.persist(ctx, &runID, result)

	out := Outcome{Status: result.Status, Result: result}
	switch result.Status {
	case models.ResultStatusOpportunities:
		out.Opportunities = 1
	case models.ResultStatusTargetBlocked, models.ResultStatusSourceBlocked:
		out.Blocked = 1
	default:
		out.Nulls = 1
	}
	return out
}

func (o *Orchestrator) evaluate(ctx context.Context, runID *uuid.UUID, study *models.Study) (result *models.StudyRunResult) {
	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprint(r)
			o.log(runID, models.LogLevelError, "Study panicked: "+msg, study.ID)
			result = nullResult(msg)
		}
	}()

	targetURL := o.applyTrim(study.TargetCountry, study.TargetURL, study.EffectiveTargetTrim())
	sourceURL := o.applyTrim(study.SourceCountry, study.SourceURL, study.EffectiveSourceTrim())

	o.log(runID, models.LogLevelInfo,
		fmt.Sprintf("Evaluating %s, buy in %s, sell in %s", study.Label(), study.SourceCountry, study.TargetCountry), study.ID)
	o.log(runID, models.LogLevelInfo, fmt.Sprintf("Scanning target %s", targetURL), study.ID)
	target := o.scanner.Scan(ctx, targetURL, study.Mode)
	switch target.Status {
	case ScanFailed:
		o.log(runID, models.LogLevelWarn, "Target scan failed: "+target.Reason, study.ID)
		return nullResult(models.ReasonScraperFailed)
	case ScanBlocked:
		o.log(runID, models.LogLevelWarn, "Target blocked: "+target.Reason, study.ID)
		return &models.StudyRunResult{
			Status:            models.ResultStatusTargetBlocked,
			TargetErrorReason: strPtr(target.Reason),
		}
	}

	validTarget := services.FilterListings(target.Listings, study)
	o.log(runID, models.LogLevelInfo,
		fmt.Sprintf("Target: %d listings, %d valid, %d skipped blocks", len(target.Listings), len(validTarget), target.Skipped),
		study.ID)
	if len(validTarget) == 0 {
		return nullResult(models.ReasonNoValidTarget)
	}

	stats := pricing.Summarize(o.normalizer.ReferencePrices(validTarget))
	targetPrice := stats.Median
	targetStats := &models.TargetStats{MarketStats: stats}

	o.log(runID, models.LogLevelInfo, fmt.Sprintf("Scanning source %s", sourceURL), study.ID)
	source := o.scanner.Scan(ctx, sourceURL, study.Mode)
	switch source.Status {
	case ScanFailed:
		o.log(runID, models.LogLevelWarn, "Source scan failed: "+source.Reason, study.ID)
		return &models.StudyRunResult{
			Status:            models.ResultStatusNull,
			TargetMarketPrice: &targetPrice,
			TargetStats:       targetStats,
			TargetErrorReason: strPtr(models.ReasonScraperFailedOnSource),
		}
	case ScanBlocked:
		o.log(runID, models.LogLevelWarn, "Source blocked: "+source.Reason, study.ID)
		return &models.StudyRunResult{
			Status:            models.ResultStatusSourceBlocked,
			TargetMarketPrice: &targetPrice,
			TargetStats:       targetStats,
			TargetErrorReason: strPtr(source.Reason),
		}
	}

	validSource := services.FilterListings(source.Listings, study)
	o.log(runID, models.LogLevelInfo,
		fmt.Sprintf("Source: %d listings, %d valid, %d skipped blocks", len(source.Listings), len(validSource), source.Skipped),
		study.ID)
	bestSource, ok := pricing.Lowest(o.normalizer.ReferencePrices(validSource))
	if !ok {
		return &models.StudyRunResult{
			Status:            models.ResultStatusNull,
			TargetMarketPrice: &targetPrice,
			TargetStats:       targetStats,
			TargetErrorReason: strPtr(models.ReasonNoValidSource),
		}
	}

	diff := targetPrice - bestSource
	threshold := o.thresholdFor(study)
	if diff < threshold {
		o.log(runID, models.LogLevelInfo,
			fmt.Sprintf("No opportunity: difference %.0f below threshold %.0f", diff, threshold), study.ID)
		return &models.StudyRunResult{
			Status:            models.ResultStatusNull,
			TargetMarketPrice: &targetPrice,
			BestSourcePrice:   &bestSource,
			PriceDifference:   &diff,
			TargetStats:       targetStats,
		}
	}

	median := stats.Median
	targetStats.TargetURL = targetURL
	targetStats.SourceURL = sourceURL
	targetStats.MarketMedian = &median

	o.log(runID, models.LogLevelInfo,
		fmt.Sprintf("Opportunity: target %.0f, source %.0f, difference %.0f", targetPrice, bestSource, diff), study.ID)
	return &models.StudyRunResult{
		Status:            models.ResultStatusOpportunities,
		TargetMarketPrice: &targetPrice,
		BestSourcePrice:   &bestSource,
		PriceDifference:   &diff,
		TargetStats:       targetStats,
	}
}

// persist writes the result even when the caller's context is already
// cancelled. Write errors are logged and do not change the outcome.
func (o *Orchestrator) persist(ctx context.Context, runID *uuid.UUID, result *models.StudyRunResult) {
	ctx = context.WithoutCancel(ctx)

	if err := o.sink.AppendResult(ctx, result); err != nil {
		o.log(runID, models.LogLevelError, fmt.Sprintf("Persist result: %v", err), result.StudyID)
		return
	}
	o.log(runID, models.LogLevelInfo, fmt.Sprintf("Result %s %s", result.Status, result.Reason()), result.StudyID)

	if o.stats != nil {
		if err := o.stats.UpdateStudyStats(ctx, result.StudyID); err != nil {
			log.Printf("Update study stats for %s: %v", result.StudyID, err)
		}
	}
}

func (o *Orchestrator) applyTrim(country, rawURL, trim string) string {
	if trim == "" || o.registry == nil {
		return rawURL
	}
	mutator := o.registry.TrimFor(country, rawURL)
	if mutator == nil {
		return rawURL
	}
	return mutator.ApplyTrim(rawURL, trim)
}

func (o *Orchestrator) thresholdFor(study *models.Study) float64 {
	if study.Threshold > 0 {
		return study.Threshold
	}
	return o.threshold
}

func nullResult(reason string) *models.StudyRunResult {
	return &models.StudyRunResult{
		Status:            models.ResultStatusNull,
		TargetErrorReason: strPtr(reason),
	}
}

func strPtr(s string) *string {
	return &s
}

func (o *Orchestrator) RunAll(ctx context.Context) error {
	if o.IsPaused() {
		log.Println("Scanner is paused, skipping run")
		return nil
	}

	studies, err := o.studies.All(ctx)
	if err != nil {
		return err
	}
	_, err = o.RunStudies(ctx, studies)
	return err
}

func (o *Orchestrator) RunStudy(ctx context.Context, studyID string) error {
	study, err := o.studies.Get(ctx, studyID)
	if err != nil {
		return err
	}
	if study == nil {
		return fmt.Errorf("unknown study: %s", studyID)
	}
	_, err = o.RunStudies(ctx, []*models.Study{study})
	return err
}

// RunStudies executes studies on a bounded pool under one run record. Once
// ctx is cancelled no further studies start; studies already running still
// persist their result.
func (o *Orchestrator) RunStudies(ctx context.Context, studies []*models.Study) (*models.StudyRun, error) {
	run := &models.StudyRun{
		ID:           uuid.New(),
		StartedAt:    time.Now(),
		Status:       models.RunStatusRunning,
		StudiesTotal: len(studies),
	}
	if o.runs != nil {
		if err := o.runs.CreateRun(ctx, run); err != nil {
			log.Printf("Warning: failed to record run: %v", err)
		}
	}

	o.log(&run.ID, models.LogLevelInfo, fmt.Sprintf("Starting run with %d studies", len(studies)), "")

	var mu sync.Mutex
	pool := workers.NewPool(o.concurrency, func(level models.LogLevel, source, message string) {
		o.log(&run.ID, level, message, source)
	})

	var submitErr error
	for _, study := range studies {
		err := pool.Submit(ctx, study.ID, func() {
			out := o.ExecuteStudy(ctx, run.ID, study)
			mu.Lock()
			run.Opportunities += out.Opportunities
			run.Nulls += out.Nulls
			run.Blocked += out.Blocked
			mu.Unlock()
		})
		if err != nil {
			submitErr = err
			break
		}
	}
	pool.Wait()

	now := time.Now()
	run.FinishedAt = &now
	run.Status = models.RunStatusCompleted
	if submitErr != nil {
		run.Status = models.RunStatusCancelled
		run.ErrorMessage = submitErr.Error()
	}

	if o.runs != nil {
		if err := o.runs.UpdateRun(context.WithoutCancel(ctx), run); err != nil {
			log.Printf("Warning: failed to update run %s: %v", run.ID, err)
		}
	}

	o.log(&run.ID, models.LogLevelInfo,
		fmt.Sprintf("Run %s: %d opportunities, %d null, %d blocked", run.Status, run.Opportunities, run.Nulls, run.Blocked), "")

	return run, submitErr
}

func (o *Orchestrator) HandleCommand(cmd *models.Command) error {
	params, err := storage.ParseCommandParams(cmd)
	if err != nil {
		return err
	}

	ctx := context.Background()

	switch cmd.Command {
	case models.CmdRunAll:
		return o.RunAll(ctx)
	case models.CmdRunStudy:
		if params.Study != "" {
			return o.RunStudy(ctx, params.Study)
		}
		return o.RunAll(ctx)
	case models.CmdPause:
		o.setPaused(true)
		log.Println("Scanner paused")
	case models.CmdResume:
		o.setPaused(false)
		log.Println("Scanner resumed")
	default:
		return fmt.Errorf("unknown command: %s", cmd.Command)
	}

	return nil
}

func (o *Orchestrator) IsPaused() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.paused
}

func (o *Orchestrator) setPaused(p bool) {
	o.mu.Lock()
	o.paused = p
	o.mu.Unlock()
}

func (o *Orchestrator) log(runID *uuid.UUID, level models.LogLevel, message, studyID string) {
	if !logging.Enabled(string(level)) {
		return
	}
	log.Printf("[%s] %s: %s", level, studyID, message)
	if o.events != nil {
		if err := o.events.Log(runID, level, message, studyID); err != nil {
			log.Printf("Warning: failed to write scan log: %v", err)
		}
	}
}
