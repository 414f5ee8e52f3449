package scraper

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"

	"carbitrage/config"
	"carbitrage/models"
	"carbitrage/pricing"
)

type stubSearcher struct {
	mu      sync.Mutex
	results map[string]SearchResult
	panics  map[string]bool
	scanned []string
	onScan  func(pageURL string)
}

func (s *stubSearcher) Scan(_ context.Context, pageURL string, _ models.ScanMode) SearchResult {
	s.mu.Lock()
	s.scanned = append(s.scanned, pageURL)
	onScan := s.onScan
	s.mu.Unlock()

	if onScan != nil {
		onScan(pageURL)
	}
	if s.panics[pageURL] {
		panic("extractor exploded")
	}
	if res, ok := s.results[pageURL]; ok {
		return res
	}
	return SearchResult{Status: ScanFailed, Reason: "no stub for " + pageURL}
}

func (s *stubSearcher) scannedURLs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.scanned...)
}

type recordingSink struct {
	mu      sync.Mutex
	results []*models.StudyRunResult
	ctxErrs []error
	err     error
}

func (s *recordingSink) AppendResult(ctx context.Context, r *models.StudyRunResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctxErrs = append(s.ctxErrs, ctx.Err())
	if s.err != nil {
		return s.err
	}
	s.results = append(s.results, r)
	return nil
}

type recordingRuns struct {
	mu      sync.Mutex
	created []models.StudyRun
	updated []models.StudyRun
}

func (r *recordingRuns) CreateRun(_ context.Context, run *models.StudyRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.created = append(r.created, *run)
	return nil
}

func (r *recordingRuns) UpdateRun(_ context.Context, run *models.StudyRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updated = append(r.updated, *run)
	return nil
}

type staticCatalog struct {
	studies []*models.Study
}

func (c *staticCatalog) All(context.Context) ([]*models.Study, error) {
	return c.studies, nil
}

func (c *staticCatalog) Get(_ context.Context, id string) (*models.Study, error) {
	for _, st := range c.studies {
		if st.ID == id {
			return st, nil
		}
	}
	return nil, nil
}

const (
	testTargetURL = "https://www.autoscout24.de/lst/bmw/x5"
	testSourceURL = "https://www.otomoto.pl/osobowe/bmw/x5"
)

func testStudy(id string) *models.Study {
	return &models.Study{
		ID:            id,
		Brand:         "BMW",
		Model:         "X5",
		Year:          2019,
		MaxMileage:    100000,
		TargetCountry: "DE",
		SourceCountry: "PL",
		TargetURL:     testTargetURL,
		SourceURL:     testSourceURL,
		Mode:          models.ScanModeFast,
	}
}

func eur(price float64, year, mileage int) models.ScrapedListing {
	return models.ScrapedListing{
		Title:     "BMW X5",
		Price:     price,
		Currency:  "EUR",
		Year:      intPtr(year),
		Mileage:   intPtr(mileage),
		PriceType: models.PriceTypeOneOff,
	}
}

func okResult(listings ...models.ScrapedListing) SearchResult {
	return SearchResult{Status: ScanOK, Listings: listings}
}

func targetListings() SearchResult {
	return okResult(
		eur(10000, 2019, 50000),
		eur(11000, 2020, 60000),
		eur(12000, 2018, 70000),
		eur(9000, 2019, 150000),
		eur(8000, 2015, 40000),
	)
}

type harness struct {
	orch     *Orchestrator
	searcher *stubSearcher
	sink     *recordingSink
	runs     *recordingRuns
}

func newHarness(results map[string]SearchResult, studies ...*models.Study) *harness {
	h := &harness{
		searcher: &stubSearcher{results: results, panics: map[string]bool{}},
		sink:     &recordingSink{},
		runs:     &recordingRuns{},
	}
	cfg := &config.Config{Scan: config.ScanConfig{Threshold: 1500, Concurrency: 2}}
	h.orch = NewOrchestrator(cfg, Deps{
		Scanner:    h.searcher,
		Normalizer: pricing.NewNormalizer("EUR", map[string]float64{"EUR": 1, "PLN": 0.25}),
		Sink:       h.sink,
		Runs:       h.runs,
		Studies:    &staticCatalog{studies: studies},
	})
	return h
}

func floatp(v float64) *float64 {
	return &v
}

func TestExecuteStudyOpportunity(t *testing.T) {
	h := newHarness(map[string]SearchResult{
		testTargetURL: targetListings(),
		testSourceURL: okResult(eur(9500, 2019, 80000), eur(9000, 2020, 90000)),
	})
	runID := uuid.New()

	out := h.orch.ExecuteStudy(context.Background(), runID, testStudy("bmw-x5"))

	if out.Status != models.ResultStatusOpportunities || out.Opportunities != 1 {
		t.Fatalf("unexpected outcome %+v", out)
	}

	want := &models.StudyRunResult{
		RunID:             runID,
		StudyID:           "bmw-x5",
		Status:            models.ResultStatusOpportunities,
		TargetMarketPrice: floatp(11000),
		BestSourcePrice:   floatp(9000),
		PriceDifference:   floatp(2000),
		TargetStats: &models.TargetStats{
			MarketStats: models.MarketStats{
				Median: 11000, Mean: 11000, Min: 10000, Max: 12000, Count: 3, P25: 10000, P75: 12000,
			},
			TargetURL:    testTargetURL,
			SourceURL:    testSourceURL,
			MarketMedian: floatp(11000),
		},
	}

	if len(h.sink.results) != 1 {
		t.Fatalf("expected exactly one persisted result, got %d", len(h.sink.results))
	}
	got := h.sink.results[0]
	if got.CreatedAt.IsZero() {
		t.Error("created_at not set")
	}
	got.CreatedAt = want.CreatedAt
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("result mismatch (-want +got):\n%s", diff)
	}
}

func TestExecuteStudyBelowThreshold(t *testing.T) {
	h := newHarness(map[string]SearchResult{
		testTargetURL: targetListings(),
		testSourceURL: okResult(eur(10200, 2019, 80000)),
	})

	out := h.orch.ExecuteStudy(context.Background(), uuid.New(), testStudy("bmw-x5"))
	r := out.Result

	if r.Status != models.ResultStatusNull || out.Nulls != 1 {
		t.Fatalf("expected NULL, got %s", r.Status)
	}
	if r.TargetErrorReason != nil {
		t.Errorf("below-threshold NULL has no reason, got %q", *r.TargetErrorReason)
	}
	if r.TargetMarketPrice == nil || *r.TargetMarketPrice != 11000 {
		t.Errorf("target price = %v", r.TargetMarketPrice)
	}
	if r.BestSourcePrice == nil || *r.BestSourcePrice != 10200 {
		t.Errorf("best source = %v", r.BestSourcePrice)
	}
	if r.PriceDifference == nil || *r.PriceDifference != 800 {
		t.Errorf("difference = %v", r.PriceDifference)
	}
	if r.TargetStats == nil || r.TargetStats.Count != 3 {
		t.Fatalf("target stats missing: %+v", r.TargetStats)
	}
	if r.TargetStats.MarketMedian != nil || r.TargetStats.TargetURL != "" {
		t.Error("opportunity-only fields set on NULL result")
	}
}

func TestExecuteStudyThresholdIsInclusive(t *testing.T) {
	h := newHarness(map[string]SearchResult{
		testTargetURL: targetListings(),
		testSourceURL: okResult(eur(9500, 2019, 80000)),
	})

	study := testStudy("bmw-x5")
	out := h.orch.ExecuteStudy(context.Background(), uuid.New(), study)
	if out.Status != models.ResultStatusOpportunities {
		t.Fatalf("difference equal to threshold should be an opportunity, got %s", out.Status)
	}
}

func TestExecuteStudyPerStudyThreshold(t *testing.T) {
	h := newHarness(map[string]SearchResult{
		testTargetURL: targetListings(),
		testSourceURL: okResult(eur(9000, 2019, 80000)),
	})

	study := testStudy("bmw-x5")
	study.Threshold = 2500
	if out := h.orch.ExecuteStudy(context.Background(), uuid.New(), study); out.Status != models.ResultStatusNull {
		t.Fatalf("expected NULL under study threshold, got %s", out.Status)
	}
}

func TestExecuteStudyConvertsSourceCurrency(t *testing.T) {
	pln := eur(34000, 2019, 80000)
	pln.Currency = "PLN"
	h := newHarness(map[string]SearchResult{
		testTargetURL: targetListings(),
		testSourceURL: okResult(pln),
	})

	r := h.orch.ExecuteStudy(context.Background(), uuid.New(), testStudy("bmw-x5")).Result
	if r.BestSourcePrice == nil || *r.BestSourcePrice != 8500 {
		t.Fatalf("best source = %v, want 8500", r.BestSourcePrice)
	}
	if r.Status != models.ResultStatusOpportunities {
		t.Fatalf("status = %s", r.Status)
	}
}

func TestExecuteStudyTargetBlocked(t *testing.T) {
	h := newHarness(map[string]SearchResult{
		testTargetURL: {Status: ScanBlocked, Reason: "blocked by destination site (px-captcha)"},
	})

	out := h.orch.ExecuteStudy(context.Background(), uuid.New(), testStudy("bmw-x5"))
	r := out.Result
	if r.Status != models.ResultStatusTargetBlocked || out.Blocked != 1 {
		t.Fatalf("expected TARGET_BLOCKED, got %s", r.Status)
	}
	if r.Reason() != "blocked by destination site (px-captcha)" {
		t.Errorf("reason = %q", r.Reason())
	}
	if r.TargetMarketPrice != nil || r.TargetStats != nil {
		t.Error("blocked target must carry no prices")
	}
	if urls := h.searcher.scannedURLs(); len(urls) != 1 {
		t.Errorf("source must not be scanned, scanned %v", urls)
	}
}

func TestExecuteStudyNoValidTarget(t *testing.T) {
	h := newHarness(map[string]SearchResult{
		testTargetURL: okResult(eur(9000, 2019, 150000), eur(8000, 2015, 40000)),
	})

	r := h.orch.ExecuteStudy(context.Background(), uuid.New(), testStudy("bmw-x5")).Result
	if r.Status != models.ResultStatusNull || r.Reason() != models.ReasonNoValidTarget {
		t.Fatalf("got %s %q", r.Status, r.Reason())
	}
	if r.TargetMarketPrice != nil || r.TargetStats != nil {
		t.Error("no prices expected without valid target listings")
	}
	if urls := h.searcher.scannedURLs(); len(urls) != 1 {
		t.Errorf("source must not be scanned, scanned %v", urls)
	}
}

func TestExecuteStudyTargetFailed(t *testing.T) {
	h := newHarness(map[string]SearchResult{
		testTargetURL: {Status: ScanFailed, Reason: "request: context deadline exceeded"},
	})

	r := h.orch.ExecuteStudy(context.Background(), uuid.New(), testStudy("bmw-x5")).Result
	if r.Status != models.ResultStatusNull || r.Reason() != models.ReasonScraperFailed {
		t.Fatalf("got %s %q", r.Status, r.Reason())
	}
}

func TestExecuteStudySourceOutcomes(t *testing.T) {
	tests := []struct {
		name       string
		source     SearchResult
		wantStatus models.ResultStatus
		wantReason string
	}{
		{
			name:       "source failed",
			source:     SearchResult{Status: ScanFailed, Reason: "provider error 500"},
			wantStatus: models.ResultStatusNull,
			wantReason: models.ReasonScraperFailedOnSource,
		},
		{
			name:       "source blocked",
			source:     SearchResult{Status: ScanBlocked, Reason: "blocked by destination site (Access Denied)"},
			wantStatus: models.ResultStatusSourceBlocked,
			wantReason: "blocked by destination site (Access Denied)",
		},
		{
			name:       "no valid source",
			source:     okResult(eur(5000, 2010, 80000)),
			wantStatus: models.ResultStatusNull,
			wantReason: models.ReasonNoValidSource,
		},
		{
			name:       "empty source page",
			source:     okResult(),
			wantStatus: models.ResultStatusNull,
			wantReason: models.ReasonNoValidSource,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(map[string]SearchResult{
				testTargetURL: targetListings(),
				testSourceURL: tt.source,
			})

			r := h.orch.ExecuteStudy(context.Background(), uuid.New(), testStudy("bmw-x5")).Result
			if r.Status != tt.wantStatus || r.Reason() != tt.wantReason {
				t.Fatalf("got %s %q, want %s %q", r.Status, r.Reason(), tt.wantStatus, tt.wantReason)
			}
			if r.TargetMarketPrice == nil || *r.TargetMarketPrice != 11000 {
				t.Errorf("target price should be kept, got %v", r.TargetMarketPrice)
			}
			if r.TargetStats == nil || r.TargetStats.Count != 3 {
				t.Errorf("target stats should be kept, got %+v", r.TargetStats)
			}
			if r.BestSourcePrice != nil || r.PriceDifference != nil {
				t.Error("no source price expected")
			}
		})
	}
}

func TestExecuteStudyRecoversPanic(t *testing.T) {
	h := newHarness(map[string]SearchResult{})
	h.searcher.panics[testTargetURL] = true

	out := h.orch.ExecuteStudy(context.Background(), uuid.New(), testStudy("bmw-x5"))
	if out.Status != models.ResultStatusNull || out.Result.Reason() != "extractor exploded" {
		t.Fatalf("got %s %q", out.Status, out.Result.Reason())
	}
	if len(h.sink.results) != 1 {
		t.Fatalf("panicking study must still persist one result, got %d", len(h.sink.results))
	}
}

func TestExecuteStudyPersistsAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := newHarness(map[string]SearchResult{
		testTargetURL: targetListings(),
		testSourceURL: okResult(eur(9000, 2019, 80000)),
	})
	h.searcher.onScan = func(string) { cancel() }

	h.orch.ExecuteStudy(ctx, uuid.New(), testStudy("bmw-x5"))

	if len(h.sink.ctxErrs) != 1 || h.sink.ctxErrs[0] != nil {
		t.Fatalf("sink should get a live context, got %v", h.sink.ctxErrs)
	}
}

func TestExecuteStudySinkErrorKeepsOutcome(t *testing.T) {
	h := newHarness(map[string]SearchResult{
		testTargetURL: targetListings(),
		testSourceURL: okResult(eur(9000, 2019, 80000)),
	})
	h.sink.err = errors.New("database is locked")

	out := h.orch.ExecuteStudy(context.Background(), uuid.New(), testStudy("bmw-x5"))
	if out.Status != models.ResultStatusOpportunities {
		t.Fatalf("status = %s", out.Status)
	}
}

func TestExecuteStudyAppliesTrim(t *testing.T) {
	registry, err := NewRegistry(testMarketConfigs())
	if err != nil {
		t.Fatalf("registry: %v", err)
	}

	trimmedTarget := "https://www.autoscout24.de/lst/bmw/x5?search_id=M+Sport"
	trimmedSource := "https://www.otomoto.pl/osobowe/bmw/x5?q=xDrive30d"

	h := newHarness(map[string]SearchResult{
		trimmedTarget: targetListings(),
		trimmedSource: okResult(eur(9000, 2019, 80000)),
	})
	h.orch.registry = registry

	study := testStudy("bmw-x5")
	study.Trim = "M Sport"
	study.SourceTrim = "xDrive30d"

	r := h.orch.ExecuteStudy(context.Background(), uuid.New(), study).Result
	if r.Status != models.ResultStatusOpportunities {
		t.Fatalf("status = %s (%s), scanned %v", r.Status, r.Reason(), h.searcher.scannedURLs())
	}
	if r.TargetStats.TargetURL != trimmedTarget || r.TargetStats.SourceURL != trimmedSource {
		t.Errorf("urls = %s, %s", r.TargetStats.TargetURL, r.TargetStats.SourceURL)
	}
}

func TestRunStudiesAggregates(t *testing.T) {
	blockedStudy := testStudy("blocked")
	blockedStudy.TargetURL = "https://www.autoscout24.de/lst/blocked"
	nullStudy := testStudy("null")
	nullStudy.SourceURL = "https://www.otomoto.pl/osobowe/expensive"

	h := newHarness(map[string]SearchResult{
		testTargetURL:                              targetListings(),
		testSourceURL:                              okResult(eur(9000, 2019, 80000)),
		"https://www.autoscout24.de/lst/blocked":   {Status: ScanBlocked, Reason: "blocked"},
		"https://www.otomoto.pl/osobowe/expensive": okResult(eur(10800, 2019, 80000)),
	})

	studies := []*models.Study{testStudy("opportunity"), blockedStudy, nullStudy}
	run, err := h.orch.RunStudies(context.Background(), studies)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if run.Status != models.RunStatusCompleted {
		t.Errorf("status = %s", run.Status)
	}
	if run.StudiesTotal != 3 || run.Opportunities != 1 || run.Blocked != 1 || run.Nulls != 1 {
		t.Errorf("counters = %+v", run)
	}
	if run.FinishedAt == nil {
		t.Error("finished_at not set")
	}
	if len(h.sink.results) != 3 {
		t.Errorf("expected 3 results, got %d", len(h.sink.results))
	}
	for _, r := range h.sink.results {
		if r.RunID != run.ID {
			t.Errorf("result %s has run id %s, want %s", r.StudyID, r.RunID, run.ID)
		}
	}
	if len(h.runs.created) != 1 || len(h.runs.updated) != 1 {
		t.Errorf("run store calls: %d created, %d updated", len(h.runs.created), len(h.runs.updated))
	}
}

func TestRunStudiesCancelledBeforeStart(t *testing.T) {
	h := newHarness(map[string]SearchResult{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	run, err := h.orch.RunStudies(ctx, []*models.Study{testStudy("a"), testStudy("b")})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if run.Status != models.RunStatusCancelled {
		t.Errorf("status = %s", run.Status)
	}
	if len(h.sink.results) != 0 {
		t.Errorf("no study should start after cancel, got %d results", len(h.sink.results))
	}
	if len(h.runs.updated) != 1 || h.runs.updated[0].Status != models.RunStatusCancelled {
		t.Errorf("cancelled run must still be recorded: %+v", h.runs.updated)
	}
}

func TestRunStudyUnknown(t *testing.T) {
	h := newHarness(map[string]SearchResult{}, testStudy("known"))
	err := h.orch.RunStudy(context.Background(), "missing")
	if err == nil || !strings.Contains(err.Error(), "unknown study") {
		t.Fatalf("expected unknown study error, got %v", err)
	}
}

func TestHandleCommandPauseResume(t *testing.T) {
	h := newHarness(map[string]SearchResult{
		testTargetURL: targetListings(),
		testSourceURL: okResult(eur(9000, 2019, 80000)),
	}, testStudy("bmw-x5"))

	if err := h.orch.HandleCommand(&models.Command{ID: 1, Command: models.CmdPause}); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if !h.orch.IsPaused() {
		t.Fatal("expected paused")
	}
	if err := h.orch.RunAll(context.Background()); err != nil {
		t.Fatalf("run all while paused: %v", err)
	}
	if len(h.sink.results) != 0 {
		t.Fatal("paused orchestrator must not run studies")
	}

	if err := h.orch.HandleCommand(&models.Command{ID: 2, Command: models.CmdResume}); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if err := h.orch.HandleCommand(&models.Command{
		ID:      3,
		Command: models.CmdRunStudy,
		Params:  []byte(`{"study":"bmw-x5"}`),
	}); err != nil {
		t.Fatalf("run study: %v", err)
	}
	if len(h.sink.results) != 1 || h.sink.results[0].StudyID != "bmw-x5" {
		t.Fatalf("expected one result for bmw-x5, got %d", len(h.sink.results))
	}

	if err := h.orch.HandleCommand(&models.Command{ID: 4, Command: "reboot"}); err == nil {
		t.Fatal("expected error for unknown command")
	}
}
