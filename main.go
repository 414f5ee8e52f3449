package main

import (
	"context"
	"flag"
	"log"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"carbitrage/config"
	"carbitrage/httputil"
	"carbitrage/logging"
	"carbitrage/models"
	"carbitrage/pricing"
	"carbitrage/scheduler"
	"carbitrage/scraper"
	"carbitrage/services"
	"carbitrage/storage"
)

var (
	runNow  = flag.Bool("run", false, "Run all studies once and exit")
	studyID = flag.String("study", "", "Run a single study once and exit")
)

func main() {
	flag.Parse()
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logFile, err := logging.Setup(cfg.LogFile)
	if err != nil {
		log.Printf("Warning: could not set up file logging: %v", err)
	} else {
		defer logFile.Close()
	}
	logging.SetLevel(cfg.LogLevel)

	log.Println("Starting carbitrage...")
	log.Printf("Loaded %d market configs", len(cfg.Markets))
	for _, id := range cfg.MarketIDs() {
		m := cfg.Markets[id]
		log.Printf("  - %s (%s) %v", m.Name, id, m.Countries)
	}

	if cfg.ScrapingBee.APIKey == "" {
		log.Println("Warning: SCRAPINGBEE_API_KEY is not set, every scan will fail")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry, err := scraper.NewRegistry(cfg.Markets)
	if err != nil {
		log.Fatalf("Failed to build market registry: %v", err)
	}
	for _, m := range registry.Markets() {
		log.Printf("Market %s: hosts=%v countries=%v currency=%s", m.ID, m.Hosts, m.Countries, m.Currency)
	}

	clients := httputil.NewClients(&cfg.ScrapingBee)
	gateway := scraper.NewGateway(&cfg.ScrapingBee, clients.Provider)
	scanner := scraper.NewScanner(gateway, registry)

	if cfg.Archive.Enabled() {
		archive, err := storage.NewPageArchive(ctx, storage.S3Config{
			Bucket:          cfg.Archive.Bucket,
			Region:          cfg.Archive.Region,
			Endpoint:        cfg.Archive.Endpoint,
			AccessKeyID:     cfg.Archive.AccessKeyID,
			SecretAccessKey: cfg.Archive.SecretAccessKey,
		})
		if err != nil {
			log.Printf("Warning: page archive disabled: %v", err)
		} else {
			scanner.SetArchive(archive)
			log.Printf("Archiving empty pages to s3://%s", cfg.Archive.Bucket)
		}
	}

	sqliteStore, err := storage.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to open SQLite: %v", err)
	}
	defer sqliteStore.Close()
	log.Printf("SQLite database: %s", cfg.DBPath)

	sinks := storage.MultiSink{sqliteStore}
	runs := storage.MultiRunStore{sqliteStore}
	var studySource services.StudySource

	if cfg.DatabaseURL != "" {
		pgStore, err := storage.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to connect to Postgres: %v", err)
		}
		defer pgStore.Close()
		log.Printf("Connected to Postgres: %s", maskConnectionString(cfg.DatabaseURL))

		sinks = append(sinks, pgStore)
		runs = append(runs, pgStore)
		studySource = pgStore
	}

	studies := services.NewStudyService(cfg.Studies, studySource, cfg.Scan.Threshold)

	orchestrator := scraper.NewOrchestrator(cfg, scraper.Deps{
		Scanner:    scanner,
		Registry:   registry,
		Normalizer: pricing.NewNormalizer(cfg.Currency.Reference, cfg.Currency.Rates),
		Sink:       sinks,
		Runs:       runs,
		Events:     sqliteStore,
		Stats:      sqliteStore,
		Studies:    studies,
	})

	// One-shot modes stop at the first signal; results already in flight
	// are still written.
	if *runNow || *studyID != "" {
		go cancelOnSignal(cancel)

		var err error
		if *studyID != "" {
			log.Printf("Running study %s...", *studyID)
			err = orchestrator.RunStudy(ctx, *studyID)
		} else {
			log.Println("Running all studies...")
			err = orchestrator.RunAll(ctx)
		}
		if err != nil {
			log.Fatalf("Run failed: %v", err)
		}
		log.Println("Run complete!")
		return
	}

	sched := scheduler.New(&cfg.Scheduler, orchestrator, sqliteStore)
	if err := sched.Start(ctx); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}

	if err := sqliteStore.Log(nil, models.LogLevelInfo, "Daemon started", ""); err != nil {
		log.Printf("Warning: failed to write scan log: %v", err)
	}
	log.Println("Daemon running. Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("Shutting down...")
	cancel()
	sched.Stop()
	log.Println("Goodbye!")
}

func cancelOnSignal(cancel context.CancelFunc) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("Received %s, cancelling run", sig)
	cancel()
}

// maskConnectionString hides the password in a database URL for logging.
func maskConnectionString(connStr string) string {
	u, err := url.Parse(connStr)
	if err != nil || u.User == nil {
		return connStr
	}
	if _, ok := u.User.Password(); !ok {
		return connStr
	}
	return u.Redacted()
}
