package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gitmetrics-service/internal/analytics"
	"gitmetrics-service/internal/app"
	"gitmetrics-service/internal/cache"
	"gitmetrics-service/internal/config"
	"gitmetrics-service/internal/database"
	"gitmetrics-service/internal/platform"
	syncengine "gitmetrics-service/internal/sync"
	"gitmetrics-service/internal/worker"

	"github.com/rs/zerolog"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Error loading config: %v", err)
	}

	if level, err := zerolog.ParseLevel(cfg.Log.Level); err == nil {
		logger = logger.Level(level)
	}

	db, err := database.New(cfg.GetDSN())
	if err != nil {
		log.Fatalf("Error connecting to database: %v", err)
	}
	defer db.Close()

	if err := db.Migrate(cfg.Database.MigrationsPath); err != nil {
		log.Fatalf("Error applying migrations: %v", err)
	}

	// Register the configured platform adapter.
	adapters := platform.NewRegistry()
	switch cfg.Platform.Name {
	case "gitlab":
		client := platform.NewGitLabClient(cfg.Platform.BaseURL, cfg.Platform.Token, cfg.Platform.RequestTimeout)
		if err := adapters.Register(client); err != nil {
			log.Fatalf("Error registering platform adapter: %v", err)
		}
	default:
		log.Fatalf("Unsupported platform: %s", cfg.Platform.Name)
	}

	resultCache := cache.NewPostgresCache(db.Conn(), logger)

	engine := syncengine.NewEngine(db, adapters, resultCache, syncengine.Config{
		PageSize:      cfg.Sync.PageSize,
		MaxRetries:    cfg.Sync.MaxRetries,
		RetryBackoff:  cfg.Sync.RetryBackoff,
		InitialWindow: time.Duration(cfg.Sync.InitialWindowDays) * 24 * time.Hour,
		Overlap:       cfg.Sync.Overlap,
		RunTimeout:    cfg.Sync.RunTimeout,
	}, logger)

	pool := worker.NewPool(engine, db, cfg.Sync.Concurrency, logger)
	scheduler := worker.NewScheduler(pool, db, resultCache, cfg.Sync.Interval, cfg.Sync.StaleGrace, logger)

	analyticsSvc := analytics.NewService(db, resultCache, cfg.Cache.TTL, logger)

	application := app.New(cfg, logger, db, adapters, engine, pool, analyticsSvc, resultCache, scheduler)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("Application error")
		os.Exit(1)
	}
}
