package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"gitmetrics-service/internal/analytics"
	"gitmetrics-service/internal/cache"
	"gitmetrics-service/internal/config"
	"gitmetrics-service/internal/database"
	"gitmetrics-service/internal/platform"
	syncengine "gitmetrics-service/internal/sync"
	"gitmetrics-service/internal/worker"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// App wires the HTTP surface to the sync and analytics layers.
type App struct {
	cfg       *config.Config
	log       zerolog.Logger
	db        *database.DB
	adapters  *platform.Registry
	engine    *syncengine.Engine
	pool      *worker.Pool
	analytics *analytics.Service
	cache     cache.Cache
	scheduler *worker.Scheduler
	server    *http.Server
}

func New(cfg *config.Config, log zerolog.Logger, db *database.DB, adapters *platform.Registry,
	engine *syncengine.Engine, pool *worker.Pool, analyticsSvc *analytics.Service,
	resultCache cache.Cache, scheduler *worker.Scheduler) *App {

	app := &App{
		cfg:       cfg,
		log:       log,
		db:        db,
		adapters:  adapters,
		engine:    engine,
		pool:      pool,
		analytics: analyticsSvc,
		cache:     resultCache,
		scheduler: scheduler,
	}

	router := mux.NewRouter()
	app.initializeRouter(router)

	app.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return app
}

// Run serves HTTP until ctx is canceled, then shuts down gracefully.
func (a *App) Run(ctx context.Context) error {
	if a.scheduler != nil && a.cfg.Sync.Scheduled {
		a.scheduler.Start(ctx)
	}

	go func() {
		<-ctx.Done()
		if a.scheduler != nil {
			a.scheduler.Stop()
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.log.Error().Err(err).Msg("Failed to shutdown server gracefully")
		}
	}()

	a.log.Info().Msgf("Starting server on port %d", a.cfg.Server.Port)
	if err := a.server.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

func (a *App) Close() error {
	return a.db.Close()
}
