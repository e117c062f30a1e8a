package worker

import (
	"context"
	"sync"
	"time"

	syncengine "gitmetrics-service/internal/sync"

	"github.com/rs/zerolog"
)

// Maintainer covers the periodic housekeeping the scheduler performs
// alongside batch syncs.
type Maintainer interface {
	ResetStaleSyncing(ctx context.Context, grace time.Duration) (int64, error)
}

// CachePurger removes expired cache entries.
type CachePurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// Scheduler triggers sync batches and housekeeping on a fixed
// interval.
type Scheduler struct {
	pool       *Pool
	maintainer Maintainer
	purger     CachePurger
	interval   time.Duration
	staleGrace time.Duration
	log        zerolog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler creates a scheduler. purger may be nil when no cache is
// wired.
func NewScheduler(pool *Pool, maintainer Maintainer, purger CachePurger, interval, staleGrace time.Duration, log zerolog.Logger) *Scheduler {
	if interval <= 0 {
		interval = time.Hour
	}
	if staleGrace <= 0 {
		staleGrace = 30 * time.Minute
	}
	return &Scheduler{
		pool:       pool,
		maintainer: maintainer,
		purger:     purger,
		interval:   interval,
		staleGrace: staleGrace,
		log:        log.With().Str("component", "scheduler").Logger(),
	}
}

// Start launches the background loop. Calling Start on a running
// scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.run(ctx)
	s.log.Info().Dur("interval", s.interval).Msg("Scheduler started")
}

// Stop halts the loop and waits for an in-flight tick to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.log.Info().Msg("Scheduler stopped")
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if reset, err := s.maintainer.ResetStaleSyncing(ctx, s.staleGrace); err != nil {
		s.log.Error().Err(err).Msg("Failed to reset stale sync runs")
	} else if reset > 0 {
		s.log.Warn().Int64("repositories", reset).Msg("Reset repositories stuck in syncing")
	}

	if s.purger != nil {
		if purged, err := s.purger.PurgeExpired(ctx); err != nil {
			s.log.Error().Err(err).Msg("Failed to purge expired cache entries")
		} else if purged > 0 {
			s.log.Debug().Int64("entries", purged).Msg("Purged expired cache entries")
		}
	}

	if _, err := s.pool.SyncAll(ctx, 0, syncengine.Options{}); err != nil && ctx.Err() == nil {
		s.log.Error().Err(err).Msg("Scheduled sync batch failed")
	}
}
