// Package worker runs sync batches across repositories with bounded
// concurrency, and schedules periodic background runs.
package worker

import (
	"context"
	"time"

	apperrors "gitmetrics-service/internal/errors"
	"gitmetrics-service/internal/models"
	syncengine "gitmetrics-service/internal/sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Syncer runs one sync for one repository.
type Syncer interface {
	SyncRepository(ctx context.Context, repoID int64, opts syncengine.Options) (*syncengine.Result, error)
}

// RepositoryLister enumerates repositories eligible for a batch run.
type RepositoryLister interface {
	ListSyncableRepositories(ctx context.Context) ([]*models.Repository, error)
	ListRepositories(ctx context.Context, accountID int64, activeOnly bool) ([]*models.Repository, error)
}

// RepositoryResult is the outcome for one repository in a batch.
type RepositoryResult struct {
	RepositoryID int64              `json:"repository_id"`
	Result       *syncengine.Result `json:"result,omitempty"`
	Error        string             `json:"error,omitempty"`
}

// BatchResult summarizes one batch run.
type BatchResult struct {
	BatchID      string             `json:"batch_id"`
	Repositories []RepositoryResult `json:"repositories"`
	Succeeded    int                `json:"succeeded"`
	Failed       int                `json:"failed"`
	Skipped      int                `json:"skipped"`
	Duration     time.Duration      `json:"-"`
}

// Pool fans sync runs out over repositories. One repository never has
// more than one run in flight; the engine enforces that, the pool only
// bounds overall parallelism.
type Pool struct {
	syncer      Syncer
	repos       RepositoryLister
	concurrency int
	log         zerolog.Logger
}

// NewPool creates a worker pool running at most concurrency syncs at
// once.
func NewPool(syncer Syncer, repos RepositoryLister, concurrency int, log zerolog.Logger) *Pool {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Pool{
		syncer:      syncer,
		repos:       repos,
		concurrency: concurrency,
		log:         log.With().Str("component", "sync-pool").Logger(),
	}
}

// SyncAll syncs every active, tracked repository. accountID narrows
// the batch to one account when non-zero.
func (p *Pool) SyncAll(ctx context.Context, accountID int64, opts syncengine.Options) (*BatchResult, error) {
	var (
		repos []*models.Repository
		err   error
	)
	if accountID != 0 {
		repos, err = p.repos.ListRepositories(ctx, accountID, true)
	} else {
		repos, err = p.repos.ListSyncableRepositories(ctx)
	}
	if err != nil {
		return nil, err
	}

	batch := &BatchResult{
		BatchID:      uuid.NewString(),
		Repositories: make([]RepositoryResult, len(repos)),
	}
	log := p.log.With().Str("batch_id", batch.BatchID).Logger()
	log.Info().Int("repositories", len(repos)).Msg("Starting sync batch")

	started := time.Now()

	skipped := make([]bool, len(repos))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for i, repo := range repos {
		i, repo := i, repo
		g.Go(func() error {
			result, err := p.syncer.SyncRepository(gctx, repo.ID, opts)
			entry := RepositoryResult{RepositoryID: repo.ID, Result: result}
			if err != nil {
				entry.Error = err.Error()
				skipped[i] = apperrors.Is(err, apperrors.ErrSyncInProgress)
			}
			batch.Repositories[i] = entry
			// Individual failures never abort the batch.
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i, entry := range batch.Repositories {
		switch {
		case skipped[i]:
			batch.Skipped++
		case entry.Error != "" || (entry.Result != nil && entry.Result.Status == models.SyncStatusFailed):
			batch.Failed++
		default:
			batch.Succeeded++
		}
	}
	batch.Duration = time.Since(started)

	log.Info().
		Int("succeeded", batch.Succeeded).
		Int("failed", batch.Failed).
		Int("skipped", batch.Skipped).
		Dur("duration", batch.Duration).
		Msg("Sync batch finished")

	return batch, nil
}
