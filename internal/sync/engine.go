// Package sync pulls commit and merge request activity from a hosting
// platform into local storage, incrementally and idempotently.
package sync

import (
	"context"
	"fmt"
	"time"

	apperrors "gitmetrics-service/internal/errors"
	"gitmetrics-service/internal/models"
	"gitmetrics-service/internal/platform"

	"github.com/rs/zerolog"
)

// Kind names one class of records the engine can pull.
const (
	KindCommits       = "commits"
	KindMergeRequests = "merge_requests"
)

// Store is the storage surface the engine writes through.
type Store interface {
	GetRepository(ctx context.Context, id int64) (*models.Repository, error)
	BeginSync(ctx context.Context, repoID int64) error
	FinishSync(ctx context.Context, repoID int64, status models.SyncStatus, syncedAt *time.Time) error

	GetCommitByHash(ctx context.Context, repoID int64, hash string) (*models.Commit, error)
	CreateCommit(ctx context.Context, commit *models.Commit) error
	UpdateCommitStats(ctx context.Context, id int64, message string, additions, deletions, filesChanged int) error

	GetMergeRequestByIID(ctx context.Context, repoID int64, remoteIID string) (*models.MergeRequest, error)
	CreateMergeRequest(ctx context.Context, mr *models.MergeRequest) error
	UpdateMergeRequest(ctx context.Context, id int64, mr *models.MergeRequest) error
}

// Invalidator drops cached analytics for the data a run changed.
type Invalidator interface {
	InvalidateRepository(ctx context.Context, repoID int64) error
	InvalidateAccount(ctx context.Context, accountID int64) error
}

// Options selects what a single run pulls. Zero value means both kinds,
// incremental window.
type Options struct {
	Force             bool
	SkipCommits       bool
	SkipMergeRequests bool
}

// Result summarizes one sync run.
type Result struct {
	RepositoryID         int64             `json:"repository_id"`
	Status               models.SyncStatus `json:"status"`
	WindowStart          time.Time         `json:"window_start"`
	WindowEnd            time.Time         `json:"window_end"`
	CommitsAdded         int               `json:"commits_added"`
	CommitsUpdated       int               `json:"commits_updated"`
	MergeRequestsAdded   int               `json:"merge_requests_added"`
	MergeRequestsUpdated int               `json:"merge_requests_updated"`
	Errors               []string          `json:"errors,omitempty"`
	Duration             time.Duration     `json:"-"`
}

func (r *Result) changed() int {
	return r.CommitsAdded + r.CommitsUpdated + r.MergeRequestsAdded + r.MergeRequestsUpdated
}

// Config tunes the engine. Zero fields fall back to defaults.
type Config struct {
	PageSize      int           // records per page, default 100
	MaxRetries    int           // retries per page on retryable errors, default 3
	RetryBackoff  time.Duration // linear backoff unit, default 2s
	InitialWindow time.Duration // window for first or forced runs, default 30 days
	Overlap       time.Duration // re-covered slice before the watermark, default 1h
	RunTimeout    time.Duration // deadline for a whole run, default 10m
}

func (c Config) withDefaults() Config {
	if c.PageSize <= 0 {
		c.PageSize = 100
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 2 * time.Second
	}
	if c.InitialWindow <= 0 {
		c.InitialWindow = 30 * 24 * time.Hour
	}
	if c.Overlap <= 0 {
		c.Overlap = time.Hour
	}
	if c.RunTimeout <= 0 {
		c.RunTimeout = 10 * time.Minute
	}
	return c
}

// Engine runs sync operations against a set of registered platform
// adapters.
type Engine struct {
	store    Store
	adapters *platform.Registry
	cache    Invalidator
	cfg      Config
	log      zerolog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewEngine creates a sync engine. cache may be nil when no result
// cache is wired.
func NewEngine(store Store, adapters *platform.Registry, cache Invalidator, cfg Config, log zerolog.Logger) *Engine {
	return &Engine{
		store:    store,
		adapters: adapters,
		cache:    cache,
		cfg:      cfg.withDefaults(),
		log:      log.With().Str("component", "sync-engine").Logger(),
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// SyncRepository runs one full sync for a repository. Concurrent runs
// for the same repository are rejected with ErrSyncInProgress; the
// caller can simply retry later.
func (e *Engine) SyncRepository(ctx context.Context, repoID int64, opts Options) (*Result, error) {
	repo, err := e.store.GetRepository(ctx, repoID)
	if err != nil {
		return nil, err
	}
	if repo == nil {
		return nil, fmt.Errorf("repository %d: %w", repoID, apperrors.ErrNotFound)
	}
	if !repo.IsActive {
		return nil, fmt.Errorf("repository %d: %w", repoID, apperrors.ErrRepositoryInactive)
	}

	adapter, ok := e.adapters.Get(repo.Platform)
	if !ok {
		return nil, fmt.Errorf("%w: no adapter for platform %q", apperrors.ErrValidation, repo.Platform)
	}

	windowEnd := e.now().UTC()
	windowStart := e.windowStart(repo, opts.Force, windowEnd)

	if err := e.store.BeginSync(ctx, repoID); err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithTimeout(ctx, e.cfg.RunTimeout)
	defer cancel()

	started := e.now()
	result := &Result{
		RepositoryID: repoID,
		WindowStart:  windowStart,
		WindowEnd:    windowEnd,
	}

	log := e.log.With().Int64("repository_id", repoID).Str("platform", repo.Platform).Logger()
	log.Info().
		Time("window_start", windowStart).
		Time("window_end", windowEnd).
		Bool("force", opts.Force).
		Msg("Starting sync run")

	failed := false

	if !opts.SkipCommits {
		if err := e.syncCommits(runCtx, adapter, repo, windowStart, windowEnd, result); err != nil {
			failed = true
			result.Errors = append(result.Errors, fmt.Sprintf("commits: %v", err))
			log.Error().Err(err).Msg("Commit sync aborted")
		}
	}
	if !opts.SkipMergeRequests {
		if err := e.syncMergeRequests(runCtx, adapter, repo, windowStart, windowEnd, result); err != nil {
			failed = true
			result.Errors = append(result.Errors, fmt.Sprintf("merge_requests: %v", err))
			log.Error().Err(err).Msg("Merge request sync aborted")
		}
	}

	result.Duration = e.now().Sub(started)

	if failed {
		result.Status = models.SyncStatusFailed
		// The run may have failed because ctx was canceled; the status
		// write still has to land or the repository stays stuck in
		// syncing until the stale sweep.
		finishCtx := ctx
		if ctx.Err() != nil {
			var cancelFinish context.CancelFunc
			finishCtx, cancelFinish = context.WithTimeout(context.Background(), 5*time.Second)
			defer cancelFinish()
		}
		if err := e.store.FinishSync(finishCtx, repoID, models.SyncStatusFailed, nil); err != nil {
			log.Error().Err(err).Msg("Failed to record failed sync status")
		}
		return result, nil
	}

	result.Status = models.SyncStatusCompleted
	if err := e.store.FinishSync(ctx, repoID, models.SyncStatusCompleted, &windowEnd); err != nil {
		return result, err
	}

	if e.cache != nil && result.changed() > 0 {
		if err := e.cache.InvalidateRepository(ctx, repoID); err != nil {
			log.Warn().Err(err).Msg("Failed to invalidate repository cache entries")
		}
		if err := e.cache.InvalidateAccount(ctx, repo.AccountID); err != nil {
			log.Warn().Err(err).Msg("Failed to invalidate account cache entries")
		}
	}

	log.Info().
		Int("commits_added", result.CommitsAdded).
		Int("commits_updated", result.CommitsUpdated).
		Int("merge_requests_added", result.MergeRequestsAdded).
		Int("merge_requests_updated", result.MergeRequestsUpdated).
		Int("record_errors", len(result.Errors)).
		Dur("duration", result.Duration).
		Msg("Sync run completed")

	return result, nil
}

// windowStart picks the lower bound of the fetch window. First and
// forced runs cover the initial window; incremental runs resume from
// the watermark minus a fixed overlap to absorb clock skew and late
// arrivals.
func (e *Engine) windowStart(repo *models.Repository, force bool, windowEnd time.Time) time.Time {
	if force || repo.LastSyncAt == nil {
		return windowEnd.Add(-e.cfg.InitialWindow)
	}
	return repo.LastSyncAt.Add(-e.cfg.Overlap).UTC()
}

func (e *Engine) syncCommits(ctx context.Context, adapter platform.Adapter, repo *models.Repository, start, end time.Time, result *Result) error {
	page := 1
	for {
		opts := platform.FetchOptions{Since: start, Until: end, Page: page, PerPage: e.cfg.PageSize}

		var commits []platform.Commit
		err := e.fetchWithRetry(ctx, adapter, func(ctx context.Context) error {
			var ferr error
			commits, ferr = adapter.FetchCommits(ctx, repo.RemoteID, opts)
			return ferr
		})
		if err != nil {
			return apperrors.NewSyncError(repo.ID, KindCommits, page, err)
		}

		for i := range commits {
			if err := e.reconcileCommit(ctx, repo.ID, &commits[i], result); err != nil {
				result.Errors = append(result.Errors,
					apperrors.NewReconcileError(KindCommits, commits[i].Hash, err).Error())
			}
		}

		if len(commits) < e.cfg.PageSize {
			return nil
		}
		page++
	}
}

func (e *Engine) syncMergeRequests(ctx context.Context, adapter platform.Adapter, repo *models.Repository, start, end time.Time, result *Result) error {
	page := 1
	for {
		opts := platform.FetchOptions{Since: start, Until: end, Page: page, PerPage: e.cfg.PageSize}

		var mrs []platform.MergeRequest
		err := e.fetchWithRetry(ctx, adapter, func(ctx context.Context) error {
			var ferr error
			mrs, ferr = adapter.FetchMergeRequests(ctx, repo.RemoteID, "all", opts)
			return ferr
		})
		if err != nil {
			return apperrors.NewSyncError(repo.ID, KindMergeRequests, page, err)
		}

		for i := range mrs {
			if err := e.reconcileMergeRequest(ctx, repo.ID, &mrs[i], result); err != nil {
				result.Errors = append(result.Errors,
					apperrors.NewReconcileError(KindMergeRequests, mrs[i].IID, err).Error())
			}
		}

		if len(mrs) < e.cfg.PageSize {
			return nil
		}
		page++
	}
}

// fetchWithRetry runs one page fetch, retrying retryable failures with
// linear backoff. Adapters that expose a rate limit reset hint extend
// the wait accordingly.
func (e *Engine) fetchWithRetry(ctx context.Context, adapter platform.Adapter, fetch func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= e.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			wait := time.Duration(attempt) * e.cfg.RetryBackoff
			if hinted, ok := adapter.(interface{ RetryAfter() time.Duration }); ok {
				if ra := hinted.RetryAfter(); ra > wait {
					wait = ra
				}
			}
			if err := e.sleep(ctx, wait); err != nil {
				return err
			}
		}

		lastErr = fetch(ctx)
		if lastErr == nil {
			return nil
		}
		if !apperrors.IsRetryable(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

// reconcileCommit applies one fetched commit to storage. The hash is
// the identity; existing rows only have their mutable stats refreshed.
func (e *Engine) reconcileCommit(ctx context.Context, repoID int64, c *platform.Commit, result *Result) error {
	if c.Hash == "" {
		return fmt.Errorf("%w: missing commit hash", apperrors.ErrValidation)
	}

	existing, err := e.store.GetCommitByHash(ctx, repoID, c.Hash)
	if err != nil {
		return err
	}

	if existing == nil {
		commit := &models.Commit{
			RepositoryID: repoID,
			Hash:         c.Hash,
			AuthorName:   c.AuthorName,
			AuthorEmail:  c.AuthorEmail,
			Message:      c.Message,
			Additions:    c.Additions,
			Deletions:    c.Deletions,
			FilesChanged: c.FilesChanged,
			CommitDate:   c.AuthoredAt,
		}
		if err := e.store.CreateCommit(ctx, commit); err != nil {
			if apperrors.Is(err, apperrors.ErrDuplicate) {
				// Lost a race with an overlapping window; the row exists, done.
				return nil
			}
			return err
		}
		result.CommitsAdded++
		return nil
	}

	if existing.Message == c.Message &&
		existing.Additions == c.Additions &&
		existing.Deletions == c.Deletions &&
		existing.FilesChanged == c.FilesChanged {
		return nil
	}

	if err := e.store.UpdateCommitStats(ctx, existing.ID, c.Message, c.Additions, c.Deletions, c.FilesChanged); err != nil {
		return err
	}
	result.CommitsUpdated++
	return nil
}

// reconcileMergeRequest applies one fetched merge request to storage.
// The remote iid is the identity; the remote creation time is kept
// from the first observation.
func (e *Engine) reconcileMergeRequest(ctx context.Context, repoID int64, m *platform.MergeRequest, result *Result) error {
	if m.IID == "" {
		return fmt.Errorf("%w: missing merge request iid", apperrors.ErrValidation)
	}

	existing, err := e.store.GetMergeRequestByIID(ctx, repoID, m.IID)
	if err != nil {
		return err
	}

	if existing == nil {
		mr := &models.MergeRequest{
			RepositoryID:    repoID,
			RemoteIID:       m.IID,
			Title:           m.Title,
			Description:     m.Description,
			AuthorName:      m.AuthorName,
			AuthorEmail:     m.AuthorEmail,
			SourceBranch:    m.SourceBranch,
			TargetBranch:    m.TargetBranch,
			State:           models.MergeRequestState(m.State),
			Additions:       m.Additions,
			Deletions:       m.Deletions,
			FilesChanged:    m.FilesChanged,
			CommitsCount:    m.CommitsCount,
			RemoteCreatedAt: m.CreatedAt,
			RemoteUpdatedAt: m.UpdatedAt,
			MergedAt:        m.MergedAt,
		}
		if err := e.store.CreateMergeRequest(ctx, mr); err != nil {
			if apperrors.Is(err, apperrors.ErrDuplicate) {
				return nil
			}
			return err
		}
		result.MergeRequestsAdded++
		return nil
	}

	updated := &models.MergeRequest{
		Title:           m.Title,
		Description:     m.Description,
		State:           models.MergeRequestState(m.State),
		Additions:       m.Additions,
		Deletions:       m.Deletions,
		FilesChanged:    m.FilesChanged,
		CommitsCount:    m.CommitsCount,
		RemoteUpdatedAt: m.UpdatedAt,
		MergedAt:        m.MergedAt,
	}

	if !mergeRequestChanged(existing, updated) {
		return nil
	}

	if err := e.store.UpdateMergeRequest(ctx, existing.ID, updated); err != nil {
		return err
	}
	result.MergeRequestsUpdated++
	return nil
}

func mergeRequestChanged(existing, updated *models.MergeRequest) bool {
	if existing.Title != updated.Title ||
		existing.Description != updated.Description ||
		existing.State != updated.State ||
		existing.Additions != updated.Additions ||
		existing.Deletions != updated.Deletions ||
		existing.FilesChanged != updated.FilesChanged ||
		existing.CommitsCount != updated.CommitsCount ||
		!existing.RemoteUpdatedAt.Equal(updated.RemoteUpdatedAt) {
		return true
	}
	switch {
	case existing.MergedAt == nil && updated.MergedAt == nil:
		return false
	case existing.MergedAt == nil || updated.MergedAt == nil:
		return true
	default:
		return !existing.MergedAt.Equal(*updated.MergedAt)
	}
}
