package app

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"gitmetrics-service/internal/analytics"
	apperrors "gitmetrics-service/internal/errors"
	"gitmetrics-service/internal/models"
	"gitmetrics-service/internal/response"
	syncengine "gitmetrics-service/internal/sync"

	"github.com/gorilla/mux"
)

// healthCheck handles the health check endpoint
func (a *App) healthCheck(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, response.Success("Service is healthy", map[string]string{"status": "ok"}))
}

// accountID extracts the calling account from the X-Account-ID header.
// Authentication happens upstream; the id arrives as an opaque,
// already-verified value.
func accountID(r *http.Request) (int64, error) {
	raw := r.Header.Get("X-Account-ID")
	if raw == "" {
		return 0, fmt.Errorf("%w: missing X-Account-ID header", apperrors.ErrValidation)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid X-Account-ID header", apperrors.ErrValidation)
	}
	return id, nil
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid repository id", apperrors.ErrValidation)
	}
	return id, nil
}

// writeError maps the error taxonomy onto HTTP status codes.
func (a *App) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case apperrors.Is(err, apperrors.ErrValidation):
		status = http.StatusBadRequest
	case apperrors.Is(err, apperrors.ErrNotFound):
		status = http.StatusNotFound
	case apperrors.Is(err, apperrors.ErrDuplicate):
		status = http.StatusConflict
	case apperrors.Is(err, apperrors.ErrSyncInProgress):
		status = http.StatusConflict
	case apperrors.Is(err, apperrors.ErrRepositoryInactive):
		status = http.StatusUnprocessableEntity
	case apperrors.Is(err, apperrors.ErrAuth):
		status = http.StatusBadGateway
	case apperrors.Is(err, apperrors.ErrRateLimit), apperrors.Is(err, apperrors.ErrTransient):
		status = http.StatusBadGateway
	}

	if status == http.StatusInternalServerError {
		a.log.Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
	}
	response.JSON(w, status, response.Error(err.Error()))
}

type registerRepositoryRequest struct {
	Name     string `json:"name"`
	URL      string `json:"url"`
	Platform string `json:"platform"`
	RemoteID string `json:"remote_id"`
	Tracked  *bool  `json:"is_tracked"`
}

// registerRepository handles registering a repository for tracking
func (a *App) registerRepository(w http.ResponseWriter, r *http.Request) {
	account, err := accountID(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	var req registerRepositoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeError(w, r, fmt.Errorf("%w: invalid request body", apperrors.ErrValidation))
		return
	}
	if req.URL == "" || req.RemoteID == "" {
		a.writeError(w, r, fmt.Errorf("%w: url and remote_id are required", apperrors.ErrValidation))
		return
	}
	if req.Platform == "" {
		req.Platform = a.cfg.Platform.Name
	}
	if _, ok := a.adapters.Get(req.Platform); !ok {
		a.writeError(w, r, fmt.Errorf("%w: unsupported platform %q", apperrors.ErrValidation, req.Platform))
		return
	}

	tracked := true
	if req.Tracked != nil {
		tracked = *req.Tracked
	}

	repo := &models.Repository{
		AccountID:  account,
		Name:       req.Name,
		URL:        req.URL,
		Platform:   req.Platform,
		RemoteID:   req.RemoteID,
		IsActive:   true,
		IsTracked:  tracked,
		SyncStatus: models.SyncStatusPending,
	}
	if err := a.db.CreateRepository(r.Context(), repo); err != nil {
		a.writeError(w, r, err)
		return
	}

	a.log.Info().
		Int64("repository_id", repo.ID).
		Str("url", repo.URL).
		Msg("Registered repository")
	response.JSON(w, http.StatusCreated, response.Success("Repository registered", repo))
}

// listRepositories handles listing the account's repositories
func (a *App) listRepositories(w http.ResponseWriter, r *http.Request) {
	account, err := accountID(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	activeOnly := r.URL.Query().Get("active") == "true"
	repos, err := a.db.ListRepositories(r.Context(), account, activeOnly)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, response.Success("Repositories retrieved", repos))
}

// getRepository handles retrieving one repository with its stored state
func (a *App) getRepository(w http.ResponseWriter, r *http.Request) {
	repo, err := a.ownedRepository(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	state, err := a.db.GetSyncState(r.Context(), repo.ID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	response.JSON(w, http.StatusOK, response.Success("Repository retrieved", map[string]any{
		"repository": repo,
		"state":      state,
	}))
}

// removeRepository handles deleting a repository and its activity data
func (a *App) removeRepository(w http.ResponseWriter, r *http.Request) {
	repo, err := a.ownedRepository(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	if err := a.db.DeleteRepository(r.Context(), repo.ID); err != nil {
		a.writeError(w, r, err)
		return
	}
	if a.cache != nil {
		if err := a.cache.InvalidateRepository(r.Context(), repo.ID); err != nil {
			a.log.Warn().Err(err).Int64("repository_id", repo.ID).Msg("Failed to invalidate cache entries")
		}
	}

	a.log.Info().Int64("repository_id", repo.ID).Msg("Removed repository")
	response.JSON(w, http.StatusOK, response.Success("Repository removed", nil))
}

// setRepositoryActive handles enabling or disabling a repository
func (a *App) setRepositoryActive(w http.ResponseWriter, r *http.Request) {
	repo, err := a.ownedRepository(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	var req struct {
		Active bool `json:"active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeError(w, r, fmt.Errorf("%w: invalid request body", apperrors.ErrValidation))
		return
	}

	if err := a.db.SetRepositoryActive(r.Context(), repo.ID, req.Active); err != nil {
		a.writeError(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, response.Success("Repository updated", map[string]bool{"active": req.Active}))
}

// ownedRepository loads the path repository and checks it belongs to
// the calling account.
func (a *App) ownedRepository(r *http.Request) (*models.Repository, error) {
	account, err := accountID(r)
	if err != nil {
		return nil, err
	}
	id, err := pathID(r)
	if err != nil {
		return nil, err
	}

	repo, err := a.db.GetRepository(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if repo == nil || repo.AccountID != account {
		return nil, fmt.Errorf("repository %d: %w", id, apperrors.ErrNotFound)
	}
	return repo, nil
}

// syncRepository handles triggering a sync run for one repository
func (a *App) syncRepository(w http.ResponseWriter, r *http.Request) {
	repo, err := a.ownedRepository(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	opts := syncengine.Options{
		Force:             r.URL.Query().Get("force") == "true",
		SkipCommits:       r.URL.Query().Get("commits") == "false",
		SkipMergeRequests: r.URL.Query().Get("merge_requests") == "false",
	}

	result, err := a.engine.SyncRepository(r.Context(), repo.ID, opts)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	if result.Status == models.SyncStatusFailed {
		response.JSON(w, http.StatusBadGateway, response.Fail("Sync failed", result))
		return
	}
	response.JSON(w, http.StatusOK, response.Success("Sync completed", result))
}

// getSyncStatus handles reporting a repository's sync state
func (a *App) getSyncStatus(w http.ResponseWriter, r *http.Request) {
	repo, err := a.ownedRepository(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	state, err := a.db.GetSyncState(r.Context(), repo.ID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	response.JSON(w, http.StatusOK, response.Success("Sync status retrieved", map[string]any{
		"sync_status":  repo.SyncStatus,
		"last_sync_at": repo.LastSyncAt,
		"state":        state,
	}))
}

// syncAll handles triggering a sync batch across the account's
// repositories
func (a *App) syncAll(w http.ResponseWriter, r *http.Request) {
	account, err := accountID(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	opts := syncengine.Options{Force: r.URL.Query().Get("force") == "true"}
	batch, err := a.pool.SyncAll(r.Context(), account, opts)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, response.Success("Sync batch finished", batch))
}

// analyticsQuery builds an analytics query from request parameters.
// Timestamps must be RFC 3339; anything else is rejected rather than
// guessed at.
func analyticsQuery(r *http.Request) (analytics.Query, error) {
	account, err := accountID(r)
	if err != nil {
		return analytics.Query{}, err
	}

	q := analytics.Query{
		AccountID:   account,
		AuthorEmail: r.URL.Query().Get("author_email"),
	}

	if raw := r.URL.Query().Get("repository_ids"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
			if err != nil || id <= 0 {
				return q, fmt.Errorf("%w: invalid repository_ids value %q", apperrors.ErrValidation, part)
			}
			q.RepositoryIDs = append(q.RepositoryIDs, id)
		}
	}

	if raw := r.URL.Query().Get("start"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return q, fmt.Errorf("%w: start must be RFC 3339", apperrors.ErrValidation)
		}
		q.Start = t.UTC()
	}
	if raw := r.URL.Query().Get("end"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return q, fmt.Errorf("%w: end must be RFC 3339", apperrors.ErrValidation)
		}
		q.End = t.UTC()
	}

	return q, nil
}

// getOverview handles the activity overview endpoint
func (a *App) getOverview(w http.ResponseWriter, r *http.Request) {
	q, err := analyticsQuery(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	overview, err := a.analytics.GetOverview(r.Context(), q)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, response.Success("Overview retrieved", overview))
}

// getCommitStats handles grouped commit statistics
func (a *App) getCommitStats(w http.ResponseWriter, r *http.Request) {
	q, err := analyticsQuery(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	groupBy := r.URL.Query().Get("group_by")
	if groupBy == "" {
		groupBy = analytics.GroupByDay
	}

	stats, err := a.analytics.GetCommitStats(r.Context(), q, groupBy)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, response.Success("Commit statistics retrieved", stats))
}

// getMergeRequestStats handles merge request statistics
func (a *App) getMergeRequestStats(w http.ResponseWriter, r *http.Request) {
	q, err := analyticsQuery(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	stats, err := a.analytics.GetMergeRequestStats(r.Context(), q)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, response.Success("Merge request statistics retrieved", stats))
}

// getEfficiencyScore handles the per-author efficiency score
func (a *App) getEfficiencyScore(w http.ResponseWriter, r *http.Request) {
	q, err := analyticsQuery(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	weights, err := weightsOverride(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	score, err := a.analytics.GetEfficiencyScore(r.Context(), q, weights)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, response.Success("Efficiency score computed", score))
}

// weightsOverride parses optional sub-score weight parameters. Either
// all five are supplied or none.
func weightsOverride(r *http.Request) (*analytics.Weights, error) {
	names := []string{"w_frequency", "w_quality", "w_ratio", "w_consistency", "w_collaboration"}
	query := r.URL.Query()

	present := 0
	for _, name := range names {
		if query.Get(name) != "" {
			present++
		}
	}
	if present == 0 {
		return nil, nil
	}
	if present != len(names) {
		return nil, fmt.Errorf("%w: all five weight parameters are required when overriding weights", apperrors.ErrValidation)
	}

	values := make([]float64, len(names))
	for i, name := range names {
		v, err := strconv.ParseFloat(query.Get(name), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid %s value", apperrors.ErrValidation, name)
		}
		values[i] = v
	}

	return &analytics.Weights{
		CommitFrequency:   values[0],
		CodeQuality:       values[1],
		MergeRequestRatio: values[2],
		Consistency:       values[3],
		Collaboration:     values[4],
	}, nil
}

// getTimeDistribution handles the commit time distribution endpoint
func (a *App) getTimeDistribution(w http.ResponseWriter, r *http.Request) {
	q, err := analyticsQuery(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	kind := r.URL.Query().Get("kind")
	if kind == "" {
		kind = analytics.KindCommits
	}
	dimension := r.URL.Query().Get("dimension")
	if dimension == "" {
		dimension = analytics.DimensionHourOfDay
	}

	dist, err := a.analytics.GetTimeDistribution(r.Context(), q, kind, dimension)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, response.Success("Time distribution retrieved", dist))
}

// invalidateCache handles targeted cache invalidation
func (a *App) invalidateCache(w http.ResponseWriter, r *http.Request) {
	if a.cache == nil {
		a.writeError(w, r, fmt.Errorf("%w: no cache configured", apperrors.ErrValidation))
		return
	}

	query := r.URL.Query()
	ctx := r.Context()

	switch {
	case query.Get("key") != "":
		err := a.cache.InvalidateKey(ctx, query.Get("key"))
		if err != nil {
			a.writeError(w, r, err)
			return
		}
	case query.Get("metric_type") != "":
		if err := a.cache.InvalidateMetricType(ctx, query.Get("metric_type")); err != nil {
			a.writeError(w, r, err)
			return
		}
	case query.Get("repository_id") != "":
		id, err := strconv.ParseInt(query.Get("repository_id"), 10, 64)
		if err != nil {
			a.writeError(w, r, fmt.Errorf("%w: invalid repository_id", apperrors.ErrValidation))
			return
		}
		if err := a.cache.InvalidateRepository(ctx, id); err != nil {
			a.writeError(w, r, err)
			return
		}
	case query.Get("account_id") != "":
		id, err := strconv.ParseInt(query.Get("account_id"), 10, 64)
		if err != nil {
			a.writeError(w, r, fmt.Errorf("%w: invalid account_id", apperrors.ErrValidation))
			return
		}
		if err := a.cache.InvalidateAccount(ctx, id); err != nil {
			a.writeError(w, r, err)
			return
		}
	default:
		a.writeError(w, r, fmt.Errorf("%w: one of key, metric_type, repository_id or account_id is required", apperrors.ErrValidation))
		return
	}

	response.JSON(w, http.StatusOK, response.Success("Cache invalidated", nil))
}

// testConnection handles the platform connectivity probe
func (a *App) testConnection(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["platform"]
	adapter, ok := a.adapters.Get(name)
	if !ok {
		a.writeError(w, r, fmt.Errorf("%w: unsupported platform %q", apperrors.ErrValidation, name))
		return
	}

	status := adapter.TestConnection(r.Context())
	code := http.StatusOK
	if !status.OK {
		code = http.StatusBadGateway
	}
	response.JSON(w, code, response.Success("Connection tested", status))
}

// discoverRepositories handles listing repositories visible on the
// remote platform
func (a *App) discoverRepositories(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["platform"]
	adapter, ok := a.adapters.Get(name)
	if !ok {
		a.writeError(w, r, fmt.Errorf("%w: unsupported platform %q", apperrors.ErrValidation, name))
		return
	}

	repos, err := adapter.ListRepositories(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, response.Success("Repositories discovered", repos))
}
