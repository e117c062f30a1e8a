package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	apperrors "gitmetrics-service/internal/errors"
	"gitmetrics-service/internal/models"
)

const repositoryColumns = `
	id, account_id, name, url, platform, remote_id, is_active, is_tracked,
	sync_status, last_sync_at, created_at, updated_at`

func scanRepository(row interface{ Scan(...any) error }) (*models.Repository, error) {
	repo := &models.Repository{}
	err := row.Scan(
		&repo.ID, &repo.AccountID, &repo.Name, &repo.URL, &repo.Platform,
		&repo.RemoteID, &repo.IsActive, &repo.IsTracked, &repo.SyncStatus,
		&repo.LastSyncAt, &repo.CreatedAt, &repo.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return repo, nil
}

// CreateRepository registers a repository for tracking. The
// (account_id, url) pair is unique per account.
func (d *DB) CreateRepository(ctx context.Context, repo *models.Repository) error {
	query := `
		INSERT INTO repositories (
			account_id, name, url, platform, remote_id, is_active, is_tracked, sync_status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at`

	err := d.db.QueryRowContext(ctx, query,
		repo.AccountID, repo.Name, repo.URL, repo.Platform, repo.RemoteID,
		repo.IsActive, repo.IsTracked, repo.SyncStatus,
	).Scan(&repo.ID, &repo.CreatedAt, &repo.UpdatedAt)

	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("repository %s: %w", repo.URL, apperrors.ErrDuplicate)
		}
		return apperrors.NewDatabaseError("create repository", err)
	}

	return nil
}

// GetRepository retrieves a repository by its identifier. Returns
// (nil, nil) when no row exists.
func (d *DB) GetRepository(ctx context.Context, id int64) (*models.Repository, error) {
	query := `SELECT ` + repositoryColumns + ` FROM repositories WHERE id = $1`

	repo, err := scanRepository(d.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.NewDatabaseError("get repository", err)
	}
	return repo, nil
}

// GetRepositoryByURL retrieves a repository by account and URL.
func (d *DB) GetRepositoryByURL(ctx context.Context, accountID int64, url string) (*models.Repository, error) {
	query := `SELECT ` + repositoryColumns + ` FROM repositories WHERE account_id = $1 AND url = $2`

	repo, err := scanRepository(d.db.QueryRowContext(ctx, query, accountID, url))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.NewDatabaseError("get repository by url", err)
	}
	return repo, nil
}

// ListRepositories returns the repositories registered for an account,
// newest first.
func (d *DB) ListRepositories(ctx context.Context, accountID int64, activeOnly bool) ([]*models.Repository, error) {
	query := `SELECT ` + repositoryColumns + ` FROM repositories WHERE account_id = $1`
	if activeOnly {
		query += ` AND is_active = TRUE`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := d.db.QueryContext(ctx, query, accountID)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list repositories", err)
	}
	defer rows.Close()

	var repos []*models.Repository
	for rows.Next() {
		repo, err := scanRepository(rows)
		if err != nil {
			return nil, apperrors.NewDatabaseError("scan repository", err)
		}
		repos = append(repos, repo)
	}
	return repos, rows.Err()
}

// ListTrackedRepositoryIDs returns the ids of active, tracked
// repositories for an account. Used to resolve analytics queries that
// do not name repositories explicitly.
func (d *DB) ListTrackedRepositoryIDs(ctx context.Context, accountID int64) ([]int64, error) {
	query := `
		SELECT id FROM repositories
		WHERE account_id = $1 AND is_active = TRUE AND is_tracked = TRUE
		ORDER BY id`

	rows, err := d.db.QueryContext(ctx, query, accountID)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list tracked repositories", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, apperrors.NewDatabaseError("scan repository id", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListSyncableRepositories returns all active, tracked repositories
// across accounts, for the batch sync scheduler.
func (d *DB) ListSyncableRepositories(ctx context.Context) ([]*models.Repository, error) {
	query := `SELECT ` + repositoryColumns + `
		FROM repositories
		WHERE is_active = TRUE AND is_tracked = TRUE
		ORDER BY id`

	rows, err := d.db.QueryContext(ctx, query)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list syncable repositories", err)
	}
	defer rows.Close()

	var repos []*models.Repository
	for rows.Next() {
		repo, err := scanRepository(rows)
		if err != nil {
			return nil, apperrors.NewDatabaseError("scan repository", err)
		}
		repos = append(repos, repo)
	}
	return repos, rows.Err()
}

// BeginSync transitions a repository into the syncing state. The
// compare-and-set on sync_status guarantees a single active run per
// repository.
func (d *DB) BeginSync(ctx context.Context, repoID int64) error {
	query := `
		UPDATE repositories
		SET sync_status = $1, updated_at = CURRENT_TIMESTAMP
		WHERE id = $2 AND sync_status != $1`

	result, err := d.db.ExecContext(ctx, query, models.SyncStatusSyncing, repoID)
	if err != nil {
		return apperrors.NewDatabaseError("begin sync", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return apperrors.NewDatabaseError("begin sync", err)
	}
	if rows == 0 {
		return fmt.Errorf("repository %d: %w", repoID, apperrors.ErrSyncInProgress)
	}
	return nil
}

// FinishSync records the terminal status of a sync run. The watermark
// advances only on a completed run; a failed run leaves last_sync_at
// untouched so the next run re-covers the window.
func (d *DB) FinishSync(ctx context.Context, repoID int64, status models.SyncStatus, syncedAt *time.Time) error {
	var err error
	if syncedAt != nil {
		query := `
			UPDATE repositories
			SET sync_status = $1, last_sync_at = $2, updated_at = CURRENT_TIMESTAMP
			WHERE id = $3`
		_, err = d.db.ExecContext(ctx, query, status, *syncedAt, repoID)
	} else {
		query := `
			UPDATE repositories
			SET sync_status = $1, updated_at = CURRENT_TIMESTAMP
			WHERE id = $2`
		_, err = d.db.ExecContext(ctx, query, status, repoID)
	}
	if err != nil {
		return apperrors.NewDatabaseError("finish sync", err)
	}
	return nil
}

// ResetStaleSyncing marks repositories stuck in the syncing state past
// the grace period as failed. Crashed runs are recovered this way.
func (d *DB) ResetStaleSyncing(ctx context.Context, grace time.Duration) (int64, error) {
	query := `
		UPDATE repositories
		SET sync_status = $1, updated_at = CURRENT_TIMESTAMP
		WHERE sync_status = $2 AND updated_at < $3`

	result, err := d.db.ExecContext(ctx, query,
		models.SyncStatusFailed, models.SyncStatusSyncing, time.Now().Add(-grace))
	if err != nil {
		return 0, apperrors.NewDatabaseError("reset stale syncing", err)
	}
	return result.RowsAffected()
}

// SetRepositoryActive toggles the active flag. Inactive repositories
// are skipped by sync and analytics.
func (d *DB) SetRepositoryActive(ctx context.Context, id int64, active bool) error {
	query := `UPDATE repositories SET is_active = $1, updated_at = CURRENT_TIMESTAMP WHERE id = $2`

	result, err := d.db.ExecContext(ctx, query, active, id)
	if err != nil {
		return apperrors.NewDatabaseError("set repository active", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return apperrors.NewDatabaseError("set repository active", err)
	}
	if rows == 0 {
		return fmt.Errorf("repository %d: %w", id, apperrors.ErrNotFound)
	}
	return nil
}

// DeleteRepository removes a repository. Commits and merge requests
// cascade at the schema level.
func (d *DB) DeleteRepository(ctx context.Context, id int64) error {
	result, err := d.db.ExecContext(ctx, `DELETE FROM repositories WHERE id = $1`, id)
	if err != nil {
		return apperrors.NewDatabaseError("delete repository", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return apperrors.NewDatabaseError("delete repository", err)
	}
	if rows == 0 {
		return fmt.Errorf("repository %d: %w", id, apperrors.ErrNotFound)
	}
	return nil
}

// GetSyncState summarizes the stored activity for a repository.
func (d *DB) GetSyncState(ctx context.Context, repoID int64) (*models.RepositorySyncState, error) {
	query := `
		SELECT
			(SELECT COUNT(*) FROM commits WHERE repository_id = $1),
			(SELECT MAX(commit_date) FROM commits WHERE repository_id = $1),
			(SELECT COUNT(*) FROM merge_requests WHERE repository_id = $1),
			(SELECT MAX(remote_created_at) FROM merge_requests WHERE repository_id = $1)`

	state := &models.RepositorySyncState{RepositoryID: repoID}
	err := d.db.QueryRowContext(ctx, query, repoID).Scan(
		&state.CommitCount, &state.LatestCommitDate,
		&state.MergeRequestCount, &state.LatestMRDate,
	)
	if err != nil {
		return nil, apperrors.NewDatabaseError("get sync state", err)
	}
	return state, nil
}
