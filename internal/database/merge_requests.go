package database

import (
	"context"
	"database/sql"
	"time"

	apperrors "gitmetrics-service/internal/errors"
	"gitmetrics-service/internal/models"

	"github.com/lib/pq"
)

const mergeRequestColumns = `
	id, repository_id, remote_iid, title, description, author_name, author_email,
	source_branch, target_branch, state, additions, deletions, files_changed,
	commits_count, remote_created_at, remote_updated_at, merged_at, created_at, updated_at`

func scanMergeRequest(row interface{ Scan(...any) error }) (*models.MergeRequest, error) {
	mr := &models.MergeRequest{}
	err := row.Scan(
		&mr.ID, &mr.RepositoryID, &mr.RemoteIID, &mr.Title, &mr.Description,
		&mr.AuthorName, &mr.AuthorEmail, &mr.SourceBranch, &mr.TargetBranch,
		&mr.State, &mr.Additions, &mr.Deletions, &mr.FilesChanged,
		&mr.CommitsCount, &mr.RemoteCreatedAt, &mr.RemoteUpdatedAt,
		&mr.MergedAt, &mr.CreatedAt, &mr.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return mr, nil
}

// GetMergeRequestByIID retrieves a merge request by repository and
// remote iid. Returns (nil, nil) when no row exists.
func (d *DB) GetMergeRequestByIID(ctx context.Context, repoID int64, remoteIID string) (*models.MergeRequest, error) {
	query := `SELECT ` + mergeRequestColumns + `
		FROM merge_requests WHERE repository_id = $1 AND remote_iid = $2`

	mr, err := scanMergeRequest(d.db.QueryRowContext(ctx, query, repoID, remoteIID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.NewDatabaseError("get merge request", err)
	}
	return mr, nil
}

// CreateMergeRequest inserts a new merge request record.
func (d *DB) CreateMergeRequest(ctx context.Context, mr *models.MergeRequest) error {
	query := `
		INSERT INTO merge_requests (
			repository_id, remote_iid, title, description, author_name, author_email,
			source_branch, target_branch, state, additions, deletions, files_changed,
			commits_count, remote_created_at, remote_updated_at, merged_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING id`

	err := d.db.QueryRowContext(ctx, query,
		mr.RepositoryID, mr.RemoteIID, mr.Title, mr.Description,
		mr.AuthorName, mr.AuthorEmail, mr.SourceBranch, mr.TargetBranch,
		mr.State, mr.Additions, mr.Deletions, mr.FilesChanged,
		mr.CommitsCount, mr.RemoteCreatedAt, mr.RemoteUpdatedAt, mr.MergedAt,
	).Scan(&mr.ID)

	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.ErrDuplicate
		}
		return apperrors.NewDatabaseError("create merge request", err)
	}
	return nil
}

// UpdateMergeRequest refreshes the mutable fields of a stored merge
// request. The remote iid and remote creation time are never rewritten.
func (d *DB) UpdateMergeRequest(ctx context.Context, id int64, mr *models.MergeRequest) error {
	query := `
		UPDATE merge_requests
		SET title = $1, description = $2, state = $3, additions = $4, deletions = $5,
			files_changed = $6, commits_count = $7, remote_updated_at = $8,
			merged_at = $9, updated_at = CURRENT_TIMESTAMP
		WHERE id = $10`

	_, err := d.db.ExecContext(ctx, query,
		mr.Title, mr.Description, mr.State, mr.Additions, mr.Deletions,
		mr.FilesChanged, mr.CommitsCount, mr.RemoteUpdatedAt, mr.MergedAt, id)
	if err != nil {
		return apperrors.NewDatabaseError("update merge request", err)
	}
	return nil
}

// ListMergeRequests returns the merge requests for the given
// repositories created inside [start, end), oldest first. An optional
// author email narrows the set.
func (d *DB) ListMergeRequests(ctx context.Context, repoIDs []int64, authorEmail string, start, end time.Time) ([]*models.MergeRequest, error) {
	if len(repoIDs) == 0 {
		return nil, nil
	}

	query := `SELECT ` + mergeRequestColumns + `
		FROM merge_requests
		WHERE repository_id = ANY($1) AND remote_created_at >= $2 AND remote_created_at < $3`
	args := []any{pq.Array(repoIDs), start, end}
	if authorEmail != "" {
		query += ` AND author_email = $4`
		args = append(args, authorEmail)
	}
	query += ` ORDER BY remote_created_at ASC`

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list merge requests", err)
	}
	defer rows.Close()

	var mrs []*models.MergeRequest
	for rows.Next() {
		mr, err := scanMergeRequest(rows)
		if err != nil {
			return nil, apperrors.NewDatabaseError("scan merge request", err)
		}
		mrs = append(mrs, mr)
	}
	return mrs, rows.Err()
}
