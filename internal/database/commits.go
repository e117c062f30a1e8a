package database

import (
	"context"
	"database/sql"
	"time"

	apperrors "gitmetrics-service/internal/errors"
	"gitmetrics-service/internal/models"

	"github.com/lib/pq"
)

const commitColumns = `
	id, repository_id, commit_hash, author_name, author_email, message,
	additions, deletions, files_changed, commit_date, created_at, updated_at`

func scanCommit(row interface{ Scan(...any) error }) (*models.Commit, error) {
	c := &models.Commit{}
	err := row.Scan(
		&c.ID, &c.RepositoryID, &c.Hash, &c.AuthorName, &c.AuthorEmail,
		&c.Message, &c.Additions, &c.Deletions, &c.FilesChanged,
		&c.CommitDate, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// GetCommitByHash retrieves a commit by repository and hash. Returns
// (nil, nil) when no row exists.
func (d *DB) GetCommitByHash(ctx context.Context, repoID int64, hash string) (*models.Commit, error) {
	query := `SELECT ` + commitColumns + ` FROM commits WHERE repository_id = $1 AND commit_hash = $2`

	c, err := scanCommit(d.db.QueryRowContext(ctx, query, repoID, hash))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.NewDatabaseError("get commit", err)
	}
	return c, nil
}

// CreateCommit inserts a new commit record.
func (d *DB) CreateCommit(ctx context.Context, commit *models.Commit) error {
	query := `
		INSERT INTO commits (
			repository_id, commit_hash, author_name, author_email, message,
			additions, deletions, files_changed, commit_date
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`

	err := d.db.QueryRowContext(ctx, query,
		commit.RepositoryID, commit.Hash, commit.AuthorName, commit.AuthorEmail,
		commit.Message, commit.Additions, commit.Deletions, commit.FilesChanged,
		commit.CommitDate,
	).Scan(&commit.ID)

	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.ErrDuplicate
		}
		return apperrors.NewDatabaseError("create commit", err)
	}
	return nil
}

// UpdateCommitStats refreshes the mutable fields of a stored commit.
// Identity fields (hash, author, commit date) are never rewritten.
func (d *DB) UpdateCommitStats(ctx context.Context, id int64, message string, additions, deletions, filesChanged int) error {
	query := `
		UPDATE commits
		SET message = $1, additions = $2, deletions = $3, files_changed = $4,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = $5`

	_, err := d.db.ExecContext(ctx, query, message, additions, deletions, filesChanged, id)
	if err != nil {
		return apperrors.NewDatabaseError("update commit stats", err)
	}
	return nil
}

// ListCommits returns the commits for the given repositories inside
// [start, end), oldest first. An optional author email narrows the set.
func (d *DB) ListCommits(ctx context.Context, repoIDs []int64, authorEmail string, start, end time.Time) ([]*models.Commit, error) {
	if len(repoIDs) == 0 {
		return nil, nil
	}

	query := `SELECT ` + commitColumns + `
		FROM commits
		WHERE repository_id = ANY($1) AND commit_date >= $2 AND commit_date < $3`
	args := []any{pq.Array(repoIDs), start, end}
	if authorEmail != "" {
		query += ` AND author_email = $4`
		args = append(args, authorEmail)
	}
	query += ` ORDER BY commit_date ASC`

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list commits", err)
	}
	defer rows.Close()

	var commits []*models.Commit
	for rows.Next() {
		c, err := scanCommit(rows)
		if err != nil {
			return nil, apperrors.NewDatabaseError("scan commit", err)
		}
		commits = append(commits, c)
	}
	return commits, rows.Err()
}
