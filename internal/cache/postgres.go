package cache

import (
	"context"
	"database/sql"
	"time"

	apperrors "gitmetrics-service/internal/errors"

	"github.com/rs/zerolog"
)

// PostgresCache persists cached analytics payloads in the
// analytics_cache table. Entries survive restarts and are shared by
// all service instances pointed at the same database.
type PostgresCache struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewPostgresCache creates a cache backed by an existing connection.
// The analytics_cache table is created by the migrations.
func NewPostgresCache(db *sql.DB, log zerolog.Logger) *PostgresCache {
	return &PostgresCache{
		db:  db,
		log: log.With().Str("component", "cache").Logger(),
	}
}

// Get returns the payload stored under key, or false when the entry is
// absent or expired. Expired entries are deleted on read.
func (c *PostgresCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	query := `SELECT payload, expires_at FROM analytics_cache WHERE cache_key = $1`

	var payload []byte
	var expiresAt time.Time
	err := c.db.QueryRowContext(ctx, query, key).Scan(&payload, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, apperrors.NewDatabaseError("cache get", err)
	}

	if !expiresAt.After(time.Now()) {
		if _, err := c.db.ExecContext(ctx, `DELETE FROM analytics_cache WHERE cache_key = $1`, key); err != nil {
			c.log.Warn().Err(err).Str("key", key).Msg("Failed to evict expired cache entry")
		}
		return nil, false, nil
	}

	return payload, true, nil
}

// Set stores a payload under key, overwriting any existing entry and
// restarting its TTL.
func (c *PostgresCache) Set(ctx context.Context, key, metricType string, payload []byte, ttl time.Duration, scope Scope) error {
	query := `
		INSERT INTO analytics_cache (cache_key, metric_type, repository_id, account_id, payload, expires_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, CURRENT_TIMESTAMP)
		ON CONFLICT (cache_key) DO UPDATE SET
			metric_type = EXCLUDED.metric_type,
			repository_id = EXCLUDED.repository_id,
			account_id = EXCLUDED.account_id,
			payload = EXCLUDED.payload,
			expires_at = EXCLUDED.expires_at,
			updated_at = CURRENT_TIMESTAMP`

	_, err := c.db.ExecContext(ctx, query,
		key, metricType, scope.RepositoryID, scope.AccountID, payload, time.Now().Add(ttl))
	if err != nil {
		return apperrors.NewDatabaseError("cache set", err)
	}
	return nil
}

// InvalidateKey removes a single entry. Removing a missing entry is
// not an error.
func (c *PostgresCache) InvalidateKey(ctx context.Context, key string) error {
	return c.invalidate(ctx, `DELETE FROM analytics_cache WHERE cache_key = $1`, key)
}

// InvalidateMetricType removes every entry of one metric type.
func (c *PostgresCache) InvalidateMetricType(ctx context.Context, metricType string) error {
	return c.invalidate(ctx, `DELETE FROM analytics_cache WHERE metric_type = $1`, metricType)
}

// InvalidateRepository removes every entry scoped to a repository.
func (c *PostgresCache) InvalidateRepository(ctx context.Context, repoID int64) error {
	return c.invalidate(ctx, `DELETE FROM analytics_cache WHERE repository_id = $1`, repoID)
}

// InvalidateAccount removes every entry scoped to an account.
func (c *PostgresCache) InvalidateAccount(ctx context.Context, accountID int64) error {
	return c.invalidate(ctx, `DELETE FROM analytics_cache WHERE account_id = $1`, accountID)
}

func (c *PostgresCache) invalidate(ctx context.Context, query string, arg any) error {
	result, err := c.db.ExecContext(ctx, query, arg)
	if err != nil {
		return apperrors.NewDatabaseError("cache invalidate", err)
	}
	if rows, err := result.RowsAffected(); err == nil && rows > 0 {
		c.log.Debug().Int64("entries", rows).Msg("Invalidated cache entries")
	}
	return nil
}

// PurgeExpired deletes all expired entries. Called periodically by the
// scheduler so abandoned keys do not accumulate.
func (c *PostgresCache) PurgeExpired(ctx context.Context) (int64, error) {
	result, err := c.db.ExecContext(ctx, `DELETE FROM analytics_cache WHERE expires_at <= CURRENT_TIMESTAMP`)
	if err != nil {
		return 0, apperrors.NewDatabaseError("cache purge", err)
	}
	return result.RowsAffected()
}
