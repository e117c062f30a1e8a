// Package cache stores computed analytics payloads with a TTL so that
// repeated queries over unchanged activity data skip recomputation.
package cache

import (
	"context"
	"sort"
	"strings"
	"time"
)

// Scope ties a cached entry to the repositories and account it was
// computed from, so sync runs can invalidate exactly what they touched.
type Scope struct {
	RepositoryID *int64
	AccountID    *int64
}

// Cache is the result cache contract used by the analytics service.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key, metricType string, payload []byte, ttl time.Duration, scope Scope) error
	InvalidateKey(ctx context.Context, key string) error
	InvalidateMetricType(ctx context.Context, metricType string) error
	InvalidateRepository(ctx context.Context, repoID int64) error
	InvalidateAccount(ctx context.Context, accountID int64) error
}

// BuildKey derives a deterministic cache key from a metric type and
// its query parameters. Parameters are ordered by name and absent
// (empty) values are omitted, so logically identical queries map to
// the same entry.
func BuildKey(metricType string, params map[string]string) string {
	names := make([]string, 0, len(params))
	for name, value := range params {
		if value == "" {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(metricType)
	for _, name := range names {
		b.WriteByte(':')
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(params[name])
	}
	return b.String()
}
