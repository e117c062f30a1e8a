package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"gitmetrics-service/internal/cache"
	apperrors "gitmetrics-service/internal/errors"
	"gitmetrics-service/internal/models"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// Store is the read surface the analytics service loads activity from.
type Store interface {
	ListTrackedRepositoryIDs(ctx context.Context, accountID int64) ([]int64, error)
	ListCommits(ctx context.Context, repoIDs []int64, authorEmail string, start, end time.Time) ([]*models.Commit, error)
	ListMergeRequests(ctx context.Context, repoIDs []int64, authorEmail string, start, end time.Time) ([]*models.MergeRequest, error)
}

// Query scopes an analytics request. Zero Start/End default to the
// last 30 days; empty RepositoryIDs means all tracked repositories of
// the account.
type Query struct {
	AccountID     int64
	RepositoryIDs []int64
	AuthorEmail   string
	Start         time.Time
	End           time.Time
}

// Metric types used for cache keys and targeted invalidation.
const (
	MetricOverview     = "overview"
	MetricCommitStats  = "commit_stats"
	MetricMergeStats   = "merge_request_stats"
	MetricEfficiency   = "efficiency_score"
	MetricDistribution = "time_distribution"
)

// Service computes analytics with result caching. Concurrent misses
// for the same key are collapsed to one computation.
type Service struct {
	store Store
	cache cache.Cache
	ttl   time.Duration
	log   zerolog.Logger
	sf    singleflight.Group
}

// NewService creates the analytics service. cache may be nil to
// disable caching entirely.
func NewService(store Store, resultCache cache.Cache, ttl time.Duration, log zerolog.Logger) *Service {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Service{
		store: store,
		cache: resultCache,
		ttl:   ttl,
		log:   log.With().Str("component", "analytics").Logger(),
	}
}

// normalize validates a query and fills in defaults. The returned
// query always has a concrete window and repository set.
func (s *Service) normalize(ctx context.Context, q Query) (Query, error) {
	if q.AccountID <= 0 {
		return q, apperrors.NewValidationError("account_id", fmt.Errorf("must be positive"))
	}

	now := time.Now().UTC()
	if q.End.IsZero() {
		q.End = now
	}
	if q.Start.IsZero() {
		q.Start = q.End.AddDate(0, 0, -30)
	}
	if !q.Start.Before(q.End) {
		return q, apperrors.NewValidationError("period", fmt.Errorf("start must be before end"))
	}

	if len(q.RepositoryIDs) == 0 {
		ids, err := s.store.ListTrackedRepositoryIDs(ctx, q.AccountID)
		if err != nil {
			return q, err
		}
		q.RepositoryIDs = ids
	}

	// Sorted ids keep the cache key independent of how the caller
	// ordered them.
	ids := append([]int64(nil), q.RepositoryIDs...)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	q.RepositoryIDs = ids
	return q, nil
}

func (q Query) cacheParams() map[string]string {
	ids := make([]string, len(q.RepositoryIDs))
	for i, id := range q.RepositoryIDs {
		ids[i] = strconv.FormatInt(id, 10)
	}
	return map[string]string{
		"account": strconv.FormatInt(q.AccountID, 10),
		"repos":   strings.Join(ids, ","),
		"author":  q.AuthorEmail,
		"start":   q.Start.UTC().Format(time.RFC3339),
		"end":     q.End.UTC().Format(time.RFC3339),
	}
}

func (q Query) scope() cache.Scope {
	scope := cache.Scope{AccountID: &q.AccountID}
	if len(q.RepositoryIDs) == 1 {
		scope.RepositoryID = &q.RepositoryIDs[0]
	}
	return scope
}

// cached wraps a computation with cache lookup, singleflight collapse
// and write-back. The compute function returns a JSON-marshalable
// value.
func (s *Service) cached(ctx context.Context, metricType string, q Query, extra map[string]string, out any, compute func(ctx context.Context) (any, error)) error {
	params := q.cacheParams()
	for k, v := range extra {
		params[k] = v
	}
	key := cache.BuildKey(metricType, params)

	if s.cache != nil {
		payload, hit, err := s.cache.Get(ctx, key)
		if err != nil {
			s.log.Warn().Err(err).Str("key", key).Msg("Cache read failed, recomputing")
		} else if hit {
			return json.Unmarshal(payload, out)
		}
	}

	payload, err, _ := s.sf.Do(key, func() (any, error) {
		value, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(value)
		if err != nil {
			return nil, err
		}
		if s.cache != nil {
			if err := s.cache.Set(ctx, key, metricType, raw, s.ttl, q.scope()); err != nil {
				s.log.Warn().Err(err).Str("key", key).Msg("Cache write failed")
			}
		}
		return raw, nil
	})
	if err != nil {
		return err
	}
	return json.Unmarshal(payload.([]byte), out)
}

// GetOverview returns the headline activity summary for a query.
func (s *Service) GetOverview(ctx context.Context, q Query) (*Overview, error) {
	q, err := s.normalize(ctx, q)
	if err != nil {
		return nil, err
	}

	var overview Overview
	err = s.cached(ctx, MetricOverview, q, nil, &overview, func(ctx context.Context) (any, error) {
		commits, err := s.store.ListCommits(ctx, q.RepositoryIDs, q.AuthorEmail, q.Start, q.End)
		if err != nil {
			return nil, err
		}
		mrs, err := s.store.ListMergeRequests(ctx, q.RepositoryIDs, q.AuthorEmail, q.Start, q.End)
		if err != nil {
			return nil, err
		}
		return ComputeOverview(len(q.RepositoryIDs), commits, mrs, q.Start, q.End), nil
	})
	if err != nil {
		return nil, err
	}
	return &overview, nil
}

// CommitStats is the grouped commit statistics response.
type CommitStats struct {
	GroupBy     string    `json:"group_by"`
	Buckets     []Bucket  `json:"buckets"`
	Total       int       `json:"total"`
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`
}

// GetCommitStats returns commits grouped along one dimension.
func (s *Service) GetCommitStats(ctx context.Context, q Query, groupBy string) (*CommitStats, error) {
	switch groupBy {
	case GroupByHour, GroupByDay, GroupByWeek, GroupByMonth, GroupByAuthor:
	default:
		return nil, apperrors.NewValidationError("group_by", fmt.Errorf("unsupported value %q", groupBy))
	}

	q, err := s.normalize(ctx, q)
	if err != nil {
		return nil, err
	}

	var stats CommitStats
	err = s.cached(ctx, MetricCommitStats, q, map[string]string{"group_by": groupBy}, &stats, func(ctx context.Context) (any, error) {
		commits, err := s.store.ListCommits(ctx, q.RepositoryIDs, q.AuthorEmail, q.Start, q.End)
		if err != nil {
			return nil, err
		}
		buckets, err := GroupCommits(commits, groupBy, q.Start, q.End)
		if err != nil {
			return nil, err
		}
		return &CommitStats{
			GroupBy:     groupBy,
			Buckets:     buckets,
			Total:       len(commits),
			PeriodStart: q.Start,
			PeriodEnd:   q.End,
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

// MergeRequestStats is the merge request statistics response.
type MergeRequestStats struct {
	States      []StateBucket   `json:"states"`
	MergeTime   *MergeTimeStats `json:"merge_time"`
	Total       int             `json:"total"`
	PeriodStart time.Time       `json:"period_start"`
	PeriodEnd   time.Time       `json:"period_end"`
}

// GetMergeRequestStats returns merge requests grouped by state along
// with time-to-merge statistics.
func (s *Service) GetMergeRequestStats(ctx context.Context, q Query) (*MergeRequestStats, error) {
	q, err := s.normalize(ctx, q)
	if err != nil {
		return nil, err
	}

	var stats MergeRequestStats
	err = s.cached(ctx, MetricMergeStats, q, nil, &stats, func(ctx context.Context) (any, error) {
		mrs, err := s.store.ListMergeRequests(ctx, q.RepositoryIDs, q.AuthorEmail, q.Start, q.End)
		if err != nil {
			return nil, err
		}
		return &MergeRequestStats{
			States:      GroupMergeRequestsByState(mrs),
			MergeTime:   ComputeMergeTimeStats(mrs),
			Total:       len(mrs),
			PeriodStart: q.Start,
			PeriodEnd:   q.End,
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

// GetEfficiencyScore computes the weighted efficiency score for one
// author. The author email is required; weights may be nil for the
// default weighting.
func (s *Service) GetEfficiencyScore(ctx context.Context, q Query, weights *Weights) (*ScoreResult, error) {
	if q.AuthorEmail == "" {
		return nil, apperrors.NewValidationError("author_email", fmt.Errorf("is required"))
	}

	w := DefaultWeights()
	extra := map[string]string{}
	if weights != nil {
		if err := weights.Validate(); err != nil {
			return nil, apperrors.NewValidationError("weights", err)
		}
		w = *weights
		extra["weights"] = fmt.Sprintf("%g,%g,%g,%g,%g",
			w.CommitFrequency, w.CodeQuality, w.MergeRequestRatio, w.Consistency, w.Collaboration)
	}

	q, err := s.normalize(ctx, q)
	if err != nil {
		return nil, err
	}

	var score ScoreResult
	err = s.cached(ctx, MetricEfficiency, q, extra, &score, func(ctx context.Context) (any, error) {
		commits, err := s.store.ListCommits(ctx, q.RepositoryIDs, q.AuthorEmail, q.Start, q.End)
		if err != nil {
			return nil, err
		}
		mrs, err := s.store.ListMergeRequests(ctx, q.RepositoryIDs, q.AuthorEmail, q.Start, q.End)
		if err != nil {
			return nil, err
		}
		return ComputeEfficiencyScore(commits, mrs, q.Start, q.End, w), nil
	})
	if err != nil {
		return nil, err
	}
	return &score, nil
}

// Record kinds a distribution can be computed over.
const (
	KindCommits       = "commits"
	KindMergeRequests = "merge_requests"
)

// GetTimeDistribution returns commit or merge request activity
// bucketed by hour of day, weekday or month.
func (s *Service) GetTimeDistribution(ctx context.Context, q Query, kind, dimension string) (*Distribution, error) {
	switch kind {
	case KindCommits, KindMergeRequests:
	default:
		return nil, apperrors.NewValidationError("kind", fmt.Errorf("unsupported value %q", kind))
	}
	switch dimension {
	case DimensionHourOfDay, DimensionWeekday, DimensionMonth:
	default:
		return nil, apperrors.NewValidationError("dimension", fmt.Errorf("unsupported value %q", dimension))
	}

	q, err := s.normalize(ctx, q)
	if err != nil {
		return nil, err
	}

	extra := map[string]string{"kind": kind, "dimension": dimension}

	var dist Distribution
	err = s.cached(ctx, MetricDistribution, q, extra, &dist, func(ctx context.Context) (any, error) {
		events, err := s.loadEventTimes(ctx, q, kind)
		if err != nil {
			return nil, err
		}
		return ComputeDistribution(events, dimension, q.Start, q.End)
	})
	if err != nil {
		return nil, err
	}
	return &dist, nil
}

func (s *Service) loadEventTimes(ctx context.Context, q Query, kind string) ([]time.Time, error) {
	if kind == KindMergeRequests {
		mrs, err := s.store.ListMergeRequests(ctx, q.RepositoryIDs, q.AuthorEmail, q.Start, q.End)
		if err != nil {
			return nil, err
		}
		events := make([]time.Time, len(mrs))
		for i, mr := range mrs {
			events[i] = mr.RemoteCreatedAt
		}
		return events, nil
	}

	commits, err := s.store.ListCommits(ctx, q.RepositoryIDs, q.AuthorEmail, q.Start, q.End)
	if err != nil {
		return nil, err
	}
	events := make([]time.Time, len(commits))
	for i, c := range commits {
		events[i] = c.CommitDate
	}
	return events, nil
}
