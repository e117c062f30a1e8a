package analytics

import (
	"context"
	"sync"
	"testing"
	"time"

	"gitmetrics-service/internal/cache"
	apperrors "gitmetrics-service/internal/errors"
	"gitmetrics-service/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memCacheEntry struct {
	payload   []byte
	expiresAt time.Time
}

type memCache struct {
	mu      sync.Mutex
	entries map[string]memCacheEntry
	sets    int
	gets    int
}

func newMemCache() *memCache {
	return &memCache{entries: make(map[string]memCacheEntry)}
}

func (m *memCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	e, ok := m.entries[key]
	if !ok || !e.expiresAt.After(time.Now()) {
		delete(m.entries, key)
		return nil, false, nil
	}
	return e.payload, true, nil
}

func (m *memCache) Set(_ context.Context, key, _ string, payload []byte, ttl time.Duration, _ cache.Scope) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sets++
	m.entries[key] = memCacheEntry{payload: payload, expiresAt: time.Now().Add(ttl)}
	return nil
}

func (m *memCache) InvalidateKey(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

func (m *memCache) InvalidateMetricType(context.Context, string) error { return nil }
func (m *memCache) InvalidateRepository(context.Context, int64) error  { return nil }
func (m *memCache) InvalidateAccount(context.Context, int64) error     { return nil }

type stubStore struct {
	mu          sync.Mutex
	commits     []*models.Commit
	mrs         []*models.MergeRequest
	commitCalls int
}

func (s *stubStore) ListTrackedRepositoryIDs(context.Context, int64) ([]int64, error) {
	return []int64{1, 2}, nil
}

func (s *stubStore) ListCommits(_ context.Context, _ []int64, _ string, _, _ time.Time) ([]*models.Commit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commitCalls++
	return s.commits, nil
}

func (s *stubStore) ListMergeRequests(_ context.Context, _ []int64, _ string, _, _ time.Time) ([]*models.MergeRequest, error) {
	return s.mrs, nil
}

func fixedQuery() Query {
	return Query{
		AccountID: 10,
		Start:     time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		End:       time.Date(2024, 3, 8, 0, 0, 0, 0, time.UTC),
	}
}

func TestGetOverviewCachesResult(t *testing.T) {
	store := &stubStore{commits: []*models.Commit{
		{Hash: "a", AuthorEmail: "dev@example.com", Additions: 10},
	}}
	mc := newMemCache()
	svc := NewService(store, mc, time.Hour, zerolog.Nop())

	first, err := svc.GetOverview(context.Background(), fixedQuery())
	require.NoError(t, err)
	assert.Equal(t, 1, first.Commits)
	assert.Equal(t, 1, store.commitCalls)
	assert.Equal(t, 1, mc.sets)

	second, err := svc.GetOverview(context.Background(), fixedQuery())
	require.NoError(t, err)
	assert.Equal(t, first.Commits, second.Commits)
	// Served from cache, no second load.
	assert.Equal(t, 1, store.commitCalls)
}

func TestGetOverviewWithoutCache(t *testing.T) {
	store := &stubStore{}
	svc := NewService(store, nil, time.Hour, zerolog.Nop())

	_, err := svc.GetOverview(context.Background(), fixedQuery())
	require.NoError(t, err)
	_, err = svc.GetOverview(context.Background(), fixedQuery())
	require.NoError(t, err)
	assert.Equal(t, 2, store.commitCalls)
}

func TestQueryValidation(t *testing.T) {
	svc := NewService(&stubStore{}, nil, time.Hour, zerolog.Nop())

	_, err := svc.GetOverview(context.Background(), Query{})
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	q := fixedQuery()
	q.Start, q.End = q.End, q.Start
	_, err = svc.GetOverview(context.Background(), q)
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = svc.GetCommitStats(context.Background(), fixedQuery(), "quarter")
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = svc.GetEfficiencyScore(context.Background(), Query{}, nil)
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = svc.GetEfficiencyScore(context.Background(), fixedQuery(), &Weights{CommitFrequency: 2})
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = svc.GetTimeDistribution(context.Background(), fixedQuery(), KindCommits, "minute")
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = svc.GetTimeDistribution(context.Background(), fixedQuery(), "tags", DimensionWeekday)
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestCacheKeyIndependentOfRepoSource(t *testing.T) {
	// Explicitly naming the same repositories the account resolves to
	// must hit the same cache entry.
	store := &stubStore{}
	mc := newMemCache()
	svc := NewService(store, mc, time.Hour, zerolog.Nop())

	q := fixedQuery()
	_, err := svc.GetOverview(context.Background(), q)
	require.NoError(t, err)

	q.RepositoryIDs = []int64{1, 2}
	_, err = svc.GetOverview(context.Background(), q)
	require.NoError(t, err)

	// Ordering of explicit ids must not matter either.
	q.RepositoryIDs = []int64{2, 1}
	_, err = svc.GetOverview(context.Background(), q)
	require.NoError(t, err)

	assert.Equal(t, 1, mc.sets)
	assert.Equal(t, 1, store.commitCalls)
}

func TestGetCommitStatsGroupByPartOfKey(t *testing.T) {
	store := &stubStore{}
	mc := newMemCache()
	svc := NewService(store, mc, time.Hour, zerolog.Nop())

	_, err := svc.GetCommitStats(context.Background(), fixedQuery(), GroupByDay)
	require.NoError(t, err)
	_, err = svc.GetCommitStats(context.Background(), fixedQuery(), GroupByAuthor)
	require.NoError(t, err)

	// Different group_by values must not collide.
	assert.Equal(t, 2, mc.sets)
}

func TestBuildKeyDeterministic(t *testing.T) {
	a := cache.BuildKey("overview", map[string]string{"account": "1", "repos": "1,2", "author": ""})
	b := cache.BuildKey("overview", map[string]string{"repos": "1,2", "account": "1"})
	assert.Equal(t, a, b)

	c := cache.BuildKey("overview", map[string]string{"account": "2", "repos": "1,2"})
	assert.NotEqual(t, a, c)
}

func TestGetEfficiencyScoreEndToEnd(t *testing.T) {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	commits := make([]*models.Commit, 7)
	for i := range commits {
		commits[i] = &models.Commit{
			Hash:        string(rune('a' + i)),
			AuthorEmail: "dev@example.com",
			Additions:   100,
			CommitDate:  start.AddDate(0, 0, i),
		}
	}
	store := &stubStore{commits: commits}
	svc := NewService(store, newMemCache(), time.Hour, zerolog.Nop())

	q := Query{AccountID: 10, AuthorEmail: "dev@example.com", Start: start, End: start.AddDate(0, 0, 7)}
	score, err := svc.GetEfficiencyScore(context.Background(), q, nil)
	require.NoError(t, err)

	assert.Equal(t, 7, score.Statistics.TotalCommits)
	assert.Equal(t, 100.0, score.SubScores.CommitFrequency)
	assert.NotEmpty(t, score.Recommendations)
}

func TestGetEfficiencyScoreWeightsOverride(t *testing.T) {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	commits := []*models.Commit{{
		Hash:        "abc",
		AuthorEmail: "dev@example.com",
		Additions:   100,
		CommitDate:  start,
	}}
	store := &stubStore{commits: commits}
	mc := newMemCache()
	svc := NewService(store, mc, time.Hour, zerolog.Nop())

	q := Query{AccountID: 10, AuthorEmail: "dev@example.com", Start: start, End: start.AddDate(0, 0, 7)}
	base, err := svc.GetEfficiencyScore(context.Background(), q, nil)
	require.NoError(t, err)

	custom := &Weights{CommitFrequency: 1}
	overridden, err := svc.GetEfficiencyScore(context.Background(), q, custom)
	require.NoError(t, err)

	assert.Equal(t, *custom, overridden.Weights)
	assert.NotEqual(t, base.Weights, overridden.Weights)
	// Distinct weights get distinct cache entries.
	assert.Equal(t, 2, mc.sets)
}

func TestGetTimeDistributionMergeRequests(t *testing.T) {
	created := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC) // Monday
	store := &stubStore{mrs: []*models.MergeRequest{
		{RemoteIID: "1", State: models.MRStateOpened, RemoteCreatedAt: created},
		{RemoteIID: "2", State: models.MRStateMerged, RemoteCreatedAt: created.Add(2 * time.Hour)},
	}}
	svc := NewService(store, nil, time.Hour, zerolog.Nop())

	dist, err := svc.GetTimeDistribution(context.Background(), fixedQuery(), KindMergeRequests, DimensionWeekday)
	require.NoError(t, err)

	assert.Equal(t, 2, dist.Total)
	require.NotNil(t, dist.Peak)
	assert.Equal(t, "Monday", dist.Peak.Label)
	assert.Equal(t, 0, store.commitCalls)
}
