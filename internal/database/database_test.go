package database_test

import (
	"context"
	"testing"
	"time"

	apperrors "gitmetrics-service/internal/errors"
	"gitmetrics-service/internal/models"
	"gitmetrics-service/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (*testutil.TestPostgres, context.Context) {
	t.Helper()
	ctx := context.Background()

	tp, err := testutil.NewTestPostgres(ctx)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, tp.Close(ctx))
	})

	require.NoError(t, tp.LoadFixtures())
	return tp, ctx
}

func TestRepositoryUniquePerAccount(t *testing.T) {
	tp, ctx := setup(t)

	dup := &models.Repository{
		AccountID:  10,
		Name:       "backend-copy",
		URL:        "https://git.example.com/team/backend",
		Platform:   "gitlab",
		RemoteID:   "42",
		IsActive:   true,
		IsTracked:  true,
		SyncStatus: models.SyncStatusPending,
	}
	err := tp.Store.CreateRepository(ctx, dup)
	assert.ErrorIs(t, err, apperrors.ErrDuplicate)

	// The same URL under another account is fine.
	dup.AccountID = 30
	require.NoError(t, tp.Store.CreateRepository(ctx, dup))
	assert.NotZero(t, dup.ID)
}

func TestListTrackedRepositoryIDs(t *testing.T) {
	tp, ctx := setup(t)

	ids, err := tp.Store.ListTrackedRepositoryIDs(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, ids)

	// Account 20's only repository is inactive.
	ids, err = tp.Store.ListTrackedRepositoryIDs(ctx, 20)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestBeginSyncIsExclusive(t *testing.T) {
	tp, ctx := setup(t)

	require.NoError(t, tp.Store.BeginSync(ctx, 1))
	err := tp.Store.BeginSync(ctx, 1)
	assert.ErrorIs(t, err, apperrors.ErrSyncInProgress)

	// Completing the run frees the repository again.
	now := time.Now().UTC()
	require.NoError(t, tp.Store.FinishSync(ctx, 1, models.SyncStatusCompleted, &now))
	require.NoError(t, tp.Store.BeginSync(ctx, 1))
}

func TestFinishSyncWatermark(t *testing.T) {
	tp, ctx := setup(t)

	require.NoError(t, tp.Store.BeginSync(ctx, 2))
	require.NoError(t, tp.Store.FinishSync(ctx, 2, models.SyncStatusFailed, nil))

	repo, err := tp.Store.GetRepository(ctx, 2)
	require.NoError(t, err)
	require.NotNil(t, repo)
	assert.Equal(t, models.SyncStatusFailed, repo.SyncStatus)
	assert.Nil(t, repo.LastSyncAt)

	syncedAt := time.Date(2024, 3, 2, 12, 0, 0, 0, time.UTC)
	require.NoError(t, tp.Store.BeginSync(ctx, 2))
	require.NoError(t, tp.Store.FinishSync(ctx, 2, models.SyncStatusCompleted, &syncedAt))

	repo, err = tp.Store.GetRepository(ctx, 2)
	require.NoError(t, err)
	require.NotNil(t, repo.LastSyncAt)
	assert.True(t, repo.LastSyncAt.Equal(syncedAt))
}

func TestResetStaleSyncing(t *testing.T) {
	tp, ctx := setup(t)

	require.NoError(t, tp.Store.BeginSync(ctx, 1))

	// Fresh runs are left alone.
	reset, err := tp.Store.ResetStaleSyncing(ctx, 30*time.Minute)
	require.NoError(t, err)
	assert.Zero(t, reset)

	// With no grace every syncing repository is stale.
	time.Sleep(10 * time.Millisecond)
	reset, err = tp.Store.ResetStaleSyncing(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), reset)

	repo, err := tp.Store.GetRepository(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusFailed, repo.SyncStatus)
}

func TestCommitReadModifyWrite(t *testing.T) {
	tp, ctx := setup(t)

	existing, err := tp.Store.GetCommitByHash(ctx, 1, "aaa111")
	require.NoError(t, err)
	require.NotNil(t, existing)
	assert.Equal(t, 120, existing.Additions)

	require.NoError(t, tp.Store.UpdateCommitStats(ctx, existing.ID, "Add sync endpoint (amended)", 125, 15, 4))

	updated, err := tp.Store.GetCommitByHash(ctx, 1, "aaa111")
	require.NoError(t, err)
	assert.Equal(t, 125, updated.Additions)
	assert.Equal(t, "Add sync endpoint (amended)", updated.Message)
	// Identity fields stay put.
	assert.Equal(t, existing.Hash, updated.Hash)
	assert.True(t, updated.CommitDate.Equal(existing.CommitDate))

	missing, err := tp.Store.GetCommitByHash(ctx, 1, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestCreateCommitDuplicate(t *testing.T) {
	tp, ctx := setup(t)

	commit := &models.Commit{
		RepositoryID: 1,
		Hash:         "aaa111",
		AuthorEmail:  "dev1@example.com",
		CommitDate:   time.Now().UTC(),
	}
	err := tp.Store.CreateCommit(ctx, commit)
	assert.ErrorIs(t, err, apperrors.ErrDuplicate)
}

func TestListCommitsWindowAndAuthor(t *testing.T) {
	tp, ctx := setup(t)

	start := time.Date(2024, 2, 26, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 2, 28, 0, 0, 0, 0, time.UTC)

	commits, err := tp.Store.ListCommits(ctx, []int64{1, 2}, "", start, end)
	require.NoError(t, err)
	// ccc333 and ddd444 fall on the 28th, outside the half-open window.
	require.Len(t, commits, 2)
	assert.Equal(t, "aaa111", commits[0].Hash)
	assert.Equal(t, "bbb222", commits[1].Hash)

	commits, err = tp.Store.ListCommits(ctx, []int64{1, 2}, "dev2@example.com", start, end.AddDate(0, 0, 2))
	require.NoError(t, err)
	require.Len(t, commits, 2)
	for _, c := range commits {
		assert.Equal(t, "dev2@example.com", c.AuthorEmail)
	}

	commits, err = tp.Store.ListCommits(ctx, nil, "", start, end)
	require.NoError(t, err)
	assert.Empty(t, commits)
}

func TestMergeRequestLifecycle(t *testing.T) {
	tp, ctx := setup(t)

	existing, err := tp.Store.GetMergeRequestByIID(ctx, 1, "8")
	require.NoError(t, err)
	require.NotNil(t, existing)
	assert.Equal(t, models.MRStateOpened, existing.State)

	mergedAt := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	update := &models.MergeRequest{
		Title:           "Tune retry backoff",
		State:           models.MRStateMerged,
		Additions:       18,
		Deletions:       3,
		FilesChanged:    1,
		CommitsCount:    2,
		RemoteUpdatedAt: mergedAt,
		MergedAt:        &mergedAt,
	}
	require.NoError(t, tp.Store.UpdateMergeRequest(ctx, existing.ID, update))

	updated, err := tp.Store.GetMergeRequestByIID(ctx, 1, "8")
	require.NoError(t, err)
	assert.Equal(t, models.MRStateMerged, updated.State)
	require.NotNil(t, updated.MergedAt)
	// The original remote creation time is preserved.
	assert.True(t, updated.RemoteCreatedAt.Equal(existing.RemoteCreatedAt))
}

func TestDeleteRepositoryCascades(t *testing.T) {
	tp, ctx := setup(t)

	require.NoError(t, tp.Store.DeleteRepository(ctx, 1))

	commits, err := tp.Store.ListCommits(ctx, []int64{1}, "", time.Time{}, time.Now().UTC())
	require.NoError(t, err)
	assert.Empty(t, commits)

	mrs, err := tp.Store.ListMergeRequests(ctx, []int64{1}, "", time.Time{}, time.Now().UTC())
	require.NoError(t, err)
	assert.Empty(t, mrs)

	err = tp.Store.DeleteRepository(ctx, 1)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestGetSyncState(t *testing.T) {
	tp, ctx := setup(t)

	state, err := tp.Store.GetSyncState(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), state.RepositoryID)
	assert.Equal(t, 3, state.CommitCount)
	assert.Equal(t, 2, state.MergeRequestCount)
	require.NotNil(t, state.LatestCommitDate)
	assert.Equal(t, 28, state.LatestCommitDate.Day())
	require.NotNil(t, state.LatestMRDate)
}

func TestSeedActivity(t *testing.T) {
	tp, ctx := setup(t)

	repo, err := testutil.SeedActivity(ctx, tp.Store, 99, 14)
	require.NoError(t, err)

	state, err := tp.Store.GetSyncState(ctx, repo.ID)
	require.NoError(t, err)
	assert.Equal(t, 14, state.CommitCount)
	assert.Equal(t, 2, state.MergeRequestCount)
}
