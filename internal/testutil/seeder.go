package testutil

import (
	"context"
	"fmt"
	"time"

	"gitmetrics-service/internal/database"
	"gitmetrics-service/internal/models"
)

// SeedActivity registers a repository and fills it with a
// deterministic commit and merge request history, for tests that need
// realistic stored activity without talking to a platform.
func SeedActivity(ctx context.Context, db *database.DB, accountID int64, days int) (*models.Repository, error) {
	repo := &models.Repository{
		AccountID:  accountID,
		Name:       "seeded",
		URL:        fmt.Sprintf("https://git.example.com/team/seeded-%d", accountID),
		Platform:   "gitlab",
		RemoteID:   "9000",
		IsActive:   true,
		IsTracked:  true,
		SyncStatus: models.SyncStatusCompleted,
	}
	if err := db.CreateRepository(ctx, repo); err != nil {
		return nil, fmt.Errorf("failed to create repository: %w", err)
	}

	base := time.Now().UTC().AddDate(0, 0, -days).Truncate(24 * time.Hour)
	for day := 0; day < days; day++ {
		commit := &models.Commit{
			RepositoryID: repo.ID,
			Hash:         fmt.Sprintf("seed%06d", day),
			AuthorName:   "Seed Author",
			AuthorEmail:  "seed@example.com",
			Message:      fmt.Sprintf("seeded change %d", day),
			Additions:    60 + day%40,
			Deletions:    10 + day%10,
			FilesChanged: 1 + day%3,
			CommitDate:   base.AddDate(0, 0, day).Add(10 * time.Hour),
		}
		if err := db.CreateCommit(ctx, commit); err != nil {
			return nil, fmt.Errorf("failed to create commit: %w", err)
		}
	}

	// One merged merge request per week of history.
	for week := 0; week*7 < days; week++ {
		created := base.AddDate(0, 0, week*7).Add(9 * time.Hour)
		merged := created.Add(26 * time.Hour)
		mr := &models.MergeRequest{
			RepositoryID:    repo.ID,
			RemoteIID:       fmt.Sprintf("%d", week+1),
			Title:           fmt.Sprintf("seeded merge request %d", week+1),
			AuthorName:      "Seed Author",
			AuthorEmail:     "seed@example.com",
			SourceBranch:    fmt.Sprintf("feature/seed-%d", week+1),
			TargetBranch:    "main",
			State:           models.MRStateMerged,
			Additions:       120,
			Deletions:       30,
			FilesChanged:    4,
			CommitsCount:    7,
			RemoteCreatedAt: created,
			RemoteUpdatedAt: merged,
			MergedAt:        &merged,
		}
		if err := db.CreateMergeRequest(ctx, mr); err != nil {
			return nil, fmt.Errorf("failed to create merge request: %w", err)
		}
	}

	return repo, nil
}
