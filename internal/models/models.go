package models

import "time"

// SyncStatus tracks where a repository is in its synchronization lifecycle.
type SyncStatus string

const (
	SyncStatusPending   SyncStatus = "pending"
	SyncStatusSyncing   SyncStatus = "syncing"
	SyncStatusCompleted SyncStatus = "completed"
	SyncStatusFailed    SyncStatus = "failed"
)

// MergeRequestState is the remote lifecycle state of a merge request.
type MergeRequestState string

const (
	MRStateOpened MergeRequestState = "opened"
	MRStateMerged MergeRequestState = "merged"
	MRStateClosed MergeRequestState = "closed"
)

// Repository represents a remote source-code project tracked by one account.
// (account_id, url) is unique.
type Repository struct {
	ID         int64      `json:"id" db:"id"`
	AccountID  int64      `json:"account_id" db:"account_id"`
	Name       string     `json:"name" db:"name"`
	URL        string     `json:"url" db:"url"`
	Platform   string     `json:"platform" db:"platform"`
	RemoteID   string     `json:"remote_id" db:"remote_id"`
	IsActive   bool       `json:"is_active" db:"is_active"`
	IsTracked  bool       `json:"is_tracked" db:"is_tracked"`
	SyncStatus SyncStatus `json:"sync_status" db:"sync_status"`
	LastSyncAt *time.Time `json:"last_sync_at,omitempty" db:"last_sync_at"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at" db:"updated_at"`
}

// Commit represents one remote commit scoped to a repository.
// (repository_id, commit_hash) is the reconciliation idempotency key.
type Commit struct {
	ID           int64     `json:"id" db:"id"`
	RepositoryID int64     `json:"repository_id" db:"repository_id"`
	Hash         string    `json:"commit_hash" db:"commit_hash"`
	AuthorName   string    `json:"author_name" db:"author_name"`
	AuthorEmail  string    `json:"author_email" db:"author_email"`
	Message      string    `json:"message" db:"message"`
	Additions    int       `json:"additions" db:"additions"`
	Deletions    int       `json:"deletions" db:"deletions"`
	FilesChanged int       `json:"files_changed" db:"files_changed"`
	CommitDate   time.Time `json:"commit_date" db:"commit_date"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// TotalChanges returns the commit's total changed line count.
func (c *Commit) TotalChanges() int {
	return c.Additions + c.Deletions
}

// MergeRequest represents one remote merge request scoped to a repository.
// (repository_id, remote_iid) is unique.
type MergeRequest struct {
	ID              int64             `json:"id" db:"id"`
	RepositoryID    int64             `json:"repository_id" db:"repository_id"`
	RemoteIID       string            `json:"remote_iid" db:"remote_iid"`
	Title           string            `json:"title" db:"title"`
	Description     string            `json:"description" db:"description"`
	AuthorName      string            `json:"author_name" db:"author_name"`
	AuthorEmail     string            `json:"author_email" db:"author_email"`
	SourceBranch    string            `json:"source_branch" db:"source_branch"`
	TargetBranch    string            `json:"target_branch" db:"target_branch"`
	State           MergeRequestState `json:"state" db:"state"`
	Additions       int               `json:"additions" db:"additions"`
	Deletions       int               `json:"deletions" db:"deletions"`
	FilesChanged    int               `json:"files_changed" db:"files_changed"`
	CommitsCount    int               `json:"commits_count" db:"commits_count"`
	RemoteCreatedAt time.Time         `json:"remote_created_at" db:"remote_created_at"`
	RemoteUpdatedAt time.Time         `json:"remote_updated_at" db:"remote_updated_at"`
	MergedAt        *time.Time        `json:"merged_at,omitempty" db:"merged_at"`
	CreatedAt       time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at" db:"updated_at"`
}

// CachedResult is a memoized analytics output. cache_key is unique; an
// expired entry is logically absent and must never be served.
type CachedResult struct {
	ID           int64     `json:"id" db:"id"`
	CacheKey     string    `json:"cache_key" db:"cache_key"`
	MetricType   string    `json:"metric_type" db:"metric_type"`
	RepositoryID *int64    `json:"repository_id,omitempty" db:"repository_id"`
	AccountID    *int64    `json:"account_id,omitempty" db:"account_id"`
	Payload      []byte    `json:"payload" db:"payload"`
	ExpiresAt    time.Time `json:"expires_at" db:"expires_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// RepositorySyncState summarizes a repository's local data and sync position.
type RepositorySyncState struct {
	RepositoryID      int64      `json:"repository_id"`
	CommitCount       int        `json:"commit_count"`
	MergeRequestCount int        `json:"merge_request_count"`
	LatestCommitDate  *time.Time `json:"latest_commit_date,omitempty"`
	LatestMRDate      *time.Time `json:"latest_mr_date,omitempty"`
}
