package platform

import (
	"context"
	"net/http"
	"time"

	"gitmetrics-service/internal/errors"
)

// Repository is the normalized shape of a remote project record.
type Repository struct {
	RemoteID    string    `json:"remote_id"`
	Name        string    `json:"name"`
	FullName    string    `json:"full_name"`
	Description string    `json:"description"`
	URL         string    `json:"url"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Commit is the normalized shape of a remote commit record.
type Commit struct {
	Hash         string    `json:"hash"`
	AuthorName   string    `json:"author_name"`
	AuthorEmail  string    `json:"author_email"`
	Message      string    `json:"message"`
	Additions    int       `json:"additions"`
	Deletions    int       `json:"deletions"`
	FilesChanged int       `json:"files_changed"`
	AuthoredAt   time.Time `json:"authored_at"`
}

// MergeRequest is the normalized shape of a remote merge request record.
type MergeRequest struct {
	IID          string     `json:"iid"`
	Title        string     `json:"title"`
	Description  string     `json:"description"`
	AuthorName   string     `json:"author_name"`
	AuthorEmail  string     `json:"author_email"`
	SourceBranch string     `json:"source_branch"`
	TargetBranch string     `json:"target_branch"`
	State        string     `json:"state"`
	Additions    int        `json:"additions"`
	Deletions    int        `json:"deletions"`
	FilesChanged int        `json:"files_changed"`
	CommitsCount int        `json:"commits_count"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	MergedAt     *time.Time `json:"merged_at,omitempty"`
}

// FetchOptions controls pagination and date filtering for fetch calls.
// Zero Since/Until means unbounded on that side.
type FetchOptions struct {
	Since   time.Time
	Until   time.Time
	Page    int
	PerPage int
}

// ConnectionStatus is the result of a connectivity probe. Ordinary auth
// failure is reported here, not as an error.
type ConnectionStatus struct {
	OK        bool   `json:"ok"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// Adapter normalizes one hosting platform's API. Every call classifies
// failures per classifyStatus so the sync engine can apply a uniform retry
// policy without platform-specific knowledge.
type Adapter interface {
	Platform() string
	TestConnection(ctx context.Context) ConnectionStatus
	ListRepositories(ctx context.Context) ([]Repository, error)
	FetchCommits(ctx context.Context, remoteRepoID string, opts FetchOptions) ([]Commit, error)
	FetchMergeRequests(ctx context.Context, remoteRepoID, state string, opts FetchOptions) ([]MergeRequest, error)
}

// classifyStatus maps an HTTP status to the error taxonomy.
// 401/403 auth (non-retryable), 404 not-found (non-retryable),
// 429 rate limit (retryable), 5xx transient (retryable).
func classifyStatus(status int) (sentinel error, retryable bool) {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return errors.ErrAuth, false
	case status == http.StatusNotFound:
		return errors.ErrNotFound, false
	case status == http.StatusTooManyRequests:
		return errors.ErrRateLimit, true
	case status >= 500:
		return errors.ErrTransient, true
	default:
		return errors.ErrTransient, false
	}
}
