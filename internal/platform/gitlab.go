package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"gitmetrics-service/internal/errors"
)

const gitlabPlatform = "gitlab"

// RateLimitInfo stores the platform's rate limit information
type RateLimitInfo struct {
	Remaining int
	Reset     time.Time
	Limit     int
}

// GitLabClient implements Adapter against a GitLab-compatible REST API
// (api/v4 pagination and endpoint shapes).
type GitLabClient struct {
	httpClient *http.Client
	baseURL    string
	token      string

	// Rate limiting
	rateLimitMu sync.RWMutex
	rateLimit   RateLimitInfo
}

// NewGitLabClient creates a new adapter for a GitLab-compatible host.
// baseURL is the API root, e.g. https://gitlab.example.com/api/v4.
func NewGitLabClient(baseURL, token string, timeout time.Duration) *GitLabClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &GitLabClient{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL: baseURL,
		token:   token,
		rateLimit: RateLimitInfo{
			Remaining: 2000,
			Reset:     time.Now().Add(time.Minute),
			Limit:     2000,
		},
	}
}

// Platform returns the platform identifier for registry resolution
func (c *GitLabClient) Platform() string {
	return gitlabPlatform
}

// gitlabProject is the wire shape of a project record
type gitlabProject struct {
	ID             int64     `json:"id"`
	Name           string    `json:"name"`
	PathWithNS     string    `json:"path_with_namespace"`
	Description    string    `json:"description"`
	WebURL         string    `json:"web_url"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// gitlabCommit is the wire shape of a commit record
type gitlabCommit struct {
	ID          string    `json:"id"`
	Message     string    `json:"message"`
	AuthorName  string    `json:"author_name"`
	AuthorEmail string    `json:"author_email"`
	AuthoredAt  time.Time `json:"authored_date"`
	Stats       struct {
		Additions    int `json:"additions"`
		Deletions    int `json:"deletions"`
		FilesChanged int `json:"files_changed"`
	} `json:"stats"`
}

// gitlabMergeRequest is the wire shape of a merge request record
type gitlabMergeRequest struct {
	IID          int64  `json:"iid"`
	Title        string `json:"title"`
	Description  string `json:"description"`
	State        string `json:"state"`
	SourceBranch string `json:"source_branch"`
	TargetBranch string `json:"target_branch"`
	Author       struct {
		Name  string `json:"name"`
		Email string `json:"email"`
	} `json:"author"`
	ChangesCount string     `json:"changes_count"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	MergedAt     *time.Time `json:"merged_at"`
	Additions    int        `json:"additions"`
	Deletions    int        `json:"deletions"`
	CommitsCount int        `json:"commits_count"`
}

// TestConnection performs a minimal authenticated call. Auth failures are
// reported in the status, never raised as errors.
func (c *GitLabClient) TestConnection(ctx context.Context) ConnectionStatus {
	endpoint := fmt.Sprintf("%s/projects?membership=true&per_page=1", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return ConnectionStatus{OK: false, Message: fmt.Sprintf("building request: %v", err), Retryable: false}
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return ConnectionStatus{OK: false, Message: "network error reaching platform", Retryable: true}
	}
	defer resp.Body.Close()
	c.updateRateLimit(resp)

	switch resp.StatusCode {
	case http.StatusOK:
		return ConnectionStatus{OK: true, Message: "connection successful"}
	case http.StatusUnauthorized:
		return ConnectionStatus{OK: false, Message: "invalid or expired access token", Retryable: false}
	case http.StatusForbidden:
		return ConnectionStatus{OK: false, Message: "token lacks permission for this resource", Retryable: false}
	case http.StatusNotFound:
		return ConnectionStatus{OK: false, Message: "unknown project or organization", Retryable: false}
	case http.StatusTooManyRequests:
		return ConnectionStatus{OK: false, Message: "rate limited, retry later", Retryable: true}
	default:
		return ConnectionStatus{
			OK:        false,
			Message:   fmt.Sprintf("unexpected status %d from platform", resp.StatusCode),
			Retryable: resp.StatusCode >= 500,
		}
	}
}

// ListRepositories pages through all projects visible to the token.
func (c *GitLabClient) ListRepositories(ctx context.Context) ([]Repository, error) {
	var all []Repository
	page := 1
	perPage := 100

	for {
		endpoint := fmt.Sprintf("%s/projects?membership=true&order_by=created_at&sort=desc&page=%d&per_page=%d",
			c.baseURL, page, perPage)

		var projects []gitlabProject
		if err := c.getJSON(ctx, "ListRepositories", endpoint, &projects); err != nil {
			return nil, err
		}

		for _, p := range projects {
			all = append(all, Repository{
				RemoteID:    strconv.FormatInt(p.ID, 10),
				Name:        p.Name,
				FullName:    p.PathWithNS,
				Description: p.Description,
				URL:         p.WebURL,
				CreatedAt:   p.CreatedAt,
				UpdatedAt:   p.LastActivityAt,
			})
		}

		if len(projects) < perPage {
			break
		}
		page++
	}

	return all, nil
}

// FetchCommits returns one page of normalized commits. The platform supports
// server-side since/until filtering, so the filter is pushed down.
func (c *GitLabClient) FetchCommits(ctx context.Context, remoteRepoID string, opts FetchOptions) ([]Commit, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(opts.Page))
	q.Set("per_page", strconv.Itoa(opts.PerPage))
	q.Set("with_stats", "true")
	if !opts.Since.IsZero() {
		q.Set("since", opts.Since.UTC().Format(time.RFC3339))
	}
	if !opts.Until.IsZero() {
		q.Set("until", opts.Until.UTC().Format(time.RFC3339))
	}

	endpoint := fmt.Sprintf("%s/projects/%s/repository/commits?%s", c.baseURL, url.PathEscape(remoteRepoID), q.Encode())

	var raw []gitlabCommit
	if err := c.getJSON(ctx, "FetchCommits", endpoint, &raw); err != nil {
		return nil, err
	}

	commits := make([]Commit, 0, len(raw))
	for _, rc := range raw {
		commits = append(commits, Commit{
			Hash:         rc.ID,
			AuthorName:   rc.AuthorName,
			AuthorEmail:  rc.AuthorEmail,
			Message:      rc.Message,
			Additions:    rc.Stats.Additions,
			Deletions:    rc.Stats.Deletions,
			FilesChanged: rc.Stats.FilesChanged,
			AuthoredAt:   rc.AuthoredAt,
		})
	}
	return commits, nil
}

// FetchMergeRequests returns one page of normalized merge requests. The
// platform has no server-side date filter for merge requests, so since/until
// are applied client-side against the remote creation timestamp.
func (c *GitLabClient) FetchMergeRequests(ctx context.Context, remoteRepoID, state string, opts FetchOptions) ([]MergeRequest, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(opts.Page))
	q.Set("per_page", strconv.Itoa(opts.PerPage))
	q.Set("order_by", "created_at")
	q.Set("sort", "desc")
	if state != "" && state != "all" {
		q.Set("state", state)
	}

	endpoint := fmt.Sprintf("%s/projects/%s/merge_requests?%s", c.baseURL, url.PathEscape(remoteRepoID), q.Encode())

	var raw []gitlabMergeRequest
	if err := c.getJSON(ctx, "FetchMergeRequests", endpoint, &raw); err != nil {
		return nil, err
	}

	mrs := make([]MergeRequest, 0, len(raw))
	for _, rm := range raw {
		if !opts.Since.IsZero() && rm.CreatedAt.Before(opts.Since) {
			continue
		}
		if !opts.Until.IsZero() && rm.CreatedAt.After(opts.Until) {
			continue
		}

		filesChanged := 0
		if n, err := strconv.Atoi(rm.ChangesCount); err == nil {
			filesChanged = n
		}

		mrs = append(mrs, MergeRequest{
			IID:          strconv.FormatInt(rm.IID, 10),
			Title:        rm.Title,
			Description:  rm.Description,
			AuthorName:   rm.Author.Name,
			AuthorEmail:  rm.Author.Email,
			SourceBranch: rm.SourceBranch,
			TargetBranch: rm.TargetBranch,
			State:        rm.State,
			Additions:    rm.Additions,
			Deletions:    rm.Deletions,
			FilesChanged: filesChanged,
			CommitsCount: rm.CommitsCount,
			CreatedAt:    rm.CreatedAt,
			UpdatedAt:    rm.UpdatedAt,
			MergedAt:     rm.MergedAt,
		})
	}
	return mrs, nil
}

// GetRateLimitInfo returns the current rate limit information
func (c *GitLabClient) GetRateLimitInfo() RateLimitInfo {
	c.rateLimitMu.RLock()
	defer c.rateLimitMu.RUnlock()
	return c.rateLimit
}

// getJSON performs a GET request, classifies failures, and decodes the body.
func (c *GitLabClient) getJSON(ctx context.Context, op, endpoint string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return errors.NewAdapterError(gitlabPlatform, op, 0, false, err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Timeouts and connection failures are retryable transients.
		return errors.NewAdapterError(gitlabPlatform, op, 0, true, fmt.Errorf("%w: %v", errors.ErrTransient, err))
	}
	defer resp.Body.Close()

	c.updateRateLimit(resp)

	if resp.StatusCode != http.StatusOK {
		sentinel, retryable := classifyStatus(resp.StatusCode)
		return errors.NewAdapterError(gitlabPlatform, op, resp.StatusCode, retryable,
			fmt.Errorf("%w: unexpected status %d", sentinel, resp.StatusCode))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.NewAdapterError(gitlabPlatform, op, resp.StatusCode, false, fmt.Errorf("decoding response: %w", err))
	}
	return nil
}

// updateRateLimit updates rate limit information from response headers
func (c *GitLabClient) updateRateLimit(resp *http.Response) {
	c.rateLimitMu.Lock()
	defer c.rateLimitMu.Unlock()

	if remaining := resp.Header.Get("RateLimit-Remaining"); remaining != "" {
		if val, err := strconv.Atoi(remaining); err == nil {
			c.rateLimit.Remaining = val
		}
	}

	if reset := resp.Header.Get("RateLimit-Reset"); reset != "" {
		if val, err := strconv.ParseInt(reset, 10, 64); err == nil {
			c.rateLimit.Reset = time.Unix(val, 0)
		}
	}

	if limit := resp.Header.Get("RateLimit-Limit"); limit != "" {
		if val, err := strconv.Atoi(limit); err == nil {
			c.rateLimit.Limit = val
		}
	}

	// 429 responses may carry an explicit wait hint.
	if resp.StatusCode == http.StatusTooManyRequests {
		if after := resp.Header.Get("Retry-After"); after != "" {
			if secs, err := strconv.Atoi(after); err == nil {
				c.rateLimit.Reset = time.Now().Add(time.Duration(secs) * time.Second)
			}
		}
	}
}

// RetryAfter returns how long to wait before the next call when the platform
// has signaled rate limiting, or zero if no wait is needed.
func (c *GitLabClient) RetryAfter() time.Duration {
	c.rateLimitMu.RLock()
	defer c.rateLimitMu.RUnlock()

	if c.rateLimit.Remaining > 0 {
		return 0
	}
	wait := time.Until(c.rateLimit.Reset)
	if wait < 0 {
		return 0
	}
	return wait
}

// setHeaders sets the required headers for platform API requests
func (c *GitLabClient) setHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("PRIVATE-TOKEN", c.token)
	}
}
