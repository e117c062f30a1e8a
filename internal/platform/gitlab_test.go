package platform

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"gitmetrics-service/internal/errors"
)

func newTestClient(server *httptest.Server) *GitLabClient {
	return &GitLabClient{
		httpClient: server.Client(),
		baseURL:    server.URL,
		token:      "test-token",
		rateLimit: RateLimitInfo{
			Remaining: 2000,
			Reset:     time.Now().Add(time.Minute),
			Limit:     2000,
		},
	}
}

func TestFetchCommits(t *testing.T) {
	t.Run("successful request", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != "GET" {
				t.Errorf("Expected 'GET' request, got '%s'", r.Method)
			}
			if r.URL.Path != "/projects/42/repository/commits" {
				t.Errorf("Expected commits path, got '%s'", r.URL.Path)
			}
			if r.Header.Get("PRIVATE-TOKEN") != "test-token" {
				t.Errorf("Expected PRIVATE-TOKEN header, got '%s'", r.Header.Get("PRIVATE-TOKEN"))
			}

			q := r.URL.Query()
			if q.Get("with_stats") != "true" {
				t.Errorf("Expected with_stats=true, got '%s'", q.Get("with_stats"))
			}
			if q.Get("page") != "2" {
				t.Errorf("Expected page=2, got '%s'", q.Get("page"))
			}
			if q.Get("per_page") != "100" {
				t.Errorf("Expected per_page=100, got '%s'", q.Get("per_page"))
			}
			if q.Get("since") == "" || q.Get("until") == "" {
				t.Error("Expected since and until to be set")
			}

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`[
				{
					"id": "abc123",
					"message": "Fix pagination",
					"author_name": "Dev One",
					"author_email": "dev1@example.com",
					"authored_date": "2024-03-01T10:00:00Z",
					"stats": {"additions": 12, "deletions": 3, "files_changed": 2}
				}
			]`))
		}))
		defer server.Close()

		client := newTestClient(server)
		commits, err := client.FetchCommits(context.Background(), "42", FetchOptions{
			Since:   time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
			Until:   time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC),
			Page:    2,
			PerPage: 100,
		})
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}

		if len(commits) != 1 {
			t.Fatalf("Expected 1 commit, got %d", len(commits))
		}
		if commits[0].Hash != "abc123" {
			t.Errorf("Expected hash 'abc123', got '%s'", commits[0].Hash)
		}
		if commits[0].AuthorEmail != "dev1@example.com" {
			t.Errorf("Expected author email 'dev1@example.com', got '%s'", commits[0].AuthorEmail)
		}
		if commits[0].Additions != 12 || commits[0].Deletions != 3 {
			t.Errorf("Expected stats 12/3, got %d/%d", commits[0].Additions, commits[0].Deletions)
		}
	})

	t.Run("auth failure is not retryable", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer server.Close()

		client := newTestClient(server)
		_, err := client.FetchCommits(context.Background(), "42", FetchOptions{Page: 1, PerPage: 100})
		if err == nil {
			t.Fatal("Expected an error")
		}
		if !errors.Is(err, errors.ErrAuth) {
			t.Errorf("Expected auth error, got %v", err)
		}
		if errors.IsRetryable(err) {
			t.Error("Expected non-retryable error")
		}
	})

	t.Run("rate limit is retryable with wait hint", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("RateLimit-Remaining", "0")
			w.Header().Set("Retry-After", "30")
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		defer server.Close()

		client := newTestClient(server)
		_, err := client.FetchCommits(context.Background(), "42", FetchOptions{Page: 1, PerPage: 100})
		if err == nil {
			t.Fatal("Expected an error")
		}
		if !errors.Is(err, errors.ErrRateLimit) {
			t.Errorf("Expected rate limit error, got %v", err)
		}
		if !errors.IsRetryable(err) {
			t.Error("Expected retryable error")
		}

		wait := client.RetryAfter()
		if wait <= 0 || wait > 30*time.Second {
			t.Errorf("Expected wait hint up to 30s, got %v", wait)
		}
	})

	t.Run("server error is retryable", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer server.Close()

		client := newTestClient(server)
		_, err := client.FetchCommits(context.Background(), "42", FetchOptions{Page: 1, PerPage: 100})
		if err == nil {
			t.Fatal("Expected an error")
		}
		if !errors.Is(err, errors.ErrTransient) {
			t.Errorf("Expected transient error, got %v", err)
		}
		if !errors.IsRetryable(err) {
			t.Error("Expected retryable error")
		}
	})
}

func TestFetchMergeRequests(t *testing.T) {
	t.Run("client-side date filtering", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/projects/42/merge_requests" {
				t.Errorf("Expected merge requests path, got '%s'", r.URL.Path)
			}

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`[
				{
					"iid": 7,
					"title": "In window",
					"state": "merged",
					"author": {"name": "Dev One", "email": "dev1@example.com"},
					"changes_count": "3",
					"created_at": "2024-03-01T10:00:00Z",
					"updated_at": "2024-03-02T10:00:00Z",
					"merged_at": "2024-03-02T10:00:00Z"
				},
				{
					"iid": 6,
					"title": "Before window",
					"state": "closed",
					"author": {"name": "Dev One", "email": "dev1@example.com"},
					"created_at": "2024-01-01T10:00:00Z",
					"updated_at": "2024-01-02T10:00:00Z"
				}
			]`))
		}))
		defer server.Close()

		client := newTestClient(server)
		mrs, err := client.FetchMergeRequests(context.Background(), "42", "all", FetchOptions{
			Since:   time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
			Page:    1,
			PerPage: 100,
		})
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}

		if len(mrs) != 1 {
			t.Fatalf("Expected 1 merge request after filtering, got %d", len(mrs))
		}
		if mrs[0].IID != "7" {
			t.Errorf("Expected iid '7', got '%s'", mrs[0].IID)
		}
		if mrs[0].FilesChanged != 3 {
			t.Errorf("Expected 3 files changed, got %d", mrs[0].FilesChanged)
		}
		if mrs[0].MergedAt == nil {
			t.Error("Expected merged_at to be set")
		}
	})
}

func TestListRepositories(t *testing.T) {
	t.Run("pages through all projects", func(t *testing.T) {
		pages := 0
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			pages++
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			if r.URL.Query().Get("page") == "1" {
				projects := "["
				for i := 0; i < 100; i++ {
					if i > 0 {
						projects += ","
					}
					projects += fmt.Sprintf(`{"id": %d, "name": "repo-%d", "path_with_namespace": "team/repo-%d", "web_url": "https://git.example.com/team/repo-%d"}`, i+1, i, i, i)
				}
				w.Write([]byte(projects + "]"))
				return
			}
			w.Write([]byte(`[{"id": 101, "name": "last", "path_with_namespace": "team/last", "web_url": "https://git.example.com/team/last"}]`))
		}))
		defer server.Close()

		client := newTestClient(server)
		repos, err := client.ListRepositories(context.Background())
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}

		if pages != 2 {
			t.Errorf("Expected 2 page requests, got %d", pages)
		}
		if len(repos) != 101 {
			t.Errorf("Expected 101 repositories, got %d", len(repos))
		}
		if repos[100].RemoteID != "101" {
			t.Errorf("Expected remote id '101', got '%s'", repos[100].RemoteID)
		}
	})
}

func TestConnectionProbe(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantOK    bool
		retryable bool
	}{
		{"healthy", http.StatusOK, true, false},
		{"bad token", http.StatusUnauthorized, false, false},
		{"missing permission", http.StatusForbidden, false, false},
		{"rate limited", http.StatusTooManyRequests, false, true},
		{"server error", http.StatusInternalServerError, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			client := newTestClient(server)
			status := client.TestConnection(context.Background())
			if status.OK != tt.wantOK {
				t.Errorf("Expected OK=%v, got %v (%s)", tt.wantOK, status.OK, status.Message)
			}
			if status.Retryable != tt.retryable {
				t.Errorf("Expected Retryable=%v, got %v", tt.retryable, status.Retryable)
			}
		})
	}
}

func TestRateLimitTracking(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("RateLimit-Remaining", "7")
		w.Header().Set("RateLimit-Limit", "2000")
		w.Header().Set("RateLimit-Reset", fmt.Sprintf("%d", time.Now().Add(time.Minute).Unix()))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`[]`))
	}))
	defer server.Close()

	client := newTestClient(server)
	if _, err := client.FetchCommits(context.Background(), "42", FetchOptions{Page: 1, PerPage: 100}); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	info := client.GetRateLimitInfo()
	if info.Remaining != 7 {
		t.Errorf("Expected remaining 7, got %d", info.Remaining)
	}
	if info.Limit != 2000 {
		t.Errorf("Expected limit 2000, got %d", info.Limit)
	}
	if client.RetryAfter() != 0 {
		t.Errorf("Expected no wait while quota remains, got %v", client.RetryAfter())
	}
}
