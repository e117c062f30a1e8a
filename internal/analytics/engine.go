// Package analytics derives productivity metrics from stored commit
// and merge request activity. The computations here are pure; the
// service layer handles loading, caching, and validation.
package analytics

import (
	"fmt"
	"sort"
	"time"

	apperrors "gitmetrics-service/internal/errors"
	"gitmetrics-service/internal/models"
)

// Overview is the headline activity summary for a set of repositories
// over a period.
type Overview struct {
	Repositories   int       `json:"repositories"`
	Commits        int       `json:"commits"`
	MergeRequests  int       `json:"merge_requests"`
	ActiveAuthors  int       `json:"active_authors"`
	Additions      int       `json:"additions"`
	Deletions      int       `json:"deletions"`
	NetChange      int       `json:"net_change"`
	AvgCommitSize  float64   `json:"avg_commit_size"`
	MergedRequests int       `json:"merged_requests"`
	PeriodStart    time.Time `json:"period_start"`
	PeriodEnd      time.Time `json:"period_end"`
}

// ComputeOverview aggregates the headline numbers.
func ComputeOverview(repoCount int, commits []*models.Commit, mrs []*models.MergeRequest, start, end time.Time) *Overview {
	o := &Overview{
		Repositories:  repoCount,
		Commits:       len(commits),
		MergeRequests: len(mrs),
		PeriodStart:   start,
		PeriodEnd:     end,
	}

	authors := make(map[string]struct{})
	totalLines := 0
	for _, c := range commits {
		o.Additions += c.Additions
		o.Deletions += c.Deletions
		totalLines += c.TotalChanges()
		if c.AuthorEmail != "" {
			authors[c.AuthorEmail] = struct{}{}
		}
	}
	o.NetChange = o.Additions - o.Deletions
	o.ActiveAuthors = len(authors)
	if len(commits) > 0 {
		o.AvgCommitSize = round1(float64(totalLines) / float64(len(commits)))
	}

	for _, mr := range mrs {
		if mr.State == models.MRStateMerged {
			o.MergedRequests++
		}
	}
	return o
}

// Grouping dimensions for commit statistics.
const (
	GroupByHour   = "hour"
	GroupByDay    = "day"
	GroupByWeek   = "week"
	GroupByMonth  = "month"
	GroupByAuthor = "author"
)

// Bucket is one group in a grouped commit statistic. For time
// groupings Key sorts chronologically; for author grouping Key is the
// author email.
type Bucket struct {
	Key          string `json:"key"`
	AuthorName   string `json:"author_name,omitempty"`
	Commits      int    `json:"commits"`
	Additions    int    `json:"additions"`
	Deletions    int    `json:"deletions"`
	FilesChanged int    `json:"files_changed"`
	TotalChanges int    `json:"total_changes"`
}

func timeBucketKey(t time.Time, groupBy string) string {
	t = t.UTC()
	switch groupBy {
	case GroupByHour:
		return t.Format("2006-01-02 15")
	case GroupByDay:
		return t.Format("2006-01-02")
	case GroupByWeek:
		year, week := t.ISOWeek()
		return fmt.Sprintf("%04d-W%02d", year, week)
	case GroupByMonth:
		return t.Format("2006-01")
	}
	return ""
}

// nextBucketStart steps a bucket-aligned time forward one bucket.
func nextBucketStart(t time.Time, groupBy string) time.Time {
	switch groupBy {
	case GroupByDay:
		return t.AddDate(0, 0, 1)
	case GroupByWeek:
		return t.AddDate(0, 0, 7)
	case GroupByMonth:
		return t.AddDate(0, 1, 0)
	}
	return t
}

// alignBucketStart floors a time onto its bucket boundary.
func alignBucketStart(t time.Time, groupBy string) time.Time {
	t = t.UTC()
	switch groupBy {
	case GroupByDay:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	case GroupByWeek:
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		// Back up to Monday, the ISO week start.
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset)
	case GroupByMonth:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	}
	return t
}

// GroupCommits buckets commits along one dimension. Time groupings for
// day, week and month include zero buckets across [start, end) so
// charts render gaps honestly; hourly grouping reports only observed
// hours. Author buckets are ordered by commit count descending, ties
// by email ascending.
func GroupCommits(commits []*models.Commit, groupBy string, start, end time.Time) ([]Bucket, error) {
	switch groupBy {
	case GroupByHour, GroupByDay, GroupByWeek, GroupByMonth:
		return groupCommitsByTime(commits, groupBy, start, end), nil
	case GroupByAuthor:
		return groupCommitsByAuthor(commits), nil
	default:
		return nil, fmt.Errorf("%w: unsupported group_by %q", apperrors.ErrValidation, groupBy)
	}
}

func groupCommitsByTime(commits []*models.Commit, groupBy string, start, end time.Time) []Bucket {
	byKey := make(map[string]*Bucket)

	if groupBy != GroupByHour && !start.IsZero() && start.Before(end) {
		for t := alignBucketStart(start, groupBy); t.Before(end); t = nextBucketStart(t, groupBy) {
			key := timeBucketKey(t, groupBy)
			byKey[key] = &Bucket{Key: key}
		}
	}

	for _, c := range commits {
		key := timeBucketKey(c.CommitDate, groupBy)
		b, ok := byKey[key]
		if !ok {
			b = &Bucket{Key: key}
			byKey[key] = b
		}
		b.Commits++
		b.Additions += c.Additions
		b.Deletions += c.Deletions
		b.FilesChanged += c.FilesChanged
		b.TotalChanges += c.TotalChanges()
	}

	buckets := make([]Bucket, 0, len(byKey))
	for _, b := range byKey {
		buckets = append(buckets, *b)
	}
	sort.Slice(buckets, func(i, j int) bool { return buckets[i].Key < buckets[j].Key })
	return buckets
}

func groupCommitsByAuthor(commits []*models.Commit) []Bucket {
	byAuthor := make(map[string]*Bucket)
	for _, c := range commits {
		email := c.AuthorEmail
		if email == "" {
			email = "unknown"
		}
		b, ok := byAuthor[email]
		if !ok {
			b = &Bucket{Key: email, AuthorName: c.AuthorName}
			byAuthor[email] = b
		}
		b.Commits++
		b.Additions += c.Additions
		b.Deletions += c.Deletions
		b.FilesChanged += c.FilesChanged
		b.TotalChanges += c.TotalChanges()
	}

	buckets := make([]Bucket, 0, len(byAuthor))
	for _, b := range byAuthor {
		buckets = append(buckets, *b)
	}
	sort.Slice(buckets, func(i, j int) bool {
		if buckets[i].Commits != buckets[j].Commits {
			return buckets[i].Commits > buckets[j].Commits
		}
		return buckets[i].Key < buckets[j].Key
	})
	return buckets
}

// StateBucket is one merge request state group.
type StateBucket struct {
	State      string  `json:"state"`
	Count      int     `json:"count"`
	Additions  int     `json:"additions"`
	Deletions  int     `json:"deletions"`
	AvgCommits float64 `json:"avg_commits"`
}

// GroupMergeRequestsByState buckets merge requests per state. States
// outside the known lifecycle land in an "unknown" bucket rather than
// being dropped.
func GroupMergeRequestsByState(mrs []*models.MergeRequest) []StateBucket {
	known := map[models.MergeRequestState]bool{
		models.MRStateOpened: true,
		models.MRStateMerged: true,
		models.MRStateClosed: true,
	}

	type acc struct {
		count, additions, deletions, commits int
	}
	byState := make(map[string]*acc)
	for _, mr := range mrs {
		state := string(mr.State)
		if !known[mr.State] {
			state = "unknown"
		}
		a, ok := byState[state]
		if !ok {
			a = &acc{}
			byState[state] = a
		}
		a.count++
		a.additions += mr.Additions
		a.deletions += mr.Deletions
		a.commits += mr.CommitsCount
	}

	order := []string{"opened", "merged", "closed", "unknown"}
	var buckets []StateBucket
	for _, state := range order {
		a, ok := byState[state]
		if !ok {
			continue
		}
		b := StateBucket{
			State:     state,
			Count:     a.count,
			Additions: a.additions,
			Deletions: a.deletions,
		}
		if a.count > 0 {
			b.AvgCommits = round1(float64(a.commits) / float64(a.count))
		}
		buckets = append(buckets, b)
	}
	return buckets
}

// MergeTimeStats describe how long merged requests stayed open, from
// remote creation to merge.
type MergeTimeStats struct {
	MergedCount int     `json:"merged_count"`
	AvgHours    float64 `json:"avg_hours"`
	MedianHours float64 `json:"median_hours"`
	MinHours    float64 `json:"min_hours"`
	MaxHours    float64 `json:"max_hours"`
}

// ComputeMergeTimeStats summarizes time-to-merge over the merged
// subset. Requests without a merge timestamp are ignored.
func ComputeMergeTimeStats(mrs []*models.MergeRequest) *MergeTimeStats {
	var durations []float64
	for _, mr := range mrs {
		if mr.State != models.MRStateMerged || mr.MergedAt == nil {
			continue
		}
		hours := mr.MergedAt.Sub(mr.RemoteCreatedAt).Hours()
		if hours < 0 {
			continue
		}
		durations = append(durations, hours)
	}

	stats := &MergeTimeStats{MergedCount: len(durations)}
	if len(durations) == 0 {
		return stats
	}

	sort.Float64s(durations)
	total := 0.0
	for _, d := range durations {
		total += d
	}
	stats.AvgHours = round1(total / float64(len(durations)))
	stats.MinHours = round1(durations[0])
	stats.MaxHours = round1(durations[len(durations)-1])

	mid := len(durations) / 2
	if len(durations)%2 == 0 {
		stats.MedianHours = round1((durations[mid-1] + durations[mid]) / 2)
	} else {
		stats.MedianHours = round1(durations[mid])
	}
	return stats
}
