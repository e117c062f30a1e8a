package analytics

import (
	"fmt"
	"math"
	"time"

	"gitmetrics-service/internal/models"
)

// Weights are the relative contributions of the five efficiency
// sub-scores. They must sum to 1.
type Weights struct {
	CommitFrequency   float64 `json:"commit_frequency"`
	CodeQuality       float64 `json:"code_quality"`
	MergeRequestRatio float64 `json:"merge_request_ratio"`
	Consistency       float64 `json:"consistency"`
	Collaboration     float64 `json:"collaboration"`
}

// DefaultWeights returns the standard weighting.
func DefaultWeights() Weights {
	return Weights{
		CommitFrequency:   0.25,
		CodeQuality:       0.20,
		MergeRequestRatio: 0.15,
		Consistency:       0.20,
		Collaboration:     0.20,
	}
}

// Validate checks that every weight is in [0, 1] and they sum to 1,
// within a small tolerance.
func (w Weights) Validate() error {
	for name, v := range map[string]float64{
		"commit_frequency":    w.CommitFrequency,
		"code_quality":        w.CodeQuality,
		"merge_request_ratio": w.MergeRequestRatio,
		"consistency":         w.Consistency,
		"collaboration":       w.Collaboration,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("weight %s must be between 0 and 1", name)
		}
	}
	sum := w.CommitFrequency + w.CodeQuality + w.MergeRequestRatio + w.Consistency + w.Collaboration
	if math.Abs(sum-1) > 0.01 {
		return fmt.Errorf("weights must sum to 1, got %.3f", sum)
	}
	return nil
}

// SubScores are the five components of the efficiency score, each on
// a 0 to 100 scale.
type SubScores struct {
	CommitFrequency   float64 `json:"commit_frequency"`
	CodeQuality       float64 `json:"code_quality"`
	MergeRequestRatio float64 `json:"merge_request_ratio"`
	Consistency       float64 `json:"consistency"`
	Collaboration     float64 `json:"collaboration"`
}

// ScoreStatistics are the raw figures the sub-scores were derived
// from.
type ScoreStatistics struct {
	TotalCommits       int     `json:"total_commits"`
	TotalMergeRequests int     `json:"total_merge_requests"`
	MergedRequests     int     `json:"merged_requests"`
	ActiveDays         int     `json:"active_days"`
	PeriodDays         int     `json:"period_days"`
	CommitsPerDay      float64 `json:"commits_per_day"`
	AvgCommitSize      float64 `json:"avg_commit_size"`
}

// ScoreResult is the full efficiency assessment for one author over a
// period.
type ScoreResult struct {
	Score           float64         `json:"score"`
	Level           string          `json:"level"`
	SubScores       SubScores       `json:"sub_scores"`
	Weights         Weights         `json:"weights"`
	Statistics      ScoreStatistics `json:"statistics"`
	Recommendations []string        `json:"recommendations"`
	PeriodStart     time.Time       `json:"period_start"`
	PeriodEnd       time.Time       `json:"period_end"`
}

// Efficiency levels, keyed off the weighted score.
const (
	LevelExcellent    = "excellent"
	LevelGood         = "good"
	LevelAverage      = "average"
	LevelBelowAverage = "below_average"
	LevelPoor         = "poor"
	LevelInactive     = "inactive"
)

// commitFrequencyScore rates average commits per day. One commit a day
// or more is full marks; lower rates degrade through fixed bands,
// scaling linearly inside each band.
func commitFrequencyScore(commitsPerDay float64) float64 {
	switch {
	case commitsPerDay >= 1.0:
		return 100
	case commitsPerDay >= 0.5:
		return 80 + (commitsPerDay-0.5)*40
	case commitsPerDay >= 0.2:
		return 60 + (commitsPerDay-0.2)*66.7
	default:
		return commitsPerDay * 300
	}
}

// codeQualityScore rates the average commit size in changed lines.
// Mid-sized commits score best; very small or very large ones are
// penalized.
func codeQualityScore(avgSize float64) float64 {
	switch {
	case avgSize >= 50 && avgSize <= 200:
		return 100
	case (avgSize >= 20 && avgSize < 50) || (avgSize > 200 && avgSize <= 500):
		return 80
	case (avgSize >= 10 && avgSize < 20) || (avgSize > 500 && avgSize <= 1000):
		return 60
	default:
		return 40
	}
}

// mergeRequestRatioScore rates merge requests per commit. Around one
// merge request per five to ten commits is ideal.
func mergeRequestRatioScore(mergeRequests, commits int) float64 {
	if commits == 0 {
		return 0
	}
	ratio := float64(mergeRequests) / float64(commits)
	switch {
	case ratio >= 0.1 && ratio <= 0.2:
		return 100
	case (ratio >= 0.05 && ratio < 0.1) || (ratio > 0.2 && ratio <= 0.3):
		return 80
	case ratio > 0.3:
		return 60
	default:
		return ratio * 500
	}
}

// consistencyScore rates the share of days in the period with at least
// one commit.
func consistencyScore(activeDays, periodDays int) float64 {
	if periodDays == 0 {
		return 0
	}
	ratio := float64(activeDays) / float64(periodDays)
	switch {
	case ratio >= 0.8:
		return 100
	case ratio >= 0.6:
		return 80 + (ratio-0.6)*100
	case ratio >= 0.3:
		return 60 + (ratio-0.3)*66.7
	default:
		return ratio * 200
	}
}

// collaborationScore rates the merge rate of the author's merge
// requests. With no merge requests at all there is nothing to judge,
// so the score is neutral.
func collaborationScore(merged, total int) float64 {
	if total == 0 {
		return 50
	}
	rate := float64(merged) / float64(total)
	switch {
	case rate >= 0.8:
		return 100
	case rate >= 0.6:
		return 80 + (rate-0.6)*100
	case rate >= 0.4:
		return 60 + (rate-0.4)*100
	default:
		return rate * 150
	}
}

func scoreLevel(score float64) string {
	switch {
	case score >= 90:
		return LevelExcellent
	case score >= 75:
		return LevelGood
	case score >= 60:
		return LevelAverage
	case score >= 40:
		return LevelBelowAverage
	default:
		return LevelPoor
	}
}

// recommendationThreshold marks a sub-score as needing attention.
const recommendationThreshold = 70

func buildRecommendations(sub SubScores) []string {
	var recs []string
	if sub.CommitFrequency < recommendationThreshold {
		recs = append(recs, "Commit more regularly; aim for at least one commit per working day.")
	}
	if sub.CodeQuality < recommendationThreshold {
		recs = append(recs, "Keep commits focused; very small or very large changes are harder to review.")
	}
	if sub.MergeRequestRatio < recommendationThreshold {
		recs = append(recs, "Group related commits into merge requests instead of pushing directly.")
	}
	if sub.Consistency < recommendationThreshold {
		recs = append(recs, "Spread work across more days instead of concentrating it in bursts.")
	}
	if sub.Collaboration < recommendationThreshold {
		recs = append(recs, "Follow up on open merge requests; a low merge rate suggests stalled reviews.")
	}
	if len(recs) == 0 {
		recs = append(recs, "Strong contribution pattern across all dimensions; keep it up.")
	}
	return recs
}

func clampScore(v float64) float64 {
	return math.Max(0, math.Min(100, v))
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// ComputeEfficiencyScore derives the weighted efficiency score from an
// author's commits and merge requests inside [start, end). Zero
// commits short-circuit to an inactive assessment.
func ComputeEfficiencyScore(commits []*models.Commit, mrs []*models.MergeRequest, start, end time.Time, weights Weights) *ScoreResult {
	periodDays := int(end.Sub(start).Hours() / 24)
	if periodDays < 1 {
		periodDays = 1
	}

	result := &ScoreResult{
		Weights:     weights,
		PeriodStart: start,
		PeriodEnd:   end,
		Statistics: ScoreStatistics{
			TotalCommits:       len(commits),
			TotalMergeRequests: len(mrs),
			PeriodDays:         periodDays,
		},
	}

	if len(commits) == 0 {
		result.Level = LevelInactive
		result.Recommendations = []string{"No commit activity in this period."}
		return result
	}

	totalLines := 0
	activeDays := make(map[string]struct{})
	for _, c := range commits {
		totalLines += c.TotalChanges()
		activeDays[c.CommitDate.UTC().Format("2006-01-02")] = struct{}{}
	}
	merged := 0
	for _, mr := range mrs {
		if mr.State == models.MRStateMerged {
			merged++
		}
	}

	stats := &result.Statistics
	stats.MergedRequests = merged
	stats.ActiveDays = len(activeDays)
	stats.CommitsPerDay = float64(len(commits)) / float64(periodDays)
	stats.AvgCommitSize = float64(totalLines) / float64(len(commits))

	sub := SubScores{
		CommitFrequency:   clampScore(commitFrequencyScore(stats.CommitsPerDay)),
		CodeQuality:       clampScore(codeQualityScore(stats.AvgCommitSize)),
		MergeRequestRatio: clampScore(mergeRequestRatioScore(len(mrs), len(commits))),
		Consistency:       clampScore(consistencyScore(stats.ActiveDays, periodDays)),
		Collaboration:     clampScore(collaborationScore(merged, len(mrs))),
	}
	result.SubScores = sub

	weighted := sub.CommitFrequency*weights.CommitFrequency +
		sub.CodeQuality*weights.CodeQuality +
		sub.MergeRequestRatio*weights.MergeRequestRatio +
		sub.Consistency*weights.Consistency +
		sub.Collaboration*weights.Collaboration

	result.Score = round1(clampScore(weighted))
	result.Level = scoreLevel(result.Score)
	result.Recommendations = buildRecommendations(sub)
	return result
}
