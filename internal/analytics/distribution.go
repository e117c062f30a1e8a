package analytics

import (
	"fmt"
	"time"

	apperrors "gitmetrics-service/internal/errors"
)

// Distribution dimensions.
const (
	DimensionHourOfDay = "hour_of_day"
	DimensionWeekday   = "weekday"
	DimensionMonth     = "month"
)

// DistributionBucket is one slot of a time distribution. Index orders
// the buckets (0-23 for hours, 0-6 for weekdays starting Monday,
// 0-11 for months).
type DistributionBucket struct {
	Index int    `json:"index"`
	Label string `json:"label"`
	Count int    `json:"count"`
}

// Distribution shows when in the day, week or year activity happens.
type Distribution struct {
	Dimension  string               `json:"dimension"`
	Buckets    []DistributionBucket `json:"buckets"`
	Peak       *DistributionBucket  `json:"peak,omitempty"`
	Total      int                  `json:"total"`
	ActiveDays int                  `json:"active_days"`
	AvgPerDay  float64              `json:"avg_per_day"`
	Insights   []string             `json:"insights"`
}

var weekdayLabels = []string{
	"Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday",
}

var monthLabels = []string{
	"January", "February", "March", "April", "May", "June",
	"July", "August", "September", "October", "November", "December",
}

// ComputeDistribution buckets event timestamps by hour of day, weekday
// or month. Every slot is present even when empty; the peak is the
// fullest slot, ties broken by the earlier one.
func ComputeDistribution(events []time.Time, dimension string, start, end time.Time) (*Distribution, error) {
	var buckets []DistributionBucket
	switch dimension {
	case DimensionHourOfDay:
		buckets = make([]DistributionBucket, 24)
		for i := range buckets {
			buckets[i] = DistributionBucket{Index: i, Label: fmt.Sprintf("%02d:00", i)}
		}
	case DimensionWeekday:
		buckets = make([]DistributionBucket, 7)
		for i := range buckets {
			buckets[i] = DistributionBucket{Index: i, Label: weekdayLabels[i]}
		}
	case DimensionMonth:
		buckets = make([]DistributionBucket, 12)
		for i := range buckets {
			buckets[i] = DistributionBucket{Index: i, Label: monthLabels[i]}
		}
	default:
		return nil, fmt.Errorf("%w: unsupported dimension %q", apperrors.ErrValidation, dimension)
	}

	activeDays := make(map[string]struct{})
	for _, et := range events {
		t := et.UTC()
		activeDays[t.Format("2006-01-02")] = struct{}{}
		switch dimension {
		case DimensionHourOfDay:
			buckets[t.Hour()].Count++
		case DimensionWeekday:
			buckets[(int(t.Weekday())+6)%7].Count++
		case DimensionMonth:
			buckets[int(t.Month())-1].Count++
		}
	}

	dist := &Distribution{
		Dimension:  dimension,
		Buckets:    buckets,
		Total:      len(events),
		ActiveDays: len(activeDays),
	}

	periodDays := int(end.Sub(start).Hours() / 24)
	if periodDays < 1 {
		periodDays = 1
	}
	dist.AvgPerDay = round1(float64(len(events)) / float64(periodDays))

	if len(events) > 0 {
		peak := buckets[0]
		for _, b := range buckets[1:] {
			if b.Count > peak.Count {
				peak = b
			}
		}
		dist.Peak = &peak
	}

	dist.Insights = distributionInsights(dist, dimension)
	return dist, nil
}

func distributionInsights(dist *Distribution, dimension string) []string {
	if dist.Total == 0 {
		return []string{"No activity in this period."}
	}

	var insights []string
	switch dimension {
	case DimensionHourOfDay:
		insights = append(insights,
			fmt.Sprintf("Most activity lands around %s.", dist.Peak.Label))
		late := 0
		for _, b := range dist.Buckets {
			if b.Index >= 22 || b.Index < 6 {
				late += b.Count
			}
		}
		if share := float64(late) / float64(dist.Total); share > 0.3 {
			insights = append(insights,
				fmt.Sprintf("%.0f%% of activity happens late at night.", share*100))
		}
	case DimensionWeekday:
		insights = append(insights,
			fmt.Sprintf("%s is the most active day.", dist.Peak.Label))
		weekend := dist.Buckets[5].Count + dist.Buckets[6].Count
		if share := float64(weekend) / float64(dist.Total); share > 0.25 {
			insights = append(insights,
				fmt.Sprintf("%.0f%% of activity happens on weekends.", share*100))
		}
	case DimensionMonth:
		insights = append(insights,
			fmt.Sprintf("%s is the most active month.", dist.Peak.Label))
	}
	return insights
}
