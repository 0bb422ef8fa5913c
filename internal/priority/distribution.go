package priority

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/zulandar/mailroom/internal/models"
)

// Distribution summarises how priorities are spread across a message set.
type Distribution struct {
	Scope           string             `json:"scope"`
	TotalMessages   int                `json:"total_messages"`
	TotalUnread     int                `json:"total_unread"`
	Counts          map[string]int     `json:"priority_distribution"`
	UnreadCounts    map[string]int     `json:"unread_priority_distribution"`
	Percentages     map[string]float64 `json:"priority_percentages"`
	AverageAgeHours map[string]float64 `json:"average_age_by_priority"`
	MaxAgeHours     map[string]float64 `json:"max_age_by_priority"`
	Recommendations []string           `json:"recommendations"`
	Optimizations   []Optimization     `json:"optimization_opportunities"`
}

// Optimization is one suggested corrective action.
type Optimization struct {
	Type              string  `json:"type"`
	Priority          string  `json:"priority,omitempty"`
	StaleCount        int     `json:"stale_count,omitempty"`
	MaxAgeHours       float64 `json:"max_age_threshold,omitempty"`
	EscalateTo        string  `json:"escalate_to,omitempty"`
	UnreadCount       int     `json:"unread_count,omitempty"`
	RecommendedAction string  `json:"recommended_action"`
}

// Analyze builds a Distribution for msgs as of now.
func Analyze(msgs []models.Message, now time.Time) *Distribution {
	d := &Distribution{
		Counts:          map[string]int{},
		UnreadCounts:    map[string]int{},
		Percentages:     map[string]float64{},
		AverageAgeHours: map[string]float64{},
		MaxAgeHours:     map[string]float64{},
		TotalMessages:   len(msgs),
	}
	ages := map[string][]float64{}
	for i := range msgs {
		m := &msgs[i]
		d.Counts[m.Priority]++
		if !m.Read {
			d.UnreadCounts[m.Priority]++
			d.TotalUnread++
		}
		ages[m.Priority] = append(ages[m.Priority], ageHours(m, now))
	}
	for p, n := range d.Counts {
		d.Percentages[p] = round1(float64(n) / float64(d.TotalMessages) * 100)
	}
	for p, list := range ages {
		var sum float64
		for _, a := range list {
			sum += a
		}
		d.AverageAgeHours[p] = round1(sum / float64(len(list)))
		d.MaxAgeHours[p] = round1(maxOf(list))
	}

	d.Recommendations = recommendations(d, ages)
	d.Optimizations = optimizations(d, ages)
	return d
}

func recommendations(d *Distribution, ages map[string][]float64) []string {
	var recs []string
	if d.TotalMessages == 0 {
		return recs
	}
	pct := d.Percentages
	if pct[models.PriorityUrgent] > 20 {
		recs = append(recs, "⚠️ High urgent message percentage - review escalation criteria")
	}
	if pct[models.PriorityLow] > 50 {
		recs = append(recs, "📈 Many low priority messages - consider auto-processing some")
	}
	if pct[models.PriorityNormal] < 30 {
		recs = append(recs, "⚖️ Few normal priority messages - may indicate over-escalation")
	}
	if maxOf(ages[models.PriorityUrgent]) > 4 {
		recs = append(recs, "🚨 Urgent messages older than 4 hours - immediate attention needed")
	}
	if maxOf(ages[models.PriorityHigh]) > 12 {
		recs = append(recs, "⚡ High priority messages older than 12 hours - review required")
	}
	if d.TotalUnread > 50 {
		recs = append(recs, "📊 High unread count - consider summary generation")
	}
	return recs
}

func optimizations(d *Distribution, ages map[string][]float64) []Optimization {
	var opts []Optimization
	for _, p := range models.Priorities {
		rule, ok := Rules[p]
		if !ok || len(ages[p]) == 0 {
			continue
		}
		stale := 0
		for _, a := range ages[p] {
			if a > rule.MaxAge.Hours() {
				stale++
			}
		}
		if stale == 0 {
			continue
		}
		opts = append(opts, Optimization{
			Type:              "escalate_stale_messages",
			Priority:          p,
			StaleCount:        stale,
			MaxAgeHours:       rule.MaxAge.Hours(),
			EscalateTo:        rule.EscalateTo,
			RecommendedAction: fmt.Sprintf("Escalate %d %s messages to %s", stale, p, rule.EscalateTo),
		})
	}
	if d.TotalMessages > 20 {
		opts = append(opts, Optimization{
			Type:              "content_based_reprioritization",
			RecommendedAction: "Run content analysis to optimize priorities",
		})
	}
	if d.TotalUnread > 30 {
		opts = append(opts, Optimization{
			Type:              "workload_redistribution",
			UnreadCount:       d.TotalUnread,
			RecommendedAction: "Consider redistributing messages to less busy agents",
		})
	}
	return opts
}

func maxOf(list []float64) float64 {
	var peak float64
	for _, v := range list {
		peak = math.Max(peak, v)
	}
	return peak
}

// OptimizeReport groups content-based suggestions by confidence.
type OptimizeReport struct {
	Scope            string       `json:"scope"`
	TotalAnalyzed    int          `json:"total_analyzed"`
	Suggestions      []Suggestion `json:"suggestions"`
	HighConfidence   []Suggestion `json:"high_confidence_suggestions"`
	MediumConfidence []Suggestion `json:"medium_confidence_suggestions"`
	LowConfidence    []Suggestion `json:"low_confidence_suggestions"`
}

// Optimize scores every unread message and keeps those whose suggested
// priority differs from the stored one.
func Optimize(msgs []models.Message, now time.Time) *OptimizeReport {
	r := &OptimizeReport{}
	for i := range msgs {
		if msgs[i].Read {
			continue
		}
		r.TotalAnalyzed++
		s := ScoreContent(&msgs[i], now)
		if !s.Changed() {
			continue
		}
		r.Suggestions = append(r.Suggestions, s)
		switch {
		case s.Confidence > 0.8:
			r.HighConfidence = append(r.HighConfidence, s)
		case s.Confidence > 0.5:
			r.MediumConfidence = append(r.MediumConfidence, s)
		default:
			r.LowConfidence = append(r.LowConfidence, s)
		}
	}
	return r
}

// FilterByConfidence keeps suggestions whose confidence reaches threshold.
func FilterByConfidence(suggestions []Suggestion, threshold float64) []Suggestion {
	var out []Suggestion
	for _, s := range suggestions {
		if s.Confidence >= threshold {
			out = append(out, s)
		}
	}
	return out
}

// AnalyticsReport is a day-by-day view of priorities over a window.
type AnalyticsReport struct {
	PeriodDays      int                       `json:"analysis_period_days"`
	TotalAnalyzed   int                       `json:"total_messages_analyzed"`
	Days            []string                  `json:"days"`
	Daily           map[string]map[string]int `json:"daily_priority_breakdown"`
	Overall         map[string]float64        `json:"overall_distribution"`
	DailyAverages   map[string]float64        `json:"daily_averages"`
	Alerts          []string                  `json:"alerts"`
	Recommendations []string                  `json:"recommendations"`
}

// Analytics breaks msgs sent in the last daysBack days down by UTC day.
func Analytics(msgs []models.Message, daysBack int, now time.Time) *AnalyticsReport {
	cutoff := now.Add(-time.Duration(daysBack) * 24 * time.Hour)
	r := &AnalyticsReport{
		PeriodDays:    daysBack,
		Daily:         map[string]map[string]int{},
		Overall:       map[string]float64{},
		DailyAverages: map[string]float64{},
	}
	totals := map[string]int{}
	for i := range msgs {
		m := &msgs[i]
		if m.Timestamp.Before(cutoff) {
			continue
		}
		r.TotalAnalyzed++
		day := m.Timestamp.UTC().Format(time.DateOnly)
		if r.Daily[day] == nil {
			r.Daily[day] = map[string]int{}
			r.Days = append(r.Days, day)
		}
		r.Daily[day][m.Priority]++
		totals[m.Priority]++
	}
	sort.Strings(r.Days)
	if r.TotalAnalyzed == 0 {
		return r
	}

	for p, n := range totals {
		r.Overall[p] = round1(float64(n) / float64(r.TotalAnalyzed) * 100)
		r.DailyAverages[p] = round1(float64(n) / float64(len(r.Days)))
	}
	if u := r.Overall[models.PriorityUrgent]; u > 15 {
		r.Alerts = append(r.Alerts, fmt.Sprintf("High urgent message percentage: %.1f%%", u))
	}
	r.Recommendations = append(r.Recommendations, r.Alerts...)
	if r.Overall[models.PriorityLow] > 40 {
		r.Recommendations = append(r.Recommendations, "📈 Consider auto-processing some low priority messages")
	}
	if r.Overall[models.PriorityNormal] < 20 {
		r.Recommendations = append(r.Recommendations, "⚖️ Low normal priority percentage - review escalation policies")
	}
	return r
}
