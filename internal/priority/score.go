// Package priority scores message content, proposes age-based escalations
// and reports on priority distribution. Nothing here writes to the store.
package priority

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/zulandar/mailroom/internal/classify"
	"github.com/zulandar/mailroom/internal/models"
)

// Suggestion is a content-derived priority for one message.
type Suggestion struct {
	MessageID  string             `json:"message_id"`
	Recipient  string             `json:"recipient"`
	Subject    string             `json:"subject"`
	Current    string             `json:"current_priority"`
	Suggested  string             `json:"suggested_priority"`
	Confidence float64            `json:"confidence"`
	Reason     string             `json:"reason"`
	Scores     map[string]float64 `json:"scores"`
}

// Changed reports whether the suggestion differs from the stored priority.
func (s Suggestion) Changed() bool { return s.Suggested != s.Current }

// ScoreContent suggests a priority for m from its text, structure and age.
func ScoreContent(m *models.Message, now time.Time) Suggestion {
	scores := rawScores(m, now)
	suggested := pick(scores)
	return Suggestion{
		MessageID:  m.ID,
		Recipient:  m.Recipient,
		Subject:    m.Subject,
		Current:    m.Priority,
		Suggested:  suggested,
		Confidence: confidence(m, suggested),
		Reason:     explain(m, suggested, now),
		Scores:     scores,
	}
}

func rawScores(m *models.Message, now time.Time) map[string]float64 {
	content := classify.Content(m)
	scores := make(map[string]float64, len(classify.PriorityKeywords))
	for _, b := range classify.PriorityKeywords {
		var score float64
		for _, kw := range b.Keywords {
			score += float64(strings.Count(content, kw)) * float64(len(kw)) / 5
		}
		scores[b.Name] = score
	}

	if m.IsReply() {
		scores[models.PriorityHigh] += 10
	}
	if len(m.Tags) > 0 {
		scores[models.PriorityNormal] += 5
		if hasUrgentTag(m.Tags) {
			scores[models.PriorityUrgent] += 20
		}
	}

	age := ageHours(m, now)
	switch {
	case age > 48:
		scores[models.PriorityHigh] += 15
	case age > 24:
		scores[models.PriorityNormal] += 10
	}
	return scores
}

// pick returns the single strictly-highest priority. Shared maxima and
// all-zero scores fall back to normal.
func pick(scores map[string]float64) string {
	var best float64
	winner := ""
	tied := false
	for _, p := range models.Priorities {
		s := scores[p]
		switch {
		case s > best:
			best, winner, tied = s, p, false
		case s == best && best > 0:
			tied = true
		}
	}
	if winner == "" || tied {
		return models.PriorityNormal
	}
	return winner
}

func hasUrgentTag(tags []string) bool {
	for _, t := range tags {
		for _, u := range classify.UrgentTags {
			if strings.ToLower(t) == u {
				return true
			}
		}
	}
	return false
}

func confidence(m *models.Message, suggested string) float64 {
	content := classify.Content(m)
	keywords := classify.PriorityKeywords.Get(suggested)
	if len(keywords) == 0 {
		return 0.5
	}
	kc := math.Min(float64(classify.CountFound(content, keywords))/float64(len(keywords)), 1)
	if classify.CountFound(content, classify.StrongIndicators.Get(suggested)) > 0 {
		kc = math.Min(kc+0.3, 1)
	}

	structure := 0.5
	if m.IsReply() && (suggested == models.PriorityHigh || suggested == models.PriorityUrgent) {
		structure += 0.2
	}
	if len(m.Tags) > 0 {
		structure += 0.1
	}
	return math.Min((kc+structure)/2, 1)
}

func explain(m *models.Message, suggested string, now time.Time) string {
	var reasons []string
	found := classify.Found(classify.Content(m), classify.PriorityKeywords.Get(suggested))
	if len(found) > 3 {
		found = found[:3]
	}
	if len(found) > 0 {
		reasons = append(reasons, fmt.Sprintf("Contains %s keywords: %s", suggested, strings.Join(found, ", ")))
	}
	if m.IsReply() {
		reasons = append(reasons, "Part of ongoing conversation thread")
	}
	var flagged []string
	for _, t := range m.Tags {
		switch strings.ToLower(t) {
		case "urgent", "critical", "emergency":
			flagged = append(flagged, t)
		}
	}
	if len(flagged) > 0 {
		reasons = append(reasons, "Tagged with priority indicators: "+strings.Join(flagged, ", "))
	}
	if age := ageHours(m, now); age > 24 {
		reasons = append(reasons, fmt.Sprintf("Message is %.1f hours old", age))
	}
	if len(reasons) == 0 {
		return "Content analysis based on message structure"
	}
	return strings.Join(reasons, "; ")
}

func ageHours(m *models.Message, now time.Time) float64 {
	return m.Age(now).Hours()
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
