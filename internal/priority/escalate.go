package priority

import (
	"math"
	"time"

	"github.com/zulandar/mailroom/internal/models"
)

// Rule says how long a priority may sit unread before it moves up a tier.
type Rule struct {
	MaxAge     time.Duration
	EscalateTo string
	Notify     bool
}

// Rules is the escalation table keyed by current priority.
var Rules = map[string]Rule{
	models.PriorityUrgent: {MaxAge: 2 * time.Hour, EscalateTo: models.PriorityUrgent, Notify: true},
	models.PriorityHigh:   {MaxAge: 8 * time.Hour, EscalateTo: models.PriorityUrgent, Notify: true},
	models.PriorityNormal: {MaxAge: 24 * time.Hour, EscalateTo: models.PriorityHigh},
	models.PriorityLow:    {MaxAge: 72 * time.Hour, EscalateTo: models.PriorityNormal},
}

// EscalationDecision proposes moving one message to a higher tier.
type EscalationDecision struct {
	MessageID      string  `json:"message_id"`
	Recipient      string  `json:"recipient"`
	Sender         string  `json:"sender"`
	Subject        string  `json:"subject"`
	From           string  `json:"current_priority"`
	To             string  `json:"new_priority"`
	AgeHours       float64 `json:"age_hours"`
	Confidence     float64 `json:"confidence"`
	NotifyRequired bool    `json:"notification_required"`
}

// Transition is the "from → to" label used in breakdowns.
func (d EscalationDecision) Transition() string {
	return d.From + " → " + d.To
}

// Escalate proposes escalations for unread messages that have waited longer
// than min(hoursThreshold, rule max age). Urgent mail is never proposed.
// The input is not modified.
func Escalate(msgs []models.Message, hoursThreshold float64, now time.Time) []EscalationDecision {
	var out []EscalationDecision
	for i := range msgs {
		m := &msgs[i]
		if m.Read || m.Priority == models.PriorityUrgent {
			continue
		}
		rule, ok := Rules[m.Priority]
		if !ok {
			continue
		}
		threshold := math.Min(hoursThreshold, rule.MaxAge.Hours())
		age := ageHours(m, now)
		if age <= threshold {
			continue
		}
		out = append(out, EscalationDecision{
			MessageID:      m.ID,
			Recipient:      m.Recipient,
			Sender:         m.Sender,
			Subject:        m.Subject,
			From:           m.Priority,
			To:             rule.EscalateTo,
			AgeHours:       round1(age),
			Confidence:     escalationConfidence(m, age, threshold, rule.EscalateTo),
			NotifyRequired: rule.Notify,
		})
	}
	return out
}

// escalationConfidence blends how far past the threshold the message is
// with how well its content supports the target tier.
func escalationConfidence(m *models.Message, age, threshold float64, to string) float64 {
	overdue := 1.0
	if threshold > 0 {
		overdue = math.Min(age/(2*threshold), 1)
	}
	return round2((overdue + confidence(m, to)) / 2)
}

// Breakdown counts decisions per transition.
func Breakdown(decisions []EscalationDecision) map[string]int {
	out := make(map[string]int)
	for _, d := range decisions {
		out[d.Transition()]++
	}
	return out
}

// FilterDecisions keeps decisions whose confidence reaches threshold.
func FilterDecisions(decisions []EscalationDecision, threshold float64) []EscalationDecision {
	var out []EscalationDecision
	for _, d := range decisions {
		if d.Confidence >= threshold {
			out = append(out, d)
		}
	}
	return out
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
