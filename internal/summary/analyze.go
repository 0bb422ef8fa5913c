// Package summary turns an agent's unread mail into a triage report.
package summary

import (
	"math"
	"time"

	"github.com/zulandar/mailroom/internal/classify"
	"github.com/zulandar/mailroom/internal/models"
)

// StaleAfter is the age past which unread mail counts as overdue.
const StaleAfter = 48 * time.Hour

// ActionItem is a message that asks the reader to do something.
type ActionItem struct {
	MessageID string   `json:"message_id"`
	Sender    string   `json:"sender"`
	Subject   string   `json:"subject"`
	Priority  string   `json:"priority"`
	Phrases   []string `json:"action_phrases"`
	Deadline  string   `json:"deadline_mentioned,omitempty"`
	Category  string   `json:"category"`
}

// QuestionItem is a message that asks the reader something.
type QuestionItem struct {
	MessageID string   `json:"message_id"`
	Sender    string   `json:"sender"`
	Subject   string   `json:"subject"`
	Priority  string   `json:"priority"`
	Questions []string `json:"questions"`
	Urgent    bool     `json:"urgency"`
}

// UrgentItem is a message flagged by priority or critical wording.
type UrgentItem struct {
	MessageID string  `json:"id"`
	Sender    string  `json:"sender"`
	Subject   string  `json:"subject"`
	Priority  string  `json:"priority"`
	Reason    string  `json:"urgency_reason"`
	AgeHours  float64 `json:"age_hours"`
}

// StaleItem is a message older than StaleAfter.
type StaleItem struct {
	MessageID string  `json:"id"`
	Sender    string  `json:"sender"`
	Subject   string  `json:"subject"`
	Priority  string  `json:"priority"`
	AgeHours  float64 `json:"age_hours"`
}

// Thread groups batch messages sharing a thread id.
type Thread struct {
	ID       string           `json:"thread_id"`
	Messages []models.Message `json:"messages"`
}

// Latest returns the newest message in the thread, the first one on ties.
func (t Thread) Latest() models.Message {
	latest := t.Messages[0]
	for _, m := range t.Messages[1:] {
		if m.Timestamp.After(latest.Timestamp) {
			latest = m
		}
	}
	return latest
}

// Analysis is everything the renderers need about one batch.
type Analysis struct {
	Total       int               `json:"total_count"`
	Priorities  *classify.Counter `json:"-"`
	Categories  *classify.Counter `json:"-"`
	Senders     *classify.Counter `json:"-"`
	Actionable  []ActionItem      `json:"actionable_items"`
	Questions   []QuestionItem    `json:"questions"`
	Urgent      []UrgentItem      `json:"urgent_items"`
	Stale       []StaleItem       `json:"stale_messages"`
	Threads     []Thread          `json:"recent_threads"`
	KeyTopics   []string          `json:"key_topics"`
	categoryFor map[string]string
}

// CategoryOf returns the category assigned to message id during analysis.
func (a *Analysis) CategoryOf(id string) string {
	return a.categoryFor[id]
}

// Analyze classifies every message in msgs as of now. The batch order is
// preserved in every list.
func Analyze(msgs []models.Message, now time.Time) *Analysis {
	a := &Analysis{
		Total:       len(msgs),
		Priorities:  classify.NewCounter(),
		Categories:  classify.NewCounter(),
		Senders:     classify.NewCounter(),
		categoryFor: make(map[string]string, len(msgs)),
	}
	threadIdx := map[string]int{}

	for i := range msgs {
		m := &msgs[i]
		a.Priorities.Add(m.Priority)
		a.Senders.Add(m.Sender)
		category := classify.Category(m)
		a.Categories.Add(category)
		a.categoryFor[m.ID] = category

		age := round1(m.Age(now).Hours())
		if m.Age(now) > StaleAfter {
			a.Stale = append(a.Stale, StaleItem{
				MessageID: m.ID, Sender: m.Sender, Subject: m.Subject,
				Priority: m.Priority, AgeHours: age,
			})
		}

		if tid := m.Thread(); tid != "" {
			idx, ok := threadIdx[tid]
			if !ok {
				idx = len(a.Threads)
				threadIdx[tid] = idx
				a.Threads = append(a.Threads, Thread{ID: tid})
			}
			a.Threads[idx].Messages = append(a.Threads[idx].Messages, *m)
		}

		if classify.IsActionable(m) {
			a.Actionable = append(a.Actionable, ActionItem{
				MessageID: m.ID,
				Sender:    m.Sender,
				Subject:   m.Subject,
				Priority:  m.Priority,
				Phrases:   classify.ActionPhrases(m, 2),
				Deadline:  classify.Deadline(m),
				Category:  category,
			})
		}
		if classify.HasQuestion(m) {
			a.Questions = append(a.Questions, QuestionItem{
				MessageID: m.ID,
				Sender:    m.Sender,
				Subject:   m.Subject,
				Priority:  m.Priority,
				Questions: classify.Questions(m, 2),
				Urgent:    m.Priority == models.PriorityUrgent || m.Priority == models.PriorityHigh,
			})
		}
		if m.Priority == models.PriorityUrgent || classify.IsCritical(m) {
			a.Urgent = append(a.Urgent, UrgentItem{
				MessageID: m.ID,
				Sender:    m.Sender,
				Subject:   m.Subject,
				Priority:  m.Priority,
				Reason:    classify.UrgencyReason(m),
				AgeHours:  age,
			})
		}
	}
	a.KeyTopics = classify.KeyTopics(msgs)
	return a
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
