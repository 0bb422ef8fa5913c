package notice

import (
	"time"
)

// Record is the ledger entry for one sent notice.
type Record struct {
	ID             string         `json:"notice_id"`
	MessageID      string         `json:"message_id"`
	Type           Type           `json:"notice_type"`
	Recipient      string         `json:"recipient"`
	Subject        string         `json:"subject"`
	SentAt         time.Time      `json:"sent_at"`
	RequiresAck    bool           `json:"requires_ack"`
	EscalateAfter  time.Duration  `json:"escalate_after"`
	Acknowledged   bool           `json:"acknowledged"`
	AcknowledgedAt *time.Time     `json:"acknowledged_at,omitempty"`
	AcknowledgedBy string         `json:"acknowledged_by,omitempty"`
	EscalatedAt    *time.Time     `json:"escalated_at,omitempty"`
	EscalationID   string         `json:"escalation_id,omitempty"`
	EscalationOf   string         `json:"escalation_of,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// Deadline is when an unacknowledged notice becomes overdue. ok is false for
// notices that never escalate.
func (r *Record) Deadline() (deadline time.Time, ok bool) {
	if !r.RequiresAck || r.EscalateAfter <= 0 {
		return time.Time{}, false
	}
	return r.SentAt.Add(r.EscalateAfter), true
}

// State is "acknowledged", "escalated" or "sent". An escalated notice still
// awaits acknowledgment.
func (r *Record) State() string {
	switch {
	case r.Acknowledged:
		return "acknowledged"
	case r.EscalatedAt != nil:
		return "escalated"
	}
	return "sent"
}

// ledger keeps records in send order, bounded by capacity and age. It is
// not safe for concurrent use; Manager serializes access.
type ledger struct {
	capacity int
	ttl      time.Duration
	order    []*Record
	byID     map[string]*Record
}

func newLedger(capacity int, ttl time.Duration) *ledger {
	return &ledger{capacity: capacity, ttl: ttl, byID: make(map[string]*Record)}
}

// add inserts r and evicts expired and excess entries, oldest first.
func (l *ledger) add(r *Record, now time.Time) {
	l.order = append(l.order, r)
	l.byID[r.ID] = r

	drop := 0
	for drop < len(l.order) {
		old := l.order[drop]
		expired := l.ttl > 0 && now.Sub(old.SentAt) > l.ttl
		over := l.capacity > 0 && len(l.order)-drop > l.capacity
		if !expired && !over {
			break
		}
		delete(l.byID, old.ID)
		drop++
	}
	if drop > 0 {
		l.order = append([]*Record(nil), l.order[drop:]...)
	}
}

func (l *ledger) get(id string) *Record {
	return l.byID[id]
}

func (l *ledger) len() int {
	return len(l.order)
}

// each visits records oldest first.
func (l *ledger) each(fn func(*Record)) {
	for _, r := range l.order {
		fn(r)
	}
}
