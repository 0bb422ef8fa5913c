package notice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zulandar/mailroom/internal/mailbox"
	"github.com/zulandar/mailroom/internal/models"
	"github.com/zulandar/mailroom/internal/telegraph"
)

// Ledger defaults.
const (
	DefaultCapacity = 1000
	DefaultTTL      = 7 * 24 * time.Hour
)

// Store is the subset of the mailbox a Manager needs.
type Store interface {
	Send(ctx context.Context, msg *models.Message) (string, error)
	ListAgents(ctx context.Context) ([]models.Agent, error)
	Now() time.Time
}

// Dispatcher relays a sent notice to external channels without blocking.
type Dispatcher interface {
	Dispatch(n telegraph.Notification)
}

// Options configures a Manager.
type Options struct {
	Store    Store
	Sender   string // orchestrator agent name
	Relay    Dispatcher
	Capacity int
	TTL      time.Duration
	Logger   *slog.Logger
}

// Manager sends notices and tracks their acknowledgment.
type Manager struct {
	store  Store
	sender string
	relay  Dispatcher
	log    *slog.Logger

	mu     sync.Mutex
	ledger *ledger
}

// NewManager creates a Manager with an empty ledger.
func NewManager(opts Options) *Manager {
	capacity, ttl := opts.Capacity, opts.TTL
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:  opts.Store,
		sender: opts.Sender,
		relay:  opts.Relay,
		log:    logger,
		ledger: newLedger(capacity, ttl),
	}
}

// Sender returns the name notices are sent from.
func (m *Manager) Sender() string { return m.sender }

// Send wraps body in the notice envelope for typ and delivers it to
// recipient. The notice id is the id of the stored message.
func (m *Manager) Send(ctx context.Context, recipient, subject, body string, typ Type, metadata map[string]any) (*Record, error) {
	kind, err := Lookup(typ)
	if err != nil {
		return nil, err
	}
	now := m.store.Now()
	thread := fmt.Sprintf("notice-%s-%s", typ, shortID())

	msg := &models.Message{
		ID:        uuid.NewString(),
		Sender:    m.sender,
		Recipient: recipient,
		Subject:   fmt.Sprintf("%s %s: %s", kind.Icon, kind.Label, subject),
		Body:      envelope(m.sender, body, typ, kind, metadata, now),
		Timestamp: now,
		Priority:  kind.Priority,
		Tags:      []string{"orchestrator", "urgent_notice", string(typ), "system_admin"},
		ThreadID:  &thread,
	}
	id, err := m.store.Send(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("notice: send %s to %s: %w", typ, recipient, err)
	}

	rec := &Record{
		ID:            id,
		MessageID:     id,
		Type:          typ,
		Recipient:     recipient,
		Subject:       subject,
		SentAt:        now,
		RequiresAck:   kind.RequiresAck,
		EscalateAfter: kind.EscalateAfter,
		Metadata:      copyMeta(metadata),
	}
	if orig, ok := metadata["original_notice_id"].(string); ok {
		rec.EscalationOf = orig
	}

	m.mu.Lock()
	m.ledger.add(rec, now)
	out := *rec
	m.mu.Unlock()

	m.log.Info("notice sent", "type", typ, "recipient", recipient, "id", id)

	if m.relay != nil {
		m.relay.Dispatch(telegraph.Notification{
			NoticeID:  id,
			Type:      string(typ),
			Sender:    m.sender,
			Recipient: recipient,
			Subject:   msg.Subject,
			Body:      body,
			Priority:  kind.Priority,
			AckNeeded: kind.RequiresAck,

			EscalationOf: rec.EscalationOf,
		})
	}
	return &out, nil
}

// Broadcast sends the same notice to every registered agent except the
// sender and the excluded names. All copies share one broadcast id. Send
// failures do not stop the broadcast; they are joined into the error.
func (m *Manager) Broadcast(ctx context.Context, subject, body string, typ Type, exclude []string, metadata map[string]any) (map[string]string, error) {
	if _, err := Lookup(typ); err != nil {
		return nil, err
	}
	agents, err := m.store.ListAgents(ctx)
	if err != nil {
		return nil, fmt.Errorf("notice: broadcast: %w", err)
	}

	skip := map[string]bool{m.sender: true}
	for _, name := range exclude {
		skip[name] = true
	}
	var recipients []string
	for _, a := range agents {
		if !skip[a.Name] {
			recipients = append(recipients, a.Name)
		}
	}

	shared := copyMeta(metadata)
	if shared == nil {
		shared = map[string]any{}
	}
	shared["broadcast_id"] = "broadcast-" + shortID()
	shared["broadcast_type"] = "system_wide"
	shared["total_recipients"] = len(recipients)

	results := make(map[string]string, len(recipients))
	var errs []error
	for _, name := range recipients {
		meta := copyMeta(shared)
		meta["recipient_agent"] = name
		rec, err := m.Send(ctx, name, subject, body, typ, meta)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		results[name] = rec.MessageID
	}
	m.log.Info("broadcast sent", "type", typ, "recipients", len(results), "failed", len(errs))
	return results, errors.Join(errs...)
}

// Overdue is an unacknowledged notice past its escalation deadline.
type Overdue struct {
	Record
	HoursOverdue float64 `json:"hours_overdue"`
}

// CheckOverdue lists notices that require acknowledgment, have none, and
// were sent longer ago than their type's escalation window. Notices that
// were already escalated are still listed; see Record.State.
func (m *Manager) CheckOverdue() []Overdue {
	now := m.store.Now()
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Overdue
	m.ledger.each(func(r *Record) {
		if r.Acknowledged {
			return
		}
		deadline, ok := r.Deadline()
		if !ok || !now.After(deadline) {
			return
		}
		out = append(out, Overdue{
			Record:       *r,
			HoursOverdue: round1(now.Sub(deadline).Hours()),
		})
	})
	return out
}

// Escalate sends a system_alert about an unacknowledged notice to its
// recipient. The original stays in the ledger awaiting acknowledgment.
func (m *Manager) Escalate(ctx context.Context, noticeID string) (*Record, error) {
	m.mu.Lock()
	orig := m.ledger.get(noticeID)
	var snapshot Record
	if orig != nil {
		snapshot = *orig
	}
	m.mu.Unlock()
	if orig == nil {
		return nil, fmt.Errorf("notice: escalate %s: %w", noticeID, mailbox.ErrNotFound)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "**NOTICE ESCALATION**\n\n")
	fmt.Fprintf(&b, "**Original Notice**: %s\n", snapshot.Subject)
	fmt.Fprintf(&b, "**Sent**: %s\n", snapshot.SentAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "**Type**: %s\n\n", snapshot.Type)
	fmt.Fprintf(&b, "**⚠️ URGENT**: This notice required acknowledgment but has not been confirmed.\n\n")
	fmt.Fprintf(&b, "**Required Action**: Please acknowledge the original notice immediately\n")
	fmt.Fprintf(&b, "**Impact**: Continued non-response may affect system coordination\n\n")
	fmt.Fprintf(&b, "**Original Message ID**: %s", snapshot.MessageID)

	rec, err := m.Send(ctx, snapshot.Recipient,
		"ESCALATION: Unacknowledged Notice - "+snapshot.Subject,
		b.String(), SystemAlert, map[string]any{
			"escalation":          true,
			"original_notice_id":  noticeID,
			"original_message_id": snapshot.MessageID,
			"escalation_reason":   "unacknowledged_notice",
		})
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if r := m.ledger.get(noticeID); r != nil {
		at := rec.SentAt
		r.EscalatedAt = &at
		r.EscalationID = rec.ID
	}
	m.mu.Unlock()

	m.log.Warn("escalated unacknowledged notice", "notice", noticeID, "recipient", snapshot.Recipient, "escalation", rec.ID)
	return rec, nil
}

// Acknowledge marks a notice acknowledged. It reports false for unknown
// ids; acknowledging twice keeps the first acknowledgment.
func (m *Manager) Acknowledge(noticeID, by string) bool {
	now := m.store.Now()
	m.mu.Lock()
	defer m.mu.Unlock()

	r := m.ledger.get(noticeID)
	if r == nil {
		return false
	}
	if !r.Acknowledged {
		r.Acknowledged = true
		r.AcknowledgedAt = &now
		r.AcknowledgedBy = by
		m.log.Info("notice acknowledged", "notice", noticeID, "by", by)
	}
	return true
}

// Get returns a copy of one ledger record.
func (m *Manager) Get(noticeID string) (*Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.ledger.get(noticeID)
	if r == nil {
		return nil, false
	}
	out := *r
	return &out, true
}

// Recent returns notices sent within window, newest first, at most limit.
func (m *Manager) Recent(limit int, window time.Duration) []Record {
	cutoff := m.store.Now().Add(-window)
	m.mu.Lock()
	var out []Record
	m.ledger.each(func(r *Record) {
		if !r.SentAt.Before(cutoff) {
			out = append(out, *r)
		}
	})
	m.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].SentAt.After(out[j].SentAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Analytics summarizes notice traffic over a number of days.
type Analytics struct {
	PeriodDays     int            `json:"analysis_period_days"`
	Total          int            `json:"total_notices"`
	Types          map[Type]int   `json:"notice_type_distribution,omitempty"`
	Daily          map[string]int `json:"daily_notice_counts,omitempty"`
	AckRequired    int            `json:"ack_required"`
	AckReceived    int            `json:"ack_received"`
	AckRatePct     float64        `json:"acknowledgment_rate_percent"`
	MostCommonType Type           `json:"most_common_type,omitempty"`
	AverageDaily   float64        `json:"average_daily_notices"`
	Message        string         `json:"message,omitempty"`
}

// Analytics reports notice counts by type and day plus acknowledgment rates.
func (m *Manager) Analytics(daysBack int) Analytics {
	if daysBack <= 0 {
		daysBack = 7
	}
	cutoff := m.store.Now().AddDate(0, 0, -daysBack)
	a := Analytics{PeriodDays: daysBack, Types: map[Type]int{}, Daily: map[string]int{}}

	m.mu.Lock()
	m.ledger.each(func(r *Record) {
		if r.SentAt.Before(cutoff) {
			return
		}
		a.Total++
		a.Types[r.Type]++
		a.Daily[r.SentAt.UTC().Format("2006-01-02")]++
		if r.RequiresAck {
			a.AckRequired++
			if r.Acknowledged {
				a.AckReceived++
			}
		}
	})
	m.mu.Unlock()

	if a.Total == 0 {
		a.Types, a.Daily = nil, nil
		a.Message = "No notices sent in the specified period"
		return a
	}
	if a.AckRequired > 0 {
		a.AckRatePct = round1(float64(a.AckReceived) / float64(a.AckRequired) * 100)
	}
	best := 0
	for _, t := range Types {
		if a.Types[t] > best {
			best, a.MostCommonType = a.Types[t], t
		}
	}
	a.AverageDaily = round1(float64(a.Total) / float64(daysBack))
	return a
}

// Len returns the number of ledger records.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ledger.len()
}

func shortID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

func copyMeta(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
