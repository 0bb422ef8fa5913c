package priority

import (
	"context"
	"fmt"
	"time"

	"github.com/zulandar/mailroom/internal/models"
)

// Reader is the slice of the message store the engine needs.
type Reader interface {
	List(ctx context.Context, recipient string, unreadOnly bool, limit int) ([]models.Message, error)
	ListAgents(ctx context.Context) ([]models.Agent, error)
	Now() time.Time
}

// EscalationReport is the result of EscalateStale.
type EscalationReport struct {
	Scope          string               `json:"scope"`
	ThresholdHours float64              `json:"threshold_hours"`
	TotalEvaluated int                  `json:"total_evaluated"`
	Escalated      []EscalationDecision `json:"escalated_messages"`
	Breakdown      map[string]int       `json:"escalation_breakdown"`
}

// Engine loads message scopes from a Reader and runs the pure analyses.
type Engine struct {
	store Reader
}

// NewEngine returns an Engine over store.
func NewEngine(store Reader) *Engine {
	return &Engine{store: store}
}

// load returns agent's messages, or every registered agent's when agent is
// empty. agentLimit and systemLimit cap each per-agent query.
func (e *Engine) load(ctx context.Context, agent string, unreadOnly bool, agentLimit, systemLimit int) ([]models.Message, string, error) {
	if agent != "" {
		msgs, err := e.store.List(ctx, agent, unreadOnly, agentLimit)
		if err != nil {
			return nil, "", fmt.Errorf("priority: load %s: %w", agent, err)
		}
		return msgs, fmt.Sprintf("agent '%s'", agent), nil
	}
	agents, err := e.store.ListAgents(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("priority: list agents: %w", err)
	}
	var all []models.Message
	for _, a := range agents {
		msgs, err := e.store.List(ctx, a.Name, unreadOnly, systemLimit)
		if err != nil {
			return nil, "", fmt.Errorf("priority: load %s: %w", a.Name, err)
		}
		all = append(all, msgs...)
	}
	return all, "system-wide", nil
}

// Distribution analyses agent's mail, or the whole system when agent is "".
func (e *Engine) Distribution(ctx context.Context, agent string) (*Distribution, error) {
	msgs, scope, err := e.load(ctx, agent, false, 1000, 500)
	if err != nil {
		return nil, err
	}
	d := Analyze(msgs, e.store.Now())
	d.Scope = scope
	return d, nil
}

// EscalateStale proposes escalations for unread mail older than hours.
func (e *Engine) EscalateStale(ctx context.Context, hours float64, agent string) (*EscalationReport, error) {
	msgs, scope, err := e.load(ctx, agent, true, 1000, 500)
	if err != nil {
		return nil, err
	}
	decisions := Escalate(msgs, hours, e.store.Now())
	return &EscalationReport{
		Scope:          scope,
		ThresholdHours: hours,
		TotalEvaluated: len(msgs),
		Escalated:      decisions,
		Breakdown:      Breakdown(decisions),
	}, nil
}

// Optimize suggests content-based priorities for unread mail.
func (e *Engine) Optimize(ctx context.Context, agent string) (*OptimizeReport, error) {
	msgs, scope, err := e.load(ctx, agent, true, 200, 100)
	if err != nil {
		return nil, err
	}
	r := Optimize(msgs, e.store.Now())
	r.Scope = scope
	return r, nil
}

// Analytics reports daily priority trends across every agent.
func (e *Engine) Analytics(ctx context.Context, daysBack int) (*AnalyticsReport, error) {
	if daysBack <= 0 {
		daysBack = 7
	}
	msgs, _, err := e.load(ctx, "", false, 0, 500)
	if err != nil {
		return nil, err
	}
	return Analytics(msgs, daysBack, e.store.Now()), nil
}
