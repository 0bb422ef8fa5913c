// Package orchestrator watches every agent's mailbox, sends summaries and
// notices to overloaded agents, and plans redistribution on a schedule.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/zulandar/mailroom/internal/config"
	"github.com/zulandar/mailroom/internal/distributor"
	"github.com/zulandar/mailroom/internal/mailbox"
	"github.com/zulandar/mailroom/internal/models"
	"github.com/zulandar/mailroom/internal/notice"
	"github.com/zulandar/mailroom/internal/priority"
	"github.com/zulandar/mailroom/internal/summary"
	"golang.org/x/sync/errgroup"
)

// Capabilities is advertised in the orchestrator's agent metadata.
var Capabilities = []string{
	"system_monitoring",
	"workload_management",
	"priority_coordination",
	"summary_generation",
	"urgent_notices",
	"task_distribution",
}

// Thresholds for per-agent recommendations.
const (
	urgentAttention = 5
	highAttention   = 10
	delegateAfter   = 30
	maxDelegates    = 3
	historyLimit    = 1000
	staleAfter      = 24 * time.Hour
)

// Options configures an Orchestrator.
type Options struct {
	Store   *mailbox.Store
	Notices *notice.Manager // built from Store when nil
	Config  *config.Config  // config.Default() when nil
	Logger  *slog.Logger
}

// Orchestrator ties the engines together over one store.
type Orchestrator struct {
	store       *mailbox.Store
	cfg         *config.Config
	name        string
	log         *slog.Logger
	notices     *notice.Manager
	priorities  *priority.Engine
	summaries   *summary.Engine
	distributor *distributor.Distributor

	mu    sync.Mutex
	state RunState
	// notified holds stale message ids already reported to their recipient.
	// An id leaves once the message stops showing up as stale.
	notified map[string]struct{}
}

// RunState records cycle history for status reporting.
type RunState struct {
	StartedAt         time.Time `json:"started_at"`
	AnalysisCycles    int       `json:"analysis_cycles"`
	MaintenanceCycles int       `json:"maintenance_cycles"`
	LastAnalysis      time.Time `json:"last_analysis,omitempty"`
	LastMaintenance   time.Time `json:"last_maintenance,omitempty"`
	LastError         string    `json:"last_error,omitempty"`
}

// New builds an Orchestrator and registers it as an agent.
func New(ctx context.Context, opts Options) (*Orchestrator, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("orchestrator: store is required")
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	name := cfg.Orchestrator.Name

	notices := opts.Notices
	if notices == nil {
		notices = notice.NewManager(notice.Options{
			Store:    opts.Store,
			Sender:   name,
			Capacity: cfg.Orchestrator.LedgerSize,
			TTL:      cfg.Orchestrator.LedgerTTL,
			Logger:   logger,
		})
	}

	o := &Orchestrator{
		store:       opts.Store,
		cfg:         cfg,
		name:        name,
		log:         logger.With("component", "orchestrator"),
		notices:     notices,
		priorities:  priority.NewEngine(opts.Store),
		summaries:   summary.NewEngine(opts.Store),
		distributor: distributor.New(opts.Store, name).WithLogger(logger),
		notified:    make(map[string]struct{}),
	}
	o.state.StartedAt = opts.Store.Now()
	if err := o.register(ctx); err != nil {
		return nil, err
	}
	return o, nil
}

func (o *Orchestrator) register(ctx context.Context) error {
	o.mu.Lock()
	cycles := o.state.AnalysisCycles
	o.mu.Unlock()
	_, err := o.store.RegisterAgent(ctx, o.name, map[string]any{
		"role":         "system_orchestrator",
		"capabilities": Capabilities,
		"admin_level":  "system",
		"cycles":       cycles,
	})
	if err != nil {
		return fmt.Errorf("orchestrator: register %s: %w", o.name, err)
	}
	return nil
}

// Name returns the orchestrator's agent name.
func (o *Orchestrator) Name() string { return o.name }

// Store returns the underlying message store.
func (o *Orchestrator) Store() *mailbox.Store { return o.store }

// Notices returns the notice manager.
func (o *Orchestrator) Notices() *notice.Manager { return o.notices }

// Priorities returns the priority engine.
func (o *Orchestrator) Priorities() *priority.Engine { return o.priorities }

// Summaries returns the summary engine.
func (o *Orchestrator) Summaries() *summary.Engine { return o.summaries }

// Distributor returns the task distributor.
func (o *Orchestrator) Distributor() *distributor.Distributor { return o.distributor }

// State returns a copy of the run history.
func (o *Orchestrator) State() RunState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// AgentWorkload is the orchestrator's view of one agent.
type AgentWorkload struct {
	Agent           string             `json:"agent_name"`
	TotalMessages   int64              `json:"total_messages"`
	Unread          int                `json:"unread_messages"`
	Urgent          int                `json:"urgent_messages"`
	High            int                `json:"high_priority_messages"`
	Stale           int                `json:"stale_messages"`
	RecentActivity  int64              `json:"recent_activity"`
	LastSeen        time.Time          `json:"last_seen"`
	Status          distributor.Status `json:"status"`
	Recommendations []string           `json:"recommendations"`
}

// AnalyzeAgent reports name's workload with recommendations, including
// delegation candidates for agents with a long backlog.
func (o *Orchestrator) AnalyzeAgent(ctx context.Context, name string) (*AgentWorkload, error) {
	agent, err := o.store.GetAgent(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: analyze %s: %w", name, err)
	}
	return o.analyzeAgent(ctx, *agent, true)
}

func (o *Orchestrator) analyzeAgent(ctx context.Context, agent models.Agent, delegates bool) (*AgentWorkload, error) {
	stats, err := o.store.Stats(ctx, agent.Name)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: stats %s: %w", agent.Name, err)
	}
	msgs, err := o.store.List(ctx, agent.Name, false, historyLimit)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: messages %s: %w", agent.Name, err)
	}

	now := o.store.Now()
	w := &AgentWorkload{
		Agent:          agent.Name,
		TotalMessages:  stats.TotalReceived,
		Unread:         int(stats.Unread),
		RecentActivity: stats.RecentActivity,
		LastSeen:       agent.LastSeen,
		Status:         distributor.StatusFor(int(stats.Unread)),
	}
	for i := range msgs {
		m := &msgs[i]
		if m.Read {
			continue
		}
		switch m.Priority {
		case models.PriorityUrgent:
			w.Urgent++
		case models.PriorityHigh:
			w.High++
		}
		if m.Age(now) > staleAfter {
			w.Stale++
		}
	}

	var recs []string
	if w.Status == distributor.StatusOverwhelmed {
		recs = append(recs,
			"🚨 CRITICAL: Generate summary to help agent prioritize",
			"📋 Consider task redistribution to other agents")
	}
	if w.Urgent > urgentAttention {
		recs = append(recs, fmt.Sprintf("⚡ %d urgent messages need immediate attention", w.Urgent))
	}
	if w.High > highAttention {
		recs = append(recs, fmt.Sprintf("🔥 %d high-priority messages pending", w.High))
	}
	if w.Stale > 0 {
		recs = append(recs, fmt.Sprintf("⏰ %d messages older than 24 hours", w.Stale))
	}
	if delegates && len(msgs) > delegateAfter {
		avail, err := o.distributor.AvailableAgents(ctx, agent.Name)
		if err != nil {
			o.log.Warn("delegate lookup failed", "agent", agent.Name, "error", err)
		} else if len(avail) > 0 {
			var names []string
			for _, a := range avail {
				if len(names) == maxDelegates {
					break
				}
				names = append(names, a.Agent)
			}
			recs = append(recs, "🔄 Consider delegating to: "+strings.Join(names, ", "))
		}
	}
	w.Recommendations = recs
	return w, nil
}

// System load levels.
const (
	LoadCritical = "critical"
	LoadHigh     = "high"
	LoadNormal   = "normal"
	LoadLow      = "low"
)

// Status is the system-wide picture.
type Status struct {
	Timestamp       time.Time       `json:"timestamp"`
	TotalAgents     int             `json:"total_agents"`
	ActiveAgents    int             `json:"active_agents"`
	TotalMessages   int64           `json:"total_messages"`
	Unread          int             `json:"unread_messages"`
	Urgent          int             `json:"urgent_notices"`
	Load            string          `json:"system_load"`
	Bottlenecks     []string        `json:"bottlenecks"`
	Recommendations []string        `json:"recommendations"`
	Workloads       []AgentWorkload `json:"agent_workloads"`
	Failed          []string        `json:"failed_agents,omitempty"`
}

// Snapshot converts s into the form carried by a status broadcast.
func (s *Status) Snapshot() notice.StatusSnapshot {
	return notice.StatusSnapshot{
		Load:            s.Load,
		TotalAgents:     s.TotalAgents,
		ActiveAgents:    s.ActiveAgents,
		Unread:          s.Unread,
		UrgentNotices:   s.Urgent,
		Bottlenecks:     s.Bottlenecks,
		Recommendations: s.Recommendations,
	}
}

// SystemStatus analyzes every registered agent other than the orchestrator.
// Agents whose analysis fails are logged and listed in Failed.
func (o *Orchestrator) SystemStatus(ctx context.Context) (*Status, error) {
	agents, err := o.store.ListAgents(ctx)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: list agents: %w", err)
	}
	var workers []models.Agent
	for _, a := range agents {
		if a.Name != o.name {
			workers = append(workers, a)
		}
	}

	workloads, failed := o.analyzeAll(ctx, workers)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	st := BuildStatus(workloads, len(workers))
	st.Timestamp = o.store.Now()
	st.Failed = failed
	return st, nil
}

// analyzeAll runs analyzeAgent for each agent in parallel. A failure or
// panic in one agent is logged and does not affect the others.
func (o *Orchestrator) analyzeAll(ctx context.Context, agents []models.Agent) ([]AgentWorkload, []string) {
	results := make([]*AgentWorkload, len(agents))
	errs := make([]error, len(agents))
	o.parallel(ctx, len(agents), func(ctx context.Context, i int) error {
		var err error
		results[i], err = o.analyzeAgent(ctx, agents[i], false)
		return err
	}, errs)

	var out []AgentWorkload
	var failed []string
	for i, w := range results {
		if errs[i] != nil {
			o.log.Error("agent analysis failed", "agent", agents[i].Name, "op", "analyze", "error", errs[i])
			failed = append(failed, agents[i].Name)
			continue
		}
		out = append(out, *w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Agent < out[j].Agent })
	return out, failed
}

// parallel calls fn for 0..n-1 on at most Workers goroutines and stores
// each call's error, or its recovered panic, in errs[i]. One index failing
// never cancels the others.
func (o *Orchestrator) parallel(ctx context.Context, n int, fn func(ctx context.Context, i int) error, errs []error) {
	var g errgroup.Group
	if w := o.cfg.Orchestrator.Workers; w > 0 {
		g.SetLimit(w)
	}
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					errs[i] = fmt.Errorf("panic: %v", r)
				}
			}()
			errs[i] = fn(ctx, i)
			return nil
		})
	}
	_ = g.Wait()
}

// BuildStatus aggregates workloads into a Status. total is the number of
// agents considered, including any whose analysis failed.
func BuildStatus(workloads []AgentWorkload, total int) *Status {
	st := &Status{TotalAgents: total, Workloads: workloads}
	var overwhelmed []AgentWorkload
	for _, w := range workloads {
		if w.Status != distributor.StatusIdle {
			st.ActiveAgents++
		}
		st.TotalMessages += w.TotalMessages
		st.Unread += w.Unread
		st.Urgent += w.Urgent
		if w.Status == distributor.StatusOverwhelmed {
			overwhelmed = append(overwhelmed, w)
		}
	}

	avg := float64(st.Unread) / float64(max(st.ActiveAgents, 1))
	switch {
	case avg > 30 || st.Urgent > 10:
		st.Load = LoadCritical
	case avg > 15 || st.Urgent > 5:
		st.Load = LoadHigh
	case avg > 5:
		st.Load = LoadNormal
	default:
		st.Load = LoadLow
	}

	st.Bottlenecks = []string{}
	if len(overwhelmed) > 0 {
		st.Bottlenecks = append(st.Bottlenecks, fmt.Sprintf("%d agents overwhelmed", len(overwhelmed)))
	}
	if st.Urgent > 10 {
		st.Bottlenecks = append(st.Bottlenecks, fmt.Sprintf("%d urgent notices pending", st.Urgent))
	}

	recs := []string{}
	switch st.Load {
	case LoadCritical:
		recs = append(recs,
			"🚨 SYSTEM CRITICAL: Immediate orchestrator intervention needed",
			"📊 Generate summaries for all overwhelmed agents",
			"⚡ Escalate all urgent notices")
	case LoadHigh:
		recs = append(recs,
			"⚠️ High system load: Monitor closely",
			"🔄 Consider workload redistribution")
	}
	for _, w := range overwhelmed {
		recs = append(recs, fmt.Sprintf("🆘 %s: %d unread - needs summary", w.Agent, w.Unread))
	}
	busy, idle := 0, 0
	for _, w := range workloads {
		switch w.Status {
		case distributor.StatusOverwhelmed, distributor.StatusHighLoad:
			busy++
		case distributor.StatusIdle:
			idle++
		}
	}
	if busy > 0 && idle > 0 {
		recs = append(recs, fmt.Sprintf("⚖️ Load balance: %d busy, %d idle agents", busy, idle))
	}
	st.Recommendations = recs
	return st
}

// SendSummary renders a summary of agent's unread mail and delivers it as
// a workload_summary notice.
func (o *Orchestrator) SendSummary(ctx context.Context, agent string, mode summary.Mode) (*notice.Record, error) {
	if _, err := o.store.GetAgent(ctx, agent); err != nil {
		return nil, fmt.Errorf("orchestrator: summary for %s: %w", agent, err)
	}
	text, err := o.summaries.Summarize(ctx, agent, summary.DefaultMaxMessages, mode)
	if err != nil {
		return nil, err
	}
	stats, err := o.store.Stats(ctx, agent)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: stats %s: %w", agent, err)
	}
	urgent, err := o.urgentUnread(ctx, agent)
	if err != nil {
		return nil, err
	}
	return o.notices.SendWorkloadSummary(ctx, agent, text, notice.SummaryCounts{
		Total:  int(stats.TotalReceived),
		Unread: int(stats.Unread),
		Urgent: urgent,
	})
}

func (o *Orchestrator) urgentUnread(ctx context.Context, agent string) (int, error) {
	msgs, err := o.store.List(ctx, agent, true, historyLimit)
	if err != nil {
		return 0, fmt.Errorf("orchestrator: messages %s: %w", agent, err)
	}
	n := 0
	for _, m := range msgs {
		if m.Priority == models.PriorityUrgent {
			n++
		}
	}
	return n, nil
}

// Alert sends a system_alert notice to every agent seen within the active
// window, or to every registered agent when none are active.
func (o *Orchestrator) Alert(ctx context.Context, subject, body string) (map[string]string, error) {
	active, err := o.activeWorkers(ctx)
	if err != nil {
		return nil, err
	}
	if len(active) == 0 {
		return o.notices.Broadcast(ctx, subject, body, notice.SystemAlert, nil, nil)
	}
	results := make(map[string]string, len(active))
	var errs []error
	for _, a := range active {
		rec, err := o.notices.Send(ctx, a.Name, subject, body, notice.SystemAlert, nil)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		results[a.Name] = rec.MessageID
	}
	return results, errors.Join(errs...)
}

func (o *Orchestrator) activeWorkers(ctx context.Context) ([]models.Agent, error) {
	since := o.store.Now().Add(-o.cfg.Orchestrator.ActiveWindow)
	agents, err := o.store.ActiveAgents(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: active agents: %w", err)
	}
	var out []models.Agent
	for _, a := range agents {
		if a.Name != o.name {
			out = append(out, a)
		}
	}
	return out, nil
}
