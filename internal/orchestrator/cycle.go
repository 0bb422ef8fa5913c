package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/zulandar/mailroom/internal/distributor"
	"github.com/zulandar/mailroom/internal/models"
	"github.com/zulandar/mailroom/internal/priority"
	"github.com/zulandar/mailroom/internal/summary"
)

// maxRedistributionTargets caps the capability matches an overwhelmed
// agent's backlog is planned across.
const maxRedistributionTargets = 2

// Action kinds recorded in a CycleReport.
const (
	ActionSummary      = "summary_sent"
	ActionRedistribute = "redistribution_planned"
	ActionEscalation   = "escalation_notice"
	ActionOverdue      = "overdue_escalated"
)

// Action is one thing a cycle did.
type Action struct {
	Kind           string                      `json:"kind"`
	Agent          string                      `json:"agent"`
	NoticeID       string                      `json:"notice_id,omitempty"`
	Targets        []string                    `json:"targets,omitempty"`
	Detail         string                      `json:"detail,omitempty"`
	Redistribution *distributor.Redistribution `json:"redistribution,omitempty"`
}

// Failure records an operation that failed for one agent. The cycle
// carries on past it.
type Failure struct {
	Agent string `json:"agent,omitempty"`
	Op    string `json:"op"`
	Error string `json:"error"`
}

// CycleReport is the outcome of one analysis cycle.
type CycleReport struct {
	StartedAt        time.Time                     `json:"started_at"`
	Duration         time.Duration                 `json:"duration"`
	ActiveAgents     []string                      `json:"active_agents"`
	Workloads        []*distributor.Workload       `json:"workloads"`
	Actions          []Action                      `json:"actions"`
	Escalations      []priority.EscalationDecision `json:"escalations"`
	AutoApply        []priority.Suggestion         `json:"auto_apply_candidates"`
	OverdueEscalated int                           `json:"overdue_escalated"`
	Failures         []Failure                     `json:"failures,omitempty"`
	Status           *Status                       `json:"status,omitempty"`
	Recommendations  []string                      `json:"recommendations"`
}

// fail logs err with its agent and operation and records it on report.
func (o *Orchestrator) fail(report *CycleReport, agent, op string, err error) {
	o.log.Error("cycle step failed", "agent", agent, "op", op, "error", err)
	report.Failures = append(report.Failures, Failure{Agent: agent, Op: op, Error: err.Error()})
}

// RunAnalysisCycle runs one pass over the active agents: overwhelmed
// agents get a summary and a redistribution plan, stale mail is
// escalated, overdue notices are re-sent, and the system status is
// recomputed. Only a failure to list agents aborts the cycle; everything
// else is recorded in Failures.
func (o *Orchestrator) RunAnalysisCycle(ctx context.Context) (*CycleReport, error) {
	start := time.Now()
	report := &CycleReport{StartedAt: o.store.Now()}
	cfg := o.cfg.Orchestrator

	active, err := o.activeWorkers(ctx)
	if err != nil {
		return nil, err
	}
	for _, a := range active {
		report.ActiveAgents = append(report.ActiveAgents, a.Name)
	}

	report.Workloads = o.workloads(ctx, active, report)
	for _, w := range report.Workloads {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if w.Status != distributor.StatusOverwhelmed {
			continue
		}
		o.relieve(ctx, w, report)
	}

	if err := ctx.Err(); err != nil {
		return report, err
	}
	o.escalateStale(ctx, report)

	if opt, err := o.priorities.Optimize(ctx, ""); err != nil {
		o.fail(report, "", "optimize", err)
	} else {
		report.AutoApply = priority.FilterByConfidence(opt.Suggestions, cfg.ConfidenceThreshold)
	}

	o.escalateOverdue(ctx, report)

	if err := ctx.Err(); err != nil {
		return report, err
	}
	if st, err := o.SystemStatus(ctx); err != nil {
		o.fail(report, "", "system_status", err)
	} else {
		report.Status = st
		report.Recommendations = st.Recommendations
	}
	if len(report.AutoApply) > 0 {
		report.Recommendations = append(report.Recommendations,
			fmt.Sprintf("🎯 %d priority adjustments at or above %.0f%% confidence", len(report.AutoApply), cfg.ConfidenceThreshold*100))
	}

	o.mu.Lock()
	o.state.AnalysisCycles++
	o.state.LastAnalysis = report.StartedAt
	o.mu.Unlock()
	if err := o.register(ctx); err != nil {
		o.fail(report, o.name, "register", err)
	}

	report.Duration = time.Since(start)
	o.log.Info("analysis cycle complete",
		"agents", len(report.ActiveAgents),
		"actions", len(report.Actions),
		"escalations", len(report.Escalations),
		"failures", len(report.Failures),
		"duration", report.Duration)
	return report, nil
}

// workloads analyzes agents in parallel through the same bounded worker
// pool as SystemStatus and returns them sorted by name.
func (o *Orchestrator) workloads(ctx context.Context, agents []models.Agent, report *CycleReport) []*distributor.Workload {
	results := make([]*distributor.Workload, len(agents))
	errs := make([]error, len(agents))
	o.parallel(ctx, len(agents), func(ctx context.Context, i int) error {
		var err error
		results[i], err = o.distributor.AnalyzeWorkload(ctx, agents[i].Name)
		return err
	}, errs)

	var out []*distributor.Workload
	for i, w := range results {
		if errs[i] != nil {
			o.fail(report, agents[i].Name, "workload", errs[i])
			continue
		}
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Agent < out[j].Agent })
	return out
}

// relieve sends w's agent a summary and plans moving part of the backlog
// to the best capability matches.
func (o *Orchestrator) relieve(ctx context.Context, w *distributor.Workload, report *CycleReport) {
	mode, err := summary.ParseMode(o.cfg.Orchestrator.SummaryMode)
	if err != nil {
		mode = summary.Balanced
	}
	if rec, err := o.SendSummary(ctx, w.Agent, mode); err != nil {
		o.fail(report, w.Agent, "summary", err)
	} else {
		report.Actions = append(report.Actions, Action{
			Kind:     ActionSummary,
			Agent:    w.Agent,
			NoticeID: rec.ID,
			Detail:   fmt.Sprintf("%d unread", w.Unread),
		})
	}

	avail, err := o.distributor.AvailableAgents(ctx, w.Agent)
	if err != nil {
		o.fail(report, w.Agent, "available_agents", err)
		return
	}
	targets := capabilityMatches(w, avail, maxRedistributionTargets)
	if len(targets) == 0 {
		return
	}
	strategy, err := distributor.ParseStrategy(o.cfg.Orchestrator.Strategy)
	if err != nil {
		strategy = distributor.WorkloadBalanced
	}
	red, err := o.distributor.Redistribute(ctx, w.Agent, targets, strategy)
	if err != nil {
		o.fail(report, w.Agent, "redistribute", err)
		return
	}
	if !red.Possible {
		return
	}

	// Plans reserve nothing; confirm the backlog is still there.
	now, err := o.distributor.AnalyzeWorkload(ctx, w.Agent)
	if err != nil {
		o.fail(report, w.Agent, "recheck", err)
		return
	}
	if now.Status != distributor.StatusOverwhelmed {
		o.log.Info("redistribution skipped, backlog cleared", "agent", w.Agent, "unread", now.Unread)
		return
	}
	detail := fmt.Sprintf("%d messages via %s", red.Plan.Total, red.Strategy)
	if red.Impact != nil {
		detail += fmt.Sprintf(" (%s)", red.Impact.Effectiveness.Rating)
	}
	report.Actions = append(report.Actions, Action{
		Kind:           ActionRedistribute,
		Agent:          w.Agent,
		Targets:        red.Targets,
		Detail:         detail,
		Redistribution: red,
	})
}

// capabilityMatches ranks candidates by how many of the source's unread
// categories they have a capability for, then by capacity, and returns up
// to n names.
func capabilityMatches(source *distributor.Workload, candidates []*distributor.Workload, n int) []string {
	type ranked struct {
		name     string
		overlap  int
		capacity float64
	}
	var list []ranked
	for _, c := range candidates {
		r := ranked{name: c.Agent, capacity: distributor.CapacityScore(c)}
		for cat, count := range source.Categories {
			if count > 0 && c.HasCapability(cat) {
				r.overlap += count
			}
		}
		list = append(list, r)
	}
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].overlap != list[j].overlap {
			return list[i].overlap > list[j].overlap
		}
		return list[i].capacity > list[j].capacity
	})
	var out []string
	for _, r := range list {
		if len(out) == n {
			break
		}
		out = append(out, r.name)
	}
	return out
}

// escalateStale proposes system-wide escalations and notifies each
// recipient whose decisions call for it with one notice. A message is
// reported once for as long as it stays stale.
func (o *Orchestrator) escalateStale(ctx context.Context, report *CycleReport) {
	esc, err := o.priorities.EscalateStale(ctx, o.cfg.Orchestrator.EscalationHours, "")
	if err != nil {
		o.fail(report, "", "escalate", err)
		return
	}
	report.Escalations = esc.Escalated
	fresh := o.unnotified(esc.Escalated)

	byRecipient := map[string][]priority.EscalationDecision{}
	var order []string
	for _, d := range esc.Escalated {
		if !d.NotifyRequired || d.Recipient == o.name {
			continue
		}
		if _, ok := fresh[d.MessageID]; !ok {
			continue
		}
		if _, ok := byRecipient[d.Recipient]; !ok {
			order = append(order, d.Recipient)
		}
		byRecipient[d.Recipient] = append(byRecipient[d.Recipient], d)
	}
	for _, agent := range order {
		ds := byRecipient[agent]
		rec, err := o.notices.SendPriorityEscalation(ctx, agent, ds)
		if err != nil {
			o.fail(report, agent, "escalation_notice", err)
			continue
		}
		o.markNotified(ds)
		report.Actions = append(report.Actions, Action{
			Kind:     ActionEscalation,
			Agent:    agent,
			NoticeID: rec.ID,
			Detail:   fmt.Sprintf("%d messages", len(ds)),
		})
	}
}

// unnotified forgets ids that are no longer stale (read, deleted or
// otherwise gone) and returns the current ids not yet reported.
func (o *Orchestrator) unnotified(decisions []priority.EscalationDecision) map[string]struct{} {
	stale := make(map[string]struct{}, len(decisions))
	for _, d := range decisions {
		stale[d.MessageID] = struct{}{}
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	for id := range o.notified {
		if _, ok := stale[id]; !ok {
			delete(o.notified, id)
		}
	}
	for id := range o.notified {
		delete(stale, id)
	}
	return stale
}

func (o *Orchestrator) markNotified(decisions []priority.EscalationDecision) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, d := range decisions {
		o.notified[d.MessageID] = struct{}{}
	}
}

// escalateOverdue re-sends each overdue notice once. Escalation notices
// themselves are not escalated again.
func (o *Orchestrator) escalateOverdue(ctx context.Context, report *CycleReport) {
	for _, od := range o.notices.CheckOverdue() {
		r := od.Record
		if r.EscalatedAt != nil || r.EscalationOf != "" {
			continue
		}
		esc, err := o.notices.Escalate(ctx, r.ID)
		if err != nil {
			o.fail(report, r.Recipient, "escalate_notice", err)
			continue
		}
		report.OverdueEscalated++
		report.Actions = append(report.Actions, Action{
			Kind:     ActionOverdue,
			Agent:    r.Recipient,
			NoticeID: esc.ID,
			Detail:   fmt.Sprintf("%s overdue %.1fh", r.ID, od.HoursOverdue),
		})
	}
}
