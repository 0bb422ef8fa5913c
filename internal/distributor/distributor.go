package distributor

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/zulandar/mailroom/internal/classify"
	"github.com/zulandar/mailroom/internal/mailbox"
	"github.com/zulandar/mailroom/internal/models"
)

// HistoryLimit caps the messages read per agent for workload analysis.
const HistoryLimit = 200

// MaxCandidates caps automatically selected redistribution targets.
const MaxCandidates = 5

// SystemPrefix marks infrastructure agents that never receive work.
const SystemPrefix = "system-"

// Reader is the slice of the message store the distributor needs.
type Reader interface {
	List(ctx context.Context, recipient string, unreadOnly bool, limit int) ([]models.Message, error)
	Stats(ctx context.Context, agent string) (mailbox.Stats, error)
	ListAgents(ctx context.Context) ([]models.Agent, error)
	Now() time.Time
}

// Distributor analyses workloads and plans redistributions. It never
// moves mail itself.
type Distributor struct {
	store Reader
	self  string
	log   *slog.Logger
}

// New returns a Distributor over store. self names the orchestrator agent,
// which is never treated as a worker.
func New(store Reader, self string) *Distributor {
	return &Distributor{store: store, self: self, log: slog.Default()}
}

// WithLogger sets the logger used to report agents skipped during analysis.
func (d *Distributor) WithLogger(l *slog.Logger) *Distributor {
	if l != nil {
		d.log = l
	}
	return d
}

// isWorker reports whether name may appear in cohorts and target lists.
func (d *Distributor) isWorker(name string) bool {
	return name != d.self && !strings.HasPrefix(name, SystemPrefix)
}

// AnalyzeWorkload builds agent's current Workload.
func (d *Distributor) AnalyzeWorkload(ctx context.Context, agent string) (*Workload, error) {
	stats, err := d.store.Stats(ctx, agent)
	if err != nil {
		return nil, fmt.Errorf("distributor: stats %s: %w", agent, err)
	}
	msgs, err := d.store.List(ctx, agent, false, HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("distributor: messages %s: %w", agent, err)
	}
	return BuildWorkload(agent, stats, msgs, d.store.Now()), nil
}

// workers analyses every worker agent. An agent whose analysis fails is
// logged and left out; only a failed listing or a done context is an error.
func (d *Distributor) workers(ctx context.Context) ([]*Workload, error) {
	agents, err := d.store.ListAgents(ctx)
	if err != nil {
		return nil, fmt.Errorf("distributor: list agents: %w", err)
	}
	var out []*Workload
	for _, a := range agents {
		if !d.isWorker(a.Name) {
			continue
		}
		w, err := d.AnalyzeWorkload(ctx, a.Name)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, fmt.Errorf("distributor: %w", ctxErr)
			}
			d.log.Warn("distributor: skipping agent", "agent", a.Name, "error", err)
			continue
		}
		out = append(out, w)
	}
	return out, nil
}

// AvailableAgents returns up to MaxCandidates workers other than exclude
// whose status leaves room for more work, most capacity first.
func (d *Distributor) AvailableAgents(ctx context.Context, exclude string) ([]*Workload, error) {
	all, err := d.workers(ctx)
	if err != nil {
		return nil, err
	}
	var out []*Workload
	for _, w := range all {
		if w.Agent != exclude && w.Status.Available() {
			out = append(out, w)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return CapacityScore(out[i]) > CapacityScore(out[j]) })
	if len(out) > MaxCandidates {
		out = out[:MaxCandidates]
	}
	return out, nil
}

// Redistribution is the outcome of Redistribute.
type Redistribution struct {
	Needed          bool      `json:"redistribution_needed"`
	Possible        bool      `json:"redistribution_possible"`
	Reason          string    `json:"reason,omitempty"`
	Recommendation  string    `json:"recommendation,omitempty"`
	Source          string    `json:"overloaded_agent"`
	Targets         []string  `json:"target_agents,omitempty"`
	Strategy        Strategy  `json:"strategy_used,omitempty"`
	Current         *Workload `json:"current_workload"`
	Plan            *Plan     `json:"redistribution_plan,omitempty"`
	Impact          *Impact   `json:"impact_analysis,omitempty"`
	Recommendations []string  `json:"recommendations,omitempty"`
	Recommended     bool      `json:"recommended"`
}

// Redistribute plans moving part of source's unread mail to targets. With
// no targets the best available workers are chosen. Sources below the
// high-load threshold are left alone.
func (d *Distributor) Redistribute(ctx context.Context, source string, targets []string, strategy Strategy) (*Redistribution, error) {
	sw, err := d.AnalyzeWorkload(ctx, source)
	if err != nil {
		return nil, err
	}
	r := &Redistribution{Source: source, Current: sw}
	if sw.Unread < HighLoadThreshold {
		r.Reason = fmt.Sprintf("Agent %s workload is manageable (%d messages)", source, sw.Unread)
		return r, nil
	}
	r.Needed = true

	var tws []*Workload
	if len(targets) == 0 {
		if tws, err = d.AvailableAgents(ctx, source); err != nil {
			return nil, err
		}
	} else {
		for _, name := range targets {
			if name == source {
				continue
			}
			w, err := d.AnalyzeWorkload(ctx, name)
			if err != nil {
				return nil, err
			}
			tws = append(tws, w)
		}
	}
	if len(tws) == 0 {
		r.Reason = "No available agents found for redistribution"
		r.Recommendation = "Consider generating summary for overwhelmed agent"
		return r, nil
	}
	r.Possible = true
	for _, w := range tws {
		r.Targets = append(r.Targets, w.Agent)
	}

	plan, err := d.plan(ctx, sw, tws, strategy)
	if err != nil {
		return nil, err
	}
	unread := make(map[string]int, len(tws))
	for _, w := range tws {
		unread[w.Agent] = w.Unread
	}
	r.Strategy = plan.Strategy
	r.Plan = plan
	r.Impact = ComputeImpact(sw.Unread, plan, unread)
	r.Recommendations = recommendations(plan)
	r.Recommended = plan.Total > 0 && r.Impact.Effectiveness.Score >= RecommendThreshold
	return r, nil
}

func (d *Distributor) plan(ctx context.Context, source *Workload, targets []*Workload, strategy Strategy) (*Plan, error) {
	switch strategy {
	case Equal:
		return equalPlan(source, targets), nil
	case CapabilityBased:
		sample, err := d.store.List(ctx, source.Agent, true, CapabilitySample)
		if err != nil {
			return nil, fmt.Errorf("distributor: sample %s: %w", source.Agent, err)
		}
		return capabilityPlan(sample, targets), nil
	case PriorityFocused:
		return priorityFocusedPlan(source, targets), nil
	default:
		return workloadBalancedPlan(source, targets), nil
	}
}

// LoadOverview counts workers per cohort. LowLoad includes idle agents.
type LoadOverview struct {
	TotalAgents int `json:"total_agents"`
	Overwhelmed int `json:"overwhelmed"`
	HighLoad    int `json:"high_load"`
	NormalLoad  int `json:"normal_load"`
	LowLoad     int `json:"low_load"`
}

// AgentLoad is one row of the workload table.
type AgentLoad struct {
	Agent        string   `json:"agent"`
	Unread       int      `json:"unread_count"`
	Status       Status   `json:"status"`
	Capabilities []string `json:"capabilities"`
}

// Opportunity pairs an overloaded agent with candidate receivers.
type Opportunity struct {
	From         string   `json:"from_agent"`
	To           []string `json:"to_agents"`
	MessageCount int      `json:"message_count"`
	Strategy     Strategy `json:"recommended_strategy"`
}

// Coverage is how many workers can handle a category.
type Coverage struct {
	Category      string  `json:"category"`
	CapableAgents int     `json:"capable_agents"`
	CoveragePct   float64 `json:"coverage_percentage"`
}

// LoadReport is a system-wide load balancing view.
type LoadReport struct {
	Timestamp       time.Time     `json:"timestamp"`
	Overview        LoadOverview  `json:"system_overview"`
	Workloads       []AgentLoad   `json:"workload_distribution"`
	Opportunities   []Opportunity `json:"redistribution_opportunities"`
	Coverage        []Coverage    `json:"capability_coverage"`
	Recommendations []string      `json:"recommendations"`
}

// LoadBalancing scans every worker and reports imbalances, redistribution
// opportunities and capability gaps.
func (d *Distributor) LoadBalancing(ctx context.Context) (*LoadReport, error) {
	all, err := d.workers(ctx)
	if err != nil {
		return nil, err
	}
	return BuildLoadReport(all, d.store.Now()), nil
}

// BuildLoadReport is the pure part of LoadBalancing.
func BuildLoadReport(all []*Workload, now time.Time) *LoadReport {
	r := &LoadReport{Timestamp: now}
	if len(all) == 0 {
		r.Recommendations = []string{"No active agents found"}
		return r
	}

	var overwhelmed, high, normal, low []*Workload
	for _, w := range all {
		r.Workloads = append(r.Workloads, AgentLoad{Agent: w.Agent, Unread: w.Unread, Status: w.Status, Capabilities: w.Capabilities})
		switch w.Status {
		case StatusOverwhelmed:
			overwhelmed = append(overwhelmed, w)
		case StatusHighLoad:
			high = append(high, w)
		case StatusNormalLoad:
			normal = append(normal, w)
		default:
			low = append(low, w)
		}
	}
	r.Overview = LoadOverview{
		TotalAgents: len(all),
		Overwhelmed: len(overwhelmed),
		HighLoad:    len(high),
		NormalLoad:  len(normal),
		LowLoad:     len(low),
	}

	var recs []string
	if len(overwhelmed) > 0 {
		recs = append(recs, fmt.Sprintf("🚨 %d agents overwhelmed - immediate redistribution needed", len(overwhelmed)))
		for _, w := range overwhelmed {
			recs = append(recs, fmt.Sprintf("   → %s: %d unread messages", w.Agent, w.Unread))
		}
	}
	if len(high) > 0 && len(low) > 0 {
		recs = append(recs, fmt.Sprintf("⚖️ Load imbalance detected: %d high-load vs %d low-load agents", len(high), len(low)))
		recs = append(recs, "   → Consider proactive task redistribution")
	}
	if float64(len(low))/float64(len(all)) > 0.5 {
		recs = append(recs, "💡 Many agents have low workload - opportunities for additional task assignment")
	}

	var receivers []string
	for _, w := range append(append([]*Workload(nil), low...), normal...) {
		receivers = append(receivers, w.Agent)
	}
	if len(receivers) > 3 {
		receivers = receivers[:3]
	}
	if len(receivers) > 0 {
		for _, w := range append(append([]*Workload(nil), overwhelmed...), high...) {
			r.Opportunities = append(r.Opportunities, Opportunity{
				From:         w.Agent,
				To:           receivers,
				MessageCount: w.Unread,
				Strategy:     WorkloadBalanced,
			})
		}
	}

	r.Coverage = coverage(all)
	var gaps []string
	for _, c := range r.Coverage {
		if c.CoveragePct < 50 {
			gaps = append(gaps, c.Category)
		}
	}
	if len(gaps) > 0 {
		recs = append(recs, "🎯 Capability gaps in: "+strings.Join(gaps, ", "))
		recs = append(recs, "   → Consider agent training or specialization")
	}
	r.Recommendations = recs
	return r
}

// coverage reports, for every capability seen in unread mail, the share of
// workers able to handle it. The catch-all bucket has no capability and
// is skipped.
func coverage(all []*Workload) []Coverage {
	seen := map[string]bool{}
	for _, w := range all {
		for c := range w.Categories {
			seen[c] = true
		}
	}
	delete(seen, classify.GeneralCapability)
	cats := make([]string, 0, len(seen))
	for c := range seen {
		cats = append(cats, c)
	}
	sort.Strings(cats)

	out := make([]Coverage, 0, len(cats))
	for _, c := range cats {
		capable := 0
		for _, w := range all {
			if w.HasCapability(c) {
				capable++
			}
		}
		out = append(out, Coverage{
			Category:      c,
			CapableAgents: capable,
			CoveragePct:   round(float64(capable)/float64(len(all))*100, 1),
		})
	}
	return out
}
