package distributor

import (
	"fmt"
	"math"
	"sort"

	"github.com/zulandar/mailroom/internal/classify"
	"github.com/zulandar/mailroom/internal/models"
)

// Strategy selects how a redistribution is split across targets.
type Strategy string

// Redistribution strategies.
const (
	Equal            Strategy = "equal"
	CapabilityBased  Strategy = "capability_based"
	WorkloadBalanced Strategy = "workload_balanced"
	PriorityFocused  Strategy = "priority_focused"
)

// Strategies lists every valid Strategy.
var Strategies = []Strategy{Equal, CapabilityBased, WorkloadBalanced, PriorityFocused}

// ParseStrategy validates s. An empty string selects WorkloadBalanced.
func ParseStrategy(s string) (Strategy, error) {
	if s == "" {
		return WorkloadBalanced, nil
	}
	for _, st := range Strategies {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("distributor: unknown strategy %q", s)
}

// Caps on how many messages a single plan moves.
const (
	EqualCap            = 20
	WorkloadBalancedCap = 25
	CapabilitySample    = 50
)

// Allocation is the share of a plan assigned to one target.
type Allocation struct {
	Agent           string         `json:"agent"`
	Count           int            `json:"message_count"`
	CurrentWorkload int            `json:"current_workload,omitempty"`
	Categories      []string       `json:"categories,omitempty"`
	Priorities      map[string]int `json:"priorities,omitempty"`
}

// Plan is a proposed redistribution. Allocations keep target order.
type Plan struct {
	Strategy    Strategy     `json:"strategy"`
	Total       int          `json:"total_redistributed"`
	Allocations []Allocation `json:"distribution"`
	Rationale   string       `json:"rationale"`
}

// Allocation returns the entry for agent, or nil.
func (p *Plan) Allocation(agent string) *Allocation {
	for i := range p.Allocations {
		if p.Allocations[i].Agent == agent {
			return &p.Allocations[i]
		}
	}
	return nil
}

func (p *Plan) add(agent string, n int) *Allocation {
	if a := p.Allocation(agent); a != nil {
		a.Count += n
		p.Total += n
		return a
	}
	p.Allocations = append(p.Allocations, Allocation{Agent: agent, Count: n})
	p.Total += n
	return &p.Allocations[len(p.Allocations)-1]
}

// split divides n across k slots, the remainder going to the first slots.
func split(n, k int) []int {
	out := make([]int, k)
	if k == 0 {
		return out
	}
	for i := range out {
		out[i] = n / k
		if i < n%k {
			out[i]++
		}
	}
	return out
}

func equalPlan(source *Workload, targets []*Workload) *Plan {
	p := &Plan{Strategy: Equal, Rationale: "Distribute workload equally among all available agents"}
	total := min(source.Unread/2, EqualCap)
	for i, n := range split(total, len(targets)) {
		if n > 0 {
			p.add(targets[i].Agent, n)
		}
	}
	return p
}

// capabilityPlan routes each category of the source's unread sample to the
// targets able to handle it, or to every target when none can.
func capabilityPlan(sample []models.Message, targets []*Workload) *Plan {
	p := &Plan{Strategy: CapabilityBased, Rationale: "Match message types to agents with relevant capabilities"}
	counts := classify.NewCounter()
	for i := range sample {
		if !sample[i].Read {
			counts.Add(classify.Capability(&sample[i]))
		}
	}
	for _, e := range counts.Top(0) {
		var capable []*Workload
		for _, t := range targets {
			if t.HasCapability(e.Key) {
				capable = append(capable, t)
			}
		}
		if len(capable) == 0 {
			capable = targets
		}
		for i, n := range split(e.Count, len(capable)) {
			if n == 0 {
				continue
			}
			a := p.add(capable[i].Agent, n)
			a.Categories = append(a.Categories, e.Key)
		}
	}
	return p
}

// workloadBalancedPlan weights each target by 1/(unread+1). Whole shares
// are assigned first and the remainder goes to the largest fractional
// shares, so the plan always moves the full total.
func workloadBalancedPlan(source *Workload, targets []*Workload) *Plan {
	p := &Plan{Strategy: WorkloadBalanced, Rationale: "Balance workloads by giving more tasks to less busy agents"}
	if len(targets) == 0 {
		return p
	}
	sorted := append([]*Workload(nil), targets...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Unread < sorted[j].Unread })

	total := min(source.Unread/2, WorkloadBalancedCap)
	var weightSum float64
	for _, t := range sorted {
		weightSum += 1 / float64(t.Unread+1)
	}

	shares := make([]int, len(sorted))
	fracs := make([]float64, len(sorted))
	assigned := 0
	for i, t := range sorted {
		exact := (1 / float64(t.Unread+1)) / weightSum * float64(total)
		shares[i] = int(math.Floor(exact))
		fracs[i] = exact - float64(shares[i])
		assigned += shares[i]
	}
	order := make([]int, len(sorted))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return fracs[order[a]] > fracs[order[b]] })
	for _, i := range order {
		if assigned >= total {
			break
		}
		shares[i]++
		assigned++
	}

	for i, t := range sorted {
		if shares[i] == 0 {
			continue
		}
		a := p.add(t.Agent, shares[i])
		a.CurrentWorkload = t.Unread
	}
	return p
}

// priorityFocusedPlan moves every unread tier. Urgent and high mail only
// goes to the two targets with the most capacity.
func priorityFocusedPlan(source *Workload, targets []*Workload) *Plan {
	p := &Plan{Strategy: PriorityFocused, Rationale: "Distribute high-priority messages to highest-capacity agents"}
	sorted := append([]*Workload(nil), targets...)
	sort.SliceStable(sorted, func(i, j int) bool { return CapacityScore(sorted[i]) > CapacityScore(sorted[j]) })

	for _, prio := range models.Priorities {
		count := source.Priorities[prio]
		if count == 0 {
			continue
		}
		subset := sorted
		if (prio == models.PriorityUrgent || prio == models.PriorityHigh) && len(subset) > 2 {
			subset = subset[:2]
		}
		for i, n := range split(count, len(subset)) {
			if n == 0 {
				continue
			}
			a := p.add(subset[i].Agent, n)
			if a.Priorities == nil {
				a.Priorities = map[string]int{}
			}
			a.Priorities[prio] = n
		}
	}
	return p
}
