// Package distributor measures agent workloads and plans how to move
// unread mail from overloaded agents to ones with spare capacity.
package distributor

import (
	"math"
	"time"

	"github.com/zulandar/mailroom/internal/classify"
	"github.com/zulandar/mailroom/internal/mailbox"
	"github.com/zulandar/mailroom/internal/models"
)

// Status is a coarse workload level derived from the unread count.
type Status string

// Workload levels, lightest first.
const (
	StatusIdle        Status = "idle"
	StatusLowLoad     Status = "low_load"
	StatusNormalLoad  Status = "normal_load"
	StatusHighLoad    Status = "high_load"
	StatusOverwhelmed Status = "overwhelmed"
)

// Unread-count thresholds for each status.
const (
	OverwhelmedThreshold = 50
	HighLoadThreshold    = 30
	NormalLoadThreshold  = 15
	LowLoadThreshold     = 5
)

// StatusFor maps an unread count to a Status.
func StatusFor(unread int) Status {
	switch {
	case unread >= OverwhelmedThreshold:
		return StatusOverwhelmed
	case unread >= HighLoadThreshold:
		return StatusHighLoad
	case unread >= NormalLoadThreshold:
		return StatusNormalLoad
	case unread >= LowLoadThreshold:
		return StatusLowLoad
	default:
		return StatusIdle
	}
}

// Available reports whether an agent at this level can take more work.
func (s Status) Available() bool {
	return s == StatusIdle || s == StatusLowLoad || s == StatusNormalLoad
}

// Age bucket boundaries for unread mail.
const (
	FreshAge    = 8 * time.Hour
	ModerateAge = 48 * time.Hour
)

// AgeBuckets counts unread mail by age.
type AgeBuckets struct {
	Fresh    int `json:"fresh"`
	Moderate int `json:"moderate"`
	Stale    int `json:"stale"`
}

// Workload describes one agent's inbox at a point in time.
type Workload struct {
	Agent           string         `json:"agent_name"`
	Unread          int            `json:"unread_count"`
	TotalMessages   int64          `json:"total_messages"`
	Status          Status         `json:"status"`
	Priorities      map[string]int `json:"priority_breakdown"`
	Categories      map[string]int `json:"category_breakdown"`
	SenderDiversity int            `json:"sender_diversity"`
	Ages            AgeBuckets     `json:"age_distribution"`
	Capabilities    []string       `json:"inferred_capabilities"`
	RecentActivity  int64          `json:"recent_activity"`
}

// HasCapability reports whether name was inferred for the agent.
func (w *Workload) HasCapability(name string) bool {
	for _, c := range w.Capabilities {
		if c == name {
			return true
		}
	}
	return false
}

// BuildWorkload derives a Workload from an agent's stats and recent mail,
// newest first. The unread count comes from stats; histograms cover the
// unread part of msgs.
func BuildWorkload(agent string, stats mailbox.Stats, msgs []models.Message, now time.Time) *Workload {
	w := &Workload{
		Agent:          agent,
		Unread:         int(stats.Unread),
		TotalMessages:  stats.TotalReceived,
		Priorities:     map[string]int{},
		Categories:     map[string]int{},
		Capabilities:   classify.AgentCapabilities(msgs),
		RecentActivity: stats.RecentActivity,
	}
	senders := map[string]bool{}
	for i := range msgs {
		m := &msgs[i]
		if m.Read {
			continue
		}
		w.Priorities[m.Priority]++
		w.Categories[classify.Capability(m)]++
		senders[m.Sender] = true
		switch age := m.Age(now); {
		case age < FreshAge:
			w.Ages.Fresh++
		case age < ModerateAge:
			w.Ages.Moderate++
		default:
			w.Ages.Stale++
		}
	}
	w.SenderDiversity = len(senders)
	if w.Capabilities == nil {
		w.Capabilities = []string{}
	}
	w.Status = StatusFor(w.Unread)
	return w
}

var statusBase = map[Status]float64{
	StatusIdle:        1.0,
	StatusLowLoad:     0.8,
	StatusNormalLoad:  0.5,
	StatusHighLoad:    0.2,
	StatusOverwhelmed: 0.0,
}

// CapacityScore rates how much more work an agent can take, in [0, 1].
// Recent activity and a high share of fresh mail both lower it.
func CapacityScore(w *Workload) float64 {
	activity := math.Max(0.1, 1-float64(w.RecentActivity)/50)
	freshRatio := float64(w.Ages.Fresh) / float64(max(w.Unread, 1))
	age := math.Max(0.1, 1-freshRatio*0.5)
	score := statusBase[w.Status] * math.Min(activity, 1) * math.Min(age, 1)
	return math.Max(0, math.Min(score, 1))
}
