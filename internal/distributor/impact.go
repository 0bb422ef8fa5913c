package distributor

import (
	"fmt"
	"math"
)

// SourceImpact projects the overloaded agent's inbox after a plan.
type SourceImpact struct {
	Current         int     `json:"current_workload"`
	Redistributed   int     `json:"messages_redistributed"`
	Remaining       int     `json:"remaining_workload"`
	ReductionPct    float64 `json:"workload_reduction_pct"`
	PredictedStatus string  `json:"predicted_new_status"`
}

// TargetImpact projects one target's inbox after a plan.
type TargetImpact struct {
	Agent       string  `json:"agent"`
	Current     int     `json:"current_workload"`
	Additional  int     `json:"additional_messages"`
	New         int     `json:"new_workload"`
	IncreasePct float64 `json:"workload_increase_pct"`
}

// Effectiveness scores a plan in [0, 1].
type Effectiveness struct {
	Score           float64 `json:"score"`
	Rating          string  `json:"rating"`
	ReductionScore  float64 `json:"reduction_score"`
	StatusScore     float64 `json:"status_score"`
	OverloadPenalty float64 `json:"overload_penalty"`
}

// Impact is the projected outcome of a plan.
type Impact struct {
	Source        SourceImpact   `json:"overloaded_agent_impact"`
	Targets       []TargetImpact `json:"target_agents_impact"`
	Effectiveness Effectiveness  `json:"overall_effectiveness"`
}

// RecommendThreshold is the effectiveness score a plan needs to be
// recommended.
const RecommendThreshold = 0.6

// predictedStatus names the source's level after redistribution. Below the
// normal threshold it is simply manageable.
func predictedStatus(remaining int) string {
	switch {
	case remaining >= OverwhelmedThreshold:
		return string(StatusOverwhelmed)
	case remaining >= HighLoadThreshold:
		return string(StatusHighLoad)
	case remaining >= NormalLoadThreshold:
		return string(StatusNormalLoad)
	default:
		return "manageable"
	}
}

var statusScores = map[string]float64{
	"manageable":              1.0,
	string(StatusNormalLoad):  0.8,
	string(StatusHighLoad):    0.5,
	string(StatusOverwhelmed): 0.2,
}

// ComputeImpact projects plan against current unread counts. targetUnread
// maps each target to its unread count; missing targets count as empty.
func ComputeImpact(sourceUnread int, plan *Plan, targetUnread map[string]int) *Impact {
	remaining := sourceUnread - plan.Total
	var reduction float64
	if sourceUnread > 0 {
		reduction = float64(plan.Total) / float64(sourceUnread) * 100
	}
	status := predictedStatus(remaining)

	im := &Impact{
		Source: SourceImpact{
			Current:         sourceUnread,
			Redistributed:   plan.Total,
			Remaining:       remaining,
			ReductionPct:    round(reduction, 1),
			PredictedStatus: status,
		},
	}

	var penalty float64
	for _, a := range plan.Allocations {
		cur := targetUnread[a.Agent]
		t := TargetImpact{
			Agent:       a.Agent,
			Current:     cur,
			Additional:  a.Count,
			New:         cur + a.Count,
			IncreasePct: round(float64(a.Count)/float64(max(cur, 1))*100, 1),
		}
		if t.New > HighLoadThreshold {
			penalty += 0.3
		}
		im.Targets = append(im.Targets, t)
	}

	reductionScore := math.Min(reduction/50, 1)
	statusScore := statusScores[status]
	score := (reductionScore*0.4 + statusScore*0.6) * (1 - math.Min(penalty, 0.5))
	im.Effectiveness = Effectiveness{
		Score:           round(score, 2),
		Rating:          rating(score),
		ReductionScore:  round(reductionScore, 2),
		StatusScore:     round(statusScore, 2),
		OverloadPenalty: round(penalty, 2),
	}
	return im
}

func rating(score float64) string {
	switch {
	case score >= 0.8:
		return "Highly Effective"
	case score >= 0.6:
		return "Effective"
	case score >= 0.4:
		return "Moderately Effective"
	default:
		return "Low Effectiveness"
	}
}

func recommendations(plan *Plan) []string {
	if plan.Total == 0 {
		return []string{
			"ℹ️ No redistribution possible - focus on summary generation",
			"🔍 Consider if agent needs additional support or training",
		}
	}
	recs := []string{fmt.Sprintf("✅ Redistribute %d messages using %s strategy", plan.Total, plan.Strategy)}
	switch plan.Strategy {
	case CapabilityBased:
		recs = append(recs, "💡 Match message types to agent expertise for better efficiency")
	case WorkloadBalanced:
		recs = append(recs, "⚖️ Monitor workload balance after redistribution")
	case PriorityFocused:
		recs = append(recs, "🚨 Ensure high-priority messages get immediate attention")
	}
	return append(recs,
		"📊 Generate summary for overloaded agent before redistribution",
		"🔄 Follow up in 2-4 hours to assess redistribution effectiveness",
		"📈 Consider preventive measures to avoid future overload",
	)
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
