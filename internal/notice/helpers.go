package notice

import (
	"context"
	"fmt"
	"strings"

	"github.com/zulandar/mailroom/internal/priority"
)

// maxListedEscalations caps the per-message lines in an escalation notice.
const maxListedEscalations = 10

// SummaryCounts describes the mailbox a workload summary was built from.
type SummaryCounts struct {
	Total  int
	Unread int
	Urgent int
}

// SendWorkloadSummary delivers a rendered summary to an overloaded agent.
func (m *Manager) SendWorkloadSummary(ctx context.Context, recipient, summary string, c SummaryCounts) (*Record, error) {
	subject := fmt.Sprintf("Workload Summary - %d Messages Prioritized", c.Unread)
	return m.Send(ctx, recipient, subject, summary, WorkloadSummary, map[string]any{
		"summary_type":    "workload_optimization",
		"message_count":   c.Total,
		"unread_count":    c.Unread,
		"urgent_count":    c.Urgent,
		"action_required": "Review and follow recommended sequence",
		"generated_at":    m.store.Now().Format("2006-01-02T15:04:05Z"),
	})
}

// SendPriorityEscalation tells recipient which of their messages were
// proposed for escalation.
func (m *Manager) SendPriorityEscalation(ctx context.Context, recipient string, decisions []priority.EscalationDecision) (*Record, error) {
	n := len(decisions)
	var b strings.Builder
	fmt.Fprintf(&b, "**%d messages have been automatically escalated:**\n\n", n)
	for i, d := range decisions {
		if i == maxListedEscalations {
			fmt.Fprintf(&b, "... and %d more messages\n\n", n-maxListedEscalations)
			break
		}
		sender := d.Sender
		if sender == "" {
			sender = "Unknown"
		}
		fmt.Fprintf(&b, "**%d.** %s\n", i+1, d.Subject)
		fmt.Fprintf(&b, "   • From: %s\n", sender)
		fmt.Fprintf(&b, "   • Age: %.1f hours\n", d.AgeHours)
		fmt.Fprintf(&b, "   • Priority: %s\n\n", d.Transition())
	}
	b.WriteString("🎯 **Action Required**: Please review these escalated items immediately\n")
	b.WriteString("⏰ **Note**: Messages were escalated due to extended unread time")

	return m.Send(ctx, recipient, fmt.Sprintf("%d Messages Escalated Due to Age", n), b.String(), PriorityEscalation, map[string]any{
		"escalation_type":    "age_based",
		"escalated_count":    n,
		"escalation_trigger": "stale_messages",
		"action_required":    "immediate_review",
	})
}

// SendPerformanceAlert notifies every affected agent of a performance issue.
func (m *Manager) SendPerformanceAlert(ctx context.Context, issue string, affected []string, severity string) (map[string]string, error) {
	if severity == "" {
		severity = "high"
	}
	body := strings.Join([]string{
		"**Issue**: " + issue,
		"**Severity**: " + strings.ToUpper(severity),
		fmt.Sprintf("**Affected Agents**: %d", len(affected)),
		"",
		"**Impact Analysis**:",
		"• Message processing delays may occur",
		"• Response times may be slower than normal",
		"• System optimization is in progress",
		"",
		"**Recommended Actions**:",
		"• Prioritize urgent messages only",
		"• Defer non-critical tasks",
		"• Monitor for system updates",
	}, "\n")
	meta := map[string]any{
		"issue_type":           "performance",
		"severity":             severity,
		"affected_agent_count": len(affected),
		"auto_resolution":      "in_progress",
	}

	results := make(map[string]string, len(affected))
	for _, agent := range affected {
		rec, err := m.Send(ctx, agent, "System Performance Issue: "+issue, body, PerformanceAlert, meta)
		if err != nil {
			return results, err
		}
		results[agent] = rec.MessageID
	}
	return results, nil
}

// StatusSnapshot is the system view carried by a status broadcast.
type StatusSnapshot struct {
	Load            string
	TotalAgents     int
	ActiveAgents    int
	Unread          int
	UrgentNotices   int
	Bottlenecks     []string
	Recommendations []string
}

// BroadcastStatus sends a system status report to every agent.
func (m *Manager) BroadcastStatus(ctx context.Context, s StatusSnapshot) (map[string]string, error) {
	load := strings.ToUpper(s.Load)
	if load == "" {
		load = "UNKNOWN"
	}
	lines := []string{
		"**SYSTEM STATUS REPORT**",
		"",
		"**System Load**: " + load,
		fmt.Sprintf("**Total Agents**: %d", s.TotalAgents),
		fmt.Sprintf("**Active Agents**: %d", s.ActiveAgents),
		fmt.Sprintf("**Unread Messages**: %d", s.Unread),
		fmt.Sprintf("**Urgent Notices**: %d", s.UrgentNotices),
		"",
	}
	if len(s.Bottlenecks) > 0 {
		lines = append(lines, "**⚠️ Current Bottlenecks**:")
		for _, b := range s.Bottlenecks {
			lines = append(lines, "• "+b)
		}
		lines = append(lines, "")
	}
	if len(s.Recommendations) > 0 {
		lines = append(lines, "**📋 System Recommendations**:")
		for i, r := range s.Recommendations {
			if i == 5 {
				break
			}
			lines = append(lines, "• "+r)
		}
		lines = append(lines, "")
	}
	lines = append(lines, "**🎯 Action Required**: Review personal workload and coordinate as needed")

	return m.Broadcast(ctx, "System Status Update - Load: "+load, strings.Join(lines, "\n"), SystemBroadcast, nil, map[string]any{
		"status_type": "system_overview",
		"system_load": s.Load,
		"timestamp":   m.store.Now().Format("2006-01-02T15:04:05Z"),
	})
}
