// Package notice sends orchestrator-authored notices through the mailbox
// and tracks their acknowledgment in a bounded in-memory ledger. The ledger
// does not survive a restart.
package notice

import (
	"fmt"
	"time"

	"github.com/zulandar/mailroom/internal/mailbox"
	"github.com/zulandar/mailroom/internal/models"
)

// Type names a kind of notice.
type Type string

// Notice types.
const (
	SystemAlert        Type = "system_alert"
	SystemBroadcast    Type = "system_broadcast"
	WorkloadSummary    Type = "workload_summary"
	PriorityEscalation Type = "priority_escalation"
	SystemMaintenance  Type = "system_maintenance"
	PerformanceAlert   Type = "performance_alert"
	SecurityNotice     Type = "security_notice"
)

// Kind holds the fixed delivery settings for a notice type.
type Kind struct {
	Priority    string
	RequiresAck bool
	// EscalateAfter is zero when the type never escalates.
	EscalateAfter time.Duration
	Icon          string
	Label         string
}

// Kinds is the notice type table.
var Kinds = map[Type]Kind{
	SystemAlert:        {models.PriorityUrgent, true, 2 * time.Hour, "🚨", "SYSTEM ALERT"},
	SystemBroadcast:    {models.PriorityHigh, false, 8 * time.Hour, "📢", "SYSTEM BROADCAST"},
	WorkloadSummary:    {models.PriorityHigh, false, 0, "📊", "ORCHESTRATOR SUMMARY"},
	PriorityEscalation: {models.PriorityUrgent, true, time.Hour, "⚡", "PRIORITY ESCALATION"},
	SystemMaintenance:  {models.PriorityNormal, false, 24 * time.Hour, "🔧", "MAINTENANCE NOTICE"},
	PerformanceAlert:   {models.PriorityHigh, true, 4 * time.Hour, "📈", "PERFORMANCE ALERT"},
	SecurityNotice:     {models.PriorityUrgent, true, time.Hour, "🔒", "SECURITY NOTICE"},
}

// Types lists every notice type in display order.
var Types = []Type{SystemAlert, SystemBroadcast, WorkloadSummary, PriorityEscalation, SystemMaintenance, PerformanceAlert, SecurityNotice}

// Lookup returns the settings for t.
func Lookup(t Type) (Kind, error) {
	k, ok := Kinds[t]
	if !ok {
		return Kind{}, fmt.Errorf("notice: unknown type %q: %w", t, mailbox.ErrValidation)
	}
	return k, nil
}

// ParseType validates a type name.
func ParseType(s string) (Type, error) {
	t := Type(s)
	if _, err := Lookup(t); err != nil {
		return "", err
	}
	return t, nil
}
