package notice

import (
	"fmt"
	"strings"
	"time"
)

// highlighted metadata keys, in display order.
var highlighted = []string{"deadline", "impact", "action_required", "contact"}

func envelope(sender, body string, typ Type, kind Kind, metadata map[string]any, now time.Time) string {
	var p []string
	add := func(lines ...string) { p = append(p, lines...) }

	add(
		fmt.Sprintf("%s **%s**", kind.Icon, kind.Label),
		fmt.Sprintf("**From**: System Orchestrator (%s)", sender),
		fmt.Sprintf("**Time**: %s", now.UTC().Format("2006-01-02 15:04:05 UTC")),
		fmt.Sprintf("**Priority**: %s", strings.ToUpper(kind.Priority)),
	)
	if kind.RequiresAck {
		add("**⚠️ ACKNOWLEDGMENT REQUIRED**: Please confirm receipt")
	}
	add("", "---", "", body)

	switch typ {
	case WorkloadSummary:
		add("", "---",
			"📋 **How to Use This Summary**:",
			"• Review urgent items first (🚨)",
			"• Use the recommended action sequence",
			"• Focus on high-impact, quick-win items",
			"• Ask for help if overwhelmed")
	case PriorityEscalation:
		add("", "---",
			"⚡ **Escalation Reason**: Automatic priority adjustment",
			"🎯 **Required Action**: Address escalated items immediately")
	case SystemAlert:
		if kind.EscalateAfter > 0 {
			add("", "---",
				fmt.Sprintf("⏰ **Response Required Within**: %g hour(s)", kind.EscalateAfter.Hours()),
				"🔄 **Escalation**: Will auto-escalate if no response")
		}
	}

	var meta []string
	for _, key := range highlighted {
		if v, ok := metadata[key]; ok {
			meta = append(meta, fmt.Sprintf("• **%s**: %v", label(key), v))
		}
	}
	if len(meta) > 0 {
		add("", "---", "📋 **Additional Information**:")
		add(meta...)
	}

	add("", "---",
		"🤖 *This notice was sent automatically by the Mailroom orchestrator*",
		"*For system issues, check orchestrator status or contact an administrator*")
	return strings.Join(p, "\n")
}

// label turns "action_required" into "Action Required".
func label(key string) string {
	words := strings.Split(key, "_")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}
