package summary

import (
	"fmt"
	"strings"
	"time"

	"github.com/zulandar/mailroom/internal/classify"
	"github.com/zulandar/mailroom/internal/models"
)

// Mode selects a rendering strategy.
type Mode string

// Rendering strategies.
const (
	UrgentFirst  Mode = "urgent_first"
	BreadthFirst Mode = "breadth_first"
	Balanced     Mode = "balanced"
)

// Modes lists every valid Mode.
var Modes = []Mode{UrgentFirst, BreadthFirst, Balanced}

// ParseMode validates s. An empty string selects Balanced.
func ParseMode(s string) (Mode, error) {
	if s == "" {
		return Balanced, nil
	}
	for _, m := range Modes {
		if string(m) == s {
			return m, nil
		}
	}
	return "", fmt.Errorf("summary: unknown mode %q (want urgent_first, breadth_first or balanced)", s)
}

// CaughtUp is rendered for an empty batch.
const CaughtUp = "✅ **ORCHESTRATOR SUMMARY**: No unread messages found. All caught up!"

// Render formats msgs with the given mode. Output depends only on the
// arguments.
func Render(mode Mode, msgs []models.Message, now time.Time) string {
	if len(msgs) == 0 {
		return CaughtUp
	}
	a := Analyze(msgs, now)
	switch mode {
	case UrgentFirst:
		return renderUrgentFirst(a, msgs)
	case BreadthFirst:
		return renderBreadthFirst(a, msgs)
	default:
		return renderBalanced(a)
	}
}

type lines []string

func (l *lines) add(format string, args ...any) {
	*l = append(*l, fmt.Sprintf(format, args...))
}

func (l *lines) blank() { *l = append(*l, "") }

func (l lines) String() string { return strings.Join(l, "\n") }

func title(s string) string {
	words := strings.Fields(strings.ReplaceAll(s, "_", " "))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

func senderCounts(counter *classify.Counter, n int) string {
	var parts []string
	for _, e := range counter.Top(n) {
		parts = append(parts, fmt.Sprintf("%s (%d)", e.Key, e.Count))
	}
	return strings.Join(parts, ", ")
}

func renderUrgentFirst(a *Analysis, msgs []models.Message) string {
	var out lines
	out.add("🚨 **ORCHESTRATOR PRIORITY SUMMARY** - Urgent First Approach")
	out.add("📊 **Total Unread**: %d messages", a.Total)
	out.blank()

	if len(a.Urgent) > 0 {
		out.add("🔥 **IMMEDIATE ACTION REQUIRED** (Handle First):")
		for i, item := range head(a.Urgent, 5) {
			out.add("   **%d.** From %s (%.1fh ago)", i+1, item.Sender, item.AgeHours)
			out.add("       Subject: %s", item.Subject)
			out.add("       Urgency: %s", item.Reason)
		}
		out.blank()
	}

	var highActions []ActionItem
	for _, item := range a.Actionable {
		if item.Priority == models.PriorityHigh {
			highActions = append(highActions, item)
		}
	}
	if len(highActions) > 0 {
		out.add("⚡ **HIGH PRIORITY ACTIONS**:")
		for i, item := range head(highActions, 5) {
			out.add("   **%d.** %s: %s", i+1, item.Sender, item.Subject)
			if len(item.Phrases) > 0 {
				out.add("       Action: %s", item.Phrases[0])
			}
			if item.Deadline != "" {
				out.add("       Deadline: %s", item.Deadline)
			}
		}
		out.blank()
	}

	var urgentQs []QuestionItem
	for _, q := range a.Questions {
		if q.Urgent {
			urgentQs = append(urgentQs, q)
		}
	}
	if len(urgentQs) > 0 {
		out.add("❓ **URGENT QUESTIONS** (Need Response):")
		for i, q := range head(urgentQs, 3) {
			out.add("   **%d.** From %s: %s", i+1, q.Sender, q.Subject)
			if len(q.Questions) > 0 {
				out.add("       Q: %s", q.Questions[0])
			}
		}
		out.blank()
	}

	var overdue []StaleItem
	for _, s := range a.Stale {
		if s.Priority == models.PriorityUrgent || s.Priority == models.PriorityHigh {
			overdue = append(overdue, s)
		}
	}
	if len(overdue) > 0 {
		out.add("⏰ **OVERDUE ITEMS** (>48h old):")
		for i, s := range head(overdue, 3) {
			out.add("   **%d.** %s: %s (%.1fh)", i+1, s.Sender, s.Subject, s.AgeHours)
		}
		out.blank()
	}

	if n := a.Priorities.Get(models.PriorityNormal); n > 0 {
		out.add("📋 **NORMAL PRIORITY**: %d messages (review after urgent items)", n)
		senders := classify.NewCounter()
		for i := range msgs {
			if msgs[i].Priority == models.PriorityNormal {
				senders.Add(msgs[i].Sender)
			}
		}
		out.add("   Top senders: %s", senderCounts(senders, 3))
		out.blank()
	}

	out.add("🎯 **RECOMMENDED ACTION SEQUENCE**:")
	out.add("1. Handle all urgent items immediately")
	out.add("2. Respond to urgent questions")
	out.add("3. Address overdue high-priority items")
	out.add("4. Process high-priority actions")
	out.add("5. Review normal priority in sender groups")
	return out.String()
}

// breadthCategories is the processing order for the breadth-first view.
var breadthCategories = []struct {
	name    string
	display string
}{
	{"task_assignment", "📋 Task Assignments"},
	{"decision_needed", "⚖️ Decisions Needed"},
	{"question", "❓ Questions"},
	{"code_review", "👁️ Code Reviews"},
	{"escalation", "🚨 Escalations"},
	{"status_update", "📊 Status Updates"},
	{"meeting_coordination", "📅 Meeting Coordination"},
	{"information_sharing", "📢 Information Sharing"},
}

func renderBreadthFirst(a *Analysis, msgs []models.Message) string {
	var out lines
	out.add("📋 **ORCHESTRATOR BREADTH SUMMARY** - Equal Priority Distribution")
	out.add("📊 **Total Unread**: %d messages", a.Total)
	out.blank()

	out.add("⚖️ **PRIORITY DISTRIBUTION**:")
	for _, p := range models.Priorities {
		if n := a.Priorities.Get(p); n > 0 {
			out.add("   • %s: %d messages", title(p), n)
		}
	}
	out.blank()

	out.add("🗂️ **BY CATEGORY** (Process in parallel):")
	for _, c := range breadthCategories {
		n := a.Categories.Get(c.name)
		if n == 0 {
			continue
		}
		out.add("**%s** (%d messages):", c.display, n)

		var inCategory []models.Message
		for i := range msgs {
			if a.CategoryOf(msgs[i].ID) == c.name {
				inCategory = append(inCategory, msgs[i])
			}
		}
		groups := groupBySender(head(inCategory, 10))
		for _, g := range head(groups, 3) {
			out.add("   • %s: %d messages", g.sender, len(g.msgs))
			if len(g.msgs) == 1 {
				out.add("     → %s", g.msgs[0].Subject)
			} else {
				out.add("     → Latest: %s", g.msgs[0].Subject)
			}
		}
		out.blank()
	}

	if len(a.Threads) > 0 {
		out.add("🧵 **ACTIVE CONVERSATIONS** (Process by thread):")
		for _, t := range head(a.Threads, 5) {
			latest := t.Latest()
			out.add("   • Thread with %s: %d messages", latest.Sender, len(t.Messages))
			out.add("     → Latest: %s", latest.Subject)
		}
		out.blank()
	}

	out.add("👥 **BY SENDER** (Batch process):")
	for _, e := range a.Senders.Top(5) {
		out.add("   • %s: %d messages", e.Key, e.Count)
	}
	out.blank()

	out.add("🎯 **BREADTH-FIRST PROCESSING STRATEGY**:")
	out.add("1. **Quick triage**: Scan all urgent/high priority items first")
	out.add("2. **Category rotation**: Spend 15-20 min per category")
	out.add("3. **Sender batching**: Process all messages from one sender together")
	out.add("4. **Thread completion**: Finish entire conversation threads")
	out.add("5. **Time boxing**: Set fixed time limits to prevent getting stuck")
	out.blank()
	out.add("💡 **Tip**: This approach ensures progress across all areas rather than deep-diving into one.")
	return out.String()
}

func renderBalanced(a *Analysis) string {
	var out lines
	out.add("⚖️ **ORCHESTRATOR BALANCED SUMMARY** - Smart Prioritization")
	out.add("📊 **Total Unread**: %d messages", a.Total)
	out.blank()

	if len(a.Urgent) > 0 {
		out.add("🚨 **CRITICAL ITEMS** (Handle immediately):")
		for i, item := range head(a.Urgent, 3) {
			out.add("   **%d.** %s: %s (%.1fh)", i+1, item.Sender, item.Subject, item.AgeHours)
		}
		out.blank()
	}

	out.add("📈 **PRIORITY OVERVIEW**:")
	for _, p := range models.Priorities {
		n := a.Priorities.Get(p)
		if n == 0 {
			continue
		}
		actionable := 0
		for _, item := range a.Actionable {
			if item.Priority == p {
				actionable++
			}
		}
		out.add("   • **%s**: %d total (%d actionable)", title(p), n, actionable)
	}
	out.blank()

	out.add("🎯 **SMART GROUPING** (Optimized for efficiency):")
	var quick []ActionItem
	for _, item := range a.Actionable {
		if item.Priority != models.PriorityNormal && item.Priority != models.PriorityHigh {
			continue
		}
		if len(item.Phrases) == 0 || len(item.Phrases[0]) < 100 {
			quick = append(quick, item)
		}
	}
	if len(quick) > 0 {
		out.add("⚡ **Quick Actions** (%d items - 5-10 min each):", len(quick))
		for _, item := range head(quick, 4) {
			out.add("   • %s: %s", item.Sender, item.Subject)
		}
		out.blank()
	}

	if len(a.Questions) > 0 {
		out.add("❓ **Questions** (%d items - batch respond):", len(a.Questions))
		for _, q := range head(a.Questions, 3) {
			out.add("   • %s: %s", q.Sender, q.Subject)
		}
		out.blank()
	}

	if len(a.Threads) > 0 {
		out.add("🤝 **Active Threads** (%d conversations):", len(a.Threads))
		for _, t := range head(a.Threads, 3) {
			out.add("   • %s: %d messages in thread", t.Latest().Sender, len(t.Messages))
		}
		out.blank()
	}

	if len(a.Stale) > 0 {
		out.add("⏰ **Stale Items** (%d overdue):", len(a.Stale))
		for _, s := range head(a.Stale, 3) {
			out.add("   • %s: %s (%.1fh)", s.Sender, s.Subject, s.AgeHours)
		}
		out.blank()
	}

	if top := a.Categories.Top(3); len(top) > 0 {
		out.add("📊 **Top Categories**:")
		for _, e := range top {
			out.add("   • %s: %d messages", title(e.Key), e.Count)
		}
		out.blank()
	}

	if len(a.KeyTopics) > 0 {
		out.add("🔑 **Key Topics**: %s", strings.Join(head(a.KeyTopics, 5), ", "))
		out.blank()
	}

	out.add("🎯 **BALANCED PROCESSING STRATEGY**:")
	out.add("**Phase 1 (30 min)**: Handle all critical items + quick actions")
	out.add("**Phase 2 (45 min)**: Process high-priority items + respond to questions")
	out.add("**Phase 3 (30 min)**: Address stale items + active threads")
	out.add("**Phase 4 (Ongoing)**: Batch process normal priority by category")
	out.blank()
	out.add("💡 **Focus**: Complete urgent work first, then maintain momentum with mixed priority levels")
	return out.String()
}

type senderGroup struct {
	sender string
	msgs   []models.Message
}

func groupBySender(msgs []models.Message) []senderGroup {
	var groups []senderGroup
	idx := map[string]int{}
	for _, m := range msgs {
		i, ok := idx[m.Sender]
		if !ok {
			i = len(groups)
			idx[m.Sender] = i
			groups = append(groups, senderGroup{sender: m.Sender})
		}
		groups[i].msgs = append(groups[i].msgs, m)
	}
	return groups
}

func head[T any](list []T, n int) []T {
	if len(list) > n {
		return list[:n]
	}
	return list
}

// DigestWindow is the span covered by DailyDigest.
const DigestWindow = 24 * time.Hour

// DailyDigest reports on agent's mail from the last DigestWindow, read or
// not.
func DailyDigest(agent string, msgs []models.Message, now time.Time) string {
	since := now.Add(-DigestWindow)
	var recent []models.Message
	for _, m := range msgs {
		if !m.Timestamp.Before(since) {
			recent = append(recent, m)
		}
	}
	if len(recent) == 0 {
		return fmt.Sprintf("📅 **DAILY DIGEST** for %s\n\nNo new messages in the last 24 hours. All caught up! ✅", agent)
	}

	a := Analyze(recent, now)
	unread := 0
	for _, m := range recent {
		if !m.Read {
			unread++
		}
	}

	var out lines
	out.add("📅 **DAILY DIGEST** for %s", agent)
	out.add("📊 **Last 24 hours**: %d messages", len(recent))
	out.blank()
	out.add("📈 **Activity Summary**:")
	out.add("   • Total messages: %d", len(recent))
	out.add("   • Unread: %d", unread)
	out.add("   • Urgent: %d", a.Priorities.Get(models.PriorityUrgent))
	out.add("   • Actionable items: %d", len(a.Actionable))
	out.blank()

	out.add("👥 **Most Active Senders**:")
	for _, e := range a.Senders.Top(3) {
		out.add("   • %s: %d messages", e.Key, e.Count)
	}
	out.blank()

	if len(a.KeyTopics) > 0 {
		out.add("🔑 **Trending Topics**: %s", strings.Join(head(a.KeyTopics, 4), ", "))
		out.blank()
	}

	if unread > 0 {
		out.add("🎯 **Action Needed**: %d unread messages require attention", unread)
	} else {
		out.add("✅ **Status**: All messages processed - great work!")
	}
	return out.String()
}
