package classify

// Bucket is a named keyword list. Tables keep buckets in a fixed order so
// that score ties resolve the same way on every run.
type Bucket struct {
	Name     string
	Keywords []string
}

// Table is an ordered set of buckets.
type Table []Bucket

// Get returns the keywords for name, or nil.
func (t Table) Get(name string) []string {
	for _, b := range t {
		if b.Name == name {
			return b.Keywords
		}
	}
	return nil
}

// Names lists bucket names in table order.
func (t Table) Names() []string {
	out := make([]string, len(t))
	for i, b := range t {
		out[i] = b.Name
	}
	return out
}

// PriorityKeywords drive content-based priority scoring.
var PriorityKeywords = Table{
	{"urgent", []string{"critical", "emergency", "urgent", "immediate", "asap", "breaking", "crisis", "failure", "down", "error"}},
	{"high", []string{"important", "priority", "deadline", "soon", "required", "blocker", "blocking", "needs attention", "review needed"}},
	{"normal", []string{"update", "status", "information", "please", "when possible"}},
	{"low", []string{"fyi", "for your information", "heads up", "note", "eventually", "nice to have"}},
}

// StrongIndicators boost priority confidence when present.
var StrongIndicators = Table{
	{"urgent", []string{"critical", "emergency", "urgent"}},
	{"high", []string{"important", "deadline", "blocker"}},
	{"normal", []string{"update", "status"}},
	{"low", []string{"fyi", "heads up"}},
}

// UrgentTags push a message toward urgent when tagged with any of them.
var UrgentTags = []string{"urgent", "critical", "emergency", "blocker"}

// GeneralCommunication is the summary category for unmatched messages.
const GeneralCommunication = "general_communication"

// Categories classify messages for summaries.
var Categories = Table{
	{"task_assignment", []string{"task", "assignment", "project", "deliverable", "work on"}},
	{"code_review", []string{"review", "code", "pull request", "merge", "feedback"}},
	{"meeting_coordination", []string{"meeting", "schedule", "calendar", "time", "availability"}},
	{"status_update", []string{"status", "update", "progress", "completed", "finished"}},
	{"question", []string{"question", "clarification", "help", "how to", "what is"}},
	{"decision_needed", []string{"decision", "approval", "choose", "decide", "option"}},
	{"escalation", []string{"escalation", "issue", "problem", "blocker", "stuck"}},
	{"information_sharing", []string{"fyi", "information", "heads up", "notice", "announcement"}},
}

// GeneralCapability is the capability bucket for unmatched messages.
const GeneralCapability = "general"

// Capabilities infer what kind of work an agent handles.
var Capabilities = Table{
	{"code", []string{"code", "programming", "development", "review", "debug", "fix"}},
	{"documentation", []string{"docs", "documentation", "writing", "readme", "guide"}},
	{"analysis", []string{"analyze", "analysis", "data", "research", "investigate"}},
	{"coordination", []string{"coordinate", "manage", "schedule", "meeting", "plan"}},
	{"support", []string{"support", "help", "assist", "customer", "user"}},
	{"testing", []string{"test", "testing", "qa", "quality", "validation"}},
}

// ActionKeywords mark a message as carrying a request.
var ActionKeywords = []string{
	"please", "request", "need", "require", "must", "should",
	"action required", "please review", "please confirm",
	"deadline", "due", "asap", "urgent", "complete", "finish",
	"respond", "reply", "feedback", "approval", "decision",
}

// CriticalKeywords flag urgent content regardless of stored priority.
var CriticalKeywords = []string{
	"critical", "emergency", "urgent", "immediate", "crisis",
	"failure", "down", "broken", "error", "issue", "problem",
}

// UrgencyReasonKeywords are the critical keywords quoted when explaining
// why an item was flagged.
var UrgencyReasonKeywords = []string{"critical", "emergency", "immediate", "crisis", "failure", "down"}

// QuestionWords start interrogative sentences.
var QuestionWords = []string{"what", "when", "where", "who", "why", "how"}

var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "but": true,
	"in": true, "on": true, "at": true, "to": true, "for": true, "of": true,
	"with": true, "by": true, "is": true, "are": true, "was": true, "were": true,
}
