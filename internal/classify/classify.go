// Package classify holds the keyword heuristics shared by the priority,
// summary and distribution engines.
package classify

import (
	"regexp"
	"sort"
	"strings"

	"github.com/zulandar/mailroom/internal/models"
)

var (
	imperativePatterns = []*regexp.Regexp{
		regexp.MustCompile(`\bplease\s+\w+`),
		regexp.MustCompile(`\bneed\s+to\s+\w+`),
		regexp.MustCompile(`\bmust\s+\w+`),
		regexp.MustCompile(`\brequire\s+\w+`),
		regexp.MustCompile(`\baction\s+required`),
		regexp.MustCompile(`\bdeadline\b`),
		regexp.MustCompile(`\bdue\s+\w+`),
	}
	deadlinePatterns = []*regexp.Regexp{
		regexp.MustCompile(`deadline\s+(\w+\s+\w+)`),
		regexp.MustCompile(`due\s+(\w+\s+\w+)`),
		regexp.MustCompile(`by\s+(\w+day)`),
		regexp.MustCompile(`before\s+(\w+\s+\w+)`),
	}
	wordPattern = regexp.MustCompile(`\b\w+\b`)
)

// Text joins subject and body with their original casing.
func Text(m *models.Message) string {
	return m.Subject + " " + m.Body
}

// Content is the lowercased subject and body.
func Content(m *models.Message) string {
	return strings.ToLower(Text(m))
}

// Found returns the keywords that occur in content, in list order.
func Found(content string, keywords []string) []string {
	var out []string
	for _, kw := range keywords {
		if strings.Contains(content, kw) {
			out = append(out, kw)
		}
	}
	return out
}

// CountFound is len(Found(content, keywords)).
func CountFound(content string, keywords []string) int {
	n := 0
	for _, kw := range keywords {
		if strings.Contains(content, kw) {
			n++
		}
	}
	return n
}

// Best returns the bucket with the highest score, the first in table order
// on ties. ok is false when every score is zero.
func (t Table) Best(scores []int) (name string, ok bool) {
	best := 0
	for i, s := range scores {
		if s > best {
			best = s
			name = t[i].Name
		}
	}
	return name, best > 0
}

// Category assigns a message to one of the summary categories. Tag hits
// weigh double.
func Category(m *models.Message) string {
	content := Content(m)
	tags := strings.ToLower(strings.Join(m.Tags, " "))
	scores := make([]int, len(Categories))
	for i, b := range Categories {
		scores[i] = CountFound(content, b.Keywords)
		if tags != "" {
			scores[i] += 2 * CountFound(tags, b.Keywords)
		}
	}
	if name, ok := Categories.Best(scores); ok {
		return name
	}
	return GeneralCommunication
}

// Capability assigns a message to a capability bucket. Tags decide first;
// otherwise the content keyword count does.
func Capability(m *models.Message) string {
	if len(m.Tags) > 0 {
		tags := strings.ToLower(strings.Join(m.Tags, " "))
		for _, b := range Capabilities {
			if CountFound(tags, b.Keywords) > 0 {
				return b.Name
			}
		}
	}
	content := Content(m)
	scores := make([]int, len(Capabilities))
	for i, b := range Capabilities {
		scores[i] = CountFound(content, b.Keywords)
	}
	if name, ok := Capabilities.Best(scores); ok {
		return name
	}
	return GeneralCapability
}

// CapabilityThreshold is the keyword evidence needed to credit an agent
// with a capability.
const CapabilityThreshold = 2

// MaxCapabilityHistory caps how many messages feed capability inference.
const MaxCapabilityHistory = 50

// AgentCapabilities infers capabilities from an agent's recent mail, newest
// first. Only the first MaxCapabilityHistory messages count.
func AgentCapabilities(msgs []models.Message) []string {
	if len(msgs) > MaxCapabilityHistory {
		msgs = msgs[:MaxCapabilityHistory]
	}
	scores := make([]int, len(Capabilities))
	for i := range msgs {
		content := Content(&msgs[i])
		for j, b := range Capabilities {
			scores[j] += CountFound(content, b.Keywords)
		}
	}
	var out []string
	for i, b := range Capabilities {
		if scores[i] >= CapabilityThreshold {
			out = append(out, b.Name)
		}
	}
	return out
}

// IsActionable reports whether the message asks for something.
func IsActionable(m *models.Message) bool {
	content := Content(m)
	if CountFound(content, ActionKeywords) > 0 {
		return true
	}
	for _, re := range imperativePatterns {
		if re.MatchString(content) {
			return true
		}
	}
	return false
}

// ActionPhrases returns, for each action keyword present, the first
// sentence containing it. At most limit phrases are returned.
func ActionPhrases(m *models.Message, limit int) []string {
	text := Text(m)
	lower := strings.ToLower(text)
	sentences := strings.Split(text, ".")
	var out []string
	for _, kw := range ActionKeywords {
		if len(out) >= limit {
			break
		}
		if !strings.Contains(lower, kw) {
			continue
		}
		for _, s := range sentences {
			if strings.Contains(strings.ToLower(s), kw) {
				out = append(out, strings.TrimSpace(s))
				break
			}
		}
	}
	return out
}

func startsWithQuestionWord(sentence string) bool {
	s := strings.ToLower(strings.TrimSpace(sentence))
	for _, w := range QuestionWords {
		if strings.HasPrefix(s, w) {
			return true
		}
	}
	return false
}

// HasQuestion reports whether the message contains a '?' or a sentence
// opening with an interrogative.
func HasQuestion(m *models.Message) bool {
	text := Text(m)
	if strings.Contains(text, "?") {
		return true
	}
	for _, s := range strings.Split(text, ".") {
		if startsWithQuestionWord(s) {
			return true
		}
	}
	return false
}

// Questions extracts up to limit question sentences.
func Questions(m *models.Message, limit int) []string {
	var out []string
	for _, s := range strings.Split(Text(m), ".") {
		if len(out) >= limit {
			break
		}
		if strings.Contains(s, "?") || startsWithQuestionWord(s) {
			out = append(out, strings.TrimSpace(s))
		}
	}
	return out
}

// IsCritical reports whether the content carries a critical keyword.
func IsCritical(m *models.Message) bool {
	return CountFound(Content(m), CriticalKeywords) > 0
}

// UrgencyReason explains why a message was flagged urgent.
func UrgencyReason(m *models.Message) string {
	var reasons []string
	if m.Priority == models.PriorityUrgent {
		reasons = append(reasons, "Marked as urgent priority")
	}
	content := Content(m)
	if found := Found(content, UrgencyReasonKeywords); len(found) > 0 {
		reasons = append(reasons, "Contains critical keywords: "+strings.Join(found, ", "))
	}
	if strings.Contains(content, "deadline") || strings.Contains(content, "due") {
		reasons = append(reasons, "Mentions deadline")
	}
	if len(reasons) == 0 {
		return "Content analysis"
	}
	return strings.Join(reasons, "; ")
}

// Deadline returns the first deadline phrase found, or "".
func Deadline(m *models.Message) string {
	content := Content(m)
	for _, re := range deadlinePatterns {
		if sm := re.FindStringSubmatch(content); sm != nil {
			return sm[1]
		}
	}
	return ""
}

// KeyTopics picks recurring subject words (longer than three letters,
// excluding stop words) and recurring tags. At most six are returned.
func KeyTopics(msgs []models.Message) []string {
	words := NewCounter()
	tags := NewCounter()
	for i := range msgs {
		for _, w := range wordPattern.FindAllString(strings.ToLower(msgs[i].Subject), -1) {
			if len(w) > 3 && !stopWords[w] {
				words.Add(w)
			}
		}
		for _, t := range msgs[i].Tags {
			tags.Add(t)
		}
	}

	var topics []string
	for _, e := range words.Top(5) {
		if e.Count > 1 {
			topics = append(topics, e.Key)
		}
	}
	for _, e := range tags.Top(3) {
		if e.Count > 1 {
			topics = append(topics, e.Key)
		}
	}
	if len(topics) > 6 {
		topics = topics[:6]
	}
	return topics
}

// Entry is one counted key.
type Entry struct {
	Key   string
	Count int
}

// Counter counts keys and remembers first-seen order for stable ties.
type Counter struct {
	counts map[string]int
	order  []string
}

// NewCounter returns an empty Counter.
func NewCounter() *Counter { return &Counter{counts: map[string]int{}} }

// Add counts one occurrence of key.
func (c *Counter) Add(key string) {
	if _, ok := c.counts[key]; !ok {
		c.order = append(c.order, key)
	}
	c.counts[key]++
}

// Get returns the count for key.
func (c *Counter) Get(key string) int { return c.counts[key] }

// Len is the number of distinct keys.
func (c *Counter) Len() int { return len(c.order) }

// Top returns the n most common keys, ties in first-seen order. n <= 0
// returns every key.
func (c *Counter) Top(n int) []Entry {
	out := make([]Entry, len(c.order))
	for i, k := range c.order {
		out[i] = Entry{Key: k, Count: c.counts[k]}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}
