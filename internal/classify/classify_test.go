package classify

import (
	"reflect"
	"testing"

	"github.com/zulandar/mailroom/internal/models"
)

func msg(subject, body string, tags ...string) *models.Message {
	return &models.Message{Subject: subject, Body: body, Priority: models.PriorityNormal, Tags: tags}
}

func TestCategory(t *testing.T) {
	tests := []struct {
		name string
		m    *models.Message
		want string
	}{
		{"code review", msg("Please review the pull request", "Code feedback needed"), "code_review"},
		{"tag weighs double", msg("hello", "just saying", "blocker"), "escalation"},
		{"meeting", msg("Meeting schedule", "check my calendar availability"), "meeting_coordination"},
		{"nothing", msg("hello", "just saying"), GeneralCommunication},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Category(tt.m); got != tt.want {
				t.Errorf("Category = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCapability(t *testing.T) {
	if got := Capability(msg("hello", "there", "qa")); got != "testing" {
		t.Errorf("tag capability = %q, want testing", got)
	}
	if got := Capability(msg("debug the code", "and fix it")); got != "code" {
		t.Errorf("content capability = %q, want code", got)
	}
	if got := Capability(msg("hello", "there")); got != GeneralCapability {
		t.Errorf("capability = %q, want general", got)
	}
}

func TestAgentCapabilities(t *testing.T) {
	msgs := []models.Message{
		*msg("debug", "code"),
		*msg("debug", "code"),
		*msg("write", "docs"),
	}
	got := AgentCapabilities(msgs)
	if !reflect.DeepEqual(got, []string{"code"}) {
		t.Errorf("AgentCapabilities = %v, want [code]", got)
	}
	if got := AgentCapabilities(nil); len(got) != 0 {
		t.Errorf("AgentCapabilities(nil) = %v, want empty", got)
	}
}

func TestAgentCapabilities_HistoryCap(t *testing.T) {
	msgs := make([]models.Message, MaxCapabilityHistory)
	for i := range msgs {
		msgs[i] = *msg("hello", "there")
	}
	msgs = append(msgs, *msg("test", "qa"), *msg("test", "qa"))
	if got := AgentCapabilities(msgs); len(got) != 0 {
		t.Errorf("messages past the history cap counted: %v", got)
	}
}

func TestIsActionable(t *testing.T) {
	if !IsActionable(msg("Release", "please review")) {
		t.Error("please review should be actionable")
	}
	if IsActionable(msg("Hello", "Lunch tomorrow")) {
		t.Error("small talk should not be actionable")
	}
}

func TestActionPhrases(t *testing.T) {
	m := msg("Release", "Please review the PR. We must ship by friday. Thanks")
	got := ActionPhrases(m, 2)
	want := []string{"Release Please review the PR", "We must ship by friday"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ActionPhrases = %q, want %q", got, want)
	}
}

func TestDeadline(t *testing.T) {
	tests := []struct {
		body string
		want string
	}{
		{"the deadline is friday", "is friday"},
		{"this is due tomorrow morning", "tomorrow morning"},
		{"finish by monday", "monday"},
		{"no date here", ""},
	}
	for _, tt := range tests {
		if got := Deadline(msg("x", tt.body)); got != tt.want {
			t.Errorf("Deadline(%q) = %q, want %q", tt.body, got, tt.want)
		}
	}
}

func TestQuestions(t *testing.T) {
	if !HasQuestion(msg("Q", "When is the release? Thanks.")) {
		t.Error("question mark not detected")
	}
	if !HasQuestion(msg("Sync", ". Where are we")) {
		t.Error("interrogative sentence not detected")
	}
	if HasQuestion(msg("Deploy", "done")) {
		t.Error("statement detected as question")
	}
	got := Questions(msg("Q", "When is the release? Thanks."), 2)
	if !reflect.DeepEqual(got, []string{"Q When is the release? Thanks"}) {
		t.Errorf("Questions = %q", got)
	}
}

func TestUrgencyReason(t *testing.T) {
	m := msg("Prod", "server down, deadline tonight")
	m.Priority = models.PriorityUrgent
	want := "Marked as urgent priority; Contains critical keywords: down; Mentions deadline"
	if got := UrgencyReason(m); got != want {
		t.Errorf("UrgencyReason = %q, want %q", got, want)
	}
	if got := UrgencyReason(msg("hello", "there")); got != "Content analysis" {
		t.Errorf("UrgencyReason = %q, want Content analysis", got)
	}
	if !IsCritical(m) {
		t.Error("IsCritical = false, want true")
	}
}

func TestKeyTopics(t *testing.T) {
	msgs := []models.Message{
		*msg("Database migration plan", "x", "infra"),
		*msg("Database migration rollout", "x", "infra"),
		*msg("Lunch", "x"),
	}
	got := KeyTopics(msgs)
	want := []string{"database", "migration", "infra"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("KeyTopics = %v, want %v", got, want)
	}
}

func TestCounter_TopStableTies(t *testing.T) {
	c := NewCounter()
	for _, k := range []string{"a", "b", "b", "c", "c"} {
		c.Add(k)
	}
	got := c.Top(0)
	want := []Entry{{"b", 2}, {"c", 2}, {"a", 1}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Top = %v, want %v", got, want)
	}
	if c.Len() != 3 || c.Get("b") != 2 {
		t.Errorf("Len = %d, Get(b) = %d", c.Len(), c.Get("b"))
	}
}

func TestTable_BestTieTakesFirst(t *testing.T) {
	name, ok := PriorityKeywords.Best([]int{0, 3, 3, 0})
	if !ok || name != "high" {
		t.Errorf("Best = %q, %v; want high, true", name, ok)
	}
	if _, ok := PriorityKeywords.Best([]int{0, 0, 0, 0}); ok {
		t.Error("Best of all-zero scores should report !ok")
	}
}
