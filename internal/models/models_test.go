package models

import (
	"reflect"
	"strings"
	"testing"
	"time"
)

// gormTag extracts the gorm tag from a struct field.
func gormTag(t *testing.T, typ reflect.Type, fieldName string) string {
	t.Helper()
	f, ok := typ.FieldByName(fieldName)
	if !ok {
		t.Fatalf("%s.%s: field not found", typ.Name(), fieldName)
	}
	return f.Tag.Get("gorm")
}

// assertGormTag checks that a struct field's gorm tag contains the expected value.
func assertGormTag(t *testing.T, typ reflect.Type, fieldName, expected string) {
	t.Helper()
	tag := gormTag(t, typ, fieldName)
	if !strings.Contains(tag, expected) {
		t.Errorf("%s.%s gorm tag = %q, want to contain %q", typ.Name(), fieldName, tag, expected)
	}
}

// assertFieldType checks that a struct field has the expected Go type.
func assertFieldType(t *testing.T, typ reflect.Type, fieldName, expectedType string) {
	t.Helper()
	f, ok := typ.FieldByName(fieldName)
	if !ok {
		t.Fatalf("%s.%s: field not found", typ.Name(), fieldName)
	}
	got := f.Type.String()
	if got != expectedType {
		t.Errorf("%s.%s type = %q, want %q", typ.Name(), fieldName, got, expectedType)
	}
}

func TestMessage_Fields(t *testing.T) {
	typ := reflect.TypeOf(Message{})

	assertGormTag(t, typ, "ID", "primaryKey")
	assertGormTag(t, typ, "ID", "size:64")
	assertGormTag(t, typ, "Sender", "not null")
	assertGormTag(t, typ, "Recipient", "not null")
	assertGormTag(t, typ, "Recipient", "idx_messages_recipient_read")
	assertGormTag(t, typ, "Subject", "type:text")
	assertGormTag(t, typ, "Body", "type:text")
	assertGormTag(t, typ, "Timestamp", "index")
	assertGormTag(t, typ, "Read", "default:false")
	assertGormTag(t, typ, "Priority", "default:normal")
	assertGormTag(t, typ, "Tags", "serializer:json")
	assertGormTag(t, typ, "ThreadID", "index")

	assertFieldType(t, typ, "Timestamp", "time.Time")
	assertFieldType(t, typ, "Tags", "[]string")
	assertFieldType(t, typ, "ReplyTo", "*string")
	assertFieldType(t, typ, "ThreadID", "*string")

	if typ.NumField() != 11 {
		t.Errorf("Message has %d fields, want 11", typ.NumField())
	}
}

func TestAgent_Fields(t *testing.T) {
	typ := reflect.TypeOf(Agent{})

	assertGormTag(t, typ, "Name", "primaryKey")
	assertGormTag(t, typ, "LastSeen", "index")
	assertGormTag(t, typ, "Metadata", "serializer:json")
	assertFieldType(t, typ, "Metadata", "map[string]interface {}")
}

func TestValidPriority(t *testing.T) {
	for _, p := range Priorities {
		if !ValidPriority(p) {
			t.Errorf("ValidPriority(%q) = false, want true", p)
		}
	}
	for _, p := range []string{"", "URGENT", "critical"} {
		if ValidPriority(p) {
			t.Errorf("ValidPriority(%q) = true, want false", p)
		}
	}
}

func TestPriorityRank_Order(t *testing.T) {
	for i := 1; i < len(Priorities); i++ {
		if PriorityRank(Priorities[i-1]) >= PriorityRank(Priorities[i]) {
			t.Errorf("rank(%s) should be below rank(%s)", Priorities[i-1], Priorities[i])
		}
	}
}

func TestMessage_Helpers(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	parent := "m-1"
	m := Message{Timestamp: now.Add(-3 * time.Hour), ReplyTo: &parent}

	if got := m.Age(now); got != 3*time.Hour {
		t.Errorf("Age = %v, want 3h", got)
	}
	if !m.IsReply() {
		t.Error("IsReply = false, want true")
	}
	if m.Thread() != "" {
		t.Errorf("Thread = %q, want empty", m.Thread())
	}

	empty := ""
	m.ReplyTo = &empty
	if m.IsReply() {
		t.Error("empty reply_to should not count as a reply")
	}
}
