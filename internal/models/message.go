package models

import (
	"time"

	"gorm.io/gorm"
)

// Message priorities, lowest to highest.
const (
	PriorityLow    = "low"
	PriorityNormal = "normal"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

// Priorities lists every valid priority from highest to lowest.
var Priorities = []string{PriorityUrgent, PriorityHigh, PriorityNormal, PriorityLow}

// ValidPriority reports whether p is one of the four known priorities.
func ValidPriority(p string) bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// PriorityRank orders priorities so that urgent sorts first.
func PriorityRank(p string) int {
	switch p {
	case PriorityUrgent:
		return 0
	case PriorityHigh:
		return 1
	case PriorityNormal:
		return 2
	case PriorityLow:
		return 3
	}
	return 4
}

// Message is one piece of agent-to-agent mail. Rows are created once and
// afterwards only have Read flipped or are deleted outright.
type Message struct {
	ID        string    `gorm:"primaryKey;size:64" json:"id"`
	Sender    string    `gorm:"size:64;not null;index" json:"sender"`
	Recipient string    `gorm:"size:64;not null;index:idx_messages_recipient_read" json:"recipient"`
	Subject   string    `gorm:"type:text;not null" json:"subject"`
	Body      string    `gorm:"type:text;not null" json:"body"`
	Timestamp time.Time `gorm:"not null;index" json:"timestamp"`
	Read      bool      `gorm:"default:false;index:idx_messages_recipient_read" json:"read"`
	Priority  string    `gorm:"size:8;default:normal;index" json:"priority"`
	Tags      []string  `gorm:"type:text;serializer:json" json:"tags"`
	ReplyTo   *string   `gorm:"size:64" json:"reply_to,omitempty"`
	ThreadID  *string   `gorm:"size:64;index" json:"thread_id,omitempty"`
}

// AfterFind normalises timestamps to UTC regardless of driver location handling.
func (m *Message) AfterFind(tx *gorm.DB) error {
	m.Timestamp = m.Timestamp.UTC()
	if m.Tags == nil {
		m.Tags = []string{}
	}
	return nil
}

// Age returns how long ago the message was sent relative to now.
func (m *Message) Age(now time.Time) time.Duration {
	return now.Sub(m.Timestamp)
}

// IsReply reports whether the message answers an earlier one.
func (m *Message) IsReply() bool {
	return m.ReplyTo != nil && *m.ReplyTo != ""
}

// Thread returns the thread id or "" when the message is not threaded.
func (m *Message) Thread() string {
	if m.ThreadID == nil {
		return ""
	}
	return *m.ThreadID
}
