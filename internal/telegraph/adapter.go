// Package telegraph relays orchestrator notices to chat platforms (Slack,
// Discord) and to a local notify command.
package telegraph

import "context"

// Adapter is the interface that platform-specific implementations must satisfy.
// Each adapter handles connection management and outbound delivery for a
// single chat platform.
type Adapter interface {
	// Connect establishes a connection to the chat platform.
	Connect(ctx context.Context) error

	// Send delivers an outbound message to the platform.
	Send(ctx context.Context, msg OutboundMessage) error

	// Close gracefully shuts down the adapter connection.
	Close() error
}

// OutboundMessage represents a message to be sent to the chat platform.
type OutboundMessage struct {
	ChannelID string           // target channel (empty uses the adapter default)
	Text      string           // message text (platform-native formatting)
	Events    []FormattedEvent // structured event attachments
	ThreadKey string           // posts sharing a key are threaded under the first
}

// FormattedEvent represents a notice formatted for display in chat.
type FormattedEvent struct {
	Title    string  // event headline
	Body     string  // detail text
	Severity string  // "info", "warning", "error"
	Color    string  // sidebar color hint (e.g. "#e53935" for error)
	Fields   []Field // key-value metadata pairs
}

// Field is a key-value pair displayed in an event attachment.
type Field struct {
	Name  string
	Value string
	Short bool // hint: render side-by-side with another field
}

// Notification is the platform-neutral form of one delivered notice.
type Notification struct {
	NoticeID  string
	Type      string
	Sender    string
	Recipient string
	Subject   string
	Body      string
	Priority  string
	AckNeeded bool
	// EscalationOf is the notice this one escalates, if any.
	EscalationOf string
}

// ThreadKey groups a notice with its escalations.
func (n Notification) ThreadKey() string {
	if n.EscalationOf != "" {
		return n.EscalationOf
	}
	return n.NoticeID
}
