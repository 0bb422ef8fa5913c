package telegraph

import (
	"fmt"
	"strings"
)

// Color constants for event severity.
const (
	ColorInfo    = "#2196f3"
	ColorWarning = "#ff9800"
	ColorError   = "#e53935"
)

// maxBodyRunes caps the body carried into chat attachments.
const maxBodyRunes = 1500

// severityColor maps a severity string to a sidebar color.
func severityColor(severity string) string {
	switch severity {
	case "warning":
		return ColorWarning
	case "error":
		return ColorError
	default:
		return ColorInfo
	}
}

// prioritySeverity maps a message priority onto a chat severity.
func prioritySeverity(priority string) string {
	switch priority {
	case "urgent":
		return "error"
	case "high":
		return "warning"
	default:
		return "info"
	}
}

// FormatNotice formats a notice for chat delivery.
func FormatNotice(n Notification) FormattedEvent {
	severity := prioritySeverity(n.Priority)

	fields := []Field{
		{Name: "To", Value: n.Recipient, Short: true},
		{Name: "Priority", Value: n.Priority, Short: true},
	}
	if n.Type != "" {
		fields = append(fields, Field{Name: "Type", Value: n.Type, Short: true})
	}
	if n.AckNeeded {
		fields = append(fields, Field{Name: "Acknowledgment", Value: "required", Short: true})
	}

	return FormattedEvent{
		Title:    n.Subject,
		Body:     truncate(n.Body, maxBodyRunes),
		Severity: severity,
		Color:    severityColor(severity),
		Fields:   fields,
	}
}

// FallbackText is the plain-text line used where attachments do not render.
func FallbackText(n Notification) string {
	return fmt.Sprintf("[%s] %s → %s", strings.ToUpper(n.Priority), n.Subject, n.Recipient)
}

func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit]) + "…"
}
