package telegraph

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// CommandNotifier runs a shell command template for every notice, e.g.
// "notify-send 'Mailroom' '{{.Subject}}'".
type CommandNotifier struct {
	Command string
}

// Notify expands the template and runs it through sh -c.
func (c *CommandNotifier) Notify(ctx context.Context, n Notification) error {
	if c == nil || c.Command == "" {
		return nil
	}
	cmd := exec.CommandContext(ctx, "sh", "-c", templateNotification(c.Command, n))
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("telegraph: notify command: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// templateNotification replaces placeholders in the command template with
// notice values. Values are stripped of shell metacharacters first.
func templateNotification(command string, n Notification) string {
	r := strings.NewReplacer(
		"{{.Subject}}", shellSafe(n.Subject),
		"{{.Body}}", shellSafe(n.Body),
		"{{.From}}", shellSafe(n.Sender),
		"{{.To}}", shellSafe(n.Recipient),
		"{{.Priority}}", shellSafe(n.Priority),
		"{{.Type}}", shellSafe(n.Type),
	)
	return r.Replace(command)
}

func shellSafe(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '\'', '"', '`', '$', '\\', ';', '|', '&', '<', '>':
			return -1
		case '\n', '\r', '\t':
			return ' '
		}
		return r
	}, s)
}
