package main

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/spf13/cobra"
)

func TestVersionCmd(t *testing.T) {
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"version"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("version command failed: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "mr dev") {
		t.Errorf("expected output to contain 'mr dev', got: %s", out)
	}
	if !strings.Contains(out, "commit: none") {
		t.Errorf("expected output to contain 'commit: none', got: %s", out)
	}
}

func TestVersionCmdWithCustomValues(t *testing.T) {
	origVersion, origCommit, origDate := Version, Commit, Date
	Version, Commit, Date = "1.0.0", "abc123", "2026-01-01"
	defer func() { Version, Commit, Date = origVersion, origCommit, origDate }()

	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"version"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("version command failed: %v", err)
	}

	out := buf.String()
	for _, want := range []string{"mr 1.0.0", "commit: abc123", "built: 2026-01-01"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected output to contain %q, got: %s", want, out)
		}
	}
}

func TestRootCmdHelp(t *testing.T) {
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--help"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("help command failed: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "Mailroom") {
		t.Errorf("expected help output to contain 'Mailroom', got: %s", out)
	}
	for _, sub := range []string{"version", "db", "message", "agent", "orchestrator", "dashboard"} {
		if !strings.Contains(out, sub) {
			t.Errorf("expected help output to list %q subcommand, got: %s", sub, out)
		}
	}
}

func TestRootCmdNoArgs(t *testing.T) {
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("root command with no args failed: %v", err)
	}
}

func TestExecuteError(t *testing.T) {
	cmd := &cobra.Command{
		Use:           "failing",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return fmt.Errorf("intentional error")
		},
	}
	if code := execute(cmd); code != 1 {
		t.Errorf("expected exit code 1, got %d", code)
	}
}

func TestNewVersionCmdOutput(t *testing.T) {
	cmd := newVersionCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)

	cmd.Run(cmd, nil)

	expected := "mr dev (commit: none, built: unknown)\n"
	if out := buf.String(); out != expected {
		t.Errorf("expected %q, got %q", expected, out)
	}
}

func TestSubcommandHelp(t *testing.T) {
	tests := []struct {
		args  []string
		flags []string
	}{
		{[]string{"message", "send"}, []string{"--from", "--to", "--subject", "--body", "--priority", "--tag", "--reply-to", "--thread-id", "--config"}},
		{[]string{"message", "inbox"}, []string{"--agent", "--all", "--limit"}},
		{[]string{"message", "search"}, []string{"--agent", "--from", "--since", "--limit"}},
		{[]string{"agent", "register"}, []string{"--meta", "--sanitize"}},
		{[]string{"orchestrator", "summary"}, []string{"--agent", "--mode", "--send"}},
		{[]string{"orchestrator", "redistribute"}, []string{"--agent", "--targets", "--strategy"}},
		{[]string{"orchestrator", "escalate"}, []string{"--hours", "--agent"}},
		{[]string{"db", "purge"}, []string{"--days", "--all"}},
		{[]string{"dashboard"}, []string{"--port"}},
	}
	for _, tt := range tests {
		t.Run(strings.Join(tt.args, "_"), func(t *testing.T) {
			cmd := newRootCmd()
			buf := new(bytes.Buffer)
			cmd.SetOut(buf)
			cmd.SetErr(buf)
			cmd.SetArgs(append(tt.args, "--help"))

			if err := cmd.Execute(); err != nil {
				t.Fatalf("%v --help failed: %v", tt.args, err)
			}
			out := buf.String()
			for _, flag := range tt.flags {
				if !strings.Contains(out, flag) {
					t.Errorf("expected %s flag, got: %s", flag, out)
				}
			}
		})
	}
}

func TestParseMeta(t *testing.T) {
	meta, err := parseMeta([]string{"role=reviewer", "capabilities=go,sql"})
	if err != nil {
		t.Fatalf("parseMeta: %v", err)
	}
	if meta["role"] != "reviewer" || meta["capabilities"] != "go,sql" {
		t.Errorf("meta = %v", meta)
	}
	if _, err := parseMeta([]string{"novalue"}); err == nil {
		t.Error("expected error for pair without '='")
	}
}

func TestFormatMeta(t *testing.T) {
	if got := formatMeta(nil); got != "-" {
		t.Errorf("formatMeta(nil) = %q", got)
	}
	got := formatMeta(map[string]any{"b": 2, "a": "x"})
	if got != "a=x b=2" {
		t.Errorf("formatMeta = %q, want %q", got, "a=x b=2")
	}
}
