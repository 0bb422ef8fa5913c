package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/mailroom/internal/distributor"
	"github.com/zulandar/mailroom/internal/summary"
)

func newOrchestratorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "orchestrator",
		Aliases: []string{"orch"},
		Short:   "Orchestrator commands",
		Long:    "Runs the orchestrator daemon, or one of its operations once.",
	}

	cmd.AddCommand(newOrchStartCmd())
	cmd.AddCommand(newOrchCycleCmd())
	cmd.AddCommand(newOrchStatusCmd())
	cmd.AddCommand(newOrchSummaryCmd())
	cmd.AddCommand(newOrchUrgentCmd())
	cmd.AddCommand(newOrchCleanupCmd())
	cmd.AddCommand(newOrchRedistributeCmd())
	cmd.AddCommand(newOrchEscalateCmd())
	cmd.AddCommand(newOrchLoadCmd())
	cmd.AddCommand(newOrchDigestCmd())
	cmd.AddCommand(newOrchAnalyticsCmd())
	return cmd
}

// withSignals returns a context cancelled on SIGINT or SIGTERM.
func withSignals(parent context.Context, out io.Writer) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		defer signal.Stop(sigCh)
		select {
		case sig := <-sigCh:
			fmt.Fprintf(out, "\nReceived %s, shutting down...\n", sig)
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

func newOrchStartCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Run the orchestrator daemon",
		Long:  "Runs analysis cycles on the configured interval and maintenance on the configured cron schedule until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			ctx, cancel := withSignals(cmd.Context(), out)
			defer cancel()

			s, err := openSession(ctx, configPath, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer s.Close()

			fmt.Fprintf(out, "Orchestrator %s started (analysis every %s, maintenance %q)\n",
				s.orch.Name(), s.cfg.Orchestrator.AnalysisInterval, s.cfg.Orchestrator.MaintenanceSchedule)
			err = s.orch.Run(ctx, out)
			s.relay.Wait()
			return err
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Mailroom config file")
	return cmd
}

func newOrchCycleCmd() *cobra.Command {
	var (
		configPath string
		asJSON     bool
	)

	cmd := &cobra.Command{
		Use:   "cycle",
		Short: "Run one analysis cycle",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context(), configPath, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer s.Close()

			report, err := s.orch.RunAnalysisCycle(cmd.Context())
			s.relay.Wait()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, report)
			}
			fmt.Fprintf(out, "Analyzed %d active agents in %s\n", len(report.ActiveAgents), report.Duration.Round(time.Millisecond))
			for _, a := range report.Actions {
				line := fmt.Sprintf("  %-24s %s", a.Kind, a.Agent)
				if len(a.Targets) > 0 {
					line += " → " + strings.Join(a.Targets, ", ")
				}
				fmt.Fprintln(out, line)
			}
			if report.OverdueEscalated > 0 {
				fmt.Fprintf(out, "Escalated %d overdue notices\n", report.OverdueEscalated)
			}
			if len(report.AutoApply) > 0 {
				fmt.Fprintf(out, "%d priority changes qualify for auto-apply\n", len(report.AutoApply))
			}
			for _, f := range report.Failures {
				fmt.Fprintf(out, "  failed: %s %s: %s\n", f.Op, f.Agent, f.Error)
			}
			if report.Status != nil {
				fmt.Fprintf(out, "System load: %s\n", report.Status.Load)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Mailroom config file")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the cycle report as JSON")
	return cmd
}

func newOrchStatusCmd() *cobra.Command {
	var (
		configPath string
		asJSON     bool
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show system-wide load and bottlenecks",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context(), configPath, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer s.Close()

			st, err := s.orch.SystemStatus(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, st)
			}

			fmt.Fprintf(out, "System load:   %s\n", st.Load)
			fmt.Fprintf(out, "Agents:        %d (%d active)\n", st.TotalAgents, st.ActiveAgents)
			fmt.Fprintf(out, "Unread:        %d (%d urgent)\n", st.Unread, st.Urgent)
			fmt.Fprintf(out, "Messages:      %d\n\n", st.TotalMessages)

			if len(st.Workloads) > 0 {
				w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "AGENT\tUNREAD\tURGENT\tHIGH\tSTALE\tSTATUS")
				for _, a := range st.Workloads {
					fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%s\n", a.Agent, a.Unread, a.Urgent, a.High, a.Stale, a.Status)
				}
				w.Flush()
				fmt.Fprintln(out)
			}
			printList(out, "Bottlenecks", st.Bottlenecks)
			printList(out, "Recommendations", st.Recommendations)
			if len(st.Failed) > 0 {
				printList(out, "Failed", st.Failed)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Mailroom config file")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

func printList(out io.Writer, title string, items []string) {
	fmt.Fprintf(out, "%s:\n", title)
	if len(items) == 0 {
		fmt.Fprintln(out, "  (none)")
		return
	}
	for _, it := range items {
		fmt.Fprintf(out, "  - %s\n", it)
	}
}

func newOrchSummaryCmd() *cobra.Command {
	var (
		configPath string
		agent      string
		mode       string
		limit      int
		send       bool
	)

	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Summarize an agent's unread mail",
		Long:  "Prints a summary of an agent's unread mail. With --send the summary is delivered to the agent as a workload notice.",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := summary.ParseMode(mode)
			if err != nil {
				return err
			}
			s, err := openSession(cmd.Context(), configPath, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer s.Close()

			out := cmd.OutOrStdout()
			if send {
				rec, err := s.orch.SendSummary(cmd.Context(), agent, m)
				s.relay.Wait()
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Sent summary %s to %s\n", rec.ID, agent)
				return nil
			}
			text, err := s.orch.Summaries().Summarize(cmd.Context(), agent, limit, m)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, text)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Mailroom config file")
	cmd.Flags().StringVar(&agent, "agent", "", "agent to summarize (required)")
	cmd.Flags().StringVar(&mode, "mode", string(summary.Balanced), "summary mode (urgent_first, breadth_first, balanced)")
	cmd.Flags().IntVar(&limit, "limit", summary.DefaultMaxMessages, "maximum messages to consider")
	cmd.Flags().BoolVar(&send, "send", false, "deliver the summary as a notice instead of printing it")
	cmd.MarkFlagRequired("agent")
	return cmd
}

func newOrchUrgentCmd() *cobra.Command {
	var (
		configPath string
		subject    string
		body       string
	)

	cmd := &cobra.Command{
		Use:   "urgent",
		Short: "Send a system alert to every active agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context(), configPath, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer s.Close()

			sent, err := s.orch.Alert(cmd.Context(), subject, body)
			s.relay.Wait()
			if err != nil {
				return err
			}
			names := make([]string, 0, len(sent))
			for name := range sent {
				names = append(names, name)
			}
			sort.Strings(names)
			fmt.Fprintf(cmd.OutOrStdout(), "Alert sent to %d agents: %s\n", len(names), strings.Join(names, ", "))
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Mailroom config file")
	cmd.Flags().StringVar(&subject, "subject", "", "alert subject (required)")
	cmd.Flags().StringVar(&body, "body", "", "alert body (required)")
	cmd.MarkFlagRequired("subject")
	cmd.MarkFlagRequired("body")
	return cmd
}

func newOrchCleanupCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Run one maintenance cycle",
		Long:  "Purges old read mail, checks store health, compacts the store and writes a backup.",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context(), configPath, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer s.Close()

			report, err := s.orch.RunMaintenanceCycle(cmd.Context())
			out := cmd.OutOrStdout()
			if report != nil {
				fmt.Fprintf(out, "Purged:   %d messages\n", report.Purged)
				fmt.Fprintf(out, "Health:   %s\n", report.Health)
				fmt.Fprintf(out, "Vacuumed: %t\n", report.Vacuumed)
				if report.BackupPath != "" {
					fmt.Fprintf(out, "Backup:   %s (%d pruned)\n", report.BackupPath, report.BackupsPruned)
				}
			}
			return err
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Mailroom config file")
	return cmd
}

func newOrchRedistributeCmd() *cobra.Command {
	var (
		configPath string
		agent      string
		targets    []string
		strategy   string
		asJSON     bool
	)

	cmd := &cobra.Command{
		Use:   "redistribute",
		Short: "Plan moving an overloaded agent's mail to others",
		Long:  "Produces a redistribution plan and impact projection. No messages are moved.",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := distributor.ParseStrategy(strategy)
			if err != nil {
				return err
			}
			s, err := openSession(cmd.Context(), configPath, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer s.Close()

			r, err := s.orch.Distributor().Redistribute(cmd.Context(), agent, targets, st)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, r)
			}
			if !r.Needed || !r.Possible {
				fmt.Fprintf(out, "No redistribution: %s\n", r.Reason)
				if r.Recommendation != "" {
					fmt.Fprintf(out, "%s\n", r.Recommendation)
				}
				return nil
			}

			fmt.Fprintf(out, "Plan for %s (%s): %d messages\n", r.Source, r.Plan.Strategy, r.Plan.Total)
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TARGET\tMESSAGES\tCURRENT")
			for _, a := range r.Plan.Allocations {
				fmt.Fprintf(w, "%s\t%d\t%d\n", a.Agent, a.Count, a.CurrentWorkload)
			}
			w.Flush()
			if r.Impact != nil {
				fmt.Fprintf(out, "Effectiveness: %.2f (%s)\n", r.Impact.Effectiveness.Score, r.Impact.Effectiveness.Rating)
			}
			fmt.Fprintf(out, "Recommended: %t\n", r.Recommended)
			for _, rec := range r.Recommendations {
				fmt.Fprintf(out, "  - %s\n", rec)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Mailroom config file")
	cmd.Flags().StringVar(&agent, "agent", "", "overloaded agent (required)")
	cmd.Flags().StringSliceVar(&targets, "targets", nil, "target agents (default: best available)")
	cmd.Flags().StringVar(&strategy, "strategy", string(distributor.WorkloadBalanced), "equal, capability_based, workload_balanced or priority_focused")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	cmd.MarkFlagRequired("agent")
	return cmd
}

func newOrchEscalateCmd() *cobra.Command {
	var (
		configPath string
		agent      string
		hours      float64
		asJSON     bool
	)

	cmd := &cobra.Command{
		Use:   "escalate",
		Short: "Propose priority escalations for stale unread mail",
		Long:  "Lists unread messages old enough to deserve a higher priority. Stored priorities are not changed.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if hours <= 0 {
				return fmt.Errorf("--hours must be positive")
			}
			s, err := openSession(cmd.Context(), configPath, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer s.Close()

			r, err := s.orch.Priorities().EscalateStale(cmd.Context(), hours, agent)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, r)
			}
			fmt.Fprintf(out, "Evaluated %d unread messages (%s), %d to escalate\n", r.TotalEvaluated, r.Scope, len(r.Escalated))
			if len(r.Escalated) == 0 {
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTO\tSUBJECT\tCHANGE\tAGE\tCONFIDENCE")
			for _, d := range r.Escalated {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.1fh\t%.2f\n", d.MessageID, d.Recipient, d.Subject, d.Transition(), d.AgeHours, d.Confidence)
			}
			w.Flush()
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Mailroom config file")
	cmd.Flags().StringVar(&agent, "agent", "", "limit to one agent (default: all)")
	cmd.Flags().Float64Var(&hours, "hours", 24, "age threshold in hours")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

func newOrchLoadCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "load",
		Short: "Show the load-balancing report",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context(), configPath, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer s.Close()

			r, err := s.orch.Distributor().LoadBalancing(cmd.Context())
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), r)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Mailroom config file")
	return cmd
}

func newOrchDigestCmd() *cobra.Command {
	var (
		configPath string
		agent      string
	)

	cmd := &cobra.Command{
		Use:   "digest",
		Short: "Print an agent's daily digest",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context(), configPath, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer s.Close()

			text, err := s.orch.Summaries().DailyDigest(cmd.Context(), agent)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), text)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Mailroom config file")
	cmd.Flags().StringVar(&agent, "agent", "", "agent to report on (required)")
	cmd.MarkFlagRequired("agent")
	return cmd
}

func newOrchAnalyticsCmd() *cobra.Command {
	var (
		configPath string
		days       int
	)

	cmd := &cobra.Command{
		Use:   "analytics",
		Short: "Report daily priority trends across every agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context(), configPath, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer s.Close()

			r, err := s.orch.Priorities().Analytics(cmd.Context(), days)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), r)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Mailroom config file")
	cmd.Flags().IntVar(&days, "days", 7, "days to cover")
	return cmd
}
