package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/mailroom/internal/mailbox"
)

func newAgentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Agent registry commands",
	}

	cmd.AddCommand(newAgentRegisterCmd())
	cmd.AddCommand(newAgentListCmd())
	cmd.AddCommand(newAgentInfoCmd())
	cmd.AddCommand(newAgentSuggestCmd())
	return cmd
}

// parseMeta turns key=value pairs into agent metadata.
func parseMeta(pairs []string) (map[string]any, error) {
	meta := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --meta %q: want key=value", p)
		}
		meta[k] = v
	}
	return meta, nil
}

func newAgentRegisterCmd() *cobra.Command {
	var (
		configPath string
		meta       []string
		sanitize   bool
		unique     bool
	)

	cmd := &cobra.Command{
		Use:   "register <name>",
		Short: "Register or refresh an agent",
		Long:  "Adds an agent to the registry, or refreshes its last-seen time and replaces its metadata.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			if sanitize {
				name = mailbox.SanitizeAgentName(name)
			}
			metadata, err := parseMeta(meta)
			if err != nil {
				return err
			}

			_, store, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			defer closeStore(store)

			if unique {
				if name, err = store.UniqueAgentName(cmd.Context(), name); err != nil {
					return err
				}
			}
			agent, err := store.RegisterAgent(cmd.Context(), name, metadata)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Registered agent %s\n", agent.Name)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Mailroom config file")
	cmd.Flags().StringArrayVar(&meta, "meta", nil, "metadata key=value (repeatable)")
	cmd.Flags().BoolVar(&sanitize, "sanitize", false, "rewrite the name into the accepted charset instead of rejecting it")
	cmd.Flags().BoolVar(&unique, "unique", false, "append a numeric suffix if the name is taken")
	return cmd
}

func newAgentListCmd() *cobra.Command {
	var (
		configPath string
		active     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			defer closeStore(store)

			agents, err := store.ListAgents(cmd.Context())
			if active > 0 {
				agents, err = store.ActiveAgents(cmd.Context(), store.Now().Add(-active))
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(agents) == 0 {
				fmt.Fprintln(out, "No agents registered")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tLAST SEEN\tMETADATA")
			for _, a := range agents {
				fmt.Fprintf(w, "%s\t%s\t%s\n", a.Name, a.LastSeen.Format("2006-01-02 15:04"), formatMeta(a.Metadata))
			}
			w.Flush()
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Mailroom config file")
	cmd.Flags().DurationVar(&active, "active", 0, "only agents seen within this window (e.g. 1h)")
	return cmd
}

func formatMeta(m map[string]any) string {
	if len(m) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, m[k])
	}
	return strings.Join(parts, " ")
}

func newAgentInfoCmd() *cobra.Command {
	var (
		configPath string
		asJSON     bool
	)

	cmd := &cobra.Command{
		Use:   "info <name>",
		Short: "Show an agent's registry entry and message stats",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			defer closeStore(store)

			info, err := store.Info(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, info)
			}
			fmt.Fprintf(out, "Agent:     %s\n", info.Agent.Name)
			fmt.Fprintf(out, "Last seen: %s\n", info.Agent.LastSeen.Format(time.RFC3339))
			fmt.Fprintf(out, "Metadata:  %s\n", formatMeta(info.Agent.Metadata))
			fmt.Fprintf(out, "Received:  %d (%d unread)\n", info.Stats.TotalReceived, info.Stats.Unread)
			fmt.Fprintf(out, "Sent:      %d\n", info.Stats.Sent)
			fmt.Fprintf(out, "Last 24h:  %d\n", info.Stats.RecentActivity)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Mailroom config file")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

func newAgentSuggestCmd() *cobra.Command {
	var (
		configPath string
		count      int
	)

	cmd := &cobra.Command{
		Use:   "suggest <base>",
		Short: "Suggest free agent names",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			defer closeStore(store)

			agents, err := store.ListAgents(cmd.Context())
			if err != nil {
				return err
			}
			taken := make(map[string]bool, len(agents))
			for _, a := range agents {
				taken[a.Name] = true
			}
			for _, name := range mailbox.SuggestAgentNames(args[0], taken, count) {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Mailroom config file")
	cmd.Flags().IntVar(&count, "count", 3, "number of suggestions")
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
