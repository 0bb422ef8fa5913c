package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/mailroom/internal/mailbox"
	"github.com/zulandar/mailroom/internal/models"
)

func newMessageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "message",
		Aliases: []string{"msg"},
		Short:   "Messaging commands",
	}

	cmd.AddCommand(newMessageSendCmd())
	cmd.AddCommand(newInboxCmd())
	cmd.AddCommand(newMessagePendingCmd())
	cmd.AddCommand(newMessageReadCmd())
	cmd.AddCommand(newMessageDeleteCmd())
	cmd.AddCommand(newMessageThreadCmd())
	cmd.AddCommand(newMessageReplyCmd())
	cmd.AddCommand(newMessageSearchCmd())
	return cmd
}

func newMessageSendCmd() *cobra.Command {
	var (
		configPath string
		from       string
		to         string
		subject    string
		body       string
		priority   string
		tags       []string
		replyTo    string
		threadID   string
	)

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a message to an agent",
		Long:  "Sends a message from one agent to another, with optional tags and thread context.",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			defer closeStore(store)

			msg, err := store.Compose(cmd.Context(), from, to, subject, body, mailbox.SendOpts{
				Priority: priority,
				Tags:     tags,
				ReplyTo:  replyTo,
				ThreadID: threadID,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Sent message %s to %s\n", msg.ID, to)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Mailroom config file")
	cmd.Flags().StringVar(&from, "from", "", "sender agent (required)")
	cmd.Flags().StringVar(&to, "to", "", "recipient agent (required)")
	cmd.Flags().StringVar(&subject, "subject", "", "message subject (required)")
	cmd.Flags().StringVar(&body, "body", "", "message body (required)")
	cmd.Flags().StringVar(&priority, "priority", models.PriorityNormal, "message priority (low, normal, high, urgent)")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "tag to attach (repeatable)")
	cmd.Flags().StringVar(&replyTo, "reply-to", "", "id of the message this answers")
	cmd.Flags().StringVar(&threadID, "thread-id", "", "thread to attach to")
	cmd.MarkFlagRequired("from")
	cmd.MarkFlagRequired("to")
	cmd.MarkFlagRequired("subject")
	cmd.MarkFlagRequired("body")
	return cmd
}

func newInboxCmd() *cobra.Command {
	var (
		configPath string
		agent      string
		all        bool
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "inbox",
		Short: "View an agent's inbox",
		Long:  "Lists an agent's messages, newest first. Only unread messages are shown unless --all is set.",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			defer closeStore(store)

			msgs, err := store.List(cmd.Context(), agent, !all, limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(msgs) == 0 {
				fmt.Fprintf(out, "No messages for %s\n", agent)
				return nil
			}
			printMessageTable(out, msgs)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Mailroom config file")
	cmd.Flags().StringVar(&agent, "agent", "", "agent whose inbox to show (required)")
	cmd.Flags().BoolVar(&all, "all", false, "include read messages")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum messages to show")
	cmd.MarkFlagRequired("agent")
	return cmd
}

func newMessagePendingCmd() *cobra.Command {
	var (
		configPath string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List unread messages across every agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			defer closeStore(store)

			msgs, err := store.ListUnread(cmd.Context(), limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(msgs) == 0 {
				fmt.Fprintln(out, "No unread messages")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTO\tFROM\tSUBJECT\tPRIORITY\tAGE")
			now := store.Now()
			for _, m := range msgs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					m.ID, m.Recipient, m.Sender, m.Subject, m.Priority, m.Age(now).Round(time.Minute))
			}
			w.Flush()
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Mailroom config file")
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum messages to show")
	return cmd
}

func printMessageTable(out io.Writer, msgs []models.Message) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tFROM\tSUBJECT\tPRIORITY\tREAD\tSENT")
	for _, m := range msgs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\t%s\n",
			m.ID, m.Sender, m.Subject, m.Priority, m.Read,
			m.Timestamp.Format("2006-01-02 15:04"))
	}
	w.Flush()
}

func printMessage(out io.Writer, m *models.Message) {
	fmt.Fprintf(out, "ID:       %s\n", m.ID)
	fmt.Fprintf(out, "From:     %s\n", m.Sender)
	fmt.Fprintf(out, "To:       %s\n", m.Recipient)
	fmt.Fprintf(out, "Subject:  %s\n", m.Subject)
	fmt.Fprintf(out, "Priority: %s\n", m.Priority)
	fmt.Fprintf(out, "Sent:     %s\n", m.Timestamp.Format(time.RFC3339))
	if len(m.Tags) > 0 {
		fmt.Fprintf(out, "Tags:     %s\n", strings.Join(m.Tags, ", "))
	}
	if t := m.Thread(); t != "" {
		fmt.Fprintf(out, "Thread:   %s\n", t)
	}
	fmt.Fprintf(out, "\n%s\n", m.Body)
}

func newMessageReadCmd() *cobra.Command {
	var (
		configPath string
		agent      string
	)

	cmd := &cobra.Command{
		Use:   "read <id>...",
		Short: "Show messages and mark them read",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			defer closeStore(store)

			out := cmd.OutOrStdout()
			for i, id := range args {
				m, err := store.Get(cmd.Context(), id)
				if err != nil {
					return err
				}
				if m.Recipient != agent {
					return fmt.Errorf("message %s was not sent to %s", id, agent)
				}
				if i > 0 {
					fmt.Fprintln(out, "---")
				}
				printMessage(out, m)
			}
			n, err := store.MarkRead(cmd.Context(), args, agent)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "\nMarked %d message(s) read\n", n)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Mailroom config file")
	cmd.Flags().StringVar(&agent, "agent", "", "reading agent (required)")
	cmd.MarkFlagRequired("agent")
	return cmd
}

func newMessageDeleteCmd() *cobra.Command {
	var (
		configPath string
		agent      string
	)

	cmd := &cobra.Command{
		Use:   "delete <id>...",
		Short: "Delete messages from an agent's inbox",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			defer closeStore(store)

			n, err := store.Delete(cmd.Context(), args, agent)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d message(s)\n", n)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Mailroom config file")
	cmd.Flags().StringVar(&agent, "agent", "", "owning agent (required)")
	cmd.MarkFlagRequired("agent")
	return cmd
}

func newMessageThreadCmd() *cobra.Command {
	var (
		configPath string
		agent      string
	)

	cmd := &cobra.Command{
		Use:   "thread <thread-id>",
		Short: "Show a conversation thread",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			defer closeStore(store)

			msgs, err := store.Thread(cmd.Context(), args[0], agent)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Thread %s (%d messages)\n\n", args[0], len(msgs))
			for _, m := range msgs {
				fmt.Fprintf(out, "[%s] %s → %s: %s\n", m.Timestamp.Format("2006-01-02 15:04"), m.Sender, m.Recipient, m.Subject)
				fmt.Fprintf(out, "  %s\n\n", strings.ReplaceAll(m.Body, "\n", "\n  "))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Mailroom config file")
	cmd.Flags().StringVar(&agent, "agent", "", "participating agent (required)")
	cmd.MarkFlagRequired("agent")
	return cmd
}

func newMessageReplyCmd() *cobra.Command {
	var (
		configPath string
		from       string
		body       string
		priority   string
		tags       []string
	)

	cmd := &cobra.Command{
		Use:   "reply <message-id>",
		Short: "Reply to a message",
		Long:  "Sends a reply to the other party of a message. The reply joins the original's thread.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			defer closeStore(store)

			msg, err := store.Reply(cmd.Context(), args[0], from, body, mailbox.ReplyOpts{Priority: priority, Tags: tags})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Sent reply %s to %s (thread %s)\n", msg.ID, msg.Recipient, msg.Thread())
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Mailroom config file")
	cmd.Flags().StringVar(&from, "from", "", "replying agent (required)")
	cmd.Flags().StringVar(&body, "body", "", "reply body (required)")
	cmd.Flags().StringVar(&priority, "priority", "", "reply priority (default: parent's)")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "tag to attach (repeatable)")
	cmd.MarkFlagRequired("from")
	cmd.MarkFlagRequired("body")
	return cmd
}

func newMessageSearchCmd() *cobra.Command {
	var (
		configPath string
		agent      string
		sender     string
		since      time.Duration
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "search [text]",
		Short: "Search an agent's received messages",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			defer closeStore(store)

			q := mailbox.SearchQuery{Sender: sender, Limit: limit}
			if len(args) == 1 {
				q.Text = args[0]
			}
			if since > 0 {
				q.Since = store.Now().Add(-since)
			}
			msgs, err := store.Search(cmd.Context(), agent, q)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(msgs) == 0 {
				fmt.Fprintln(out, "No matching messages")
				return nil
			}
			printMessageTable(out, msgs)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Mailroom config file")
	cmd.Flags().StringVar(&agent, "agent", "", "agent whose mail to search (required)")
	cmd.Flags().StringVar(&sender, "from", "", "only messages from this sender")
	cmd.Flags().DurationVar(&since, "since", 0, "only messages newer than this (e.g. 24h)")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum results")
	cmd.MarkFlagRequired("agent")
	return cmd
}
