package main

import (
	"github.com/spf13/cobra"
	"github.com/zulandar/mailroom/internal/dashboard"
)

func newDashboardCmd() *cobra.Command {
	var (
		configPath string
		port       int
	)

	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Start the JSON dashboard API",
		Long:  "Serves orchestrator status, workloads, summaries and a notice event stream over HTTP.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDashboard(cmd, configPath, port)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Mailroom config file")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (default dashboard.port)")
	return cmd
}

func runDashboard(cmd *cobra.Command, configPath string, port int) error {
	out := cmd.OutOrStdout()
	ctx, cancel := withSignals(cmd.Context(), out)
	defer cancel()

	s, err := openSession(ctx, configPath, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer s.Close()

	if port == 0 {
		port = s.cfg.Dashboard.Port
	}
	return dashboard.Start(ctx, dashboard.StartOpts{
		Orchestrator: s.orch,
		Port:         port,
		Out:          out,
	})
}
