package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/mailroom/internal/config"
	"github.com/zulandar/mailroom/internal/db"
)

func newDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database management commands",
	}

	cmd.AddCommand(newDBInitCmd())
	cmd.AddCommand(newDBPathCmd())
	cmd.AddCommand(newDBBackupCmd())
	cmd.AddCommand(newDBVacuumCmd())
	cmd.AddCommand(newDBPurgeCmd())
	return cmd
}

func newDBInitCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize the Mailroom database",
		Long:  "Creates the database if needed and migrates the messages and agents tables.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBInit(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Mailroom config file")
	return cmd
}

func runDBInit(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()

	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cfg.Database.Driver == config.DriverMySQL {
		adminDB, err := db.ConnectAdmin(cfg.Database.User, cfg.Database.Host, cfg.Database.Port)
		if err != nil {
			return fmt.Errorf("connect to %s:%d: %w", cfg.Database.Host, cfg.Database.Port, err)
		}
		if err := db.CreateDatabase(adminDB, cfg.Database.Name); err != nil {
			db.Close(adminDB)
			return err
		}
		db.Close(adminDB)
		fmt.Fprintf(out, "Database %q ready\n", cfg.Database.Name)
	}

	_, store, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	defer closeStore(store)
	fmt.Fprintf(out, "Migrated %d tables at %s\n", len(db.AllModels()), db.Location(cfg.Database))
	return nil
}

func newDBPathCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "path",
		Short: "Print the store location",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOrDefault(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), db.Location(cfg.Database))
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Mailroom config file")
	return cmd
}

func newDBBackupCmd() *cobra.Command {
	var (
		configPath string
		dir        string
		keep       int
	)

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Write a timestamped copy of the SQLite store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, store, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			defer closeStore(store)

			if dir == "" {
				dir = cfg.Maintenance.BackupDir
			}
			if !cmd.Flags().Changed("keep") {
				keep = cfg.Maintenance.KeepBackups
			}
			path, err := db.Backup(cmd.Context(), store.DB(), dir, time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Backup written to %s\n", path)
			if keep > 0 {
				n, err := db.PruneBackups(dir, keep)
				if err != nil {
					return err
				}
				if n > 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "Removed %d old backups\n", n)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Mailroom config file")
	cmd.Flags().StringVar(&dir, "dir", "", "backup directory (default maintenance.backup_dir)")
	cmd.Flags().IntVar(&keep, "keep", 0, "backups to keep (default maintenance.keep_backups)")
	return cmd
}

func newDBVacuumCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "vacuum",
		Short: "Compact the store",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			defer closeStore(store)
			if err := db.Vacuum(cmd.Context(), store.DB()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Store compacted")
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Mailroom config file")
	return cmd
}

func newDBPurgeCmd() *cobra.Command {
	var (
		configPath string
		days       int
		all        bool
	)

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete old messages",
		Long:  "Deletes messages older than --days. Unread messages are kept unless --all is set.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, store, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			defer closeStore(store)

			if !cmd.Flags().Changed("days") {
				days = cfg.Maintenance.RetentionDays
			}
			if days <= 0 {
				return fmt.Errorf("--days must be positive")
			}
			cutoff := store.Now().AddDate(0, 0, -days)
			n, err := store.PurgeOlderThan(cmd.Context(), cutoff, !all)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Purged %d messages older than %d days\n", n, days)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Mailroom config file")
	cmd.Flags().IntVar(&days, "days", 0, "age in days (default maintenance.retention_days)")
	cmd.Flags().BoolVar(&all, "all", false, "also delete unread messages")
	return cmd
}
