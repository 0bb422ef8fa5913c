package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/zulandar/mailroom/internal/config"
	"github.com/zulandar/mailroom/internal/db"
	"github.com/zulandar/mailroom/internal/mailbox"
	"github.com/zulandar/mailroom/internal/notice"
	"github.com/zulandar/mailroom/internal/orchestrator"
	"github.com/zulandar/mailroom/internal/telegraph"
	discordadapter "github.com/zulandar/mailroom/internal/telegraph/discord"
	slackadapter "github.com/zulandar/mailroom/internal/telegraph/slack"
)

// connectFromConfig loads configPath (defaults when it does not exist),
// opens the store and migrates it.
func connectFromConfig(configPath string) (*config.Config, *mailbox.Store, error) {
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	gormDB, err := db.Open(cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		return nil, nil, fmt.Errorf("migrate %s: %w", db.Location(cfg.Database), err)
	}
	return cfg, mailbox.New(gormDB, mailbox.Options{Timeout: storeTimeout(cfg)}), nil
}

// storeTimeout bounds every store call, leaving room for SQLite's busy
// wait to finish first.
func storeTimeout(cfg *config.Config) time.Duration {
	return 2 * cfg.Database.BusyTimeout
}

func closeStore(s *mailbox.Store) {
	if s != nil {
		db.Close(s.DB())
	}
}

func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// buildRelay assembles the configured notice relays. It returns nil when
// nothing is configured or nothing connects.
func buildRelay(ctx context.Context, cfg config.NotifyConfig, logger *slog.Logger) *telegraph.Relay {
	var adapters []telegraph.Adapter
	if cfg.Slack.BotToken != "" {
		a, err := slackadapter.New(slackadapter.AdapterOpts{BotToken: cfg.Slack.BotToken, ChannelID: cfg.Slack.ChannelID, Logger: logger})
		if err != nil {
			logger.Warn("slack relay disabled", "error", err)
		} else {
			adapters = append(adapters, a)
		}
	}
	if cfg.Discord.BotToken != "" {
		a, err := discordadapter.New(discordadapter.AdapterOpts{BotToken: cfg.Discord.BotToken, ChannelID: cfg.Discord.ChannelID, Logger: logger})
		if err != nil {
			logger.Warn("discord relay disabled", "error", err)
		} else {
			adapters = append(adapters, a)
		}
	}
	var command *telegraph.CommandNotifier
	if cfg.Command != "" {
		command = &telegraph.CommandNotifier{Command: cfg.Command}
	}
	if len(adapters) == 0 && command == nil {
		return nil
	}

	relay := telegraph.NewRelay(telegraph.RelayOpts{Adapters: adapters, Command: command, Logger: logger})
	relay.Connect(ctx)
	if !relay.Enabled() {
		return nil
	}
	return relay
}

// session bundles what orchestrator commands need.
type session struct {
	cfg   *config.Config
	store *mailbox.Store
	orch  *orchestrator.Orchestrator
	relay *telegraph.Relay
	log   *slog.Logger
}

func (s *session) Close() {
	if s.relay != nil {
		s.relay.Close()
	}
	closeStore(s.store)
}

// openSession connects to the store and builds an orchestrator whose
// notices are relayed to the configured chat channels.
func openSession(ctx context.Context, configPath string, logOut io.Writer) (*session, error) {
	cfg, store, err := connectFromConfig(configPath)
	if err != nil {
		return nil, err
	}
	logger := newLogger(cfg.Log, logOut)
	relay := buildRelay(ctx, cfg.Notify, logger)

	nopts := notice.Options{
		Store:    store,
		Sender:   cfg.Orchestrator.Name,
		Capacity: cfg.Orchestrator.LedgerSize,
		TTL:      cfg.Orchestrator.LedgerTTL,
		Logger:   logger,
	}
	if relay != nil {
		nopts.Relay = relay
	}
	orch, err := orchestrator.New(ctx, orchestrator.Options{
		Store:   store,
		Notices: notice.NewManager(nopts),
		Config:  cfg,
		Logger:  logger,
	})
	if err != nil {
		relay.Close()
		closeStore(store)
		return nil, err
	}
	return &session{cfg: cfg, store: store, orch: orch, relay: relay, log: logger}, nil
}
