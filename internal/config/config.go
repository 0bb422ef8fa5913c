// Package config provides YAML-based configuration loading for Mailroom.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Supported database drivers.
const (
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
)

// Config is the top-level Mailroom configuration, loaded from mailroom.yaml.
type Config struct {
	Database     DatabaseConfig     `yaml:"database"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Maintenance  MaintenanceConfig  `yaml:"maintenance"`
	Notify       NotifyConfig       `yaml:"notify"`
	Dashboard    DashboardConfig    `yaml:"dashboard"`
	Log          LogConfig          `yaml:"log"`
}

// DatabaseConfig selects and locates the message store.
type DatabaseConfig struct {
	Driver      string        `yaml:"driver"`
	Path        string        `yaml:"path"`
	Host        string        `yaml:"host"`
	Port        int           `yaml:"port"`
	Name        string        `yaml:"name"`
	User        string        `yaml:"user"`
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// OrchestratorConfig tunes the analysis and maintenance cycles.
type OrchestratorConfig struct {
	Name                string        `yaml:"name"`
	AnalysisInterval    time.Duration `yaml:"analysis_interval"`
	MaintenanceSchedule string        `yaml:"maintenance_schedule"`
	ErrorBackoff        time.Duration `yaml:"error_backoff"`
	EscalationHours     float64       `yaml:"escalation_hours"`
	ConfidenceThreshold float64       `yaml:"confidence_threshold"`
	SummaryMode         string        `yaml:"summary_mode"`
	Strategy            string        `yaml:"strategy"`
	ActiveWindow        time.Duration `yaml:"active_window"`
	Workers             int           `yaml:"workers"`
	LedgerSize          int           `yaml:"ledger_size"`
	LedgerTTL           time.Duration `yaml:"ledger_ttl"`
}

// MaintenanceConfig controls purge and backup behaviour.
type MaintenanceConfig struct {
	RetentionDays int    `yaml:"retention_days"`
	BackupDir     string `yaml:"backup_dir"`
	KeepBackups   int    `yaml:"keep_backups"`
}

// NotifyConfig holds optional relays for orchestrator notices.
type NotifyConfig struct {
	Command string        `yaml:"command"`
	Slack   SlackConfig   `yaml:"slack"`
	Discord DiscordConfig `yaml:"discord"`
}

// SlackConfig holds Slack bot credentials.
type SlackConfig struct {
	BotToken  string `yaml:"bot_token"`
	ChannelID string `yaml:"channel_id"`
}

// DiscordConfig holds Discord bot credentials.
type DiscordConfig struct {
	BotToken  string `yaml:"bot_token"`
	ChannelID string `yaml:"channel_id"`
}

// DashboardConfig holds HTTP settings for the dashboard API.
type DashboardConfig struct {
	Port int `yaml:"port"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

var (
	validSummaryModes = []string{"urgent_first", "breadth_first", "balanced"}
	validStrategies   = []string{"equal", "capability_based", "workload_balanced", "priority_focused"}
	validLogLevels    = []string{"debug", "info", "warn", "error"}
	validLogFormats   = []string{"text", "json"}
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// LoadOrDefault behaves like Load but falls back to defaults when the file
// does not exist.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Default(), nil
	}
	return Load(path)
}

// Default returns a Config with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	d := &c.Database
	if d.Driver == "" {
		d.Driver = DriverSQLite
	}
	if d.Driver == DriverSQLite && d.Path == "" {
		d.Path = filepath.Join(homeDir(), ".mailroom", "mail.db")
	}
	if d.Host == "" {
		d.Host = "127.0.0.1"
	}
	if d.Port == 0 {
		d.Port = 3306
	}
	if d.Name == "" {
		d.Name = "mailroom"
	}
	if d.User == "" {
		d.User = "root"
	}
	if d.BusyTimeout == 0 {
		d.BusyTimeout = 5 * time.Second
	}

	o := &c.Orchestrator
	if o.Name == "" {
		o.Name = "system-orchestrator"
	}
	if o.AnalysisInterval == 0 {
		o.AnalysisInterval = 5 * time.Minute
	}
	if o.MaintenanceSchedule == "" {
		o.MaintenanceSchedule = "0 */3 * * *"
	}
	if o.ErrorBackoff == 0 {
		o.ErrorBackoff = 60 * time.Second
	}
	if o.EscalationHours == 0 {
		o.EscalationHours = 24
	}
	if o.ConfidenceThreshold == 0 {
		o.ConfidenceThreshold = 0.8
	}
	if o.SummaryMode == "" {
		o.SummaryMode = "balanced"
	}
	if o.Strategy == "" {
		o.Strategy = "workload_balanced"
	}
	if o.ActiveWindow == 0 {
		o.ActiveWindow = time.Hour
	}
	if o.Workers == 0 {
		o.Workers = 4
	}
	if o.LedgerSize == 0 {
		o.LedgerSize = 1000
	}
	if o.LedgerTTL == 0 {
		o.LedgerTTL = 7 * 24 * time.Hour
	}

	m := &c.Maintenance
	if m.RetentionDays == 0 {
		m.RetentionDays = 30
	}
	if m.BackupDir == "" {
		m.BackupDir = filepath.Join(homeDir(), ".mailroom", "backups")
	}
	if m.KeepBackups == 0 {
		m.KeepBackups = 7
	}

	if c.Dashboard.Port == 0 {
		c.Dashboard.Port = 8787
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string

	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.Path == "" {
			errs = append(errs, "database.path is required for sqlite")
		}
	case DriverMySQL:
		if c.Database.Port < 1 || c.Database.Port > 65535 {
			errs = append(errs, fmt.Sprintf("database.port %d out of range", c.Database.Port))
		}
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q must be sqlite or mysql", c.Database.Driver))
	}
	if c.Database.BusyTimeout < 0 {
		errs = append(errs, "database.busy_timeout must not be negative")
	}

	o := c.Orchestrator
	if o.AnalysisInterval < 0 {
		errs = append(errs, "orchestrator.analysis_interval must be positive")
	}
	if o.ErrorBackoff < 0 {
		errs = append(errs, "orchestrator.error_backoff must be positive")
	}
	if o.EscalationHours < 0 {
		errs = append(errs, "orchestrator.escalation_hours must be positive")
	}
	if o.ConfidenceThreshold < 0 || o.ConfidenceThreshold > 1 {
		errs = append(errs, "orchestrator.confidence_threshold must be between 0 and 1")
	}
	if !contains(validSummaryModes, o.SummaryMode) {
		errs = append(errs, fmt.Sprintf("orchestrator.summary_mode %q must be one of %s", o.SummaryMode, strings.Join(validSummaryModes, ", ")))
	}
	if !contains(validStrategies, o.Strategy) {
		errs = append(errs, fmt.Sprintf("orchestrator.strategy %q must be one of %s", o.Strategy, strings.Join(validStrategies, ", ")))
	}
	if _, err := cronParser.Parse(o.MaintenanceSchedule); err != nil {
		errs = append(errs, fmt.Sprintf("orchestrator.maintenance_schedule: %v", err))
	}
	if o.Workers < 0 {
		errs = append(errs, "orchestrator.workers must be positive")
	}
	if o.LedgerSize < 0 {
		errs = append(errs, "orchestrator.ledger_size must be positive")
	}

	if c.Maintenance.RetentionDays < 0 {
		errs = append(errs, "maintenance.retention_days must be positive")
	}
	if c.Dashboard.Port < 1 || c.Dashboard.Port > 65535 {
		errs = append(errs, fmt.Sprintf("dashboard.port %d out of range", c.Dashboard.Port))
	}
	if c.Notify.Slack.BotToken != "" && c.Notify.Slack.ChannelID == "" {
		errs = append(errs, "notify.slack.channel_id is required when bot_token is set")
	}
	if c.Notify.Discord.BotToken != "" && c.Notify.Discord.ChannelID == "" {
		errs = append(errs, "notify.discord.channel_id is required when bot_token is set")
	}
	if !contains(validLogLevels, c.Log.Level) {
		errs = append(errs, fmt.Sprintf("log.level %q must be one of %s", c.Log.Level, strings.Join(validLogLevels, ", ")))
	}
	if !contains(validLogFormats, c.Log.Format) {
		errs = append(errs, fmt.Sprintf("log.format %q must be text or json", c.Log.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func homeDir() string {
	if h, err := os.UserHomeDir(); err == nil {
		return h
	}
	return "."
}
