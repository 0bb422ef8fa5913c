package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/zulandar/mailroom/internal/db"
)

// stuckAfter is how long unread mail may sit before the health check
// flags it.
const stuckAfter = 48 * time.Hour

// MaintenanceReport is the outcome of one maintenance cycle.
type MaintenanceReport struct {
	StartedAt      time.Time     `json:"started_at"`
	Duration       time.Duration `json:"duration"`
	Purged         int64         `json:"purged_messages"`
	StuckMessages  int64         `json:"stuck_messages"`
	RecentlyActive int           `json:"recently_active_agents"`
	Health         string        `json:"health"`
	Vacuumed       bool          `json:"vacuumed"`
	BackupPath     string        `json:"backup_path,omitempty"`
	BackupsPruned  int           `json:"backups_pruned"`
}

// RunMaintenanceCycle purges old read mail, checks store health, compacts
// the store and, for SQLite, writes a rotated backup. Each step runs even
// if an earlier one failed; the errors are joined.
func (o *Orchestrator) RunMaintenanceCycle(ctx context.Context) (*MaintenanceReport, error) {
	start := time.Now()
	now := o.store.Now()
	report := &MaintenanceReport{StartedAt: now}
	mcfg := o.cfg.Maintenance
	var errs []error

	if mcfg.RetentionDays > 0 {
		cutoff := now.AddDate(0, 0, -mcfg.RetentionDays)
		n, err := o.store.PurgeOlderThan(ctx, cutoff, true)
		if err != nil {
			o.log.Error("maintenance step failed", "op", "purge", "error", err)
			errs = append(errs, err)
		}
		report.Purged = n
	}

	health, err := o.healthCheck(ctx, report)
	if err != nil {
		o.log.Error("maintenance step failed", "op", "health", "error", err)
		errs = append(errs, err)
	}
	report.Health = health

	gdb := o.store.DB()
	if err := db.Vacuum(ctx, gdb); err != nil {
		o.log.Error("maintenance step failed", "op", "vacuum", "error", err)
		errs = append(errs, err)
	} else {
		report.Vacuumed = true
	}

	if db.Dialect(gdb) == "sqlite" && mcfg.BackupDir != "" {
		path, err := db.Backup(ctx, gdb, mcfg.BackupDir, now)
		if err != nil {
			o.log.Error("maintenance step failed", "op", "backup", "error", err)
			errs = append(errs, err)
		} else {
			report.BackupPath = path
			if mcfg.KeepBackups > 0 {
				n, err := db.PruneBackups(mcfg.BackupDir, mcfg.KeepBackups)
				if err != nil {
					o.log.Error("maintenance step failed", "op", "prune_backups", "error", err)
					errs = append(errs, err)
				}
				report.BackupsPruned = n
			}
		}
	}

	o.mu.Lock()
	o.state.MaintenanceCycles++
	o.state.LastMaintenance = now
	o.mu.Unlock()
	if err := o.register(ctx); err != nil {
		errs = append(errs, err)
	}

	report.Duration = time.Since(start)
	o.log.Info("maintenance cycle complete",
		"purged", report.Purged,
		"health", report.Health,
		"backup", report.BackupPath,
		"duration", report.Duration)
	return report, errors.Join(errs...)
}

func (o *Orchestrator) healthCheck(ctx context.Context, report *MaintenanceReport) (string, error) {
	now := o.store.Now()
	stuck, err := o.store.CountUnreadOlderThan(ctx, now.Add(-stuckAfter))
	if err != nil {
		return "Health check failed", fmt.Errorf("orchestrator: health: %w", err)
	}
	active, err := o.activeWorkers(ctx)
	if err != nil {
		return "Health check failed", err
	}
	report.StuckMessages = stuck
	report.RecentlyActive = len(active)

	var issues []string
	if stuck > 0 {
		issues = append(issues, fmt.Sprintf("%d messages unread for over 48 hours", stuck))
	}
	if len(active) == 0 {
		issues = append(issues, "no recently active agents")
	}
	if len(issues) == 0 {
		return "All systems operational", nil
	}
	return "Issues detected: " + strings.Join(issues, "; "), nil
}
