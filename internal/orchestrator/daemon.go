package orchestrator

import (
	"context"
	"fmt"
	"io"
	"runtime/debug"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	defaultAnalysisInterval = 5 * time.Minute
	defaultErrorBackoff     = time.Minute
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Run drives the orchestrator until ctx is cancelled. Analysis cycles run
// immediately and then every AnalysisInterval; maintenance cycles run on
// MaintenanceSchedule. A failed or panicking cycle is logged and followed
// by ErrorBackoff before the next one. Run returns nil on cancellation.
func (o *Orchestrator) Run(ctx context.Context, out io.Writer) error {
	if out == nil {
		out = io.Discard
	}
	cfg := o.cfg.Orchestrator
	interval := cfg.AnalysisInterval
	if interval <= 0 {
		interval = defaultAnalysisInterval
	}
	backoff := cfg.ErrorBackoff
	if backoff <= 0 {
		backoff = defaultErrorBackoff
	}

	sched := cron.New(
		cron.WithParser(cronParser),
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	if cfg.MaintenanceSchedule != "" {
		if _, err := sched.AddFunc(cfg.MaintenanceSchedule, func() {
			err := o.safeRun("maintenance", func() error {
				_, err := o.RunMaintenanceCycle(ctx)
				return err
			})
			if err == nil {
				fmt.Fprintf(out, "Maintenance cycle complete\n")
			}
		}); err != nil {
			return fmt.Errorf("orchestrator: maintenance schedule %q: %w", cfg.MaintenanceSchedule, err)
		}
	}
	sched.Start()
	defer func() {
		<-sched.Stop().Done()
		fmt.Fprintf(out, "Orchestrator stopped.\n")
	}()

	fmt.Fprintf(out, "Orchestrator %s starting (analysis every %s, maintenance %q)...\n",
		o.name, interval, cfg.MaintenanceSchedule)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		var report *CycleReport
		err := o.safeRun("analysis", func() error {
			var err error
			report, err = o.RunAnalysisCycle(ctx)
			return err
		})
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			fmt.Fprintf(out, "Analysis cycle failed, retrying in %s\n", backoff)
			sleepWithContext(ctx, backoff)
			continue
		}
		fmt.Fprintf(out, "Cycle %d: %d agents, %d actions, load %s\n",
			o.State().AnalysisCycles, len(report.ActiveAgents), len(report.Actions), loadOf(report))

		sleepWithContext(ctx, interval)
	}
}

// safeRun calls fn, converting a panic into an error. Failures are logged
// and recorded as the last error.
func (o *Orchestrator) safeRun(cycle string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("orchestrator: %s cycle panic: %v", cycle, r)
			o.log.Error("cycle panicked", "cycle", cycle, "panic", r, "stack", string(debug.Stack()))
		}
		if err != nil {
			o.mu.Lock()
			o.state.LastError = err.Error()
			o.mu.Unlock()
			o.log.Error("cycle failed", "cycle", cycle, "error", err)
		}
	}()
	return fn()
}

func loadOf(r *CycleReport) string {
	if r == nil || r.Status == nil {
		return "unknown"
	}
	return r.Status.Load
}

// sleepWithContext sleeps for d or until ctx is cancelled.
func sleepWithContext(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
