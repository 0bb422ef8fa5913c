package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/zulandar/mailroom/internal/config"
	"github.com/zulandar/mailroom/internal/db"
	"github.com/zulandar/mailroom/internal/distributor"
	"github.com/zulandar/mailroom/internal/mailbox"
	"github.com/zulandar/mailroom/internal/models"
	"github.com/zulandar/mailroom/internal/notice"
	"github.com/zulandar/mailroom/internal/summary"
	"gorm.io/gorm"
)

var baseTime = time.Date(2026, 4, 10, 9, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Maintenance.BackupDir = filepath.Join(t.TempDir(), "backups")
	return cfg
}

func setupWith(t *testing.T, gdb *gorm.DB, agents ...string) (*Orchestrator, *mailbox.Store, *testClock) {
	t.Helper()
	if err := db.AutoMigrate(gdb); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	clock := &testClock{now: baseTime}
	store := mailbox.New(gdb, mailbox.Options{Clock: clock.Now})
	for _, a := range agents {
		if _, err := store.RegisterAgent(context.Background(), a, nil); err != nil {
			t.Fatalf("RegisterAgent(%s): %v", a, err)
		}
	}
	o, err := New(context.Background(), Options{Store: store, Config: testConfig(t), Logger: quietLogger()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return o, store, clock
}

func setup(t *testing.T, agents ...string) (*Orchestrator, *mailbox.Store, *testClock) {
	t.Helper()
	gdb, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	return setupWith(t, gdb, agents...)
}

func deliver(t *testing.T, s *mailbox.Store, id, to, priority string, at time.Time) {
	t.Helper()
	msg := &models.Message{
		ID:        id,
		Sender:    "w",
		Recipient: to,
		Subject:   "task " + id,
		Body:      "hello",
		Priority:  priority,
		Timestamp: at,
	}
	if _, err := s.Send(context.Background(), msg); err != nil {
		t.Fatalf("Send(%s): %v", id, err)
	}
}

func flood(t *testing.T, s *mailbox.Store, to string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		deliver(t, s, fmt.Sprintf("%s-%03d", to, i), to, models.PriorityNormal, baseTime.Add(-time.Duration(i)*time.Minute))
	}
}

func inboxSubjects(t *testing.T, s *mailbox.Store, agent string) []string {
	t.Helper()
	msgs, err := s.List(context.Background(), agent, false, 500)
	if err != nil {
		t.Fatalf("List(%s): %v", agent, err)
	}
	var out []string
	for _, m := range msgs {
		out = append(out, m.Subject)
	}
	return out
}

func hasSubject(subjects []string, part string) bool {
	for _, s := range subjects {
		if strings.Contains(s, part) {
			return true
		}
	}
	return false
}

func TestNew_RegistersOrchestrator(t *testing.T) {
	o, store, _ := setup(t)
	agent, err := store.GetAgent(context.Background(), o.Name())
	if err != nil {
		t.Fatalf("GetAgent: %v", err)
	}
	if agent.Metadata["role"] != "system_orchestrator" {
		t.Errorf("role = %v, want system_orchestrator", agent.Metadata["role"])
	}
	if _, err := New(context.Background(), Options{}); err == nil {
		t.Error("expected error without a store")
	}
}

func TestAnalyzeAgent_Recommendations(t *testing.T) {
	o, store, _ := setup(t, "alice", "bob")
	for i := 0; i < 6; i++ {
		deliver(t, store, fmt.Sprintf("u-%d", i), "alice", models.PriorityUrgent, baseTime.Add(-time.Minute))
	}
	for i := 0; i < 2; i++ {
		deliver(t, store, fmt.Sprintf("old-%d", i), "alice", models.PriorityNormal, baseTime.Add(-25*time.Hour))
	}
	for i := 0; i < 27; i++ {
		deliver(t, store, fmt.Sprintf("n-%02d", i), "alice", models.PriorityNormal, baseTime.Add(-time.Hour))
	}

	w, err := o.AnalyzeAgent(context.Background(), "alice")
	if err != nil {
		t.Fatalf("AnalyzeAgent: %v", err)
	}
	if w.Unread != 35 || w.Urgent != 6 || w.Stale != 2 {
		t.Errorf("unread/urgent/stale = %d/%d/%d, want 35/6/2", w.Unread, w.Urgent, w.Stale)
	}
	if w.Status != distributor.StatusHighLoad {
		t.Errorf("Status = %s, want high_load", w.Status)
	}
	want := []string{
		"⚡ 6 urgent messages need immediate attention",
		"⏰ 2 messages older than 24 hours",
		"🔄 Consider delegating to: bob",
	}
	if !reflect.DeepEqual(w.Recommendations, want) {
		t.Errorf("Recommendations = %q, want %q", w.Recommendations, want)
	}
}

func TestAnalyzeAgent_Unknown(t *testing.T) {
	o, _, _ := setup(t)
	_, err := o.AnalyzeAgent(context.Background(), "ghost")
	if !errors.Is(err, mailbox.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestBuildStatus_LoadLevels(t *testing.T) {
	tests := []struct {
		name      string
		workloads []AgentWorkload
		want      string
	}{
		{"empty", nil, LoadLow},
		{"idle", []AgentWorkload{{Agent: "a", Status: distributor.StatusIdle}}, LoadLow},
		{"normal", []AgentWorkload{{Agent: "a", Unread: 10, Status: distributor.StatusLowLoad}}, LoadNormal},
		{"high", []AgentWorkload{{Agent: "a", Unread: 20, Status: distributor.StatusNormalLoad}}, LoadHigh},
		{"high urgent", []AgentWorkload{{Agent: "a", Unread: 6, Urgent: 6, Status: distributor.StatusLowLoad}}, LoadHigh},
		{"critical", []AgentWorkload{{Agent: "a", Unread: 60, Status: distributor.StatusOverwhelmed}}, LoadCritical},
		{"critical urgent", []AgentWorkload{{Agent: "a", Unread: 11, Urgent: 11, Status: distributor.StatusLowLoad}}, LoadCritical},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := BuildStatus(tt.workloads, len(tt.workloads))
			if st.Load != tt.want {
				t.Errorf("Load = %s, want %s", st.Load, tt.want)
			}
		})
	}
}

func TestBuildStatus_BottlenecksAndRecommendations(t *testing.T) {
	st := BuildStatus([]AgentWorkload{
		{Agent: "a", Unread: 60, Urgent: 11, Status: distributor.StatusOverwhelmed},
		{Agent: "b", Status: distributor.StatusIdle},
	}, 3)

	if st.TotalAgents != 3 || st.ActiveAgents != 1 {
		t.Errorf("total/active = %d/%d, want 3/1", st.TotalAgents, st.ActiveAgents)
	}
	wantB := []string{"1 agents overwhelmed", "11 urgent notices pending"}
	if !reflect.DeepEqual(st.Bottlenecks, wantB) {
		t.Errorf("Bottlenecks = %q, want %q", st.Bottlenecks, wantB)
	}
	wantR := []string{
		"🚨 SYSTEM CRITICAL: Immediate orchestrator intervention needed",
		"📊 Generate summaries for all overwhelmed agents",
		"⚡ Escalate all urgent notices",
		"🆘 a: 60 unread - needs summary",
		"⚖️ Load balance: 1 busy, 1 idle agents",
	}
	if !reflect.DeepEqual(st.Recommendations, wantR) {
		t.Errorf("Recommendations = %q, want %q", st.Recommendations, wantR)
	}
}

func TestSystemStatus_SkipsOrchestrator(t *testing.T) {
	o, store, _ := setup(t, "alice", "bob")
	flood(t, store, "alice", 20)

	st, err := o.SystemStatus(context.Background())
	if err != nil {
		t.Fatalf("SystemStatus: %v", err)
	}
	if st.TotalAgents != 2 {
		t.Errorf("TotalAgents = %d, want 2", st.TotalAgents)
	}
	if st.Unread != 20 || st.Load != LoadHigh {
		t.Errorf("unread/load = %d/%s, want 20/high", st.Unread, st.Load)
	}
	for _, w := range st.Workloads {
		if w.Agent == o.Name() {
			t.Error("orchestrator listed among workloads")
		}
	}
}

func TestParallel_IsolatesFailures(t *testing.T) {
	o, _, _ := setup(t)
	errs := make([]error, 4)
	var mu sync.Mutex
	seen := map[int]bool{}
	o.parallel(context.Background(), 4, func(_ context.Context, i int) error {
		mu.Lock()
		seen[i] = true
		mu.Unlock()
		switch i {
		case 1:
			panic("bad capability table")
		case 2:
			return errors.New("storage gone")
		}
		return nil
	}, errs)

	if len(seen) != 4 {
		t.Errorf("ran %d of 4", len(seen))
	}
	if errs[0] != nil || errs[3] != nil {
		t.Errorf("healthy indices failed: %v, %v", errs[0], errs[3])
	}
	if errs[1] == nil || !strings.Contains(errs[1].Error(), "panic") {
		t.Errorf("errs[1] = %v, want recovered panic", errs[1])
	}
	if errs[2] == nil {
		t.Error("errs[2] = nil, want error")
	}
}

func TestRunAnalysisCycle_OverwhelmedAndStale(t *testing.T) {
	o, store, _ := setup(t, "alice", "bob", "carol")
	flood(t, store, "alice", 55)
	deliver(t, store, "stale-high", "bob", models.PriorityHigh, baseTime.Add(-10*time.Hour))

	report, err := o.RunAnalysisCycle(context.Background())
	if err != nil {
		t.Fatalf("RunAnalysisCycle: %v", err)
	}
	if len(report.Failures) != 0 {
		t.Fatalf("Failures = %+v", report.Failures)
	}
	if want := []string{"alice", "bob", "carol"}; !reflect.DeepEqual(sorted(report.ActiveAgents), want) {
		t.Errorf("ActiveAgents = %v, want %v", report.ActiveAgents, want)
	}

	kinds := map[string][]Action{}
	for _, a := range report.Actions {
		kinds[a.Kind] = append(kinds[a.Kind], a)
	}
	if got := kinds[ActionSummary]; len(got) != 1 || got[0].Agent != "alice" || got[0].NoticeID == "" {
		t.Errorf("summary actions = %+v", got)
	}
	red := kinds[ActionRedistribute]
	if len(red) != 1 || red[0].Agent != "alice" || len(red[0].Targets) != 2 {
		t.Fatalf("redistribution actions = %+v", red)
	}
	if red[0].Redistribution.Plan.Total == 0 {
		t.Error("redistribution plan moves nothing")
	}
	if got := kinds[ActionEscalation]; len(got) != 1 || got[0].Agent != "bob" {
		t.Errorf("escalation actions = %+v", got)
	}

	if len(report.Escalations) != 1 || report.Escalations[0].MessageID != "stale-high" {
		t.Errorf("Escalations = %+v", report.Escalations)
	}
	if !hasSubject(inboxSubjects(t, store, "alice"), "Workload Summary - 55 Messages Prioritized") {
		t.Error("alice did not receive a workload summary")
	}
	if !hasSubject(inboxSubjects(t, store, "bob"), "1 Messages Escalated Due to Age") {
		t.Error("bob did not receive an escalation notice")
	}
	if report.Status == nil || report.Status.Load != LoadCritical {
		t.Errorf("Status = %+v, want critical load", report.Status)
	}
	if o.State().AnalysisCycles != 1 {
		t.Errorf("AnalysisCycles = %d, want 1", o.State().AnalysisCycles)
	}

	// Stored priorities are never rewritten.
	m, err := store.Get(context.Background(), "stale-high")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if m.Priority != models.PriorityHigh {
		t.Errorf("stored priority = %s, want high", m.Priority)
	}
}

func countSubjects(subjects []string, part string) int {
	n := 0
	for _, s := range subjects {
		if strings.Contains(s, part) {
			n++
		}
	}
	return n
}

func TestRunAnalysisCycle_NotifiesStaleMessageOnce(t *testing.T) {
	o, store, clock := setup(t, "bob")
	ctx := context.Background()
	deliver(t, store, "stale-high", "bob", models.PriorityHigh, baseTime.Add(-10*time.Hour))

	for i := 0; i < 6; i++ {
		report, err := o.RunAnalysisCycle(ctx)
		if err != nil {
			t.Fatalf("cycle %d: %v", i, err)
		}
		if len(report.Escalations) != 1 {
			t.Errorf("cycle %d: Escalations = %d, want 1", i, len(report.Escalations))
		}
		clock.Advance(5 * time.Minute)
	}

	if n := countSubjects(inboxSubjects(t, store, "bob"), "Messages Escalated Due to Age"); n != 1 {
		t.Errorf("bob received %d escalation notices, want 1", n)
	}
	if o.Notices().Len() != 1 {
		t.Errorf("ledger holds %d notices, want 1", o.Notices().Len())
	}
	stats, err := store.Stats(ctx, "bob")
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Unread != 2 {
		t.Errorf("bob unread = %d, want 2", stats.Unread)
	}

	// Once read, the message is forgotten; a new stale message is reported.
	if _, err := store.MarkRead(ctx, []string{"stale-high"}, "bob"); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	deliver(t, store, "stale-late", "bob", models.PriorityHigh, clock.Now().Add(-10*time.Hour))
	if _, err := o.RunAnalysisCycle(ctx); err != nil {
		t.Fatalf("RunAnalysisCycle: %v", err)
	}
	if n := countSubjects(inboxSubjects(t, store, "bob"), "Messages Escalated Due to Age"); n != 2 {
		t.Errorf("bob received %d escalation notices, want 2", n)
	}
	o.mu.Lock()
	_, stillHeld := o.notified["stale-high"]
	o.mu.Unlock()
	if stillHeld {
		t.Error("read message still marked as notified")
	}
}

func TestRunAnalysisCycle_EscalatesOverdueNoticeOnce(t *testing.T) {
	o, store, clock := setup(t, "bob")
	ctx := context.Background()

	rec, err := o.Notices().Send(ctx, "bob", "Rotate keys", "Rotate the deploy keys", notice.SystemAlert, nil)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	clock.Advance(3 * time.Hour)

	report, err := o.RunAnalysisCycle(ctx)
	if err != nil {
		t.Fatalf("RunAnalysisCycle: %v", err)
	}
	if report.OverdueEscalated != 1 {
		t.Fatalf("OverdueEscalated = %d, want 1", report.OverdueEscalated)
	}
	got, ok := o.Notices().Get(rec.ID)
	if !ok || got.EscalatedAt == nil {
		t.Fatalf("original not marked escalated: %+v", got)
	}
	if !hasSubject(inboxSubjects(t, store, "bob"), "ESCALATION: Unacknowledged Notice - Rotate keys") {
		t.Error("bob did not receive the escalation")
	}

	clock.Advance(3 * time.Hour)
	report, err = o.RunAnalysisCycle(ctx)
	if err != nil {
		t.Fatalf("second RunAnalysisCycle: %v", err)
	}
	if report.OverdueEscalated != 0 {
		t.Errorf("second cycle OverdueEscalated = %d, want 0", report.OverdueEscalated)
	}
}

func TestCapabilityMatches(t *testing.T) {
	source := &distributor.Workload{Agent: "src", Categories: map[string]int{"code": 5, "docs": 1}}
	candidates := []*distributor.Workload{
		{Agent: "docs-only", Status: distributor.StatusIdle, Capabilities: []string{"docs"}},
		{Agent: "none", Status: distributor.StatusIdle},
		{Agent: "coder", Status: distributor.StatusNormalLoad, Capabilities: []string{"code"}},
	}
	got := capabilityMatches(source, candidates, 2)
	want := []string{"coder", "docs-only"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("capabilityMatches = %v, want %v", got, want)
	}
}

func TestSendSummary(t *testing.T) {
	o, store, _ := setup(t, "alice")
	flood(t, store, "alice", 3)

	rec, err := o.SendSummary(context.Background(), "alice", summary.UrgentFirst)
	if err != nil {
		t.Fatalf("SendSummary: %v", err)
	}
	if rec.Type != notice.WorkloadSummary || rec.Recipient != "alice" {
		t.Errorf("record = %+v", rec)
	}
	if _, err := o.SendSummary(context.Background(), "ghost", summary.Balanced); !errors.Is(err, mailbox.ErrNotFound) {
		t.Errorf("unknown agent err = %v, want ErrNotFound", err)
	}
}

func TestAlert_ActiveAgents(t *testing.T) {
	o, store, _ := setup(t, "alice", "bob")
	sent, err := o.Alert(context.Background(), "Deploy freeze", "No deploys until noon")
	if err != nil {
		t.Fatalf("Alert: %v", err)
	}
	if len(sent) != 2 || sent["alice"] == "" || sent["bob"] == "" {
		t.Errorf("Alert sent = %v", sent)
	}
	if !hasSubject(inboxSubjects(t, store, "bob"), "Deploy freeze") {
		t.Error("bob did not receive the alert")
	}
}

func TestDashboard(t *testing.T) {
	o, store, _ := setup(t, "alice", "bob")
	flood(t, store, "alice", 8)
	if _, err := o.Notices().Send(context.Background(), "bob", "Heads up", "Maintenance tonight", notice.SystemMaintenance, nil); err != nil {
		t.Fatalf("Send: %v", err)
	}

	v, err := o.Dashboard(context.Background())
	if err != nil {
		t.Fatalf("Dashboard: %v", err)
	}
	if v.Status == nil || v.Status.TotalAgents != 2 {
		t.Errorf("Status = %+v", v.Status)
	}
	if len(v.RecentNotices) != 1 {
		t.Errorf("RecentNotices = %d, want 1", len(v.RecentNotices))
	}
	if v.Priorities == nil || v.LoadBalancing == nil {
		t.Errorf("missing sections, errors = %v", v.Errors)
	}
	if v.Orchestrator.Name != "system-orchestrator" || v.Orchestrator.TrackedNotices != 1 {
		t.Errorf("Orchestrator = %+v", v.Orchestrator)
	}
}

func TestRunMaintenanceCycle(t *testing.T) {
	gdb, err := db.Open(config.DatabaseConfig{
		Driver:      config.DriverSQLite,
		Path:        filepath.Join(t.TempDir(), "mail.db"),
		BusyTimeout: time.Second,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close(gdb)
	o, store, _ := setupWith(t, gdb, "alice")
	ctx := context.Background()

	old := baseTime.AddDate(0, 0, -40)
	deliver(t, store, "old-read", "alice", models.PriorityNormal, old)
	deliver(t, store, "old-unread", "alice", models.PriorityNormal, old)
	deliver(t, store, "fresh", "alice", models.PriorityNormal, baseTime)
	if _, err := store.MarkRead(ctx, []string{"old-read"}, "alice"); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}

	report, err := o.RunMaintenanceCycle(ctx)
	if err != nil {
		t.Fatalf("RunMaintenanceCycle: %v", err)
	}
	if report.Purged != 1 {
		t.Errorf("Purged = %d, want 1", report.Purged)
	}
	if _, err := store.Get(ctx, "old-unread"); err != nil {
		t.Errorf("unread message purged: %v", err)
	}
	if report.StuckMessages != 1 || report.RecentlyActive != 1 {
		t.Errorf("stuck/active = %d/%d, want 1/1", report.StuckMessages, report.RecentlyActive)
	}
	if report.Health != "Issues detected: 1 messages unread for over 48 hours" {
		t.Errorf("Health = %q", report.Health)
	}
	if !report.Vacuumed {
		t.Error("store not vacuumed")
	}
	if report.BackupPath == "" {
		t.Fatal("no backup written")
	}
	if _, err := os.Stat(report.BackupPath); err != nil {
		t.Errorf("backup missing: %v", err)
	}
	if o.State().MaintenanceCycles != 1 {
		t.Errorf("MaintenanceCycles = %d, want 1", o.State().MaintenanceCycles)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	o, _, _ := setup(t, "alice")
	o.cfg.Orchestrator.AnalysisInterval = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	var out bytes.Buffer
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx, &out) }()

	deadline := time.Now().Add(5 * time.Second)
	for o.State().AnalysisCycles == 0 {
		if time.Now().After(deadline) {
			cancel()
			t.Fatal("no analysis cycle ran")
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if !strings.Contains(out.String(), "Orchestrator stopped.") {
		t.Errorf("output = %q", out.String())
	}
}

func TestRun_BadSchedule(t *testing.T) {
	o, _, _ := setup(t)
	o.cfg.Orchestrator.MaintenanceSchedule = "every tuesday"
	if err := o.Run(context.Background(), nil); err == nil {
		t.Error("expected schedule error")
	}
}

func TestSafeRun_RecoversPanic(t *testing.T) {
	o, _, _ := setup(t)
	err := o.safeRun("analysis", func() error { panic("boom") })
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("safeRun = %v", err)
	}
	if o.State().LastError == "" {
		t.Error("LastError not recorded")
	}
}

func sorted(in []string) []string {
	out := append([]string(nil), in...)
	sort.Strings(out)
	return out
}
