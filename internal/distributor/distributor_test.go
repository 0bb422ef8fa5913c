package distributor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/zulandar/mailroom/internal/db"
	"github.com/zulandar/mailroom/internal/mailbox"
	"github.com/zulandar/mailroom/internal/models"
)

var now = time.Date(2026, 4, 10, 9, 0, 0, 0, time.UTC)

func testStore(t *testing.T) *mailbox.Store {
	t.Helper()
	gdb, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(gdb); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return mailbox.New(gdb, mailbox.Options{Clock: func() time.Time { return now }})
}

func register(t *testing.T, s *mailbox.Store, names ...string) {
	t.Helper()
	for _, n := range names {
		if _, err := s.RegisterAgent(context.Background(), n, nil); err != nil {
			t.Fatalf("RegisterAgent(%s): %v", n, err)
		}
	}
}

func flood(t *testing.T, s *mailbox.Store, to string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		msg := &models.Message{
			ID:        fmt.Sprintf("%s-%03d", to, i),
			Sender:    "w",
			Recipient: to,
			Subject:   fmt.Sprintf("ping %d", i),
			Body:      "hello",
			Timestamp: now.Add(-time.Duration(i) * time.Minute),
		}
		if _, err := s.Send(context.Background(), msg); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		unread int
		want   Status
	}{
		{0, StatusIdle}, {4, StatusIdle}, {5, StatusLowLoad}, {14, StatusLowLoad},
		{15, StatusNormalLoad}, {29, StatusNormalLoad}, {30, StatusHighLoad},
		{49, StatusHighLoad}, {50, StatusOverwhelmed}, {500, StatusOverwhelmed},
	}
	for _, tt := range tests {
		if got := StatusFor(tt.unread); got != tt.want {
			t.Errorf("StatusFor(%d) = %s, want %s", tt.unread, got, tt.want)
		}
	}
}

func TestBuildWorkload(t *testing.T) {
	msgs := []models.Message{
		{ID: "1", Sender: "a", Subject: "debug", Body: "fix the code", Priority: "high", Timestamp: now.Add(-time.Hour)},
		{ID: "2", Sender: "b", Subject: "review", Body: "code please", Priority: "normal", Timestamp: now.Add(-10 * time.Hour)},
		{ID: "3", Sender: "a", Subject: "old", Body: "hello", Priority: "low", Timestamp: now.Add(-72 * time.Hour)},
		{ID: "4", Sender: "c", Subject: "done", Body: "hello", Priority: "low", Timestamp: now, Read: true},
	}
	w := BuildWorkload("bob", mailbox.Stats{TotalReceived: 4, Unread: 3, RecentActivity: 7}, msgs, now)
	if w.Status != StatusIdle || w.Unread != 3 || w.TotalMessages != 4 || w.RecentActivity != 7 {
		t.Errorf("workload = %+v", w)
	}
	if w.Ages != (AgeBuckets{Fresh: 1, Moderate: 1, Stale: 1}) {
		t.Errorf("Ages = %+v", w.Ages)
	}
	if w.SenderDiversity != 2 {
		t.Errorf("SenderDiversity = %d, want 2", w.SenderDiversity)
	}
	if w.Categories["code"] != 2 || w.Categories["general"] != 1 {
		t.Errorf("Categories = %v", w.Categories)
	}
	if !w.HasCapability("code") {
		t.Errorf("Capabilities = %v, want code", w.Capabilities)
	}
}

func TestCapacityScore_Bounds(t *testing.T) {
	cases := []*Workload{
		{Status: StatusIdle},
		{Status: StatusIdle, RecentActivity: 1000},
		{Status: StatusLowLoad, Unread: 10, Ages: AgeBuckets{Fresh: 10}},
		{Status: StatusNormalLoad, Unread: 20, RecentActivity: 25},
		{Status: StatusHighLoad, Unread: 40},
		{Status: StatusOverwhelmed, Unread: 90},
		{Status: StatusIdle, Unread: 0, Ages: AgeBuckets{Fresh: 3}},
	}
	for _, w := range cases {
		s := CapacityScore(w)
		if s < 0 || s > 1 {
			t.Errorf("CapacityScore(%+v) = %v, out of [0,1]", w, s)
		}
	}
	if s := CapacityScore(&Workload{Status: StatusIdle}); s != 1 {
		t.Errorf("idle, quiet agent = %v, want 1", s)
	}
	if s := CapacityScore(&Workload{Status: StatusOverwhelmed, Unread: 60}); s != 0 {
		t.Errorf("overwhelmed agent = %v, want 0", s)
	}
}

func TestSplit(t *testing.T) {
	if got := split(7, 3); !reflect.DeepEqual(got, []int{3, 2, 2}) {
		t.Errorf("split(7,3) = %v", got)
	}
	if got := split(1, 3); !reflect.DeepEqual(got, []int{1, 0, 0}) {
		t.Errorf("split(1,3) = %v", got)
	}
	if got := split(5, 0); len(got) != 0 {
		t.Errorf("split(5,0) = %v", got)
	}
}

func TestWorkloadBalancedPlan_AllocatesFullTotal(t *testing.T) {
	source := &Workload{Agent: "x", Unread: 60}
	targets := []*Workload{{Agent: "c", Unread: 9}, {Agent: "a", Unread: 0}, {Agent: "b", Unread: 4}}
	p := workloadBalancedPlan(source, targets)
	if p.Total != 25 {
		t.Fatalf("Total = %d, want 25", p.Total)
	}
	got := map[string]int{}
	sum := 0
	for _, a := range p.Allocations {
		got[a.Agent] = a.Count
		sum += a.Count
	}
	if want := map[string]int{"a": 19, "b": 4, "c": 2}; !reflect.DeepEqual(got, want) {
		t.Errorf("allocations = %v, want %v", got, want)
	}
	if sum != p.Total {
		t.Errorf("sum %d != Total %d", sum, p.Total)
	}
	if p.Allocations[0].Agent != "a" {
		t.Errorf("least busy target should come first, got %s", p.Allocations[0].Agent)
	}
}

func TestPlans_Conservation(t *testing.T) {
	source := &Workload{Agent: "x", Unread: 37, Priorities: map[string]int{"urgent": 3, "high": 5, "normal": 20, "low": 9}}
	targets := []*Workload{{Agent: "a", Status: StatusIdle}, {Agent: "b", Status: StatusLowLoad, Unread: 6}, {Agent: "c", Status: StatusNormalLoad, Unread: 20}}
	for _, p := range []*Plan{equalPlan(source, targets), workloadBalancedPlan(source, targets), priorityFocusedPlan(source, targets)} {
		sum := 0
		for _, a := range p.Allocations {
			sum += a.Count
		}
		if sum != p.Total || p.Total > source.Unread {
			t.Errorf("%s: sum=%d total=%d unread=%d", p.Strategy, sum, p.Total, source.Unread)
		}
	}
}

func TestPriorityFocusedPlan_UrgentToTopTwo(t *testing.T) {
	source := &Workload{Agent: "x", Unread: 9, Priorities: map[string]int{"urgent": 4, "normal": 3}}
	targets := []*Workload{
		{Agent: "busy", Status: StatusNormalLoad, Unread: 20},
		{Agent: "free", Status: StatusIdle},
		{Agent: "light", Status: StatusLowLoad, Unread: 6},
	}
	p := priorityFocusedPlan(source, targets)
	if a := p.Allocation("busy"); a == nil || a.Priorities["urgent"] != 0 || a.Priorities["normal"] != 1 {
		t.Errorf("busy allocation = %+v", a)
	}
	if a := p.Allocation("free"); a == nil || a.Priorities["urgent"] != 2 || a.Count != 3 {
		t.Errorf("free allocation = %+v", a)
	}
	if p.Total != 7 {
		t.Errorf("Total = %d, want 7", p.Total)
	}
}

func TestCapabilityPlan_RoutesByCapability(t *testing.T) {
	sample := []models.Message{
		{ID: "1", Subject: "debug", Body: "fix code"},
		{ID: "2", Subject: "debug", Body: "fix code"},
		{ID: "3", Subject: "hello", Body: "there"},
	}
	targets := []*Workload{{Agent: "coder", Capabilities: []string{"code"}}, {Agent: "other"}}
	p := capabilityPlan(sample, targets)
	if a := p.Allocation("coder"); a == nil || a.Count != 3 || !reflect.DeepEqual(a.Categories, []string{"code", "general"}) {
		t.Errorf("coder allocation = %+v", a)
	}
	if a := p.Allocation("other"); a != nil {
		t.Errorf("other allocation = %+v, want none", a)
	}
}

func TestComputeImpact_Penalty(t *testing.T) {
	plan := &Plan{Strategy: Equal, Total: 10, Allocations: []Allocation{{Agent: "t", Count: 10}}}
	im := ComputeImpact(40, plan, map[string]int{"t": 25})
	if im.Source.Remaining != 30 || im.Source.PredictedStatus != string(StatusHighLoad) || im.Source.ReductionPct != 25 {
		t.Errorf("source impact = %+v", im.Source)
	}
	if im.Targets[0].New != 35 || im.Targets[0].IncreasePct != 40 {
		t.Errorf("target impact = %+v", im.Targets[0])
	}
	if im.Effectiveness.OverloadPenalty != 0.3 || im.Effectiveness.Score != 0.35 || im.Effectiveness.Rating != "Low Effectiveness" {
		t.Errorf("effectiveness = %+v", im.Effectiveness)
	}
}

func TestRedistribute_OverwhelmedToIdle(t *testing.T) {
	s := testStore(t)
	register(t, s, "system-orchestrator", "x", "y", "z")
	flood(t, s, "x", 60)
	d := New(s, "system-orchestrator")

	r, err := d.Redistribute(context.Background(), "x", nil, WorkloadBalanced)
	if err != nil {
		t.Fatalf("Redistribute: %v", err)
	}
	if !r.Needed || !r.Possible {
		t.Fatalf("needed=%v possible=%v reason=%q", r.Needed, r.Possible, r.Reason)
	}
	if !reflect.DeepEqual(r.Targets, []string{"y", "z"}) {
		t.Errorf("Targets = %v, want [y z]", r.Targets)
	}
	if r.Plan.Allocation("y") == nil || r.Plan.Allocation("z") == nil {
		t.Errorf("plan does not cover both targets: %+v", r.Plan.Allocations)
	}
	if r.Plan.Total != 25 {
		t.Errorf("Total = %d, want 25", r.Plan.Total)
	}
	if got := r.Impact.Source.PredictedStatus; got == string(StatusOverwhelmed) {
		t.Errorf("predicted status did not improve: %s", got)
	}
	if r.Impact.Effectiveness.Score != 0.63 || !r.Recommended {
		t.Errorf("effectiveness = %+v, recommended = %v", r.Impact.Effectiveness, r.Recommended)
	}
	if !strings.Contains(r.Recommendations[0], "Redistribute 25 messages using workload_balanced strategy") {
		t.Errorf("Recommendations = %q", r.Recommendations)
	}
}

func TestRedistribute_Strategies(t *testing.T) {
	s := testStore(t)
	register(t, s, "x", "y", "z")
	flood(t, s, "x", 60)
	d := New(s, "system-orchestrator")

	tests := []struct {
		strategy Strategy
		total    int
		rating   string
	}{
		{Equal, 20, "Effective"},
		{CapabilityBased, 50, "Highly Effective"},
		{PriorityFocused, 60, "Highly Effective"},
	}
	for _, tt := range tests {
		t.Run(string(tt.strategy), func(t *testing.T) {
			r, err := d.Redistribute(context.Background(), "x", []string{"y", "z"}, tt.strategy)
			if err != nil {
				t.Fatalf("Redistribute: %v", err)
			}
			if r.Plan.Total != tt.total {
				t.Errorf("Total = %d, want %d", r.Plan.Total, tt.total)
			}
			if r.Impact.Effectiveness.Rating != tt.rating {
				t.Errorf("Rating = %q, want %q (%+v)", r.Impact.Effectiveness.Rating, tt.rating, r.Impact.Effectiveness)
			}
		})
	}
}

func TestRedistribute_Manageable(t *testing.T) {
	s := testStore(t)
	register(t, s, "x", "y")
	flood(t, s, "x", 10)
	r, err := New(s, "system-orchestrator").Redistribute(context.Background(), "x", nil, Equal)
	if err != nil {
		t.Fatalf("Redistribute: %v", err)
	}
	if r.Needed || r.Reason != "Agent x workload is manageable (10 messages)" {
		t.Errorf("result = %+v", r)
	}
}

func TestRedistribute_NoTargets(t *testing.T) {
	s := testStore(t)
	register(t, s, "system-orchestrator", "x")
	flood(t, s, "x", 35)
	r, err := New(s, "system-orchestrator").Redistribute(context.Background(), "x", nil, Equal)
	if err != nil {
		t.Fatalf("Redistribute: %v", err)
	}
	if !r.Needed || r.Possible || r.Recommendation == "" {
		t.Errorf("result = %+v", r)
	}
}

func TestBuildLoadReport(t *testing.T) {
	all := []*Workload{
		{Agent: "a", Unread: 60, Status: StatusOverwhelmed, Categories: map[string]int{"code": 3}},
		{Agent: "b", Unread: 35, Status: StatusHighLoad},
		{Agent: "c", Status: StatusIdle, Capabilities: []string{"code"}},
		{Agent: "d", Unread: 20, Status: StatusNormalLoad},
	}
	r := BuildLoadReport(all, now)
	if r.Overview != (LoadOverview{TotalAgents: 4, Overwhelmed: 1, HighLoad: 1, NormalLoad: 1, LowLoad: 1}) {
		t.Errorf("Overview = %+v", r.Overview)
	}
	want := []string{
		"🚨 1 agents overwhelmed - immediate redistribution needed",
		"   → a: 60 unread messages",
		"⚖️ Load imbalance detected: 1 high-load vs 1 low-load agents",
		"   → Consider proactive task redistribution",
		"🎯 Capability gaps in: code",
		"   → Consider agent training or specialization",
	}
	if !reflect.DeepEqual(r.Recommendations, want) {
		t.Errorf("Recommendations = %q", r.Recommendations)
	}
	if len(r.Opportunities) != 2 || !reflect.DeepEqual(r.Opportunities[0].To, []string{"c", "d"}) {
		t.Errorf("Opportunities = %+v", r.Opportunities)
	}
	if len(r.Coverage) != 1 || r.Coverage[0].CoveragePct != 25 {
		t.Errorf("Coverage = %+v", r.Coverage)
	}
}

func TestLoadBalancing_NoAgents(t *testing.T) {
	s := testStore(t)
	register(t, s, "system-orchestrator")
	r, err := New(s, "system-orchestrator").LoadBalancing(context.Background())
	if err != nil {
		t.Fatalf("LoadBalancing: %v", err)
	}
	if !reflect.DeepEqual(r.Recommendations, []string{"No active agents found"}) {
		t.Errorf("Recommendations = %q", r.Recommendations)
	}
}

// brokenStats fails Stats for one agent.
type brokenStats struct {
	*mailbox.Store
	agent string
}

func (b brokenStats) Stats(ctx context.Context, agent string) (mailbox.Stats, error) {
	if agent == b.agent {
		return mailbox.Stats{}, errors.New("disk I/O error")
	}
	return b.Store.Stats(ctx, agent)
}

func TestWorkers_SkipsFailingAgent(t *testing.T) {
	s := testStore(t)
	register(t, s, "system-orchestrator", "x", "y", "z")
	flood(t, s, "x", 60)
	var logs bytes.Buffer
	d := New(brokenStats{Store: s, agent: "y"}, "system-orchestrator").
		WithLogger(slog.New(slog.NewTextHandler(&logs, nil)))
	ctx := context.Background()

	avail, err := d.AvailableAgents(ctx, "x")
	if err != nil {
		t.Fatalf("AvailableAgents: %v", err)
	}
	if len(avail) != 1 || avail[0].Agent != "z" {
		t.Errorf("AvailableAgents = %+v, want only z", avail)
	}

	report, err := d.LoadBalancing(ctx)
	if err != nil {
		t.Fatalf("LoadBalancing: %v", err)
	}
	if len(report.Workloads) != 2 {
		t.Errorf("Workloads = %+v, want x and z", report.Workloads)
	}
	if !strings.Contains(logs.String(), "agent=y") {
		t.Errorf("skipped agent not logged: %q", logs.String())
	}

	r, err := d.Redistribute(ctx, "x", nil, WorkloadBalanced)
	if err != nil {
		t.Fatalf("Redistribute: %v", err)
	}
	if !reflect.DeepEqual(r.Targets, []string{"z"}) {
		t.Errorf("Targets = %v, want [z]", r.Targets)
	}
}
