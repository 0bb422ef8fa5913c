package orchestrator

import (
	"context"
	"time"

	"github.com/zulandar/mailroom/internal/distributor"
	"github.com/zulandar/mailroom/internal/notice"
	"github.com/zulandar/mailroom/internal/priority"
)

// Dashboard windows.
const (
	recentNoticeLimit  = 10
	recentNoticeWindow = 24 * time.Hour
)

// DashboardView gathers everything the dashboard shows in one read.
type DashboardView struct {
	Timestamp     time.Time               `json:"timestamp"`
	Status        *Status                 `json:"system_status"`
	RecentNotices []notice.Record         `json:"recent_notices"`
	Priorities    *priority.Distribution  `json:"priority_analysis,omitempty"`
	LoadBalancing *distributor.LoadReport `json:"load_balancing,omitempty"`
	Orchestrator  OrchestratorInfo        `json:"orchestrator_info"`
	Errors        map[string]string       `json:"errors,omitempty"`
}

// OrchestratorInfo describes the running orchestrator.
type OrchestratorInfo struct {
	Name           string   `json:"name"`
	Capabilities   []string `json:"capabilities"`
	Uptime         string   `json:"uptime"`
	TrackedNotices int      `json:"tracked_notices"`
	RunState
}

// Dashboard assembles the dashboard view. Only a system status failure is
// fatal; the optional sections record their errors in Errors.
func (o *Orchestrator) Dashboard(ctx context.Context) (*DashboardView, error) {
	st, err := o.SystemStatus(ctx)
	if err != nil {
		return nil, err
	}
	state := o.State()
	now := o.store.Now()
	v := &DashboardView{
		Timestamp:     now,
		Status:        st,
		RecentNotices: o.notices.Recent(recentNoticeLimit, recentNoticeWindow),
		Orchestrator: OrchestratorInfo{
			Name:           o.name,
			Capabilities:   Capabilities,
			Uptime:         now.Sub(state.StartedAt).Round(time.Second).String(),
			TrackedNotices: o.notices.Len(),
			RunState:       state,
		},
	}
	if v.RecentNotices == nil {
		v.RecentNotices = []notice.Record{}
	}

	if d, err := o.priorities.Distribution(ctx, ""); err != nil {
		v.addError("priority_analysis", err)
	} else {
		v.Priorities = d
	}
	if lb, err := o.distributor.LoadBalancing(ctx); err != nil {
		v.addError("load_balancing", err)
	} else {
		v.LoadBalancing = lb
	}
	return v, nil
}

func (v *DashboardView) addError(section string, err error) {
	if v.Errors == nil {
		v.Errors = map[string]string{}
	}
	v.Errors[section] = err.Error()
}
