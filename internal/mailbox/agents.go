package mailbox

import (
	"context"
	"errors"
	"time"

	"github.com/zulandar/mailroom/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Stats are per-agent aggregate counts.
type Stats struct {
	TotalReceived  int64 `json:"total_received"`
	Unread         int64 `json:"unread"`
	Sent           int64 `json:"sent"`
	RecentActivity int64 `json:"recent_activity"`
}

// AgentInfo pairs a registry entry with its message statistics.
type AgentInfo struct {
	Agent models.Agent `json:"agent"`
	Stats Stats        `json:"stats"`
}

// RegisterAgent creates or refreshes an agent. last_seen is set to now and
// metadata replaces whatever was stored before.
func (s *Store) RegisterAgent(ctx context.Context, name string, metadata map[string]any) (*models.Agent, error) {
	if err := ValidateAgentName(name); err != nil {
		return nil, err
	}
	if metadata == nil {
		metadata = map[string]any{}
	}
	agent := models.Agent{Name: name, LastSeen: s.Now(), Metadata: metadata}

	db, cancel := s.conn(ctx)
	defer cancel()

	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_seen", "metadata"}),
	}).Create(&agent).Error
	if err != nil {
		return nil, storageErr("register agent", err)
	}
	return &agent, nil
}

// ListAgents returns every registered agent, most recently seen first.
func (s *Store) ListAgents(ctx context.Context) ([]models.Agent, error) {
	db, cancel := s.conn(ctx)
	defer cancel()

	var agents []models.Agent
	if err := db.Order(clause.OrderByColumn{Column: clause.Column{Name: "last_seen"}, Desc: true}).Order("name ASC").Find(&agents).Error; err != nil {
		return nil, storageErr("list agents", err)
	}
	return agents, nil
}

// ActiveAgents returns agents seen at or after since.
func (s *Store) ActiveAgents(ctx context.Context, since time.Time) ([]models.Agent, error) {
	db, cancel := s.conn(ctx)
	defer cancel()

	var agents []models.Agent
	err := db.Where("last_seen >= ?", since.UTC()).
		Order(clause.OrderByColumn{Column: clause.Column{Name: "last_seen"}, Desc: true}).
		Order("name ASC").
		Find(&agents).Error
	if err != nil {
		return nil, storageErr("active agents", err)
	}
	return agents, nil
}

// GetAgent looks up one registered agent.
func (s *Store) GetAgent(ctx context.Context, name string) (*models.Agent, error) {
	db, cancel := s.conn(ctx)
	defer cancel()

	var agent models.Agent
	if err := db.Where("name = ?", name).Take(&agent).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFoundf("agent %s", name)
		}
		return nil, storageErr("get agent", err)
	}
	return &agent, nil
}

// Stats runs four independent counts for agent. RecentActivity counts mail
// sent or received in the last 24 hours.
func (s *Store) Stats(ctx context.Context, agent string) (Stats, error) {
	var st Stats
	if agent == "" {
		return st, validationf("agent is required")
	}
	db, cancel := s.conn(ctx)
	defer cancel()

	if err := db.Model(&models.Message{}).Where("recipient = ?", agent).Count(&st.TotalReceived).Error; err != nil {
		return st, storageErr("stats", err)
	}
	if err := db.Model(&models.Message{}).Where(map[string]any{"recipient": agent, "read": false}).Count(&st.Unread).Error; err != nil {
		return st, storageErr("stats", err)
	}
	if err := db.Model(&models.Message{}).Where("sender = ?", agent).Count(&st.Sent).Error; err != nil {
		return st, storageErr("stats", err)
	}
	since := s.Now().Add(-RecentWindow)
	if err := db.Model(&models.Message{}).Where("(sender = ? OR recipient = ?) AND timestamp > ?", agent, agent, since).Count(&st.RecentActivity).Error; err != nil {
		return st, storageErr("stats", err)
	}
	return st, nil
}

// Info returns the registry entry and stats for name.
func (s *Store) Info(ctx context.Context, name string) (*AgentInfo, error) {
	agent, err := s.GetAgent(ctx, name)
	if err != nil {
		return nil, err
	}
	st, err := s.Stats(ctx, name)
	if err != nil {
		return nil, err
	}
	return &AgentInfo{Agent: *agent, Stats: st}, nil
}
