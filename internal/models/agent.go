package models

import (
	"time"

	"gorm.io/gorm"
)

// Agent is a registered mailbox participant.
type Agent struct {
	Name     string         `gorm:"primaryKey;size:64" json:"name"`
	LastSeen time.Time      `gorm:"not null;index" json:"last_seen"`
	Metadata map[string]any `gorm:"type:text;serializer:json" json:"metadata"`
}

// AfterFind normalises LastSeen to UTC.
func (a *Agent) AfterFind(tx *gorm.DB) error {
	a.LastSeen = a.LastSeen.UTC()
	if a.Metadata == nil {
		a.Metadata = map[string]any{}
	}
	return nil
}
