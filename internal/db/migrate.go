package db

import (
	"fmt"

	"github.com/zulandar/mailroom/internal/models"
	"gorm.io/gorm"
)

// AllModels returns every persisted model.
func AllModels() []interface{} {
	return []interface{}{
		&models.Message{},
		&models.Agent{},
	}
}

// AutoMigrate creates or updates the messages and agents tables.
func AutoMigrate(gdb *gorm.DB) error {
	if err := gdb.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}
