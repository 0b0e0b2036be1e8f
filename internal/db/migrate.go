package db

import (
	"signalcollector/internal/models"
)

func AutoMigrate(db *DB) error {
	if db == nil || db.Gorm == nil || db.SQL == nil {
		return nil
	}

	return db.Gorm.AutoMigrate(
		&models.Channel{},
		&models.Signal{},
		&models.SignalEdition{},
		&models.SystemSetting{},
	)
}
