package db

import (
	"github.com/glebarez/sqlite"
	"github.com/questlog/questlog/internal/db/models"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Init opens the SQLite database and runs migrations for every sync-engine
// model.
func Init(dbPath string) (*gorm.DB, error) {
	gdb, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	if err := gdb.AutoMigrate(
		&models.LinkedAccount{},
		&models.OwnedGame{},
		&models.Achievement{},
	); err != nil {
		return nil, err
	}

	return gdb, nil
}
