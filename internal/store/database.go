package store

import (
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"btc-trading-sim/internal/models"
)

// NewDatabase creates a new database connection and performs auto-migration.
func NewDatabase(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := AutoMigrate(db); err != nil {
		return nil, err
	}

	return db, nil
}

// AutoMigrate creates or updates the schema for all simulator tables.
// Existing rows are preserved; portfolios and ledgers are never dropped.
func AutoMigrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.Profile{},
		&models.Portfolio{},
		&models.Transaction{},
		&models.Order{},
		&models.PriceTick{},
		&models.PriceOverride{},
		&models.OverrideAudit{},
		&models.AdminPermission{},
	)
	if err != nil {
		return fmt.Errorf("failed to auto-migrate database: %w", err)
	}
	return nil
}
