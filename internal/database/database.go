package database

import (
	"github.com/fanbridge/payout-api/internal/audit"
	"github.com/fanbridge/payout-api/internal/creator"
	"github.com/fanbridge/payout-api/internal/debt"
	"github.com/fanbridge/payout-api/internal/ledger"
	"github.com/fanbridge/payout-api/internal/payout"
	"github.com/fanbridge/payout-api/internal/settings"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// NewDatabase initializes and returns a new GORM DB connection
func NewDatabase(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}

	return db, nil
}

// Migrate runs the schema migrations for every payout-core model.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&settings.PlatformSettings{},
		&ledger.Entry{},
		&creator.Profile{},
		&payout.Payout{},
		&payout.ProcessedEvent{},
		&debt.Debt{},
		&audit.Record{},
	)
}
