package database

import (
	"fmt"

	"github.com/ksred/p2p-usdt-api/internal/auth"
	"github.com/ksred/p2p-usdt-api/internal/chat"
	"github.com/ksred/p2p-usdt-api/internal/config"
	"github.com/ksred/p2p-usdt-api/internal/database/migrations"
	"github.com/ksred/p2p-usdt-api/internal/identity"
	"github.com/ksred/p2p-usdt-api/internal/offer"
	"github.com/ksred/p2p-usdt-api/internal/order"
	"github.com/ksred/p2p-usdt-api/internal/settlement"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewDatabase initializes and returns a new GORM DB connection with every
// schema migrated
func NewDatabase(cfg config.DatabaseConfig, debug bool) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	logLevel := logger.Warn
	if debug {
		logLevel = logger.Info
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.Driver == "sqlite" {
		// sqlite allows one writer; a single connection turns lock errors into queueing
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// Migrate creates or updates every table and index the service uses
func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&offer.Offer{},
		&order.Order{},
		&order.IdempotencyRecord{},
		&chat.Message{},
		&settlement.Settlement{},
		&auth.Challenge{},
		&identity.UserWallet{},
	)
	if err != nil {
		return fmt.Errorf("failed to auto-migrate: %w", err)
	}

	if err := migrations.AddOrderIndexes(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	if err := migrations.AddMarketplaceIndexes(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}
