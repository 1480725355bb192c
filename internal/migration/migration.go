// Package migration creates the schema on startup so a fresh install is
// usable out of the box. Postgres runs versioned SQL migrations; other
// dialects fall back to AutoMigrate.
package migration

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	economydomain "github.com/pawselabs/pawse/internal/economy/domain"
	petdomain "github.com/pawselabs/pawse/internal/pet/domain"
	recoverydomain "github.com/pawselabs/pawse/internal/recovery/domain"
	"github.com/pawselabs/pawse/internal/scheduler"
	usagedomain "github.com/pawselabs/pawse/internal/usage/domain"
	walletdomain "github.com/pawselabs/pawse/internal/wallet/domain"
	"gorm.io/gorm"
)

//go:embed sql/*.sql
var embeddedMigrations embed.FS

const migrationsDir = "sql"

func RunMigrations(db *sql.DB) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}

	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}
	// Do not call migrator.Close here because it would close the shared *sql.DB.

	return nil
}

// AutoMigrate keeps the schema in sync via gorm for dialects the versioned
// migrations do not cover.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&walletdomain.Wallet{},
		&walletdomain.LedgerEntry{},
		&usagedomain.UsageSnapshot{},
		&usagedomain.UsageGoal{},
		&economydomain.DailyStats{},
		&petdomain.Pet{},
		&petdomain.Memorial{},
		&recoverydomain.RecoveryAction{},
		&scheduler.DayRollover{},
	)
}
