// Package sqlite registers the sqlite-backed store plugin, used for local
// development and tests that don't need a postgres container.
package sqlite

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/echoheir/echoheir-service/internal/config"
	"github.com/echoheir/echoheir-service/internal/plugin/store/gormstore"
	registrymigrate "github.com/echoheir/echoheir-service/internal/registry/migrate"
	registrystore "github.com/echoheir/echoheir-service/internal/registry/store"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// ForceImport is a no-op variable that can be referenced to ensure this package's init() runs.
var ForceImport = 0

func init() {
	registrystore.Register(registrystore.Plugin{
		Name: "sqlite",
		Loader: func(ctx context.Context) (registrystore.LegacyStore, error) {
			cfg := config.FromContext(ctx)
			db, err := open(cfg)
			if err != nil {
				return nil, err
			}
			return gormstore.New(db, cfg), nil
		},
	})

	registrymigrate.Register(registrymigrate.Plugin{Order: 110, Migrator: &sqliteMigrator{}})
}

func open(cfg *config.Config) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(cfg.DBURL), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// One writer at a time keeps sqlite's locking out of the way.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}

type sqliteMigrator struct{}

func (m *sqliteMigrator) Name() string { return "sqlite-schema" }

func (m *sqliteMigrator) Migrate(ctx context.Context) error {
	cfg := config.FromContext(ctx)
	if cfg != nil && !cfg.DatastoreMigrateAtStart {
		return nil
	}
	if cfg.DatastoreType != "sqlite" {
		return nil
	}
	log.Info("Running migration", "name", m.Name())
	db, err := open(cfg)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	if err := db.WithContext(ctx).AutoMigrate(gormstore.Models()...); err != nil {
		return fmt.Errorf("migration: failed to migrate schema: %w", err)
	}
	log.Info("Sqlite schema migration complete")
	return nil
}
