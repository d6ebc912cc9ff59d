package migration

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var schema embed.FS

// Up brings the orders, payments, balance and invoice tables to the latest
// embedded version and reports it. Running it on an up-to-date database is
// a no-op.
func Up(db *sql.DB) (uint, error) {
	if db == nil {
		return 0, errors.New("migration: nil database handle")
	}

	m, err := newMigrator(db)
	if err != nil {
		return 0, err
	}
	// m.Close would also close db, which the gorm pool still owns.

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, fmt.Errorf("migration: apply: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil {
		return 0, fmt.Errorf("migration: version: %w", err)
	}
	if dirty {
		return version, fmt.Errorf("migration: version %d is dirty", version)
	}
	return version, nil
}

func newMigrator(db *sql.DB) (*migrate.Migrate, error) {
	src, err := iofs.New(schema, "migrations")
	if err != nil {
		return nil, fmt.Errorf("migration: source: %w", err)
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{MigrationsTable: "copydesk_schema_migrations"})
	if err != nil {
		return nil, fmt.Errorf("migration: driver: %w", err)
	}
	return migrate.NewWithInstance("iofs", src, "postgres", driver)
}
