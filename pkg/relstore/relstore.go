// Package relstore opens the relational backend shared by pkg/session's
// SQLStore and pkg/memory's relational triplet store, and applies schema
// migrations to it. sqlite3 (mattn/go-sqlite3) is the development driver;
// postgres (lib/pq) is the production driver — both read the same
// migrations directory since the schema is intentionally kept
// driver-portable (no JSONB, no driver-specific types).
package relstore

import (
	"database/sql"
	"embed"
	"fmt"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations
var migrationsFS embed.FS

// Driver selects which database/sql driver name and golang-migrate backend
// to use. Connection strings follow each driver's own DSN format.
type Driver string

const (
	DriverSQLite   Driver = "sqlite3"
	DriverPostgres Driver = "postgres"
)

// Open opens a *sql.DB for driver against dsn. It does not run migrations;
// call Migrate separately so callers can choose when schema changes apply.
func Open(driver Driver, dsn string) (*sql.DB, error) {
	switch driver {
	case DriverSQLite, DriverPostgres:
		db, err := sql.Open(string(driver), dsn)
		if err != nil {
			return nil, fmt.Errorf("relstore: open %s: %w", driver, err)
		}
		return db, nil
	default:
		return nil, fmt.Errorf("relstore: unknown driver %q", driver)
	}
}

// Migrate applies every pending up migration to db.
func Migrate(db *sql.DB, driver Driver) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("relstore: load migration source: %w", err)
	}

	var dbDriver database.Driver
	switch driver {
	case DriverSQLite:
		dbDriver, err = sqlite3.WithInstance(db, &sqlite3.Config{})
	case DriverPostgres:
		dbDriver, err = postgres.WithInstance(db, &postgres.Config{})
	default:
		return fmt.Errorf("relstore: unknown driver %q", driver)
	}
	if err != nil {
		return fmt.Errorf("relstore: init migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, string(driver), dbDriver)
	if err != nil {
		return fmt.Errorf("relstore: init migrator: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("relstore: migrate up: %w", err)
	}
	return nil
}
