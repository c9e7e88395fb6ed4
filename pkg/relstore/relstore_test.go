package relstore

import (
	"database/sql"
	"testing"
)

func openMigrated(t *testing.T, dsn string) *sql.DB {
	t.Helper()
	db, err := Open(DriverSQLite, dsn)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	db.SetMaxOpenConns(1)
	if err := Migrate(db, DriverSQLite); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpen_UnknownDriverIsError(t *testing.T) {
	if _, err := Open(Driver("mysql"), "dsn"); err == nil {
		t.Fatalf("Open() error = nil, want error for an unrecognized driver")
	}
}

func TestMigrate_CreatesExpectedTables(t *testing.T) {
	db := openMigrated(t, "file:migrate_tables?mode=memory&cache=shared")

	for _, table := range []string{"orchestrator_sessions", "memory_triplets"} {
		var name string
		row := db.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table)
		if err := row.Scan(&name); err != nil {
			t.Fatalf("table %s not found after Migrate(): %v", table, err)
		}
	}
}

func TestMigrate_AppliesOwnerAndTitleColumns(t *testing.T) {
	db := openMigrated(t, "file:migrate_cols?mode=memory&cache=shared")

	_, err := db.Exec(`INSERT INTO orchestrator_sessions (session_id, owner, title, messages, created_at, updated_at)
		VALUES ('s1', 'alice', 'chat', '[]', datetime('now'), datetime('now'))`)
	if err != nil {
		t.Fatalf("insert with owner/title columns: %v", err)
	}
}

func TestMigrate_IsIdempotent(t *testing.T) {
	db, err := Open(DriverSQLite, "file:migrate_idempotent?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	db.SetMaxOpenConns(1)
	defer db.Close()

	if err := Migrate(db, DriverSQLite); err != nil {
		t.Fatalf("first Migrate() error = %v", err)
	}
	if err := Migrate(db, DriverSQLite); err != nil {
		t.Fatalf("second Migrate() error = %v, want ErrNoChange to be absorbed", err)
	}
}
