// Package db prepares a real Postgres database for store tests.
package db

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/arkstead/keepsake/config"
	"github.com/arkstead/keepsake/models/db"
	"github.com/arkstead/keepsake/setup"
)

func migrationsDir() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "..", "..", "migrations")
}

// SetUp connects to the database named by DATABASE_URL and applies
// migrations. Tests that call it are skipped when DATABASE_URL is unset.
func SetUp(t *testing.T) {
	t.Helper()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("set DATABASE_URL to run database tests")
	}
	cfg := config.Config{
		DatabaseURL:   url,
		DBPoolSize:    10,
		MigrationsDir: migrationsDir(),
	}
	if err := setup.DB(cfg); err != nil {
		t.Fatal(err)
	}
	if err := setup.Migrate(cfg); err != nil {
		t.Fatal(err)
	}
}

// TearDown deletes every row the tests could have written. The harvester
// checkpoint sentinel (id -1) survives, with its checkpoint reset.
func TearDown(t *testing.T) {
	t.Helper()
	if !db.Connected() {
		return
	}
	_, err := db.Conn.Exec(`BEGIN;
DELETE FROM deposit_jobs;
DELETE FROM export_results;
DELETE FROM archival_group_events WHERE id <> -1;
UPDATE archival_group_events SET end_time = now() WHERE id = -1;
COMMIT`)
	if err != nil {
		t.Fatal(err)
	}
}
