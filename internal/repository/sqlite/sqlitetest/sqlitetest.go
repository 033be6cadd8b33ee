// Package sqlitetest provides migrated throwaway SQLite databases for tests.
package sqlitetest

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"warden/internal/config"
	"warden/internal/database"
	"warden/internal/migrations"
	"warden/internal/repository"
	"warden/internal/repository/sqlite"
)

// Open creates a migrated database in a temp dir. A file is used rather than
// :memory: so WAL mode and the single-connection pool behave as in
// production. Everything is removed when the test ends.
func Open(t testing.TB) *sql.DB {
	t.Helper()

	ctx := context.Background()
	db, err := database.OpenSQLite(ctx, config.SQLiteConfig{
		Path:        filepath.Join(t.TempDir(), "warden-test.db"),
		BusyTimeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := migrations.Up(ctx, db, migrations.SQLite, zerolog.Nop()); err != nil {
		t.Fatalf("migrating test db: %v", err)
	}
	return db
}

// Store is Open wrapped in the sqlite adapter.
func Store(t testing.TB) repository.Set {
	t.Helper()
	return sqlite.New(Open(t))
}
