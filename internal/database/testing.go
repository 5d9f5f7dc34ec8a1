package database

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/ai-agency/agency/internal/config"
)

// NewTestDB opens a migrated SQLite database in a temporary directory that
// is removed when the test ends.
func NewTestDB(t testing.TB) *DB {
	t.Helper()

	db, err := Open(context.Background(), config.DatabaseConfig{
		Type: TypeSQLite,
		Path: filepath.Join(t.TempDir(), "test.db"),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}
