package testutil

import (
	"testing"

	"drivemirror/internal/database"
)

// NewTestDatabase creates a migrated in-memory SQLite mirror store.
// The database is closed when the test completes.
func NewTestDatabase(t *testing.T) *database.SQLiteDatabase {
	t.Helper()

	db, err := database.NewSQLiteDatabase(":memory:", nil, FixedClock())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})
	return db
}
