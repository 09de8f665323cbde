package migrations

import (
	"database/sql"
	"errors"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

func TestMigrateUp_FreshDatabase(t *testing.T) {
	db := openTestDB(t)

	if err := MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}

	tables := []string{"users", "files", "permissions", "operations", "schema_migrations"}
	for _, table := range tables {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("Table %s was not created: %v", table, err)
		}
	}
}

func TestCheckDBMigrationStatus(t *testing.T) {
	t.Run("fresh database needs migration", func(t *testing.T) {
		db := openTestDB(t)

		err := CheckDBMigrationStatus(db)
		if !errors.Is(err, ErrNoVersion) {
			t.Errorf("CheckDBMigrationStatus() error = %v, want ErrNoVersion", err)
		}
	})

	t.Run("migrated database is current", func(t *testing.T) {
		db := openTestDB(t)
		if err := MigrateUp(db); err != nil {
			t.Fatalf("MigrateUp() failed: %v", err)
		}

		if err := CheckDBMigrationStatus(db); err != nil {
			t.Errorf("CheckDBMigrationStatus() error = %v", err)
		}
	})
}

func TestMigrateUp_Idempotent(t *testing.T) {
	db := openTestDB(t)

	if err := MigrateUp(db); err != nil {
		t.Fatalf("first MigrateUp() failed: %v", err)
	}
	if err := MigrateUp(db); err != nil {
		t.Errorf("second MigrateUp() failed: %v", err)
	}

	version, dirty, err := SchemaVersion(db)
	if err != nil {
		t.Fatalf("SchemaVersion() error = %v", err)
	}
	latest, err := LatestVersion()
	if err != nil {
		t.Fatalf("LatestVersion() error = %v", err)
	}
	if version != latest || dirty {
		t.Errorf("SchemaVersion() = %d, dirty=%v; want %d, clean", version, dirty, latest)
	}
}

func TestSchema_PermissionRequiresFile(t *testing.T) {
	db := openTestDB(t)
	if err := MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}

	_, err := db.Exec(`INSERT INTO permissions (file_id, id, type, role) VALUES ('missing', 'p1', 'user', 'reader')`)
	if err == nil {
		t.Error("expected foreign key violation for permission of unknown file")
	}
}

func TestSchema_PermissionKeyIsFileScoped(t *testing.T) {
	db := openTestDB(t)
	if err := MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}

	for _, id := range []string{"f1", "f2"} {
		if _, err := db.Exec("INSERT INTO files (id, name) VALUES (?, ?)", id, id); err != nil {
			t.Fatalf("insert file %s: %v", id, err)
		}
	}
	for _, fileID := range []string{"f1", "f2"} {
		_, err := db.Exec(`INSERT INTO permissions (file_id, id, type, role, grantee_email) VALUES (?, 'p1', 'user', 'reader', 'a@example.com')`, fileID)
		if err != nil {
			t.Fatalf("same permission id on file %s rejected: %v", fileID, err)
		}
	}

	_, err := db.Exec(`INSERT INTO permissions (file_id, id, type, role) VALUES ('f1', 'p1', 'user', 'writer')`)
	if err == nil {
		t.Error("expected primary key violation for duplicate (file_id, id)")
	}

	if _, err := db.Exec("DELETE FROM files WHERE id = 'f1'"); err != nil {
		t.Fatalf("delete file: %v", err)
	}
	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM permissions").Scan(&n); err != nil {
		t.Fatalf("count permissions: %v", err)
	}
	if n != 1 {
		t.Errorf("permissions after deleting f1 = %d, want 1", n)
	}
}

func TestSchema_UserEmailIgnoresCase(t *testing.T) {
	db := openTestDB(t)
	if err := MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}

	if _, err := db.Exec("INSERT INTO users (email_address) VALUES ('Ann@Example.com')"); err != nil {
		t.Fatalf("insert user: %v", err)
	}
	if _, err := db.Exec("INSERT INTO users (email_address) VALUES ('ann@example.com')"); err == nil {
		t.Error("expected unique violation for email differing only in case")
	}
}

// openTestDB opens a single-connection in-memory database with foreign keys on.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:?_foreign_keys=on")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}
