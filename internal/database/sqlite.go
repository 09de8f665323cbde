package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"drivemirror/internal/database/migrations"
	"drivemirror/internal/mirror"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteDatabase implements mirror.Database on SQLite.
type SQLiteDatabase struct {
	db      *sql.DB
	queries *Queries
	path    string
	logger  mirror.Logger
	clock   mirror.Clock
}

// NewSQLiteDatabase opens the database at path (or ":memory:") and applies
// pending migrations. A nil logger or clock falls back to NopLogger and
// RealClock.
func NewSQLiteDatabase(path string, logger mirror.Logger, clock mirror.Clock) (*SQLiteDatabase, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating database: %w", err)
	}
	s := NewSQLiteDatabaseFromDB(db, logger, clock)
	s.path = path
	return s, nil
}

// NewSQLiteDatabaseFromDB wraps an already configured and migrated connection.
func NewSQLiteDatabaseFromDB(db *sql.DB, logger mirror.Logger, clock mirror.Clock) *SQLiteDatabase {
	if logger == nil {
		logger = mirror.NewNopLogger()
	}
	if clock == nil {
		clock = mirror.RealClock{}
	}
	return &SQLiteDatabase{
		db:      db,
		queries: newQueries(db),
		logger:  logger,
		clock:   clock,
	}
}

// OpenConnection opens a SQLite connection with foreign keys enforced on
// every pooled connection. An in-memory database is limited to one
// connection, since each connection would otherwise see its own database.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if isMemory(path) {
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

func dsn(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_foreign_keys=on&_busy_timeout=5000"
}

func isMemory(path string) bool {
	return path == ":memory:" || strings.HasPrefix(path, ":memory:?") || strings.Contains(path, "mode=memory")
}

// inTx runs fn in a transaction and commits when fn returns nil.
// Every query issued by fn must go through the given Queries.
func (s *SQLiteDatabase) inTx(ctx context.Context, fn func(q *Queries) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(s.queries.WithTx(tx)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// Path returns the database file path (or ":memory:").
func (s *SQLiteDatabase) Path() string {
	return s.path
}

// CheckMigrations verifies the schema matches this binary.
func (s *SQLiteDatabase) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(s.db)
}

// BackupTo writes a consistent copy of the database to destPath using VACUUM INTO.
func (s *SQLiteDatabase) BackupTo(ctx context.Context, destPath string) error {
	if _, err := s.db.ExecContext(ctx, "VACUUM INTO ?", destPath); err != nil {
		return fmt.Errorf("backing up database: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteDatabase) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

var _ mirror.Database = (*SQLiteDatabase)(nil)
