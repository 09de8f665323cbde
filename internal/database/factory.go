package database

import (
	"fmt"
	"os"
	"path/filepath"

	"drivemirror/internal/config"
	"drivemirror/internal/mirror"
)

// FileName is the name of the mirror database inside data_dir.
const FileName = "mirror.db"

// NewDatabaseFromConfig creates the SQLiteDatabase selected by the database config type.
func NewDatabaseFromConfig(cfg config.DatabaseConfig, logger mirror.Logger, clock mirror.Clock) (*SQLiteDatabase, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
			return nil, fmt.Errorf("creating data dir: %w", err)
		}
		return NewSQLiteDatabase(filepath.Join(cfg.DataDir, FileName), logger, clock)
	case "memory":
		return NewSQLiteDatabase(":memory:", logger, clock)
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}
