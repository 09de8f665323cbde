// Package drive implements the remote file service the mirror is built from.
package drive

import (
	"context"
	"fmt"
	"os"

	"drivemirror/internal/config"
	"drivemirror/internal/mirror"
)

// NewDriveFromConfig creates a mirror.Drive based on the drive config type.
func NewDriveFromConfig(ctx context.Context, cfg config.DriveConfig, logger mirror.Logger, ids mirror.IDGenerator) (mirror.Drive, error) {
	switch cfg.Type {
	case "google":
		if cfg.CredentialsPath == "" {
			return nil, fmt.Errorf("credentials_path required for google drive")
		}
		creds, err := os.ReadFile(cfg.CredentialsPath)
		if err != nil {
			return nil, fmt.Errorf("reading credentials: %w", err)
		}
		return NewGoogleDriveFromCredentials(ctx, creds, cfg.Subject, GoogleOptions{
			Endpoint:          cfg.Endpoint,
			RequestsPerSecond: cfg.RequestsPerSecond,
			Burst:             cfg.Burst,
			Logger:            logger,
		})
	case "memory":
		var files []*mirror.File
		if cfg.SeedPath != "" {
			var err error
			if files, err = ReadSeedFile(cfg.SeedPath); err != nil {
				return nil, err
			}
		}
		return NewMemoryDrive(ids, files...), nil
	default:
		return nil, fmt.Errorf("unknown drive type: %s", cfg.Type)
	}
}
