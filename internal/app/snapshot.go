package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"drivemirror/internal/config"
	"drivemirror/internal/database"
	"drivemirror/internal/encryption"
	"drivemirror/internal/mirror"
)

// SetupKeys generates the snapshot key pair, protecting the private key
// with passphrase.
func SetupKeys(cfg config.EncryptionConfig, passphrase string) error {
	enc, err := encryption.NewEncryptorFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("creating encryptor: %w", err)
	}
	if err := enc.Setup(passphrase); err != nil {
		return fmt.Errorf("setting up snapshot keys: %w", err)
	}
	return nil
}

// ImportSnapshot replaces the mirror database with the snapshot at src.
// The snapshot is decrypted and migrated in a temporary file first, so a
// bad snapshot or passphrase leaves the current mirror in place. No
// MirrorApp may hold the database open.
func ImportSnapshot(ctx context.Context, cfg *config.Config, src, passphrase string) error {
	if cfg.Database.Type != "sqlite" {
		return fmt.Errorf("snapshot import requires a sqlite database, have %q", cfg.Database.Type)
	}
	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		return fmt.Errorf("creating encryptor: %w", err)
	}
	dc, err := enc.Unlock(passphrase)
	if err != nil {
		return fmt.Errorf("unlocking snapshot key: %w", err)
	}

	if err := os.MkdirAll(cfg.Database.DataDir, 0700); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}
	staged, err := os.CreateTemp(cfg.Database.DataDir, "import-*.db")
	if err != nil {
		return fmt.Errorf("staging snapshot: %w", err)
	}
	stagedPath := staged.Name()
	defer os.Remove(stagedPath)

	if err := openFile(src, staged, dc); err != nil {
		staged.Close()
		return err
	}
	if err := staged.Close(); err != nil {
		return fmt.Errorf("staging snapshot: %w", err)
	}

	if err := recordImport(ctx, stagedPath, src); err != nil {
		return err
	}
	target := filepath.Join(cfg.Database.DataDir, database.FileName)
	if err := os.Rename(stagedPath, target); err != nil {
		return fmt.Errorf("installing snapshot: %w", err)
	}
	return nil
}

// recordImport opens the staged snapshot, which brings its schema up to
// date and proves it is a mirror database, and journals the import.
func recordImport(ctx context.Context, path, src string) error {
	db, err := database.NewSQLiteDatabase(path, nil, nil)
	if err != nil {
		return fmt.Errorf("opening snapshot: %w", err)
	}
	defer db.Close()

	op, err := db.CreateOperation(ctx, OpImportSnapshot, encodeParams(map[string]string{"source": src}))
	if err != nil {
		return fmt.Errorf("opening snapshot: %w", err)
	}
	if err := db.FinishOperation(ctx, op.ID, StatusSuccess); err != nil {
		return fmt.Errorf("opening snapshot: %w", err)
	}
	return nil
}

func sealFile(enc mirror.Encryptor, src, dest string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening database copy: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("creating snapshot: %w", err)
	}
	defer func() {
		if cerr := out.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("closing snapshot: %w", cerr)
		}
		if err != nil {
			os.Remove(dest)
		}
	}()

	if err := enc.Encrypt(in, out); err != nil {
		return fmt.Errorf("sealing snapshot: %w", err)
	}
	return nil
}

func openFile(src string, dst *os.File, dc mirror.DecryptionContext) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening snapshot: %w", err)
	}
	defer in.Close()
	if err := dc.Decrypt(in, dst); err != nil {
		return fmt.Errorf("decrypting snapshot: %w", err)
	}
	return nil
}
