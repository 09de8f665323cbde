// Package encryption seals mirror snapshots.
package encryption

import (
	"fmt"

	"drivemirror/internal/config"
	"drivemirror/internal/mirror"
)

// NewEncryptorFromConfig creates an Encryptor based on the configuration type.
func NewEncryptorFromConfig(cfg config.EncryptionConfig) (mirror.Encryptor, error) {
	switch cfg.Type {
	case "age", "":
		if cfg.PublicKeyPath == "" || cfg.PrivateKeyPath == "" {
			return nil, fmt.Errorf("public_key_path and private_key_path required for age encryption")
		}
		return NewAgeEncryptor(cfg), nil
	case "test":
		return NewTestEncryptor(), nil
	default:
		return nil, fmt.Errorf("unknown encryption type: %q", cfg.Type)
	}
}
