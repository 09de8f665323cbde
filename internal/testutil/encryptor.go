package testutil

import (
	"drivemirror/internal/encryption"
	"drivemirror/internal/mirror"
)

// NewTestEncryptor returns a keyless snapshot encryptor.
func NewTestEncryptor() mirror.Encryptor {
	return encryption.NewTestEncryptor()
}
