package mirror

import "io"

// Encryptor seals mirror snapshots. Sealing uses the public key only;
// opening a snapshot needs the passphrase-protected private key.
type Encryptor interface {
	// Setup generates the key pair and protects the private key with
	// passphrase. It fails if keys already exist.
	Setup(passphrase string) error

	// Encrypt writes the ciphertext of r to w.
	Encrypt(r io.Reader, w io.Writer) error

	// Unlock returns a DecryptionContext, or an error for a wrong passphrase.
	Unlock(passphrase string) (DecryptionContext, error)

	// IsConfigured reports whether both key files exist.
	IsConfigured() bool
}

// DecryptionContext holds an unlocked private key in memory.
type DecryptionContext interface {
	Decrypt(r io.Reader, w io.Writer) error
}
