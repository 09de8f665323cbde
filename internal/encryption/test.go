package encryption

import (
	"bytes"
	"fmt"
	"io"

	"drivemirror/internal/mirror"
)

// testMagic marks snapshots sealed by TestEncryptor.
var testMagic = []byte("DMSNAP\x00\x01")

// TestEncryptor frames data with a fixed header instead of encrypting it.
// It needs no keys and is deterministic.
type TestEncryptor struct {
	setupCalls int
}

var _ mirror.Encryptor = (*TestEncryptor)(nil)

func NewTestEncryptor() *TestEncryptor {
	return &TestEncryptor{}
}

func (e *TestEncryptor) Setup(passphrase string) error {
	e.setupCalls++
	return nil
}

func (e *TestEncryptor) Encrypt(r io.Reader, w io.Writer) error {
	if _, err := w.Write(testMagic); err != nil {
		return fmt.Errorf("writing snapshot header: %w", err)
	}
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("copying snapshot: %w", err)
	}
	return nil
}

func (e *TestEncryptor) Unlock(string) (mirror.DecryptionContext, error) {
	return TestDecryptionContext{}, nil
}

func (e *TestEncryptor) IsConfigured() bool { return true }

// TestDecryptionContext strips the TestEncryptor header.
type TestDecryptionContext struct{}

func (TestDecryptionContext) Decrypt(r io.Reader, w io.Writer) error {
	head := make([]byte, len(testMagic))
	if _, err := io.ReadFull(r, head); err != nil {
		return fmt.Errorf("reading snapshot header: %w", err)
	}
	if !bytes.Equal(head, testMagic) {
		return fmt.Errorf("not a test snapshot")
	}
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("copying snapshot: %w", err)
	}
	return nil
}
