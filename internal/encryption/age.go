package encryption

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"filippo.io/age"
	"filippo.io/age/armor"

	"drivemirror/internal/config"
	"drivemirror/internal/mirror"
)

// ErrKeysExist is returned by Setup when a key file is already present.
var ErrKeysExist = errors.New("snapshot keys already exist")

// AgeEncryptor seals snapshots to an X25519 recipient with filippo.io/age.
// The recipient is stored in plaintext. The identity is itself age-encrypted
// with a scrypt passphrase.
type AgeEncryptor struct {
	publicKeyPath  string
	privateKeyPath string
	armor          bool
}

var _ mirror.Encryptor = (*AgeEncryptor)(nil)

func NewAgeEncryptor(cfg config.EncryptionConfig) *AgeEncryptor {
	return &AgeEncryptor{
		publicKeyPath:  cfg.PublicKeyPath,
		privateKeyPath: cfg.PrivateKeyPath,
		armor:          cfg.Armor,
	}
}

func (e *AgeEncryptor) Setup(passphrase string) error {
	if passphrase == "" {
		return fmt.Errorf("passphrase required")
	}
	for _, p := range []string{e.publicKeyPath, e.privateKeyPath} {
		if _, err := os.Stat(p); err == nil {
			return fmt.Errorf("%s: %w", p, ErrKeysExist)
		}
	}

	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return fmt.Errorf("generating key pair: %w", err)
	}
	if err := writeRecipient(e.publicKeyPath, identity.Recipient()); err != nil {
		return err
	}
	if err := writeSealedIdentity(e.privateKeyPath, identity, passphrase); err != nil {
		os.Remove(e.publicKeyPath)
		return err
	}
	return nil
}

func writeRecipient(path string, r *age.X25519Recipient) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating key directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(r.String()+"\n"), 0644); err != nil {
		return fmt.Errorf("writing public key: %w", err)
	}
	return nil
}

func writeSealedIdentity(path string, id *age.X25519Identity, passphrase string) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating key directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("creating private key file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("closing private key file: %w", cerr)
		}
		if err != nil {
			os.Remove(path)
		}
	}()

	scrypt, err := age.NewScryptRecipient(passphrase)
	if err != nil {
		return fmt.Errorf("creating scrypt recipient: %w", err)
	}
	aw := armor.NewWriter(f)
	w, err := age.Encrypt(aw, scrypt)
	if err != nil {
		return fmt.Errorf("sealing private key: %w", err)
	}
	if _, err := io.WriteString(w, id.String()+"\n"); err != nil {
		return fmt.Errorf("sealing private key: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("sealing private key: %w", err)
	}
	return aw.Close()
}

// Encrypt seals r to the stored recipient, PEM-armored when configured.
func (e *AgeEncryptor) Encrypt(r io.Reader, w io.Writer) error {
	recipient, err := e.recipient()
	if err != nil {
		return err
	}

	var aw io.WriteCloser
	dst := w
	if e.armor {
		aw = armor.NewWriter(w)
		dst = aw
	}
	sealed, err := age.Encrypt(dst, recipient)
	if err != nil {
		return fmt.Errorf("creating encrypted writer: %w", err)
	}
	if _, err := io.Copy(sealed, r); err != nil {
		return fmt.Errorf("encrypting snapshot: %w", err)
	}
	if err := sealed.Close(); err != nil {
		return fmt.Errorf("finalizing encryption: %w", err)
	}
	if aw != nil {
		return aw.Close()
	}
	return nil
}

func (e *AgeEncryptor) Unlock(passphrase string) (mirror.DecryptionContext, error) {
	sealed, err := os.Open(e.privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("reading private key: %w", err)
	}
	defer sealed.Close()

	scrypt, err := age.NewScryptIdentity(passphrase)
	if err != nil {
		return nil, fmt.Errorf("creating scrypt identity: %w", err)
	}
	plain, err := age.Decrypt(dearmor(sealed), scrypt)
	if err != nil {
		return nil, fmt.Errorf("unlocking private key: %w", err)
	}
	identities, err := age.ParseIdentities(plain)
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}
	if len(identities) == 0 {
		return nil, fmt.Errorf("no identities in %s", e.privateKeyPath)
	}
	return &AgeDecryptionContext{identities: identities}, nil
}

func (e *AgeEncryptor) IsConfigured() bool {
	for _, p := range []string{e.publicKeyPath, e.privateKeyPath} {
		if _, err := os.Stat(p); err != nil {
			return false
		}
	}
	return true
}

func (e *AgeEncryptor) recipient() (age.Recipient, error) {
	data, err := os.ReadFile(e.publicKeyPath)
	if err != nil {
		return nil, fmt.Errorf("reading public key: %w", err)
	}
	recipients, err := age.ParseRecipients(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parsing public key: %w", err)
	}
	if len(recipients) == 0 {
		return nil, fmt.Errorf("no recipients in %s", e.publicKeyPath)
	}
	return recipients[0], nil
}

// AgeDecryptionContext opens snapshots sealed by AgeEncryptor, armored or not.
type AgeDecryptionContext struct {
	identities []age.Identity
}

var _ mirror.DecryptionContext = (*AgeDecryptionContext)(nil)

func (c *AgeDecryptionContext) Decrypt(r io.Reader, w io.Writer) error {
	plain, err := age.Decrypt(dearmor(r), c.identities...)
	if err != nil {
		return fmt.Errorf("opening snapshot: %w", err)
	}
	if _, err := io.Copy(w, plain); err != nil {
		return fmt.Errorf("decrypting snapshot: %w", err)
	}
	return nil
}

// dearmor strips PEM armor when r starts with the armor header.
func dearmor(r io.Reader) io.Reader {
	br := bufio.NewReader(r)
	head, _ := br.Peek(len(armor.Header))
	if string(head) == armor.Header {
		return armor.NewReader(br)
	}
	return br
}
