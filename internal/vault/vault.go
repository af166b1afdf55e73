// Package vault provides authenticated symmetric encryption for tenant
// credentials with reference indirection: callers hold an opaque ref id,
// never the ciphertext or the plaintext.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/argon2"
)

// CipherMarker prefixes every stored ciphertext. A value without the marker
// is plaintext and must never have reached the credential store.
const CipherMarker = "ENC:"

var (
	// ErrNotFound is returned when no credential exists for a ref id.
	ErrNotFound = errors.New("credential not found")

	// ErrOverwriteDenied is returned when a bind-to-existing-ref encrypt is
	// attempted without the allow-overwrite flag.
	ErrOverwriteDenied = errors.New("credential overwrite denied")

	// ErrDecryption is returned for malformed, tampered, or foreign
	// ciphertexts. Decrypt never returns partial data.
	ErrDecryption = errors.New("decryption failed")
)

// CredentialRecord is an encrypted secret addressed by an opaque ref id.
type CredentialRecord struct {
	RefID      string
	TenantID   string
	Ciphertext string
	CreatedAt  time.Time
}

// AuditRecord captures a denied vault operation for operator inspection.
type AuditRecord struct {
	TenantID  string
	RefID     string
	Caller    string
	Reason    string
	Timestamp time.Time
}

// CredentialStore persists credential records and vault audit entries.
// Implementations: storage.Store (SQLite)
type CredentialStore interface {
	SaveCredential(rec *CredentialRecord) error
	GetCredential(refID string) (*CredentialRecord, error)
	SaveAudit(rec *AuditRecord) error
}

// Config holds the vault's key material. The key is read-only after
// construction; there is no runtime rotation.
type Config struct {
	Key []byte
}

// Vault encrypts and decrypts tenant credentials with AES-GCM.
type Vault struct {
	key   []byte
	store CredentialStore
}

// DeriveKey stretches a passphrase and salt into a 256-bit vault key.
func DeriveKey(passphrase, salt []byte) []byte {
	return argon2.IDKey(passphrase, salt, 1, 64*1024, 4, 32)
}

// New creates a vault with the given key and backing store.
// The key must be a valid AES key length (16, 24, or 32 bytes).
func New(cfg Config, store CredentialStore) (*Vault, error) {
	switch len(cfg.Key) {
	case 16, 24, 32:
	default:
		return nil, fmt.Errorf("invalid vault key length: %d", len(cfg.Key))
	}
	if store == nil {
		return nil, errors.New("credential store is required")
	}
	return &Vault{key: cfg.Key, store: store}, nil
}

// Encrypt seals plaintext under a fresh ref id and persists the record.
// It returns the opaque ref id the caller should store in place of the value.
func (v *Vault) Encrypt(tenantID, plaintext string) (string, error) {
	refID := uuid.New().String()
	if err := v.seal(tenantID, refID, plaintext); err != nil {
		return "", err
	}
	return refID, nil
}

// EncryptRef seals plaintext under an existing ref id ("bind to existing
// ref" mode). Rebinding a ref that already holds a value requires the
// overwrite flag; a denied attempt is audited and leaves the original
// record unchanged.
func (v *Vault) EncryptRef(tenantID, refID, plaintext, caller string, overwrite bool) error {
	existing, err := v.store.GetCredential(refID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("credential lookup: %w", err)
	}
	if existing != nil && !overwrite {
		audit := &AuditRecord{
			TenantID:  tenantID,
			RefID:     refID,
			Caller:    caller,
			Reason:    "overwrite without allow-overwrite flag",
			Timestamp: time.Now(),
		}
		if auditErr := v.store.SaveAudit(audit); auditErr != nil {
			return fmt.Errorf("recording denied overwrite: %w", auditErr)
		}
		return fmt.Errorf("%w: ref %s", ErrOverwriteDenied, refID)
	}
	return v.seal(tenantID, refID, plaintext)
}

// Decrypt resolves a ref id and returns the original plaintext.
func (v *Vault) Decrypt(refID string) (string, error) {
	rec, err := v.store.GetCredential(refID)
	if err != nil {
		return "", err
	}

	encoded, ok := strings.CutPrefix(rec.Ciphertext, CipherMarker)
	if !ok {
		// A stored value without the marker means plaintext leaked into
		// the credential store. Refuse to treat it as a secret.
		return "", fmt.Errorf("%w: ref %s missing cipher marker", ErrDecryption, refID)
	}

	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryption, err)
	}

	block, err := aes.NewCipher(v.key)
	if err != nil {
		return "", err
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	if len(raw) < aesgcm.NonceSize() {
		return "", fmt.Errorf("%w: ciphertext too short", ErrDecryption)
	}
	nonce, ciphertext := raw[:aesgcm.NonceSize()], raw[aesgcm.NonceSize():]

	plaintext, err := aesgcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryption, err)
	}
	return string(plaintext), nil
}

// IsEncrypted reports whether a stored value carries the cipher marker.
func IsEncrypted(value string) bool {
	return strings.HasPrefix(value, CipherMarker)
}

func (v *Vault) seal(tenantID, refID, plaintext string) error {
	block, err := aes.NewCipher(v.key)
	if err != nil {
		return err
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return err
	}

	nonce := make([]byte, aesgcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return err
	}

	sealed := aesgcm.Seal(nil, nonce, []byte(plaintext), nil)
	ciphertext := CipherMarker + base64.StdEncoding.EncodeToString(append(nonce, sealed...))

	return v.store.SaveCredential(&CredentialRecord{
		RefID:      refID,
		TenantID:   tenantID,
		Ciphertext: ciphertext,
		CreatedAt:  time.Now(),
	})
}
