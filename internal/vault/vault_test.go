package vault

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
)

// memStore implements CredentialStore in memory for tests.
type memStore struct {
	creds  map[string]*CredentialRecord
	audits []*AuditRecord

	failOnSave bool
}

func newMemStore() *memStore {
	return &memStore{creds: make(map[string]*CredentialRecord)}
}

func (m *memStore) SaveCredential(rec *CredentialRecord) error {
	if m.failOnSave {
		return errors.New("save failed")
	}
	cp := *rec
	m.creds[rec.RefID] = &cp
	return nil
}

func (m *memStore) GetCredential(refID string) (*CredentialRecord, error) {
	rec, ok := m.creds[refID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *memStore) SaveAudit(rec *AuditRecord) error {
	m.audits = append(m.audits, rec)
	return nil
}

func testKey() []byte {
	return DeriveKey([]byte("test-passphrase"), []byte("test-salt"))
}

func newTestVault(t *testing.T) (*Vault, *memStore) {
	t.Helper()
	store := newMemStore()
	v, err := New(Config{Key: testKey()}, store)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return v, store
}

func TestNew_RejectsBadKeyLength(t *testing.T) {
	for _, n := range []int{0, 8, 15, 31, 33} {
		if _, err := New(Config{Key: make([]byte, n)}, newMemStore()); err == nil {
			t.Errorf("expected error for key length %d", n)
		}
	}
}

func TestDeriveKey_Deterministic(t *testing.T) {
	k1 := DeriveKey([]byte("pass"), []byte("salt"))
	k2 := DeriveKey([]byte("pass"), []byte("salt"))
	if string(k1) != string(k2) {
		t.Error("same inputs produced different keys")
	}
	if len(k1) != 32 {
		t.Errorf("expected 32-byte key, got %d", len(k1))
	}

	k3 := DeriveKey([]byte("pass"), []byte("other-salt"))
	if string(k1) == string(k3) {
		t.Error("different salts produced the same key")
	}
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	v, store := newTestVault(t)

	plaintexts := []string{"", "hunter2", "sk-live-0123456789abcdef", "véry ûnicode 密钥"}
	for _, p := range plaintexts {
		refID, err := v.Encrypt("t1", p)
		if err != nil {
			t.Fatalf("Encrypt(%q): %v", p, err)
		}

		rec := store.creds[refID]
		if rec == nil {
			t.Fatalf("no record stored for ref %s", refID)
		}
		if !strings.HasPrefix(rec.Ciphertext, CipherMarker) {
			t.Errorf("ciphertext missing %q marker: %q", CipherMarker, rec.Ciphertext)
		}
		if rec.TenantID != "t1" {
			t.Errorf("expected tenant t1, got %s", rec.TenantID)
		}
		if strings.Contains(rec.Ciphertext, p) && p != "" {
			t.Error("ciphertext contains plaintext")
		}

		got, err := v.Decrypt(refID)
		if err != nil {
			t.Fatalf("Decrypt: %v", err)
		}
		if got != p {
			t.Errorf("round trip mismatch: got %q, want %q", got, p)
		}
	}
}

func TestEncrypt_FreshRefPerCall(t *testing.T) {
	v, _ := newTestVault(t)

	ref1, err := v.Encrypt("t1", "secret")
	if err != nil {
		t.Fatal(err)
	}
	ref2, err := v.Encrypt("t1", "secret")
	if err != nil {
		t.Fatal(err)
	}
	if ref1 == ref2 {
		t.Error("expected distinct ref ids for separate Encrypt calls")
	}
}

func TestDecrypt_UnknownRef(t *testing.T) {
	v, _ := newTestVault(t)

	if _, err := v.Decrypt("no-such-ref"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDecrypt_TamperedCiphertext(t *testing.T) {
	v, store := newTestVault(t)

	refID, err := v.Encrypt("t1", "secret")
	if err != nil {
		t.Fatal(err)
	}

	rec := store.creds[refID]
	raw, _ := base64.StdEncoding.DecodeString(strings.TrimPrefix(rec.Ciphertext, CipherMarker))
	raw[len(raw)-1] ^= 0xff
	rec.Ciphertext = CipherMarker + base64.StdEncoding.EncodeToString(raw)

	if _, err := v.Decrypt(refID); !errors.Is(err, ErrDecryption) {
		t.Errorf("expected ErrDecryption for tampered ciphertext, got %v", err)
	}
}

func TestDecrypt_MissingMarkerRejected(t *testing.T) {
	v, store := newTestVault(t)

	store.creds["raw"] = &CredentialRecord{
		RefID:      "raw",
		TenantID:   "t1",
		Ciphertext: "plaintext-that-never-went-through-the-vault",
	}

	if _, err := v.Decrypt("raw"); !errors.Is(err, ErrDecryption) {
		t.Errorf("expected ErrDecryption for unmarked value, got %v", err)
	}
}

func TestDecrypt_ForeignKey(t *testing.T) {
	v1, store := newTestVault(t)

	refID, err := v1.Encrypt("t1", "secret")
	if err != nil {
		t.Fatal(err)
	}

	v2, err := New(Config{Key: DeriveKey([]byte("other"), []byte("key"))}, store)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := v2.Decrypt(refID); !errors.Is(err, ErrDecryption) {
		t.Errorf("expected ErrDecryption under foreign key, got %v", err)
	}
}

func TestEncryptRef_OverwriteDenied(t *testing.T) {
	v, store := newTestVault(t)

	refID, err := v.Encrypt("t1", "original")
	if err != nil {
		t.Fatal(err)
	}

	err = v.EncryptRef("t1", refID, "replacement", "webhook-handler", false)
	if !errors.Is(err, ErrOverwriteDenied) {
		t.Fatalf("expected ErrOverwriteDenied, got %v", err)
	}

	// Original value unchanged.
	got, err := v.Decrypt(refID)
	if err != nil {
		t.Fatal(err)
	}
	if got != "original" {
		t.Errorf("original value changed after denied overwrite: %q", got)
	}

	// Denied attempt audited with tenant, ref, and caller.
	if len(store.audits) != 1 {
		t.Fatalf("expected 1 audit record, got %d", len(store.audits))
	}
	audit := store.audits[0]
	if audit.TenantID != "t1" || audit.RefID != refID || audit.Caller != "webhook-handler" {
		t.Errorf("audit record incomplete: %+v", audit)
	}
}

func TestEncryptRef_OverwriteAllowed(t *testing.T) {
	v, store := newTestVault(t)

	refID, err := v.Encrypt("t1", "original")
	if err != nil {
		t.Fatal(err)
	}

	if err := v.EncryptRef("t1", refID, "replacement", "admin-cli", true); err != nil {
		t.Fatalf("EncryptRef with overwrite: %v", err)
	}

	got, err := v.Decrypt(refID)
	if err != nil {
		t.Fatal(err)
	}
	if got != "replacement" {
		t.Errorf("expected replacement value, got %q", got)
	}
	if len(store.audits) != 0 {
		t.Errorf("allowed overwrite should not be audited as denied, got %d records", len(store.audits))
	}
}

func TestEncryptRef_NewRef(t *testing.T) {
	v, _ := newTestVault(t)

	if err := v.EncryptRef("t1", "fixed-ref", "secret", "importer", false); err != nil {
		t.Fatalf("EncryptRef on unused ref: %v", err)
	}
	got, err := v.Decrypt("fixed-ref")
	if err != nil {
		t.Fatal(err)
	}
	if got != "secret" {
		t.Errorf("got %q, want %q", got, "secret")
	}
}

func TestIsEncrypted(t *testing.T) {
	if !IsEncrypted("ENC:abc") {
		t.Error("marked value not recognized as encrypted")
	}
	if IsEncrypted("abc") || IsEncrypted("") {
		t.Error("unmarked value recognized as encrypted")
	}
}
