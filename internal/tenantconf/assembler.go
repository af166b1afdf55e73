package tenantconf

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ConfigStore persists versioned config documents and resolves credential
// refs. Implementations: storage.Store (SQLite)
type ConfigStore interface {
	// CurrentConfig returns the latest document for a tenant, or nil when
	// the tenant has no configuration yet.
	CurrentConfig(tenantID string) (*ConfigDocument, error)
	SaveConfig(doc *ConfigDocument) error
	HasCredential(refID, tenantID string) (bool, error)
}

// Secrets is the vault surface the assembler needs.
// Implementations: vault.Vault
type Secrets interface {
	Encrypt(tenantID, plaintext string) (string, error)
	Decrypt(refID string) (string, error)
}

// Assembler merges incoming tenant payloads into a new config version.
type Assembler struct {
	store   ConfigStore
	secrets Secrets
}

// NewAssembler creates an assembler with explicit dependencies.
func NewAssembler(store ConfigStore, secrets Secrets) (*Assembler, error) {
	if store == nil {
		return nil, fmt.Errorf("ConfigStore is required")
	}
	if secrets == nil {
		return nil, fmt.Errorf("Secrets is required")
	}
	return &Assembler{store: store, secrets: secrets}, nil
}

// Assemble validates the incoming module payloads, routes sensitive fields
// through the vault, and persists a new document at version prev+1.
//
// Modules absent from the payload are carried forward unchanged. A payload
// whose content matches the current version is a no-op: the current document
// is returned and no new version is created, which is what makes duplicate
// webhook deliveries safe.
func (a *Assembler) Assemble(tenantID string, incoming map[string]ModulePayload) (*ConfigDocument, error) {
	if len(incoming) == 0 {
		return nil, fmt.Errorf("%w: payload declares no modules", ErrUnknownModule)
	}
	for name := range incoming {
		if !KnownModule(name) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownModule, name)
		}
	}

	current, err := a.store.CurrentConfig(tenantID)
	if err != nil {
		return nil, fmt.Errorf("loading current config: %w", err)
	}

	if current != nil {
		same, err := a.sameContent(current, incoming)
		if err != nil {
			return nil, err
		}
		if same {
			return current, nil
		}
	}

	modules := make(map[string]ModulePayload)
	if current != nil {
		for name, payload := range current.Modules {
			modules[name] = payload
		}
	}

	for name, payload := range incoming {
		sealed, err := a.sealModule(tenantID, payload)
		if err != nil {
			return nil, fmt.Errorf("module %s: %w", name, err)
		}
		modules[name] = sealed
	}

	doc := &ConfigDocument{
		TenantID:  tenantID,
		Version:   1,
		Modules:   modules,
		UpdatedAt: time.Now(),
	}
	if current != nil {
		doc.Version = current.Version + 1
	}

	if err := a.Validate(doc); err != nil {
		return nil, err
	}
	if err := a.store.SaveConfig(doc); err != nil {
		return nil, fmt.Errorf("saving config version %d: %w", doc.Version, err)
	}
	return doc, nil
}

// Validate checks the document invariants: no inline plaintext in sensitive
// fields, and every credential ref resolving to a credential of the same
// tenant.
func (a *Assembler) Validate(doc *ConfigDocument) error {
	for name, payload := range doc.Modules {
		for key, value := range payload {
			ref, isRef := refOf(value)
			if isRef {
				ok, err := a.store.HasCredential(ref, doc.TenantID)
				if err != nil {
					return fmt.Errorf("resolving ref in %s.%s: %w", name, key, err)
				}
				if !ok {
					return fmt.Errorf("%w: %s.%s -> %s", ErrDanglingRef, name, key, ref)
				}
				continue
			}
			if SensitiveKey(strings.ToLower(key)) {
				return fmt.Errorf("%w: %s.%s", ErrPlaintextSecret, name, key)
			}
		}
	}
	return nil
}

// sealModule replaces every sensitive field with a vault reference.
func (a *Assembler) sealModule(tenantID string, payload ModulePayload) (ModulePayload, error) {
	sealed := make(ModulePayload, len(payload))
	for key, value := range payload {
		if !SensitiveKey(strings.ToLower(key)) {
			sealed[key] = value
			continue
		}

		if _, isRef := refOf(value); isRef {
			// Caller already holds a reference; resolution is checked in
			// Validate.
			sealed[key] = value
			continue
		}

		plaintext, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("sensitive field %s must be a string", key)
		}
		refID, err := a.secrets.Encrypt(tenantID, plaintext)
		if err != nil {
			return nil, fmt.Errorf("encrypting %s: %w", key, err)
		}
		sealed[key] = ModulePayload{CredentialRefKey: refID}
	}
	return sealed, nil
}

// sameContent reports whether the incoming payload matches the current
// version: non-sensitive values compare structurally, sensitive values
// compare by decrypting the stored reference.
func (a *Assembler) sameContent(current *ConfigDocument, incoming map[string]ModulePayload) (bool, error) {
	for name, payload := range incoming {
		stored, ok := current.Modules[name]
		if !ok {
			return false, nil
		}
		if len(stored) != len(payload) {
			return false, nil
		}
		for key, value := range payload {
			storedValue, ok := stored[key]
			if !ok {
				return false, nil
			}

			incomingPlain, isPlainSecret := value.(string)
			if SensitiveKey(strings.ToLower(key)) && isPlainSecret {
				ref, isRef := refOf(storedValue)
				if !isRef {
					return false, nil
				}
				storedPlain, err := a.secrets.Decrypt(ref)
				if err != nil {
					return false, fmt.Errorf("comparing %s.%s: %w", name, key, err)
				}
				if storedPlain != incomingPlain {
					return false, nil
				}
				continue
			}

			if !jsonEqual(value, storedValue) {
				return false, nil
			}
		}
	}
	return true, nil
}

// refOf extracts a credential ref from a {"credential_ref": "..."} value.
func refOf(value any) (string, bool) {
	switch m := value.(type) {
	case ModulePayload:
		ref, ok := m[CredentialRefKey].(string)
		return ref, ok && len(m) == 1
	case map[string]any:
		ref, ok := m[CredentialRefKey].(string)
		return ref, ok && len(m) == 1
	}
	return "", false
}

// jsonEqual compares two values through their JSON encoding, normalizing
// the map/number type differences between decoded and in-memory payloads.
func jsonEqual(a, b any) bool {
	aj, err := json.Marshal(a)
	if err != nil {
		return false
	}
	bj, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return string(aj) == string(bj)
}
