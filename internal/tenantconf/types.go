// Package tenantconf assembles incoming tenant data into versioned,
// append-only configuration documents, with secrets replaced by vault
// references before anything is persisted.
package tenantconf

import (
	"errors"
	"time"
)

// Recognized module names. The set is closed: a payload naming anything
// else is rejected.
const (
	ModuleCompanyInfo     = "company_info"
	ModuleServiceSettings = "service_settings"
	ModuleEnabledServices = "enabled_services"
	ModuleMCP             = "mcp"
	ModuleChannels        = "channels"
)

var knownModules = map[string]bool{
	ModuleCompanyInfo:     true,
	ModuleServiceSettings: true,
	ModuleEnabledServices: true,
	ModuleMCP:             true,
	ModuleChannels:        true,
}

// KnownModule reports whether name is in the recognized module set.
func KnownModule(name string) bool {
	return knownModules[name]
}

var (
	// ErrUnknownModule is returned when a payload touches a module name
	// outside the recognized set.
	ErrUnknownModule = errors.New("unknown config module")

	// ErrPlaintextSecret is returned when a value that was supposed to pass
	// through the vault arrives carrying no vault indirection and no cipher
	// marker after assembly.
	ErrPlaintextSecret = errors.New("plaintext secret in config document")

	// ErrDanglingRef is returned when a credential_ref in a module payload
	// does not resolve to a credential for the same tenant.
	ErrDanglingRef = errors.New("credential reference does not resolve")
)

// CredentialRefKey is the single key under which a vault reference appears
// in a module payload: {"credential_ref": "<ref_id>"}.
const CredentialRefKey = "credential_ref"

// ModulePayload is one module's structured configuration.
type ModulePayload map[string]any

// ConfigDocument is one version of a tenant's assembled configuration.
// Versions are append-only; prior versions are never mutated.
type ConfigDocument struct {
	TenantID  string                   `json:"tenant_id"`
	Version   int                      `json:"version"`
	Modules   map[string]ModulePayload `json:"modules"`
	UpdatedAt time.Time                `json:"updated_at"`
}

// Tenant is the immutable identity created on first sync.
type Tenant struct {
	TenantID      string    `json:"tenant_id"`
	Domain        string    `json:"domain"`
	SecurityToken string    `json:"security_token"`
	CreatedAt     time.Time `json:"created_at"`
}

// sensitiveKeys are the field names whose values must never be stored
// inline. Matching is exact on the lowercased key.
var sensitiveKeys = map[string]bool{
	"api_key":        true,
	"api_token":      true,
	"access_token":   true,
	"password":       true,
	"secret":         true,
	"client_secret":  true,
	"webhook_secret": true,
	"security_token": true,
}

// SensitiveKey reports whether a module payload field must pass through
// the vault.
func SensitiveKey(key string) bool {
	return sensitiveKeys[key]
}
