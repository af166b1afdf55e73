package web

import (
	"encoding/json"
	"errors"
	"fmt"

	"tenantsync/internal/syncer"
)

// Event type discriminators on the webhook payload.
const (
	EventCredentialsSync = "credentials_sync"
	EventMappingSync     = "mapping_sync"
	EventEntitySync      = "entity_sync"
)

var (
	// ErrUnknownEventType is returned for an event_type outside the
	// recognized set.
	ErrUnknownEventType = errors.New("unknown event type")

	// ErrInvalidEvent is returned for a payload that names a known event
	// type but fails field validation.
	ErrInvalidEvent = errors.New("invalid event payload")
)

// CredentialsSyncEvent carries a tenant's provider connection data. It is
// the event that creates the tenant on first delivery.
type CredentialsSyncEvent struct {
	TenantID           string   `json:"tenant_id"`
	Domain             string   `json:"domain"`
	Name               string   `json:"name"`
	Description        string   `json:"description"`
	ProviderURL        string   `json:"provider_url"`
	APIToken           string   `json:"api_token"`
	EnabledCollections []string `json:"enabled_collections"`
}

// RoutingRule is one key/value routing override on a channel mapping.
type RoutingRule struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Mapping routes an external inbox to a tenant.
type Mapping struct {
	ExternalAccountID string        `json:"external_account_id"`
	ExternalInboxID   string        `json:"external_inbox_id"`
	TenantID          string        `json:"tenant_id"`
	Domain            string        `json:"domain"`
	IsFallback        bool          `json:"is_fallback"`
	Sequence          int           `json:"sequence"`
	SpecialRouting    []RoutingRule `json:"special_routing"`
}

// MappingSyncEvent carries a channel mapping update.
type MappingSyncEvent struct {
	TenantID string  `json:"tenant_id"`
	Mapping  Mapping `json:"mapping"`
}

// EntitySyncEvent requests a sync run for one entity type.
type EntitySyncEvent struct {
	TenantID   string `json:"tenant_id"`
	EntityType string `json:"entity_type"`
}

// ParseEvent decodes a webhook body into its typed event. The dynamic
// event_type dispatch happens here, at the boundary; everything behind the
// gateway works with concrete types.
func ParseEvent(raw []byte) (any, error) {
	var head struct {
		EventType string `json:"event_type"`
		TenantID  string `json:"tenant_id"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if head.TenantID == "" {
		return nil, fmt.Errorf("%w: tenant_id is required", ErrInvalidEvent)
	}

	switch head.EventType {
	case EventCredentialsSync:
		var event CredentialsSyncEvent
		if err := json.Unmarshal(raw, &event); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
		}
		if event.Domain == "" {
			return nil, fmt.Errorf("%w: domain is required", ErrInvalidEvent)
		}
		return &event, nil

	case EventMappingSync:
		var event MappingSyncEvent
		if err := json.Unmarshal(raw, &event); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
		}
		if event.Mapping.ExternalInboxID == "" {
			return nil, fmt.Errorf("%w: mapping.external_inbox_id is required", ErrInvalidEvent)
		}
		return &event, nil

	case EventEntitySync:
		var event EntitySyncEvent
		if err := json.Unmarshal(raw, &event); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
		}
		if !syncer.ValidEntityType(event.EntityType) {
			return nil, fmt.Errorf("%w: entity_type %q", ErrInvalidEvent, event.EntityType)
		}
		return &event, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, head.EventType)
	}
}
