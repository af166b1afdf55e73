// Package syncer implements the tenant synchronization pipeline: diff
// selection by content hash, upsert/prune reconciliation against the vector
// index, and the per-(tenant, entity type) orchestrator state machine.
package syncer

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"
)

// Entity type constants
const (
	TypeBusinessRule       = "business_rule"
	TypeSupportDocument    = "support_document"
	TypeProductDescription = "product_description"
)

// EntityTypes lists the recognized syncable entity types.
var EntityTypes = []string{TypeBusinessRule, TypeSupportDocument, TypeProductDescription}

// SyncStatus is the lifecycle state of an entity or of a whole sync run.
type SyncStatus string

const (
	StatusNotSynced SyncStatus = "not_synced"
	StatusSyncing   SyncStatus = "syncing"
	StatusSynced    SyncStatus = "synced"
	StatusError     SyncStatus = "error"
)

// SyncableEntity is the unit the diff selector and reconciler operate on:
// a business rule, support document, or product description.
type SyncableEntity struct {
	ID             string            `json:"id"`
	TenantID       string            `json:"tenant_id"`
	EntityType     string            `json:"entity_type"`
	ContentFields  map[string]string `json:"content_fields"`
	VisibleInIndex bool              `json:"visible_in_index"`
	Active         bool              `json:"active"`
	ContentHash    string            `json:"content_hash"`
	SyncStatus     SyncStatus        `json:"sync_status"`
	SyncError      string            `json:"sync_error,omitempty"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// Indexable reports whether the entity belongs in the vector index at all.
func (e *SyncableEntity) Indexable() bool {
	return e.Active && e.VisibleInIndex
}

// EmbedText returns the text that feeds the embedding model: the content
// fields concatenated in deterministic key order. The content hash is
// computed over the same text, so hash equality implies embedding equality.
func (e *SyncableEntity) EmbedText() string {
	keys := make([]string, 0, len(e.ContentFields))
	for k := range e.ContentFields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(e.ContentFields[k])
		b.WriteString("\n")
	}
	return b.String()
}

// ComputeHash fingerprints the entity's vectorizable fields.
func (e *SyncableEntity) ComputeHash() string {
	sum := sha256.Sum256([]byte(e.EmbedText()))
	return hex.EncodeToString(sum[:])
}

// EmbeddedEntity pairs an entity with its embedding vector, ready for upsert.
type EmbeddedEntity struct {
	Entity SyncableEntity
	Vector []float32
}

// EntityFailure records one entity that failed inside a batch without
// aborting the rest of it.
type EntityFailure struct {
	EntityID string `json:"entity_id"`
	Stage    string `json:"stage"` // embed, upsert, prune
	Message  string `json:"message"`
}

// ReconcileResult reports what one reconcile pass did to the index.
type ReconcileResult struct {
	Upserted int             `json:"upserted"`
	Pruned   int             `json:"pruned"`
	Failed   []EntityFailure `json:"failed,omitempty"`
}

// RunResult is the queryable outcome of one orchestrator run.
type RunResult struct {
	TenantID   string     `json:"tenant_id"`
	EntityType string     `json:"entity_type"`
	Status     SyncStatus `json:"status"`
	Message    string     `json:"message,omitempty"`
	Upserted   int        `json:"upserted"`
	Pruned     int        `json:"pruned"`
	Skipped    int        `json:"skipped"`
	Failed     int        `json:"failed"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt time.Time  `json:"finished_at,omitempty"`
}

// ValidEntityType reports whether t names a recognized entity type.
func ValidEntityType(t string) bool {
	for _, known := range EntityTypes {
		if t == known {
			return true
		}
	}
	return false
}
