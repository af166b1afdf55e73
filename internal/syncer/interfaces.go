package syncer

import "context"

// Embedder generates vector embeddings for entity text.
// Implementations: embedding.OpenAIClient, embedding.LocalClient
type Embedder interface {
	EmbedDocument(ctx context.Context, text string) ([]float32, error)
}

// Point is one vector record to upsert. The point id is derived by the
// reconciler from (tenant_id, entity_id); callers never supply it.
type Point struct {
	PointID string
	Vector  []float32
	Payload PointPayload
}

// PointPayload is the searchable metadata stored alongside the vector.
type PointPayload struct {
	TenantID    string            `json:"tenant_id"`
	EntityID    string            `json:"entity_id"`
	EntityType  string            `json:"entity_type"`
	ContentHash string            `json:"content_hash"`
	Fields      map[string]string `json:"fields,omitempty"`
}

// StoredPoint is a record already present in the index, as returned by a
// tenant-scoped listing.
type StoredPoint struct {
	PointID     string
	TenantID    string
	EntityID    string
	ContentHash string
}

// VectorIndex is the narrow adapter interface the sync engine depends on.
// Implementations: vector.QdrantIndex
type VectorIndex interface {
	// Upsert inserts or replaces a single point in the collection.
	Upsert(ctx context.Context, collection string, point Point) error

	// List returns all points in the collection tagged with tenantID.
	// The tenant filter is the enforcement point for tenant isolation.
	List(ctx context.Context, collection, tenantID string) ([]StoredPoint, error)

	// Delete removes points by id.
	Delete(ctx context.Context, collection string, pointIDs []string) error
}

// EntityStore provides the orchestrator's view of persisted entities and
// per-key run state. Implementations: storage.Store (SQLite)
type EntityStore interface {
	ListEntities(tenantID, entityType string) ([]SyncableEntity, error)
	UpdateEntitySync(tenantID, entityID string, status SyncStatus, message, contentHash string) error
	SaveRun(run *RunResult) error
	// GetRun returns nil with no error when the key has never been synced.
	GetRun(tenantID, entityType string) (*RunResult, error)
}
