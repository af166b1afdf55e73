package syncer

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"
)

// pointNamespace is the fixed UUIDv5 namespace for deriving point ids.
// PointID(tenant, entity) must be stable across runs so upserts are
// idempotent: the same entity always lands on the same point.
var pointNamespace = uuid.MustParse("7e3c1a52-9b0f-4a8d-b2e6-5f4c8d9a1b3e")

// PointID derives the deterministic vector point id for an entity.
func PointID(tenantID, entityID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(tenantID+"/"+entityID)).String()
}

// Reconciler drives the index toward the source of truth: upsert what
// changed, prune what is no longer valid.
type Reconciler struct {
	index VectorIndex
}

// NewReconciler creates a reconciler over the given index adapter.
func NewReconciler(index VectorIndex) *Reconciler {
	return &Reconciler{index: index}
}

// Reconcile upserts the embedded entities and then prunes index entries
// whose entity id is not in validIDs.
//
// Per-entity upsert failures are recorded and do not abort the batch. All
// upserts complete (or are recorded as failed) before the prune listing
// runs, so a prune pass never deletes a point it was about to re-create.
// A returned error means the pass itself could not complete (index
// unreachable or a cross-tenant record observed), not a per-entity failure.
func (r *Reconciler) Reconcile(ctx context.Context, tenantID, collection string, toUpsert []EmbeddedEntity, validIDs map[string]bool) (*ReconcileResult, error) {
	result := &ReconcileResult{}

	for i := range toUpsert {
		entity := toUpsert[i].Entity
		point := Point{
			PointID: PointID(tenantID, entity.ID),
			Vector:  toUpsert[i].Vector,
			Payload: PointPayload{
				TenantID:    tenantID,
				EntityID:    entity.ID,
				EntityType:  entity.EntityType,
				ContentHash: entity.ContentHash,
				Fields:      entity.ContentFields,
			},
		}
		if err := r.index.Upsert(ctx, collection, point); err != nil {
			log.Printf("Warning: upsert failed for entity %s: %v", entity.ID, err)
			result.Failed = append(result.Failed, EntityFailure{
				EntityID: entity.ID,
				Stage:    "upsert",
				Message:  err.Error(),
			})
			continue
		}
		result.Upserted++
	}

	indexed, err := r.index.List(ctx, collection, tenantID)
	if err != nil {
		return result, fmt.Errorf("listing indexed points for tenant %s: %w", tenantID, err)
	}

	var obsolete []string
	for _, p := range indexed {
		if p.TenantID != tenantID {
			// The tenant-scoped listing returned a foreign record. This is
			// a consistency bug in the index, never something to drop
			// silently.
			return result, fmt.Errorf("tenant isolation violation: point %s belongs to tenant %s, expected %s", p.PointID, p.TenantID, tenantID)
		}
		if !validIDs[p.EntityID] {
			obsolete = append(obsolete, p.PointID)
		}
	}

	if len(obsolete) > 0 {
		if err := r.index.Delete(ctx, collection, obsolete); err != nil {
			log.Printf("Warning: prune failed for tenant %s: %v", tenantID, err)
			result.Failed = append(result.Failed, EntityFailure{
				Stage:   "prune",
				Message: err.Error(),
			})
		} else {
			result.Pruned = len(obsolete)
		}
	}

	return result, nil
}

// ExistingHashes returns the content hash last recorded in the index for
// each of the tenant's entities, keyed by entity id. The diff selector uses
// this to decide what actually needs re-embedding.
func (r *Reconciler) ExistingHashes(ctx context.Context, tenantID, collection string) (map[string]string, error) {
	indexed, err := r.index.List(ctx, collection, tenantID)
	if err != nil {
		return nil, fmt.Errorf("listing indexed points for tenant %s: %w", tenantID, err)
	}

	hashes := make(map[string]string, len(indexed))
	for _, p := range indexed {
		if p.TenantID != tenantID {
			return nil, fmt.Errorf("tenant isolation violation: point %s belongs to tenant %s, expected %s", p.PointID, p.TenantID, tenantID)
		}
		hashes[p.EntityID] = p.ContentHash
	}
	return hashes, nil
}
