package syncer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

// ErrSyncInProgress is returned when a trigger arrives while a run for the
// same (tenant, entity type) key is already active.
var ErrSyncInProgress = errors.New("sync already in progress")

const defaultRunTimeout = 5 * time.Minute

// Orchestrator drives one sync run per (tenant_id, entity_type) key through
// the not_synced -> syncing -> synced|error state machine. It never
// self-retries: error and synced are left for the next explicit trigger.
type Orchestrator struct {
	store      EntityStore
	embedder   Embedder
	reconciler *Reconciler
	collection string
	runTimeout time.Duration

	mu       sync.Mutex
	inflight map[string]bool
}

// OrchestratorConfig holds dependencies for creating an Orchestrator.
type OrchestratorConfig struct {
	Store      EntityStore
	Embedder   Embedder
	Index      VectorIndex
	Collection string        // base collection name, suffixed per entity type
	RunTimeout time.Duration // 0 means the default of 5 minutes
}

// NewOrchestrator creates an orchestrator with explicit dependencies.
func NewOrchestrator(cfg OrchestratorConfig) (*Orchestrator, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("Store is required")
	}
	if cfg.Embedder == nil {
		return nil, fmt.Errorf("Embedder is required")
	}
	if cfg.Index == nil {
		return nil, fmt.Errorf("Index is required")
	}
	if cfg.Collection == "" {
		cfg.Collection = "tenant_entities"
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = defaultRunTimeout
	}

	return &Orchestrator{
		store:      cfg.Store,
		embedder:   cfg.Embedder,
		reconciler: NewReconciler(cfg.Index),
		collection: cfg.Collection,
		runTimeout: cfg.RunTimeout,
		inflight:   make(map[string]bool),
	}, nil
}

// CollectionFor returns the index collection for an entity type. Collections
// are shared across tenants; isolation is enforced by the tenant payload
// filter, not by per-tenant collections.
func (o *Orchestrator) CollectionFor(entityType string) string {
	return o.collection + "_" + entityType
}

// Trigger starts a background sync run for the key and returns immediately.
// A second trigger while the run is active gets ErrSyncInProgress; the
// caller observes the in-flight run through Status.
func (o *Orchestrator) Trigger(tenantID, entityType string) error {
	if !ValidEntityType(entityType) {
		return fmt.Errorf("unknown entity type: %s", entityType)
	}
	if err := o.claim(tenantID, entityType); err != nil {
		return err
	}

	go func() {
		defer o.release(tenantID, entityType)

		ctx, cancel := context.WithTimeout(context.Background(), o.runTimeout)
		defer cancel()

		o.run(ctx, tenantID, entityType)
	}()

	return nil
}

// RunSync executes one sync run synchronously under the same single-flight
// lock. Used by the CLI trigger path.
func (o *Orchestrator) RunSync(ctx context.Context, tenantID, entityType string) (*RunResult, error) {
	if !ValidEntityType(entityType) {
		return nil, fmt.Errorf("unknown entity type: %s", entityType)
	}
	if err := o.claim(tenantID, entityType); err != nil {
		return nil, err
	}
	defer o.release(tenantID, entityType)

	ctx, cancel := context.WithTimeout(ctx, o.runTimeout)
	defer cancel()

	return o.run(ctx, tenantID, entityType), nil
}

// Status returns the persisted outcome of the last run for the key.
func (o *Orchestrator) Status(tenantID, entityType string) (*RunResult, error) {
	return o.store.GetRun(tenantID, entityType)
}

func (o *Orchestrator) claim(tenantID, entityType string) error {
	key := tenantID + "/" + entityType

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.inflight[key] {
		return ErrSyncInProgress
	}
	o.inflight[key] = true
	return nil
}

func (o *Orchestrator) release(tenantID, entityType string) {
	key := tenantID + "/" + entityType

	o.mu.Lock()
	delete(o.inflight, key)
	o.mu.Unlock()
}

// run executes the claimed sync pass. A run row persisted as syncing by a
// crashed process is simply overwritten here: every step is idempotent, so
// resuming from scratch is safe.
func (o *Orchestrator) run(ctx context.Context, tenantID, entityType string) *RunResult {
	run := &RunResult{
		TenantID:   tenantID,
		EntityType: entityType,
		Status:     StatusSyncing,
		StartedAt:  time.Now(),
	}
	if err := o.store.SaveRun(run); err != nil {
		log.Printf("Warning: failed to persist run start for %s/%s: %v", tenantID, entityType, err)
	}

	collection := o.CollectionFor(entityType)

	entities, err := o.store.ListEntities(tenantID, entityType)
	if err != nil {
		return o.finishError(run, fmt.Errorf("loading entities: %w", err))
	}

	existing, err := o.reconciler.ExistingHashes(ctx, tenantID, collection)
	if err != nil {
		return o.finishError(run, err)
	}

	sel := Select(entities, existing)
	validIDs := ValidIDs(entities)
	run.Skipped = len(sel.ToSkip)

	var embedded []EmbeddedEntity
	var embedFailures []EntityFailure
	for i := range sel.ToUpsert {
		entity := sel.ToUpsert[i]
		entity.ContentHash = entity.ComputeHash()

		if err := o.store.UpdateEntitySync(tenantID, entity.ID, StatusSyncing, "", entity.ContentHash); err != nil {
			log.Printf("Warning: failed to mark entity %s syncing: %v", entity.ID, err)
		}

		vec, err := o.embedder.EmbedDocument(ctx, entity.EmbedText())
		if err != nil {
			log.Printf("Warning: embedding failed for entity %s: %v", entity.ID, err)
			embedFailures = append(embedFailures, EntityFailure{
				EntityID: entity.ID,
				Stage:    "embed",
				Message:  err.Error(),
			})
			o.markEntity(tenantID, entity.ID, StatusError, err.Error(), entity.ContentHash)
			continue
		}
		embedded = append(embedded, EmbeddedEntity{Entity: entity, Vector: vec})
	}

	result, err := o.reconciler.Reconcile(ctx, tenantID, collection, embedded, validIDs)
	if err != nil {
		return o.finishError(run, err)
	}

	failedIDs := make(map[string]string)
	for _, f := range result.Failed {
		if f.EntityID != "" {
			failedIDs[f.EntityID] = f.Message
		}
	}
	for i := range embedded {
		entity := embedded[i].Entity
		if msg, bad := failedIDs[entity.ID]; bad {
			o.markEntity(tenantID, entity.ID, StatusError, msg, entity.ContentHash)
		} else {
			o.markEntity(tenantID, entity.ID, StatusSynced, "", entity.ContentHash)
		}
	}
	for i := range sel.ToSkip {
		entity := sel.ToSkip[i]
		o.markEntity(tenantID, entity.ID, StatusSynced, "", entity.ComputeHash())
	}

	run.Upserted = result.Upserted
	run.Pruned = result.Pruned
	run.Failed = len(result.Failed) + len(embedFailures)
	run.FinishedAt = time.Now()

	// Partial failures are reported as counts, not escalated, as long as
	// the run mostly succeeded.
	succeeded := run.Upserted + run.Skipped
	switch {
	case run.Failed == 0:
		run.Status = StatusSynced
	case succeeded >= run.Failed:
		run.Status = StatusSynced
		run.Message = fmt.Sprintf("partial failure: %d of %d entities failed", run.Failed, run.Failed+succeeded)
	default:
		run.Status = StatusError
		run.Message = fmt.Sprintf("%d of %d entities failed", run.Failed, run.Failed+succeeded)
	}

	if err := o.store.SaveRun(run); err != nil {
		log.Printf("Warning: failed to persist run result for %s/%s: %v", tenantID, entityType, err)
	}
	return run
}

func (o *Orchestrator) finishError(run *RunResult, cause error) *RunResult {
	run.Status = StatusError
	run.Message = cause.Error()
	run.FinishedAt = time.Now()

	log.Printf("Warning: sync run %s/%s failed: %v", run.TenantID, run.EntityType, cause)
	if err := o.store.SaveRun(run); err != nil {
		log.Printf("Warning: failed to persist run error for %s/%s: %v", run.TenantID, run.EntityType, err)
	}
	return run
}

func (o *Orchestrator) markEntity(tenantID, entityID string, status SyncStatus, message, hash string) {
	if err := o.store.UpdateEntitySync(tenantID, entityID, status, message, hash); err != nil {
		log.Printf("Warning: failed to update sync state for entity %s: %v", entityID, err)
	}
}
