package syncer

import (
	"context"
	"strings"
	"testing"
)

func embedded(e SyncableEntity) EmbeddedEntity {
	e.ContentHash = e.ComputeHash()
	return EmbeddedEntity{Entity: e, Vector: []float32{0.1, 0.2, 0.3}}
}

func TestPointID_DeterministicAndTenantScoped(t *testing.T) {
	if PointID("t1", "r1") != PointID("t1", "r1") {
		t.Error("point id not deterministic")
	}
	if PointID("t1", "r1") == PointID("t2", "r1") {
		t.Error("point id ignores tenant")
	}
	if PointID("t1", "r1") == PointID("t1", "r2") {
		t.Error("point id ignores entity")
	}
}

func TestReconcile_UpsertsAndReportsCounts(t *testing.T) {
	index := NewMockVectorIndex()
	r := NewReconciler(index)

	e := ruleEntity("t1", "r1", "rule one")
	result, err := r.Reconcile(context.Background(), "t1", "rules", []EmbeddedEntity{embedded(e)}, map[string]bool{"r1": true})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	if result.Upserted != 1 || result.Pruned != 0 || len(result.Failed) != 0 {
		t.Errorf("expected {upserted:1 pruned:0 failed:0}, got %+v", result)
	}
	if index.Count("rules") != 1 {
		t.Errorf("expected 1 point in index, got %d", index.Count("rules"))
	}
}

func TestReconcile_IdempotentUpsert(t *testing.T) {
	index := NewMockVectorIndex()
	r := NewReconciler(index)
	e := embedded(ruleEntity("t1", "r1", "rule one"))
	valid := map[string]bool{"r1": true}

	for i := 0; i < 2; i++ {
		if _, err := r.Reconcile(context.Background(), "t1", "rules", []EmbeddedEntity{e}, valid); err != nil {
			t.Fatalf("pass %d: %v", i, err)
		}
	}

	if index.Count("rules") != 1 {
		t.Errorf("double upsert produced %d points, want 1", index.Count("rules"))
	}
}

func TestReconcile_PruneCorrectness(t *testing.T) {
	index := NewMockVectorIndex()
	for _, id := range []string{"1", "2", "3"} {
		index.Seed("rules", Point{
			PointID: PointID("t1", id),
			Payload: PointPayload{TenantID: "t1", EntityID: id, ContentHash: "h" + id},
		})
	}

	r := NewReconciler(index)
	result, err := r.Reconcile(context.Background(), "t1", "rules", nil, map[string]bool{"1": true, "2": true})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	if result.Upserted != 0 || result.Pruned != 1 || len(result.Failed) != 0 {
		t.Errorf("expected {upserted:0 pruned:1 failed:0}, got %+v", result)
	}
	if index.Count("rules") != 2 {
		t.Errorf("expected points {1,2} to survive, got %d points", index.Count("rules"))
	}
	if _, ok := index.Points["rules"][PointID("t1", "3")]; ok {
		t.Error("obsolete point 3 not pruned")
	}
}

func TestReconcile_PruneIsTenantScoped(t *testing.T) {
	index := NewMockVectorIndex()
	index.Seed("rules", Point{
		PointID: PointID("t2", "x"),
		Payload: PointPayload{TenantID: "t2", EntityID: "x", ContentHash: "hx"},
	})

	r := NewReconciler(index)
	// Tenant t1 has nothing valid; its prune pass must not touch t2's point.
	result, err := r.Reconcile(context.Background(), "t1", "rules", nil, map[string]bool{})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if result.Pruned != 0 {
		t.Errorf("tenant t1 pruned %d points belonging to another tenant", result.Pruned)
	}
	if _, ok := index.Points["rules"][PointID("t2", "x")]; !ok {
		t.Error("tenant t2's point was deleted by t1's cleanup")
	}
}

func TestReconcile_ForeignTenantRecordIsAnError(t *testing.T) {
	index := NewMockVectorIndex()
	index.ListFunc = func(collection, tenantID string) ([]StoredPoint, error) {
		// A broken filter leaks another tenant's record.
		return []StoredPoint{{PointID: "p1", TenantID: "t2", EntityID: "x"}}, nil
	}

	r := NewReconciler(index)
	_, err := r.Reconcile(context.Background(), "t1", "rules", nil, map[string]bool{})
	if err == nil || !strings.Contains(err.Error(), "isolation") {
		t.Errorf("expected tenant isolation error, got %v", err)
	}
}

func TestReconcile_PartialUpsertFailure(t *testing.T) {
	index := NewMockVectorIndex()
	index.FailUpsertFor["r2"] = true

	r := NewReconciler(index)
	batch := []EmbeddedEntity{
		embedded(ruleEntity("t1", "r1", "one")),
		embedded(ruleEntity("t1", "r2", "two")),
		embedded(ruleEntity("t1", "r3", "three")),
	}
	valid := map[string]bool{"r1": true, "r2": true, "r3": true}

	result, err := r.Reconcile(context.Background(), "t1", "rules", batch, valid)
	if err != nil {
		t.Fatalf("per-entity failure must not abort the pass: %v", err)
	}

	if result.Upserted != 2 {
		t.Errorf("expected 2 upserted, got %d", result.Upserted)
	}
	if len(result.Failed) != 1 || result.Failed[0].EntityID != "r2" || result.Failed[0].Stage != "upsert" {
		t.Errorf("expected r2 recorded as failed upsert, got %+v", result.Failed)
	}
}

func TestReconcile_UpsertsCompleteBeforePruneQuery(t *testing.T) {
	index := NewMockVectorIndex()
	r := NewReconciler(index)

	// r1 is being re-created this pass. If the prune listing ran first it
	// would not see the fresh upsert; the ordering guarantee means the
	// listing happens after, so r1 is present and survives.
	e := embedded(ruleEntity("t1", "r1", "recreated"))
	result, err := r.Reconcile(context.Background(), "t1", "rules", []EmbeddedEntity{e}, map[string]bool{"r1": true})
	if err != nil {
		t.Fatal(err)
	}
	if result.Pruned != 0 {
		t.Errorf("prune raced ahead of its own upserts: pruned %d", result.Pruned)
	}
	if index.Count("rules") != 1 {
		t.Errorf("expected upserted point to survive, got %d points", index.Count("rules"))
	}
}

func TestReconcile_IndexUnreachable(t *testing.T) {
	index := NewMockVectorIndex()
	index.FailOnList = true

	r := NewReconciler(index)
	if _, err := r.Reconcile(context.Background(), "t1", "rules", nil, map[string]bool{}); err == nil {
		t.Error("expected error when index listing fails")
	}
}

func TestReconcile_DeleteFailureRecorded(t *testing.T) {
	index := NewMockVectorIndex()
	index.Seed("rules", Point{
		PointID: PointID("t1", "obsolete"),
		Payload: PointPayload{TenantID: "t1", EntityID: "obsolete"},
	})
	index.FailOnDelete = true

	r := NewReconciler(index)
	result, err := r.Reconcile(context.Background(), "t1", "rules", nil, map[string]bool{})
	if err != nil {
		t.Fatalf("prune failure must be recorded, not escalated: %v", err)
	}
	if result.Pruned != 0 || len(result.Failed) != 1 || result.Failed[0].Stage != "prune" {
		t.Errorf("expected recorded prune failure, got %+v", result)
	}
}

func TestExistingHashes(t *testing.T) {
	index := NewMockVectorIndex()
	index.Seed("rules", Point{
		PointID: PointID("t1", "r1"),
		Payload: PointPayload{TenantID: "t1", EntityID: "r1", ContentHash: "h1"},
	})

	r := NewReconciler(index)
	hashes, err := r.ExistingHashes(context.Background(), "t1", "rules")
	if err != nil {
		t.Fatal(err)
	}
	if hashes["r1"] != "h1" {
		t.Errorf("expected h1 for r1, got %q", hashes["r1"])
	}
}
