package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Common test errors
var (
	ErrMockEmbedding = errors.New("mock embedding error")
	ErrMockIndex     = errors.New("mock index error")
	ErrMockStore     = errors.New("mock store error")
)

// MockEmbedder implements Embedder for testing
type MockEmbedder struct {
	mu          sync.Mutex
	EmbedFunc   func(ctx context.Context, text string) ([]float32, error)
	CallCount   int
	LastText    string
	FailOnCall  int // Fail on Nth call (0 = never fail)
	FixedVector []float32
}

func NewMockEmbedder() *MockEmbedder {
	return &MockEmbedder{FixedVector: []float32{0.1, 0.2, 0.3}}
}

func (m *MockEmbedder) EmbedDocument(ctx context.Context, text string) ([]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CallCount++
	m.LastText = text

	if m.FailOnCall > 0 && m.CallCount >= m.FailOnCall {
		return nil, ErrMockEmbedding
	}
	if m.EmbedFunc != nil {
		return m.EmbedFunc(ctx, text)
	}
	return m.FixedVector, nil
}

func (m *MockEmbedder) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CallCount
}

// MockVectorIndex implements VectorIndex for testing
type MockVectorIndex struct {
	mu          sync.Mutex
	Points      map[string]map[string]Point // collection -> point_id -> point
	UpsertCount int
	DeleteCount int
	ListCount   int

	FailUpsertFor map[string]bool // entity ids whose upsert fails
	FailOnList    bool
	FailOnDelete  bool
	ListFunc      func(collection, tenantID string) ([]StoredPoint, error)
}

func NewMockVectorIndex() *MockVectorIndex {
	return &MockVectorIndex{
		Points:        make(map[string]map[string]Point),
		FailUpsertFor: make(map[string]bool),
	}
}

func (m *MockVectorIndex) Upsert(ctx context.Context, collection string, point Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.UpsertCount++
	if m.FailUpsertFor[point.Payload.EntityID] {
		return fmt.Errorf("%w: entity %s", ErrMockIndex, point.Payload.EntityID)
	}

	if m.Points[collection] == nil {
		m.Points[collection] = make(map[string]Point)
	}
	m.Points[collection][point.PointID] = point
	return nil
}

func (m *MockVectorIndex) List(ctx context.Context, collection, tenantID string) ([]StoredPoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ListCount++
	if m.FailOnList {
		return nil, ErrMockIndex
	}
	if m.ListFunc != nil {
		return m.ListFunc(collection, tenantID)
	}

	var points []StoredPoint
	for id, p := range m.Points[collection] {
		if p.Payload.TenantID != tenantID {
			continue
		}
		points = append(points, StoredPoint{
			PointID:     id,
			TenantID:    p.Payload.TenantID,
			EntityID:    p.Payload.EntityID,
			ContentHash: p.Payload.ContentHash,
		})
	}
	return points, nil
}

func (m *MockVectorIndex) Delete(ctx context.Context, collection string, pointIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.DeleteCount++
	if m.FailOnDelete {
		return ErrMockIndex
	}
	for _, id := range pointIDs {
		delete(m.Points[collection], id)
	}
	return nil
}

// Seed stores a point directly, bypassing counters.
func (m *MockVectorIndex) Seed(collection string, point Point) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Points[collection] == nil {
		m.Points[collection] = make(map[string]Point)
	}
	m.Points[collection][point.PointID] = point
}

// Count returns the number of points in a collection.
func (m *MockVectorIndex) Count(collection string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Points[collection])
}

// MockEntityStore implements EntityStore for testing
type MockEntityStore struct {
	mu       sync.Mutex
	Entities []SyncableEntity
	Statuses map[string]SyncStatus // entity_id -> last status
	Messages map[string]string
	Hashes   map[string]string
	Runs     map[string]*RunResult // tenant/type -> last saved run

	FailOnList    bool
	SaveRunCount  int
	ListCallCount int
}

func NewMockEntityStore(entities ...SyncableEntity) *MockEntityStore {
	return &MockEntityStore{
		Entities: entities,
		Statuses: make(map[string]SyncStatus),
		Messages: make(map[string]string),
		Hashes:   make(map[string]string),
		Runs:     make(map[string]*RunResult),
	}
}

func (m *MockEntityStore) ListEntities(tenantID, entityType string) ([]SyncableEntity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ListCallCount++
	if m.FailOnList {
		return nil, ErrMockStore
	}

	var out []SyncableEntity
	for _, e := range m.Entities {
		if e.TenantID == tenantID && e.EntityType == entityType {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *MockEntityStore) UpdateEntitySync(tenantID, entityID string, status SyncStatus, message, contentHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Statuses[entityID] = status
	m.Messages[entityID] = message
	m.Hashes[entityID] = contentHash
	return nil
}

func (m *MockEntityStore) SaveRun(run *RunResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.SaveRunCount++
	cp := *run
	m.Runs[run.TenantID+"/"+run.EntityType] = &cp
	return nil
}

func (m *MockEntityStore) GetRun(tenantID, entityType string) (*RunResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	run, ok := m.Runs[tenantID+"/"+entityType]
	if !ok {
		return nil, nil
	}
	cp := *run
	return &cp, nil
}

func (m *MockEntityStore) StatusOf(entityID string) SyncStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Statuses[entityID]
}

// ruleEntity builds an active, visible business rule for tests.
func ruleEntity(tenantID, id, content string) SyncableEntity {
	return SyncableEntity{
		ID:             id,
		TenantID:       tenantID,
		EntityType:     TypeBusinessRule,
		ContentFields:  map[string]string{"name": "rule " + id, "description": content},
		Active:         true,
		VisibleInIndex: true,
		SyncStatus:     StatusNotSynced,
	}
}
