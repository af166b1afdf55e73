// Package vector adapts the external Qdrant index to the narrow
// syncer.VectorIndex interface the sync engine depends on.
package vector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"tenantsync/internal/syncer"
)

const (
	defaultQdrantTimeout = 15 * time.Second
	scrollPageSize       = 256
)

// QdrantIndex talks to Qdrant over its HTTP API. Collections are shared
// across tenants; every read is filtered by the tenant_id payload field.
type QdrantIndex struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// Option configures a QdrantIndex.
type Option func(*QdrantIndex)

// WithAPIKey sets the api-key header on every request.
func WithAPIKey(key string) Option {
	return func(q *QdrantIndex) { q.apiKey = key }
}

// WithTimeout bounds each HTTP call.
func WithTimeout(d time.Duration) Option {
	return func(q *QdrantIndex) { q.client.Timeout = d }
}

// NewQdrantIndex creates an adapter for the Qdrant instance at baseURL,
// e.g. "http://localhost:6333".
func NewQdrantIndex(baseURL string, opts ...Option) *QdrantIndex {
	q := &QdrantIndex{
		baseURL: baseURL,
		client:  &http.Client{Timeout: defaultQdrantTimeout},
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// EnsureCollection creates the collection if it does not exist.
func (q *QdrantIndex) EnsureCollection(ctx context.Context, collection string, vectorSize int) error {
	body := map[string]any{
		"vectors": map[string]any{"size": vectorSize, "distance": "Cosine"},
	}
	status, respBody, err := q.do(ctx, "PUT", fmt.Sprintf("/collections/%s", collection), body)
	if err != nil {
		return err
	}
	// 409 means the collection already exists.
	if status != http.StatusOK && status != http.StatusConflict {
		return fmt.Errorf("creating collection %s (%d): %s", collection, status, respBody)
	}
	return nil
}

// Upsert inserts or replaces a single point.
func (q *QdrantIndex) Upsert(ctx context.Context, collection string, point syncer.Point) error {
	body := map[string]any{
		"points": []map[string]any{{
			"id":      point.PointID,
			"vector":  point.Vector,
			"payload": point.Payload,
		}},
	}
	status, respBody, err := q.do(ctx, "PUT", fmt.Sprintf("/collections/%s/points?wait=true", collection), body)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("upsert point %s (%d): %s", point.PointID, status, respBody)
	}
	return nil
}

type scrollResponse struct {
	Result struct {
		Points []struct {
			ID      any                 `json:"id"`
			Payload syncer.PointPayload `json:"payload"`
		} `json:"points"`
		NextPageOffset any `json:"next_page_offset"`
	} `json:"result"`
}

// List returns all points in the collection tagged with tenantID, paging
// through Qdrant's scroll API. The tenant filter on this query is the
// enforcement point for tenant isolation.
func (q *QdrantIndex) List(ctx context.Context, collection, tenantID string) ([]syncer.StoredPoint, error) {
	var points []syncer.StoredPoint
	var offset any

	for {
		body := map[string]any{
			"filter": map[string]any{
				"must": []map[string]any{
					{"key": "tenant_id", "match": map[string]any{"value": tenantID}},
				},
			},
			"limit":        scrollPageSize,
			"with_payload": true,
		}
		if offset != nil {
			body["offset"] = offset
		}

		status, respBody, err := q.do(ctx, "POST", fmt.Sprintf("/collections/%s/points/scroll", collection), body)
		if err != nil {
			return nil, err
		}
		if status != http.StatusOK {
			return nil, fmt.Errorf("scroll collection %s (%d): %s", collection, status, respBody)
		}

		var page scrollResponse
		if err := json.Unmarshal(respBody, &page); err != nil {
			return nil, fmt.Errorf("decoding scroll response: %w", err)
		}

		for _, p := range page.Result.Points {
			points = append(points, syncer.StoredPoint{
				PointID:     fmt.Sprintf("%v", p.ID),
				TenantID:    p.Payload.TenantID,
				EntityID:    p.Payload.EntityID,
				ContentHash: p.Payload.ContentHash,
			})
		}

		if page.Result.NextPageOffset == nil {
			return points, nil
		}
		offset = page.Result.NextPageOffset
	}
}

// Delete removes points by id.
func (q *QdrantIndex) Delete(ctx context.Context, collection string, pointIDs []string) error {
	if len(pointIDs) == 0 {
		return nil
	}
	body := map[string]any{"points": pointIDs}
	status, respBody, err := q.do(ctx, "POST", fmt.Sprintf("/collections/%s/points/delete?wait=true", collection), body)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("delete %d points (%d): %s", len(pointIDs), status, respBody)
	}
	return nil
}

func (q *QdrantIndex) do(ctx context.Context, method, path string, body any) (int, []byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, q.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if q.apiKey != "" {
		req.Header.Set("api-key", q.apiKey)
	}

	resp, err := q.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("qdrant request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return resp.StatusCode, respBody, nil
}
