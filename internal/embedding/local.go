package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"
)

const (
	defaultLocalBaseURL = "http://localhost:11434/api/embed"
	defaultLocalModel   = "nomic-embed-text"
	localMaxRetries     = 5
	localInitialDelay   = 1 * time.Second
	localTimeout        = 30 * time.Second
)

// LocalClient embeds entity text via an Ollama-compatible API, for
// deployments that keep embedding on-premise. It implements syncer.Embedder.
// Uses the nomic "search_document: " task prefix for indexing.
type LocalClient struct {
	baseURL string
	model   string
	client  *http.Client
}

// LocalOption configures a LocalClient.
type LocalOption func(*LocalClient)

// WithLocalBaseURL sets the inference server URL.
func WithLocalBaseURL(url string) LocalOption {
	return func(c *LocalClient) { c.baseURL = url }
}

// WithLocalModel sets the model name.
func WithLocalModel(model string) LocalOption {
	return func(c *LocalClient) { c.model = model }
}

// NewLocalClient creates a local embedding client. Defaults to
// localhost:11434 with nomic-embed-text.
func NewLocalClient(opts ...LocalOption) *LocalClient {
	c := &LocalClient{
		baseURL: defaultLocalBaseURL,
		model:   defaultLocalModel,
		client:  &http.Client{Timeout: localTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type localEmbedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type localEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// EmbedDocument embeds entity text for indexing.
func (c *LocalClient) EmbedDocument(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(localEmbedRequest{
		Model: c.model,
		Input: "search_document: " + text,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < localMaxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(math.Pow(2, float64(attempt))) * localInitialDelay
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := c.client.Do(httpReq)
		if err != nil {
			lastErr = fmt.Errorf("local embedding request failed: %w", err)
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("failed to read response body: %w", err)
			continue
		}

		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("local embedding error (%d): %s", resp.StatusCode, string(respBody))
			if resp.StatusCode >= 500 {
				continue
			}
			return nil, lastErr
		}

		var embedResp localEmbedResponse
		if err := json.Unmarshal(respBody, &embedResp); err != nil {
			return nil, fmt.Errorf("failed to decode response: %w", err)
		}
		if len(embedResp.Embeddings) == 0 {
			return nil, fmt.Errorf("no embeddings returned")
		}
		return embedResp.Embeddings[0], nil
	}

	return nil, fmt.Errorf("max retries (%d) exceeded: %w", localMaxRetries, lastErr)
}
