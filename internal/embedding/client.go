// Package embedding adapts the orchestrator's local sentence embedder into
// the injectable Embedder interface internal/memory depends on, grounded on
// the teacher's internal/embedding/client.go EmbedText/CheckReachability
// pair but generalized behind an interface per spec.md §4.2 ("Embedding ...
// MUST be injected (interface) so the store is agnostic to the model").
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/archive-ai/orchestrator/internal/config"
)

// Embedder produces fixed-dimension embeddings for a batch of strings. The
// vector memory store (C2) and the memory worker's novelty scorer (C3)
// depend on this interface, not on a concrete HTTP client, so tests can
// substitute a fake embedder.
type Embedder interface {
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
	Dimensions() int
}

// HTTPEmbedder calls a local OpenAI-compatible embeddings endpoint.
type HTTPEmbedder struct {
	cfg    config.EmbeddingConfig
	client *http.Client
}

// New builds an HTTPEmbedder from config.
func New(cfg config.EmbeddingConfig) *HTTPEmbedder {
	return &HTTPEmbedder{
		cfg:    cfg,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

// Dimensions returns the embedding width configured for this deployment
// (EMBED_DIM), used to size the vector index and validate stored entries.
func (e *HTTPEmbedder) Dimensions() int { return e.cfg.Dimensions }

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed calls the configured embedding endpoint and returns one embedding
// per input, in order.
func (e *HTTPEmbedder) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("embedding: no inputs")
	}
	body, err := json.Marshal(embedRequest{Model: e.cfg.Model, Input: inputs})
	if err != nil {
		return nil, fmt.Errorf("embedding: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.BaseURL+"/v1/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("embedding: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("embedding: read response: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("embedding: endpoint returned %s: %s", resp.Status, string(respBody))
	}

	var parsed embedResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("embedding: parse response: %w", err)
	}
	if len(parsed.Data) != len(inputs) {
		return nil, fmt.Errorf("embedding: got %d embeddings for %d inputs", len(parsed.Data), len(inputs))
	}
	out := make([][]float32, len(parsed.Data))
	for i := range parsed.Data {
		if e.cfg.Dimensions > 0 && len(parsed.Data[i].Embedding) != e.cfg.Dimensions {
			return nil, fmt.Errorf("embedding: dimension mismatch: got %d, want %d", len(parsed.Data[i].Embedding), e.cfg.Dimensions)
		}
		out[i] = parsed.Data[i].Embedding
	}
	return out, nil
}

// CheckReachability probes the embedder with a one-word request, used by the
// C6 health aggregator.
func CheckReachability(ctx context.Context, e Embedder) error {
	if _, err := e.Embed(ctx, []string{"ping"}); err != nil {
		return fmt.Errorf("embedding endpoint unreachable: %w", err)
	}
	return nil
}
