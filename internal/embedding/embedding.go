// Package embedding implements the Embedder component (spec §4.3): it
// produces a fixed-dimension vector for a text blob via a configured
// embedding model, guaranteeing the same model is used for storing and
// searching.
package embedding

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"time"
)

// Embedder produces embeddings and reports the model identifier used to
// produce them, so Artifact Memory can flag stale embeddings when the
// configured model changes (spec §4.3).
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	ModelID() string
	Dimension() int
}

// HTTPEmbedder calls a configured embedding HTTP endpoint (e.g. a local
// Ollama or OpenAI-compatible embeddings API).
type HTTPEmbedder struct {
	endpoint  string
	modelID   string
	dimension int
	client    *http.Client
}

// NewHTTPEmbedder constructs an HTTPEmbedder targeting endpoint for
// modelID, expecting dimension-length vectors in the response.
func NewHTTPEmbedder(endpoint, modelID string, dimension int) *HTTPEmbedder {
	return &HTTPEmbedder{
		endpoint:  endpoint,
		modelID:   modelID,
		dimension: dimension,
		client:    &http.Client{Timeout: 30 * time.Second},
	}
}

type embedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Embed calls the configured endpoint and validates the returned vector's
// dimension matches the configured one.
func (e *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embedRequest{Model: e.modelID, Input: text})
	if err != nil {
		return nil, fmt.Errorf("embedding: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("embedding: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding: request %s: %w", e.endpoint, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding: endpoint %s returned status %d", e.endpoint, resp.StatusCode)
	}

	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("embedding: decode response: %w", err)
	}
	if e.dimension > 0 && len(out.Embedding) != e.dimension {
		return nil, fmt.Errorf("embedding: expected dimension %d, got %d", e.dimension, len(out.Embedding))
	}
	return out.Embedding, nil
}

// ModelID returns the configured embedding model identifier.
func (e *HTTPEmbedder) ModelID() string { return e.modelID }

// Dimension returns the configured embedding dimension.
func (e *HTTPEmbedder) Dimension() int { return e.dimension }

// LocalFallbackEmbedder deterministically hashes text into a pseudo-embedding.
// It is used for tests and for degraded-mode operation when no embedding
// endpoint is configured, per spec §4.4's requirement that Memory work with
// or without a reachable backend.
type LocalFallbackEmbedder struct {
	dimension int
}

// NewLocalFallbackEmbedder constructs a deterministic hash-based embedder
// producing vectors of the given dimension.
func NewLocalFallbackEmbedder(dimension int) *LocalFallbackEmbedder {
	return &LocalFallbackEmbedder{dimension: dimension}
}

// ModelID identifies this fallback so stored embeddings can be recognized
// as non-semantic and rebuilt once a real embedding model is configured.
func (e *LocalFallbackEmbedder) ModelID() string { return "local-fallback-sha256" }

// Dimension returns the configured vector dimension.
func (e *LocalFallbackEmbedder) Dimension() int { return e.dimension }

// Embed hashes each alphanumeric word of text into a bucket of a
// fixed-size vector, giving texts that share words a nonzero cosine
// similarity without calling out to any model.
func (e *LocalFallbackEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.dimension)
	if e.dimension == 0 {
		return vec, nil
	}
	words := splitWords(text)
	for _, w := range words {
		sum := sha256.Sum256([]byte(w))
		idx := binary.BigEndian.Uint32(sum[:4]) % uint32(e.dimension)
		vec[idx]++
	}
	normalize(vec)
	return vec, nil
}

func splitWords(s string) []string {
	var words []string
	var cur []rune
	flush := func() {
		if len(cur) > 0 {
			words = append(words, string(cur))
			cur = cur[:0]
		}
	}
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			cur = append(cur, r)
		} else {
			flush()
		}
	}
	flush()
	return words
}

func normalize(v []float32) {
	var sumSq float64
	for _, f := range v {
		sumSq += float64(f) * float64(f)
	}
	if sumSq == 0 {
		return
	}
	norm := float32(math.Sqrt(sumSq))
	for i := range v {
		v[i] /= norm
	}
}
