// Package embedder is the fixed-dimension text encoder (C6). It speaks the
// same local Ollama-compatible HTTP endpoint as the generation runtime
// (grounded on pkg/ai/ollama.go's JSON request shape) but against the
// /api/embeddings route instead of /api/generate.
package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"mailengine/internal/apperr"
	"mailengine/internal/vectordb"
)

// Embedder turns a composed text blob into a fixed-width vector.
type Embedder struct {
	baseURL string
	modelID string
	client  *http.Client
	ready   atomic.Bool
}

func New(baseURL, modelID string) *Embedder {
	return &Embedder{baseURL: baseURL, modelID: modelID, client: &http.Client{Timeout: 30 * time.Second}}
}

// IsReady reports whether Probe last succeeded, the C6 readiness signal
// C7 checks before auto-embedding — distinct from C5's IsReady, which only
// reflects whether a chat/generation model has been activated.
func (e *Embedder) IsReady() bool { return e.ready.Load() }

func (e *Embedder) ModelID() string { return e.modelID }

func (e *Embedder) Dim() int { return vectordb.Dimensions }

type ollamaEmbeddingRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbeddingResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Encode calls Ollama's /api/embeddings endpoint and returns the vector.
func (e *Embedder) Encode(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(ollamaEmbeddingRequest{Model: e.modelID, Prompt: text})
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrParse, "encoding embedding request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrParse, "building embedding request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrTransportTransient, "calling embedder")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, apperr.Wrap(apperr.ErrTransportTransient, "embedder returned %s", resp.Status)
	}

	var out ollamaEmbeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, apperr.Wrap(apperr.ErrParse, "decoding embedding response")
	}
	return out.Embedding, nil
}

// Probe validates the configured model produces vectors of the expected
// dimension, run once at startup per SPEC_FULL.md §4.6.
func (e *Embedder) Probe(ctx context.Context) error {
	vec, err := e.Encode(ctx, "probe")
	if err != nil {
		e.ready.Store(false)
		return err
	}
	if len(vec) != e.Dim() {
		e.ready.Store(false)
		return apperr.Wrap(apperr.ErrModelUnavailable, "embedder %s produced dimension %d, expected %d", e.modelID, len(vec), e.Dim())
	}
	e.ready.Store(true)
	return nil
}

// ComposeText builds the text handed to Encode, matching SPEC_FULL.md
// §4.6's "subject \n from \n body(truncated)" composition rule.
func ComposeText(subject, from, body string) string {
	const maxBodyChars = 2000
	if len(body) > maxBodyChars {
		body = body[:maxBodyChars]
	}
	return fmt.Sprintf("%s\n%s\n%s", subject, from, body)
}
