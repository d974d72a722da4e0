// Package embedding implements the Embedding Generator: produces
// fixed-dimension vectors from combined textual and structured evidence,
// and persists them to a pluggable vector store.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/spherical/docpipe/internal/domain"
	"github.com/spherical/docpipe/internal/transport"
)

const (
	maxInputChars  = 2000
	sentinelText   = "[empty]"
)

type embedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embedResponse struct {
	Embedding []float64 `json:"embedding"`
	Dimension int       `json:"dimension"`
}

// Generator calls the embeddings backend.
type Generator struct {
	client       *transport.Client
	baseURL      string
	model        string
	expectedDim  int
}

// New creates a Generator. expectedDim is the backend's advertised
// dimension; a mismatch on any individual call fails only that artifact's
// embedding, not the document.
func New(client *transport.Client, baseURL, model string, expectedDim int) *Generator {
	return &Generator{client: client, baseURL: baseURL, model: model, expectedDim: expectedDim}
}

// Embed clamps text to 2000 characters, substitutes a sentinel for empty
// input, and returns the backend's vector. A dimension mismatch is
// reported as an error so the caller can store the artifact without a
// vector rather than fail the whole document.
func (g *Generator) Embed(ctx context.Context, text string) ([]float64, error) {
	clamped := clamp(text)

	body, err := json.Marshal(embedRequest{Model: g.model, Input: clamped})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	resp, err := g.client.Do(ctx, "embeddings", func() (*http.Request, error) {
		r, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v1/embeddings", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		r.Header.Set("Content-Type", "application/json")
		return r, nil
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var parsed embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}

	if g.expectedDim > 0 && len(parsed.Embedding) != g.expectedDim {
		return nil, domain.EnrichmentFailed(
			fmt.Sprintf("embedding dimension mismatch: got %d, want %d", len(parsed.Embedding), g.expectedDim), nil)
	}

	return parsed.Embedding, nil
}

func clamp(text string) string {
	if text == "" {
		return sentinelText
	}
	if len(text) > maxInputChars {
		return text[:maxInputChars]
	}
	return text
}
