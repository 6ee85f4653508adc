// Package embedder turns chunk text into dense vectors over an
// Ollama-compatible embeddings endpoint, with client-side batch splitting
// and a dimension-mismatch warning path.
package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Embedder generates vector representations for a batch of texts.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
	ModelID() string
}

type httpEmbedder struct {
	host      string
	model     string
	dimension int
	batchSize int
	client    *http.Client
	log       zerolog.Logger
}

// Config parameterizes the HTTP embedder.
type Config struct {
	BaseURL   string
	Model     string
	Dimension int
	BatchSize int
	Timeout   time.Duration
}

// New constructs an Embedder backed by an Ollama-compatible embeddings API.
func New(cfg Config, log zerolog.Logger) Embedder {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 16
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &httpEmbedder{
		host:      strings.TrimRight(cfg.BaseURL, "/"),
		model:     cfg.Model,
		dimension: cfg.Dimension,
		batchSize: batchSize,
		client:    &http.Client{Timeout: timeout},
		log:       log,
	}
}

func (e *httpEmbedder) Dimension() int { return e.dimension }
func (e *httpEmbedder) ModelID() string { return e.model }

type embedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embedResponse struct {
	Embedding []float64 `json:"embedding"`
}

// Embed returns the embedding for one text.
func (e *httpEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.embedChunk(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch splits texts into batches of at most batchSize and embeds each
// batch sequentially, preserving input order in the returned slice.
func (e *httpEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := start + e.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := e.embedChunk(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("embed batch [%d:%d]: %w", start, end, err)
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (e *httpEmbedder) embedChunk(ctx context.Context, texts []string) ([][]float32, error) {
	url := fmt.Sprintf("%s/api/embeddings", e.host)
	results := make([][]float32, 0, len(texts))

	for _, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		reqBody, err := json.Marshal(embedRequest{Model: e.model, Prompt: text})
		if err != nil {
			return nil, fmt.Errorf("marshal embed request: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
		if err != nil {
			return nil, fmt.Errorf("create embed request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := e.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("call embeddings API: %w", err)
		}

		var payload embedResponse
		decodeErr := json.NewDecoder(resp.Body).Decode(&payload)
		resp.Body.Close()
		if decodeErr != nil {
			return nil, fmt.Errorf("decode embed response: %w", decodeErr)
		}

		vec := make([]float32, len(payload.Embedding))
		for i, v := range payload.Embedding {
			vec[i] = float32(v)
		}

		if e.dimension > 0 && len(vec) != e.dimension {
			e.log.Warn().
				Int("expected_dimension", e.dimension).
				Int("actual_dimension", len(vec)).
				Str("model", e.model).
				Msg("embedding dimension mismatch")
			return nil, fmt.Errorf("embedding dimension mismatch: expected %d got %d", e.dimension, len(vec))
		}

		results = append(results, vec)
	}

	return results, nil
}
