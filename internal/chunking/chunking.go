// Package chunking splits parsed document text into an ordered sequence of
// Chunks. The three strategies share one interface so the ingestion
// pipeline can select between them by name.
package chunking

import (
	"context"
	"fmt"

	"github.com/fabfab/knowledgebase/internal/domain"
)

// Settings parameterizes a chunking run, mirroring settings.ChunkingSettings
// without importing that package (keeps chunking dependency-free of config).
type Settings struct {
	MaxChunkSize        int
	Overlap             int
	MinChunkSize        int
	SemanticThreshold   float64
	RecursiveSeparators []string
}

// Chunker splits text into an ordered, dense, 0-indexed Chunk sequence.
type Chunker interface {
	Chunk(ctx context.Context, content string, settings Settings) ([]domain.Chunk, error)
}

// SentenceEmbedder is the subset of embedder.Embedder the Semantic
// strategy needs: batched embeddings for sentence-boundary detection.
type SentenceEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Registry dispatches to a Chunker by strategy name.
type Registry struct {
	strategies map[string]Chunker
}

// NewRegistry builds the default registry: FixedSize, Recursive, Semantic.
func NewRegistry(embedder SentenceEmbedder) *Registry {
	r := &Registry{strategies: make(map[string]Chunker)}
	r.Register("FixedSize", FixedSizeChunker{})
	r.Register("Recursive", RecursiveChunker{})
	r.Register("Semantic", SemanticChunker{Embedder: embedder, Fallback: FixedSizeChunker{}})
	return r
}

// Register adds or overrides the chunker for a strategy name.
func (r *Registry) Register(strategy string, c Chunker) {
	r.strategies[strategy] = c
}

// Chunk dispatches to the named strategy and stamps the strategy/index
// metadata keys every chunker must carry.
func (r *Registry) Chunk(ctx context.Context, strategy, content string, settings Settings) ([]domain.Chunk, error) {
	c, ok := r.strategies[strategy]
	if !ok {
		return nil, fmt.Errorf("unknown chunking strategy: %s", strategy)
	}
	chunks, err := c.Chunk(ctx, content, settings)
	if err != nil {
		return nil, err
	}
	for i := range chunks {
		if chunks[i].Metadata == nil {
			chunks[i].Metadata = map[string]string{}
		}
		chunks[i].Metadata[domain.MetaChunkingStrategyField] = strategy
		chunks[i].Metadata[domain.MetaChunkIndexField] = fmt.Sprintf("%d", chunks[i].ChunkIndex)
	}
	return chunks, nil
}

// estimateTokens uses the reference estimator from: roughly 4
// characters per token.
func estimateTokens(s string) int {
	n := len(s) / 4
	if n == 0 && len(s) > 0 {
		n = 1
	}
	return n
}

// charsForTokens converts a token budget back into an approximate character
// count using the same 4 chars/token estimator.
func charsForTokens(tokens int) int {
	return tokens * 4
}
