// Package rerank implements the rerankers: Reciprocal Rank Fusion over
// source-tagged hit lists, and an optional LLM-scored cross-encoder. Both
// take and return a []domain.SearchHit so the hybrid searcher
// (internal/search) can select between them by name.
package rerank

import (
	"context"

	"github.com/fabfab/knowledgebase/internal/domain"
)

// Reranker reorders (and rescores) a list of search hits for a query.
type Reranker interface {
	Rerank(ctx context.Context, query string, hits []domain.SearchHit) ([]domain.SearchHit, error)
}

// noneReranker leaves hit ordering untouched: if the configured reranker
// is None or not found, the original ordering is kept.
type noneReranker struct{}

func (noneReranker) Rerank(_ context.Context, _ string, hits []domain.SearchHit) ([]domain.SearchHit, error) {
	return hits, nil
}

// Registry dispatches to a Reranker by settings.SearchSettings.Reranker
// name.
type Registry struct {
	rerankers map[string]Reranker
}

// NewRegistry builds the default registry: None, RRF, and CrossEncoder.
// CrossEncoder is always registered; with a nil llm or an empty model it
// leaves hits unchanged.
func NewRegistry(rrfK int, llm LLM, crossEncoderModel string) *Registry {
	r := &Registry{rerankers: make(map[string]Reranker)}
	r.Register("None", noneReranker{})
	r.Register("RRF", NewRRF(rrfK))
	r.Register("CrossEncoder", NewCrossEncoder(llm, crossEncoderModel))
	return r
}

// Register adds or overrides the reranker for a name.
func (r *Registry) Register(name string, rr Reranker) {
	r.rerankers[name] = rr
}

// Get returns the named reranker, or the identity reranker if the name is
// empty or unrecognized.
func (r *Registry) Get(name string) Reranker {
	if rr, ok := r.rerankers[name]; ok {
		return rr
	}
	return noneReranker{}
}

// minMaxNormalize rescales values to [0,1]. An all-equal input (including
// a single value) is mapped to 1.0
func minMaxNormalize(values []float64) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}
	min, max := values[0], values[0]
	for _, v := range values {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	if max == min {
		for i := range out {
			out[i] = 1.0
		}
		return out
	}
	for i, v := range values {
		out[i] = (v - min) / (max - min)
	}
	return out
}
