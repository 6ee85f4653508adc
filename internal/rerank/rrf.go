package rerank

import (
	"context"
	"sort"
	"strconv"

	"github.com/fabfab/knowledgebase/internal/domain"
)

// DefaultRRFK is the reference constant for Reciprocal Rank Fusion.
const DefaultRRFK = 60

// RRF implements Reciprocal Rank Fusion: score(c) = Σ_src 1/(k+rank_src(c)).
type RRF struct {
	K int
}

// NewRRF constructs an RRF reranker. k <= 0 uses DefaultRRFK.
func NewRRF(k int) RRF {
	if k <= 0 {
		k = DefaultRRFK
	}
	return RRF{K: k}
}

func (rr RRF) Rerank(_ context.Context, _ string, hits []domain.SearchHit) ([]domain.SearchHit, error) {
	bySource := make(map[string][]domain.SearchHit)
	for _, h := range hits {
		source := h.Metadata["source"]
		bySource[source] = append(bySource[source], h)
	}
	if len(bySource) <= 1 {
		return hits, nil
	}

	rrfScore := make(map[string]float64)
	latest := make(map[string]domain.SearchHit)
	order := make([]string, 0, len(hits))

	for _, list := range bySource {
		sort.SliceStable(list, func(i, j int) bool { return list[i].Score > list[j].Score })
		for rank, h := range list {
			if _, seen := latest[h.ChunkID]; !seen {
				order = append(order, h.ChunkID)
			}
			rrfScore[h.ChunkID] += 1.0 / float64(rr.K+rank+1)
			latest[h.ChunkID] = h
		}
	}

	raw := make([]float64, len(order))
	for i, id := range order {
		raw[i] = rrfScore[id]
	}
	normalized := minMaxNormalize(raw)

	out := make([]domain.SearchHit, len(order))
	for i, id := range order {
		h := latest[id]
		meta := cloneMetadata(h.Metadata)
		meta["rrfScore"] = formatScore(rrfScore[id])
		meta["reranker"] = "RRF"
		h.Metadata = meta
		h.Score = normalized[i]
		out[i] = h
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out, nil
}

func cloneMetadata(m map[string]string) map[string]string {
	out := make(map[string]string, len(m)+2)
	for k, v := range m {
		out[k] = v
	}
	return out
}

func formatScore(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
