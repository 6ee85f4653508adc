package rerank

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabfab/knowledgebase/internal/domain"
)

func hitWithSource(chunkID, source string, score float64) domain.SearchHit {
	return domain.SearchHit{
		ChunkID: chunkID,
		Score:   score,
		Metadata: map[string]string{
			"source": source,
		},
	}
}

func TestRRFSingleSourceUnchanged(t *testing.T) {
	rr := NewRRF(60)
	hits := []domain.SearchHit{hitWithSource("A", "vector", 0.9), hitWithSource("B", "vector", 0.8)}
	out, err := rr.Rerank(context.Background(), "q", hits)
	require.NoError(t, err)
	assert.Equal(t, hits, out)
}

func TestRRFFusionPrefersHitInBothSources(t *testing.T) {
	// scenario 6: vector ranks [A,B,C], keyword ranks [B,D,E];
	// B appears in both (ranks 2 and 1) and must come out first.
	rr := NewRRF(60)
	hits := []domain.SearchHit{
		hitWithSource("A", "vector", 0.9),
		hitWithSource("B", "vector", 0.8),
		hitWithSource("C", "vector", 0.7),
		hitWithSource("B", "keyword", 0.95),
		hitWithSource("D", "keyword", 0.85),
		hitWithSource("E", "keyword", 0.75),
	}
	out, err := rr.Rerank(context.Background(), "q", hits)
	require.NoError(t, err)
	require.NotEmpty(t, out)
	assert.Equal(t, "B", out[0].ChunkID)
	assert.Equal(t, "RRF", out[0].Metadata["reranker"])
}

func TestRRFScoresWithinBounds(t *testing.T) {
	rr := NewRRF(60)
	hits := []domain.SearchHit{
		hitWithSource("A", "vector", 0.9),
		hitWithSource("B", "keyword", 0.95),
	}
	out, err := rr.Rerank(context.Background(), "q", hits)
	require.NoError(t, err)
	for _, h := range out {
		assert.GreaterOrEqual(t, h.Score, 0.0)
		assert.LessOrEqual(t, h.Score, 1.0)
	}
}

func TestRRFAllEqualNormalizesToOne(t *testing.T) {
	rr := NewRRF(60)
	hits := []domain.SearchHit{
		hitWithSource("A", "vector", 0.5),
		hitWithSource("B", "keyword", 0.5),
	}
	out, err := rr.Rerank(context.Background(), "q", hits)
	require.NoError(t, err)
	for _, h := range out {
		assert.Equal(t, 1.0, h.Score)
	}
}

type fakeLLM struct {
	reply string
	err   error
}

func (f fakeLLM) Generate(_ context.Context, _ []Message) (string, error) {
	return f.reply, f.err
}

func TestCrossEncoderUnconfiguredIsNoOp(t *testing.T) {
	ce := NewCrossEncoder(nil, "")
	hits := []domain.SearchHit{{ChunkID: "A", Score: 0.5}}
	out, err := ce.Rerank(context.Background(), "q", hits)
	require.NoError(t, err)
	assert.Equal(t, hits, out)
}

func TestCrossEncoderParsesScore(t *testing.T) {
	ce := NewCrossEncoder(fakeLLM{reply: "8"}, "judge-model")
	hits := []domain.SearchHit{{ChunkID: "A", Content: "x"}}
	out, err := ce.Rerank(context.Background(), "q", hits)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "CrossEncoder", out[0].Metadata["reranker"])
}

func TestCrossEncoderFallsBackOnUnparseableReply(t *testing.T) {
	ce := NewCrossEncoder(fakeLLM{reply: "not a number"}, "judge-model")
	hits := []domain.SearchHit{
		{ChunkID: "A", Content: "x"},
		{ChunkID: "B", Content: "y"},
	}
	out, err := ce.Rerank(context.Background(), "q", hits)
	require.NoError(t, err)
	require.Len(t, out, 2)
	// both fall back to 5.0, so normalization collapses to equal scores
	assert.Equal(t, out[0].Score, out[1].Score)
}

func TestRegistryGetUnknownFallsBackToNone(t *testing.T) {
	reg := NewRegistry(60, nil, "")
	rr := reg.Get("SomethingUnconfigured")
	hits := []domain.SearchHit{{ChunkID: "A", Score: 0.5}}
	out, err := rr.Rerank(context.Background(), "q", hits)
	require.NoError(t, err)
	assert.Equal(t, hits, out)
}
