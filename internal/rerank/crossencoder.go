package rerank

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"

	"github.com/fabfab/knowledgebase/internal/domain"
)

// Message is a single chat turn, mirroring llmclient.Message without
// importing that package (keeps rerank dependency-free of the LLM client's
// transport details, the same seam chunking.SentenceEmbedder uses for the
// embedder).
type Message struct {
	Role    string
	Content string
}

// LLM is the subset of llmclient.Client the cross-encoder needs.
type LLM interface {
	Generate(ctx context.Context, messages []Message) (string, error)
}

// CrossEncoder scores each hit's relevance to the query by prompting an
// LLM for a 0-10 rating. Falls back to the input ordering if no model is
// configured.
type CrossEncoder struct {
	llm   LLM
	model string
}

// NewCrossEncoder constructs a CrossEncoder. A nil llm or empty model
// means the reranker is unconfigured and Rerank is a no-op.
func NewCrossEncoder(llm LLM, model string) CrossEncoder {
	return CrossEncoder{llm: llm, model: model}
}

var firstNumberRE = regexp.MustCompile(`-?\d+(\.\d+)?`)

func (c CrossEncoder) Rerank(ctx context.Context, query string, hits []domain.SearchHit) ([]domain.SearchHit, error) {
	if c.llm == nil || c.model == "" {
		return hits, nil
	}
	if len(hits) == 0 {
		return hits, nil
	}

	raw := make([]float64, len(hits))
	for i, h := range hits {
		raw[i] = c.scoreHit(ctx, query, h)
	}
	normalized := minMaxNormalize(raw)

	out := make([]domain.SearchHit, len(hits))
	for i, h := range hits {
		meta := cloneMetadata(h.Metadata)
		meta["crossEncoderScore"] = formatScore(raw[i])
		meta["reranker"] = "CrossEncoder"
		h.Metadata = meta
		h.Score = normalized[i]
		out[i] = h
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out, nil
}

func (c CrossEncoder) scoreHit(ctx context.Context, query string, hit domain.SearchHit) float64 {
	prompt := fmt.Sprintf(
		"Rate the relevance of the following passage to the query on a scale of 0 to 10. Respond with only the number.\n\nQuery: %s\n\nPassage: %s",
		query, hit.Content,
	)
	reply, err := c.llm.Generate(ctx, []Message{
		{Role: "system", Content: "You are a precise relevance-scoring assistant. Respond with a single number from 0 to 10."},
		{Role: "user", Content: prompt},
	})
	if err != nil {
		return 5.0
	}
	match := firstNumberRE.FindString(reply)
	if match == "" {
		return 5.0
	}
	score, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return 5.0
	}
	return score
}
