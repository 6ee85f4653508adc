// Package search implements the hybrid searcher: dense vector search and
// lexical full-text search fanned out in parallel with
// golang.org/x/sync/errgroup, tagged by source, merged, reranked, and cut
// to a score threshold + top-K.
package search

import (
	"context"
	"strings"
	"time"
	"unicode"

	"golang.org/x/sync/errgroup"

	"github.com/fabfab/knowledgebase/internal/domain"
	"github.com/fabfab/knowledgebase/internal/rerank"
)

// QueryEmbedder is the subset of embedder.Embedder the searcher needs to
// embed a query string for the dense sub-search.
type QueryEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VectorLexicalStore is the subset of store.Store the searcher runs its two
// sub-searches against.
type VectorLexicalStore interface {
	VectorSearch(ctx context.Context, opts domain.SearchOptions, embedding []float32) ([]domain.SearchHit, error)
	LexicalSearch(ctx context.Context, opts domain.SearchOptions, queryText string) ([]domain.SearchHit, error)
}

// DocumentLookup resolves a document's descriptive fields for hit metadata
// enrichment (fileName, contentType).
type DocumentLookup interface {
	GetDocument(ctx context.Context, id string) (domain.Document, error)
}

// RerankerRegistry dispatches to a named reranker, as rerank.Registry does.
type RerankerRegistry interface {
	Get(name string) rerank.Reranker
}

// DefaultTopK is used when SearchOptions.TopK is unset.
const DefaultTopK = 10

// Searcher runs the full hybrid search protocol.
type Searcher struct {
	store    VectorLexicalStore
	embedder QueryEmbedder
	docs     DocumentLookup
	rerank   RerankerRegistry
}

// New constructs a Searcher.
func New(store VectorLexicalStore, embedder QueryEmbedder, docs DocumentLookup, rerankers RerankerRegistry) *Searcher {
	return &Searcher{store: store, embedder: embedder, docs: docs, rerank: rerankers}
}

// Search runs the hybrid search protocol: blank-query short-circuit, mode
// dispatch, source tagging, reranking, score threshold, and top-K cut.
func (s *Searcher) Search(ctx context.Context, query string, opts domain.SearchOptions, rerankerName string) (domain.SearchResult, error) {
	start := time.Now()

	if strings.TrimSpace(query) == "" {
		return domain.SearchResult{Duration: time.Since(start)}, nil
	}

	topK := opts.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}
	candidateOpts := opts
	candidateOpts.TopK = topK

	mode := opts.Mode
	if mode == "" {
		mode = domain.SearchHybrid
	}

	var vectorHits, lexicalHits []domain.SearchHit

	switch mode {
	case domain.SearchSemantic:
		vectorHits, _ = s.vectorSearch(ctx, query, candidateOpts)
	case domain.SearchKeyword:
		lexicalHits, _ = s.lexicalSearch(ctx, query, candidateOpts)
	default:
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			vectorHits, _ = s.vectorSearch(gctx, query, candidateOpts)
			return nil
		})
		g.Go(func() error {
			lexicalHits, _ = s.lexicalSearch(gctx, query, candidateOpts)
			return nil
		})
		_ = g.Wait()
	}

	tagSource(vectorHits, "vector")
	tagSource(lexicalHits, "keyword")

	merged := make([]domain.SearchHit, 0, len(vectorHits)+len(lexicalHits))
	merged = append(merged, vectorHits...)
	merged = append(merged, lexicalHits...)

	reranker := s.rerank.Get(rerankerName)
	reranked, err := reranker.Rerank(ctx, query, merged)
	if err != nil {
		return domain.SearchResult{}, err
	}

	filtered := make([]domain.SearchHit, 0, len(reranked))
	for _, h := range reranked {
		if h.Score < opts.MinScore {
			continue
		}
		filtered = append(filtered, h)
		if len(filtered) >= topK {
			break
		}
	}

	s.enrichMetadata(ctx, filtered)

	return domain.SearchResult{
		Hits:         filtered,
		TotalMatches: len(filtered),
		Duration:     time.Since(start),
	}, nil
}

// Stream yields the final ordered hit list one at a time, honoring
// cancellation between yields.
func (s *Searcher) Stream(ctx context.Context, query string, opts domain.SearchOptions, rerankerName string) (<-chan domain.SearchHit, error) {
	result, err := s.Search(ctx, query, opts, rerankerName)
	if err != nil {
		return nil, err
	}
	out := make(chan domain.SearchHit)
	go func() {
		defer close(out)
		for _, h := range result.Hits {
			select {
			case <-ctx.Done():
				return
			case out <- h:
			}
		}
	}()
	return out, nil
}

func (s *Searcher) vectorSearch(ctx context.Context, query string, opts domain.SearchOptions) ([]domain.SearchHit, error) {
	embedding, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	return s.store.VectorSearch(ctx, opts, embedding)
}

func (s *Searcher) lexicalSearch(ctx context.Context, query string, opts domain.SearchOptions) ([]domain.SearchHit, error) {
	sanitized := sanitizeLexicalQuery(query)
	if sanitized == "" {
		return nil, nil
	}
	hits, err := s.store.LexicalSearch(ctx, opts, sanitized)
	if err != nil {
		return nil, err
	}
	normalizeInPlace(hits)
	return hits, nil
}

func tagSource(hits []domain.SearchHit, source string) {
	for i := range hits {
		if hits[i].Metadata == nil {
			hits[i].Metadata = map[string]string{}
		}
		hits[i].Metadata["source"] = source
	}
}

// sanitizeLexicalQuery keeps alphanumerics, whitespace, '-', '_' and
// collapses runs of whitespace, step 4.
func sanitizeLexicalQuery(q string) string {
	var b strings.Builder
	for _, r := range q {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) || r == '-' || r == '_' {
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// normalizeInPlace min-max normalizes raw ts_rank scores to [0,1]; an
// all-equal set maps to 1.0.
func normalizeInPlace(hits []domain.SearchHit) {
	if len(hits) == 0 {
		return
	}
	min, max := hits[0].Score, hits[0].Score
	for _, h := range hits {
		if h.Score < min {
			min = h.Score
		}
		if h.Score > max {
			max = h.Score
		}
	}
	for i := range hits {
		if max == min {
			hits[i].Score = 1.0
			continue
		}
		hits[i].Score = (hits[i].Score - min) / (max - min)
	}
}

func (s *Searcher) enrichMetadata(ctx context.Context, hits []domain.SearchHit) {
	if s.docs == nil {
		return
	}
	cache := make(map[string]domain.Document)
	for i := range hits {
		doc, ok := cache[hits[i].DocumentID]
		if !ok {
			fetched, err := s.docs.GetDocument(ctx, hits[i].DocumentID)
			if err != nil {
				continue
			}
			doc = fetched
			cache[hits[i].DocumentID] = doc
		}
		if hits[i].Metadata == nil {
			hits[i].Metadata = map[string]string{}
		}
		hits[i].Metadata["documentId"] = doc.ID
		hits[i].Metadata["containerId"] = doc.ContainerID
		hits[i].Metadata["fileName"] = doc.FileName
		hits[i].Metadata["contentType"] = doc.ContentType
		hits[i].Metadata["content"] = hits[i].Content
	}
}
