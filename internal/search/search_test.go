package search

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabfab/knowledgebase/internal/domain"
	"github.com/fabfab/knowledgebase/internal/rerank"
)

type fakeStore struct {
	vectorHits  []domain.SearchHit
	lexicalHits []domain.SearchHit
	vectorErr   error
	lexicalErr  error
}

func (f *fakeStore) VectorSearch(_ context.Context, _ domain.SearchOptions, _ []float32) ([]domain.SearchHit, error) {
	if f.vectorErr != nil {
		return nil, f.vectorErr
	}
	return f.vectorHits, nil
}

func (f *fakeStore) LexicalSearch(_ context.Context, _ domain.SearchOptions, _ string) ([]domain.SearchHit, error) {
	if f.lexicalErr != nil {
		return nil, f.lexicalErr
	}
	return f.lexicalHits, nil
}

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	return []float32{0.1, 0.2}, nil
}

type fakeDocs struct {
	docs map[string]domain.Document
}

func (f *fakeDocs) GetDocument(_ context.Context, id string) (domain.Document, error) {
	return f.docs[id], nil
}

type fakeRegistry struct {
	reranker rerank.Reranker
}

func (f *fakeRegistry) Get(_ string) rerank.Reranker {
	return f.reranker
}

func identityRegistry() *fakeRegistry {
	return &fakeRegistry{reranker: rerank.NewRRF(60)}
}

func TestSearchBlankQueryReturnsEmpty(t *testing.T) {
	s := New(&fakeStore{}, fakeEmbedder{}, nil, identityRegistry())
	result, err := s.Search(context.Background(), "   ", domain.SearchOptions{ContainerID: "c1"}, "None")
	require.NoError(t, err)
	assert.Empty(t, result.Hits)
	assert.Equal(t, 0, result.TotalMatches)
}

func TestSearchKeywordModeSkipsVector(t *testing.T) {
	store := &fakeStore{
		lexicalHits: []domain.SearchHit{{ChunkID: "A", DocumentID: "doc-1", Score: 0.5}},
		vectorErr:   assertNotCalledErr{},
	}
	s := New(store, fakeEmbedder{}, nil, identityRegistry())
	result, err := s.Search(context.Background(), "quantum", domain.SearchOptions{Mode: domain.SearchKeyword, ContainerID: "c1", TopK: 5}, "None")
	require.NoError(t, err)
	require.Len(t, result.Hits, 1)
	assert.Equal(t, "keyword", result.Hits[0].Metadata["source"])
}

type assertNotCalledErr struct{}

func (assertNotCalledErr) Error() string { return "vector search should not have been called" }

func TestSearchHybridMergesBothSources(t *testing.T) {
	store := &fakeStore{
		vectorHits:  []domain.SearchHit{{ChunkID: "A", DocumentID: "doc-1", Score: 0.9}},
		lexicalHits: []domain.SearchHit{{ChunkID: "B", DocumentID: "doc-1", Score: 0.8}},
	}
	s := New(store, fakeEmbedder{}, nil, identityRegistry())
	result, err := s.Search(context.Background(), "quantum entanglement", domain.SearchOptions{ContainerID: "c1", TopK: 5}, "RRF")
	require.NoError(t, err)
	require.Len(t, result.Hits, 2)
}

func TestSearchAppliesMinScoreAfterReranking(t *testing.T) {
	store := &fakeStore{
		vectorHits:  []domain.SearchHit{{ChunkID: "A", DocumentID: "doc-1", Score: 0.9}},
		lexicalHits: []domain.SearchHit{{ChunkID: "B", DocumentID: "doc-1", Score: 0.1}},
	}
	s := New(store, fakeEmbedder{}, nil, identityRegistry())
	result, err := s.Search(context.Background(), "q", domain.SearchOptions{ContainerID: "c1", TopK: 5, MinScore: 0.99}, "None")
	require.NoError(t, err)
	for _, h := range result.Hits {
		assert.GreaterOrEqual(t, h.Score, 0.99)
	}
}

func TestSearchTopKTruncates(t *testing.T) {
	store := &fakeStore{
		vectorHits: []domain.SearchHit{
			{ChunkID: "A", DocumentID: "doc-1", Score: 0.9},
			{ChunkID: "B", DocumentID: "doc-1", Score: 0.8},
			{ChunkID: "C", DocumentID: "doc-1", Score: 0.7},
		},
	}
	s := New(store, fakeEmbedder{}, nil, identityRegistry())
	result, err := s.Search(context.Background(), "q", domain.SearchOptions{Mode: domain.SearchSemantic, ContainerID: "c1", TopK: 2}, "None")
	require.NoError(t, err)
	assert.Len(t, result.Hits, 2)
}

func TestSearchOneSourceFailureStillReturnsOther(t *testing.T) {
	store := &fakeStore{
		vectorHits: []domain.SearchHit{{ChunkID: "A", DocumentID: "doc-1", Score: 0.9}},
		lexicalErr: assertNotCalledErr{},
	}
	s := New(store, fakeEmbedder{}, nil, identityRegistry())
	result, err := s.Search(context.Background(), "q", domain.SearchOptions{ContainerID: "c1", TopK: 5}, "None")
	require.NoError(t, err)
	require.Len(t, result.Hits, 1)
	assert.Equal(t, "A", result.Hits[0].ChunkID)
}

func TestSearchEnrichesMetadataFromDocumentLookup(t *testing.T) {
	store := &fakeStore{
		vectorHits: []domain.SearchHit{{ChunkID: "A", DocumentID: "doc-1", Score: 0.9, Content: "hello"}},
	}
	docs := &fakeDocs{docs: map[string]domain.Document{
		"doc-1": {ID: "doc-1", ContainerID: "c1", FileName: "physics.txt", ContentType: "text/plain"},
	}}
	s := New(store, fakeEmbedder{}, docs, identityRegistry())
	result, err := s.Search(context.Background(), "q", domain.SearchOptions{Mode: domain.SearchSemantic, ContainerID: "c1", TopK: 5}, "None")
	require.NoError(t, err)
	require.Len(t, result.Hits, 1)
	assert.Equal(t, "physics.txt", result.Hits[0].Metadata["fileName"])
	assert.Equal(t, "c1", result.Hits[0].Metadata["containerId"])
}

func TestSanitizeLexicalQuery(t *testing.T) {
	out := sanitizeLexicalQuery("hello,   world!! foo-bar_baz")
	assert.Equal(t, "hello world foo-bar_baz", out)
}
