package store

import (
	"context"
	"fmt"

	"github.com/pgvector/pgvector-go"

	"github.com/fabfab/knowledgebase/internal/domain"
)

// UpsertChunkVectors writes one embedding per chunk. Every chunk must
// already exist (ReplaceChunks runs first in the ingestion pipeline); a
// vector whose chunk row is missing violates the chunk_id foreign key, and
// the whole batch is rolled back with an error.
func (s *Store) UpsertChunkVectors(ctx context.Context, vectors []domain.ChunkVector) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, v := range vectors {
		if len(v.Embedding) != s.dimension {
			return fmt.Errorf("vector dimension mismatch for chunk %s: expected %d got %d", v.ChunkID, s.dimension, len(v.Embedding))
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO chunk_vectors (chunk_id, document_id, container_id, embedding, model_id)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (chunk_id) DO UPDATE SET
				embedding = EXCLUDED.embedding,
				model_id = EXCLUDED.model_id
		`, v.ChunkID, v.DocumentID, v.ContainerID, pgvector.NewVector(v.Embedding), v.ModelID); err != nil {
			return fmt.Errorf("upsert chunk vector %s: %w", v.ChunkID, err)
		}
	}

	return tx.Commit(ctx)
}

// VectorSearch returns the chunks whose embeddings are closest to the query
// vector by cosine distance, restricted to one container and optionally one
// document or path prefix.
func (s *Store) VectorSearch(ctx context.Context, opts domain.SearchOptions, embedding []float32) ([]domain.SearchHit, error) {
	if len(embedding) != s.dimension {
		return nil, fmt.Errorf("query embedding dimension mismatch: expected %d got %d", s.dimension, len(embedding))
	}

	query := `
		SELECT c.id, c.document_id, c.content, 1 - (cv.embedding <=> $1) AS score, c.metadata
		FROM chunk_vectors cv
		JOIN chunks c ON c.id = cv.chunk_id
		WHERE cv.container_id = $2`
	args := []any{pgvector.NewVector(embedding), opts.ContainerID}
	query, args = appendSearchFilters(query, args, opts)
	query += fmt.Sprintf(" ORDER BY cv.embedding <=> $1 LIMIT $%d", len(args)+1)
	args = append(args, searchLimit(opts))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	defer rows.Close()
	return scanSearchHits(rows)
}

// LexicalSearch returns the chunks whose tsvector best matches the query
// text by ts_rank, restricted the same way as VectorSearch.
func (s *Store) LexicalSearch(ctx context.Context, opts domain.SearchOptions, queryText string) ([]domain.SearchHit, error) {
	query := `
		SELECT c.id, c.document_id, c.content,
			ts_rank(c.search_vector, plainto_tsquery('english', $1)) AS score, c.metadata
		FROM chunks c
		WHERE c.container_id = $2
			AND c.search_vector @@ plainto_tsquery('english', $1)`
	args := []any{queryText, opts.ContainerID}
	query, args = appendSearchFilters(query, args, opts)
	query += fmt.Sprintf(" ORDER BY score DESC LIMIT $%d", len(args)+1)
	args = append(args, searchLimit(opts))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("lexical search: %w", err)
	}
	defer rows.Close()
	return scanSearchHits(rows)
}

func appendSearchFilters(query string, args []any, opts domain.SearchOptions) (string, []any) {
	if opts.DocumentID != "" {
		args = append(args, opts.DocumentID)
		query += fmt.Sprintf(" AND c.document_id = $%d", len(args))
	}
	if opts.PathPrefix != "" {
		args = append(args, opts.PathPrefix+"%")
		query += fmt.Sprintf(" AND EXISTS (SELECT 1 FROM documents d WHERE d.id = c.document_id AND d.path LIKE $%d)", len(args))
	}
	return query, args
}

func searchLimit(opts domain.SearchOptions) int {
	if opts.TopK > 0 {
		return opts.TopK
	}
	return 10
}

func scanSearchHits(rows interface {
	Next() bool
	Scan(...any) error
	Err() error
}) ([]domain.SearchHit, error) {
	var out []domain.SearchHit
	for rows.Next() {
		var hit domain.SearchHit
		var metaRaw []byte
		if err := rows.Scan(&hit.ChunkID, &hit.DocumentID, &hit.Content, &hit.Score, &metaRaw); err != nil {
			return nil, fmt.Errorf("scan search hit: %w", err)
		}
		meta, err := decodeMetadata(metaRaw)
		if err != nil {
			return nil, err
		}
		hit.Metadata = meta
		out = append(out, hit)
	}
	return out, rows.Err()
}
