package store

import (
	"context"
	"fmt"

	"github.com/fabfab/knowledgebase/internal/domain"
)

// ReplaceChunks deletes every existing chunk for a document and inserts
// the given set in one transaction: persisting a document's chunk set is
// all-or-nothing, so a reindex never leaves a document with a mix of old
// and new chunks.
func (s *Store) ReplaceChunks(ctx context.Context, documentID string, chunks []domain.Chunk) ([]domain.Chunk, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM chunks WHERE document_id = $1`, documentID); err != nil {
		return nil, fmt.Errorf("delete existing chunks: %w", err)
	}

	out := make([]domain.Chunk, 0, len(chunks))
	for _, c := range chunks {
		metaJSON, err := encodeMetadata(c.Metadata)
		if err != nil {
			return nil, err
		}
		var id string
		err = tx.QueryRow(ctx, `
			INSERT INTO chunks (document_id, container_id, content, chunk_index, token_count, start_offset, end_offset, metadata)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING id
		`, documentID, c.ContainerID, c.Content, c.ChunkIndex, c.TokenCount, c.StartOffset, c.EndOffset, metaJSON).Scan(&id)
		if err != nil {
			return nil, fmt.Errorf("insert chunk %d: %w", c.ChunkIndex, err)
		}
		c.ID = id
		c.DocumentID = documentID
		out = append(out, c)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit chunk replacement: %w", err)
	}
	return out, nil
}

// ListChunksForDocument returns every chunk belonging to a document, ordered
// by chunk index.
func (s *Store) ListChunksForDocument(ctx context.Context, documentID string) ([]domain.Chunk, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, document_id, container_id, content, chunk_index, token_count, start_offset, end_offset, metadata
		FROM chunks WHERE document_id = $1 ORDER BY chunk_index
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}
	defer rows.Close()

	var out []domain.Chunk
	for rows.Next() {
		var c domain.Chunk
		var metaRaw []byte
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.ContainerID, &c.Content, &c.ChunkIndex, &c.TokenCount, &c.StartOffset, &c.EndOffset, &metaRaw); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		meta, err := decodeMetadata(metaRaw)
		if err != nil {
			return nil, err
		}
		c.Metadata = meta
		out = append(out, c)
	}
	return out, rows.Err()
}

// DeleteChunksForDocument removes every chunk (and, via cascade, every
// chunk_vectors row) belonging to a document.
func (s *Store) DeleteChunksForDocument(ctx context.Context, documentID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM chunks WHERE document_id = $1`, documentID); err != nil {
		return fmt.Errorf("delete chunks for document: %w", err)
	}
	return nil
}
