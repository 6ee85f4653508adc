package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/fabfab/knowledgebase/internal/domain"
)

func encodeMetadata(m map[string]string) ([]byte, error) {
	if m == nil {
		m = map[string]string{}
	}
	return json.Marshal(m)
}

func decodeMetadata(raw []byte) (map[string]string, error) {
	if len(raw) == 0 {
		return map[string]string{}, nil
	}
	var m map[string]string
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return m, nil
}

// UpsertDocument creates or overwrites a document row. When id is empty a
// new UUID is generated server-side. If the row already exists, it
// overwrites containerId, fileName, contentType, path, contentHash, size,
// metadata, and status.
func (s *Store) UpsertDocument(ctx context.Context, id string, doc domain.Document) (domain.Document, error) {
	metaJSON, err := encodeMetadata(doc.Metadata)
	if err != nil {
		return domain.Document{}, err
	}

	var row documentRow
	var query string
	var args []any

	if id == "" {
		query = `
			INSERT INTO documents (container_id, file_name, content_type, path, content_hash, size_bytes, status, metadata)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (container_id, path) DO UPDATE SET
				file_name = EXCLUDED.file_name,
				content_type = EXCLUDED.content_type,
				content_hash = EXCLUDED.content_hash,
				size_bytes = EXCLUDED.size_bytes,
				status = EXCLUDED.status,
				metadata = EXCLUDED.metadata
			RETURNING ` + documentColumns
		args = []any{doc.ContainerID, doc.FileName, doc.ContentType, doc.Path, doc.ContentHash, doc.SizeBytes, string(doc.Status), metaJSON}
	} else {
		query = `
			INSERT INTO documents (id, container_id, file_name, content_type, path, content_hash, size_bytes, status, metadata)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (id) DO UPDATE SET
				container_id = EXCLUDED.container_id,
				file_name = EXCLUDED.file_name,
				content_type = EXCLUDED.content_type,
				path = EXCLUDED.path,
				content_hash = EXCLUDED.content_hash,
				size_bytes = EXCLUDED.size_bytes,
				status = EXCLUDED.status,
				metadata = EXCLUDED.metadata
			RETURNING ` + documentColumns
		args = []any{id, doc.ContainerID, doc.FileName, doc.ContentType, doc.Path, doc.ContentHash, doc.SizeBytes, string(doc.Status), metaJSON}
	}

	if err := s.pool.QueryRow(ctx, query, args...).Scan(row.scanTargets()...); err != nil {
		return domain.Document{}, fmt.Errorf("upsert document: %w", err)
	}
	return row.toDomain()
}

const documentColumns = `id, container_id, file_name, content_type, path, content_hash, size_bytes, chunk_count, status, error_message, created_at, last_indexed_at, metadata`

type documentRow struct {
	id            string
	containerID   string
	fileName      string
	contentType   string
	path          string
	contentHash   string
	sizeBytes     int64
	chunkCount    int
	status        string
	errorMessage  string
	createdAt     time.Time
	lastIndexedAt *time.Time
	metadata      []byte
}

func (r *documentRow) scanTargets() []any {
	return []any{
		&r.id, &r.containerID, &r.fileName, &r.contentType, &r.path, &r.contentHash,
		&r.sizeBytes, &r.chunkCount, &r.status, &r.errorMessage, &r.createdAt, &r.lastIndexedAt, &r.metadata,
	}
}

func (r *documentRow) toDomain() (domain.Document, error) {
	meta, err := decodeMetadata(r.metadata)
	if err != nil {
		return domain.Document{}, err
	}
	return domain.Document{
		ID:            r.id,
		ContainerID:   r.containerID,
		FileName:      r.fileName,
		ContentType:   r.contentType,
		Path:          r.path,
		ContentHash:   r.contentHash,
		SizeBytes:     r.sizeBytes,
		ChunkCount:    r.chunkCount,
		Status:        domain.DocumentStatus(r.status),
		ErrorMessage:  r.errorMessage,
		CreatedAt:     r.createdAt,
		LastIndexedAt: r.lastIndexedAt,
		Metadata:      meta,
	}, nil
}

// GetDocument fetches a document by id.
func (s *Store) GetDocument(ctx context.Context, id string) (domain.Document, error) {
	var row documentRow
	err := s.pool.QueryRow(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = $1`, id).Scan(row.scanTargets()...)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Document{}, ErrNotFound
		}
		return domain.Document{}, fmt.Errorf("get document: %w", err)
	}
	return row.toDomain()
}

// GetDocumentByPath fetches a document by its (containerId, path) key.
func (s *Store) GetDocumentByPath(ctx context.Context, containerID, path string) (domain.Document, error) {
	var row documentRow
	err := s.pool.QueryRow(ctx, `SELECT `+documentColumns+` FROM documents WHERE container_id = $1 AND path = $2`, containerID, path).Scan(row.scanTargets()...)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Document{}, ErrNotFound
		}
		return domain.Document{}, fmt.Errorf("get document by path: %w", err)
	}
	return row.toDomain()
}

// ListDocuments returns every document in a container, optionally filtered
// by a path prefix.
func (s *Store) ListDocuments(ctx context.Context, containerID, pathPrefix string) ([]domain.Document, error) {
	var rows pgx.Rows
	var err error
	if pathPrefix != "" {
		rows, err = s.pool.Query(ctx, `SELECT `+documentColumns+` FROM documents WHERE container_id = $1 AND path LIKE $2 ORDER BY path`, containerID, pathPrefix+"%")
	} else {
		rows, err = s.pool.Query(ctx, `SELECT `+documentColumns+` FROM documents WHERE container_id = $1 ORDER BY path`, containerID)
	}
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var out []domain.Document
	for rows.Next() {
		var row documentRow
		if err := rows.Scan(row.scanTargets()...); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		d, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// UpdateDocumentStatus transitions a document's status and error message.
func (s *Store) UpdateDocumentStatus(ctx context.Context, id string, status domain.DocumentStatus, errMsg string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE documents SET status = $1, error_message = $2 WHERE id = $3`, string(status), errMsg, id)
	if err != nil {
		return fmt.Errorf("update document status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkDocumentReady finalizes a successful ingest: sets chunk_count,
// status=Ready, and last_indexed_at=now().
func (s *Store) MarkDocumentReady(ctx context.Context, id string, chunkCount int) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE documents SET chunk_count = $1, status = 'Ready', error_message = '', last_indexed_at = NOW() WHERE id = $2
	`, chunkCount, id)
	if err != nil {
		return fmt.Errorf("mark document ready: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateDocumentMetadata replaces a document's metadata map (used to
// refresh the IndexedWith:* fingerprint keys).
func (s *Store) UpdateDocumentMetadata(ctx context.Context, id string, metadata map[string]string) error {
	metaJSON, err := encodeMetadata(metadata)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `UPDATE documents SET metadata = $1 WHERE id = $2`, metaJSON, id)
	if err != nil {
		return fmt.Errorf("update document metadata: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ResetDocumentForReindex clears a document's chunk state ahead of a
// requeue: status=Pending,
// chunk_count=0. Chunk/vector deletion happens via DeleteChunksForDocument.
func (s *Store) ResetDocumentForReindex(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE documents SET status = 'Pending', chunk_count = 0 WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("reset document for reindex: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteDocument removes a document row; cascades to its chunks and
// chunk_vectors.
func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
