// Package store implements the relational+vector store on top of
// Postgres + pgvector: CRUD over containers, folders, documents, chunks,
// and chunk vectors, a cosine-distance ANN query, and a tsvector/GIN
// lexical index, with cascade deletes and unique constraints.
package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is the Postgres-backed relational+vector store.
type Store struct {
	pool      *pgxpool.Pool
	dimension int
}

// New connects to Postgres and ensures the schema exists for the given
// embedding dimension. Changing the embedding dimension later requires a
// schema migration; the reindex controller is responsible for treating a
// dimension change as an invalidation of all vectors, not this
// constructor.
func New(ctx context.Context, dsn string, maxConns int, dimension int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = int32(maxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	s := &Store{pool: pool, dimension: dimension}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Dimension reports the vector width the chunk_vectors table was created
// with.
func (s *Store) Dimension() int {
	return s.dimension
}

func (s *Store) ensureSchema(ctx context.Context) error {
	const statements = `
CREATE EXTENSION IF NOT EXISTS vector;
CREATE EXTENSION IF NOT EXISTS pgcrypto;

CREATE TABLE IF NOT EXISTS containers (
	id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	name TEXT NOT NULL UNIQUE,
	description TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS folders (
	id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	container_id UUID NOT NULL REFERENCES containers(id) ON DELETE CASCADE,
	path TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (container_id, path)
);

CREATE TABLE IF NOT EXISTS documents (
	id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	container_id UUID NOT NULL REFERENCES containers(id) ON DELETE CASCADE,
	file_name TEXT NOT NULL,
	content_type TEXT NOT NULL DEFAULT '',
	path TEXT NOT NULL,
	content_hash TEXT NOT NULL DEFAULT '',
	size_bytes BIGINT NOT NULL DEFAULT 0,
	chunk_count INT NOT NULL DEFAULT 0,
	status TEXT NOT NULL DEFAULT 'Pending',
	error_message TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	last_indexed_at TIMESTAMPTZ,
	metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
	UNIQUE (container_id, path)
);

CREATE TABLE IF NOT EXISTS chunks (
	id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	document_id UUID NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	container_id UUID NOT NULL,
	content TEXT NOT NULL,
	chunk_index INT NOT NULL,
	token_count INT NOT NULL DEFAULT 0,
	start_offset INT NOT NULL DEFAULT 0,
	end_offset INT NOT NULL DEFAULT 0,
	metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
	search_vector TSVECTOR GENERATED ALWAYS AS (to_tsvector('english', content)) STORED
);

CREATE INDEX IF NOT EXISTS chunks_document_idx ON chunks (document_id);
CREATE INDEX IF NOT EXISTS chunks_container_idx ON chunks (container_id);
CREATE INDEX IF NOT EXISTS chunks_search_vector_idx ON chunks USING GIN (search_vector);

CREATE TABLE IF NOT EXISTS chunk_vectors (
	chunk_id UUID PRIMARY KEY REFERENCES chunks(id) ON DELETE CASCADE,
	document_id UUID NOT NULL,
	container_id UUID NOT NULL,
	embedding VECTOR(%[1]d) NOT NULL,
	model_id TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS chunk_vectors_container_idx ON chunk_vectors (container_id);

DO $$
BEGIN
	IF NOT EXISTS (
		SELECT 1 FROM pg_indexes
		WHERE schemaname = current_schema() AND indexname = 'chunk_vectors_embedding_idx'
	) THEN
		EXECUTE 'CREATE INDEX chunk_vectors_embedding_idx ON chunk_vectors USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100);';
	END IF;
END
$$;

CREATE TABLE IF NOT EXISTS settings (
	category TEXT PRIMARY KEY,
	data JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

	_, err := s.pool.Exec(ctx, fmt.Sprintf(statements, s.dimension))
	if err != nil && strings.Contains(err.Error(), "ivfflat") {
		// ivfflat needs enough rows to train; ignore and let it build later.
		err = nil
	}
	return err
}
