package store

import (
	"context"
	"fmt"

	"github.com/fabfab/knowledgebase/internal/domain"
)

// CreateFolder inserts a folder at the normalized path, or returns the
// existing one if it is already present ((containerId, path) is unique).
func (s *Store) CreateFolder(ctx context.Context, containerID, path string) (domain.Folder, error) {
	normalized := domain.NormalizeFolderPath(path)

	var f domain.Folder
	err := s.pool.QueryRow(ctx, `
		INSERT INTO folders (container_id, path)
		VALUES ($1, $2)
		ON CONFLICT (container_id, path) DO UPDATE SET path = EXCLUDED.path
		RETURNING id, container_id, path, created_at
	`, containerID, normalized).Scan(&f.ID, &f.ContainerID, &f.Path, &f.CreatedAt)
	if err != nil {
		return domain.Folder{}, fmt.Errorf("insert folder: %w", err)
	}
	return f, nil
}

// ListFolders returns every folder in a container.
func (s *Store) ListFolders(ctx context.Context, containerID string) ([]domain.Folder, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, container_id, path, created_at FROM folders WHERE container_id = $1 ORDER BY path
	`, containerID)
	if err != nil {
		return nil, fmt.Errorf("list folders: %w", err)
	}
	defer rows.Close()

	var out []domain.Folder
	for rows.Next() {
		var f domain.Folder
		if err := rows.Scan(&f.ID, &f.ContainerID, &f.Path, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan folder: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// DeleteFolderCascade removes the folder and every descendant folder and
// document under its path prefix.
func (s *Store) DeleteFolderCascade(ctx context.Context, containerID, path string) error {
	normalized := domain.NormalizeFolderPath(path)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		DELETE FROM documents WHERE container_id = $1 AND path LIKE $2
	`, containerID, normalized+"%"); err != nil {
		return fmt.Errorf("delete documents under folder: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		DELETE FROM folders WHERE container_id = $1 AND (path = $2 OR path LIKE $3)
	`, containerID, normalized, normalized+"%"); err != nil {
		return fmt.Errorf("delete folders under prefix: %w", err)
	}

	return tx.Commit(ctx)
}

// FolderExists reports whether a folder row exists for the given path.
func (s *Store) FolderExists(ctx context.Context, containerID, path string) (bool, error) {
	normalized := domain.NormalizeFolderPath(path)
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM folders WHERE container_id = $1 AND path = $2)
	`, containerID, normalized).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check folder exists: %w", err)
	}
	return exists, nil
}
