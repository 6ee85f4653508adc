package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/fabfab/knowledgebase/internal/domain"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("store: not found")

// ErrNotEmpty is returned when a container deletion is refused because it
// still owns documents or non-root folders.
var ErrNotEmpty = errors.New("store: container is not empty")

// CreateContainer inserts a new container after validating its name.
func (s *Store) CreateContainer(ctx context.Context, name, description string) (domain.Container, error) {
	if err := domain.ValidateContainerName(name); err != nil {
		return domain.Container{}, err
	}
	lower := strings.ToLower(name)

	var c domain.Container
	err := s.pool.QueryRow(ctx, `
		INSERT INTO containers (name, description)
		VALUES ($1, $2)
		RETURNING id, name, description, created_at, updated_at
	`, lower, description).Scan(&c.ID, &c.Name, &c.Description, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return domain.Container{}, fmt.Errorf("insert container: %w", err)
	}
	return c, nil
}

// GetContainer fetches a container by id.
func (s *Store) GetContainer(ctx context.Context, id string) (domain.Container, error) {
	var c domain.Container
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, description, created_at, updated_at FROM containers WHERE id = $1
	`, id).Scan(&c.ID, &c.Name, &c.Description, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Container{}, ErrNotFound
		}
		return domain.Container{}, fmt.Errorf("get container: %w", err)
	}
	return c, nil
}

// ListContainers returns every container ordered by name.
func (s *Store) ListContainers(ctx context.Context) ([]domain.Container, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, description, created_at, updated_at FROM containers ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}
	defer rows.Close()

	var out []domain.Container
	for rows.Next() {
		var c domain.Container
		if err := rows.Scan(&c.ID, &c.Name, &c.Description, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan container: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// DeleteContainer removes a container, refusing if it still owns any
// document or non-root folder.
func (s *Store) DeleteContainer(ctx context.Context, id string) error {
	var docCount, folderCount int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM documents WHERE container_id = $1`, id).Scan(&docCount); err != nil {
		return fmt.Errorf("count documents: %w", err)
	}
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM folders WHERE container_id = $1 AND path <> '/'`, id).Scan(&folderCount); err != nil {
		return fmt.Errorf("count folders: %w", err)
	}
	if docCount > 0 || folderCount > 0 {
		return ErrNotEmpty
	}

	tag, err := s.pool.Exec(ctx, `DELETE FROM containers WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete container: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
