// Package catalog implements the container/folder/document CRUD surface:
// the ingestion pipeline and reindex controller need something to ingest
// into, so this wraps the relational store's container/folder/document
// methods with cascade-delete semantics and keeps the content store's
// blobs in sync with deleted rows.
package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/fabfab/knowledgebase/internal/domain"
)

// Store is the subset of store.Store the catalog service needs.
type Store interface {
	CreateContainer(ctx context.Context, name, description string) (domain.Container, error)
	GetContainer(ctx context.Context, id string) (domain.Container, error)
	ListContainers(ctx context.Context) ([]domain.Container, error)
	DeleteContainer(ctx context.Context, id string) error

	CreateFolder(ctx context.Context, containerID, path string) (domain.Folder, error)
	ListFolders(ctx context.Context, containerID string) ([]domain.Folder, error)
	DeleteFolderCascade(ctx context.Context, containerID, path string) error
	FolderExists(ctx context.Context, containerID, path string) (bool, error)

	ListDocuments(ctx context.Context, containerID, pathPrefix string) ([]domain.Document, error)
	GetDocument(ctx context.Context, id string) (domain.Document, error)
	DeleteDocument(ctx context.Context, id string) error
}

// ContentStore is the subset of contentstore.Store the catalog service
// needs to keep blobs in sync with deleted rows.
type ContentStore interface {
	Delete(ctx context.Context, path string) error
}

// Service is the container/folder/document CRUD surface.
type Service struct {
	store   Store
	content ContentStore
}

// New constructs a Service.
func New(store Store, content ContentStore) *Service {
	return &Service{store: store, content: content}
}

// CreateContainer creates a new container, enforcing the naming
// invariant, and bootstraps its root folder.
func (s *Service) CreateContainer(ctx context.Context, name, description string) (domain.Container, error) {
	c, err := s.store.CreateContainer(ctx, name, description)
	if err != nil {
		return domain.Container{}, err
	}
	if _, err := s.store.CreateFolder(ctx, c.ID, "/"); err != nil {
		return domain.Container{}, fmt.Errorf("bootstrap root folder: %w", err)
	}
	return c, nil
}

// GetContainer fetches a container by id.
func (s *Service) GetContainer(ctx context.Context, id string) (domain.Container, error) {
	return s.store.GetContainer(ctx, id)
}

// ListContainers returns every container.
func (s *Service) ListContainers(ctx context.Context) ([]domain.Container, error) {
	return s.store.ListContainers(ctx)
}

// DeleteContainer removes a container, refusing (store.ErrNotEmpty) if it
// still owns documents or non-root folders.
func (s *Service) DeleteContainer(ctx context.Context, id string) error {
	return s.store.DeleteContainer(ctx, id)
}

// CreateFolder creates a folder path inside a container, normalizing it to
// the leading/trailing "/" convention.
func (s *Service) CreateFolder(ctx context.Context, containerID, path string) (domain.Folder, error) {
	return s.store.CreateFolder(ctx, containerID, path)
}

// ListFolders returns every folder in a container.
func (s *Service) ListFolders(ctx context.Context, containerID string) ([]domain.Folder, error) {
	return s.store.ListFolders(ctx, containerID)
}

// DeleteFolder cascades: every document under the folder's path prefix and
// every descendant folder row is removed from the relational store, then
// each removed document's blob is deleted from the content store.
// Blob-deletion failures are collected and returned joined; they never
// undo the row-level cascade, since an orphaned blob is recoverable (a
// later unused-blob sweep) while a half-cascaded row set is not.
func (s *Service) DeleteFolder(ctx context.Context, containerID, path string) error {
	docs, err := s.store.ListDocuments(ctx, containerID, domain.NormalizeFolderPath(path))
	if err != nil {
		return fmt.Errorf("list documents under folder: %w", err)
	}

	if err := s.store.DeleteFolderCascade(ctx, containerID, path); err != nil {
		return fmt.Errorf("delete folder cascade: %w", err)
	}

	var blobErrs []error
	for _, doc := range docs {
		if err := s.content.Delete(ctx, doc.Path); err != nil {
			blobErrs = append(blobErrs, fmt.Errorf("delete blob %s: %w", doc.Path, err))
		}
	}
	return errors.Join(blobErrs...)
}

// ListDocuments returns every document in a container, optionally narrowed
// to a folder path prefix.
func (s *Service) ListDocuments(ctx context.Context, containerID, pathPrefix string) ([]domain.Document, error) {
	return s.store.ListDocuments(ctx, containerID, pathPrefix)
}

// GetDocument fetches a document by id.
func (s *Service) GetDocument(ctx context.Context, id string) (domain.Document, error) {
	return s.store.GetDocument(ctx, id)
}

// DeleteDocument removes a document row (cascading to its chunks and
// vectors) and its backing blob.
func (s *Service) DeleteDocument(ctx context.Context, id string) error {
	doc, err := s.store.GetDocument(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteDocument(ctx, id); err != nil {
		return err
	}
	if err := s.content.Delete(ctx, doc.Path); err != nil {
		return fmt.Errorf("delete blob %s: %w", doc.Path, err)
	}
	return nil
}
