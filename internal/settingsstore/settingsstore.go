// Package settingsstore persists the five live-mutable settings
// categories of as JSON rows in the relational store, layering
// durable mutation on top of the file-watched settings.Watcher snapshot:
// a category update is written to the database and immediately republished
// to every settings.Watcher reader, without waiting for the backing YAML
// file to change.
package settingsstore

import (
	"context"
	"errors"

	"github.com/fabfab/knowledgebase/internal/settings"
)

// Persister is the subset of store.Store the service needs.
type Persister interface {
	SaveSettingsCategory(ctx context.Context, category string, data any) error
	LoadSettingsCategory(ctx context.Context, category string, dest any) error
}

// ErrCategoryNotPersisted mirrors store.ErrNotFound without importing the
// store package, letting Bootstrap fall back to the file-based defaults
// for a category that has never been saved.
var ErrCategoryNotPersisted = errors.New("settingsstore: category not persisted")

const (
	categoryEmbedding = "Embedding"
	categoryChunking  = "Chunking"
	categorySearch    = "Search"
	categoryUpload    = "Upload"
	categoryStorage   = "Storage"
)

// Service coordinates the live watcher with durable per-category
// persistence.
type Service struct {
	watcher   *settings.Watcher
	persister Persister
}

// New constructs a Service.
func New(watcher *settings.Watcher, persister Persister) *Service {
	return &Service{watcher: watcher, persister: persister}
}

// Bootstrap overlays any previously persisted category onto the watcher's
// file-derived snapshot, so a database-backed mutation from a prior run
// outlives a restart. Categories never persisted keep their file/default
// values.
func (s *Service) Bootstrap(ctx context.Context) error {
	snap := *s.watcher.Snapshot()

	if err := s.load(ctx, categoryEmbedding, &snap.Embedding); err != nil {
		return err
	}
	if err := s.load(ctx, categoryChunking, &snap.Chunking); err != nil {
		return err
	}
	if err := s.load(ctx, categorySearch, &snap.Search); err != nil {
		return err
	}
	if err := s.load(ctx, categoryUpload, &snap.Upload); err != nil {
		return err
	}
	if err := s.load(ctx, categoryStorage, &snap.Storage); err != nil {
		return err
	}

	s.watcher.Replace(&snap)
	return nil
}

func (s *Service) load(ctx context.Context, category string, dest any) error {
	err := s.persister.LoadSettingsCategory(ctx, category, dest)
	if err != nil {
		if errors.Is(err, ErrCategoryNotPersisted) || isNotFound(err) {
			return nil
		}
		return err
	}
	return nil
}

// isNotFound matches store.ErrNotFound by message rather than importing
// the store package, keeping settingsstore usable against any Persister
// implementation (not just *store.Store).
func isNotFound(err error) bool {
	return err != nil && err.Error() == "store: not found"
}

// UpdateEmbedding persists and republishes a new Embedding settings category.
func (s *Service) UpdateEmbedding(ctx context.Context, next settings.EmbeddingSettings) error {
	if err := s.persister.SaveSettingsCategory(ctx, categoryEmbedding, next); err != nil {
		return err
	}
	snap := *s.watcher.Snapshot()
	snap.Embedding = next
	s.watcher.Replace(&snap)
	return nil
}

// UpdateChunking persists and republishes a new Chunking settings category.
func (s *Service) UpdateChunking(ctx context.Context, next settings.ChunkingSettings) error {
	if err := s.persister.SaveSettingsCategory(ctx, categoryChunking, next); err != nil {
		return err
	}
	snap := *s.watcher.Snapshot()
	snap.Chunking = next
	s.watcher.Replace(&snap)
	return nil
}

// UpdateSearch persists and republishes a new Search settings category.
func (s *Service) UpdateSearch(ctx context.Context, next settings.SearchSettings) error {
	if err := s.persister.SaveSettingsCategory(ctx, categorySearch, next); err != nil {
		return err
	}
	snap := *s.watcher.Snapshot()
	snap.Search = next
	s.watcher.Replace(&snap)
	return nil
}

// UpdateUpload persists and republishes a new Upload settings category.
func (s *Service) UpdateUpload(ctx context.Context, next settings.UploadSettings) error {
	if err := s.persister.SaveSettingsCategory(ctx, categoryUpload, next); err != nil {
		return err
	}
	snap := *s.watcher.Snapshot()
	snap.Upload = next
	s.watcher.Replace(&snap)
	return nil
}

// UpdateStorage persists and republishes a new Storage settings category.
func (s *Service) UpdateStorage(ctx context.Context, next settings.StorageSettings) error {
	if err := s.persister.SaveSettingsCategory(ctx, categoryStorage, next); err != nil {
		return err
	}
	snap := *s.watcher.Snapshot()
	snap.Storage = next
	s.watcher.Replace(&snap)
	return nil
}
