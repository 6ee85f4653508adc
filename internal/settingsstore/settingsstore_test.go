package settingsstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabfab/knowledgebase/internal/settings"
)

type fakePersister struct {
	saved map[string]any
	data  map[string]settings.EmbeddingSettings
}

func newFakePersister() *fakePersister {
	return &fakePersister{saved: make(map[string]any), data: make(map[string]settings.EmbeddingSettings)}
}

func (f *fakePersister) SaveSettingsCategory(_ context.Context, category string, data any) error {
	f.saved[category] = data
	return nil
}

func (f *fakePersister) LoadSettingsCategory(_ context.Context, category string, dest any) error {
	if category == categoryEmbedding {
		if v, ok := f.data[category]; ok {
			if d, ok := dest.(*settings.EmbeddingSettings); ok {
				*d = v
				return nil
			}
		}
	}
	return ErrCategoryNotPersisted
}

func newTestWatcher(t *testing.T) *settings.Watcher {
	t.Helper()
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("embedding:\n  provider: ollama\n"), 0o644))
	w, err := settings.NewWatcher(path)
	require.NoError(t, err)
	return w
}

func TestBootstrapFallsBackToDefaultsWhenNothingPersisted(t *testing.T) {
	w := newTestWatcher(t)
	before := w.Snapshot().Embedding
	svc := New(w, newFakePersister())

	err := svc.Bootstrap(context.Background())
	require.NoError(t, err)
	assert.Equal(t, before, w.Snapshot().Embedding)
}

func TestBootstrapOverlaysPersistedCategory(t *testing.T) {
	w := newTestWatcher(t)
	persister := newFakePersister()
	persister.data[categoryEmbedding] = settings.EmbeddingSettings{Provider: "openai", Model: "text-embedding-3", Dimensions: 1536}
	svc := New(w, persister)

	err := svc.Bootstrap(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "openai", w.Snapshot().Embedding.Provider)
	assert.Equal(t, 1536, w.Snapshot().Embedding.Dimensions)
}

func TestUpdateChunkingPersistsAndRepublishes(t *testing.T) {
	w := newTestWatcher(t)
	persister := newFakePersister()
	svc := New(w, persister)

	next := settings.ChunkingSettings{Strategy: "Semantic", MaxChunkSize: 256, Overlap: 32, MinChunkSize: 8, SemanticThreshold: 0.7}
	err := svc.UpdateChunking(context.Background(), next)
	require.NoError(t, err)

	assert.Equal(t, next, w.Snapshot().Chunking)
	assert.Equal(t, next, persister.saved[categoryChunking])
}

func TestUpdateSearchNotifiesWatcherSubscribers(t *testing.T) {
	w := newTestWatcher(t)
	svc := New(w, newFakePersister())

	var notified *settings.Snapshot
	w.OnChange(func(snap *settings.Snapshot) { notified = snap })

	next := settings.SearchSettings{Mode: "Hybrid", TopK: 20, Reranker: "RRF", RRFK: 60}
	err := svc.UpdateSearch(context.Background(), next)
	require.NoError(t, err)

	require.NotNil(t, notified)
	assert.Equal(t, next, notified.Search)
}
