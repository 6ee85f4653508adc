package workerpool

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabfab/knowledgebase/internal/contentstore"
	"github.com/fabfab/knowledgebase/internal/domain"
	"github.com/fabfab/knowledgebase/internal/ingest"
)

type fakeQueue struct {
	mu       sync.Mutex
	jobs     []domain.IngestionJob
	pos      int
	updates  []string
	canceled map[string]context.CancelFunc
}

func newFakeQueue(jobs ...domain.IngestionJob) *fakeQueue {
	return &fakeQueue{jobs: jobs, canceled: make(map[string]context.CancelFunc)}
}

func (f *fakeQueue) Dequeue(ctx context.Context) (domain.IngestionJob, error) {
	f.mu.Lock()
	if f.pos < len(f.jobs) {
		job := f.jobs[f.pos]
		f.pos++
		f.mu.Unlock()
		return job, nil
	}
	f.mu.Unlock()
	<-ctx.Done()
	return domain.IngestionJob{}, ctx.Err()
}

func (f *fakeQueue) Update(jobID string, state domain.JobState, _ domain.JobPhase, _ int, errMsg string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, jobID+":"+string(state)+":"+errMsg)
}

func (f *fakeQueue) RegisterCancel(jobID, _ string, cancel context.CancelFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.canceled[jobID] = cancel
}

func (f *fakeQueue) UnregisterCancel(jobID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.canceled, jobID)
}

func (f *fakeQueue) snapshotUpdates() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.updates))
	copy(out, f.updates)
	return out
}

type fakeContentStore struct {
	files map[string][]byte
}

func (f *fakeContentStore) Exists(_ context.Context, path string) (bool, error) {
	_, ok := f.files[path]
	return ok, nil
}

func (f *fakeContentStore) Open(_ context.Context, path string) (io.ReadCloser, error) {
	b, ok := f.files[path]
	if !ok {
		return nil, contentstore.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (f *fakeContentStore) Save(_ context.Context, _ string, _ io.Reader, _ int64) error { return nil }
func (f *fakeContentStore) Delete(_ context.Context, _ string) error                     { return nil }

type fakeIngester struct {
	err      error
	warnings []string
}

func (f *fakeIngester) Ingest(_ context.Context, _ string, _ []byte, _ ingest.Params, _ ingest.ProgressReporter) (domain.Document, []string, error) {
	if f.err != nil {
		return domain.Document{}, nil, f.err
	}
	return domain.Document{Status: domain.DocumentReady}, f.warnings, nil
}

func noopParams(domain.IngestionJob) ingest.Params { return ingest.Params{} }

func TestWorkerPoolCompletesJobOnSuccess(t *testing.T) {
	queue := newFakeQueue(domain.IngestionJob{JobID: "j1", DocumentID: "d1", StoragePath: "/a.txt"})
	content := &fakeContentStore{files: map[string][]byte{"/a.txt": []byte("hello")}}
	pool := New(queue, content, &fakeIngester{}, noopParams, 1, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	pool.Run(ctx)

	updates := queue.snapshotUpdates()
	require.NotEmpty(t, updates)
	assert.Contains(t, updates, "j1:Completed:")
}

func TestWorkerPoolFailsJobOnIngestError(t *testing.T) {
	queue := newFakeQueue(domain.IngestionJob{JobID: "j1", DocumentID: "d1", StoragePath: "/a.txt"})
	content := &fakeContentStore{files: map[string][]byte{"/a.txt": []byte("hello")}}
	pool := New(queue, content, &fakeIngester{err: errors.New("boom")}, noopParams, 1, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	pool.Run(ctx)

	updates := queue.snapshotUpdates()
	require.NotEmpty(t, updates)
	assert.Contains(t, updates, "j1:Failed:boom")
}

func TestWorkerPoolFailsJobWhenWarningContainsFailed(t *testing.T) {
	queue := newFakeQueue(domain.IngestionJob{JobID: "j1", DocumentID: "d1", StoragePath: "/a.txt"})
	content := &fakeContentStore{files: map[string][]byte{"/a.txt": []byte("hello")}}
	ingester := &fakeIngester{warnings: []string{"page 2: extraction failed", "page 5: low confidence OCR"}}
	pool := New(queue, content, ingester, noopParams, 1, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	pool.Run(ctx)

	updates := queue.snapshotUpdates()
	require.NotEmpty(t, updates)
	assert.Contains(t, updates, "j1:Failed:page 2: extraction failed; page 5: low confidence OCR")
}

func TestWorkerPoolCompletesJobWhenWarningsDontMentionFailed(t *testing.T) {
	queue := newFakeQueue(domain.IngestionJob{JobID: "j1", DocumentID: "d1", StoragePath: "/a.txt"})
	content := &fakeContentStore{files: map[string][]byte{"/a.txt": []byte("hello")}}
	ingester := &fakeIngester{warnings: []string{"page 5: low confidence OCR"}}
	pool := New(queue, content, ingester, noopParams, 1, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	pool.Run(ctx)

	updates := queue.snapshotUpdates()
	require.NotEmpty(t, updates)
	assert.Contains(t, updates, "j1:Completed:")
}

func TestWorkerPoolReportsCancelledOnContextCanceled(t *testing.T) {
	queue := newFakeQueue(domain.IngestionJob{JobID: "j1", DocumentID: "d1", StoragePath: "/a.txt"})
	content := &fakeContentStore{files: map[string][]byte{"/a.txt": []byte("hello")}}
	ingester := &fakeIngester{err: context.Canceled}
	pool := New(queue, content, ingester, noopParams, 1, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	pool.Run(ctx)

	updates := queue.snapshotUpdates()
	require.NotEmpty(t, updates)
	assert.Contains(t, updates, "j1:Failed:cancelled")
}

func TestWorkerPoolFailsJobWhenFileMissing(t *testing.T) {
	queue := newFakeQueue(domain.IngestionJob{JobID: "j1", DocumentID: "d1", StoragePath: "/missing.txt"})
	content := &fakeContentStore{files: map[string][]byte{}}
	pool := New(queue, content, &fakeIngester{}, noopParams, 1, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	pool.Run(ctx)

	updates := queue.snapshotUpdates()
	found := false
	for _, u := range updates {
		if u == "j1:Failed:open content store: content store: path not found" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestWorkerPoolRegistersAndUnregistersCancellation(t *testing.T) {
	queue := newFakeQueue(domain.IngestionJob{JobID: "j1", DocumentID: "d1", StoragePath: "/a.txt"})
	content := &fakeContentStore{files: map[string][]byte{"/a.txt": []byte("hello")}}
	pool := New(queue, content, &fakeIngester{}, noopParams, 1, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	pool.Run(ctx)

	queue.mu.Lock()
	defer queue.mu.Unlock()
	assert.Empty(t, queue.canceled)
}
