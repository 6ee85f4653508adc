package jobqueue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabfab/knowledgebase/internal/domain"
)

func TestEnqueueDequeueFIFO(t *testing.T) {
	q := New(10)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		job := domain.IngestionJob{JobID: string(rune('a' + i)), DocumentID: "doc-" + string(rune('a'+i))}
		require.NoError(t, q.Enqueue(ctx, job))
	}

	for i := 0; i < 3; i++ {
		job, err := q.Dequeue(ctx)
		require.NoError(t, err)
		assert.Equal(t, string(rune('a'+i)), job.JobID)

		st, ok := q.GetStatus(job.JobID)
		require.True(t, ok)
		assert.Equal(t, domain.JobProcessing, st.State)
		assert.NotNil(t, st.StartedAt)
	}
}

func TestEnqueueSetsQueuedStatus(t *testing.T) {
	q := New(10)
	job := domain.IngestionJob{JobID: "job-1", DocumentID: "doc-1"}
	require.NoError(t, q.Enqueue(context.Background(), job))

	st, ok := q.GetStatus("job-1")
	require.True(t, ok)
	assert.Equal(t, domain.JobQueued, st.State)
}

func TestUpdateTerminalSetsCompletedAt(t *testing.T) {
	q := New(10)
	job := domain.IngestionJob{JobID: "job-1", DocumentID: "doc-1"}
	require.NoError(t, q.Enqueue(context.Background(), job))
	_, err := q.Dequeue(context.Background())
	require.NoError(t, err)

	q.Update("job-1", domain.JobCompleted, domain.PhaseComplete, 100, "")
	st, ok := q.GetStatus("job-1")
	require.True(t, ok)
	assert.Equal(t, domain.JobCompleted, st.State)
	assert.NotNil(t, st.CompletedAt)
}

func TestCancelByDocumentIDDropsQueuedJob(t *testing.T) {
	q := New(10)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, domain.IngestionJob{JobID: "job-1", DocumentID: "doc-1"}))
	require.NoError(t, q.Enqueue(ctx, domain.IngestionJob{JobID: "job-2", DocumentID: "doc-2"}))

	found := q.CancelByDocumentID("doc-1")
	assert.True(t, found)

	job, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "job-2", job.JobID, "the dropped job must not be handed to a worker")

	st, ok := q.GetStatus("job-1")
	require.True(t, ok)
	assert.Equal(t, domain.JobFailed, st.State)
	assert.Equal(t, "cancelled", st.ErrorMessage)
}

func TestCancelByDocumentIDTripsInFlightHandle(t *testing.T) {
	q := New(10)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, domain.IngestionJob{JobID: "job-1", DocumentID: "doc-1"}))
	_, err := q.Dequeue(ctx)
	require.NoError(t, err)

	cancelCtx, cancel := context.WithCancel(context.Background())
	q.RegisterCancel("job-1", "doc-1", cancel)

	found := q.CancelByDocumentID("doc-1")
	assert.True(t, found)
	assert.Error(t, cancelCtx.Err())
}

func TestCancelByDocumentIDNotFound(t *testing.T) {
	q := New(10)
	assert.False(t, q.CancelByDocumentID("nonexistent"))
}

func TestCleanupEvictsOldTerminalStatuses(t *testing.T) {
	q := New(10)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, domain.IngestionJob{JobID: "job-1", DocumentID: "doc-1"}))
	_, err := q.Dequeue(ctx)
	require.NoError(t, err)
	q.Update("job-1", domain.JobCompleted, domain.PhaseComplete, 100, "")

	st, _ := q.GetStatus("job-1")
	past := time.Now().Add(-time.Hour)
	st.CompletedAt = &past
	q.mu.Lock()
	q.statuses["job-1"] = st
	q.mu.Unlock()

	removed := q.Cleanup(time.Minute)
	assert.Equal(t, 1, removed)

	_, ok := q.GetStatus("job-1")
	assert.False(t, ok)
}

func TestDequeueRespectsContextCancellation(t *testing.T) {
	q := New(10)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Dequeue(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestEnqueueBlocksWhenFullUntilSpaceFrees(t *testing.T) {
	q := New(1)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, domain.IngestionJob{JobID: "job-1", DocumentID: "doc-1"}))

	done := make(chan error, 1)
	go func() {
		done <- q.Enqueue(ctx, domain.IngestionJob{JobID: "job-2", DocumentID: "doc-2"})
	}()

	select {
	case <-done:
		t.Fatal("enqueue should have blocked on a full queue")
	case <-time.After(50 * time.Millisecond):
	}

	_, err := q.Dequeue(ctx)
	require.NoError(t, err)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("enqueue never unblocked after dequeue freed capacity")
	}
}
