// Package jobqueue implements the bounded ingestion job queue: a FIFO
// channel of IngestionJobs paired with a thread-safe status registry and a
// per-job cancellation registry.
package jobqueue

import (
	"context"
	"sync"
	"time"

	"github.com/fabfab/knowledgebase/internal/domain"
)

// DefaultCapacity is the default bounded queue size.
const DefaultCapacity = 1000

// Queue is a bounded FIFO of IngestionJobs plus the statuses/cancels
// registries.
type Queue struct {
	ch chan domain.IngestionJob

	mu           sync.Mutex
	statuses     map[string]domain.IngestionJobStatus
	cancels      map[string]context.CancelFunc
	cancelDoc    map[string]string // jobID -> documentID, while registered
	queuedByDoc  map[string]string // documentID -> jobID, while Queued and not yet dequeued
	droppedJobs  map[string]bool   // jobID -> true: cancelled before dequeue
}

// New constructs a Queue with the given bounded capacity. A capacity <= 0
// uses DefaultCapacity.
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{
		ch:          make(chan domain.IngestionJob, capacity),
		statuses:    make(map[string]domain.IngestionJobStatus),
		cancels:     make(map[string]context.CancelFunc),
		cancelDoc:   make(map[string]string),
		queuedByDoc: make(map[string]string),
		droppedJobs: make(map[string]bool),
	}
}

// Enqueue inserts {Queued, nil, 0, ...} into the status registry, then
// offers the job to the bounded channel, blocking (Wait backpressure) when
// full until space frees up or ctx is cancelled.
func (q *Queue) Enqueue(ctx context.Context, job domain.IngestionJob) error {
	q.mu.Lock()
	q.statuses[job.JobID] = domain.IngestionJobStatus{
		JobID: job.JobID,
		State: domain.JobQueued,
	}
	q.queuedByDoc[job.DocumentID] = job.JobID
	q.mu.Unlock()

	select {
	case q.ch <- job:
		return nil
	case <-ctx.Done():
		q.mu.Lock()
		delete(q.statuses, job.JobID)
		if q.queuedByDoc[job.DocumentID] == job.JobID {
			delete(q.queuedByDoc, job.DocumentID)
		}
		q.mu.Unlock()
		return ctx.Err()
	}
}

// Dequeue blocks until a job is available, skipping (and marking Failed
// with "cancelled") any job dropped by CancelByDocumentID before it was
// pulled off the channel. Returns ctx.Err() if ctx is cancelled first.
func (q *Queue) Dequeue(ctx context.Context) (domain.IngestionJob, error) {
	for {
		select {
		case job := <-q.ch:
			q.mu.Lock()
			dropped := q.droppedJobs[job.JobID]
			delete(q.droppedJobs, job.JobID)
			if q.queuedByDoc[job.DocumentID] == job.JobID {
				delete(q.queuedByDoc, job.DocumentID)
			}
			if dropped {
				now := time.Now()
				q.statuses[job.JobID] = domain.IngestionJobStatus{
					JobID:        job.JobID,
					State:        domain.JobFailed,
					ErrorMessage: "cancelled",
					CompletedAt:  &now,
				}
				q.mu.Unlock()
				continue
			}
			now := time.Now()
			st := q.statuses[job.JobID]
			st.JobID = job.JobID
			st.State = domain.JobProcessing
			st.StartedAt = &now
			q.statuses[job.JobID] = st
			q.mu.Unlock()
			return job, nil
		case <-ctx.Done():
			return domain.IngestionJob{}, ctx.Err()
		}
	}
}

// GetStatus returns a snapshot of a job's current status.
func (q *Queue) GetStatus(jobID string) (domain.IngestionJobStatus, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	st, ok := q.statuses[jobID]
	return st, ok
}

// Snapshot returns a copy of every tracked status, keyed by jobID. Used by
// the progress broadcaster to poll without holding the queue's lock.
func (q *Queue) Snapshot() map[string]domain.IngestionJobStatus {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make(map[string]domain.IngestionJobStatus, len(q.statuses))
	for k, v := range q.statuses {
		out[k] = v
	}
	return out
}

// Update atomically transitions a job's status. phase is left unchanged
// when empty. completedAt is set to now iff the new state is terminal.
func (q *Queue) Update(jobID string, state domain.JobState, phase domain.JobPhase, percentComplete int, errMsg string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	st := q.statuses[jobID]
	st.JobID = jobID
	st.State = state
	if phase != "" {
		st.CurrentPhase = phase
	}
	st.PercentComplete = percentComplete
	st.ErrorMessage = errMsg
	if state == domain.JobCompleted || state == domain.JobFailed {
		now := time.Now()
		st.CompletedAt = &now
	}
	q.statuses[jobID] = st
}

// RegisterCancel scopes a cancellation handle to a job's Processing
// interval, indexed by both jobID and documentID so CancelByDocumentID can
// find it.
func (q *Queue) RegisterCancel(jobID, documentID string, cancel context.CancelFunc) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cancels[jobID] = cancel
	q.cancelDoc[jobID] = documentID
}

// UnregisterCancel removes a cancellation handle once its job leaves
// Processing.
func (q *Queue) UnregisterCancel(jobID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.cancels, jobID)
	delete(q.cancelDoc, jobID)
}

// CancelByDocumentID trips the cancellation handle for any in-flight job
// for documentID, or drops a not-yet-dequeued job for the same document.
// Reports whether a job was found in either state.
func (q *Queue) CancelByDocumentID(documentID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for jobID, doc := range q.cancelDoc {
		if doc == documentID {
			if cancel, ok := q.cancels[jobID]; ok {
				cancel()
				return true
			}
		}
	}

	if jobID, ok := q.queuedByDoc[documentID]; ok {
		q.droppedJobs[jobID] = true
		delete(q.queuedByDoc, documentID)
		return true
	}

	return false
}

// Cleanup removes terminal statuses whose CompletedAt is older than
// maxAge.
func (q *Queue) Cleanup(maxAge time.Duration) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for jobID, st := range q.statuses {
		if st.CompletedAt != nil && st.CompletedAt.Before(cutoff) {
			delete(q.statuses, jobID)
			removed++
		}
	}
	return removed
}
