// Package progress implements the progress broadcaster: a single
// background task that polls the job queue's status registry every 500ms
// and emits throttled status deltas to subscribers, using an in-process
// channel-of-channels subscription model.
package progress

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/fabfab/knowledgebase/internal/domain"
)

// PollInterval is the default polling cadence.
const PollInterval = 500 * time.Millisecond

// EvictAfter is how long a job's bookkeeping is retained after it stops
// appearing in the status snapshot.
const EvictAfter = 5 * time.Minute

// StatusSource is the subset of jobqueue.Queue the broadcaster polls.
type StatusSource interface {
	Snapshot() map[string]domain.IngestionJobStatus
}

// Sink receives emitted status deltas. Publish errors are treated as
// transient transport errors: the broadcaster sleeps and
// retries rather than crashing the process. The concrete transport
// (HTTP/WebSocket push) is an external collaborator; Sink is
// this package's seam for it.
type Sink interface {
	Publish(ctx context.Context, update domain.IngestionJobStatus) error
}

type jobBookkeeping struct {
	lastEmitAt      time.Time
	lastSeenAt      time.Time
	everEmitted     bool
	terminalEmitted bool
}

// Broadcaster polls a StatusSource and emits throttled deltas to a Sink.
type Broadcaster struct {
	source   StatusSource
	sink     Sink
	interval time.Duration
	log      zerolog.Logger

	mu    sync.Mutex
	books map[string]*jobBookkeeping
}

// New constructs a Broadcaster with the default 500ms poll interval.
func New(source StatusSource, sink Sink, log zerolog.Logger) *Broadcaster {
	return &Broadcaster{
		source:   source,
		sink:     sink,
		interval: PollInterval,
		log:      log,
		books:    make(map[string]*jobBookkeeping),
	}
}

// Run polls until ctx is cancelled. It never returns an error: publish
// failures are logged, followed by a 1s backoff, and the failed update is
// re-sent on the next poll.
func (b *Broadcaster) Run(ctx context.Context) {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.tick(ctx)
		}
	}
}

func (b *Broadcaster) tick(ctx context.Context) {
	snapshot := b.source.Snapshot()
	now := time.Now()

	b.mu.Lock()
	seen := make(map[string]bool, len(snapshot))
	var toEmit []domain.IngestionJobStatus

	for jobID, st := range snapshot {
		seen[jobID] = true
		book, ok := b.books[jobID]
		if !ok {
			book = &jobBookkeeping{}
			b.books[jobID] = book
		}
		book.lastSeenAt = now

		terminal := st.State == domain.JobCompleted || st.State == domain.JobFailed

		shouldEmit := false
		switch {
		case !book.everEmitted:
			shouldEmit = true
		case terminal:
			shouldEmit = !book.terminalEmitted
		default:
			shouldEmit = now.Sub(book.lastEmitAt) >= b.interval
		}

		if shouldEmit {
			book.everEmitted = true
			book.lastEmitAt = now
			if terminal {
				book.terminalEmitted = true
			}
			toEmit = append(toEmit, st)
		}
	}

	for jobID, book := range b.books {
		if seen[jobID] {
			continue
		}
		if now.Sub(book.lastSeenAt) > EvictAfter {
			delete(b.books, jobID)
		}
	}
	b.mu.Unlock()

	for _, update := range toEmit {
		if err := b.sink.Publish(ctx, update); err != nil {
			b.log.Warn().Err(err).Str("job_id", update.JobID).Msg("progress publish failed, retrying")
			b.mu.Lock()
			if book, ok := b.books[update.JobID]; ok {
				book.everEmitted = false
				book.terminalEmitted = false
			}
			b.mu.Unlock()
			time.Sleep(time.Second)
		}
	}
}
