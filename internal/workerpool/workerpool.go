// Package workerpool runs N parallel consumers of the job queue, each
// opening a document's bytes from the content store and driving the
// ingestion pipeline with a fresh, per-job cancellation token.
package workerpool

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/fabfab/knowledgebase/internal/contentstore"
	"github.com/fabfab/knowledgebase/internal/domain"
	"github.com/fabfab/knowledgebase/internal/ingest"
)

// cancelledErrorMessage is the errorMessage a job carries when its run was
// aborted via CancelByDocumentID, matching jobqueue's not-yet-dequeued drop
// path so both cancellation routes agree.
const cancelledErrorMessage = "cancelled"

// DefaultWorkers is used when no ParallelWorkers setting is configured.
const DefaultWorkers = 4

// JobSource is the subset of jobqueue.Queue the pool needs: dequeuing work
// and reporting status/cancellation.
type JobSource interface {
	Dequeue(ctx context.Context) (domain.IngestionJob, error)
	Update(jobID string, state domain.JobState, phase domain.JobPhase, percentComplete int, errMsg string)
	RegisterCancel(jobID, documentID string, cancel context.CancelFunc)
	UnregisterCancel(jobID string)
}

// Ingester is the subset of ingest.Pipeline the pool needs.
type Ingester interface {
	Ingest(ctx context.Context, jobID string, data []byte, params ingest.Params, progress ingest.ProgressReporter) (domain.Document, []string, error)
}

// ParamsBuilder resolves a job's ingest.Params at dequeue time, taking a
// live settings snapshot so a single ingestion never tears across two
// configurations.
type ParamsBuilder func(job domain.IngestionJob) ingest.Params

// Pool drains a JobSource with a fixed number of worker goroutines.
type Pool struct {
	queue       JobSource
	content     contentstore.Store
	pipeline    Ingester
	buildParams ParamsBuilder
	workers     int
	log         zerolog.Logger
}

// New constructs a Pool. workers <= 0 uses DefaultWorkers.
func New(queue JobSource, content contentstore.Store, pipeline Ingester, buildParams ParamsBuilder, workers int, log zerolog.Logger) *Pool {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Pool{
		queue:       queue,
		content:     content,
		pipeline:    pipeline,
		buildParams: buildParams,
		workers:     workers,
		log:         log,
	}
}

// Run spawns the worker goroutines and blocks until ctx is cancelled and
// every worker has drained out.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			p.workerLoop(ctx, workerID)
		}(i)
	}
	wg.Wait()
}

func (p *Pool) workerLoop(ctx context.Context, workerID int) {
	log := p.log.With().Int("workerId", workerID).Logger()
	for {
		job, err := p.queue.Dequeue(ctx)
		if err != nil {
			log.Debug().Err(err).Msg("worker stopping")
			return
		}
		p.handleJob(ctx, job, log)
	}
}

func (p *Pool) handleJob(ctx context.Context, job domain.IngestionJob, log zerolog.Logger) {
	jobCtx, cancel := context.WithCancel(ctx)
	p.queue.RegisterCancel(job.JobID, job.DocumentID, cancel)
	defer func() {
		cancel()
		p.queue.UnregisterCancel(job.JobID)
	}()

	p.queue.Update(job.JobID, domain.JobProcessing, domain.PhaseParsing, 0, "")

	reader, err := p.content.Open(jobCtx, job.StoragePath)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			p.fail(job.JobID, cancelledErrorMessage, log)
		} else {
			p.fail(job.JobID, "open content store: "+err.Error(), log)
		}
		return
	}
	data, err := io.ReadAll(reader)
	reader.Close()
	if err != nil {
		if errors.Is(err, context.Canceled) {
			p.fail(job.JobID, cancelledErrorMessage, log)
		} else {
			p.fail(job.JobID, "read content: "+err.Error(), log)
		}
		return
	}

	params := p.buildParams(job)
	_, warnings, err := p.pipeline.Ingest(jobCtx, job.JobID, data, params, p.queue)
	if err != nil {
		p.fail(job.JobID, failureMessage(err), log)
		return
	}

	if msg, failed := warningFailureMessage(warnings); failed {
		p.fail(job.JobID, msg, log)
		return
	}

	p.queue.Update(job.JobID, domain.JobCompleted, domain.PhaseComplete, 100, "")
}

func (p *Pool) fail(jobID, errMsg string, log zerolog.Logger) {
	p.queue.Update(jobID, domain.JobFailed, domain.PhaseComplete, 100, errMsg)
	if errMsg == cancelledErrorMessage {
		log.Debug().Str("jobId", jobID).Msg("ingestion cancelled")
		return
	}
	log.Error().Str("jobId", jobID).Str("error", errMsg).Msg("ingestion failed")
}

// failureMessage maps a cancelled run to the same errorMessage convention
// jobqueue uses for a job dropped before it was ever dequeued, so both
// cancellation paths report identically.
func failureMessage(err error) string {
	if errors.Is(err, context.Canceled) {
		return cancelledErrorMessage
	}
	return err.Error()
}

// warningFailureMessage reports whether any parser warning contains the
// word "failed", in which case the run is reported Failed with errorMessage
// set to every warning joined together.
func warningFailureMessage(warnings []string) (string, bool) {
	for _, w := range warnings {
		if strings.Contains(strings.ToLower(w), "failed") {
			return strings.Join(warnings, "; "), true
		}
	}
	return "", false
}
