// Package reindex implements the reindex controller: for a container
// (and/or a document subset), decide per document whether a fresh
// ingestion job is needed, and requeue the ones that are. Each document's
// decision carries a typed reason, aggregated into a batch summary.
package reindex

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"

	"github.com/google/uuid"

	"github.com/fabfab/knowledgebase/internal/contentstore"
	"github.com/fabfab/knowledgebase/internal/domain"
	"github.com/fabfab/knowledgebase/internal/settings"
)

// DocumentStore is the subset of store.Store the controller needs.
type DocumentStore interface {
	ListDocuments(ctx context.Context, containerID, pathPrefix string) ([]domain.Document, error)
	GetDocument(ctx context.Context, id string) (domain.Document, error)
	ResetDocumentForReindex(ctx context.Context, id string) error
	DeleteChunksForDocument(ctx context.Context, documentID string) error
}

// JobEnqueuer is the subset of jobqueue.Queue the controller needs.
type JobEnqueuer interface {
	Enqueue(ctx context.Context, job domain.IngestionJob) error
}

// SettingsSource is the subset of settings.Watcher the controller needs.
type SettingsSource interface {
	Snapshot() *settings.Snapshot
}

// Policy is the per-call flag set controlling a reindex run.
type Policy struct {
	Force                 bool
	DetectSettingsChanges bool
	StrategyOverride      string
}

// Controller runs the reindex decision tree and requeues documents that
// need it.
type Controller struct {
	store    DocumentStore
	content  contentstore.Store
	queue    JobEnqueuer
	settings SettingsSource
}

// New constructs a Controller.
func New(store DocumentStore, content contentstore.Store, queue JobEnqueuer, settingsSource SettingsSource) *Controller {
	return &Controller{store: store, content: content, queue: queue, settings: settingsSource}
}

// Reindex evaluates every document in containerID (optionally narrowed to
// documentIDs) against policy and requeues the ones that need it, returning
// an aggregated summary.
func (c *Controller) Reindex(ctx context.Context, containerID string, documentIDs []string, policy Policy) (domain.ReindexSummary, error) {
	docs, err := c.resolveDocuments(ctx, containerID, documentIDs)
	if err != nil {
		return domain.ReindexSummary{}, err
	}

	summary := domain.ReindexSummary{
		BatchID:        uuid.NewString(),
		TotalDocuments: len(docs),
		ReasonCounts:   make(map[domain.ReindexReason]int),
		Documents:      make([]domain.ReindexDecision, 0, len(docs)),
	}

	snap := c.settings.Snapshot()

	for _, doc := range docs {
		decision := c.decide(ctx, doc, policy, snap, summary.BatchID)
		summary.Documents = append(summary.Documents, decision)
		summary.ReasonCounts[decision.Reason]++
		switch {
		case decision.Enqueued:
			summary.EnqueuedCount++
		case decision.Reason == domain.ReasonError:
			summary.FailedCount++
		default:
			summary.SkippedCount++
		}
	}

	return summary, nil
}

func (c *Controller) resolveDocuments(ctx context.Context, containerID string, documentIDs []string) ([]domain.Document, error) {
	if len(documentIDs) == 0 {
		return c.store.ListDocuments(ctx, containerID, "")
	}
	docs := make([]domain.Document, 0, len(documentIDs))
	for _, id := range documentIDs {
		doc, err := c.store.GetDocument(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("resolve document %s: %w", id, err)
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func (c *Controller) decide(ctx context.Context, doc domain.Document, policy Policy, snap *settings.Snapshot, batchID string) domain.ReindexDecision {
	if policy.Force {
		return c.enqueue(ctx, doc, domain.ReasonForced, batchID)
	}

	exists, err := c.content.Exists(ctx, doc.Path)
	if err != nil {
		return domain.ReindexDecision{DocumentID: doc.ID, Reason: domain.ReasonError, Error: err.Error()}
	}
	if !exists {
		return domain.ReindexDecision{DocumentID: doc.ID, Reason: domain.ReasonFileNotFound}
	}

	currentHash, err := c.hashContent(ctx, doc.Path)
	if err != nil {
		return domain.ReindexDecision{DocumentID: doc.ID, Reason: domain.ReasonError, Error: err.Error()}
	}
	if currentHash != doc.ContentHash {
		return c.enqueue(ctx, doc, domain.ReasonContentChanged, batchID)
	}

	if policy.DetectSettingsChanges {
		if chunkingFingerprintChanged(doc.Metadata, snap.Chunking) {
			return c.enqueue(ctx, doc, domain.ReasonChunkingSettingsChanged, batchID)
		}
		if embeddingFingerprintChanged(doc.Metadata, snap.Embedding) {
			return c.enqueue(ctx, doc, domain.ReasonEmbeddingSettingsChanged, batchID)
		}
	}

	if doc.LastIndexedAt == nil || doc.Status != domain.DocumentReady {
		return c.enqueue(ctx, doc, domain.ReasonNeverIndexed, batchID)
	}

	return domain.ReindexDecision{DocumentID: doc.ID, Reason: domain.ReasonUnchanged}
}

func (c *Controller) hashContent(ctx context.Context, path string) (string, error) {
	r, err := c.content.Open(ctx, path)
	if err != nil {
		return "", err
	}
	defer r.Close()

	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func (c *Controller) enqueue(ctx context.Context, doc domain.Document, reason domain.ReindexReason, batchID string) domain.ReindexDecision {
	if err := c.store.DeleteChunksForDocument(ctx, doc.ID); err != nil {
		return domain.ReindexDecision{DocumentID: doc.ID, Reason: domain.ReasonError, Error: err.Error()}
	}
	if err := c.store.ResetDocumentForReindex(ctx, doc.ID); err != nil {
		return domain.ReindexDecision{DocumentID: doc.ID, Reason: domain.ReasonError, Error: err.Error()}
	}

	job := domain.IngestionJob{
		JobID:       uuid.NewString(),
		DocumentID:  doc.ID,
		StoragePath: doc.Path,
		BatchID:     batchID,
		Options: domain.IngestionOptions{
			DocumentID:  doc.ID,
			FileName:    doc.FileName,
			ContentType: doc.ContentType,
			ContainerID: doc.ContainerID,
			Path:        doc.Path,
		},
	}

	if err := c.queue.Enqueue(ctx, job); err != nil {
		return domain.ReindexDecision{DocumentID: doc.ID, Reason: domain.ReasonError, Error: err.Error()}
	}

	return domain.ReindexDecision{DocumentID: doc.ID, Enqueued: true, Reason: reason}
}

func chunkingFingerprintChanged(meta map[string]string, live settings.ChunkingSettings) bool {
	if meta[domain.MetaChunkingStrategy] != live.Strategy {
		return true
	}
	if meta[domain.MetaChunkingMaxSize] != strconv.Itoa(live.MaxChunkSize) {
		return true
	}
	if meta[domain.MetaChunkingOverlap] != strconv.Itoa(live.Overlap) {
		return true
	}
	return false
}

func embeddingFingerprintChanged(meta map[string]string, live settings.EmbeddingSettings) bool {
	if meta[domain.MetaEmbeddingProvider] != live.Provider {
		return true
	}
	if meta[domain.MetaEmbeddingModel] != live.Model {
		return true
	}
	if meta[domain.MetaEmbeddingDimensions] != strconv.Itoa(live.Dimensions) {
		return true
	}
	return false
}
