// Package ingest implements the parse → chunk → embed → persist
// orchestration for a single document: a multi-phase, cancellation-aware
// pipeline with phase/progress reporting for each step.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/fabfab/knowledgebase/internal/chunking"
	"github.com/fabfab/knowledgebase/internal/domain"
	"github.com/fabfab/knowledgebase/internal/parsing"
)

// DocumentStore is the subset of store.Store the pipeline needs to manage a
// document's lifecycle row.
type DocumentStore interface {
	UpsertDocument(ctx context.Context, id string, doc domain.Document) (domain.Document, error)
	UpdateDocumentStatus(ctx context.Context, id string, status domain.DocumentStatus, errMsg string) error
	MarkDocumentReady(ctx context.Context, id string, chunkCount int) error
}

// ChunkStore is the subset of store.Store the pipeline needs to persist
// chunks and their vectors.
type ChunkStore interface {
	ReplaceChunks(ctx context.Context, documentID string, chunks []domain.Chunk) ([]domain.Chunk, error)
	UpsertChunkVectors(ctx context.Context, vectors []domain.ChunkVector) error
}

// ParserRegistry is the subset of parsing.Registry the pipeline needs.
type ParserRegistry interface {
	Parse(ctx context.Context, fileName string, data []byte) parsing.Result
}

// ChunkerRegistry is the subset of chunking.Registry the pipeline needs.
type ChunkerRegistry interface {
	Chunk(ctx context.Context, strategy, content string, settings chunking.Settings) ([]domain.Chunk, error)
}

// Embedder is the subset of embedder.Embedder the pipeline needs.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
	ModelID() string
}

// ProgressReporter receives phase/percent updates as the pipeline advances,
// satisfied by jobqueue.Queue.Update.
type ProgressReporter interface {
	Update(jobID string, state domain.JobState, phase domain.JobPhase, percentComplete int, errMsg string)
}

// ErrNoExtractableContent is recorded as the document's errorMessage when
// parsing or chunking yields nothing to embed.
const ErrNoExtractableContent = "No extractable content"

// Pipeline runs the full ingest protocol for one document at a time. It
// holds no per-call state and is safe for concurrent use by multiple
// workers.
type Pipeline struct {
	docs     DocumentStore
	chunks   ChunkStore
	parsers  ParserRegistry
	chunkers ChunkerRegistry
	embedder Embedder
}

// New constructs a Pipeline.
func New(docs DocumentStore, chunks ChunkStore, parsers ParserRegistry, chunkers ChunkerRegistry, embedder Embedder) *Pipeline {
	return &Pipeline{docs: docs, chunks: chunks, parsers: parsers, chunkers: chunkers, embedder: embedder}
}

// Params bundles the per-run chunking selection alongside the job's
// IngestionOptions; chunkingSettings carries the live ChunkingSettings
// snapshot the caller took at job start.
type Params struct {
	Options           domain.IngestionOptions
	ChunkingStrategy  string
	ChunkingSettings  chunking.Settings
	EmbeddingProvider string
}

// Ingest runs the full parse → chunk → embed → persist protocol over data
// for one document, reporting phase transitions to progress (may be nil),
// and honoring ctx cancellation at every step boundary. The returned
// warnings are whatever the parser collected along the way (e.g. a page
// that failed to extract while the rest of the document came through); the
// caller decides what a non-empty warning list means for the run as a
// whole.
func (p *Pipeline) Ingest(ctx context.Context, jobID string, data []byte, params Params, progress ProgressReporter) (domain.Document, []string, error) {
	opts := params.Options
	report := func(phase domain.JobPhase, pct int) {
		if progress != nil {
			progress.Update(jobID, domain.JobProcessing, phase, pct, "")
		}
	}

	contentHash := hashContent(data)

	documentID := opts.DocumentID
	if documentID == "" {
		documentID = uuid.NewString()
	}

	metadata := buildFingerprintMetadata(opts.Metadata, params.ChunkingStrategy, params.ChunkingSettings, params.EmbeddingProvider, p.embedder)

	doc := domain.Document{
		ContainerID: opts.ContainerID,
		FileName:    opts.FileName,
		ContentType: opts.ContentType,
		Path:        opts.Path,
		ContentHash: contentHash,
		SizeBytes:   int64(len(data)),
		Status:      domain.DocumentProcessing,
		Metadata:    metadata,
	}
	doc, err := p.docs.UpsertDocument(ctx, documentID, doc)
	if err != nil {
		return domain.Document{}, nil, fmt.Errorf("upsert document: %w", err)
	}
	documentID = doc.ID

	if err := ctx.Err(); err != nil {
		return doc, nil, err
	}

	report(domain.PhaseParsing, 10)
	parsed := p.parsers.Parse(ctx, opts.FileName, data)
	if strings.TrimSpace(parsed.Content) == "" {
		d, err := p.fail(ctx, documentID, ErrNoExtractableContent)
		return d, parsed.Warnings, err
	}

	if err := ctx.Err(); err != nil {
		return doc, parsed.Warnings, err
	}

	report(domain.PhaseChunking, 30)
	chunks, err := p.chunkers.Chunk(ctx, params.ChunkingStrategy, parsed.Content, params.ChunkingSettings)
	if err != nil {
		d, err := p.fail(ctx, documentID, err.Error())
		return d, parsed.Warnings, err
	}
	if len(chunks) == 0 {
		d, err := p.fail(ctx, documentID, ErrNoExtractableContent)
		return d, parsed.Warnings, err
	}

	for i := range chunks {
		chunks[i].DocumentID = documentID
		chunks[i].ContainerID = opts.ContainerID
		mergeParsedMetadata(chunks[i].Metadata, parsed.Metadata)
	}

	if err := ctx.Err(); err != nil {
		return doc, parsed.Warnings, err
	}

	report(domain.PhaseEmbedding, 50)
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	vectors, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		d, err := p.fail(ctx, documentID, err.Error())
		return d, parsed.Warnings, err
	}

	if err := ctx.Err(); err != nil {
		return doc, parsed.Warnings, err
	}

	report(domain.PhaseStoring, 75)
	persisted, err := p.chunks.ReplaceChunks(ctx, documentID, chunks)
	if err != nil {
		d, err := p.fail(ctx, documentID, err.Error())
		return d, parsed.Warnings, err
	}

	chunkVectors := make([]domain.ChunkVector, len(persisted))
	for i, c := range persisted {
		chunkVectors[i] = domain.ChunkVector{
			ChunkID:     c.ID,
			DocumentID:  documentID,
			ContainerID: opts.ContainerID,
			Embedding:   vectors[i],
			ModelID:     p.embedder.ModelID(),
		}
	}
	if err := p.chunks.UpsertChunkVectors(ctx, chunkVectors); err != nil {
		d, err := p.fail(ctx, documentID, err.Error())
		return d, parsed.Warnings, err
	}

	if err := p.docs.MarkDocumentReady(ctx, documentID, len(persisted)); err != nil {
		return domain.Document{}, parsed.Warnings, fmt.Errorf("mark document ready: %w", err)
	}

	report(domain.PhaseComplete, 100)
	doc.Status = domain.DocumentReady
	doc.ChunkCount = len(persisted)
	return doc, parsed.Warnings, nil
}

func (p *Pipeline) fail(ctx context.Context, documentID, errMsg string) (domain.Document, error) {
	if updateErr := p.docs.UpdateDocumentStatus(ctx, documentID, domain.DocumentFailed, errMsg); updateErr != nil {
		return domain.Document{}, fmt.Errorf("%s (and failed to record status: %v)", errMsg, updateErr)
	}
	return domain.Document{ID: documentID, Status: domain.DocumentFailed, ErrorMessage: errMsg}, fmt.Errorf("%s", errMsg)
}

func hashContent(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func buildFingerprintMetadata(base map[string]string, strategy string, cs chunking.Settings, embeddingProvider string, emb Embedder) map[string]string {
	meta := make(map[string]string, len(base)+6)
	for k, v := range base {
		meta[k] = v
	}
	meta[domain.MetaChunkingStrategy] = strategy
	meta[domain.MetaChunkingMaxSize] = strconv.Itoa(cs.MaxChunkSize)
	meta[domain.MetaChunkingOverlap] = strconv.Itoa(cs.Overlap)
	meta[domain.MetaEmbeddingProvider] = embeddingProvider
	if emb != nil {
		meta[domain.MetaEmbeddingModel] = emb.ModelID()
		meta[domain.MetaEmbeddingDimensions] = strconv.Itoa(emb.Dimension())
	}
	return meta
}

// mergeParsedMetadata copies the parser's structural metadata (e.g. page
// count, sheet count) into a chunk's metadata without clobbering the
// ChunkingStrategy/ChunkIndex keys the chunker registry already stamped.
func mergeParsedMetadata(chunkMeta, parsedMeta map[string]string) {
	for k, v := range parsedMeta {
		if k == domain.MetaChunkingStrategyField || k == domain.MetaChunkIndexField {
			continue
		}
		if _, exists := chunkMeta[k]; !exists {
			chunkMeta[k] = v
		}
	}
}
