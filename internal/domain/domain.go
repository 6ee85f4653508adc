// Package domain defines the core entities shared across every component of
// the indexing and retrieval service: containers, folders, documents,
// chunks, chunk vectors, ingestion jobs, and their status.
package domain

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// DocumentStatus is the lifecycle state of a Document.
type DocumentStatus string

const (
	DocumentPending    DocumentStatus = "Pending"
	DocumentProcessing DocumentStatus = "Processing"
	DocumentReady      DocumentStatus = "Ready"
	DocumentFailed     DocumentStatus = "Failed"
)

// Fingerprint metadata keys recorded on a Document whenever it is indexed.
const (
	MetaChunkingStrategy       = "IndexedWith:ChunkingStrategy"
	MetaChunkingMaxSize        = "IndexedWith:ChunkingMaxSize"
	MetaChunkingOverlap        = "IndexedWith:ChunkingOverlap"
	MetaEmbeddingProvider      = "IndexedWith:EmbeddingProvider"
	MetaEmbeddingModel         = "IndexedWith:EmbeddingModel"
	MetaEmbeddingDimensions    = "IndexedWith:EmbeddingDimensions"
	MetaChunkingStrategyField  = "ChunkingStrategy"
	MetaChunkIndexField        = "ChunkIndex"
)

var containerNameRE = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*[a-z0-9]$`)

// Container is a named isolation boundary that owns folders and documents.
type Container struct {
	ID          string
	Name        string
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ValidateContainerName enforces the container naming invariant:
// lower-case, 2..64 chars, `^[a-z0-9][a-z0-9-]*[a-z0-9]$`.
func ValidateContainerName(name string) error {
	lower := strings.ToLower(name)
	if len(lower) < 2 || len(lower) > 64 {
		return fmt.Errorf("container name must be 2-64 characters, got %d", len(lower))
	}
	if !containerNameRE.MatchString(lower) {
		return fmt.Errorf("container name %q does not match required pattern", name)
	}
	return nil
}

// Folder is a hierarchical path inside a container.
type Folder struct {
	ID          string
	ContainerID string
	Path        string
	CreatedAt   time.Time
}

// NormalizeFolderPath ensures a path begins and ends with "/".
func NormalizeFolderPath(path string) string {
	p := strings.TrimSpace(path)
	if p == "" {
		p = "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if !strings.HasSuffix(p, "/") {
		p = p + "/"
	}
	return p
}

// Document is a file registered for indexing within a container.
type Document struct {
	ID            string
	ContainerID   string
	FileName      string
	ContentType   string
	Path          string
	ContentHash   string
	SizeBytes     int64
	ChunkCount    int
	Status        DocumentStatus
	ErrorMessage  string
	CreatedAt     time.Time
	LastIndexedAt *time.Time
	Metadata      map[string]string
}

// Chunk is a text span belonging to exactly one Document.
type Chunk struct {
	ID          string
	DocumentID  string
	ContainerID string
	Content     string
	ChunkIndex  int
	TokenCount  int
	StartOffset int
	EndOffset   int
	Metadata    map[string]string
}

// ChunkVector is the dense embedding for exactly one Chunk.
type ChunkVector struct {
	ChunkID     string
	DocumentID  string
	ContainerID string
	Embedding   []float32
	ModelID     string
}

// JobState is the observable lifecycle state of an IngestionJob.
type JobState string

const (
	JobQueued     JobState = "Queued"
	JobProcessing JobState = "Processing"
	JobCompleted  JobState = "Completed"
	JobFailed     JobState = "Failed"
)

// JobPhase is the current phase within a Processing job.
type JobPhase string

const (
	PhaseParsing  JobPhase = "Parsing"
	PhaseChunking JobPhase = "Chunking"
	PhaseEmbedding JobPhase = "Embedding"
	PhaseStoring  JobPhase = "Storing"
	PhaseComplete JobPhase = "Complete"
)

// IngestionOptions parameterizes a single document ingest run.
type IngestionOptions struct {
	DocumentID  string
	FileName    string
	ContentType string
	ContainerID string
	Path        string
	Strategy    string
	Metadata    map[string]string
}

// IngestionJob is a unit of work queued for a worker.
type IngestionJob struct {
	JobID       string
	DocumentID  string
	StoragePath string
	Options     IngestionOptions
	BatchID     string
}

// IngestionJobStatus is the observable status of a queued/running job.
type IngestionJobStatus struct {
	JobID           string
	State           JobState
	CurrentPhase    JobPhase
	PercentComplete int
	ErrorMessage    string
	StartedAt       *time.Time
	CompletedAt     *time.Time
}

// ReindexReason explains why the reindex controller chose to (not) enqueue
// a document.
type ReindexReason string

const (
	ReasonForced                   ReindexReason = "Forced"
	ReasonFileNotFound             ReindexReason = "FileNotFound"
	ReasonError                    ReindexReason = "Error"
	ReasonContentChanged           ReindexReason = "ContentChanged"
	ReasonChunkingSettingsChanged  ReindexReason = "ChunkingSettingsChanged"
	ReasonEmbeddingSettingsChanged ReindexReason = "EmbeddingSettingsChanged"
	ReasonNeverIndexed             ReindexReason = "NeverIndexed"
	ReasonUnchanged                ReindexReason = "Unchanged"
)

// ReindexDecision is the per-document outcome of the reindex controller.
type ReindexDecision struct {
	DocumentID string
	Enqueued   bool
	Reason     ReindexReason
	Error      string
}

// ReindexSummary aggregates a batch of ReindexDecisions.
type ReindexSummary struct {
	BatchID         string
	TotalDocuments  int
	EnqueuedCount   int
	SkippedCount    int
	FailedCount     int
	ReasonCounts    map[ReindexReason]int
	Documents       []ReindexDecision
}

// SearchMode selects which sub-searches the hybrid searcher runs.
type SearchMode string

const (
	SearchSemantic SearchMode = "Semantic"
	SearchKeyword  SearchMode = "Keyword"
	SearchHybrid   SearchMode = "Hybrid"
)

// SearchOptions parameterizes a hybrid search call.
type SearchOptions struct {
	Mode        SearchMode
	TopK        int
	MinScore    float64
	ContainerID string
	DocumentID  string
	PathPrefix  string
	Filters     map[string]string
}

// SearchHit is a single scored result from the hybrid searcher.
type SearchHit struct {
	ChunkID    string
	DocumentID string
	Content    string
	Score      float64
	Metadata   map[string]string
}

// SearchResult is the full response to a hybrid search call.
type SearchResult struct {
	Hits         []SearchHit
	TotalMatches int
	Duration     time.Duration
}
