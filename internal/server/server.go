// Package server wires the HTTP surface onto the indexing and retrieval
// components: a handful of illustrative handlers behind chi for manual
// testing, not a full API gateway. Routes cover containers, folders,
// documents, search, reindex, and settings.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/fabfab/knowledgebase/internal/config"
	"github.com/fabfab/knowledgebase/internal/contentstore"
	"github.com/fabfab/knowledgebase/internal/domain"
	"github.com/fabfab/knowledgebase/internal/settings"
)

// Catalog is the subset of catalog.Service the server needs.
type Catalog interface {
	CreateContainer(ctx context.Context, name, description string) (domain.Container, error)
	GetContainer(ctx context.Context, id string) (domain.Container, error)
	ListContainers(ctx context.Context) ([]domain.Container, error)
	DeleteContainer(ctx context.Context, id string) error
	CreateFolder(ctx context.Context, containerID, path string) (domain.Folder, error)
	ListFolders(ctx context.Context, containerID string) ([]domain.Folder, error)
	DeleteFolder(ctx context.Context, containerID, path string) error
	ListDocuments(ctx context.Context, containerID, pathPrefix string) ([]domain.Document, error)
	GetDocument(ctx context.Context, id string) (domain.Document, error)
	DeleteDocument(ctx context.Context, id string) error
}

// JobQueue is the subset of jobqueue.Queue the server needs.
type JobQueue interface {
	Enqueue(ctx context.Context, job domain.IngestionJob) error
	GetStatus(jobID string) (domain.IngestionJobStatus, bool)
	CancelByDocumentID(documentID string) bool
}

// Searcher is the subset of search.Searcher the server needs.
type Searcher interface {
	Search(ctx context.Context, query string, opts domain.SearchOptions, rerankerName string) (domain.SearchResult, error)
}

// ReindexPolicy mirrors reindex.Policy without importing that package,
// keeping the server's dependency surface limited to what it dispatches.
type ReindexPolicy struct {
	Force                 bool
	DetectSettingsChanges bool
	StrategyOverride      string
}

// Reindexer is the subset of reindex.Controller the server needs.
type Reindexer interface {
	Reindex(ctx context.Context, containerID string, documentIDs []string, policy ReindexPolicy) (domain.ReindexSummary, error)
}

// SettingsStore is the subset of settingsstore.Service the server needs.
type SettingsStore interface {
	UpdateEmbedding(ctx context.Context, next settings.EmbeddingSettings) error
	UpdateChunking(ctx context.Context, next settings.ChunkingSettings) error
	UpdateSearch(ctx context.Context, next settings.SearchSettings) error
	UpdateUpload(ctx context.Context, next settings.UploadSettings) error
	UpdateStorage(ctx context.Context, next settings.StorageSettings) error
}

// SettingsSource is the subset of settings.Watcher the server needs.
type SettingsSource interface {
	Snapshot() *settings.Snapshot
}

// ProgressSink is the subset of progress.ChannelSink the server needs to
// let a client subscribe to a job's status updates.
type ProgressSink interface {
	Subscribe(jobID string) (<-chan domain.IngestionJobStatus, func())
}

// Server wires HTTP handlers to the underlying services.
type Server struct {
	cfg      config.Config
	router   http.Handler
	catalog  Catalog
	content  contentstore.Store
	queue    JobQueue
	search   Searcher
	reindex  Reindexer
	settings SettingsStore
	live     SettingsSource
	sink     ProgressSink
	log      zerolog.Logger
}

// New constructs a Server with the provided dependencies.
func New(
	cfg config.Config,
	catalogSvc Catalog,
	content contentstore.Store,
	queue JobQueue,
	searcher Searcher,
	reindexer Reindexer,
	settingsSvc SettingsStore,
	live SettingsSource,
	sink ProgressSink,
	log zerolog.Logger,
) *Server {
	mux := chi.NewRouter()
	mux.Use(middleware.RequestID)
	mux.Use(middleware.RealIP)
	mux.Use(middleware.Logger)
	mux.Use(middleware.Recoverer)
	mux.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://127.0.0.1:5173"},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-CSRF-Token"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	s := &Server{
		cfg:      cfg,
		router:   mux,
		catalog:  catalogSvc,
		content:  content,
		queue:    queue,
		search:   searcher,
		reindex:  reindexer,
		settings: settingsSvc,
		live:     live,
		sink:     sink,
		log:      log,
	}

	mux.Get("/api/health", s.handleHealth)

	mux.Post("/api/containers", s.handleCreateContainer)
	mux.Get("/api/containers", s.handleListContainers)
	mux.Get("/api/containers/{containerId}", s.handleGetContainer)
	mux.Delete("/api/containers/{containerId}", s.handleDeleteContainer)

	mux.Post("/api/containers/{containerId}/folders", s.handleCreateFolder)
	mux.Get("/api/containers/{containerId}/folders", s.handleListFolders)
	mux.Delete("/api/containers/{containerId}/folders", s.handleDeleteFolder)

	mux.Get("/api/containers/{containerId}/documents", s.handleListDocuments)
	mux.Post("/api/containers/{containerId}/documents", s.handleUploadDocument)
	mux.Get("/api/documents/{documentId}", s.handleGetDocument)
	mux.Delete("/api/documents/{documentId}", s.handleDeleteDocument)

	mux.Post("/api/containers/{containerId}/search", s.handleSearch)
	mux.Post("/api/containers/{containerId}/reindex", s.handleReindex)

	mux.Get("/api/jobs/{jobId}", s.handleGetJobStatus)
	mux.Get("/api/jobs/{jobId}/stream", s.handleStreamJobStatus)

	mux.Get("/api/settings", s.handleGetSettings)
	mux.Put("/api/settings/embedding", s.handleUpdateEmbeddingSettings)
	mux.Put("/api/settings/chunking", s.handleUpdateChunkingSettings)
	mux.Put("/api/settings/search", s.handleUpdateSearchSettings)
	mux.Put("/api/settings/upload", s.handleUpdateUploadSettings)
	mux.Put("/api/settings/storage", s.handleUpdateStorageSettings)

	return s
}

// ServeHTTP exposes the router so Server satisfies http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCreateContainer(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	if err := domain.ValidateContainerName(payload.Name); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	c, err := s.catalog.CreateContainer(r.Context(), payload.Name, payload.Description)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("create container: %w", err))
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"container": c})
}

func (s *Server) handleListContainers(w http.ResponseWriter, r *http.Request) {
	containers, err := s.catalog.ListContainers(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("list containers: %w", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"containers": containers})
}

func (s *Server) handleGetContainer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "containerId")
	c, err := s.catalog.GetContainer(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"container": c})
}

func (s *Server) handleDeleteContainer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "containerId")
	if err := s.catalog.DeleteContainer(r.Context(), id); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCreateFolder(w http.ResponseWriter, r *http.Request) {
	containerID := chi.URLParam(r, "containerId")
	var payload struct {
		Path string `json:"path"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	folder, err := s.catalog.CreateFolder(r.Context(), containerID, payload.Path)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("create folder: %w", err))
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"folder": folder})
}

func (s *Server) handleListFolders(w http.ResponseWriter, r *http.Request) {
	containerID := chi.URLParam(r, "containerId")
	folders, err := s.catalog.ListFolders(r.Context(), containerID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("list folders: %w", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"folders": folders})
}

func (s *Server) handleDeleteFolder(w http.ResponseWriter, r *http.Request) {
	containerID := chi.URLParam(r, "containerId")
	folderPath := r.URL.Query().Get("path")
	if folderPath == "" {
		writeError(w, http.StatusBadRequest, errors.New("missing path query parameter"))
		return
	}
	if err := s.catalog.DeleteFolder(r.Context(), containerID, folderPath); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("delete folder: %w", err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	containerID := chi.URLParam(r, "containerId")
	prefix := r.URL.Query().Get("path")
	docs, err := s.catalog.ListDocuments(r.Context(), containerID, prefix)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("list documents: %w", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "documentId")
	doc, err := s.catalog.GetDocument(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"document": doc})
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "documentId")
	if cancelled := s.queue.CancelByDocumentID(id); cancelled {
		s.log.Info().Str("documentId", id).Msg("cancelled in-flight ingestion before delete")
	}
	if err := s.catalog.DeleteDocument(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("delete document: %w", err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleUploadDocument accepts a multipart upload, persists the blob under
// a container-scoped virtual path, and enqueues an ingestion job. The
// response carries the queued job id, not a finished document: ingestion
// runs asynchronously on the worker pool.
func (s *Server) handleUploadDocument(w http.ResponseWriter, r *http.Request) {
	containerID := chi.URLParam(r, "containerId")

	if err := r.ParseMultipartForm(64 << 20); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("parse form: %w", err))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("read file: %w", err))
		return
	}
	defer file.Close()

	folderPath := r.FormValue("path")
	if folderPath == "" {
		folderPath = "/"
	}

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("read upload: %w", err))
		return
	}

	docPath := path.Join(domain.NormalizeFolderPath(folderPath), header.Filename)
	storagePath := path.Join("/", containerID, docPath)

	if err := s.content.Save(r.Context(), storagePath, strings.NewReader(string(data)), int64(len(data))); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("store blob: %w", err))
		return
	}

	job := domain.IngestionJob{
		JobID:       uuid.NewString(),
		StoragePath: storagePath,
		Options: domain.IngestionOptions{
			FileName:    header.Filename,
			ContentType: header.Header.Get("Content-Type"),
			ContainerID: containerID,
			Path:        docPath,
		},
	}
	if err := s.queue.Enqueue(r.Context(), job); err != nil {
		writeError(w, http.StatusServiceUnavailable, fmt.Errorf("enqueue ingestion: %w", err))
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{"jobId": job.JobID})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	containerID := chi.URLParam(r, "containerId")

	var payload struct {
		Query      string            `json:"query"`
		Mode       string            `json:"mode"`
		TopK       int               `json:"topK"`
		MinScore   float64           `json:"minScore"`
		PathPrefix string            `json:"pathPrefix"`
		DocumentID string            `json:"documentId"`
		Filters    map[string]string `json:"filters"`
		Reranker   string            `json:"reranker"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	live := s.live.Snapshot()
	mode := domain.SearchMode(payload.Mode)
	if mode == "" {
		mode = domain.SearchMode(live.Search.Mode)
	}
	reranker := payload.Reranker
	if reranker == "" {
		reranker = live.Search.Reranker
	}
	topK := payload.TopK
	if topK <= 0 {
		topK = live.Search.TopK
	}

	opts := domain.SearchOptions{
		Mode:        mode,
		TopK:        topK,
		MinScore:    payload.MinScore,
		ContainerID: containerID,
		DocumentID:  payload.DocumentID,
		PathPrefix:  payload.PathPrefix,
		Filters:     payload.Filters,
	}

	result, err := s.search.Search(r.Context(), payload.Query, opts, reranker)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("search: %w", err))
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleReindex(w http.ResponseWriter, r *http.Request) {
	containerID := chi.URLParam(r, "containerId")

	var payload struct {
		DocumentIDs           []string `json:"documentIds"`
		Force                 bool     `json:"force"`
		DetectSettingsChanges bool     `json:"detectSettingsChanges"`
		StrategyOverride      string   `json:"strategyOverride"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
			return
		}
	}

	summary, err := s.reindex.Reindex(r.Context(), containerID, payload.DocumentIDs, ReindexPolicy{
		Force:                 payload.Force,
		DetectSettingsChanges: payload.DetectSettingsChanges,
		StrategyOverride:      payload.StrategyOverride,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("reindex: %w", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"summary": summary})
}

func (s *Server) handleGetJobStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobId")
	status, ok := s.queue.GetStatus(id)
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("job not found"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": status})
}

// handleStreamJobStatus pushes the progress broadcaster's updates for one
// job over Server-Sent Events, closing when the client disconnects or the
// job reaches a terminal state.
func (s *Server) handleStreamJobStatus(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.New("streaming unsupported"))
		return
	}

	jobID := chi.URLParam(r, "jobId")
	updates, unsubscribe := s.sink.Subscribe(jobID)
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			payload, err := json.Marshal(update)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
			if update.State == domain.JobCompleted || update.State == domain.JobFailed {
				return
			}
		}
	}
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.live.Snapshot())
}

func (s *Server) handleUpdateEmbeddingSettings(w http.ResponseWriter, r *http.Request) {
	var next settings.EmbeddingSettings
	if err := json.NewDecoder(r.Body).Decode(&next); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	if err := s.settings.UpdateEmbedding(r.Context(), next); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("update embedding settings: %w", err))
		return
	}
	writeJSON(w, http.StatusOK, next)
}

func (s *Server) handleUpdateChunkingSettings(w http.ResponseWriter, r *http.Request) {
	var next settings.ChunkingSettings
	if err := json.NewDecoder(r.Body).Decode(&next); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	if err := s.settings.UpdateChunking(r.Context(), next); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("update chunking settings: %w", err))
		return
	}
	writeJSON(w, http.StatusOK, next)
}

func (s *Server) handleUpdateSearchSettings(w http.ResponseWriter, r *http.Request) {
	var next settings.SearchSettings
	if err := json.NewDecoder(r.Body).Decode(&next); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	if err := s.settings.UpdateSearch(r.Context(), next); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("update search settings: %w", err))
		return
	}
	writeJSON(w, http.StatusOK, next)
}

func (s *Server) handleUpdateUploadSettings(w http.ResponseWriter, r *http.Request) {
	var next settings.UploadSettings
	if err := json.NewDecoder(r.Body).Decode(&next); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	if err := s.settings.UpdateUpload(r.Context(), next); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("update upload settings: %w", err))
		return
	}
	writeJSON(w, http.StatusOK, next)
}

func (s *Server) handleUpdateStorageSettings(w http.ResponseWriter, r *http.Request) {
	var next settings.StorageSettings
	if err := json.NewDecoder(r.Body).Decode(&next); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	if err := s.settings.UpdateStorage(r.Context(), next); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("update storage settings: %w", err))
		return
	}
	writeJSON(w, http.StatusOK, next)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		fmt.Printf("failed to write JSON response: %v\n", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{
		"error": err.Error(),
	})
}
