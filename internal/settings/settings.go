// Package settings models the live-mutable, category-keyed configuration
// from as an immutable snapshot published through a watchable
// handle: readers call Snapshot() once at operation entry so a concurrent
// settings change can never tear a single ingestion or search across two
// configurations.
package settings

import (
	"fmt"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// EmbeddingSettings is the Embedding settings category.
type EmbeddingSettings struct {
	Provider        string
	Model           string
	Dimensions      int
	BaseURL         string
	APIKey          string
	BatchSize       int
	TimeoutSeconds  int
}

// ChunkingSettings is the Chunking settings category.
type ChunkingSettings struct {
	Strategy                string // FixedSize, Recursive, Semantic, DocumentAware
	MaxChunkSize            int
	Overlap                 int
	MinChunkSize            int
	SemanticThreshold       float64
	RecursiveSeparators     []string
	RespectDocumentStructure bool
}

// SearchSettings is the Search settings category.
type SearchSettings struct {
	Mode                SearchModeDefault
	TopK                int
	Reranker            string // None, RRF, CrossEncoder
	RRFK                int
	VectorWeight        float64
	MinimumScore        float64
	CrossEncoderModel   string
	EnableQueryExpansion bool
	IncludeWebSearch    bool
}

// SearchModeDefault mirrors domain.SearchMode without importing domain,
// keeping the settings package dependency-free of the core entity model.
type SearchModeDefault string

// UploadSettings is the Upload settings category.
type UploadSettings struct {
	MaxFileSizeMb       int
	AllowedExtensions   []string
	DefaultPath         string
	ParallelWorkers     int
	AutoStartIngestion  bool
	BatchSize           int
}

// MinioSettings groups the minio-specific Storage sub-keys.
type MinioSettings struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// AzureBlobSettings groups the azure-blob-specific Storage sub-keys.
type AzureBlobSettings struct {
	ConnectionString string
	ContainerName    string
}

// StorageSettings is the Storage settings category.
type StorageSettings struct {
	VectorStoreProvider   string
	DocumentStoreProvider string
	FileStorageProvider   string
	Minio                 MinioSettings
	LocalStorageRootPath  string
	AzureBlob             AzureBlobSettings
}

// Snapshot is an immutable view of all settings categories at a point in
// time. A new Snapshot is published whenever the backing config changes.
type Snapshot struct {
	Embedding EmbeddingSettings
	Chunking  ChunkingSettings
	Search    SearchSettings
	Upload    UploadSettings
	Storage   StorageSettings
}

// Watcher publishes Snapshots and lets readers take one atomically.
type Watcher struct {
	v       *viper.Viper
	current atomic.Pointer[Snapshot]
	onChange []func(*Snapshot)
}

// NewWatcher loads settings from the given YAML file and watches it for
// changes via fsnotify, publishing a fresh Snapshot on every write.
func NewWatcher(path string) (*Watcher, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	applyDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read settings file: %w", err)
		}
	}

	w := &Watcher{v: v}
	snap, err := decode(v)
	if err != nil {
		return nil, err
	}
	w.current.Store(snap)

	v.OnConfigChange(func(_ fsnotify.Event) {
		if snap, err := decode(v); err == nil {
			w.current.Store(snap)
			for _, cb := range w.onChange {
				cb(snap)
			}
		}
	})
	v.WatchConfig()

	return w, nil
}

func applyDefaults(v *viper.Viper) {
	v.SetDefault("embedding.provider", "ollama")
	v.SetDefault("embedding.model", "nomic-embed-text")
	v.SetDefault("embedding.dimensions", 768)
	v.SetDefault("embedding.batch_size", 32)
	v.SetDefault("embedding.timeout_seconds", 30)

	v.SetDefault("chunking.strategy", "Recursive")
	v.SetDefault("chunking.max_chunk_size", 512)
	v.SetDefault("chunking.overlap", 64)
	v.SetDefault("chunking.min_chunk_size", 16)
	v.SetDefault("chunking.semantic_threshold", 0.6)
	v.SetDefault("chunking.recursive_separators", []string{"\n\n", "\n", ". ", " "})
	v.SetDefault("chunking.respect_document_structure", true)

	v.SetDefault("search.mode", "Hybrid")
	v.SetDefault("search.top_k", 10)
	v.SetDefault("search.reranker", "RRF")
	v.SetDefault("search.rrf_k", 60)
	v.SetDefault("search.vector_weight", 0.5)
	v.SetDefault("search.minimum_score", 0.0)
	v.SetDefault("search.enable_query_expansion", false)
	v.SetDefault("search.include_web_search", false)

	v.SetDefault("upload.max_file_size_mb", 50)
	v.SetDefault("upload.allowed_extensions", []string{".txt", ".md", ".pdf", ".docx", ".xlsx", ".xls"})
	v.SetDefault("upload.default_path", "/")
	v.SetDefault("upload.parallel_workers", 4)
	v.SetDefault("upload.auto_start_ingestion", true)
	v.SetDefault("upload.batch_size", 16)

	v.SetDefault("storage.vector_store_provider", "postgres")
	v.SetDefault("storage.document_store_provider", "postgres")
	v.SetDefault("storage.file_storage_provider", "local")
	v.SetDefault("storage.local_storage_root_path", "./data/blobs")
	v.SetDefault("storage.minio.use_ssl", false)
}

func decode(v *viper.Viper) (*Snapshot, error) {
	snap := &Snapshot{
		Embedding: EmbeddingSettings{
			Provider:       v.GetString("embedding.provider"),
			Model:          v.GetString("embedding.model"),
			Dimensions:     v.GetInt("embedding.dimensions"),
			BaseURL:        v.GetString("embedding.base_url"),
			APIKey:         v.GetString("embedding.api_key"),
			BatchSize:      v.GetInt("embedding.batch_size"),
			TimeoutSeconds: v.GetInt("embedding.timeout_seconds"),
		},
		Chunking: ChunkingSettings{
			Strategy:                 v.GetString("chunking.strategy"),
			MaxChunkSize:             v.GetInt("chunking.max_chunk_size"),
			Overlap:                  v.GetInt("chunking.overlap"),
			MinChunkSize:             v.GetInt("chunking.min_chunk_size"),
			SemanticThreshold:        v.GetFloat64("chunking.semantic_threshold"),
			RecursiveSeparators:      v.GetStringSlice("chunking.recursive_separators"),
			RespectDocumentStructure: v.GetBool("chunking.respect_document_structure"),
		},
		Search: SearchSettings{
			Mode:                 SearchModeDefault(v.GetString("search.mode")),
			TopK:                 v.GetInt("search.top_k"),
			Reranker:             v.GetString("search.reranker"),
			RRFK:                 v.GetInt("search.rrf_k"),
			VectorWeight:         v.GetFloat64("search.vector_weight"),
			MinimumScore:         v.GetFloat64("search.minimum_score"),
			CrossEncoderModel:    v.GetString("search.cross_encoder_model"),
			EnableQueryExpansion: v.GetBool("search.enable_query_expansion"),
			IncludeWebSearch:     v.GetBool("search.include_web_search"),
		},
		Upload: UploadSettings{
			MaxFileSizeMb:      v.GetInt("upload.max_file_size_mb"),
			AllowedExtensions:  v.GetStringSlice("upload.allowed_extensions"),
			DefaultPath:        v.GetString("upload.default_path"),
			ParallelWorkers:    v.GetInt("upload.parallel_workers"),
			AutoStartIngestion: v.GetBool("upload.auto_start_ingestion"),
			BatchSize:          v.GetInt("upload.batch_size"),
		},
		Storage: StorageSettings{
			VectorStoreProvider:   v.GetString("storage.vector_store_provider"),
			DocumentStoreProvider: v.GetString("storage.document_store_provider"),
			FileStorageProvider:   v.GetString("storage.file_storage_provider"),
			Minio: MinioSettings{
				Endpoint:  v.GetString("storage.minio.endpoint"),
				AccessKey: v.GetString("storage.minio.access_key"),
				SecretKey: v.GetString("storage.minio.secret_key"),
				Bucket:    v.GetString("storage.minio.bucket_name"),
				UseSSL:    v.GetBool("storage.minio.use_ssl"),
			},
			LocalStorageRootPath: v.GetString("storage.local_storage_root_path"),
			AzureBlob: AzureBlobSettings{
				ConnectionString: v.GetString("storage.azure_blob.connection_string"),
				ContainerName:    v.GetString("storage.azure_blob.container_name"),
			},
		},
	}
	return snap, nil
}

// Snapshot returns the current settings snapshot. Safe for concurrent use.
func (w *Watcher) Snapshot() *Snapshot {
	return w.current.Load()
}

// Replace atomically publishes a new snapshot and fires the same
// OnChange callbacks a file-driven reload would. Used by settingsstore to
// apply a programmatic mutation without waiting on fsnotify.
func (w *Watcher) Replace(snap *Snapshot) {
	w.current.Store(snap)
	for _, cb := range w.onChange {
		cb(snap)
	}
}

// OnChange registers a callback invoked with the new snapshot every time
// settings are reloaded: mutating a setting triggers a change
// notification to every registered reader.
func (w *Watcher) OnChange(cb func(*Snapshot)) {
	w.onChange = append(w.onChange, cb)
}
