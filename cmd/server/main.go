package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fabfab/knowledgebase/internal/catalog"
	"github.com/fabfab/knowledgebase/internal/chunking"
	"github.com/fabfab/knowledgebase/internal/config"
	"github.com/fabfab/knowledgebase/internal/contentstore"
	"github.com/fabfab/knowledgebase/internal/domain"
	"github.com/fabfab/knowledgebase/internal/embedder"
	"github.com/fabfab/knowledgebase/internal/ingest"
	"github.com/fabfab/knowledgebase/internal/jobqueue"
	"github.com/fabfab/knowledgebase/internal/llmclient"
	"github.com/fabfab/knowledgebase/internal/logging"
	"github.com/fabfab/knowledgebase/internal/parsing"
	"github.com/fabfab/knowledgebase/internal/progress"
	"github.com/fabfab/knowledgebase/internal/reindex"
	"github.com/fabfab/knowledgebase/internal/rerank"
	"github.com/fabfab/knowledgebase/internal/search"
	"github.com/fabfab/knowledgebase/internal/server"
	"github.com/fabfab/knowledgebase/internal/settings"
	"github.com/fabfab/knowledgebase/internal/settingsstore"
	"github.com/fabfab/knowledgebase/internal/store"
	"github.com/fabfab/knowledgebase/internal/workerpool"
	"github.com/rs/zerolog"
)

func main() {
	var (
		showVersion bool
		configPath  string
	)
	flag.BoolVar(&showVersion, "version", false, "print version information and exit")
	flag.StringVar(&configPath, "config", "", "path to an optional YAML config file")
	flag.Parse()

	if showVersion {
		fmt.Println("knowledgebase dev build")
		return
	}

	log := logging.New(os.Stderr)

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	settingsWatcher, err := settings.NewWatcher(cfg.SettingsFile)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load settings file")
	}

	connectCtx, cancelConnect := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelConnect()

	relStore, err := store.New(connectCtx, cfg.Database.URL, cfg.Database.MaxConnections, cfg.Embed.Dimension)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect store")
	}
	defer relStore.Close()

	settingsSvc := settingsstore.New(settingsWatcher, relStore)
	if err := settingsSvc.Bootstrap(connectCtx); err != nil {
		log.Fatal().Err(err).Msg("failed to bootstrap persisted settings")
	}

	contentSt, err := newContentStore(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up content store")
	}

	emb := embedder.New(embedder.Config{
		BaseURL:   cfg.Embed.BaseURL,
		Model:     cfg.Embed.Model,
		Dimension: cfg.Embed.Dimension,
	}, logging.Component(log, "embedder"))

	llm := rerankLLMAdapter{llmclient.New(cfg.LLM.BaseURL, cfg.LLM.Model, 60*time.Second)}

	parsers := parsing.NewRegistry()
	chunkers := chunking.NewRegistry(emb)

	snap := settingsWatcher.Snapshot()
	rerankers := rerank.NewRegistry(snap.Search.RRFK, llm, snap.Search.CrossEncoderModel)

	queue := jobqueue.New(256)
	pipeline := ingest.New(relStore, relStore, parsers, chunkers, emb)

	buildParams := func(job domain.IngestionJob) ingest.Params {
		live := settingsWatcher.Snapshot()
		strategy := job.Options.Strategy
		if strategy == "" {
			strategy = live.Chunking.Strategy
		}
		return ingest.Params{
			Options:          job.Options,
			ChunkingStrategy: strategy,
			ChunkingSettings: chunking.Settings{
				MaxChunkSize:        live.Chunking.MaxChunkSize,
				Overlap:             live.Chunking.Overlap,
				MinChunkSize:        live.Chunking.MinChunkSize,
				SemanticThreshold:   live.Chunking.SemanticThreshold,
				RecursiveSeparators: live.Chunking.RecursiveSeparators,
			},
			EmbeddingProvider: live.Embedding.Provider,
		}
	}

	pool := workerpool.New(queue, contentSt, pipeline, buildParams, snap.Upload.ParallelWorkers, logging.Component(log, "workerpool"))

	sink := progress.NewChannelSink()
	broadcaster := progress.New(queue, sink, logging.Component(log, "progress"))

	searcher := search.New(relStore, emb, relStore, rerankers)
	reindexer := reindex.New(relStore, contentSt, queue, settingsWatcher)
	catalogSvc := catalog.New(relStore, contentSt)

	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()
	go pool.Run(workerCtx)
	go broadcaster.Run(workerCtx)

	srv := server.New(cfg, catalogSvc, contentSt, queue, searcher, reindexAdapter{reindexer}, settingsSvc, settingsWatcher, sink, logging.Component(log, "server"))

	httpServer := &http.Server{
		Addr:    cfg.Address,
		Handler: srv,
	}

	log.Info().Str("address", cfg.Address).Str("dataDir", cfg.DataDir).Msg("starting server")

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server error")
		}
	}()

	waitForShutdown(httpServer, stopWorkers, log)
}

// rerankLLMAdapter satisfies rerank.LLM over an llmclient.Client, converting
// between the two packages' identical-shaped but distinct Message types.
type rerankLLMAdapter struct {
	client llmclient.Client
}

func (a rerankLLMAdapter) Generate(ctx context.Context, messages []rerank.Message) (string, error) {
	converted := make([]llmclient.Message, len(messages))
	for i, m := range messages {
		converted[i] = llmclient.Message{Role: m.Role, Content: m.Content}
	}
	return a.client.Generate(ctx, converted)
}

// reindexAdapter lets *reindex.Controller satisfy server.Reindexer without
// the server package importing internal/reindex for its Policy type.
type reindexAdapter struct {
	controller *reindex.Controller
}

func (a reindexAdapter) Reindex(ctx context.Context, containerID string, documentIDs []string, policy server.ReindexPolicy) (domain.ReindexSummary, error) {
	return a.controller.Reindex(ctx, containerID, documentIDs, reindex.Policy{
		Force:                 policy.Force,
		DetectSettingsChanges: policy.DetectSettingsChanges,
		StrategyOverride:      policy.StrategyOverride,
	})
}

func newContentStore(cfg config.Config) (contentstore.Store, error) {
	switch cfg.Storage.Provider {
	case "minio":
		return contentstore.NewMinioStore(
			context.Background(),
			cfg.Storage.MinioEndpoint,
			cfg.Storage.MinioAccessKey,
			cfg.Storage.MinioSecretKey,
			cfg.Storage.MinioBucket,
			cfg.Storage.MinioUseSSL,
		)
	default:
		return contentstore.NewLocalStore(cfg.Storage.LocalRootPath)
	}
}

func waitForShutdown(srv *http.Server, stopWorkers context.CancelFunc, log zerolog.Logger) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	stopWorkers()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("graceful shutdown failed")
		if err := srv.Close(); err != nil {
			log.Error().Err(err).Msg("forced close failed")
		}
	}

	log.Info().Msg("server stopped")
}
