package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"seen/features/document"
	"seen/features/job"
	"seen/features/mcp"
	"seen/features/reindex"
	"seen/features/search"
	"seen/features/stats"
	"seen/internal/adapter/cloudflare"
	"seen/internal/adapter/gemini"
	"seen/internal/adapter/workersai"
	"seen/internal/ann"
	"seen/internal/blob"
	"seen/internal/config"
	"seen/internal/embedding"
	"seen/internal/fetch"
	"seen/internal/index"
	"seen/internal/middleware"
	"seen/internal/retrieval"
	"seen/internal/settings"
	"seen/internal/text"
	"seen/internal/worker"

	"github.com/nsqio/go-nsq"
)

// TaskPublisher is satisfied by *nsq.Producer.
type TaskPublisher interface {
	Publish(topic string, body []byte) error
}

// Options overrides collaborators New would otherwise build from config.
type Options struct {
	Embedder   embedding.Embedder
	Processor  document.Processor
	Fetcher    document.Fetcher
	Blobs      blob.Store
	Cloudflare *cloudflare.Client
}

type App struct {
	Handler         http.Handler
	Documents       *document.Service
	Coordinator     *index.Coordinator
	Retrieval       *retrieval.Service
	IngestConsumer  *worker.IngestConsumer
	RebuildConsumer *worker.RebuildConsumer

	cfg         *config.Config
	closeBlob   func() error
	queryLogger *retrieval.QueryLogger
	consumers   []*nsq.Consumer
}

func New(
	cfg *config.Config,
	db *sql.DB,
	remote index.RemoteIndex,
	taskPub TaskPublisher,
	logger *slog.Logger,
	opts ...*Options,
) (*App, error) {
	o := &Options{}
	if len(opts) > 0 && opts[0] != nil {
		o = opts[0]
	}

	// Feature: Settings
	settingsRepo := settings.NewPostgresRepo(db)
	settingsService := settings.NewService(settingsRepo)
	seedGeminiKey(settingsService, cfg.GeminiAPIKey)
	settingsHandler := settings.NewHandler(settingsService)

	// Storage
	blobs, closeBlob := o.Blobs, func() error { return nil }
	if blobs == nil {
		var err error
		blobs, closeBlob, err = blob.New(cfg, logger)
		if err != nil {
			return nil, err
		}
	}

	// Adapters
	cf := o.Cloudflare
	if cf == nil {
		cf = cloudflare.New(cloudflare.Options{
			BaseURL:           cfg.CFAPIBaseURL,
			AccountID:         cfg.CFAccountID,
			APIToken:          cfg.CFAPIToken,
			RequestsPerSecond: float64(cfg.CFRequestsPerSec),
		})
	}
	embedder := o.Embedder
	if embedder == nil {
		embedder = newEmbedder(cfg, cf, settingsService)
	}
	processor := o.Processor
	if processor == nil {
		processor = newProcessor(cfg, settingsService)
	}
	fetcher := o.Fetcher
	if fetcher == nil {
		fetcher = fetch.New(nil, 0)
	}

	// Indexes
	metric, err := ann.ParseMetric(cfg.LocalIndexMetric)
	if err != nil {
		closeBlob()
		return nil, err
	}
	backends, err := index.ParseBackends(cfg.Backends())
	if err != nil {
		closeBlob()
		return nil, err
	}
	docRepo := document.NewPostgresRepo(db, cfg.VectorDim)
	local := index.NewLocal(blobs, index.LocalOptions{Key: cfg.SnapshotKey, Dim: cfg.VectorDim, Metric: metric})
	coordinator := index.NewCoordinator(embedder, docRepo, remote, local, index.Options{
		Backends:   backends,
		BatchSize:  cfg.RebuildBatchSize,
		MaxBatches: cfg.RebuildMaxBatches,
	})

	// Feature: Document
	documentService := document.NewService(docRepo, fetcher, processor, blobs, coordinator, taskPub)
	documentHandler := document.NewHandler(documentService)

	// Feature: Job
	jobRepo := job.NewPostgresRepo(db)
	jobService := job.NewService(jobRepo, taskPub)
	jobHandler := job.NewHandler(jobService)

	// Feature: Stats
	statsHandler := stats.NewHandler(documentService, jobRepo)

	// Feature: Retrieval, Search & MCP
	queryLogger, err := retrieval.NewFileQueryLogger(cfg.QueryLogPath)
	if err != nil {
		slog.Warn("failed to create query logger, falling back to stdout", "error", err)
		queryLogger = retrieval.NewQueryLogger(os.Stdout)
	}
	defaults := retrieval.Defaults{TopK: cfg.SearchTopK}
	if b, err := index.ParseBackend(cfg.SearchBackend); err == nil {
		defaults.Backend = b
	}
	retrievalService := retrieval.NewService(embedder, coordinator, documentService, settingsService, queryLogger, defaults)
	searchHandler := search.NewHandler(retrievalService)
	mcpHandler := mcp.NewHandler(retrievalService, documentService)

	// Feature: Reindex
	reindexService := reindex.NewService(coordinator, taskPub)
	reindexHandler := reindex.NewHandler(reindexService)

	// Routes. CORS wraps the whole mux so preflights reach it before
	// method matching.
	mux := http.NewServeMux()
	route := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, middleware.CorrelationID(h))
	}

	route("POST /documents", documentHandler.Create)
	route("GET /documents", documentHandler.List)
	route("DELETE /documents", documentHandler.Delete)
	route("GET /documents/{id}", documentHandler.Get)
	route("GET /documents/{id}/content", documentHandler.Content)
	route("DELETE /documents/{id}", documentHandler.Delete)

	route("GET /search", searchHandler.Search)
	route("POST /admin/reindex", reindexHandler.Reindex)

	route("GET /settings", settingsHandler.GetSettings)
	route("PUT /settings", settingsHandler.UpdateSettings)

	route("GET /jobs/failed", jobHandler.List)
	route("POST /jobs/{id}/retry", jobHandler.Retry)

	route("GET /stats", statsHandler.GetStats)

	mux.Handle("/mcp", middleware.CorrelationID(mcpHandler)) // Legacy POST endpoint
	route("GET /mcp/sse", mcpHandler.HandleSSE)
	route("POST /mcp/messages", mcpHandler.HandleMessage)

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	return &App{
		Handler:         middleware.CORS(mux.ServeHTTP),
		Documents:       documentService,
		Coordinator:     coordinator,
		Retrieval:       retrievalService,
		IngestConsumer:  worker.NewIngestConsumer(documentService, jobService, worker.DefaultMaxAttempts),
		RebuildConsumer: worker.NewRebuildConsumer(reindexService, jobService, worker.DefaultMaxAttempts),
		cfg:             cfg,
		closeBlob:       closeBlob,
		queryLogger:     queryLogger,
	}, nil
}

func newEmbedder(cfg *config.Config, cf *cloudflare.Client, keys gemini.KeySource) embedding.Embedder {
	var base embedding.Embedder
	switch cfg.EmbeddingProvider {
	case "gemini":
		base = embedding.WithRateLimit(gemini.NewDynamicEmbedder(keys, gemini.EmbedderOptions{
			Model:       cfg.GeminiEmbeddingModel,
			Dim:         cfg.VectorDim,
			FallbackKey: cfg.GeminiAPIKey,
		}), float64(cfg.GeminiRequestsPerSec), 1)
	default:
		// The Cloudflare client throttles Workers AI calls itself.
		base = workersai.NewEmbedder(cf, cfg.EmbeddingModel, cfg.VectorDim)
	}
	return embedding.WithRetry(base)
}

func newProcessor(cfg *config.Config, keys gemini.KeySource) document.Processor {
	if cfg.ContentProcessor == "gemini" {
		return gemini.NewProcessor(keys, gemini.ProcessorOptions{
			Model:       cfg.GeminiGenerationModel,
			FallbackKey: cfg.GeminiAPIKey,
		})
	}
	return text.NewExtractor()
}

func seedGeminiKey(svc *settings.Service, key string) {
	if _, err := svc.SeedAPIKey(context.Background(), key); err != nil {
		slog.Warn("failed to seed gemini api key", "error", err)
	}
}

// StartConsumers subscribes the ingest and rebuild handlers through
// nsqlookupd, or directly to nsqd when lookupd is not configured.
func (a *App) StartConsumers() error {
	subs := []struct {
		topic   string
		handler nsq.Handler
	}{
		{config.TopicIngestLink, a.IngestConsumer},
		{config.TopicIndexRebuild, a.RebuildConsumer},
	}
	for _, s := range subs {
		nsqCfg := nsq.NewConfig()
		nsqCfg.MaxAttempts = worker.DefaultMaxAttempts
		consumer, err := nsq.NewConsumer(s.topic, "seen", nsqCfg)
		if err != nil {
			return fmt.Errorf("nsq consumer for %s: %w", s.topic, err)
		}
		consumer.AddHandler(s.handler)
		if a.cfg.NSQLookupd != "" {
			err = consumer.ConnectToNSQLookupd(a.cfg.NSQLookupd)
		} else {
			err = consumer.ConnectToNSQD(a.cfg.NSQDHost)
		}
		if err != nil {
			consumer.Stop()
			return fmt.Errorf("connect consumer for %s: %w", s.topic, err)
		}
		a.consumers = append(a.consumers, consumer)
		slog.Info("NSQ consumer connected", "topic", s.topic)
	}
	return nil
}

func (a *App) Run(ctx context.Context) error {
	port := a.cfg.ServerPort
	if port == 0 {
		port = 8081
	}
	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(port),
		Handler:           a.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutting down server...")
		if err := srv.Shutdown(context.Background()); err != nil {
			slog.Error("server shutdown failed", "error", err)
		}
	}()

	slog.Info("server starting", "port", port)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close stops consumers and releases the query log and blob store.
func (a *App) Close() error {
	for _, c := range a.consumers {
		c.Stop()
		<-c.StopChan
	}
	return errors.Join(a.queryLogger.Close(), a.closeBlob())
}
