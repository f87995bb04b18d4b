package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/nsqio/go-nsq"

	"bookscroll/features/document"
	"bookscroll/features/feed"
	"bookscroll/features/job"
	"bookscroll/features/mcp"
	"bookscroll/features/snippet"
	"bookscroll/features/stats"
	"bookscroll/internal/adapter/gemini"
	"bookscroll/internal/config"
	"bookscroll/internal/epub"
	"bookscroll/internal/ingest"
	"bookscroll/internal/middleware"
	"bookscroll/internal/progress"
	"bookscroll/internal/retrieval"
	"bookscroll/internal/settings"
	"bookscroll/internal/text"
	"bookscroll/internal/worker"
)

const consumerChannel = "bookscroll"

// Database is satisfied by *sql.DB. Repositories need the concrete type.
type Database interface {
	PingContext(ctx context.Context) error
	Close() error
}

type VectorStore interface {
	EnsureSchema(ctx context.Context) error
	StoreVector(ctx context.Context, v ingest.SnippetVector) error
	DeleteByDocument(ctx context.Context, documentID int64) error
	NearVector(ctx context.Context, vec []float32, documentID int64, limit int) (map[int64]float64, error)
	CountVectors(ctx context.Context) (int, error)
}

type TaskPublisher interface {
	Publish(topic string, body []byte) error
}

// Options replaces provider-backed components. Nil fields keep the Gemini defaults.
type Options struct {
	Embedder      ingest.Embedder
	QueryEmbedder retrieval.Embedder
	Extractor     ingest.Extractor
	Classifier    ingest.Classifier
	Tracker       progress.Tracker
}

type App struct {
	Handler          http.Handler
	DocumentService  *document.Service
	Retrieval        *retrieval.Service
	Pipeline         *ingest.Pipeline
	IngestConsumer   *worker.IngestConsumer
	EmbedderConsumer *worker.EmbedderConsumer

	cfg      *config.Config
	cancel   context.CancelFunc
	provider *gemini.Client
}

func New(
	cfg *config.Config,
	db Database,
	vecStore VectorStore,
	taskPub TaskPublisher,
	logger *slog.Logger,
	opts ...*Options,
) (*App, error) {
	sqlDB, ok := db.(*sql.DB)
	if !ok {
		return nil, fmt.Errorf("unsupported database type %T", db)
	}
	if logger == nil {
		logger = slog.Default()
	}
	o := &Options{}
	if len(opts) > 0 && opts[0] != nil {
		o = opts[0]
	}

	// Feature: Settings
	settingsService := settings.NewService(settings.NewPostgresRepo(sqlDB))
	settingsHandler := settings.NewHandler(settingsService)

	// Provider
	provider := gemini.NewClient(settingsService, cfg.GeminiAPIKey, time.Duration(cfg.ProviderTimeoutSecs)*time.Second)
	embedder := o.Embedder
	if embedder == nil {
		embedder = provider.DocumentEmbedder(cfg.GeminiEmbeddingModel)
	}
	queryEmbedder := o.QueryEmbedder
	if queryEmbedder == nil {
		if o.Embedder != nil {
			queryEmbedder = o.Embedder
		} else {
			queryEmbedder = provider.QueryEmbedder(cfg.GeminiEmbeddingModel)
		}
	}
	extractor := o.Extractor
	if extractor == nil {
		extractor = provider.Extractor(cfg.GeminiExtractionModel)
	}

	tracker := o.Tracker
	if tracker == nil {
		tracker = progress.NewMemoryTracker(retention(cfg))
	}

	// Repositories
	documentRepo := document.NewPostgresRepo(sqlDB)
	snippetRepo := snippet.NewPostgresRepo(sqlDB)
	jobRepo := job.NewPostgresRepo(sqlDB)

	// Feature: Document
	documentService := document.NewService(documentRepo, taskPub, vecStore, tracker, snippetRepo)
	documentHandler := document.NewHandler(documentService, cfg.UploadDir, cfg.MaxUploadSizeMB)

	// Feature: Job
	jobService := job.NewService(jobRepo, taskPub, logger)
	jobHandler := job.NewHandler(jobService)

	// Feature: Stats
	statsHandler := stats.NewHandler(documentRepo, snippetRepo, jobRepo, vecStore)

	// Feature: Retrieval
	queryLogger := retrieval.NewQueryLogger(os.Stdout)
	if cfg.QueryLogPath != "" {
		fileLogger, err := retrieval.NewFileQueryLogger(cfg.QueryLogPath)
		if err != nil {
			logger.Warn("failed to create query logger, falling back to stdout", "error", err)
		} else {
			queryLogger = fileLogger
		}
	}
	retrievalService := retrieval.NewService(queryEmbedder, vecStore, snippetRepo, settingsService, queryLogger)
	feedHandler := feed.NewHandler(retrievalService)

	// Pipeline
	pipeline := ingest.NewPipeline(ingest.Deps{
		Source:       epub.NewReader(),
		Filter:       sectionFilter(cfg.SectionFilter, o.Classifier, provider, cfg.GeminiClassifierModel),
		Segmenter:    text.NewSegmenter(cfg.SentenceMinWords),
		ChunkWindow:  cfg.ChunkWindow,
		Orchestrator: ingest.NewOrchestrator(extractor, tracker, cfg.ExtractionConcurrency),
		Generator:    ingest.NewGenerator(embedder, tracker, cfg.EmbeddingConcurrency),
		Documents:    documentRepo,
		Snippets:     snippetRepo,
		Vectors:      vecStore,
		FailedJobs:   jobRepo,
		Tracker:      tracker,
	})

	// Workers share a context that Run cancels on shutdown.
	workerCtx, cancel := context.WithCancel(context.Background())
	ingestConsumer := worker.NewIngestConsumer(workerCtx, pipeline, worker.DefaultTouchInterval)
	embedderConsumer := worker.NewEmbedderConsumer(embedder, vecStore, snippetRepo, jobRepo)

	// Routes
	mux := http.NewServeMux()
	route := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, middleware.CorrelationID(middleware.CORS(h)))
	}

	route("POST /documents", documentHandler.Upload)
	route("GET /documents", documentHandler.List)
	route("GET /documents/{id}", documentHandler.Get)
	route("GET /documents/{id}/status", documentHandler.Status)
	route("GET /documents/{id}/sentences", documentHandler.Sentences)
	route("DELETE /documents/{id}", documentHandler.Delete)
	route("POST /documents/{id}/reembed", documentHandler.Reembed)

	route("GET /feed", feedHandler.Feed)
	route("GET /feed/random", feedHandler.Random)
	route("GET /search", feedHandler.Search)

	route("GET /settings", settingsHandler.GetSettings)
	route("PUT /settings", settingsHandler.UpdateSettings)

	route("GET /jobs/failed", jobHandler.List)
	route("POST /jobs/{id}/retry", jobHandler.Retry)
	route("DELETE /jobs/{id}", jobHandler.Discard)

	route("GET /stats", statsHandler.GetStats)

	// Feature: MCP tools over the library
	mcpHandler := mcp.NewHandler(retrievalService, documentService)
	mux.Handle("POST /mcp", middleware.CorrelationID(mcpHandler))
	route("GET /mcp/sse", mcpHandler.HandleSSE)
	route("POST /mcp/messages", mcpHandler.HandleMessage)

	// Preflight requests match no method-scoped pattern above.
	route("OPTIONS /", func(w http.ResponseWriter, r *http.Request) {})

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	return &App{
		Handler:          mux,
		DocumentService:  documentService,
		Retrieval:        retrievalService,
		Pipeline:         pipeline,
		IngestConsumer:   ingestConsumer,
		EmbedderConsumer: embedderConsumer,
		cfg:              cfg,
		cancel:           cancel,
		provider:         provider,
	}, nil
}

func sectionFilter(mode string, override ingest.Classifier, provider *gemini.Client, model string) *ingest.SectionFilter {
	switch mode {
	case config.SectionFilterNone:
		return nil
	case config.SectionFilterHeuristic:
		return ingest.NewSectionFilter(ingest.HeuristicClassifier{}, ingest.DefaultErrorPolicy)
	}
	if override != nil {
		return ingest.NewSectionFilter(override, ingest.DefaultErrorPolicy)
	}
	return ingest.NewSectionFilter(provider.Classifier(model), ingest.DefaultErrorPolicy)
}

func retention(cfg *config.Config) time.Duration {
	if cfg.ProgressRetentionSecs <= 0 {
		return progress.DefaultRetention
	}
	return time.Duration(cfg.ProgressRetentionSecs) * time.Second
}

// Run serves the API and the enabled consumers until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	defer a.provider.Close()

	var consumers []*nsq.Consumer
	if a.cfg.EnableIngestWorker {
		c, err := a.startConsumer(config.TopicIngestBook, a.IngestConsumer, a.cfg.IngestMaxInFlight)
		if err != nil {
			a.cancel()
			return err
		}
		consumers = append(consumers, c)
	}
	if a.cfg.EnableEmbedderWorker {
		c, err := a.startConsumer(config.TopicIngestEmbed, a.EmbedderConsumer, a.cfg.EmbeddingConcurrency)
		if err != nil {
			a.cancel()
			stopConsumers(consumers)
			return err
		}
		consumers = append(consumers, c)
	}

	shutdown := func() {
		// cancel first so running pipelines abort and their messages requeue
		a.cancel()
		stopConsumers(consumers)
	}

	if !a.cfg.EnableAPI {
		<-ctx.Done()
		shutdown()
		return nil
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", a.cfg.ServerPort),
		Handler: a.Handler,
	}

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		<-ctx.Done()
		slog.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown failed", "error", err)
		}
	}()

	slog.Info("server starting", "port", a.cfg.ServerPort)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		shutdown()
		return err
	}
	<-closed
	shutdown()
	return nil
}

func (a *App) startConsumer(topic string, h nsq.Handler, concurrency int) (*nsq.Consumer, error) {
	if concurrency < 1 {
		concurrency = 1
	}
	nsqCfg := nsq.NewConfig()
	nsqCfg.MaxInFlight = concurrency

	c, err := nsq.NewConsumer(topic, consumerChannel, nsqCfg)
	if err != nil {
		return nil, fmt.Errorf("nsq consumer %s: %w", topic, err)
	}
	c.AddConcurrentHandlers(h, concurrency)

	if a.cfg.NSQLookupd != "" {
		err = c.ConnectToNSQLookupd(a.cfg.NSQLookupd)
	} else {
		err = c.ConnectToNSQD(a.cfg.NSQDHost)
	}
	if err != nil {
		c.Stop()
		return nil, fmt.Errorf("connect consumer %s: %w", topic, err)
	}
	slog.Info("consumer started", "topic", topic, "concurrency", concurrency)
	return c, nil
}

func stopConsumers(consumers []*nsq.Consumer) {
	for _, c := range consumers {
		c.Stop()
		<-c.StopChan
	}
}
