package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/nsqio/go-nsq"
	"golang.org/x/sync/errgroup"

	"chunkforge/features/chunk"
	"chunkforge/features/file"
	"chunkforge/features/job"
	"chunkforge/features/stats"
	"chunkforge/internal/adapter/gemini"
	"chunkforge/internal/citation"
	"chunkforge/internal/config"
	"chunkforge/internal/embedding"
	"chunkforge/internal/middleware"
	"chunkforge/internal/pipeline"
	"chunkforge/internal/settings"
	"chunkforge/internal/text"
	"chunkforge/internal/tokenizer"
	"chunkforge/internal/worker"
)

// VectorStore is everything the app needs from the vector database.
type VectorStore interface {
	EnsureSchema(ctx context.Context) error
	StoreChunk(ctx context.Context, c embedding.VectorChunk) error
	DeleteStaleGenerations(ctx context.Context, fileID, generation string) error
	DeleteChunksByFile(ctx context.Context, fileID string) error
	CountChunks(ctx context.Context) (int, error)
}

type TaskPublisher interface {
	Publish(topic string, body []byte) error
}

// Options override collaborators that talk to external services.
type Options struct {
	Embedder  embedding.Embedder
	Tokenizer text.Tokenizer
}

type App struct {
	Handler          http.Handler
	FileService      *file.Service
	Processor        *pipeline.Processor
	ResultConsumer   *worker.ResultConsumer
	EmbedderConsumer *worker.EmbedderConsumer

	cfg           *config.Config
	logger        *slog.Logger
	startConsumer consumerStarter
}

const nsqChannel = "chunker"

type consumerStarter func(topic string, h nsq.Handler, concurrency int) (*nsq.Consumer, error)

func New(
	cfg *config.Config,
	db *sql.DB,
	vecStore VectorStore,
	taskPub TaskPublisher,
	logger *slog.Logger,
	opts *Options,
) (*App, error) {
	if opts == nil {
		opts = &Options{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	// Feature: Settings
	settingsRepo := settings.NewPostgresRepo(db)
	settingsService := settings.NewService(settingsRepo)
	settingsHandler := settings.NewHandler(settingsService)

	// Repositories
	fileRepo := file.NewPostgresRepo(db)
	chunkRepo := chunk.NewPostgresRepo(db)
	jobRepo := job.NewPostgresRepo(db)

	// Embedding
	embedder := opts.Embedder
	if embedder == nil {
		embedder = gemini.NewDynamicEmbedder(settingsService, cfg.GeminiAPIKey)
	}
	embedService := embedding.NewService(chunkRepo, embedder, vecStore)

	// Pipeline
	tok := opts.Tokenizer
	if tok == nil {
		t := tokenizer.New(cfg.TokenizerEncoding)
		if err := t.Initialize(); err != nil {
			return nil, fmt.Errorf("tokenizer: %w", err)
		}
		tok = t
	}
	locator := citation.NewLocator()
	locator.Threshold = cfg.CitationThreshold

	processor, err := pipeline.NewProcessor(fileRepo, chunkRepo, embedService, vecStore, tok,
		text.Options{WindowSize: cfg.ChunkWindowSize, Overlap: cfg.ChunkOverlap}, locator)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	// Feature: File
	fileService := file.NewService(fileRepo, chunkRepo, vecStore, taskPub)
	fileHandler := file.NewHandler(fileService)

	// Feature: Job
	jobService := job.NewService(jobRepo, taskPub, logger)
	jobHandler := job.NewHandler(jobService)

	// Feature: Stats
	statsHandler := stats.NewHandler(fileRepo, chunkRepo, jobRepo, vecStore)

	// Middleware: CORS
	enableCORS := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Correlation-ID")

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next(w, r)
		}
	}

	// Routes
	mux := http.NewServeMux()

	mux.Handle("POST /files", middleware.CorrelationID(enableCORS(fileHandler.Create)))
	mux.Handle("GET /files", middleware.CorrelationID(enableCORS(fileHandler.List)))
	mux.Handle("GET /files/{id}", middleware.CorrelationID(enableCORS(fileHandler.Get)))
	mux.Handle("DELETE /files/{id}", middleware.CorrelationID(enableCORS(fileHandler.Delete)))
	mux.Handle("POST /files/{id}/process", middleware.CorrelationID(enableCORS(fileHandler.Process)))
	mux.Handle("POST /files/{id}/embed", middleware.CorrelationID(enableCORS(fileHandler.Reembed)))
	mux.Handle("GET /files/{id}/chunks/{index}/citation", middleware.CorrelationID(enableCORS(fileHandler.Citation)))

	mux.Handle("GET /settings", middleware.CorrelationID(enableCORS(settingsHandler.GetSettings)))
	mux.Handle("PUT /settings", middleware.CorrelationID(enableCORS(settingsHandler.UpdateSettings)))

	mux.Handle("GET /jobs/failed", middleware.CorrelationID(enableCORS(jobHandler.List)))
	mux.Handle("POST /jobs/{id}/retry", middleware.CorrelationID(enableCORS(jobHandler.Retry)))
	mux.Handle("DELETE /jobs/{id}", middleware.CorrelationID(enableCORS(jobHandler.Discard)))

	mux.Handle("GET /stats", middleware.CorrelationID(enableCORS(statsHandler.GetStats)))

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	a := &App{
		Handler:          mux,
		FileService:      fileService,
		Processor:        processor,
		ResultConsumer:   worker.NewResultConsumer(processor, fileRepo, jobService),
		EmbedderConsumer: worker.NewEmbedderConsumer(embedService, jobService),
		cfg:              cfg,
		logger:           logger,
	}
	a.startConsumer = a.connectConsumer
	return a, nil
}

// Run serves HTTP and consumes NSQ topics until ctx is canceled. The first
// component to fail stops the others.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	consumers, err := a.startConsumers()
	if err != nil {
		return err
	}
	for _, c := range consumers {
		g.Go(func() error { return waitConsumer(gctx, c) })
	}

	if a.cfg.EnableAPI {
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", a.cfg.ServerPort),
			Handler:           a.Handler,
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			a.logger.Info("server starting", "port", a.cfg.ServerPort)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			a.logger.Info("shutting down server...")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}

// startConsumers starts the enabled workers. If one fails to start, the ones
// already running are stopped before the error is returned.
func (a *App) startConsumers() ([]*nsq.Consumer, error) {
	type topicWorker struct {
		enabled     bool
		topic       string
		handler     nsq.Handler
		concurrency int
	}
	workers := []topicWorker{
		{a.cfg.EnableResultWorker, config.TopicIngestResult, a.ResultConsumer, a.cfg.IngestionConcurrency},
		{a.cfg.EnableEmbedderWorker, config.TopicIngestEmbed, a.EmbedderConsumer, 1},
	}

	var started []*nsq.Consumer
	for _, w := range workers {
		if !w.enabled {
			continue
		}
		c, err := a.startConsumer(w.topic, w.handler, w.concurrency)
		if err != nil {
			for _, s := range started {
				s.Stop()
				<-s.StopChan
			}
			return nil, err
		}
		started = append(started, c)
	}
	return started, nil
}

func (a *App) connectConsumer(topic string, h nsq.Handler, concurrency int) (*nsq.Consumer, error) {
	nsqCfg := nsq.NewConfig()
	nsqCfg.MaxInFlight = max(concurrency, 1)
	// Long documents keep a message busy for minutes.
	nsqCfg.MsgTimeout = worker.DefaultProcessTimeout

	consumer, err := nsq.NewConsumer(topic, nsqChannel, nsqCfg)
	if err != nil {
		return nil, fmt.Errorf("nsq consumer %s: %w", topic, err)
	}
	consumer.AddConcurrentHandlers(h, max(concurrency, 1))

	if err := consumer.ConnectToNSQLookupd(a.cfg.NSQLookupd); err != nil {
		consumer.Stop()
		return nil, fmt.Errorf("connect %s consumer to lookupd: %w", topic, err)
	}
	a.logger.Info("NSQ consumer connected", "topic", topic, "channel", nsqChannel, "concurrency", concurrency)
	return consumer, nil
}

func waitConsumer(ctx context.Context, c *nsq.Consumer) error {
	select {
	case <-ctx.Done():
		c.Stop()
		<-c.StopChan
		return nil
	case <-c.StopChan:
		return errors.New("nsq consumer stopped unexpectedly")
	}
}
