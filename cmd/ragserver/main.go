package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"ragserver/internal/config"
	"ragserver/internal/database/kafka"
	"ragserver/internal/database/milvus"
	"ragserver/internal/database/mongo"
	"ragserver/internal/embedding"
	"ragserver/internal/llm"
	"ragserver/internal/rag/chunker"
	"ragserver/internal/rag/embedder"
	"ragserver/internal/rag/index"
	"ragserver/internal/rag/interfaces"
	"ragserver/internal/rag/loaders"
	"ragserver/internal/rag/pipeline"
	"ragserver/internal/store"
	"ragserver/pkg/circuitbreaker"
	"ragserver/pkg/httpmiddleware"
	"ragserver/pkg/logger"
	"ragserver/pkg/ratelimiter"
	"ragserver/pkg/resilience"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger.Init(logger.ParseLevel(cfg.Logger.Level))
	appLogger := logger.New("ragserver", "")
	appLogger.Info("Starting RAG server...")

	splitter, err := newSplitter(cfg.Chunking)
	if err != nil {
		appLogger.Fatal(fmt.Sprintf("Failed to build chunker: %v", err))
	}

	model, err := embedding.NewModel(cfg.Embedding)
	if err != nil {
		appLogger.Fatal(fmt.Sprintf("Failed to build embedding model: %v", err))
	}
	emb, err := embedder.New(model, embedder.Config{
		MaxBatchSize: cfg.Embedding.MaxBatchSize,
		Workers:      cfg.Embedding.Workers,
		Retry:        resilience.RetryConfig{MaxAttempts: cfg.Embedding.MaxRetries},
	}, appLogger)
	if err != nil {
		appLogger.Fatal(fmt.Sprintf("Failed to build embedder: %v", err))
	}

	generator, err := llm.NewClient(cfg.LLM)
	if err != nil {
		appLogger.Fatal(fmt.Sprintf("Failed to build LLM client: %v", err))
	}

	ctx := context.Background()

	vectorIndex, milvusClient, err := newIndex(ctx, cfg, appLogger)
	if err != nil {
		appLogger.Fatal(fmt.Sprintf("Failed to build vector index: %v", err))
	}
	if milvusClient != nil {
		defer milvusClient.Close()
	}

	var docStore interfaces.DocStore
	var historyStore interfaces.HistoryStore
	if cfg.Databases.MongoDB.Address != "" {
		mongoClient, err := mongo.Connect(ctx, &cfg.Databases.MongoDB)
		if err != nil {
			appLogger.Fatal(fmt.Sprintf("Failed to connect to MongoDB: %v", err))
		}
		defer mongo.Close(context.Background(), mongoClient)
		dbName := cfg.Databases.MongoDB.Database
		if dbName == "" {
			dbName = "ragserver"
		}
		db := mongoClient.Database(dbName)
		docStore = store.NewMongoDocumentStore(db, "documents", appLogger)
		historyStore = store.NewMongoHistoryStore(db, "interactions", appLogger)
		appLogger.Info("MongoDB document and history stores enabled")
	}

	var events pipeline.Notifier
	if cfg.Databases.Kafka.Enabled && len(cfg.Databases.Kafka.Brokers) > 0 {
		publisher := kafka.NewEventPublisher(cfg.Databases.Kafka.Brokers)
		defer publisher.Close()
		events = publisher
		appLogger.Info("Kafka ingest events enabled")
	}

	pipe, err := pipeline.New(pipeline.Deps{
		Splitter: splitter,
		Embedder: emb,
		Index:    vectorIndex,
		Loader:   loaders.NewWebLoader(appLogger),
		Docs:     docStore,
		Events:   events,
		Log:      appLogger,
	})
	if err != nil {
		appLogger.Fatal(fmt.Sprintf("Failed to build ingestion pipeline: %v", err))
	}

	retriever, err := pipeline.NewRetriever(emb, vectorIndex, cfg.Retrieval.MinScore, appLogger)
	if err != nil {
		appLogger.Fatal(fmt.Sprintf("Failed to build retriever: %v", err))
	}

	var breaker *circuitbreaker.Breaker
	if cfg.Middleware.CircuitBreaker.Enabled {
		timeout, err := time.ParseDuration(cfg.Middleware.CircuitBreaker.Timeout)
		if err != nil {
			appLogger.Fatal(fmt.Sprintf("Invalid circuit breaker timeout: %v", err))
		}
		breaker = circuitbreaker.New(
			cfg.Middleware.CircuitBreaker.FailureThreshold,
			cfg.Middleware.CircuitBreaker.SuccessThreshold,
			timeout,
		)
	}
	synthesizer, err := pipeline.NewSynthesizer(retriever, generator, pipeline.SynthesizerOptions{
		Breaker:         breaker,
		History:         historyStore,
		MaxContextChars: cfg.Answer.MaxContextChars,
	}, appLogger)
	if err != nil {
		appLogger.Fatal(fmt.Sprintf("Failed to build answer synthesizer: %v", err))
	}

	router := newRouter(cfg, pipe, retriever, synthesizer, historyStore, appLogger)

	port := cfg.App.Port
	if port == 0 {
		port = 8080
	}
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: router,
	}
	go func() {
		appLogger.Infof("HTTP server listening at %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Fatal(fmt.Sprintf("HTTP server failed: %v", err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLogger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.WithError(err).Error("Forced shutdown")
	}
	appLogger.Info("Server stopped")
}

func newSplitter(cfg config.ChunkingConfig) (interfaces.Splitter, error) {
	maxSize, overlap := cfg.MaxSize, cfg.Overlap
	if maxSize == 0 {
		maxSize, overlap = 500, 50
	}
	switch cfg.Mode {
	case "tokens":
		return chunker.NewTokenChunker(maxSize, overlap)
	case "", "chars":
		return chunker.NewCharChunker(maxSize, overlap)
	default:
		return nil, fmt.Errorf("unknown chunking mode %q", cfg.Mode)
	}
}

func newIndex(ctx context.Context, cfg *config.AppConfig, log *logger.Logger) (interfaces.VectorIndex, *milvus.Client, error) {
	metric := index.Metric(cfg.Index.Metric)
	switch cfg.Index.Backend {
	case "milvus":
		mc, err := milvus.Connect(ctx, &cfg.Databases.Milvus)
		if err != nil {
			return nil, nil, err
		}
		if err := mc.EnsureCollection(ctx, cfg.Index.Dim, index.MilvusMetricType(metric)); err != nil {
			mc.Close()
			return nil, nil, err
		}
		idx, err := index.NewMilvus(mc, cfg.Databases.Milvus.Collection, cfg.Index.Dim, metric, log)
		if err != nil {
			mc.Close()
			return nil, nil, err
		}
		log.Info("Using Milvus vector index")
		return idx, mc, nil
	case "", "memory":
		idx, err := index.NewMemory(metric)
		if err != nil {
			return nil, nil, err
		}
		log.Info("Using in-memory vector index")
		return idx, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown index backend %q", cfg.Index.Backend)
	}
}

func newRouter(cfg *config.AppConfig, pipe *pipeline.Pipeline, retriever *pipeline.Retriever, synthesizer *pipeline.Synthesizer, history interfaces.HistoryStore, log *logger.Logger) *gin.Engine {
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(httpmiddleware.RequestLogger(uuid.NewString))
	if cfg.Middleware.RateLimiter.Enabled {
		bucket := ratelimiter.NewTokenBucket(
			cfg.Middleware.RateLimiter.TokenBucket.Rate,
			cfg.Middleware.RateLimiter.TokenBucket.Capacity,
		)
		router.Use(httpmiddleware.RateLimit(bucket))
	}

	handler := NewHTTPHandler(pipe, retriever, synthesizer, history, cfg.Retrieval.K, log)

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true, "name": cfg.App.Name, "version": cfg.App.Version})
	})

	api := router.Group("/api/v1")
	{
		api.POST("/ingest/text", handler.ingestText)
		api.POST("/ingest/url", handler.ingestURL)
		api.GET("/search", handler.search)
		api.GET("/ask", handler.ask)
		api.GET("/history", handler.recentHistory)
		api.DELETE("/documents/:id", handler.deleteDocument)
	}
	return router
}
