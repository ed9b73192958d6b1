package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/ragdex/internal/chunker"
	"github.com/kailas-cloud/ragdex/internal/config"
	dbRedis "github.com/kailas-cloud/ragdex/internal/db/redis"
	"github.com/kailas-cloud/ragdex/internal/domain"
	"github.com/kailas-cloud/ragdex/internal/extract"
	logpkg "github.com/kailas-cloud/ragdex/internal/logger"
	"github.com/kailas-cloud/ragdex/internal/metrics"
	"github.com/kailas-cloud/ragdex/internal/repository/docstore"
	"github.com/kailas-cloud/ragdex/internal/repository/embcache"
	indexrepo "github.com/kailas-cloud/ragdex/internal/repository/index"
	"github.com/kailas-cloud/ragdex/internal/transport/httpapi"
	openaiProv "github.com/kailas-cloud/ragdex/internal/transport/openai"
	chatuc "github.com/kailas-cloud/ragdex/internal/usecase/chat"
	healthuc "github.com/kailas-cloud/ragdex/internal/usecase/health"
	ingestuc "github.com/kailas-cloud/ragdex/internal/usecase/ingest"
	"github.com/kailas-cloud/ragdex/internal/version"
)

func main() {
	// Load configuration based on ENV
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting ragdex API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.Strings("db_addrs", cfg.Database.Addrs),
	)

	store, err := dbRedis.NewStore(dbRedis.Config{
		Addrs:    cfg.Database.Addrs,
		Username: cfg.Database.Username,
		Password: cfg.Database.Password,
	})
	if err != nil {
		logger.Fatal("Failed to create database store", zap.Error(err))
	}
	defer store.Close()

	// Wait for database to be ready
	ctx := context.Background()
	if err := store.WaitForReady(ctx, time.Duration(cfg.Database.ReadinessTimeout)*time.Second); err != nil {
		logger.Fatal("Database not ready", zap.Error(err))
	}
	logger.Info("Connected to database")

	// Register provider metrics explicitly (no init())
	metrics.RegisterProviderMetrics()

	chunkIndex := indexrepo.New(store, indexrepo.Config{
		KeyPrefix:   cfg.Database.KeyPrefix,
		Dim:         cfg.Embedding.Dimensions,
		HNSWM:       cfg.Retrieval.HNSWM,
		EFConstruct: cfg.Retrieval.HNSWEFConstruct,
	})
	if err := chunkIndex.EnsureIndex(ctx); err != nil {
		logger.Fatal("Failed to ensure vector index", zap.Error(err))
	}
	logger.Info("Vector index ready",
		zap.String("key_prefix", cfg.Database.KeyPrefix),
		zap.Int("dimensions", cfg.Embedding.Dimensions),
	)

	documents, err := docstore.New(docstore.Config{
		Root:           cfg.Storage.DocumentRoot,
		MaxUploadBytes: cfg.Storage.MaxUploadBytes,
	})
	if err != nil {
		logger.Fatal("Failed to open document store", zap.Error(err))
	}

	// Base embedding provider, shared by both decorator chains so health
	// checks and retries hit a single client.
	baseEmbedder := openaiProv.NewEmbedder(&openaiProv.EmbedderConfig{
		APIKey:         cfg.Embedding.APIKey,
		BaseURL:        cfg.Embedding.BaseURL,
		Model:          cfg.Embedding.Model,
		Dimensions:     cfg.Embedding.Dimensions,
		RequestTimeout: time.Duration(cfg.Embedding.RequestTimeoutSec) * time.Second,
		MaxRetries:     cfg.Embedding.MaxRetries,
		Provider:       "openai",
		Logger:         logger,
	})

	docEmbedder := buildEmbedder(baseEmbedder, store, cfg, cfg.Embedding.DocumentInstruction, logger)
	queryEmbedder := buildEmbedder(baseEmbedder, store, cfg, cfg.Embedding.QueryInstruction, logger)
	logger.Info("Embedders created",
		zap.String("model", cfg.Embedding.Model),
		zap.Int("dimensions", cfg.Embedding.Dimensions),
	)

	generator := openaiProv.NewGenerator(&openaiProv.GeneratorConfig{
		APIKey:         cfg.Generation.APIKey,
		BaseURL:        cfg.Generation.BaseURL,
		Model:          cfg.Generation.Model,
		Temperature:    cfg.Generation.Temperature,
		MaxTokens:      cfg.Generation.MaxTokens,
		RequestTimeout: time.Duration(cfg.Generation.RequestTimeoutSec) * time.Second,
		MaxRetries:     cfg.Generation.MaxRetries,
		Provider:       "openai",
		Logger:         logger,
	})

	ingestSvc := ingestuc.New(documents, chunkIndex, docEmbedder, extract.Text, chunker.Split,
		ingestuc.Config{
			Defaults: domain.DocumentConfig{
				ChunkSize:    cfg.Retrieval.Chunking.ChunkSize,
				ChunkOverlap: cfg.Retrieval.Chunking.ChunkOverlap,
			},
			BatchSize: cfg.Embedding.BatchSize,
		},
		logger,
	)

	chatSvc := chatuc.New(chunkIndex, queryEmbedder, generator, cfg.Generation.Model,
		chatuc.Config{
			DefaultK:    cfg.Retrieval.DefaultK,
			MaxK:        cfg.Retrieval.MaxK,
			FetchFactor: cfg.Retrieval.MMRFetchFactor,
			Lambda:      cfg.Retrieval.MMRLambda,
		},
		logger,
	)

	healthSvc := healthuc.New(store, baseEmbedder, generator)

	server := httpapi.NewServer(documents, ingestSvc, chatSvc, healthSvc, logger)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      server.Router(cfg.Auth.APIKeys),
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
}

// embedder is what both sides of the pipeline need from an embedding chain.
type embedder interface {
	domain.Embedder
	domain.BatchEmbedder
}

// buildEmbedder assembles the decorator chain: OpenAI -> Cached -> Instruction.
// The instruction sits outermost so the cache key includes the prefixed text.
func buildEmbedder(
	base *openaiProv.Embedder,
	store *dbRedis.Store,
	cfg config.Config,
	instruction string,
	logger *zap.Logger,
) embedder {
	cached := embcache.New(base, store, cfg.Database.KeyPrefix, cfg.Embedding.Model,
		time.Duration(cfg.Embedding.CacheTTLSec)*time.Second,
		metrics.EmbeddingCacheTotal, logger)

	if instruction != "" {
		return domain.NewInstructionEmbedder(cached, instruction)
	}
	return cached
}
