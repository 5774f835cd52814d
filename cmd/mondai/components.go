package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/mondai/internal/config"
	"github.com/hyperjump/mondai/internal/embedding"
	"github.com/hyperjump/mondai/internal/extract"
	"github.com/hyperjump/mondai/internal/indexer"
	"github.com/hyperjump/mondai/internal/llm"
	"github.com/hyperjump/mondai/internal/metrics"
	"github.com/hyperjump/mondai/internal/pipeline"
	"github.com/hyperjump/mondai/internal/runlog"
	"github.com/hyperjump/mondai/internal/scoring"
	"github.com/hyperjump/mondai/internal/storage"
	"github.com/hyperjump/mondai/internal/validation"
	"github.com/hyperjump/mondai/internal/vector"
	"github.com/hyperjump/mondai/internal/vectorstore"
	"github.com/hyperjump/mondai/internal/verify"
)

// Components holds initialized services.
type Components struct {
	Embedder    embedding.Embedder
	VectorStore vectorstore.VectorStore
	Indexer     *indexer.Indexer
	Pipeline    *pipeline.Pipeline
	Metrics     *metrics.Metrics
	RunLog      *runlog.Log
	Usage       *llm.UsageCollector

	closers []io.Closer
}

// Close releases everything initializeComponents opened, in reverse order.
func (c *Components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		_ = c.closers[i].Close()
	}
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	c := &Components{Usage: llm.NewUsageCollector()}
	if cfg.Metrics.EnabledOrDefault() {
		c.Metrics = metrics.New()
	}

	embedder, err := newEmbedder(cfg, logger)
	if err != nil {
		return nil, err
	}
	c.closers = append(c.closers, embedder)
	embedder = withCache(embedder, cfg, logger, c)
	c.Embedder = embedder

	store, err := newVectorStore(cfg, logger)
	if err != nil {
		c.Close()
		return nil, err
	}
	idxOpts := []indexer.IndexerOption{
		indexer.WithLogger(logger),
		indexer.WithBatchSize(cfg.VectorStore.BatchSize),
		indexer.WithMetrics(c.Metrics),
	}
	if store != nil {
		c.VectorStore = store
		c.closers = append(c.closers, store)
		idxOpts = append(idxOpts, indexer.WithVectorStore(store))
	}
	c.Indexer = indexer.NewIndexer(embedder, extract.NewExtractor(),
		indexer.NewChunker(cfg.Generation.MaxChars, cfg.Generation.Overlap), idxOpts...)

	scorer, err := scoring.NewScorer(&cfg.Validation.ValidationConfig)
	if err != nil {
		c.Close()
		return nil, err
	}

	runLog, err := runlog.Open(cfg.Storage.RunLogPath)
	if err != nil {
		logger.Warn("Run log disabled", zap.String("path", cfg.Storage.RunLogPath), zap.Error(err))
	} else {
		c.RunLog = runLog
		c.closers = append(c.closers, runLog)
	}

	opts := pipeline.Options{
		Embedder:   embedder,
		IndexType:  cfg.Embedding.IndexType,
		Validation: cfg.Validation.EngineConfig(),
		Scorer:     scorer,
		Usage:      c.Usage,
		RunLog:     c.RunLog,
		Metrics:    c.Metrics,
		Logger:     logger,
	}
	if cfg.Validation.ExtractiveQAEnabled() {
		opts.QA = verify.NewBleveQA()
	}
	if ent := newEntailment(cfg, logger, c); ent != nil {
		opts.Entailment = ent
	}
	if cfg.LLM.APIKey != "" {
		client, err := llm.NewClient(cfg.LLM.APIKey, cfg.LLM.BaseURL,
			llm.WithModel(cfg.LLM.Model),
			llm.WithTemperature(cfg.LLM.Temperature),
			llm.WithTimeout(cfg.LLM.Timeout),
			llm.WithUsage(c.Usage),
			llm.WithMetrics(c.Metrics),
			llm.WithLogger(logger))
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to initialize LLM client: %w", err)
		}
		opts.Generator = llm.NewMCQGenerator(client)
		opts.Verifier = llm.NewVerifier(client)
	} else {
		logger.Warn("No LLM API key set; generation and model verification are disabled")
	}
	c.Pipeline = pipeline.New(opts)

	logger.Info("Components initialized",
		zap.String("embedding", cfg.Embedding.Provider),
		zap.Int("dimensions", embedder.Dimensions()),
		zap.String("vector_store", cfg.VectorStore.Backend),
		zap.String("index_type", cfg.Embedding.IndexType),
		zap.Bool("faiss_available", vector.IsFAISSAvailable()),
		zap.Bool("generator", opts.Generator != nil))
	return c, nil
}

// newEmbedder builds the configured embedder. A missing ONNX model falls back to
// the hashing embedder so the tool stays usable without model files.
func newEmbedder(cfg *config.Config, logger *zap.Logger) (embedding.Embedder, error) {
	e := cfg.Embedding
	switch e.Provider {
	case "openai":
		emb, err := embedding.NewOpenAIEmbedder(e.APIKey, e.BaseURL, e.Model, e.Dimensions)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize embedder: %w", err)
		}
		return emb, nil
	case "hashing":
		return embedding.NewHashingEmbedder(e.Dimensions), nil
	case "onnx", "":
		emb, err := embedding.NewONNXEmbedder(e.ModelPath, e.Dimensions, e.MaxTokens)
		if err != nil {
			logger.Warn("ONNX embedder unavailable, using hashing embedder",
				zap.String("model_path", e.ModelPath), zap.Error(err))
			return embedding.NewHashingEmbedder(e.Dimensions), nil
		}
		return emb, nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q (supported: onnx, openai, hashing)", e.Provider)
	}
}

// withCache wraps e in the Redis cache when configured, else in the in-process LRU.
func withCache(e embedding.Embedder, cfg *config.Config, logger *zap.Logger, c *Components) embedding.Embedder {
	r := cfg.Embedding.Redis
	if r.Addr != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		cache, err := embedding.NewRedisCache(ctx, r.Addr, r.Password, r.DB, r.Prefix, r.TTL, logger)
		if err == nil {
			c.closers = append(c.closers, cache)
			return embedding.NewCachedEmbedder(e, cache)
		}
		logger.Warn("Redis embedding cache unavailable, using in-process cache",
			zap.String("addr", r.Addr), zap.Error(err))
	}
	if cfg.Embedding.CacheSize < 0 {
		return e
	}
	return embedding.NewCachedEmbedder(e, embedding.NewEmbeddingCache(cfg.Embedding.CacheSize))
}

// newVectorStore returns nil when persistence is disabled.
func newVectorStore(cfg *config.Config, logger *zap.Logger) (vectorstore.VectorStore, error) {
	switch cfg.VectorStore.Backend {
	case "sqlite":
		store, err := storage.NewSQLiteStore(cfg.Storage.DatabasePath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize storage: %w", err)
		}
		return store, nil
	case "qdrant":
		return vectorstore.NewQdrantStore(vectorstore.QdrantOptions{
			Endpoint: cfg.VectorStore.Endpoint,
			APIKey:   cfg.VectorStore.APIKey,
			Timeout:  cfg.VectorStore.Timeout,
			Logger:   logger,
		}), nil
	case "none", "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown vector store backend %q (supported: sqlite, qdrant, none)", cfg.VectorStore.Backend)
	}
}

// newEntailment returns nil when entailment scoring is off.
func newEntailment(cfg *config.Config, logger *zap.Logger, c *Components) validation.EntailmentScorer {
	switch cfg.Validation.Entailment {
	case "none":
		return nil
	case "onnx":
		ce, err := embedding.NewCrossEncoder(cfg.Validation.CrossEncoderPath, cfg.Embedding.MaxTokens)
		if err == nil {
			c.closers = append(c.closers, ce)
			return ce
		}
		logger.Warn("Cross-encoder unavailable, using lexical entailment",
			zap.String("model_path", cfg.Validation.CrossEncoderPath), zap.Error(err))
	}
	return verify.NewLexicalEntailment()
}
