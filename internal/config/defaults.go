package config

import (
	"time"

	"github.com/hyperjump/mondai/internal/generation"
	"github.com/hyperjump/mondai/internal/indexer"
	"github.com/hyperjump/mondai/internal/llm"
	"github.com/hyperjump/mondai/internal/runlog"
	"github.com/hyperjump/mondai/internal/validation"
)

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.MaxUploadMB == 0 {
		cfg.Server.MaxUploadMB = 64
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/mondai/data/db/vectors.db"
	}
	if cfg.Storage.RunLogPath == "" {
		cfg.Storage.RunLogPath = "/usr/local/var/mondai/" + runlog.DefaultPath
	}

	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "onnx"
	}
	if cfg.Embedding.ModelPath == "" {
		cfg.Embedding.ModelPath = "/usr/local/var/mondai/data/models/paraphrase-multilingual-MiniLM-L12-v2.onnx"
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "text-embedding-3-small"
	}
	if cfg.Embedding.Dimensions == 0 && cfg.Embedding.Provider != "openai" {
		cfg.Embedding.Dimensions = 384
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 256
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Embedding.IndexType == "" {
		cfg.Embedding.IndexType = "auto"
	}
	if cfg.Embedding.Redis.Prefix == "" {
		cfg.Embedding.Redis.Prefix = "mondai:emb:"
	}
	if cfg.Embedding.Redis.TTL == 0 {
		cfg.Embedding.Redis.TTL = 7 * 24 * time.Hour
	}

	if cfg.VectorStore.Backend == "" {
		cfg.VectorStore.Backend = "sqlite"
	}
	if cfg.VectorStore.Endpoint == "" {
		cfg.VectorStore.Endpoint = "http://localhost:6333"
	}
	if cfg.VectorStore.Collection == "" {
		cfg.VectorStore.Collection = "documents"
	}
	if cfg.VectorStore.BatchSize == 0 {
		cfg.VectorStore.BatchSize = 64
	}
	if cfg.VectorStore.Timeout == 0 {
		cfg.VectorStore.Timeout = 15 * time.Second
	}

	if cfg.LLM.BaseURL == "" {
		cfg.LLM.BaseURL = "https://api.cerebras.ai/v1"
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = llm.DefaultModel
	}
	if cfg.LLM.Temperature == 0 {
		cfg.LLM.Temperature = llm.DefaultTemperature
	}
	if cfg.LLM.Timeout == 0 {
		cfg.LLM.Timeout = 60 * time.Second
	}

	if cfg.Generation.N == 0 {
		cfg.Generation.N = 10
	}
	if cfg.Generation.Mode == "" {
		cfg.Generation.Mode = string(generation.ModeRAG)
	}
	if cfg.Generation.QuestionsPerUnit == 0 {
		cfg.Generation.QuestionsPerUnit = generation.DefaultQuestionsPerUnit
	}
	if cfg.Generation.TopK == 0 {
		cfg.Generation.TopK = generation.DefaultTopK
	}
	if cfg.Generation.MaxChars == 0 {
		cfg.Generation.MaxChars = indexer.DefaultMaxChars
	}
	if cfg.Generation.Overlap == 0 {
		cfg.Generation.Overlap = indexer.DefaultOverlap
	}
	if cfg.Generation.Difficulty.Total() == 0 {
		cfg.Generation.Difficulty = generation.DefaultDifficultyCounts()
	}

	cfg.Validation.ValidationConfig.ApplyDefaults()
	engine := validation.DefaultConfig()
	if cfg.Validation.TopK == 0 {
		cfg.Validation.TopK = engine.TopK
	}
	if cfg.Validation.AutoAcceptThreshold == 0 {
		cfg.Validation.AutoAcceptThreshold = engine.AutoAcceptThreshold
	}
	if cfg.Validation.ReviewThreshold == nil {
		cfg.Validation.ReviewThreshold = engine.ReviewThreshold
	}
	if cfg.Validation.DistractorTooSimilar == 0 {
		cfg.Validation.DistractorTooSimilar = engine.DistractorTooSimilar
	}
	if cfg.Validation.DistractorTooDifferent == nil {
		cfg.Validation.DistractorTooDifferent = engine.DistractorTooDifferent
	}
	if cfg.Validation.QAAgreeThreshold == nil {
		cfg.Validation.QAAgreeThreshold = engine.QAAgreeThreshold
	}
	if cfg.Validation.MaxEvidenceChars == 0 {
		cfg.Validation.MaxEvidenceChars = engine.MaxEvidenceChars
	}
	if cfg.Validation.Entailment == "" {
		cfg.Validation.Entailment = "lexical"
	}

	if cfg.Watch.Extensions == nil {
		cfg.Watch.Extensions = []string{".pdf", ".txt", ".md", ".docx", ".xlsx", ".pptx", ".odp", ".ods", ".rst"}
	}
	// Recursive defaults to true when unset (nil).
	if len(cfg.Watch.Directories) > 0 && cfg.Watch.Recursive == nil {
		t := true
		cfg.Watch.Recursive = &t
	}
	if cfg.Watch.Collection == "" {
		cfg.Watch.Collection = cfg.VectorStore.Collection
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
}
