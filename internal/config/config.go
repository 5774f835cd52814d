// Package config provides configuration loading and structs for mondai.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hyperjump/mondai/internal/generation"
	"github.com/hyperjump/mondai/internal/scoring"
	"github.com/hyperjump/mondai/internal/validation"
)

// Config holds all configuration for the application.
type Config struct {
	Debug       bool              `yaml:"debug"`
	Server      ServerConfig      `yaml:"server"`
	Storage     StorageConfig     `yaml:"storage"`
	Embedding   EmbeddingConfig   `yaml:"embedding"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	LLM         LLMConfig         `yaml:"llm"`
	Generation  GenerationConfig  `yaml:"generation"`
	Validation  ValidationConfig  `yaml:"validation"`
	Watch       WatchConfig       `yaml:"watch"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	MaxUploadMB int    `yaml:"max_upload_mb"`
}

// StorageConfig holds paths for the chunk database and the run log.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
	RunLogPath   string `yaml:"run_log_path"`
}

// EmbeddingConfig selects and tunes the embedder.
type EmbeddingConfig struct {
	Provider   string      `yaml:"provider"` // onnx, openai, hashing
	ModelPath  string      `yaml:"model_path"`
	Model      string      `yaml:"model"`
	BaseURL    string      `yaml:"base_url"`
	Dimensions int         `yaml:"dimensions"`
	MaxTokens  int         `yaml:"max_tokens"`
	CacheSize  int         `yaml:"cache_size"`
	IndexType  string      `yaml:"index_type"` // auto, faiss, memory
	Redis      RedisConfig `yaml:"redis"`
	APIKey     string      `yaml:"-"`
}

// RedisConfig enables the shared embedding cache when Addr is set.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	DB       int           `yaml:"db"`
	Prefix   string        `yaml:"prefix"`
	TTL      time.Duration `yaml:"ttl"`
	Password string        `yaml:"-"`
}

// VectorStoreConfig holds persistent collection settings.
type VectorStoreConfig struct {
	Backend    string        `yaml:"backend"` // sqlite, qdrant, none
	Endpoint   string        `yaml:"endpoint"`
	Collection string        `yaml:"collection"`
	BatchSize  int           `yaml:"batch_size"`
	Timeout    time.Duration `yaml:"timeout"`
	APIKey     string        `yaml:"-"`
}

// LLMConfig holds the chat completion endpoint settings.
type LLMConfig struct {
	BaseURL     string        `yaml:"base_url"`
	Model       string        `yaml:"model"`
	Temperature float32       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
	APIKey      string        `yaml:"-"`
}

// GenerationConfig holds the request defaults for question generation.
type GenerationConfig struct {
	N                int                         `yaml:"n"`
	Mode             string                      `yaml:"mode"`
	QuestionsPerUnit int                         `yaml:"questions_per_unit"`
	TopK             int                         `yaml:"top_k"`
	MaxChars         int                         `yaml:"max_chars"`
	Overlap          int                         `yaml:"overlap"`
	Difficulty       generation.DifficultyCounts `yaml:"difficulty"`
	Validate         bool                        `yaml:"validate"`
}

// ValidationConfig combines the scoring weights with the engine thresholds.
type ValidationConfig struct {
	scoring.ValidationConfig `yaml:",inline"`

	TopK                   int     `yaml:"top_k"`
	AutoAcceptThreshold    float64 `yaml:"auto_accept_threshold"`
	ReviewThreshold        *float64 `yaml:"review_threshold"`
	DistractorTooSimilar   float64  `yaml:"distractor_too_similar"`
	DistractorTooDifferent *float64 `yaml:"distractor_too_different"`
	QAAgreeThreshold       *float64 `yaml:"qa_agree_threshold"`
	MaxEvidenceChars       int     `yaml:"max_evidence_chars"`
	Entailment             string  `yaml:"entailment"` // lexical, onnx, none
	CrossEncoderPath       string  `yaml:"cross_encoder_path"`
	ExtractiveQA           *bool   `yaml:"extractive_qa"`
}

// EngineConfig returns the validation engine settings. Cutoffs shared with the
// scorer come from the embedded scoring config.
func (v *ValidationConfig) EngineConfig() validation.Config {
	c := validation.ConfigFromScoring(&v.ValidationConfig)
	c.TopK = v.TopK
	c.AutoAcceptThreshold = v.AutoAcceptThreshold
	c.ReviewThreshold = v.ReviewThreshold
	c.DistractorTooSimilar = v.DistractorTooSimilar
	c.DistractorTooDifferent = v.DistractorTooDifferent
	c.QAAgreeThreshold = v.QAAgreeThreshold
	c.MaxEvidenceChars = v.MaxEvidenceChars
	c.ApplyDefaults()
	return c
}

// ExtractiveQAEnabled reports whether the QA check runs; true when unset.
func (v *ValidationConfig) ExtractiveQAEnabled() bool {
	if v.ExtractiveQA != nil {
		return *v.ExtractiveQA
	}
	return true
}

// WatchConfig holds inbox directory settings.
type WatchConfig struct {
	Directories []string `yaml:"directories"`
	Extensions  []string `yaml:"extensions"`
	Recursive   *bool    `yaml:"recursive"`
	Collection  string   `yaml:"collection"`
}

// RecursiveOrDefault returns whether to watch recursively; defaults to true when unset.
func (w *WatchConfig) RecursiveOrDefault() bool {
	if w.Recursive != nil {
		return *w.Recursive
	}
	return true
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled *bool  `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// EnabledOrDefault returns whether metrics are served; defaults to true when unset.
func (m *MetricsConfig) EnabledOrDefault() bool {
	if m.Enabled != nil {
		return *m.Enabled
	}
	return true
}

// Load reads and parses the config file at path, applies defaults, validates the
// scoring settings and expands paths.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)
	if err := cfg.Validation.Validate(); err != nil {
		return nil, err
	}

	configDir := filepath.Dir(path)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.RunLogPath = expandPath(cfg.Storage.RunLogPath, configDir)
	cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	if cfg.Validation.CrossEncoderPath != "" {
		cfg.Validation.CrossEncoderPath = expandPath(cfg.Validation.CrossEncoderPath, configDir)
	}
	for i := range cfg.Watch.Directories {
		cfg.Watch.Directories[i] = expandPath(cfg.Watch.Directories[i], configDir)
	}

	return &cfg, nil
}

// Default returns a config with every default applied.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// Save writes the config to path. Secrets are never written.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// ApplyEnv fills secrets and endpoint overrides from the environment.
func ApplyEnv(cfg *Config, getenv func(string) string) {
	first := func(keys ...string) string {
		for _, k := range keys {
			if v := getenv(k); v != "" {
				return v
			}
		}
		return ""
	}
	if v := first("MONDAI_LLM_API_KEY", "OPENAI_API_KEY", "CEREBRAS_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := first("MONDAI_LLM_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := first("MONDAI_EMBEDDING_API_KEY", "OPENAI_API_KEY"); v != "" {
		cfg.Embedding.APIKey = v
	}
	if v := first("QDRANT_URL"); v != "" {
		cfg.VectorStore.Endpoint = v
	}
	if v := first("QDRANT_API_KEY"); v != "" {
		cfg.VectorStore.APIKey = v
	}
	if v := first("REDIS_PASSWORD"); v != "" {
		cfg.Embedding.Redis.Password = v
	}
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// "~/" and other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	path = strings.TrimPrefix(path, "~/")
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
