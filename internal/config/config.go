// Package config provides configuration loading and structs for the lectern server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Environment variables that override values from the config file.
const (
	EnvAnthropicAPIKey = "ANTHROPIC_API_KEY"
	EnvRedisAddr       = "LECTERN_REDIS_ADDR"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Search    SearchConfig    `yaml:"search"`
	LLM       LLMConfig       `yaml:"llm"`
	Session   SessionConfig   `yaml:"session"`
	Docs      DocsConfig      `yaml:"docs"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// StaticDir, when set, is served at "/" (the chat frontend).
	StaticDir             string `yaml:"static_dir"`
	RequestTimeoutSeconds int    `yaml:"request_timeout_seconds"`
}

// StorageConfig holds paths for the database and indices.
type StorageConfig struct {
	DatabasePath     string `yaml:"database_path"`
	BleveIndexPath   string `yaml:"bleve_index_path"`
	VectorIndexPath  string `yaml:"vector_index_path"`
	CatalogIndexPath string `yaml:"catalog_index_path"`
}

// EmbeddingConfig selects and tunes the embedder.
type EmbeddingConfig struct {
	// Provider is "hash" (default, no model needed) or "onnx".
	Provider   string `yaml:"provider"`
	ModelPath  string `yaml:"model_path"`
	Dimensions int    `yaml:"dimensions"`
	MaxTokens  int    `yaml:"max_tokens"`
	CacheSize  int    `yaml:"cache_size"`
}

// SearchConfig holds chunking and retrieval settings.
type SearchConfig struct {
	ChunkSize      int     `yaml:"chunk_size"`
	ChunkOverlap   int     `yaml:"chunk_overlap"`
	MaxResults     int     `yaml:"max_results"`
	TopKCandidates int     `yaml:"top_k_candidates"`
	KeywordWeight  float64 `yaml:"keyword_weight"`
	SemanticWeight float64 `yaml:"semantic_weight"`
	// CourseMatchThreshold is the minimum semantic score for resolving a course name
	// that matched nothing lexically.
	CourseMatchThreshold float64 `yaml:"course_match_threshold"`
	FuzzyEnabled         bool    `yaml:"fuzzy_enabled"`
}

// LLMConfig configures the answer provider.
type LLMConfig struct {
	// Provider is "anthropic" or "extractive". Empty selects anthropic when an API key is
	// available and extractive otherwise.
	Provider       string  `yaml:"provider"`
	APIKey         string  `yaml:"api_key"`
	BaseURL        string  `yaml:"base_url"`
	Model          string  `yaml:"model"`
	MaxTokens      int     `yaml:"max_tokens"`
	Temperature    float64 `yaml:"temperature"`
	MaxToolRounds  int     `yaml:"max_tool_rounds"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
	MaxRetries     int     `yaml:"max_retries"`
}

// SessionConfig configures conversation history.
type SessionConfig struct {
	// Backend is "memory" or "redis".
	Backend       string `yaml:"backend"`
	MaxHistory    int    `yaml:"max_history"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	TTLMinutes    int    `yaml:"ttl_minutes"`
}

// DocsConfig lists the folders holding course documents.
type DocsConfig struct {
	Directories []string `yaml:"directories"`
	Extensions  []string `yaml:"extensions"`
	Recursive   *bool    `yaml:"recursive"`
	// Watch re-ingests documents when files change.
	Watch bool `yaml:"watch"`
	// ClearOnStartup wipes all stored courses before the initial ingest.
	ClearOnStartup bool `yaml:"clear_on_startup"`
}

// RecursiveOrDefault returns whether to walk folders recursively; defaults to true when unset.
func (d *DocsConfig) RecursiveOrDefault() bool {
	if d.Recursive != nil {
		return *d.Recursive
	}
	return true
}

// Load reads and parses the config file at path, applies defaults and environment
// overrides, and expands paths.
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
	ApplyEnv(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.BleveIndexPath = expandPath(cfg.Storage.BleveIndexPath, configDir)
	cfg.Storage.VectorIndexPath = expandPath(cfg.Storage.VectorIndexPath, configDir)
	cfg.Storage.CatalogIndexPath = expandPath(cfg.Storage.CatalogIndexPath, configDir)
	cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	if cfg.Server.StaticDir != "" {
		cfg.Server.StaticDir = expandPath(cfg.Server.StaticDir, configDir)
	}
	for i := range cfg.Docs.Directories {
		cfg.Docs.Directories[i] = expandPath(cfg.Docs.Directories[i], configDir)
	}

	return &cfg, nil
}

// ApplyEnv overrides secrets and endpoints from the environment.
func ApplyEnv(cfg *Config) {
	if v := os.Getenv(EnvAnthropicAPIKey); v != "" && cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv(EnvRedisAddr); v != "" {
		cfg.Session.RedisAddr = v
	}
}

// Save writes the config to path. An API key taken from the environment is not written.
func Save(path string, cfg *Config) error {
	out := *cfg
	if key := os.Getenv(EnvAnthropicAPIKey); key != "" && out.LLM.APIKey == key {
		out.LLM.APIKey = ""
	}
	data, err := yaml.Marshal(&out)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
