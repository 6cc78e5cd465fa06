package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  host: "127.0.0.1"
  port: 9000
storage:
  database_path: "test.db"
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.Storage.DatabasePath == "" {
		t.Error("database_path should be set")
	}
	if cfg.Debug {
		t.Error("debug should default to false when unset")
	}
}

func TestLoad_invalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("server: [unclosed"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestLoad_missingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected read error")
	}
}

func TestLoad_expandPathDotSlashRelativeToConfigDir(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
storage:
  database_path: "./data/db/courses.db"
docs:
  directories: ["./docs"]
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	wantDB := filepath.Join(dir, "data", "db", "courses.db")
	if cfg.Storage.DatabasePath != wantDB {
		t.Errorf("database_path = %s, want %s", cfg.Storage.DatabasePath, wantDB)
	}
	if len(cfg.Docs.Directories) != 1 {
		t.Fatalf("docs directories: got %d", len(cfg.Docs.Directories))
	}
	if want := filepath.Join(dir, "docs"); cfg.Docs.Directories[0] != want {
		t.Errorf("docs directory = %s, want %s", cfg.Docs.Directories[0], want)
	}
	if !cfg.Docs.RecursiveOrDefault() {
		t.Error("recursive should default to true")
	}
}

func TestLoad_envOverrides(t *testing.T) {
	t.Setenv(EnvAnthropicAPIKey, "sk-test")
	t.Setenv(EnvRedisAddr, "127.0.0.1:6390")
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("debug: true\n"), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LLM.APIKey != "sk-test" {
		t.Errorf("api key = %q", cfg.LLM.APIKey)
	}
	if cfg.Session.RedisAddr != "127.0.0.1:6390" {
		t.Errorf("redis addr = %q", cfg.Session.RedisAddr)
	}
	if !cfg.Debug {
		t.Error("debug should be true when set in config")
	}
}

func TestApplyEnv_keepsConfiguredKey(t *testing.T) {
	t.Setenv(EnvAnthropicAPIKey, "from-env")
	cfg := &Config{LLM: LLMConfig{APIKey: "from-file"}}
	ApplyEnv(cfg)
	if cfg.LLM.APIKey != "from-file" {
		t.Errorf("api key = %q, want from-file", cfg.LLM.APIKey)
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	if cfg.Server.Host != "localhost" || cfg.Server.Port != 8000 {
		t.Errorf("default server: got %+v", cfg.Server)
	}
	if cfg.Search.ChunkSize != 800 || cfg.Search.ChunkOverlap != 100 {
		t.Errorf("default chunking: size=%d overlap=%d", cfg.Search.ChunkSize, cfg.Search.ChunkOverlap)
	}
	if cfg.Search.MaxResults != 5 {
		t.Errorf("default max results: got %d", cfg.Search.MaxResults)
	}
	if cfg.Search.KeywordWeight != 0.4 || cfg.Search.SemanticWeight != 0.6 {
		t.Errorf("default weights: %f/%f", cfg.Search.KeywordWeight, cfg.Search.SemanticWeight)
	}
	if cfg.Session.MaxHistory != 2 || cfg.Session.Backend != "memory" {
		t.Errorf("default session: %+v", cfg.Session)
	}
	if cfg.LLM.MaxTokens != 800 || cfg.LLM.MaxToolRounds != 2 {
		t.Errorf("default llm: %+v", cfg.LLM)
	}
	if cfg.Embedding.Provider != "hash" {
		t.Errorf("default embedding provider: %s", cfg.Embedding.Provider)
	}
	if len(cfg.Docs.Extensions) != 7 || cfg.Docs.Extensions[0] != ".txt" || cfg.Docs.Extensions[2] != ".rst" {
		t.Errorf("docs extensions: got %v", cfg.Docs.Extensions)
	}
	if cfg.Docs.Recursive != nil {
		t.Error("recursive should stay unset without directories")
	}
}

func TestApplyDefaults_keepsExplicitWeights(t *testing.T) {
	cfg := &Config{Search: SearchConfig{KeywordWeight: 1}}
	ApplyDefaults(cfg)
	if cfg.Search.KeywordWeight != 1 || cfg.Search.SemanticWeight != 0 {
		t.Errorf("weights overwritten: %f/%f", cfg.Search.KeywordWeight, cfg.Search.SemanticWeight)
	}
}

func TestSave_roundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := &Config{Docs: DocsConfig{Directories: []string{"/srv/docs"}}}
	ApplyDefaults(cfg)
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Docs.Directories) != 1 || got.Docs.Directories[0] != "/srv/docs" {
		t.Errorf("directories = %v", got.Docs.Directories)
	}
}

func TestSave_omitsEnvAPIKey(t *testing.T) {
	t.Setenv(EnvAnthropicAPIKey, "sk-from-env")
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := &Config{}
	ApplyEnv(cfg)
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "sk-from-env") {
		t.Error("API key from the environment was written to the config file")
	}
	if cfg.LLM.APIKey != "sk-from-env" {
		t.Error("Save must not modify the caller's config")
	}
}
