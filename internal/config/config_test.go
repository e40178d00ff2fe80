package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  host: "127.0.0.1"
  port: 9000
embedding:
  provider: mock
  dimensions: 8
  base_delay: 250ms
chunking:
  max_size: 120
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.Embedding.Provider != ProviderMock || cfg.Embedding.Dimensions != 8 {
		t.Errorf("unexpected embedding config: %+v", cfg.Embedding)
	}
	if cfg.Embedding.BaseDelay != 250*time.Millisecond {
		t.Errorf("base_delay = %v", cfg.Embedding.BaseDelay)
	}
	if cfg.Embedding.MaxAttempts != 3 {
		t.Errorf("max_attempts should default to 3, got %d", cfg.Embedding.MaxAttempts)
	}
	if cfg.Chunking.MaxSize != 120 {
		t.Errorf("max_size = %d", cfg.Chunking.MaxSize)
	}
	if cfg.Debug {
		t.Error("debug should default to false when unset")
	}
}

func TestLoad_invalid(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
	path := writeConfig(t, "server: [unclosed")
	if _, err := Load(path); err == nil {
		t.Error("expected error for malformed yaml")
	}
}

func TestLoad_expandPathDotSlashRelativeToConfigDir(t *testing.T) {
	path := writeConfig(t, `
storage:
  root: "./data/collections"
  database_path: "./data/db/webrag.db"
`)
	dir := filepath.Dir(path)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if want := filepath.Join(dir, "data", "collections"); cfg.Storage.Root != want {
		t.Errorf("root = %s, want %s", cfg.Storage.Root, want)
	}
	if want := filepath.Join(dir, "data", "db", "webrag.db"); cfg.Storage.DatabasePath != want {
		t.Errorf("database_path = %s, want %s", cfg.Storage.DatabasePath, want)
	}
}

func TestLoad_dotenv(t *testing.T) {
	path := writeConfig(t, `
embedding:
  api_key_env: WEBRAG_TEST_EMBED_KEY
`)
	envPath := filepath.Join(filepath.Dir(path), ".env")
	if err := os.WriteFile(envPath, []byte("WEBRAG_TEST_EMBED_KEY=from-dotenv\n"), 0600); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Unsetenv("WEBRAG_TEST_EMBED_KEY") })

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if got := cfg.Embedding.APIKey(); got != "from-dotenv" {
		t.Errorf("APIKey() = %q", got)
	}
}

func TestLoad_dotenvDoesNotOverride(t *testing.T) {
	t.Setenv("WEBRAG_TEST_ANSWER_KEY", "from-env")
	path := writeConfig(t, `
answer:
  api_key_env: WEBRAG_TEST_ANSWER_KEY
`)
	envPath := filepath.Join(filepath.Dir(path), ".env")
	if err := os.WriteFile(envPath, []byte("WEBRAG_TEST_ANSWER_KEY=from-dotenv\n"), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if got := cfg.Answer.APIKey(); got != "from-env" {
		t.Errorf("APIKey() = %q", got)
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	if cfg.Server.Host != "localhost" || cfg.Server.Port != 8080 {
		t.Errorf("default server: %+v", cfg.Server)
	}
	if cfg.Embedding.Provider != ProviderRemote || cfg.Embedding.Dimensions != 1024 {
		t.Errorf("default embedding: %+v", cfg.Embedding)
	}
	if cfg.Embedding.APIKeyEnv != "CLOUDFLARE_API_KEY" || cfg.Answer.APIKeyEnv != "GROQ_API_KEY" {
		t.Errorf("default key env vars: %q %q", cfg.Embedding.APIKeyEnv, cfg.Answer.APIKeyEnv)
	}
	if cfg.Embedding.BaseDelay != time.Second || cfg.Embedding.MaxAttempts != 3 {
		t.Errorf("default retry: %v x%d", cfg.Embedding.BaseDelay, cfg.Embedding.MaxAttempts)
	}
	if cfg.Chunking.MaxSize != 500 {
		t.Errorf("default max_size: %d", cfg.Chunking.MaxSize)
	}
	if cfg.Retrieval.DefaultK != 3 || cfg.Retrieval.MaxK != 50 || cfg.Retrieval.Index != "flat" {
		t.Errorf("default retrieval: %+v", cfg.Retrieval)
	}
	if cfg.Answer.Model != "llama-3.1-8b-instant" || cfg.Answer.Temperature != 0.7 {
		t.Errorf("default answer: %+v", cfg.Answer)
	}
	if len(cfg.Watch.Extensions) == 0 || cfg.Watch.Extensions[0] != ".txt" {
		t.Errorf("watch extensions: got %v", cfg.Watch.Extensions)
	}
	if !cfg.Watch.RecursiveOrDefault() {
		t.Error("recursive should default to true")
	}
}

func TestWatchConfig_RecursiveOrDefault(t *testing.T) {
	t.Run("nil_returns_true", func(t *testing.T) {
		w := &WatchConfig{}
		if got := w.RecursiveOrDefault(); !got {
			t.Errorf("RecursiveOrDefault() = %v, want true", got)
		}
	})
	t.Run("false_returns_false", func(t *testing.T) {
		f := false
		w := &WatchConfig{Recursive: &f}
		if got := w.RecursiveOrDefault(); got {
			t.Errorf("RecursiveOrDefault() = %v, want false", got)
		}
	})
}

func TestResolve(t *testing.T) {
	if got := Resolve("/tmp/x.yaml"); got != "/tmp/x.yaml" {
		t.Errorf("explicit path: got %s", got)
	}
	if _, err := os.Stat(DefaultPath); err != nil {
		if got := Resolve(""); got != "config.yaml" {
			t.Errorf("fallback: got %s", got)
		}
	}
}

func TestSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "saved.yaml")
	cfg := &Config{
		Server:    ServerConfig{Host: "localhost", Port: 9090},
		Storage:   StorageConfig{Root: "/tmp/collections", DatabasePath: "/tmp/db"},
		Embedding: EmbeddingConfig{BaseDelay: 2 * time.Second},
	}
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Server.Port != 9090 || loaded.Storage.Root != "/tmp/collections" {
		t.Errorf("loaded: %+v %+v", loaded.Server, loaded.Storage)
	}
	if loaded.Embedding.BaseDelay != 2*time.Second {
		t.Errorf("base_delay round trip: %v", loaded.Embedding.BaseDelay)
	}
}
