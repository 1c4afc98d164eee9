package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// allKeys lists every env var this package reads so tests can start clean.
var allKeys = []string{
	"STORE_BACKEND", "DATABASE_URL", "SQLITE_PATH",
	"QDRANT_HOST", "QDRANT_PORT", "QDRANT_COLLECTION", "QDRANT_TLS",
	"EMBEDDING_PROVIDER", "EMBEDDING_MODEL", "EMBEDDING_DIMENSIONS", "EMBEDDING_ENDPOINT", "EMBEDDING_TIMEOUT",
	"APP_HOST", "APP_PORT", "RATE_LIMIT", "RATE_BURST",
	"NSQD_ADDRESS", "NSQ_LOOKUPD", "NSQ_TOPIC", "NSQ_CHANNEL",
	"LOG_LEVEL", "LOG_FORMAT", "RETRIEVE_CONFIG",
}

// clearEnv unsets keys for the duration of the test. t.Setenv registers the
// restore; the Unsetenv makes the variable absent rather than empty.
func clearEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoad_NoFile(t *testing.T) {
	t.Parallel()

	path, err := Load("/nonexistent/path/config.yaml", slog.Default())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if path != "" {
		t.Errorf("expected empty path, got %q", path)
	}
}

func TestLoad_ValidFile(t *testing.T) {
	clearEnv(t, allKeys...)

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	content := []byte(`
database:
  backend: sqlite
  sqlite_path: /var/lib/retrieve/texts.db
embedding:
  provider: ollama
  model: nomic-embed-text
  dimensions: 768
server:
  port: 9090
  rate_limit: 2.5
qdrant:
  tls: false
logging:
  level: debug
  format: text
`)
	if err := os.WriteFile(cfgPath, content, 0o644); err != nil {
		t.Fatal(err)
	}

	loaded, err := Load(cfgPath, slog.Default())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded != cfgPath {
		t.Errorf("loaded path: got %q, want %q", loaded, cfgPath)
	}

	checks := map[string]string{
		"STORE_BACKEND":        "sqlite",
		"SQLITE_PATH":          "/var/lib/retrieve/texts.db",
		"EMBEDDING_PROVIDER":   "ollama",
		"EMBEDDING_MODEL":      "nomic-embed-text",
		"EMBEDDING_DIMENSIONS": "768",
		"APP_PORT":             "9090",
		"RATE_LIMIT":           "2.5",
		"LOG_LEVEL":            "debug",
		"LOG_FORMAT":           "text",
	}
	for k, want := range checks {
		if got := os.Getenv(k); got != want {
			t.Errorf("%s: got %q, want %q", k, got, want)
		}
	}
	if _, set := os.LookupEnv("QDRANT_TLS"); set {
		t.Error("false booleans must not be exported")
	}
}

func TestLoad_EnvWins(t *testing.T) {
	clearEnv(t, allKeys...)
	t.Setenv("EMBEDDING_MODEL", "from-env")

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("embedding:\n  model: from-yaml\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(cfgPath, slog.Default()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got := os.Getenv("EMBEDDING_MODEL"); got != "from-env" {
		t.Errorf("env should win over YAML, got %q", got)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(cfgPath, []byte("database: [unterminated"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(cfgPath, slog.Default()); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoadDotEnv(t *testing.T) {
	clearEnv(t, "DATABASE_URL", "EMBEDDING_MODEL")
	t.Setenv("EMBEDDING_MODEL", "already-set")

	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	content := "DATABASE_URL=postgres://u:p@localhost/db\nEMBEDDING_MODEL=from-dotenv\n"
	if err := os.WriteFile(envPath, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	if err := LoadDotEnv(slog.Default(), envPath, filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if got := os.Getenv("DATABASE_URL"); got != "postgres://u:p@localhost/db" {
		t.Errorf("DATABASE_URL: got %q", got)
	}
	if got := os.Getenv("EMBEDDING_MODEL"); got != "already-set" {
		t.Errorf(".env must not override existing vars, got %q", got)
	}
}

func TestFromEnv_Defaults(t *testing.T) {
	clearEnv(t, allKeys...)
	t.Setenv("DATABASE_URL", "postgres://localhost/retrieve")

	s, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if s.StoreBackend != BackendPostgres {
		t.Errorf("StoreBackend: got %q", s.StoreBackend)
	}
	if s.EmbeddingModel != "text-embedding-3-large" || s.EmbeddingDimensions != 3072 {
		t.Errorf("embedding defaults: got %q/%d", s.EmbeddingModel, s.EmbeddingDimensions)
	}
	if s.EmbeddingTimeout != 60*time.Second {
		t.Errorf("EmbeddingTimeout: got %v", s.EmbeddingTimeout)
	}
	if s.ServerAddr() != "0.0.0.0:8080" {
		t.Errorf("ServerAddr: got %q", s.ServerAddr())
	}
}

func TestQueueFromEnv(t *testing.T) {
	t.Run("defaults without store settings", func(t *testing.T) {
		clearEnv(t, allKeys...)

		q, err := QueueFromEnv()
		if err != nil {
			t.Fatalf("QueueFromEnv: %v", err)
		}
		if q.NSQDAddress != "localhost:4150" || q.NSQTopic != "ingest.batch" {
			t.Errorf("queue defaults: got %q/%q", q.NSQDAddress, q.NSQTopic)
		}
	})

	t.Run("environment overrides", func(t *testing.T) {
		clearEnv(t, allKeys...)
		t.Setenv("NSQD_ADDRESS", "nsqd:4150")
		t.Setenv("NSQ_TOPIC", "wiki")

		q, err := QueueFromEnv()
		if err != nil {
			t.Fatalf("QueueFromEnv: %v", err)
		}
		if q.NSQDAddress != "nsqd:4150" || q.NSQTopic != "wiki" {
			t.Errorf("got %q/%q", q.NSQDAddress, q.NSQTopic)
		}
	})

	t.Run("empty topic", func(t *testing.T) {
		clearEnv(t, allKeys...)
		t.Setenv("NSQ_TOPIC", "")

		_, err := QueueFromEnv()
		if !errors.Is(err, ErrMissingRequired) {
			t.Fatalf("expected ErrMissingRequired, got %v", err)
		}
	})
}

func TestFromEnv_QueueMatchesQueueFromEnv(t *testing.T) {
	clearEnv(t, allKeys...)
	t.Setenv("STORE_BACKEND", BackendSQLite)
	t.Setenv("NSQ_CHANNEL", "workers")

	s, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	q, err := QueueFromEnv()
	if err != nil {
		t.Fatalf("QueueFromEnv: %v", err)
	}
	if s.Queue != *q {
		t.Errorf("queue settings differ: %+v vs %+v", s.Queue, *q)
	}
	if s.NSQChannel != "workers" {
		t.Errorf("NSQChannel: got %q", s.NSQChannel)
	}
}

func TestFromEnv_PostgresRequiresURL(t *testing.T) {
	clearEnv(t, allKeys...)

	_, err := FromEnv()
	if !errors.Is(err, ErrMissingRequired) {
		t.Fatalf("expected ErrMissingRequired, got %v", err)
	}
}

func TestSettings_Validate(t *testing.T) {
	t.Parallel()

	base := func() Settings {
		return Settings{
			StoreBackend:        BackendSQLite,
			SQLitePath:          "x.db",
			EmbeddingProvider:   "service",
			EmbeddingModel:      "m",
			EmbeddingDimensions: 4,
			AppPort:             8080,
		}
	}

	cases := []struct {
		name   string
		mutate func(*Settings)
		want   error
	}{
		{"valid", func(*Settings) {}, nil},
		{"unknown backend", func(s *Settings) { s.StoreBackend = "mongo" }, ErrInvalid},
		{"unknown provider", func(s *Settings) { s.EmbeddingProvider = "bedrock" }, ErrInvalid},
		{"zero dims", func(s *Settings) { s.EmbeddingDimensions = 0 }, ErrInvalid},
		{"empty model", func(s *Settings) { s.EmbeddingModel = "" }, ErrMissingRequired},
		{"bad port", func(s *Settings) { s.AppPort = 70000 }, ErrInvalid},
		{"qdrant without host", func(s *Settings) { s.StoreBackend = BackendQdrant }, ErrMissingRequired},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			s := base()
			tc.mutate(&s)
			err := s.Validate()
			if tc.want == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tc.want) {
				t.Fatalf("got %v, want %v", err, tc.want)
			}
		})
	}
}
