package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// ErrMissingRequired is returned when a required setting is absent.
var ErrMissingRequired = errors.New("missing required configuration")

// ErrInvalid is returned when a setting holds an unsupported value.
var ErrInvalid = errors.New("invalid configuration")

// Store backends.
const (
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendQdrant   = "qdrant"
)

// Settings is the typed view of the process environment after [Load] and
// [LoadDotEnv] have run. Credentials are not part of Settings: the
// embedding credential is resolved from the environment at call time.
type Settings struct {
	// Store
	StoreBackend     string `envconfig:"STORE_BACKEND" default:"postgres"`
	DatabaseURL      string `envconfig:"DATABASE_URL"`
	SQLitePath       string `envconfig:"SQLITE_PATH" default:"retrieve.db"`
	QdrantHost       string `envconfig:"QDRANT_HOST" default:"localhost"`
	QdrantPort       int    `envconfig:"QDRANT_PORT" default:"6334"`
	QdrantCollection string `envconfig:"QDRANT_COLLECTION" default:"texts"`
	QdrantTLS        bool   `envconfig:"QDRANT_TLS" default:"false"`

	// Embedding
	EmbeddingProvider   string        `envconfig:"EMBEDDING_PROVIDER" default:"service"`
	EmbeddingModel      string        `envconfig:"EMBEDDING_MODEL" default:"text-embedding-3-large"`
	EmbeddingDimensions int           `envconfig:"EMBEDDING_DIMENSIONS" default:"3072"`
	EmbeddingEndpoint   string        `envconfig:"EMBEDDING_ENDPOINT"`
	EmbeddingTimeout    time.Duration `envconfig:"EMBEDDING_TIMEOUT" default:"60s"`

	// Server
	AppHost   string  `envconfig:"APP_HOST" default:"0.0.0.0"`
	AppPort   int     `envconfig:"APP_PORT" default:"8080"`
	RateLimit float64 `envconfig:"RATE_LIMIT" default:"10"`
	RateBurst int     `envconfig:"RATE_BURST" default:"20"`

	Queue
}

// Queue holds the NSQ settings. Fetch and replay publish batches without
// opening a store, so they decode only this part of the environment.
type Queue struct {
	NSQDAddress string `envconfig:"NSQD_ADDRESS" default:"localhost:4150"`
	NSQLookupd  string `envconfig:"NSQ_LOOKUPD"`
	NSQTopic    string `envconfig:"NSQ_TOPIC" default:"ingest.batch"`
	NSQChannel  string `envconfig:"NSQ_CHANNEL" default:"retrieve"`
}

// QueueFromEnv decodes the queue settings from the current environment.
func QueueFromEnv() (*Queue, error) {
	var q Queue
	if err := envconfig.Process("", &q); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if q.NSQTopic == "" {
		return nil, fmt.Errorf("%w: NSQ_TOPIC", ErrMissingRequired)
	}
	return &q, nil
}

// FromEnv decodes and validates Settings from the current environment.
func FromEnv() (*Settings, error) {
	var s Settings
	if err := envconfig.Process("", &s); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks cross-field requirements.
func (s *Settings) Validate() error {
	switch s.StoreBackend {
	case BackendPostgres:
		if s.DatabaseURL == "" {
			return fmt.Errorf("%w: DATABASE_URL", ErrMissingRequired)
		}
	case BackendSQLite:
		if s.SQLitePath == "" {
			return fmt.Errorf("%w: SQLITE_PATH", ErrMissingRequired)
		}
	case BackendQdrant:
		if s.QdrantHost == "" {
			return fmt.Errorf("%w: QDRANT_HOST", ErrMissingRequired)
		}
	default:
		return fmt.Errorf("%w: STORE_BACKEND %q (valid: postgres, sqlite, qdrant)", ErrInvalid, s.StoreBackend)
	}

	switch s.EmbeddingProvider {
	case "service", "openai", "ollama", "gemini":
	default:
		return fmt.Errorf("%w: EMBEDDING_PROVIDER %q (valid: service, openai, ollama, gemini)", ErrInvalid, s.EmbeddingProvider)
	}
	if s.EmbeddingModel == "" {
		return fmt.Errorf("%w: EMBEDDING_MODEL", ErrMissingRequired)
	}
	if s.EmbeddingDimensions <= 0 {
		return fmt.Errorf("%w: EMBEDDING_DIMENSIONS must be positive, got %d", ErrInvalid, s.EmbeddingDimensions)
	}
	if s.AppPort <= 0 || s.AppPort > 65535 {
		return fmt.Errorf("%w: APP_PORT %d out of range", ErrInvalid, s.AppPort)
	}
	return nil
}

// ServerAddr returns host:port for the HTTP listener.
func (s *Settings) ServerAddr() string {
	return fmt.Sprintf("%s:%d", s.AppHost, s.AppPort)
}
