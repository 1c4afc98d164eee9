// Package config provides layered configuration for retrieve.
//
// Precedence, lowest to highest: built-in defaults → YAML file → .env file →
// process environment. The YAML file and .env file only ever fill in
// variables that are still unset, so an explicit environment always wins.
//
// YAML file search order:
//  1. --config CLI flag (explicit path)
//  2. RETRIEVE_CONFIG environment variable
//  3. ~/.retrieve/config.yaml
//  4. ./retrieve.yaml
//
// The resolved environment is then decoded into [Settings] with envconfig.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// File is the YAML configuration structure. Field names mirror the env var
// naming (lowercase, underscored).
type File struct {
	// Database configures the durable text store.
	Database DatabaseConfig `yaml:"database"`

	// Embedding configures the embedding provider.
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Qdrant configures the Qdrant backend when database.backend is "qdrant".
	Qdrant QdrantConfig `yaml:"qdrant"`

	// Server configures the HTTP server.
	Server ServerConfig `yaml:"server"`

	// NSQ configures the optional batch queue.
	NSQ NSQConfig `yaml:"nsq"`

	// Logging configures structured logging.
	Logging LoggingConfig `yaml:"logging"`
}

// DatabaseConfig holds store settings.
type DatabaseConfig struct {
	// Backend selects the store: postgres, sqlite, qdrant.
	Backend string `yaml:"backend"`
	// URL is the Postgres connection string. Prefer env var DATABASE_URL.
	URL string `yaml:"url"`
	// SQLitePath is the database file for the sqlite backend.
	SQLitePath string `yaml:"sqlite_path"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	// Provider selects the backend: service, openai, ollama, gemini.
	Provider string `yaml:"provider"`
	// Model is the embedding model identifier sent with every request.
	Model string `yaml:"model"`
	// Dimensions is the fixed vector length every stored embedding must have.
	Dimensions int `yaml:"dimensions"`
	// Endpoint overrides the provider's base URL.
	Endpoint string `yaml:"endpoint"`
	// Timeout bounds a single embedding call, e.g. "60s".
	Timeout string `yaml:"timeout"`
}

// QdrantConfig holds Qdrant connection settings.
type QdrantConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	Collection string `yaml:"collection"`
	TLS        bool   `yaml:"tls"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host      string  `yaml:"host"`
	Port      int     `yaml:"port"`
	RateLimit float64 `yaml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst"`
}

// NSQConfig holds queue settings.
type NSQConfig struct {
	NSQD    string `yaml:"nsqd"`
	Lookupd string `yaml:"lookupd"`
	Topic   string `yaml:"topic"`
	Channel string `yaml:"channel"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is the log output format: json, text.
	Format string `yaml:"format"`
}

// envMapping maps YAML fields to their env var names. Secrets (API keys)
// are deliberately absent: they are read from the environment only.
var envMapping = []struct {
	envKey string
	value  func(*File) string
}{
	{"STORE_BACKEND", func(c *File) string { return c.Database.Backend }},
	{"DATABASE_URL", func(c *File) string { return c.Database.URL }},
	{"SQLITE_PATH", func(c *File) string { return c.Database.SQLitePath }},
	{"EMBEDDING_PROVIDER", func(c *File) string { return c.Embedding.Provider }},
	{"EMBEDDING_MODEL", func(c *File) string { return c.Embedding.Model }},
	{"EMBEDDING_DIMENSIONS", func(c *File) string { return intStr(c.Embedding.Dimensions) }},
	{"EMBEDDING_ENDPOINT", func(c *File) string { return c.Embedding.Endpoint }},
	{"EMBEDDING_TIMEOUT", func(c *File) string { return c.Embedding.Timeout }},
	{"QDRANT_HOST", func(c *File) string { return c.Qdrant.Host }},
	{"QDRANT_PORT", func(c *File) string { return intStr(c.Qdrant.Port) }},
	{"QDRANT_COLLECTION", func(c *File) string { return c.Qdrant.Collection }},
	{"QDRANT_TLS", func(c *File) string { return boolStr(c.Qdrant.TLS) }},
	{"APP_HOST", func(c *File) string { return c.Server.Host }},
	{"APP_PORT", func(c *File) string { return intStr(c.Server.Port) }},
	{"RATE_LIMIT", func(c *File) string { return floatStr(c.Server.RateLimit) }},
	{"RATE_BURST", func(c *File) string { return intStr(c.Server.RateBurst) }},
	{"NSQD_ADDRESS", func(c *File) string { return c.NSQ.NSQD }},
	{"NSQ_LOOKUPD", func(c *File) string { return c.NSQ.Lookupd }},
	{"NSQ_TOPIC", func(c *File) string { return c.NSQ.Topic }},
	{"NSQ_CHANNEL", func(c *File) string { return c.NSQ.Channel }},
	{"LOG_LEVEL", func(c *File) string { return c.Logging.Level }},
	{"LOG_FORMAT", func(c *File) string { return c.Logging.Format }},
}

// Load reads a YAML config file and exports its non-empty values as
// environment variables. Existing env vars are never overwritten.
// Returns the path that was loaded, or empty string if no file was found.
func Load(explicitPath string, log *slog.Logger) (string, error) {
	path := resolveConfigPath(explicitPath)
	if path == "" {
		log.Debug("config: no YAML config file found, using env vars only")
		return "", nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	var cfg File
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return "", fmt.Errorf("config: failed to parse %s: %w", path, err)
	}

	applied := 0
	for _, m := range envMapping {
		yamlVal := m.value(&cfg)
		if yamlVal == "" {
			continue
		}
		if _, set := os.LookupEnv(m.envKey); set {
			continue
		}
		if err := os.Setenv(m.envKey, yamlVal); err != nil {
			return "", fmt.Errorf("config: set %s: %w", m.envKey, err)
		}
		applied++
	}

	log.Info("config: loaded YAML config",
		slog.String("path", path),
		slog.Int("keys_applied", applied),
	)

	return path, nil
}

// LoadDotEnv loads the given .env files (default ".env") without
// overriding variables already present. Missing files are ignored.
func LoadDotEnv(log *slog.Logger, paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("config: failed to load %s: %w", p, err)
		}
		log.Debug("config: loaded dotenv file", slog.String("path", p))
	}
	return nil
}

// resolveConfigPath returns the first config file path that exists.
func resolveConfigPath(explicit string) string {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit
		}
		return ""
	}

	if envPath := os.Getenv("RETRIEVE_CONFIG"); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	home, err := os.UserHomeDir()
	if err == nil {
		p := filepath.Join(home, ".retrieve", "config.yaml")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	if _, err := os.Stat("retrieve.yaml"); err == nil {
		return "retrieve.yaml"
	}

	return ""
}

// intStr converts an int to string, returning "" for zero values.
func intStr(v int) string {
	if v == 0 {
		return ""
	}
	return strconv.Itoa(v)
}

// floatStr converts a float64 to string, returning "" for zero values.
func floatStr(v float64) string {
	if v == 0 {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// boolStr converts a bool to string, returning "" for false.
func boolStr(v bool) string {
	if !v {
		return ""
	}
	return "true"
}
