package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"testing"
)

func TestSanitiseKey_Secret(t *testing.T) {
	t.Parallel()
	if got := SanitiseKey("EMBEDDING_API_KEY", "sk-abc123"); got != "set" {
		t.Errorf("expected 'set', got %q", got)
	}
	if got := SanitiseKey("DATABASE_URL", ""); got != "unset" {
		t.Errorf("expected 'unset', got %q", got)
	}
}

func TestSanitiseKey_NonSecret(t *testing.T) {
	t.Parallel()
	if got := SanitiseKey("STORE_BACKEND", "sqlite"); got != "sqlite" {
		t.Errorf("expected 'sqlite', got %q", got)
	}
	if got := SanitiseKey("STORE_BACKEND", ""); got != "unset" {
		t.Errorf("expected 'unset', got %q", got)
	}
}

func TestSanitiseConfigPath(t *testing.T) {
	t.Parallel()
	if got := sanitiseConfigPath(""); got != "none" {
		t.Errorf("expected 'none', got %q", got)
	}
	if got := sanitiseConfigPath("/tmp/config.yaml"); got != "/tmp/config.yaml" {
		t.Errorf("expected '/tmp/config.yaml', got %q", got)
	}
	home, err := os.UserHomeDir()
	if err == nil {
		p := home + "/.retrieve/config.yaml"
		if got := sanitiseConfigPath(p); got != "~/.retrieve/config.yaml" {
			t.Errorf("expected '~/.retrieve/config.yaml', got %q", got)
		}
	}
}

// TestLogCommandStart_RedactsSecrets verifies that secret values never reach
// the log output while non-secret values are recorded verbatim.
func TestLogCommandStart_RedactsSecrets(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://user:hunter2@db/retrieve")
	t.Setenv("EMBEDDING_MODEL", "text-embedding-3-large")

	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, nil))
	LogCommandStart(context.Background(), log, "serve", "")

	if bytes.Contains(buf.Bytes(), []byte("hunter2")) {
		t.Fatalf("secret leaked into audit log: %s", buf.String())
	}

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec["DATABASE_URL"] != "set" {
		t.Errorf("DATABASE_URL: got %v, want set", rec["DATABASE_URL"])
	}
	if rec["EMBEDDING_MODEL"] != "text-embedding-3-large" {
		t.Errorf("EMBEDDING_MODEL: got %v", rec["EMBEDDING_MODEL"])
	}
	if rec["command"] != "serve" || rec["config_file"] != "none" {
		t.Errorf("unexpected command/config_file: %v / %v", rec["command"], rec["config_file"])
	}
}
