// Package embedder turns ordered lists of texts into aligned, fixed-dimension
// vectors by calling an external embedding provider. Every backend shares one
// error contract:
//
//   - [ErrMissingCredential]: no bearer credential could be resolved; no
//     network call was made.
//   - [ErrUpstreamUnavailable]: the provider could not be reached or answered
//     with a non-success status.
//   - [ErrMalformedResponse]: the response could not be decoded, carried the
//     wrong number of vectors, or a vector of the wrong dimension.
//
// Backends never retry. Retry policy belongs to the caller.
package embedder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
)

var (
	// ErrMissingCredential is returned before any network I/O when the
	// provider requires a credential and none is configured.
	ErrMissingCredential = errors.New("embedder: missing credential")

	// ErrUpstreamUnavailable covers transport failures and non-2xx statuses.
	ErrUpstreamUnavailable = errors.New("embedder: upstream unavailable")

	// ErrMalformedResponse covers undecodable bodies and count or dimension
	// mismatches between the request and the returned vectors.
	ErrMalformedResponse = errors.New("embedder: malformed response")
)

// Embedder converts texts into embeddings. The i-th returned vector belongs
// to the i-th input text. Implementations must be safe for concurrent use.
type Embedder interface {
	Embed(ctx context.Context, model string, texts []string) ([][]float32, error)
}

// CredentialFunc resolves the bearer credential for a single call.
type CredentialFunc func() (string, error)

// EnvCredential returns a CredentialFunc that reads the first non-empty
// variable among keys at call time.
func EnvCredential(keys ...string) CredentialFunc {
	return func() (string, error) {
		for _, k := range keys {
			if v := strings.TrimSpace(os.Getenv(k)); v != "" {
				return v, nil
			}
		}
		return "", fmt.Errorf("%w: set one of %s", ErrMissingCredential, strings.Join(keys, ", "))
	}
}

// StaticCredential always yields key. An empty key yields ErrMissingCredential.
func StaticCredential(key string) CredentialFunc {
	return func() (string, error) {
		if key == "" {
			return "", ErrMissingCredential
		}
		return key, nil
	}
}

// Validate checks that vectors align with n input texts and that every
// vector has length dim. A dim of zero skips the length check.
func Validate(n int, vectors [][]float32, dim int) error {
	if len(vectors) != n {
		return fmt.Errorf("%w: expected %d embeddings, got %d", ErrMalformedResponse, n, len(vectors))
	}
	if dim <= 0 {
		return nil
	}
	for i, v := range vectors {
		if len(v) != dim {
			return fmt.Errorf("%w: embedding %d has dimension %d, want %d", ErrMalformedResponse, i, len(v), dim)
		}
	}
	return nil
}

// upstreamStatusError drains resp.Body and returns a status-only error. The
// body is intentionally not echoed: it may contain provider diagnostics that
// must not reach end users.
func upstreamStatusError(backend string, resp *http.Response) error {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
	return fmt.Errorf("%w: %s returned HTTP %d", ErrUpstreamUnavailable, backend, resp.StatusCode)
}
