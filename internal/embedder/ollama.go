package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// DefaultOllamaEndpoint is the local Ollama server.
const DefaultOllamaEndpoint = "http://localhost:11434"

// OllamaEmbedder implements Embedder using the Ollama /api/embed endpoint.
// No credential is required; Ollama runs locally.
type OllamaEmbedder struct {
	// host is the Ollama server base URL.
	host string
	// dimensions is the expected vector length (0 disables the check).
	dimensions int
	// client is the shared HTTP client.
	client *http.Client
}

// OllamaConfig holds the settings for constructing an OllamaEmbedder.
type OllamaConfig struct {
	// Host is the Ollama server base URL. Defaults to DefaultOllamaEndpoint.
	Host string
	// Dimensions is the expected vector length.
	Dimensions int
	// Timeout bounds each call. Defaults to 60s.
	Timeout time.Duration
}

// NewOllamaEmbedder constructs an OllamaEmbedder from the given config.
func NewOllamaEmbedder(cfg *OllamaConfig) *OllamaEmbedder {
	host := strings.TrimRight(cfg.Host, "/")
	if host == "" {
		host = DefaultOllamaEndpoint
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &OllamaEmbedder{
		host:       host,
		dimensions: cfg.Dimensions,
		client:     &http.Client{Timeout: timeout},
	}
}

// ollamaEmbedRequest is the JSON body sent to the Ollama /api/embed endpoint.
type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// ollamaEmbedResponse is the JSON body returned from the Ollama /api/embed endpoint.
type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed converts a batch of texts into their corresponding embeddings.
func (e *OllamaEmbedder) Embed(ctx context.Context, model string, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	payload, err := json.Marshal(ollamaEmbedRequest{Model: model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("ollama embedder: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.host+"/api/embed", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("ollama embedder: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: ollama request failed: %v", ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, upstreamStatusError("ollama", resp)
	}

	var result ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("%w: decode ollama response: %v", ErrMalformedResponse, err)
	}

	if err := Validate(len(texts), result.Embeddings, e.dimensions); err != nil {
		return nil, err
	}
	return result.Embeddings, nil
}
