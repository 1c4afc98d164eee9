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

// DefaultOpenAIEndpoint is the OpenAI API base URL.
const DefaultOpenAIEndpoint = "https://api.openai.com/v1"

// OpenAIEmbedder implements Embedder using the OpenAI embeddings REST API
// (or any compatible server). It is safe for concurrent use.
type OpenAIEmbedder struct {
	// baseURL is the API base (e.g. "https://api.openai.com/v1").
	baseURL string
	// dimensions is the requested and expected vector length.
	dimensions int
	// credential resolves the bearer token per call.
	credential CredentialFunc
	// client is the shared HTTP client.
	client *http.Client
}

// OpenAIConfig holds the settings for constructing an OpenAIEmbedder.
type OpenAIConfig struct {
	// BaseURL is the API base URL. Defaults to DefaultOpenAIEndpoint.
	BaseURL string
	// Dimensions is the desired vector length, sent as the "dimensions"
	// request field (text-embedding-3-* models honour it).
	Dimensions int
	// Credential resolves the API key. Defaults to
	// EnvCredential("EMBEDDING_API_KEY", "OPENAI_API_KEY").
	Credential CredentialFunc
	// Timeout bounds each call. Defaults to 30s.
	Timeout time.Duration
}

// NewOpenAIEmbedder constructs an OpenAIEmbedder from the given config.
func NewOpenAIEmbedder(cfg *OpenAIConfig) *OpenAIEmbedder {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultOpenAIEndpoint
	}
	cred := cfg.Credential
	if cred == nil {
		cred = EnvCredential("EMBEDDING_API_KEY", "OPENAI_API_KEY")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &OpenAIEmbedder{
		baseURL:    base,
		dimensions: cfg.Dimensions,
		credential: cred,
		client:     &http.Client{Timeout: timeout},
	}
}

// openaiEmbedRequest is the JSON body sent to the embeddings endpoint.
type openaiEmbedRequest struct {
	Input      []string `json:"input"`
	Model      string   `json:"model"`
	Dimensions int      `json:"dimensions,omitempty"`
}

// openaiEmbedResponse is the JSON body returned from the embeddings endpoint.
type openaiEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

// Embed converts a batch of texts into their corresponding embeddings.
func (e *OpenAIEmbedder) Embed(ctx context.Context, model string, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	token, err := e.credential()
	if err != nil {
		return nil, err
	}

	body := openaiEmbedRequest{Input: texts, Model: model}
	if e.dimensions > 0 {
		body.Dimensions = e.dimensions
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("openai embedder: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embeddings", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("openai embedder: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: openai request failed: %v", ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, upstreamStatusError("openai", resp)
	}

	var result openaiEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("%w: decode openai response: %v", ErrMalformedResponse, err)
	}
	if len(result.Data) != len(texts) {
		return nil, fmt.Errorf("%w: expected %d embeddings, got %d", ErrMalformedResponse, len(texts), len(result.Data))
	}

	// The API may return data out of order; place by index.
	embeddings := make([][]float32, len(texts))
	for _, d := range result.Data {
		if d.Index < 0 || d.Index >= len(texts) || embeddings[d.Index] != nil {
			return nil, fmt.Errorf("%w: index %d out of range or repeated", ErrMalformedResponse, d.Index)
		}
		embeddings[d.Index] = d.Embedding
	}

	if err := Validate(len(texts), embeddings, e.dimensions); err != nil {
		return nil, err
	}
	return embeddings, nil
}
