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

// DefaultServiceEndpoint is the base URL of the hosted embedding service.
const DefaultServiceEndpoint = "https://embedder.excoffierleonard.com"

// ServiceEmbedder talks to a generic embedding service exposing
// POST {endpoint}/embed with body {"model", "texts"} and response
// {"embeddings"}. Authentication is a bearer credential resolved on every
// call. It is safe for concurrent use.
type ServiceEmbedder struct {
	// endpoint is the service base URL without trailing slash.
	endpoint string
	// dimensions is the expected vector length (0 disables the check).
	dimensions int
	// credential resolves the bearer token per call.
	credential CredentialFunc
	// client is the shared HTTP client.
	client *http.Client
}

// ServiceConfig holds the settings for constructing a ServiceEmbedder.
type ServiceConfig struct {
	// Endpoint is the service base URL. Defaults to DefaultServiceEndpoint.
	Endpoint string
	// Dimensions is the expected vector length.
	Dimensions int
	// Credential resolves the bearer token. Defaults to
	// EnvCredential("EMBEDDING_API_KEY", "OPENAI_API_KEY").
	Credential CredentialFunc
	// Timeout bounds each call. Defaults to 60s.
	Timeout time.Duration
	// HTTPClient overrides the client built from Timeout.
	HTTPClient *http.Client
}

// NewServiceEmbedder constructs a ServiceEmbedder from cfg.
func NewServiceEmbedder(cfg *ServiceConfig) *ServiceEmbedder {
	if cfg == nil {
		cfg = &ServiceConfig{}
	}
	endpoint := strings.TrimRight(cfg.Endpoint, "/")
	if endpoint == "" {
		endpoint = DefaultServiceEndpoint
	}
	cred := cfg.Credential
	if cred == nil {
		cred = EnvCredential("EMBEDDING_API_KEY", "OPENAI_API_KEY")
	}
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &ServiceEmbedder{
		endpoint:   endpoint,
		dimensions: cfg.Dimensions,
		credential: cred,
		client:     client,
	}
}

// serviceEmbedRequest is the JSON body sent to /embed.
type serviceEmbedRequest struct {
	Model string   `json:"model"`
	Texts []string `json:"texts"`
}

// serviceEmbedResponse is the JSON body returned by /embed.
type serviceEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed sends texts to the service and returns the aligned embeddings.
func (e *ServiceEmbedder) Embed(ctx context.Context, model string, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	token, err := e.credential()
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(serviceEmbedRequest{Model: model, Texts: texts})
	if err != nil {
		return nil, fmt.Errorf("service embedder: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint+"/embed", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("service embedder: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: service request failed: %v", ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, upstreamStatusError("service", resp)
	}

	var result serviceEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("%w: decode service response: %v", ErrMalformedResponse, err)
	}

	if err := Validate(len(texts), result.Embeddings, e.dimensions); err != nil {
		return nil, err
	}
	return result.Embeddings, nil
}
