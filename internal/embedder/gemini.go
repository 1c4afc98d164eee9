package embedder

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"google.golang.org/genai"
)

// GeminiEmbedder implements Embedder using the Gemini API EmbedContent call.
// The API key is resolved on every call; the underlying client is rebuilt
// only when the key changes.
type GeminiEmbedder struct {
	dimensions int
	baseURL    string
	credential CredentialFunc
	httpClient *http.Client

	mu         sync.RWMutex
	client     *genai.Client
	currentKey string
}

// GeminiConfig holds the settings for constructing a GeminiEmbedder.
type GeminiConfig struct {
	// BaseURL overrides the Gemini API base URL. Empty uses the SDK default.
	BaseURL string
	// Dimensions is sent as OutputDimensionality and checked on the result.
	Dimensions int
	// Credential resolves the API key. Defaults to
	// EnvCredential("EMBEDDING_API_KEY", "GOOGLE_API_KEY").
	Credential CredentialFunc
	// HTTPClient is handed to the SDK. Nil uses the SDK default.
	HTTPClient *http.Client
}

// NewGeminiEmbedder constructs a GeminiEmbedder from cfg.
func NewGeminiEmbedder(cfg *GeminiConfig) *GeminiEmbedder {
	cred := cfg.Credential
	if cred == nil {
		cred = EnvCredential("EMBEDDING_API_KEY", "GOOGLE_API_KEY")
	}
	return &GeminiEmbedder{
		dimensions: cfg.Dimensions,
		baseURL:    cfg.BaseURL,
		credential: cred,
		httpClient: cfg.HTTPClient,
	}
}

// Embed converts texts into embeddings via a single batched EmbedContent call.
func (e *GeminiEmbedder) Embed(ctx context.Context, model string, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	key, err := e.credential()
	if err != nil {
		return nil, err
	}

	client, err := e.getClient(ctx, key)
	if err != nil {
		return nil, err
	}

	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = genai.NewContentFromText(t, genai.RoleUser)
	}

	var cfg *genai.EmbedContentConfig
	if e.dimensions > 0 {
		dim := int32(e.dimensions) //nolint:gosec // dimensions are validated positive and small
		cfg = &genai.EmbedContentConfig{OutputDimensionality: &dim}
	}

	resp, err := client.Models.EmbedContent(ctx, model, contents, cfg)
	if err != nil {
		return nil, geminiError(err)
	}
	if resp == nil {
		return nil, fmt.Errorf("%w: gemini returned no response", ErrMalformedResponse)
	}

	vectors := make([][]float32, 0, len(resp.Embeddings))
	for _, emb := range resp.Embeddings {
		if emb == nil {
			return nil, fmt.Errorf("%w: gemini returned a nil embedding", ErrMalformedResponse)
		}
		vectors = append(vectors, emb.Values)
	}

	if err := Validate(len(texts), vectors, e.dimensions); err != nil {
		return nil, err
	}
	return vectors, nil
}

// getClient returns a cached client for key, building a new one when the
// key differs from the cached one.
func (e *GeminiEmbedder) getClient(ctx context.Context, key string) (*genai.Client, error) {
	e.mu.RLock()
	if e.client != nil && e.currentKey == key {
		defer e.mu.RUnlock()
		return e.client, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.client != nil && e.currentKey == key {
		return e.client, nil
	}

	cc := &genai.ClientConfig{
		APIKey:     key,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: e.httpClient,
	}
	if e.baseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: e.baseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("embedder: create gemini client: %w", err)
	}

	e.client = client
	e.currentKey = key
	return client, nil
}

// geminiError maps an SDK failure onto ErrUpstreamUnavailable. For HTTP
// errors only the status is kept; the upstream body is not echoed.
func geminiError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%w: gemini returned HTTP %d", ErrUpstreamUnavailable, apiErr.Code)
	}
	return fmt.Errorf("%w: gemini embed: %v", ErrUpstreamUnavailable, err)
}
