package embedder

import (
	"fmt"
	"time"
)

// Provider names accepted by New.
const (
	ProviderService = "service"
	ProviderOpenAI  = "openai"
	ProviderOllama  = "ollama"
	ProviderGemini  = "gemini"
)

// Options selects and configures an embedding backend.
type Options struct {
	// Provider is one of service, openai, ollama, gemini. Empty means service.
	Provider string
	// Endpoint overrides the backend's default base URL.
	Endpoint string
	// Dimensions is the expected vector length for every returned embedding.
	Dimensions int
	// Timeout bounds each upstream call.
	Timeout time.Duration
	// Credential overrides the backend's default credential lookup.
	Credential CredentialFunc
}

// New constructs the Embedder named by opts.Provider. Credentials are not
// checked here; they are resolved on each Embed call so a missing key
// surfaces as ErrMissingCredential at request time.
func New(opts Options) (Embedder, error) {
	if opts.Dimensions <= 0 {
		return nil, fmt.Errorf("embedder: dimensions must be positive, got %d", opts.Dimensions)
	}

	switch opts.Provider {
	case "", ProviderService:
		return NewServiceEmbedder(&ServiceConfig{
			Endpoint:   opts.Endpoint,
			Dimensions: opts.Dimensions,
			Credential: opts.Credential,
			Timeout:    opts.Timeout,
		}), nil

	case ProviderOpenAI:
		return NewOpenAIEmbedder(&OpenAIConfig{
			BaseURL:    opts.Endpoint,
			Dimensions: opts.Dimensions,
			Credential: opts.Credential,
			Timeout:    opts.Timeout,
		}), nil

	case ProviderOllama:
		return NewOllamaEmbedder(&OllamaConfig{
			Host:       opts.Endpoint,
			Dimensions: opts.Dimensions,
			Timeout:    opts.Timeout,
		}), nil

	case ProviderGemini:
		return NewGeminiEmbedder(&GeminiConfig{
			BaseURL:    opts.Endpoint,
			Dimensions: opts.Dimensions,
			Credential: opts.Credential,
		}), nil

	default:
		return nil, fmt.Errorf("embedder: unknown provider %q (valid: service, openai, ollama, gemini)", opts.Provider)
	}
}

// DefaultGeminiEndpoint is the Gemini API host used when no endpoint is set.
const DefaultGeminiEndpoint = "https://generativelanguage.googleapis.com"

// Endpoint returns the base URL a provider talks to: override when set,
// otherwise the provider default.
func Endpoint(provider, override string) string {
	if override != "" {
		return override
	}
	switch provider {
	case ProviderOpenAI:
		return DefaultOpenAIEndpoint
	case ProviderOllama:
		return DefaultOllamaEndpoint
	case ProviderGemini:
		return DefaultGeminiEndpoint
	default:
		return DefaultServiceEndpoint
	}
}
