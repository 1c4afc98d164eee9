package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/retrieve-go/internal/rag"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response. It must
	// cover one embedding round trip plus the store write.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// MaxBodyBytes caps request bodies on /v1/* (default 32 MiB).
	MaxBodyBytes int64
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [logging.New] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency checks run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on /v1/*
	// (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// APIKey is the Bearer token required on /v1/* routes.
	// If empty, authentication is disabled (development mode).
	APIKey string
	// MetricsRegistry receives the server's collectors. Defaults to
	// prometheus.DefaultRegisterer.
	MetricsRegistry prometheus.Registerer
	// MetricsGatherer backs GET /metrics. Defaults to prometheus.DefaultGatherer.
	MetricsGatherer prometheus.Gatherer
	// DisableCompression turns off gzip on /v1/fetch_similar responses.
	DisableCompression bool
}

// ingester is what handleInput calls. *rag.Ingester satisfies it.
type ingester interface {
	Ingest(ctx context.Context, texts []string) (rag.Result, error)
}

// querier is what handleFetchSimilar calls. *rag.Retriever satisfies it.
type querier interface {
	Query(ctx context.Context, text string, topK int) ([]string, error)
}

// Server exposes ingestion and similarity search over HTTP.
type Server struct {
	// ingester embeds and stores /v1/input batches.
	ingester ingester
	// querier answers /v1/fetch_similar.
	querier querier
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency checks for GET /api/ready.
	pingers []Pinger
	// metrics holds the Prometheus collectors owned by this server.
	metrics *serverMetrics
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
}

// inputRequest is the JSON body for POST /v1/input.
type inputRequest struct {
	Texts []string `json:"texts"`
}

// inputResponse is the JSON response for POST /v1/input.
type inputResponse struct {
	Message  string `json:"message"`
	Inserted int    `json:"inserted"`
	Skipped  int    `json:"skipped"`
}

// fetchSimilarRequest is the JSON body for POST /v1/fetch_similar.
type fetchSimilarRequest struct {
	Text string `json:"text"`
	// TopK is a pointer so an absent field can be told apart from 0.
	TopK *int `json:"top_k"`
}

// fetchSimilarResponse is the JSON response for POST /v1/fetch_similar.
type fetchSimilarResponse struct {
	Texts []string `json:"texts"`
}

// errorBody is the envelope for every error response.
type errorBody struct {
	Error errorDetail `json:"error"`
}

// errorDetail carries a stable code and a fixed human message. Upstream
// bodies and vectors never appear here.
type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
