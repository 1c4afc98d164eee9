// Package server implements the HTTP API over the ingestion and similarity
// pipeline: POST /v1/input stores texts, POST /v1/fetch_similar queries them.
// The server is started by the `retrieve serve` CLI command.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/klauspost/compress/gzhttp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/54b3r/retrieve-go/internal/logging"
	"github.com/54b3r/retrieve-go/internal/rag"
)

// defaultMaxBodyBytes bounds /v1/* request bodies.
const defaultMaxBodyBytes = 32 << 20

// New constructs a Server around an ingester and a querier.
func New(ing *rag.Ingester, ret *rag.Retriever, cfg *Config) (*Server, error) {
	if ing == nil {
		return nil, fmt.Errorf("server: ingester must not be nil")
	}
	if ret == nil {
		return nil, fmt.Errorf("server: retriever must not be nil")
	}
	return newServer(ing, ret, cfg), nil
}

// newServer applies defaults and builds the mux. Tests call it with fakes.
func newServer(ing ingester, q querier, cfg *Config) *Server {
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 3 * time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.MaxBodyBytes == 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = defaultRateBurst
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.New()
	}
	if cfg.MetricsRegistry == nil {
		cfg.MetricsRegistry = prometheus.DefaultRegisterer
	}
	if cfg.MetricsGatherer == nil {
		cfg.MetricsGatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		ingester: ing,
		querier:  q,
		cfg:      cfg,
		log:      cfg.Logger,
		pingers:  cfg.Pingers,
		metrics:  newServerMetrics(cfg.MetricsRegistry),
	}

	adm, stop := newAdmission(cfg.RateLimit, cfg.RateBurst)
	s.stopRL = stop

	// protected applies rate limiting then auth to /v1/* routes.
	protected := func(name string, h http.HandlerFunc) http.Handler {
		return s.metrics.instrument(name, adm.middleware(authMiddleware(cfg.APIKey, h)))
	}

	similar := protected("fetch_similar", s.handleFetchSimilar)
	if !cfg.DisableCompression {
		similar = gzhttp.GzipHandler(similar)
	}

	mux := http.NewServeMux()
	mux.Handle("POST /v1/input", protected("input", s.handleInput))
	mux.Handle("POST /v1/fetch_similar", similar)
	mux.Handle("GET /api/health", s.metrics.instrument("health", http.HandlerFunc(s.handleHealth)))
	mux.Handle("GET /api/ready", s.metrics.instrument("ready", http.HandlerFunc(s.handleReady)))
	mux.Handle("GET /metrics", promhttp.HandlerFor(cfg.MetricsGatherer, promhttp.HandlerOpts{}))

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      requestLogger(cfg.Logger, mux),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	if cfg.APIKey == "" {
		cfg.Logger.Warn("server: RETRIEVE_API_KEY not set, /v1/* is unauthenticated")
	}
	return s
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	defer s.stopRL()
	errCh := make(chan error, 1)

	go func() {
		s.log.Info("server listening", slog.String("addr", "http://"+s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		s.log.Info("server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		return nil
	}
}

// decodeBody decodes a JSON body, rejecting unknown fields and oversize bodies.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return fmt.Errorf("%w: limit is %d bytes", errBodyTooLarge, tooLarge.Limit)
		}
		return fmt.Errorf("%w: request body: %v", rag.ErrInvalidInput, err)
	}
	return nil
}

// handleInput handles POST /v1/input: embed and store a batch of texts.
func (s *Server) handleInput(w http.ResponseWriter, r *http.Request) {
	var req inputRequest
	if err := s.decodeBody(w, r, &req); err != nil {
		s.metrics.ingestRequestsTotal.WithLabelValues(writeError(w, r, err)).Inc()
		return
	}

	res, err := s.ingester.Ingest(r.Context(), req.Texts)
	if err != nil {
		s.metrics.ingestRequestsTotal.WithLabelValues(writeError(w, r, err)).Inc()
		return
	}

	s.metrics.ingestRequestsTotal.WithLabelValues("ok").Inc()
	s.metrics.ingestTextsTotal.WithLabelValues("inserted").Add(float64(res.Inserted))
	s.metrics.ingestTextsTotal.WithLabelValues("skipped").Add(float64(res.Skipped))
	logging.FromContext(r.Context()).Info("input stored",
		slog.Int("received", res.Received),
		slog.Int("inserted", res.Inserted),
		slog.Int("skipped", res.Skipped),
	)

	writeJSON(w, r, http.StatusOK, inputResponse{
		Message:  "Success",
		Inserted: res.Inserted,
		Skipped:  res.Skipped,
	})
}

// handleFetchSimilar handles POST /v1/fetch_similar. A missing top_k means
// rag.DefaultTopK; an explicit non-positive value is rejected.
func (s *Server) handleFetchSimilar(w http.ResponseWriter, r *http.Request) {
	var req fetchSimilarRequest
	if err := s.decodeBody(w, r, &req); err != nil {
		s.metrics.queryRequestsTotal.WithLabelValues(writeError(w, r, err)).Inc()
		return
	}
	topK := rag.DefaultTopK
	if req.TopK != nil {
		topK = *req.TopK
	}

	texts, err := s.querier.Query(r.Context(), req.Text, topK)
	if err != nil {
		s.metrics.queryRequestsTotal.WithLabelValues(writeError(w, r, err)).Inc()
		return
	}
	if texts == nil {
		texts = []string{}
	}

	s.metrics.queryRequestsTotal.WithLabelValues("ok").Inc()
	s.metrics.queryResults.Observe(float64(len(texts)))
	writeJSON(w, r, http.StatusOK, fetchSimilarResponse{Texts: texts})
}

// handleHealth handles GET /api/health for liveness checks.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}
