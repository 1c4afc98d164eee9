package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/54b3r/retrieve-go/internal/embedder"
	"github.com/54b3r/retrieve-go/internal/logging"
	"github.com/54b3r/retrieve-go/internal/rag"
	"github.com/54b3r/retrieve-go/internal/store"
)

// Error codes returned in the "error.code" field.
const (
	codeInvalidInput      = "invalid_input"
	codeBodyTooLarge      = "body_too_large"
	codeUnauthorized      = "unauthorized"
	codeRateLimited       = "rate_limited"
	codeMissingCredential = "missing_credential"
	codeUpstream          = "upstream_unavailable"
	codeMalformed         = "malformed_response"
	codeStoreUnavailable  = "store_unavailable"
	codeDimensionMismatch = "dimension_mismatch"
	codeModelMismatch     = "model_mismatch"
	codeInternal          = "internal"
)

// errBodyTooLarge marks a request body that exceeded Config.MaxBodyBytes.
var errBodyTooLarge = errors.New("request body too large")

// classification is the client-facing view of an error.
type classification struct {
	status  int
	code    string
	message string
}

// errorClasses is checked in order; the first sentinel matched wins.
var errorClasses = []struct {
	target error
	class  classification
}{
	{errBodyTooLarge, classification{http.StatusRequestEntityTooLarge, codeBodyTooLarge, "request body too large"}},
	{rag.ErrInvalidInput, classification{http.StatusBadRequest, codeInvalidInput, "invalid input"}},
	{embedder.ErrMissingCredential, classification{http.StatusInternalServerError, codeMissingCredential, "embedding credential is not configured"}},
	{embedder.ErrUpstreamUnavailable, classification{http.StatusBadGateway, codeUpstream, "embedding service unavailable"}},
	{embedder.ErrMalformedResponse, classification{http.StatusBadGateway, codeMalformed, "embedding service returned a malformed response"}},
	{store.ErrStoreUnavailable, classification{http.StatusServiceUnavailable, codeStoreUnavailable, "store unavailable"}},
	{store.ErrDimensionMismatch, classification{http.StatusUnprocessableEntity, codeDimensionMismatch, "embedding dimension does not match the store"}},
	{store.ErrModelMismatch, classification{http.StatusConflict, codeModelMismatch, "embedding model does not match the store"}},
}

// classify maps err onto a status, code and fixed message.
func classify(err error) classification {
	for _, ec := range errorClasses {
		if errors.Is(err, ec.target) {
			return ec.class
		}
	}
	return classification{http.StatusInternalServerError, codeInternal, "internal error"}
}

// writeJSON encodes v with status.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.FromContext(r.Context()).Error("response encode error", slog.Any("error", err))
	}
}

// writeErrorCode writes an error envelope with an explicit code.
func writeErrorCode(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, r, status, errorBody{Error: errorDetail{Code: code, Message: message}})
}

// writeError classifies err, logs the full chain and writes the envelope.
// It returns the code for metrics.
func writeError(w http.ResponseWriter, r *http.Request, err error) string {
	c := classify(err)
	log := logging.FromContext(r.Context())
	if c.status >= http.StatusInternalServerError {
		log.Error("request failed", slog.String("code", c.code), slog.Any("error", err))
	} else {
		log.Warn("request rejected", slog.String("code", c.code), slog.Any("error", err))
	}
	writeErrorCode(w, r, c.status, c.code, c.message)
	return c.code
}
