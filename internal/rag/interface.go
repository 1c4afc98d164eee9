// Package rag ties the embedding client to the vector store: the Ingester
// embeds and persists texts, the Retriever embeds a query and ranks stored
// texts against it. Both are bound to a single embedding model so a process
// never mixes vectors from different models.
package rag

import (
	"context"
	"errors"

	"github.com/54b3r/retrieve-go/internal/store"
)

// DefaultTopK is the result count used by callers that let the user omit it.
const DefaultTopK = 5

// ErrInvalidInput is returned for empty or blank texts and non-positive topK.
var ErrInvalidInput = errors.New("rag: invalid input")

// VectorStore is the subset of store.Store used here.
// Implementations must be safe to call from multiple goroutines.
type VectorStore interface {
	// InsertBatch persists records, skipping texts that already exist.
	InsertBatch(ctx context.Context, records []store.Record) (int, error)

	// Search returns up to topK texts by ascending distance to query.
	Search(ctx context.Context, query []float32, topK int) ([]store.Match, error)
}

// Embedder converts texts into aligned embeddings with the given model.
type Embedder interface {
	Embed(ctx context.Context, model string, texts []string) ([][]float32, error)
}
