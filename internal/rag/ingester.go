package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/54b3r/retrieve-go/internal/embedder"
	"github.com/54b3r/retrieve-go/internal/logging"
	"github.com/54b3r/retrieve-go/internal/store"
)

// Result summarises one ingestion call.
type Result struct {
	// Received is the number of texts in the request.
	Received int `json:"received"`
	// Unique is the number after removing in-request duplicates.
	Unique int `json:"unique"`
	// Inserted is the number of new rows written.
	Inserted int `json:"inserted"`
	// Skipped is the number of unique texts that were already stored.
	Skipped int `json:"skipped"`
}

// Ingester embeds texts with one model and stores them.
type Ingester struct {
	embedder Embedder
	store    VectorStore
	model    string
}

// NewIngester constructs an Ingester bound to model.
func NewIngester(emb Embedder, vs VectorStore, model string) (*Ingester, error) {
	if emb == nil {
		return nil, fmt.Errorf("rag: embedder must not be nil")
	}
	if vs == nil {
		return nil, fmt.Errorf("rag: store must not be nil")
	}
	if model == "" {
		return nil, fmt.Errorf("rag: model must not be empty")
	}
	return &Ingester{embedder: emb, store: vs, model: model}, nil
}

// Ingest embeds texts in a single call and inserts them as one batch.
// Duplicates within texts are dropped, keeping the first occurrence; texts
// already in the store are skipped by the store.
func (in *Ingester) Ingest(ctx context.Context, texts []string) (Result, error) {
	if len(texts) == 0 {
		return Result{}, fmt.Errorf("%w: no texts", ErrInvalidInput)
	}

	unique := make([]string, 0, len(texts))
	seen := make(map[string]struct{}, len(texts))
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			return Result{}, fmt.Errorf("%w: text %d is blank", ErrInvalidInput, i)
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		unique = append(unique, t)
	}

	embeddings, err := in.embedder.Embed(ctx, in.model, unique)
	if err != nil {
		return Result{}, fmt.Errorf("rag: embedding batch failed: %w", err)
	}
	if len(embeddings) != len(unique) {
		return Result{}, fmt.Errorf("rag: %w: expected %d embeddings, got %d", embedder.ErrMalformedResponse, len(unique), len(embeddings))
	}

	records := make([]store.Record, len(unique))
	for i, t := range unique {
		records[i] = store.Record{Text: t, Embedding: embeddings[i]}
	}

	inserted, err := in.store.InsertBatch(ctx, records)
	if err != nil {
		return Result{}, fmt.Errorf("rag: insert batch failed: %w", err)
	}

	res := Result{
		Received: len(texts),
		Unique:   len(unique),
		Inserted: inserted,
		Skipped:  len(unique) - inserted,
	}
	logging.FromContext(ctx).Debug("rag: batch ingested",
		slog.Int("received", res.Received),
		slog.Int("inserted", res.Inserted),
		slog.Int("skipped", res.Skipped),
	)
	return res, nil
}
