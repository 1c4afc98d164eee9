package rag

import (
	"context"
	"fmt"
	"strings"

	"github.com/54b3r/retrieve-go/internal/embedder"
	"github.com/54b3r/retrieve-go/internal/store"
)

// Retriever embeds a query and returns the most similar stored texts.
type Retriever struct {
	// embedder converts query text to a dense vector.
	embedder Embedder
	// store performs the similarity ranking.
	store VectorStore
	// model is the embedding model used at ingestion time.
	model string
}

// NewRetriever constructs a Retriever bound to model.
func NewRetriever(emb Embedder, vs VectorStore, model string) (*Retriever, error) {
	if emb == nil {
		return nil, fmt.Errorf("rag: embedder must not be nil")
	}
	if vs == nil {
		return nil, fmt.Errorf("rag: store must not be nil")
	}
	if model == "" {
		return nil, fmt.Errorf("rag: model must not be empty")
	}
	return &Retriever{embedder: emb, store: vs, model: model}, nil
}

// Query returns up to topK stored texts, most similar first.
func (r *Retriever) Query(ctx context.Context, text string, topK int) ([]string, error) {
	matches, err := r.Search(ctx, text, topK)
	if err != nil {
		return nil, err
	}
	texts := make([]string, len(matches))
	for i, m := range matches {
		texts[i] = m.Text
	}
	return texts, nil
}

// Search is Query with distances attached.
func (r *Retriever) Search(ctx context.Context, text string, topK int) ([]store.Match, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("%w: top_k must be positive, got %d", ErrInvalidInput, topK)
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: query text is empty", ErrInvalidInput)
	}

	embeddings, err := r.embedder.Embed(ctx, r.model, []string{text})
	if err != nil {
		return nil, fmt.Errorf("rag: embedding query failed: %w", err)
	}
	if len(embeddings) != 1 {
		return nil, fmt.Errorf("rag: %w: expected 1 query embedding, got %d", embedder.ErrMalformedResponse, len(embeddings))
	}

	matches, err := r.store.Search(ctx, embeddings[0], topK)
	if err != nil {
		return nil, fmt.Errorf("rag: vector search failed: %w", err)
	}
	return matches, nil
}
