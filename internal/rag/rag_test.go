package rag

import (
	"context"
	"errors"
	"testing"

	"github.com/54b3r/retrieve-go/internal/embedder"
	"github.com/54b3r/retrieve-go/internal/store"
)

// fakeEmbedder maps each text to a fixed vector and records calls.
type fakeEmbedder struct {
	vectors map[string][]float32
	err     error
	calls   [][]string
	models  []string
}

func (f *fakeEmbedder) Embed(_ context.Context, model string, texts []string) ([][]float32, error) {
	f.calls = append(f.calls, texts)
	f.models = append(f.models, model)
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, ok := f.vectors[t]
		if !ok {
			v = []float32{0, 0, 1}
		}
		out[i] = v
	}
	return out, nil
}

func newSQLite(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.OpenSQLite(":memory:", 3)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestIngester_DedupesAndCountsSkipped(t *testing.T) {
	t.Parallel()
	emb := &fakeEmbedder{}
	vs := newSQLite(t)
	ing, err := NewIngester(emb, vs, "m")
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	res, err := ing.Ingest(ctx, []string{"a", "b", "a"})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	want := Result{Received: 3, Unique: 2, Inserted: 2, Skipped: 0}
	if res != want {
		t.Errorf("got %+v, want %+v", res, want)
	}
	if len(emb.calls) != 1 || len(emb.calls[0]) != 2 {
		t.Errorf("expected one embed call with 2 texts, got %v", emb.calls)
	}

	res, err = ing.Ingest(ctx, []string{"a", "c"})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.Inserted != 1 || res.Skipped != 1 {
		t.Errorf("second ingest: %+v, want 1 inserted 1 skipped", res)
	}
	if emb.models[0] != "m" || emb.models[1] != "m" {
		t.Errorf("models used: %v", emb.models)
	}
}

func TestIngester_InvalidInput(t *testing.T) {
	t.Parallel()
	emb := &fakeEmbedder{}
	ing, _ := NewIngester(emb, newSQLite(t), "m")

	for _, texts := range [][]string{nil, {}, {"ok", "  "}} {
		if _, err := ing.Ingest(context.Background(), texts); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("Ingest(%q): expected ErrInvalidInput, got %v", texts, err)
		}
	}
	if len(emb.calls) != 0 {
		t.Errorf("embedder called for invalid input: %v", emb.calls)
	}
}

func TestIngester_PropagatesEmbedderErrors(t *testing.T) {
	t.Parallel()
	vs := newSQLite(t)
	ing, _ := NewIngester(&fakeEmbedder{err: embedder.ErrUpstreamUnavailable}, vs, "m")

	_, err := ing.Ingest(context.Background(), []string{"a"})
	if !errors.Is(err, embedder.ErrUpstreamUnavailable) {
		t.Fatalf("expected ErrUpstreamUnavailable, got %v", err)
	}
	if n, _ := vs.Count(context.Background()); n != 0 {
		t.Errorf("store written after embed failure: %d rows", n)
	}
}

func TestIngester_DimensionMismatch(t *testing.T) {
	t.Parallel()
	emb := &fakeEmbedder{vectors: map[string][]float32{"short": {1, 2}}}
	ing, _ := NewIngester(emb, newSQLite(t), "m")

	_, err := ing.Ingest(context.Background(), []string{"fine", "short"})
	if !errors.Is(err, store.ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestRetriever_QueryOrdersByDistance(t *testing.T) {
	t.Parallel()
	emb := &fakeEmbedder{vectors: map[string][]float32{
		"d1":    {1, 0.1, 0},
		"d2":    {1, 1, 0},
		"d3":    {0, 0, 1},
		"query": {1, 0, 0},
	}}
	vs := newSQLite(t)
	ing, _ := NewIngester(emb, vs, "m")
	if _, err := ing.Ingest(context.Background(), []string{"d3", "d1", "d2"}); err != nil {
		t.Fatal(err)
	}

	ret, err := NewRetriever(emb, vs, "m")
	if err != nil {
		t.Fatal(err)
	}
	got, err := ret.Query(context.Background(), "query", 2)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 2 || got[0] != "d1" || got[1] != "d2" {
		t.Errorf("got %v, want [d1 d2]", got)
	}
}

func TestRetriever_InvalidInput(t *testing.T) {
	t.Parallel()
	emb := &fakeEmbedder{}
	ret, _ := NewRetriever(emb, newSQLite(t), "m")

	if _, err := ret.Query(context.Background(), "q", 0); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("topK 0: expected ErrInvalidInput, got %v", err)
	}
	if _, err := ret.Query(context.Background(), " ", 3); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("blank query: expected ErrInvalidInput, got %v", err)
	}
	if len(emb.calls) != 0 {
		t.Error("embedder called for invalid input")
	}
}

// emptyEmbedder returns no vectors at all.
type emptyEmbedder struct{}

func (emptyEmbedder) Embed(context.Context, string, []string) ([][]float32, error) {
	return nil, nil
}

func TestRetriever_EmptyEmbeddingIsMalformed(t *testing.T) {
	t.Parallel()
	ret, _ := NewRetriever(emptyEmbedder{}, newSQLite(t), "m")
	_, err := ret.Query(context.Background(), "q", 1)
	if !errors.Is(err, embedder.ErrMalformedResponse) {
		t.Errorf("expected ErrMalformedResponse, got %v", err)
	}
}

func TestConstructorsRejectNil(t *testing.T) {
	t.Parallel()
	vs := newSQLite(t)
	if _, err := NewRetriever(nil, vs, "m"); err == nil {
		t.Error("NewRetriever accepted nil embedder")
	}
	if _, err := NewIngester(&fakeEmbedder{}, nil, "m"); err == nil {
		t.Error("NewIngester accepted nil store")
	}
	if _, err := NewIngester(&fakeEmbedder{}, vs, ""); err == nil {
		t.Error("NewIngester accepted empty model")
	}
}
