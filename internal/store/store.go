// Package store persists (text, embedding) records with skip-on-conflict
// semantics and ranks them by cosine distance to a query vector.
//
// Three backends share one contract: PostgresStore (pgvector), SQLiteStore
// (exact scan, single host) and QdrantStore. For every backend:
//
//   - a text is stored at most once; the first embedding wins;
//   - every embedding in a batch is checked against the configured dimension
//     before anything is written, so a malformed batch writes nothing;
//   - connectivity failures wrap [ErrStoreUnavailable].
package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrStoreUnavailable is returned when the backing store cannot be reached.
	ErrStoreUnavailable = errors.New("store: unavailable")

	// ErrDimensionMismatch is returned when an embedding length differs from
	// the store's configured dimension.
	ErrDimensionMismatch = errors.New("store: dimension mismatch")

	// ErrModelMismatch is returned by EnsureMeta when the store was populated
	// with a different embedding model than the one configured.
	ErrModelMismatch = errors.New("store: embedding model mismatch")
)

// Record is one text and its embedding.
type Record struct {
	Text      string
	Embedding []float32
}

// Match is a stored text and its cosine distance to a query vector.
type Match struct {
	Text     string  `json:"text"`
	Distance float64 `json:"distance"`
}

// Store is the persistence surface shared by all backends. Implementations
// must be safe for concurrent use.
type Store interface {
	// InsertBatch writes records in one atomic operation, skipping texts that
	// already exist, and returns the number of rows actually inserted.
	InsertBatch(ctx context.Context, records []Record) (int, error)

	// Search returns up to topK stored texts ordered by ascending cosine
	// distance to query. Equal distances keep insertion order where the
	// backend can provide it.
	Search(ctx context.Context, query []float32, topK int) ([]Match, error)

	// Count returns the number of stored records.
	Count(ctx context.Context) (int64, error)

	// EnsureMeta records the embedding model (and dimension) on first use
	// and fails with ErrModelMismatch or ErrDimensionMismatch when a later
	// process is configured differently.
	EnsureMeta(ctx context.Context, model string) error

	// Dimensions returns the configured embedding length.
	Dimensions() int

	// Ping reports whether the store is reachable.
	Ping(ctx context.Context) error

	// Name is a short label used in readiness responses.
	Name() string

	// Close releases the underlying connection.
	Close() error
}

// CheckDimensions returns ErrDimensionMismatch if any record's embedding
// length differs from dim.
func CheckDimensions(records []Record, dim int) error {
	for i, r := range records {
		if len(r.Embedding) != dim {
			return fmt.Errorf("%w: record %d has %d components, want %d", ErrDimensionMismatch, i, len(r.Embedding), dim)
		}
	}
	return nil
}

// checkQuery validates a query vector against dim.
func checkQuery(query []float32, dim int) error {
	if len(query) != dim {
		return fmt.Errorf("%w: query has %d components, want %d", ErrDimensionMismatch, len(query), dim)
	}
	return nil
}

// Metadata keys kept in store_meta.
const (
	metaDimension = "dimension"
	metaModel     = "model"
)

// compareMeta checks stored metadata against the configured values.
func compareMeta(storedDim, storedModel string, dim int, model string) error {
	if storedDim != strconv.Itoa(dim) {
		return fmt.Errorf("%w: store holds %s-dimension embeddings, configured %d", ErrDimensionMismatch, storedDim, dim)
	}
	if storedModel != model {
		return fmt.Errorf("%w: store was populated with %q, configured %q", ErrModelMismatch, storedModel, model)
	}
	return nil
}

// maxRowsPerStatement keeps multi-row inserts under the bind-parameter limits
// of both Postgres (65535) and SQLite (32766) at two parameters per row.
const maxRowsPerStatement = 1000

// insertStatement builds a multi-row INSERT for n rows of (text, embedding).
// placeholder returns the driver-specific marker for the i-th (1-based) arg.
func insertStatement(prefix, suffix string, n int, placeholder func(i int) string) string {
	var b strings.Builder
	b.WriteString(prefix)
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		b.WriteString(placeholder(2*i + 1))
		b.WriteString(", ")
		b.WriteString(placeholder(2*i + 2))
		b.WriteString(")")
	}
	b.WriteString(suffix)
	return b.String()
}

// chunks splits records into slices of at most size.
func chunks(records []Record, size int) [][]Record {
	var out [][]Record
	for len(records) > size {
		out = append(out, records[:size])
		records = records[size:]
	}
	if len(records) > 0 {
		out = append(out, records)
	}
	return out
}
