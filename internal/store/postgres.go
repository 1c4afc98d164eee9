package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"embed"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/lib/pq"
	pgvector "github.com/pgvector/pgvector-go"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStore is a Store backed by Postgres with the pgvector extension.
// Records live in table main, keyed by text; ranking uses the <=> cosine
// distance operator with id as the tiebreak.
type PostgresStore struct {
	db  *sql.DB
	dim int
}

// OpenPostgres connects to url, verifies the connection and returns a store
// for embeddings of length dim. Migrations are not applied; call Migrate.
func OpenPostgres(ctx context.Context, url string, dim int) (*PostgresStore, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("store: open postgres: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: ping postgres: %v", ErrStoreUnavailable, err)
	}
	return NewPostgresStore(db, dim)
}

// NewPostgresStore wraps an existing pool.
func NewPostgresStore(db *sql.DB, dim int) (*PostgresStore, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("store: dimension must be positive, got %d", dim)
	}
	return &PostgresStore{db: db, dim: dim}, nil
}

// Migrate applies the embedded migrations. It is a no-op when the schema is
// already current.
func Migrate(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("store: migration source: %w", err)
	}
	drv, err := migratepg.WithInstance(db, &migratepg.Config{})
	if err != nil {
		return classify("migration driver", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", drv)
	if err != nil {
		return fmt.Errorf("store: migration instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("store: migrate up: %w", err)
	}
	return nil
}

// DB exposes the pool for migrations.
func (s *PostgresStore) DB() *sql.DB { return s.db }

// Dimensions returns the configured embedding length.
func (s *PostgresStore) Dimensions() int { return s.dim }

// Name returns the readiness label.
func (s *PostgresStore) Name() string { return "postgres" }

// InsertBatch inserts records in a single transaction using multi-row
// INSERT ... ON CONFLICT (text) DO NOTHING statements.
func (s *PostgresStore) InsertBatch(ctx context.Context, records []Record) (int, error) {
	if err := CheckDimensions(records, s.dim); err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, classify("begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	inserted := 0
	for _, chunk := range chunks(records, maxRowsPerStatement) {
		q := insertStatement("INSERT INTO main (text, embedding) VALUES ", " ON CONFLICT (text) DO NOTHING", len(chunk), pgPlaceholder)
		args := make([]any, 0, 2*len(chunk))
		for _, r := range chunk {
			args = append(args, r.Text, pgvector.NewVector(r.Embedding))
		}
		res, err := tx.ExecContext(ctx, q, args...)
		if err != nil {
			return 0, classify("insert", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, classify("rows affected", err)
		}
		inserted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, classify("commit", err)
	}
	return inserted, nil
}

// Search ranks stored embeddings by cosine distance to query.
func (s *PostgresStore) Search(ctx context.Context, query []float32, topK int) ([]Match, error) {
	if err := checkQuery(query, s.dim); err != nil {
		return nil, err
	}
	if topK <= 0 {
		return []Match{}, nil
	}

	const q = `SELECT text, embedding <=> $1 AS distance FROM main ORDER BY distance, id LIMIT $2`
	rows, err := s.db.QueryContext(ctx, q, pgvector.NewVector(query), topK)
	if err != nil {
		return nil, classify("search", err)
	}
	defer rows.Close()

	matches := make([]Match, 0, topK)
	for rows.Next() {
		var m Match
		if err := rows.Scan(&m.Text, &m.Distance); err != nil {
			return nil, fmt.Errorf("store: search scan: %w", err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("search rows", err)
	}
	return matches, nil
}

// Count returns the number of stored records.
func (s *PostgresStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM main`).Scan(&n); err != nil {
		return 0, classify("count", err)
	}
	return n, nil
}

// EnsureMeta records dimension and model on first use, then compares.
func (s *PostgresStore) EnsureMeta(ctx context.Context, model string) error {
	dim, err := s.ensureKey(ctx, metaDimension, strconv.Itoa(s.dim))
	if err != nil {
		return err
	}
	stored, err := s.ensureKey(ctx, metaModel, model)
	if err != nil {
		return err
	}
	return compareMeta(dim, stored, s.dim, model)
}

// ensureKey inserts value under key if absent and returns the stored value.
func (s *PostgresStore) ensureKey(ctx context.Context, key, value string) (string, error) {
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO store_meta (key, value) VALUES ($1, $2) ON CONFLICT (key) DO NOTHING`, key, value); err != nil {
		return "", classify("meta insert", err)
	}
	var stored string
	if err := s.db.QueryRowContext(ctx, `SELECT value FROM store_meta WHERE key = $1`, key).Scan(&stored); err != nil {
		return "", classify("meta read", err)
	}
	return stored, nil
}

// Ping checks connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Close closes the pool.
func (s *PostgresStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: close: %w", err)
	}
	return nil
}

func pgPlaceholder(i int) string { return "$" + strconv.Itoa(i) }

// classify wraps err, tagging connectivity failures with ErrStoreUnavailable.
func classify(op string, err error) error {
	if isUnavailable(err) {
		return fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, op, err)
	}
	return fmt.Errorf("store: %s: %w", op, err)
}

// isUnavailable reports whether err means the database could not be reached.
func isUnavailable(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "08", "53", "57":
			return true
		}
	}
	return false
}
