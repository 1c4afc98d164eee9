package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"modernc.org/sqlite" // registers the "sqlite" driver
	sqlite3 "modernc.org/sqlite/lib"
)

// SQLiteStore is a Store backed by a local SQLite database. Embeddings are
// stored as little-endian float32 blobs and ranked by an exact scan, so it
// suits development and small corpora.
type SQLiteStore struct {
	db  *sql.DB
	dim int
}

// OpenSQLite opens (or creates) the database at path and applies the
// schema. Use ":memory:" in tests.
func OpenSQLite(path string, dim int) (*SQLiteStore, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("store: dimension must be positive, got %d", dim)
	}
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// A single connection serialises writers and keeps :memory: databases alive.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, dim: dim}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// migrate creates the schema if it does not already exist.
func (s *SQLiteStore) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS main (
    text       TEXT    PRIMARY KEY,
    embedding  BLOB    NOT NULL,
    created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
);
CREATE TABLE IF NOT EXISTS store_meta (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// Dimensions returns the configured embedding length.
func (s *SQLiteStore) Dimensions() int { return s.dim }

// Name returns the readiness label.
func (s *SQLiteStore) Name() string { return "sqlite" }

// InsertBatch inserts records in one transaction with INSERT OR IGNORE.
func (s *SQLiteStore) InsertBatch(ctx context.Context, records []Record) (int, error) {
	if err := CheckDimensions(records, s.dim); err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, classifySQLite("begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	inserted := 0
	for _, chunk := range chunks(records, maxRowsPerStatement) {
		q := insertStatement("INSERT OR IGNORE INTO main (text, embedding) VALUES ", "", len(chunk), sqlitePlaceholder)
		args := make([]any, 0, 2*len(chunk))
		for _, r := range chunk {
			args = append(args, r.Text, encodeVector(r.Embedding))
		}
		res, err := tx.ExecContext(ctx, q, args...)
		if err != nil {
			return 0, classifySQLite("insert", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("store: rows affected: %w", err)
		}
		inserted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, classifySQLite("commit", err)
	}
	return inserted, nil
}

// Search scans every record, ranks by cosine distance and keeps topK.
// Rows are read in rowid order so ties keep insertion order.
func (s *SQLiteStore) Search(ctx context.Context, query []float32, topK int) ([]Match, error) {
	if err := checkQuery(query, s.dim); err != nil {
		return nil, err
	}
	if topK <= 0 {
		return []Match{}, nil
	}

	rows, err := s.db.QueryContext(ctx, `SELECT text, embedding FROM main ORDER BY rowid`)
	if err != nil {
		return nil, classifySQLite("search", err)
	}
	defer rows.Close()

	var candidates []Match
	for rows.Next() {
		var (
			text string
			blob []byte
		)
		if err := rows.Scan(&text, &blob); err != nil {
			return nil, fmt.Errorf("store: search scan: %w", err)
		}
		v, err := decodeVector(blob)
		if err != nil {
			return nil, err
		}
		if len(v) != s.dim {
			return nil, fmt.Errorf("%w: stored record has %d components, want %d", ErrDimensionMismatch, len(v), s.dim)
		}
		candidates = append(candidates, Match{Text: text, Distance: CosineDistance(query, v)})
	}
	if err := rows.Err(); err != nil {
		return nil, classifySQLite("search rows", err)
	}
	if candidates == nil {
		return []Match{}, nil
	}
	return rankTopK(candidates, topK), nil
}

// Count returns the number of stored records.
func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM main`).Scan(&n); err != nil {
		return 0, classifySQLite("count", err)
	}
	return n, nil
}

// EnsureMeta records dimension and model on first use, then compares.
func (s *SQLiteStore) EnsureMeta(ctx context.Context, model string) error {
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

func (s *SQLiteStore) ensureKey(ctx context.Context, key, value string) (string, error) {
	if _, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO store_meta (key, value) VALUES (?, ?)`, key, value); err != nil {
		return "", classifySQLite("meta insert", err)
	}
	var stored string
	if err := s.db.QueryRowContext(ctx, `SELECT value FROM store_meta WHERE key = ?`, key).Scan(&stored); err != nil {
		return "", classifySQLite("meta read", err)
	}
	return stored, nil
}

// Ping checks the database handle.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Close releases the database.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: close: %w", err)
	}
	return nil
}

func sqlitePlaceholder(int) string { return "?" }

// classifySQLite wraps err from op, marking it ErrStoreUnavailable when the
// database could not serve the request: a busy or locked file, an I/O
// failure, or a closed handle. Constraint and SQL errors stay plain.
func classifySQLite(op string, err error) error {
	if sqliteUnavailable(err) {
		return fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, op, err)
	}
	return fmt.Errorf("store: %s: %w", op, err)
}

func sqliteUnavailable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *sqlite.Error
	if !errors.As(err, &se) {
		// database/sql reports a closed pool or a dead connection without
		// a driver error.
		return true
	}
	switch se.Code() & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED, sqlite3.SQLITE_IOERR,
		sqlite3.SQLITE_CANTOPEN, sqlite3.SQLITE_FULL, sqlite3.SQLITE_READONLY,
		sqlite3.SQLITE_NOMEM:
		return true
	}
	return false
}
