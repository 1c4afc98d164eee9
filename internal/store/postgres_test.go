package store

import (
	"context"
	"errors"
	"net"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	pgvector "github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T, dim int) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	s, err := NewPostgresStore(db, dim)
	require.NoError(t, err)
	return s, mock
}

func TestPostgresStore_InsertBatch(t *testing.T) {
	s, mock := newMockStore(t, 2)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO main (text, embedding) VALUES ($1, $2), ($3, $4) ON CONFLICT (text) DO NOTHING")).
		WithArgs("a", pgvector.NewVector([]float32{1, 0}), "b", pgvector.NewVector([]float32{0, 1})).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	n, err := s.InsertBatch(context.Background(), []Record{
		{Text: "a", Embedding: []float32{1, 0}},
		{Text: "b", Embedding: []float32{0, 1}},
	})
	assert.NoError(t, err)
	assert.Equal(t, 1, n, "conflicting row is skipped, not counted")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InsertBatch_DimensionMismatchTouchesNothing(t *testing.T) {
	s, mock := newMockStore(t, 3)

	_, err := s.InsertBatch(context.Background(), []Record{
		{Text: "a", Embedding: []float32{1, 2, 3}},
		{Text: "b", Embedding: []float32{1}},
	})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
	assert.NoError(t, mock.ExpectationsWereMet(), "no statement may run for a malformed batch")
}

func TestPostgresStore_InsertBatch_RollsBackOnError(t *testing.T) {
	s, mock := newMockStore(t, 1)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO main").WillReturnError(errors.New("syntax"))
	mock.ExpectRollback()

	_, err := s.InsertBatch(context.Background(), []Record{{Text: "a", Embedding: []float32{1}}})
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrStoreUnavailable)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InsertBatch_Unreachable(t *testing.T) {
	s, mock := newMockStore(t, 1)

	mock.ExpectBegin().WillReturnError(&net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")})

	_, err := s.InsertBatch(context.Background(), []Record{{Text: "a", Embedding: []float32{1}}})
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestPostgresStore_Search(t *testing.T) {
	s, mock := newMockStore(t, 2)

	q := []float32{1, 0}
	rows := sqlmock.NewRows([]string{"text", "distance"}).
		AddRow("near", 0.01).
		AddRow("mid", 0.2)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT text, embedding <=> $1 AS distance FROM main ORDER BY distance, id LIMIT $2")).
		WithArgs(pgvector.NewVector(q), 2).
		WillReturnRows(rows)

	got, err := s.Search(context.Background(), q, 2)
	require.NoError(t, err)
	assert.Equal(t, []Match{{Text: "near", Distance: 0.01}, {Text: "mid", Distance: 0.2}}, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Search_WrongQueryDimension(t *testing.T) {
	s, _ := newMockStore(t, 2)
	_, err := s.Search(context.Background(), []float32{1, 2, 3}, 2)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestPostgresStore_EnsureMeta(t *testing.T) {
	s, mock := newMockStore(t, 3)

	metaInsert := regexp.QuoteMeta("INSERT INTO store_meta (key, value) VALUES ($1, $2) ON CONFLICT (key) DO NOTHING")
	metaRead := regexp.QuoteMeta("SELECT value FROM store_meta WHERE key = $1")

	mock.ExpectExec(metaInsert).WithArgs("dimension", "3").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(metaRead).WithArgs("dimension").WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow("3"))
	mock.ExpectExec(metaInsert).WithArgs("model", "text-embedding-3-large").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(metaRead).WithArgs("model").WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow("text-embedding-3-small"))

	err := s.EnsureMeta(context.Background(), "text-embedding-3-large")
	assert.ErrorIs(t, err, ErrModelMismatch)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIsUnavailable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"net error", &net.OpError{Op: "dial", Err: errors.New("refused")}, true},
		{"connection exception", &pq.Error{Code: "08006"}, true},
		{"admin shutdown", &pq.Error{Code: "57P01"}, true},
		{"unique violation", &pq.Error{Code: "23505"}, false},
		{"plain", errors.New("boom"), false},
	}
	for _, tc := range tests {
		if got := isUnavailable(tc.err); got != tc.want {
			t.Errorf("%s: got %v, want %v", tc.name, got, tc.want)
		}
	}
}
