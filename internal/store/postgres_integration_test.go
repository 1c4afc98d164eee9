//go:build integration

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// TestPostgresStore_Integration runs the store against a real pgvector
// container.
//
// Run with:
//
//	go test -tags=integration -run TestPostgresStore_Integration ./internal/store/
func TestPostgresStore_Integration(t *testing.T) {
	ctx := context.Background()

	pg, err := postgres.Run(ctx,
		"pgvector/pgvector:pg16",
		postgres.WithDatabase("retrieve_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Terminate(ctx) })

	url, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	s, err := OpenPostgres(ctx, url, 3)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, Migrate(s.DB()))
	require.NoError(t, Migrate(s.DB()), "migrations are idempotent")
	require.NoError(t, s.EnsureMeta(ctx, "m"))
	assert.ErrorIs(t, s.EnsureMeta(ctx, "other"), ErrModelMismatch)

	n, err := s.InsertBatch(ctx, []Record{
		{Text: "near", Embedding: []float32{1, 0.1, 0}},
		{Text: "mid", Embedding: []float32{1, 1, 0}},
		{Text: "far", Embedding: []float32{0, 0, 1}},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = s.InsertBatch(ctx, []Record{{Text: "near", Embedding: []float32{0, 0, 1}}})
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = s.InsertBatch(ctx, []Record{
		{Text: "new", Embedding: []float32{1, 0, 0}},
		{Text: "broken", Embedding: []float32{1, 0}},
	})
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	count, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	got, err := s.Search(ctx, []float32{1, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "near", got[0].Text)
	assert.Equal(t, "mid", got[1].Text)
}
