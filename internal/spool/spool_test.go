package spool

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/54b3r/retrieve-go/internal/batch"
)

func openTemp(t *testing.T) *Spool {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "spool.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// recordingSender records sent batch numbers and fails those listed in fail.
type recordingSender struct {
	sent []int
	fail map[int]bool
}

func (r *recordingSender) Send(_ context.Context, b batch.Batch) error {
	if r.fail[b.Number] {
		return errors.New("boom")
	}
	r.sent = append(r.sent, b.Number)
	return nil
}

func TestSpool_PutListDelete(t *testing.T) {
	t.Parallel()
	s := openTemp(t)

	k1, err := s.Put(batch.Batch{Number: 1, Texts: []string{"a"}})
	require.NoError(t, err)
	k2, err := s.Put(batch.Batch{Number: 2, Texts: []string{"b", "c"}})
	require.NoError(t, err)
	assert.Less(t, k1, k2)

	entries, err := s.List()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, 1, entries[0].Batch.Number)
	assert.Equal(t, []string{"b", "c"}, entries[1].Batch.Texts)
	assert.False(t, entries[0].QueuedAt.IsZero())

	require.NoError(t, s.Delete(k1))
	n, err := s.Len()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.ErrorIs(t, s.Delete(k1), ErrNotFound)
}

func TestSpool_SurvivesReopen(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "spool.db")

	s, err := Open(path)
	require.NoError(t, err)
	_, err = s.Put(batch.Batch{Number: 7, Texts: []string{"x"}})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	entries, err := s.List()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 7, entries[0].Batch.Number)
}

func TestSpool_ReplayKeepsFailures(t *testing.T) {
	t.Parallel()
	s := openTemp(t)

	for i := 1; i <= 3; i++ {
		_, err := s.Put(batch.Batch{Number: i, Texts: []string{"t"}})
		require.NoError(t, err)
	}

	sender := &recordingSender{fail: map[int]bool{2: true}}
	sent, failed, err := s.Replay(context.Background(), sender)
	require.NoError(t, err)
	assert.Equal(t, 2, sent)
	assert.Equal(t, 1, failed)
	assert.Equal(t, []int{1, 3}, sender.sent)

	entries, err := s.List()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 2, entries[0].Batch.Number)
}

func TestSpool_ReplayStopsOnCancel(t *testing.T) {
	t.Parallel()
	s := openTemp(t)
	_, err := s.Put(batch.Batch{Number: 1, Texts: []string{"t"}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sent, _, err := s.Replay(ctx, &recordingSender{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, sent)
}
