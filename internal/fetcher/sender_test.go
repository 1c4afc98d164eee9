package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/54b3r/retrieve-go/internal/batch"
	"github.com/54b3r/retrieve-go/internal/spool"
)

func TestWikipediaSource_Fetch(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		status  int
		body    string
		want    string
		wantErr bool
	}{
		{name: "extract", status: http.StatusOK, body: `{"title":"Go","extract":"  Go is a language. "}`, want: "Go is a language."},
		{name: "empty extract", status: http.StatusOK, body: `{"title":"Go","extract":""}`, wantErr: true},
		{name: "missing extract", status: http.StatusOK, body: `{"title":"Go"}`, wantErr: true},
		{name: "bad json", status: http.StatusOK, body: `<html>`, wantErr: true},
		{name: "server error", status: http.StatusServiceUnavailable, body: `{}`, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/api/rest_v1/page/random/summary" {
					http.NotFound(w, r)
					return
				}
				if !strings.HasPrefix(r.Header.Get("User-Agent"), "retrieve-go/") {
					t.Errorf("User-Agent = %q", r.Header.Get("User-Agent"))
				}
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			got, err := NewWikipediaSource(srv.URL, 0).Fetch(context.Background())
			if tc.wantErr {
				assert.ErrorIs(t, err, ErrFetchFailed)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestHTTPSender_Send(t *testing.T) {
	t.Parallel()

	var got inputRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/input" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"message":"Success"}`))
	}))
	defer srv.Close()

	s := NewHTTPSender(srv.URL+"/", "k3y", 0)
	require.NoError(t, s.Send(context.Background(), batch.Batch{Number: 1, Texts: []string{"a", "b"}}))
	assert.Equal(t, []string{"a", "b"}, got.Texts)
	assert.Equal(t, "Bearer k3y", auth)
}

func TestHTTPSender_Non2xxIsSendFailed(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewHTTPSender(srv.URL, "", 0).Send(context.Background(), batch.Batch{Number: 4, Texts: []string{"a"}})
	assert.ErrorIs(t, err, ErrSendFailed)
	assert.Contains(t, err.Error(), "batch 4")
}

// fakePublisher records published batches or returns err.
type fakePublisher struct {
	got []batch.Batch
	err error
}

func (p *fakePublisher) PublishBatch(_ context.Context, b batch.Batch) error {
	if p.err != nil {
		return p.err
	}
	p.got = append(p.got, b)
	return nil
}

func TestQueueSender(t *testing.T) {
	t.Parallel()

	pub := &fakePublisher{}
	require.NoError(t, NewQueueSender(pub).Send(context.Background(), batch.Batch{Number: 1, Texts: []string{"x"}}))
	assert.Len(t, pub.got, 1)

	pub.err = errors.New("nsqd down")
	assert.ErrorIs(t, NewQueueSender(pub).Send(context.Background(), batch.Batch{Number: 2}), ErrSendFailed)
}

// flakySender fails the first n sends.
type flakySender struct {
	failures int
	sent     []int
}

func (f *flakySender) Send(_ context.Context, b batch.Batch) error {
	if f.failures > 0 {
		f.failures--
		return ErrSendFailed
	}
	f.sent = append(f.sent, b.Number)
	return nil
}

func TestSpoolingSender_KeepsFailedBatchesForReplay(t *testing.T) {
	t.Parallel()

	sp, err := spool.Open(filepath.Join(t.TempDir(), "spool.db"))
	require.NoError(t, err)
	defer sp.Close()

	inner := &flakySender{failures: 1}
	s := NewSpoolingSender(sp, inner)
	ctx := context.Background()

	assert.ErrorIs(t, s.Send(ctx, batch.Batch{Number: 1, Texts: []string{"a"}}), ErrSendFailed)
	require.NoError(t, s.Send(ctx, batch.Batch{Number: 2, Texts: []string{"b"}}))

	n, err := sp.Len()
	require.NoError(t, err)
	assert.Equal(t, 1, n, "only the failed batch stays spooled")

	sent, failed, err := sp.Replay(ctx, inner)
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	assert.Zero(t, failed)
	assert.Equal(t, []int{2, 1}, inner.sent)
}
