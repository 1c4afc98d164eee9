package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/54b3r/retrieve-go/internal/batch"
	"github.com/54b3r/retrieve-go/internal/logging"
	"github.com/54b3r/retrieve-go/internal/spool"
	"github.com/54b3r/retrieve-go/internal/version"
)

// HTTPSender posts batches to a retrieve server's /v1/input endpoint.
type HTTPSender struct {
	target string
	apiKey string
	client *http.Client
}

// NewHTTPSender returns a sender for the server at target. apiKey is sent as
// a bearer token when non-empty. A zero timeout means 120s, enough for the
// server to embed a full batch.
func NewHTTPSender(target, apiKey string, timeout time.Duration) *HTTPSender {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &HTTPSender{
		target: strings.TrimRight(target, "/"),
		apiKey: apiKey,
		client: &http.Client{Timeout: timeout},
	}
}

type inputRequest struct {
	Texts []string `json:"texts"`
}

// Send posts b.Texts. Any transport error or non-2xx status is ErrSendFailed.
func (s *HTTPSender) Send(ctx context.Context, b batch.Batch) error {
	payload, err := json.Marshal(inputRequest{Texts: b.Texts})
	if err != nil {
		return fmt.Errorf("%w: marshal batch %d: %v", ErrSendFailed, b.Number, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.target+"/v1/input", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: build request: %v", ErrSendFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: batch %d: %v", ErrSendFailed, b.Number, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: batch %d: server returned HTTP %d", ErrSendFailed, b.Number, resp.StatusCode)
	}
	return nil
}

// BatchPublisher publishes a batch to a message queue.
type BatchPublisher interface {
	PublishBatch(ctx context.Context, b batch.Batch) error
}

// QueueSender hands batches to a message queue instead of calling the server
// directly. The server's consumer ingests them.
type QueueSender struct {
	pub BatchPublisher
}

// NewQueueSender wraps pub.
func NewQueueSender(pub BatchPublisher) *QueueSender {
	return &QueueSender{pub: pub}
}

// Send publishes b.
func (s *QueueSender) Send(ctx context.Context, b batch.Batch) error {
	if err := s.pub.PublishBatch(ctx, b); err != nil {
		return fmt.Errorf("%w: publish batch %d: %v", ErrSendFailed, b.Number, err)
	}
	return nil
}

// SpoolingSender writes each batch to a spool before sending and removes it
// only after the inner sender succeeds, giving at-least-once delivery when
// paired with spool.Replay.
type SpoolingSender struct {
	spool *spool.Spool
	next  Sender
}

// NewSpoolingSender wraps next with sp.
func NewSpoolingSender(sp *spool.Spool, next Sender) *SpoolingSender {
	return &SpoolingSender{spool: sp, next: next}
}

// Send spools b, forwards it and unspools it on success.
func (s *SpoolingSender) Send(ctx context.Context, b batch.Batch) error {
	key, err := s.spool.Put(b)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	if err := s.next.Send(ctx, b); err != nil {
		logging.FromContext(ctx).Warn("fetcher: batch kept in spool for replay",
			slog.Int("batch_number", b.Number),
			slog.Uint64("spool_key", key),
		)
		return err
	}
	if err := s.spool.Delete(key); err != nil {
		logging.FromContext(ctx).Error("fetcher: sent batch could not be removed from spool",
			slog.Int("batch_number", b.Number),
			slog.Uint64("spool_key", key),
			slog.String("error", err.Error()),
		)
	}
	return nil
}
