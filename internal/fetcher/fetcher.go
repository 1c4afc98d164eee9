// Package fetcher pulls documents from a Source with bounded concurrency,
// groups them into batches and hands each batch to a Sender exactly once.
//
// Per-document fetch failures and per-batch send failures are logged and
// counted; they never abort the run and nothing is retried. Wrap the Sender
// in a SpoolingSender when undelivered batches must survive.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/54b3r/retrieve-go/internal/batch"
	"github.com/54b3r/retrieve-go/internal/logging"
)

const (
	// DefaultMaxConcurrency is the number of fetches allowed in flight.
	DefaultMaxConcurrency = 200
	// DefaultDelay is the pause after each fetch before its slot is released.
	// With DefaultMaxConcurrency it targets roughly 40k requests per second
	// in aggregate, bounded in practice by source latency.
	DefaultDelay = 5 * time.Millisecond
)

var (
	// ErrFetchFailed covers an unreachable source or an empty payload.
	ErrFetchFailed = errors.New("fetcher: fetch failed")
	// ErrSendFailed covers any failure delivering a batch.
	ErrSendFailed = errors.New("fetcher: send failed")
)

// Source produces one document per call.
type Source interface {
	Fetch(ctx context.Context) (string, error)
}

// Sender delivers a batch downstream.
type Sender interface {
	Send(ctx context.Context, b batch.Batch) error
}

// Config controls a single run.
type Config struct {
	// TotalSize is the number of fetch attempts. Zero performs no work.
	TotalSize int
	// BatchSize is the number of documents per batch.
	BatchSize int
	// MaxConcurrency bounds in-flight fetches. Zero means DefaultMaxConcurrency.
	MaxConcurrency int
	// Delay is the pause after each fetch attempt while still holding the
	// slot. Zero disables pacing.
	Delay time.Duration
	// OnProgress, when set, is called after every fetch attempt with the
	// number of attempts finished so far. It may be called concurrently.
	OnProgress func(done, total int)
}

// Stats summarises a run.
type Stats struct {
	Fetched       int
	FetchFailed   int
	BatchesSent   int
	BatchesFailed int
	TextsSent     int
}

// Fetcher drives one or more runs against a Source and Sender.
type Fetcher struct {
	cfg     Config
	source  Source
	sender  Sender
	metrics *Metrics
}

// New validates cfg and returns a Fetcher. metrics may be nil.
func New(cfg Config, source Source, sender Sender, metrics *Metrics) (*Fetcher, error) {
	if cfg.TotalSize < 0 {
		return nil, fmt.Errorf("fetcher: total size must not be negative, got %d", cfg.TotalSize)
	}
	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("fetcher: batch size must be positive, got %d", cfg.BatchSize)
	}
	if cfg.MaxConcurrency < 0 {
		return nil, fmt.Errorf("fetcher: max concurrency must be positive, got %d", cfg.MaxConcurrency)
	}
	if cfg.MaxConcurrency == 0 {
		cfg.MaxConcurrency = DefaultMaxConcurrency
	}
	if cfg.Delay < 0 {
		return nil, fmt.Errorf("fetcher: delay must not be negative, got %s", cfg.Delay)
	}
	if source == nil || sender == nil {
		return nil, errors.New("fetcher: source and sender are required")
	}
	return &Fetcher{cfg: cfg, source: source, sender: sender, metrics: metrics}, nil
}

// runState is the shared state of one Run. The accumulator is the only
// structure written by more than one task; counters are atomic.
type runState struct {
	acc *batch.Accumulator

	done          atomic.Int64
	fetched       atomic.Int64
	fetchFailed   atomic.Int64
	batchesSent   atomic.Int64
	batchesFailed atomic.Int64
	textsSent     atomic.Int64
}

// Run performs TotalSize fetch attempts and returns once every task has
// finished and the remainder has been drained and sent. Cancelling ctx stops
// new tasks from being admitted; tasks already running finish, and flushed
// batches are still sent.
func (f *Fetcher) Run(ctx context.Context) Stats {
	log := logging.FromContext(ctx)

	if f.cfg.TotalSize == 0 {
		log.Info("fetcher: nothing to fetch")
		return Stats{}
	}

	acc, err := batch.New(f.cfg.BatchSize)
	if err != nil {
		log.Error("fetcher: invalid batch size", slog.String("error", err.Error()))
		return Stats{}
	}
	st := &runState{acc: acc}

	limit := min(f.cfg.MaxConcurrency, f.cfg.TotalSize)
	gate := semaphore.NewWeighted(int64(limit))
	sendCtx := context.WithoutCancel(ctx)

	log.Info("fetcher: run started",
		slog.Int("total_size", f.cfg.TotalSize),
		slog.Int("batch_size", f.cfg.BatchSize),
		slog.Int("concurrency", limit),
		slog.Duration("delay", f.cfg.Delay),
	)
	start := time.Now()

	var wg sync.WaitGroup
	for i := 0; i < f.cfg.TotalSize; i++ {
		if err := gate.Acquire(ctx, 1); err != nil {
			log.Warn("fetcher: run cancelled, no further tasks admitted",
				slog.Int("admitted", i),
				slog.String("error", err.Error()),
			)
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer gate.Release(1)
			f.task(ctx, sendCtx, st)
		}()
	}
	wg.Wait()

	if b, ok := st.acc.Drain(); ok {
		f.send(sendCtx, st, b)
	}

	stats := Stats{
		Fetched:       int(st.fetched.Load()),
		FetchFailed:   int(st.fetchFailed.Load()),
		BatchesSent:   int(st.batchesSent.Load()),
		BatchesFailed: int(st.batchesFailed.Load()),
		TextsSent:     int(st.textsSent.Load()),
	}
	log.Info("fetcher: run finished",
		slog.Int("fetched", stats.Fetched),
		slog.Int("fetch_failed", stats.FetchFailed),
		slog.Int("batches_sent", stats.BatchesSent),
		slog.Int("batches_failed", stats.BatchesFailed),
		slog.Int("texts_sent", stats.TextsSent),
		slog.Duration("elapsed", time.Since(start)),
	)
	return stats
}

// task performs one fetch, routes the result into the accumulator, sends a
// batch if one filled, then holds the slot for the pacing delay.
func (f *Fetcher) task(ctx, sendCtx context.Context, st *runState) {
	f.metrics.fetchStarted()
	doc, err := f.source.Fetch(ctx)
	f.metrics.fetchFinished(err)

	if err != nil {
		st.fetchFailed.Add(1)
		logging.FromContext(ctx).Warn("fetcher: fetch failed", slog.String("error", err.Error()))
	} else {
		st.fetched.Add(1)
		if b, ok := st.acc.Add(doc); ok {
			f.send(sendCtx, st, b)
		}
	}

	if f.cfg.OnProgress != nil {
		f.cfg.OnProgress(int(st.done.Add(1)), f.cfg.TotalSize)
	}

	if f.cfg.Delay > 0 {
		t := time.NewTimer(f.cfg.Delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
		}
	}
}

// send delivers b once. Failures are logged and counted, never retried.
func (f *Fetcher) send(ctx context.Context, st *runState, b batch.Batch) {
	log := logging.FromContext(ctx)
	start := time.Now()

	err := f.sender.Send(ctx, b)
	f.metrics.batchFinished(b, err)

	if err != nil {
		st.batchesFailed.Add(1)
		log.Error("fetcher: batch send failed",
			slog.Int("batch_number", b.Number),
			slog.Int("size", b.Len()),
			slog.String("error", err.Error()),
		)
		return
	}
	st.batchesSent.Add(1)
	st.textsSent.Add(int64(b.Len()))
	log.Info("fetcher: batch sent",
		slog.Int("batch_number", b.Number),
		slog.Int("size", b.Len()),
		slog.Duration("duration", time.Since(start)),
	)
}
