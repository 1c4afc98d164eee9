// Package spool persists batches that have not yet been delivered, so a
// crashed or failed send can be replayed later. Entries are kept in a bbolt
// file in insertion order.
package spool

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.etcd.io/bbolt"

	"github.com/54b3r/retrieve-go/internal/batch"
	"github.com/54b3r/retrieve-go/internal/logging"
)

var bucketPending = []byte("pending")

// ErrNotFound is returned by Delete when no entry has the given key.
var ErrNotFound = errors.New("spool: entry not found")

// Entry is one spooled batch and the key it is stored under.
type Entry struct {
	Key      uint64      `json:"-"`
	Batch    batch.Batch `json:"batch"`
	QueuedAt time.Time   `json:"queued_at"`
}

// Sender delivers a batch. fetcher senders satisfy it.
type Sender interface {
	Send(ctx context.Context, b batch.Batch) error
}

// Spool is a bbolt-backed FIFO of undelivered batches. It is safe for
// concurrent use.
type Spool struct {
	db *bbolt.DB
}

// Open opens or creates the spool file at path.
func Open(path string) (*Spool, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("spool: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketPending)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("spool: create bucket: %w", err)
	}
	return &Spool{db: db}, nil
}

// Close releases the underlying file.
func (s *Spool) Close() error {
	return s.db.Close()
}

// Put stores b and returns its key.
func (s *Spool) Put(b batch.Batch) (uint64, error) {
	var key uint64
	err := s.db.Update(func(tx *bbolt.Tx) error {
		bk := tx.Bucket(bucketPending)
		seq, err := bk.NextSequence()
		if err != nil {
			return err
		}
		data, err := json.Marshal(Entry{Batch: b, QueuedAt: time.Now().UTC()})
		if err != nil {
			return err
		}
		key = seq
		return bk.Put(itob(seq), data)
	})
	if err != nil {
		return 0, fmt.Errorf("spool: put batch %d: %w", b.Number, err)
	}
	return key, nil
}

// Delete removes the entry stored under key.
func (s *Spool) Delete(key uint64) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		bk := tx.Bucket(bucketPending)
		k := itob(key)
		if bk.Get(k) == nil {
			return fmt.Errorf("%w: %d", ErrNotFound, key)
		}
		return bk.Delete(k)
	})
}

// List returns all entries in key order.
func (s *Spool) List() ([]Entry, error) {
	var entries []Entry
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketPending).ForEach(func(k, v []byte) error {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("decode entry %d: %w", binary.BigEndian.Uint64(k), err)
			}
			e.Key = binary.BigEndian.Uint64(k)
			entries = append(entries, e)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("spool: list: %w", err)
	}
	return entries, nil
}

// Len returns the number of spooled entries.
func (s *Spool) Len() (int, error) {
	var n int
	err := s.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket(bucketPending).Stats().KeyN
		return nil
	})
	return n, err
}

// Replay sends every spooled batch through sender in key order, deleting
// each entry once its send succeeds. Failed entries stay spooled. Replay
// stops early when ctx is cancelled.
func (s *Spool) Replay(ctx context.Context, sender Sender) (sent, failed int, err error) {
	log := logging.FromContext(ctx)

	entries, err := s.List()
	if err != nil {
		return 0, 0, err
	}

	for _, e := range entries {
		if ctx.Err() != nil {
			return sent, failed, ctx.Err()
		}
		if sendErr := sender.Send(ctx, e.Batch); sendErr != nil {
			failed++
			log.Error("spool: replay send failed",
				slog.Uint64("key", e.Key),
				slog.Int("batch_number", e.Batch.Number),
				slog.String("error", sendErr.Error()),
			)
			continue
		}
		if delErr := s.Delete(e.Key); delErr != nil {
			return sent, failed, delErr
		}
		sent++
		log.Info("spool: replayed batch",
			slog.Uint64("key", e.Key),
			slog.Int("batch_number", e.Batch.Number),
			slog.Int("size", e.Batch.Len()),
		)
	}
	return sent, failed, nil
}

// itob encodes v as an 8-byte big-endian key so bbolt iterates in order.
func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}
