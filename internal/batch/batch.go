// Package batch groups documents into size-bounded, sequentially numbered
// batches. An Accumulator is shared by many producers; every document added
// ends up in exactly one batch.
package batch

import (
	"fmt"
	"sync"
)

// Batch is an ordered group of texts tagged with its sequence number.
// Numbers start at 1 and are gapless.
type Batch struct {
	Number int      `json:"batch_number"`
	Texts  []string `json:"texts"`
}

// Len returns the number of texts in the batch.
func (b Batch) Len() int { return len(b.Texts) }

// Accumulator buffers documents until a batch fills. It is safe for
// concurrent use. The buffer is never exposed; callers only see snapshots
// returned by Add and Drain.
type Accumulator struct {
	size int

	mu      sync.Mutex
	pending []string
	next    int
}

// New returns an Accumulator that flushes every size documents.
func New(size int) (*Accumulator, error) {
	if size <= 0 {
		return nil, fmt.Errorf("batch: size must be positive, got %d", size)
	}
	return &Accumulator{
		size:    size,
		pending: make([]string, 0, size),
		next:    1,
	}, nil
}

// Size returns the configured batch size.
func (a *Accumulator) Size() int { return a.size }

// Add appends doc. When the buffer reaches the batch size, the full buffer
// is returned as a numbered Batch and the buffer is reset; ok reports
// whether a batch was returned.
func (a *Accumulator) Add(doc string) (b Batch, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.pending = append(a.pending, doc)
	if len(a.pending) < a.size {
		return Batch{}, false
	}
	return a.flushLocked(), true
}

// Drain returns whatever remains as a final numbered Batch. ok is false when
// the buffer is empty, in which case no number is consumed. Call it once,
// after every producer has finished adding.
func (a *Accumulator) Drain() (b Batch, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.pending) == 0 {
		return Batch{}, false
	}
	return a.flushLocked(), true
}

// Pending returns the number of buffered documents.
func (a *Accumulator) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

// flushLocked snapshots and clears the buffer. Callers must hold a.mu.
func (a *Accumulator) flushLocked() Batch {
	b := Batch{Number: a.next, Texts: a.pending}
	a.next++
	a.pending = make([]string, 0, a.size)
	return b
}
