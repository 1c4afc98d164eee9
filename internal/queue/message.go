// Package queue carries fetched batches over NSQ: the fetcher publishes
// BatchMessages to a topic and the server consumes them into the store.
package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/54b3r/retrieve-go/internal/batch"
)

// ErrEmptyMessage is returned when decoding a zero-length body.
var ErrEmptyMessage = errors.New("queue: empty message")

// BatchMessage is the wire form of a batch.
type BatchMessage struct {
	ID          string    `json:"id"`
	BatchNumber int       `json:"batch_number"`
	Texts       []string  `json:"texts"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewBatchMessage wraps b with a fresh ID and timestamp.
func NewBatchMessage(b batch.Batch) BatchMessage {
	return BatchMessage{
		ID:          uuid.NewString(),
		BatchNumber: b.Number,
		Texts:       b.Texts,
		CreatedAt:   time.Now().UTC(),
	}
}

// Encode marshals m.
func Encode(m BatchMessage) ([]byte, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("queue: encode: %w", err)
	}
	return body, nil
}

// Decode unmarshals body.
func Decode(body []byte) (BatchMessage, error) {
	if len(body) == 0 {
		return BatchMessage{}, ErrEmptyMessage
	}
	var m BatchMessage
	if err := json.Unmarshal(body, &m); err != nil {
		return BatchMessage{}, fmt.Errorf("queue: decode: %w", err)
	}
	return m, nil
}
