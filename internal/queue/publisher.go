package queue

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nsqio/go-nsq"

	"github.com/54b3r/retrieve-go/internal/batch"
)

// producer is the subset of *nsq.Producer used by Publisher.
type producer interface {
	Publish(topic string, body []byte) error
	Ping() error
	Stop()
}

// Publisher publishes batches to one NSQ topic.
type Publisher struct {
	producer producer
	topic    string
}

// NewPublisher connects a producer to nsqd at addr.
func NewPublisher(addr, topic string, log *slog.Logger) (*Publisher, error) {
	p, err := nsq.NewProducer(addr, nsq.NewConfig())
	if err != nil {
		return nil, fmt.Errorf("queue: create producer: %w", err)
	}
	p.SetLogger(slog.NewLogLogger(log.Handler(), slog.LevelWarn), nsq.LogLevelWarning)
	return &Publisher{producer: p, topic: topic}, nil
}

// PublishBatch encodes b and publishes it synchronously.
func (p *Publisher) PublishBatch(ctx context.Context, b batch.Batch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := Encode(NewBatchMessage(b))
	if err != nil {
		return err
	}
	if err := p.producer.Publish(p.topic, body); err != nil {
		return fmt.Errorf("queue: publish to %s: %w", p.topic, err)
	}
	return nil
}

// Ping checks the nsqd connection.
func (p *Publisher) Ping(context.Context) error {
	return p.producer.Ping()
}

// Name returns the readiness label.
func (p *Publisher) Name() string { return "nsqd" }

// Stop closes the producer.
func (p *Publisher) Stop() {
	p.producer.Stop()
}
