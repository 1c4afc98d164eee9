package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nsqio/go-nsq"

	"github.com/54b3r/retrieve-go/internal/logging"
	"github.com/54b3r/retrieve-go/internal/rag"
)

// handleTimeout bounds the embed+insert of one message.
const handleTimeout = 120 * time.Second

// Ingester is satisfied by *rag.Ingester.
type Ingester interface {
	Ingest(ctx context.Context, texts []string) (rag.Result, error)
}

// Consumer ingests BatchMessages. Undecodable or invalid messages are
// acknowledged and dropped; ingestion failures are returned so NSQ requeues
// the message until its attempt limit.
type Consumer struct {
	ingester Ingester
	log      *slog.Logger
}

// NewConsumer returns a Consumer feeding ingester.
func NewConsumer(ingester Ingester, log *slog.Logger) *Consumer {
	return &Consumer{ingester: ingester, log: log}
}

// HandleMessage implements nsq.Handler.
func (c *Consumer) HandleMessage(m *nsq.Message) error {
	msg, err := Decode(m.Body)
	if err != nil {
		// Poison pill: retrying cannot fix the body.
		c.log.Error("queue: dropping undecodable message", slog.String("error", err.Error()))
		return nil
	}

	ctx, cancel := context.WithTimeout(logging.WithLogger(context.Background(), c.log), handleTimeout)
	defer cancel()

	res, err := c.ingester.Ingest(ctx, msg.Texts)
	if errors.Is(err, rag.ErrInvalidInput) {
		c.log.Error("queue: dropping invalid batch",
			slog.String("message_id", msg.ID),
			slog.Int("batch_number", msg.BatchNumber),
			slog.String("error", err.Error()),
		)
		return nil
	}
	if err != nil {
		c.log.Warn("queue: batch ingest failed, requeueing",
			slog.String("message_id", msg.ID),
			slog.Int("batch_number", msg.BatchNumber),
			slog.Int("attempt", int(m.Attempts)),
			slog.String("error", err.Error()),
		)
		return err
	}

	c.log.Info("queue: batch ingested",
		slog.String("message_id", msg.ID),
		slog.Int("batch_number", msg.BatchNumber),
		slog.Int("inserted", res.Inserted),
		slog.Int("skipped", res.Skipped),
	)
	return nil
}

// LogFailedMessage implements nsq.FailedMessageLogger; it is called when a
// message exceeds its attempt limit and is discarded.
func (c *Consumer) LogFailedMessage(m *nsq.Message) {
	c.log.Error("queue: message discarded after max attempts",
		slog.Int("attempts", int(m.Attempts)),
		slog.Int("bytes", len(m.Body)),
	)
}

// ConsumerConfig locates the topic to consume.
type ConsumerConfig struct {
	Topic   string
	Channel string
	// Lookupd addresses take precedence over NSQD when set.
	Lookupd []string
	NSQD    string
	// MaxAttempts before a message is discarded. Zero keeps the nsq default.
	MaxAttempts uint16
}

// Start connects an nsq.Consumer running h. Call Stop on the result to shut
// it down.
func Start(cfg ConsumerConfig, h *Consumer) (*nsq.Consumer, error) {
	nc := nsq.NewConfig()
	if cfg.MaxAttempts > 0 {
		nc.MaxAttempts = cfg.MaxAttempts
	}
	consumer, err := nsq.NewConsumer(cfg.Topic, cfg.Channel, nc)
	if err != nil {
		return nil, fmt.Errorf("queue: create consumer: %w", err)
	}
	consumer.SetLogger(slog.NewLogLogger(h.log.Handler(), slog.LevelWarn), nsq.LogLevelWarning)
	consumer.AddHandler(h)

	if len(cfg.Lookupd) > 0 {
		err = consumer.ConnectToNSQLookupds(cfg.Lookupd)
	} else {
		err = consumer.ConnectToNSQD(cfg.NSQD)
	}
	if err != nil {
		consumer.Stop()
		return nil, fmt.Errorf("queue: connect consumer: %w", err)
	}
	return consumer, nil
}
