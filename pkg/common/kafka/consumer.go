package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/synaptica-ai/clinicalcoder/pkg/common/logger"
	"github.com/synaptica-ai/clinicalcoder/pkg/common/models"
)

type EventHandler func(ctx context.Context, event models.Event) error

// ConsumerOptions controls redelivery. A message whose handler keeps failing
// is retried MaxAttempts times with doubling backoff, then passed to
// DeadLetter (when set) and committed.
type ConsumerOptions struct {
	MaxAttempts int
	Backoff     time.Duration
	DeadLetter  EventHandler
}

type Consumer struct {
	reader *kafka.Reader
	opts   ConsumerOptions
}

func NewConsumer(brokers []string, topic string, groupID string, opts ConsumerOptions) *Consumer {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 500 * time.Millisecond
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 10e3,
		MaxBytes: 10e6,
	})
	return &Consumer{reader: reader, opts: opts}
}

// Consume blocks until ctx is cancelled.
func (c *Consumer) Consume(ctx context.Context, handler EventHandler) error {
	for {
		message, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Log.WithError(err).Error("Failed to fetch message")
			continue
		}

		var event models.Event
		if err := json.Unmarshal(message.Value, &event); err != nil {
			logger.Log.WithError(err).WithField("offset", message.Offset).Error("Dropping undecodable message")
		} else if err := c.handle(ctx, handler, event); err != nil {
			// only cancellation leaves a message uncommitted
			return err
		}

		if err := c.reader.CommitMessages(ctx, message); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Log.WithError(err).Error("Failed to commit message")
		}
	}
}

func (c *Consumer) handle(ctx context.Context, handler EventHandler, event models.Event) error {
	delay := c.opts.Backoff
	var err error
	for attempt := 1; attempt <= c.opts.MaxAttempts; attempt++ {
		if err = handler(ctx, event); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Log.WithError(err).WithFields(map[string]interface{}{
			"event_id": event.ID,
			"attempt":  attempt,
		}).Warn("Failed to process event")
		if attempt == c.opts.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}

	if c.opts.DeadLetter == nil {
		logger.Log.WithError(err).WithField("event_id", event.ID).Error("Giving up on event")
		return nil
	}
	if dlqErr := c.opts.DeadLetter(ctx, event); dlqErr != nil {
		logger.Log.WithError(dlqErr).WithField("event_id", event.ID).Error("Failed to dead-letter event")
	}
	return nil
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
