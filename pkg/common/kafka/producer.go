package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/synaptica-ai/clinicalcoder/pkg/common/logger"
	"github.com/synaptica-ai/clinicalcoder/pkg/common/models"
)

// PartitionKeyHeader names the metadata entry used as message key, so all
// events about one note land on the same partition.
const PartitionKeyHeader = "note-id"

type Producer struct {
	writer *kafka.Writer
}

func NewProducer(brokers []string, topic string) *Producer {
	return &Producer{writer: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchSize:    1,
		BatchTimeout: 10 * time.Millisecond,
	}}
}

// PublishEvent wraps data in a new Event envelope and writes it.
func (p *Producer) PublishEvent(ctx context.Context, eventType string, source string, data map[string]interface{}, metadata map[string]string) error {
	return p.Publish(ctx, models.Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    source,
		Data:      data,
		Timestamp: time.Now().UTC(),
		Metadata:  metadata,
	})
}

// Publish writes an existing envelope unchanged. Metadata is copied into
// message headers.
func (p *Producer) Publish(ctx context.Context, event models.Event) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", event.ID, err)
	}

	key := event.Metadata[PartitionKeyHeader]
	if key == "" {
		key = event.ID
	}
	headers := make([]kafka.Header, 0, len(event.Metadata)+2)
	headers = append(headers,
		kafka.Header{Key: "event-type", Value: []byte(event.Type)},
		kafka.Header{Key: "source", Value: []byte(event.Source)},
	)
	for k, v := range event.Metadata {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}

	log := logger.Log.WithFields(map[string]interface{}{
		"event_id":   event.ID,
		"event_type": event.Type,
		"topic":      p.writer.Topic,
	})
	if err := p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: value, Headers: headers}); err != nil {
		log.WithError(err).Error("Failed to publish event")
		return err
	}
	log.Debug("Event published")
	return nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
