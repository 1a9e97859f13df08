package pub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/jackson97300/mia-core/internal/config"
	"github.com/jackson97300/mia-core/internal/pipeline"
)

// KafkaPublisher appends decisions to the event stream, keyed by
// symbol so consumers see per-instrument ordering.
type KafkaPublisher struct {
	writer *kafka.Writer
}

// NewKafkaPublisher builds a writer for the configured brokers.
func NewKafkaPublisher(cfg config.KafkaConfig) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
		},
	}
}

// Publish appends one decision event.
func (p *KafkaPublisher) Publish(ctx context.Context, d *pipeline.Decision) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal decision %s: %w", d.ID, err)
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(d.Symbol),
		Value: payload,
	})
	if err != nil {
		return fmt.Errorf("write decision %s: %w", d.ID, err)
	}
	return nil
}

// Close flushes and releases the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
