// Package producer publishes to a single Kafka topic. The notifier uses it to
// requeue alert events and to write dead letters; the alert publisher uses it
// to feed the alert topic.
package producer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/segmentio/kafka-go"

	kafkautil "notifier/pkg/kafka"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer is bound to one topic. Messages must leave Topic empty.
type Producer struct {
	writer messageWriter
	topic  string
}

// NewProducer validates the parameters and creates the writer. No connection
// is made until the first Publish.
func NewProducer(brokers string, topic string) (*Producer, error) {
	if err := kafkautil.ValidateProducerParams(brokers, topic); err != nil {
		return nil, err
	}
	brokerList := kafkautil.ParseBrokers(brokers)
	slog.Info("Initializing Kafka producer", "brokers", brokerList, "topic", topic)

	return &Producer{writer: kafkautil.NewWriter(brokerList, topic), topic: topic}, nil
}

func (p *Producer) Topic() string { return p.topic }

// Publish blocks until every message is acknowledged or ctx is done.
func (p *Producer) Publish(ctx context.Context, msgs ...kafka.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("failed to write %d message(s) to %s: %w", len(msgs), p.topic, err)
	}
	slog.Debug("Published messages", "topic", p.topic, "count", len(msgs))
	return nil
}

func (p *Producer) Close() error {
	slog.Info("Closing Kafka producer", "topic", p.topic)
	return p.writer.Close()
}
