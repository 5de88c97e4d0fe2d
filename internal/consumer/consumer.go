// Package consumer reads alert events from Kafka and settles them.
//
// Kafka has no per-message nack, so settlement is built from two primitives:
// committing the offset and republishing the payload to the same topic.
// Ack and discard commit; requeue republishes with the delivery attempt
// bumped and then commits; release republishes with the attempt unchanged.
// Republished copies keep the origin of the first delivery.
package consumer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/segmentio/kafka-go"

	kafkautil "notifier/pkg/kafka"
)

// Message is one fetched alert payload.
type Message struct {
	Body    []byte
	Attempt int
	// Origin identifies the message across requeues (topic/partition/offset
	// of its first delivery).
	Origin    string
	Key       []byte
	Topic     string
	Partition int
	Offset    int64

	raw kafka.Message
}

// Publisher writes messages back onto the alert topic.
type Publisher interface {
	Publish(ctx context.Context, msgs ...kafka.Message) error
}

// messageReader is the subset of *kafka.Reader used by the consumer.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer wraps a Kafka reader with manual commits.
type Consumer struct {
	reader  messageReader
	requeue Publisher
	topic   string
}

// NewConsumer creates a new Kafka consumer with the specified brokers, topic, and group ID.
// requeue must publish to the same topic; it is used for Nack(requeue) and Release.
func NewConsumer(brokers, topic, groupID string, requeue Publisher) (*Consumer, error) {
	if err := kafkautil.ValidateConsumerParams(brokers, topic, groupID); err != nil {
		return nil, err
	}
	if requeue == nil {
		return nil, fmt.Errorf("requeue publisher cannot be nil")
	}

	brokerList := kafkautil.ParseBrokers(brokers)

	slog.Info("Initializing Kafka consumer",
		"brokers", brokerList,
		"topic", topic,
		"group_id", groupID,
	)

	cfg := kafkautil.NewReaderConfig(brokerList, topic, groupID)
	kafkautil.LogReaderConfig(cfg)

	return newConsumer(kafka.NewReader(cfg), requeue, topic), nil
}

func newConsumer(reader messageReader, requeue Publisher, topic string) *Consumer {
	return &Consumer{
		reader:  reader,
		requeue: requeue,
		topic:   topic,
	}
}

// Receive blocks until the next message is available or ctx is done.
// The offset is not committed until the message is settled.
func (c *Consumer) Receive(ctx context.Context) (*Message, error) {
	msg, err := c.reader.FetchMessage(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read message from Kafka: %w", err)
	}

	return &Message{
		Body:      msg.Value,
		Attempt:   kafkautil.Attempt(msg),
		Origin:    kafkautil.Origin(msg),
		Key:       msg.Key,
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		raw:       msg,
	}, nil
}

// Ack commits the message offset.
func (c *Consumer) Ack(ctx context.Context, msg *Message) error {
	if err := c.reader.CommitMessages(ctx, msg.raw); err != nil {
		return fmt.Errorf("failed to commit offset %d on partition %d: %w", msg.Offset, msg.Partition, err)
	}
	return nil
}

// Nack settles a message that was not fully handled. With requeue the payload
// is published again as attempt+1 before the offset is committed; without it
// the message is dropped.
func (c *Consumer) Nack(ctx context.Context, msg *Message, requeue bool) error {
	if requeue {
		if err := c.republish(ctx, msg, msg.Attempt+1); err != nil {
			return err
		}
		slog.Info("Requeued alert event",
			"partition", msg.Partition,
			"offset", msg.Offset,
			"next_attempt", msg.Attempt+1,
		)
	}
	return c.Ack(ctx, msg)
}

// Release hands an unprocessed message back without counting an attempt.
// It is used when shutdown interrupts work.
func (c *Consumer) Release(ctx context.Context, msg *Message) error {
	if err := c.republish(ctx, msg, msg.Attempt); err != nil {
		return err
	}
	return c.Ack(ctx, msg)
}

func (c *Consumer) republish(ctx context.Context, msg *Message, attempt int) error {
	out := kafka.Message{
		Key:     msg.raw.Key,
		Value:   msg.raw.Value,
		Headers: kafkautil.WithOrigin(kafkautil.WithAttempt(msg.raw.Headers, attempt), msg.Origin),
	}
	if err := c.requeue.Publish(ctx, out); err != nil {
		return fmt.Errorf("failed to republish offset %d on partition %d: %w", msg.Offset, msg.Partition, err)
	}
	return nil
}

// Close gracefully closes the Kafka reader and releases resources.
func (c *Consumer) Close() error {
	slog.Info("Closing Kafka consumer", "topic", c.topic)
	if err := c.reader.Close(); err != nil {
		slog.Error("Error closing Kafka consumer", "error", err)
		return err
	}
	slog.Info("Kafka consumer closed successfully")
	return nil
}
