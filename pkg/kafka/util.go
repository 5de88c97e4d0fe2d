// Package kafka provides shared Kafka utilities for the notifier.
package kafka

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

const (
	// MaxPollWait is the longest a fetch waits for new data before returning.
	MaxPollWait = 500 * time.Millisecond
	// WriteTimeout is the maximum time to wait for a Kafka write operation.
	WriteTimeout = 10 * time.Second
	// AttemptHeader carries the 1-based delivery attempt of a requeued message.
	AttemptHeader = "x-delivery-attempt"
	// OriginHeader carries topic/partition/offset of the first delivery, so
	// every requeued copy of a message shares one identity.
	OriginHeader = "x-origin"
)

// ParseBrokers parses a comma-separated broker list and trims whitespace.
// Returns a slice of broker addresses.
func ParseBrokers(brokers string) []string {
	if brokers == "" {
		return nil
	}
	brokerList := strings.Split(brokers, ",")
	out := brokerList[:0]
	for _, b := range brokerList {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// ValidateConsumerParams validates common consumer parameters.
// Returns an error if any parameter is invalid.
func ValidateConsumerParams(brokers, topic, groupID string) error {
	if brokers == "" {
		return fmt.Errorf("brokers cannot be empty")
	}
	if topic == "" {
		return fmt.Errorf("topic cannot be empty")
	}
	if groupID == "" {
		return fmt.Errorf("groupID cannot be empty")
	}
	return nil
}

// ValidateProducerParams validates common producer parameters.
// Returns an error if any parameter is invalid.
func ValidateProducerParams(brokers, topic string) error {
	if brokers == "" {
		return fmt.Errorf("brokers cannot be empty")
	}
	if topic == "" {
		return fmt.Errorf("topic cannot be empty")
	}
	return nil
}

// NewReaderConfig creates the reader configuration for the alert consumer.
// Offsets are committed explicitly (CommitInterval 0) so that an offset only
// moves once the dispatcher has decided what to do with the message.
func NewReaderConfig(brokers []string, topic, groupID string) kafka.ReaderConfig {
	return kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,    // Return immediately when any data is available
		MaxBytes:       10e6, // 10MB
		MaxWait:        MaxPollWait,
		CommitInterval: 0,
		StartOffset:    kafka.FirstOffset, // Start from beginning if no committed offset
	}
}

// LogReaderConfig logs the reader configuration values.
func LogReaderConfig(cfg kafka.ReaderConfig) {
	slog.Info("Kafka consumer configured",
		"min_bytes", cfg.MinBytes,
		"max_bytes", cfg.MaxBytes,
		"max_wait", cfg.MaxWait,
		"commit", "synchronous",
	)
}

// NewWriter creates a synchronous writer for topic. Messages are
// hash-partitioned by key and a write returns once the leader has it.
func NewWriter(brokers []string, topic string) *kafka.Writer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		WriteTimeout: WriteTimeout,
		RequiredAcks: kafka.RequireOne,
	}
	slog.Info("Kafka producer configured",
		"topic", topic,
		"write_timeout", w.WriteTimeout,
		"required_acks", "RequireOne",
		"balancer", "hash",
	)
	return w
}

// Attempt returns the delivery attempt recorded on msg.
// Messages without the header (first delivery) or with a garbage value count as attempt 1.
func Attempt(msg kafka.Message) int {
	for _, h := range msg.Headers {
		if h.Key != AttemptHeader {
			continue
		}
		n, err := strconv.Atoi(string(h.Value))
		if err != nil || n < 1 {
			return 1
		}
		return n
	}
	return 1
}

// WithAttempt returns a copy of headers with the attempt header set to n.
func WithAttempt(headers []kafka.Header, n int) []kafka.Header {
	return withHeader(headers, AttemptHeader, strconv.Itoa(n))
}

// Origin returns the identity of msg: the origin header of a requeued copy,
// or topic/partition/offset for a first delivery.
func Origin(msg kafka.Message) string {
	for _, h := range msg.Headers {
		if h.Key == OriginHeader && len(h.Value) > 0 {
			return string(h.Value)
		}
	}
	return fmt.Sprintf("%s/%d/%d", msg.Topic, msg.Partition, msg.Offset)
}

// WithOrigin returns a copy of headers with the origin header set.
func WithOrigin(headers []kafka.Header, origin string) []kafka.Header {
	return withHeader(headers, OriginHeader, origin)
}

func withHeader(headers []kafka.Header, key, value string) []kafka.Header {
	out := make([]kafka.Header, 0, len(headers)+1)
	for _, h := range headers {
		if h.Key != key {
			out = append(out, h)
		}
	}
	return append(out, kafka.Header{Key: key, Value: []byte(value)})
}
