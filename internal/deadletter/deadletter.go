// Package deadletter records alert events the dispatcher gave up on, or
// delivered only partially, so an operator can inspect or replay them.
package deadletter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"notifier/internal/database"
	"notifier/internal/events"
	"notifier/internal/sender/strategy"
)

// Reasons a record is written.
const (
	ReasonMalformed         = "malformed"
	ReasonRecipientRejected = "recipient_rejected"
	ReasonRetriesExhausted  = "retries_exhausted"
)

// Failure is one failed recipient.
type Failure struct {
	Channel   string `json:"channel"`
	Recipient string `json:"recipient"`
	Error     string `json:"error"`
	Permanent bool   `json:"permanent"`
}

// Record is one dead-lettered event.
type Record struct {
	ID       uuid.UUID `json:"id"`
	Reason   string    `json:"reason"`
	Attempt  int       `json:"attempt"`
	ServerID uint32    `json:"serverId,omitempty"`
	EventKey string    `json:"eventKey,omitempty"`
	Payload  string    `json:"payload"`
	Failures []Failure `json:"failures,omitempty"`
	// Panic holds the recovered value when processing panicked.
	Panic      string    `json:"panic,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

// NewRecord builds a record. ev may be nil when the payload did not decode;
// only failed outcomes are kept.
func NewRecord(reason string, attempt int, payload []byte, ev *events.AlertEvent, outcomes []strategy.Outcome) Record {
	rec := Record{
		ID:         uuid.New(),
		Reason:     reason,
		Attempt:    attempt,
		Payload:    string(payload),
		OccurredAt: time.Now().UTC(),
	}
	if ev != nil {
		rec.ServerID = ev.ServerID
		rec.EventKey = ev.Key()
	}
	for _, o := range outcomes {
		if o.Succeeded {
			continue
		}
		f := Failure{Channel: o.Channel, Recipient: o.Recipient, Permanent: o.Permanent}
		if o.Err != nil {
			f.Error = o.Err.Error()
		}
		rec.Failures = append(rec.Failures, f)
	}
	return rec
}

// Sink stores dead-letter records.
type Sink interface {
	Write(ctx context.Context, rec Record) error
}

// LogSink writes records to the structured log only.
type LogSink struct{}

// Write implements Sink.
func (LogSink) Write(_ context.Context, rec Record) error {
	slog.Warn("Dead-lettered alert event",
		"dead_letter_id", rec.ID,
		"reason", rec.Reason,
		"attempt", rec.Attempt,
		"server_id", rec.ServerID,
		"event_key", rec.EventKey,
		"failures", len(rec.Failures),
		"panic", rec.Panic,
	)
	return nil
}

// Publisher writes messages to a Kafka topic.
type Publisher interface {
	Publish(ctx context.Context, msgs ...kafka.Message) error
}

// TopicSink publishes records as JSON to a dead-letter topic.
type TopicSink struct {
	publisher Publisher
}

// NewTopicSink creates a sink on top of a topic producer.
func NewTopicSink(p Publisher) *TopicSink {
	return &TopicSink{publisher: p}
}

// Write implements Sink.
func (s *TopicSink) Write(ctx context.Context, rec Record) error {
	value, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal dead letter: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(strconv.FormatUint(uint64(rec.ServerID), 10)),
		Value: value,
		Headers: []kafka.Header{
			{Key: "reason", Value: []byte(rec.Reason)},
			{Key: "dead_letter_id", Value: []byte(rec.ID.String())},
		},
		Time: rec.OccurredAt,
	}
	if err := s.publisher.Publish(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish dead letter: %w", err)
	}
	return nil
}

// Store persists dead letters.
type Store interface {
	InsertDeadLetter(ctx context.Context, dl database.DeadLetter) error
}

// StoreSink writes records to the dead_letters table.
type StoreSink struct {
	store Store
}

// NewStoreSink creates a sink on top of the database.
func NewStoreSink(store Store) *StoreSink {
	return &StoreSink{store: store}
}

// Write implements Sink.
func (s *StoreSink) Write(ctx context.Context, rec Record) error {
	failures, err := json.Marshal(rec.Failures)
	if err != nil {
		return fmt.Errorf("failed to marshal dead letter failures: %w", err)
	}
	if rec.Failures == nil {
		failures = []byte("[]")
	}

	return s.store.InsertDeadLetter(ctx, database.DeadLetter{
		ID:         rec.ID.String(),
		Reason:     rec.Reason,
		Attempt:    rec.Attempt,
		ServerID:   int64(rec.ServerID),
		EventKey:   rec.EventKey,
		Payload:    rec.Payload,
		Failures:   string(failures),
		Panic:      rec.Panic,
		OccurredAt: rec.OccurredAt,
	})
}

// Multi fans a record out to several sinks. Every sink is attempted.
type Multi []Sink

// Write implements Sink.
func (m Multi) Write(ctx context.Context, rec Record) error {
	var errs []error
	for _, s := range m {
		if err := s.Write(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
