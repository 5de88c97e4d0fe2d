// Package dispatcher consumes alert events from the queue, delivers them on
// every channel and settles each message according to the outcome.
package dispatcher

import (
	"context"

	"notifier/internal/consumer"
	"notifier/internal/events"
	"notifier/internal/sender"
)

// Queue is the inbound message source.
type Queue interface {
	// Receive blocks until the next message is available or ctx is done.
	Receive(ctx context.Context) (*consumer.Message, error)

	// Ack marks the message as handled.
	Ack(ctx context.Context, msg *consumer.Message) error

	// Nack settles a message that was not fully handled. With requeue it is
	// redelivered later as the next attempt; without it, it is dropped.
	Nack(ctx context.Context, msg *consumer.Message, requeue bool) error

	// Release hands the message back for redelivery without counting an attempt.
	Release(ctx context.Context, msg *consumer.Message) error
}

// Deliverer sends one event on every channel.
type Deliverer interface {
	Dispatch(ctx context.Context, ev *events.AlertEvent, filter sender.Filter) *sender.Report
}

// Ledger remembers recipients that already received an event.
type Ledger interface {
	// Delivered reports which of recipients already received eventKey on channel.
	Delivered(ctx context.Context, eventKey, channel string, recipients []string) (map[string]bool, error)

	// MarkDelivered records a successful delivery.
	MarkDelivered(ctx context.Context, eventKey, channel, recipient string) error
}
