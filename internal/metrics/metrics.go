// Package metrics provides metrics recording interfaces for the dispatcher.
// It uses the null object pattern to avoid nil checks throughout the codebase.
package metrics

import "time"

// Recorder defines the interface for recording dispatch metrics.
type Recorder interface {
	// RecordReceived increments the count of received messages.
	RecordReceived()

	// RecordProcessed records a settled message with its handling latency.
	RecordProcessed(latency time.Duration)

	// RecordAcked increments the count of acknowledged messages.
	RecordAcked()

	// RecordRequeued increments the count of messages requeued for retry.
	RecordRequeued()

	// RecordDiscarded increments the count of messages dropped (malformed or retries exhausted).
	RecordDiscarded()

	// RecordReleased increments the count of messages handed back unprocessed
	// (shutdown); releases do not consume a delivery attempt.
	RecordReleased()

	// RecordDelivery counts one recipient outcome on channel.
	RecordDelivery(channel string, ok bool)

	// RecordError increments the error counter.
	RecordError()
}

// NoOp is a no-op implementation of Recorder that discards all metrics.
// Use this when metrics collection is not configured.
type NoOp struct{}

// NewNoOp creates a new no-op metrics recorder.
func NewNoOp() *NoOp {
	return &NoOp{}
}

func (n *NoOp) RecordReceived()                 {}
func (n *NoOp) RecordProcessed(_ time.Duration) {}
func (n *NoOp) RecordAcked()                    {}
func (n *NoOp) RecordRequeued()                 {}
func (n *NoOp) RecordDiscarded()                {}
func (n *NoOp) RecordReleased()                 {}
func (n *NoOp) RecordDelivery(_ string, _ bool) {}
func (n *NoOp) RecordError()                    {}

// Ensure NoOp implements Recorder
var _ Recorder = (*NoOp)(nil)
