package metrics

import (
	"time"

	"notifier/pkg/metrics"
)

// Settlement names recorded on the collector.
const (
	SettledAck     = "ack"
	SettledRequeue = "requeue"
	SettledDiscard = "discard"
	SettledRelease = "release"
)

// CollectorAdapter adapts pkg/metrics.Collector to the Recorder interface.
type CollectorAdapter struct {
	collector *metrics.Collector
}

// NewCollectorAdapter wraps a metrics.Collector to implement Recorder.
func NewCollectorAdapter(collector *metrics.Collector) *CollectorAdapter {
	return &CollectorAdapter{collector: collector}
}

func (a *CollectorAdapter) RecordReceived()                       { a.collector.RecordReceived() }
func (a *CollectorAdapter) RecordProcessed(latency time.Duration) { a.collector.RecordProcessed(latency) }
func (a *CollectorAdapter) RecordAcked()                          { a.collector.RecordSettled(SettledAck) }
func (a *CollectorAdapter) RecordRequeued()                       { a.collector.RecordSettled(SettledRequeue) }
func (a *CollectorAdapter) RecordDiscarded()                      { a.collector.RecordSettled(SettledDiscard) }
func (a *CollectorAdapter) RecordReleased()                       { a.collector.RecordSettled(SettledRelease) }
func (a *CollectorAdapter) RecordError()                          { a.collector.RecordError() }

func (a *CollectorAdapter) RecordDelivery(channel string, ok bool) {
	a.collector.RecordDelivery(channel, ok)
}

var _ Recorder = (*CollectorAdapter)(nil)
