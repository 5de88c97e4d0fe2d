package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"notifier/internal/consumer"
	"notifier/internal/deadletter"
	"notifier/internal/events"
	"notifier/internal/ledger"
	"notifier/internal/sender/strategy"
)

// FakeQueue is a test fake for Queue. Messages pushed with Push are returned
// by Receive in order; Receive blocks on an empty queue until ctx is done.
type FakeQueue struct {
	messages chan *consumer.Message
	AckErr   error

	mu       sync.Mutex
	acked    []*consumer.Message
	requeued []*consumer.Message
	dropped  []*consumer.Message
	released []*consumer.Message
}

func NewFakeQueue() *FakeQueue {
	return &FakeQueue{messages: make(chan *consumer.Message, 64)}
}

func (f *FakeQueue) Push(msgs ...*consumer.Message) {
	for _, m := range msgs {
		f.messages <- m
	}
}

func (f *FakeQueue) Receive(ctx context.Context) (*consumer.Message, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case m := <-f.messages:
		return m, nil
	}
}

func (f *FakeQueue) Ack(_ context.Context, msg *consumer.Message) error {
	if f.AckErr != nil {
		return f.AckErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked = append(f.acked, msg)
	return nil
}

func (f *FakeQueue) Nack(_ context.Context, msg *consumer.Message, requeue bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if requeue {
		f.requeued = append(f.requeued, msg)
	} else {
		f.dropped = append(f.dropped, msg)
	}
	return nil
}

func (f *FakeQueue) Release(_ context.Context, msg *consumer.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, msg)
	return nil
}

// Counts returns acked, requeued, dropped and released totals.
func (f *FakeQueue) Counts() (acked, requeued, dropped, released int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.acked), len(f.requeued), len(f.dropped), len(f.released)
}

// FakeChannel is a strategy.Channel whose sends are driven by SendFunc.
type FakeChannel struct {
	Kind     string
	Failures map[string]error
	SendFunc func(ctx context.Context, recipient string) error

	mu    sync.Mutex
	calls []string
}

func (f *FakeChannel) Type() string { return f.Kind }

func (f *FakeChannel) Deliver(ctx context.Context, _ *events.AlertEvent, recipients []string) []strategy.Outcome {
	return strategy.FanOut(ctx, f.Kind, recipients, func(ctx context.Context, r string) error {
		f.mu.Lock()
		f.calls = append(f.calls, r)
		f.mu.Unlock()
		if f.SendFunc != nil {
			return f.SendFunc(ctx, r)
		}
		return f.Failures[r]
	})
}

func (f *FakeChannel) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// FakeLedger is an in-memory Ledger.
type FakeLedger struct {
	ReadErr   error
	PanicWith any

	mu   sync.Mutex
	keys map[string]bool
}

func NewFakeLedger() *FakeLedger {
	return &FakeLedger{keys: make(map[string]bool)}
}

func (f *FakeLedger) Delivered(_ context.Context, eventKey, channel string, recipients []string) (map[string]bool, error) {
	if f.PanicWith != nil {
		panic(f.PanicWith)
	}
	if f.ReadErr != nil {
		return nil, f.ReadErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]bool)
	for _, r := range recipients {
		if f.keys[ledger.Key(eventKey, channel, r)] {
			out[r] = true
		}
	}
	return out, nil
}

func (f *FakeLedger) MarkDelivered(_ context.Context, eventKey, channel, recipient string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys[ledger.Key(eventKey, channel, recipient)] = true
	return nil
}

func (f *FakeLedger) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.keys)
}

// FakeSink records dead letters.
type FakeSink struct {
	mu      sync.Mutex
	records []deadletter.Record
}

func (f *FakeSink) Write(_ context.Context, rec deadletter.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, rec)
	return nil
}

func (f *FakeSink) Records() []deadletter.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]deadletter.Record(nil), f.records...)
}

// FakeMetrics counts recorder calls.
type FakeMetrics struct {
	mu         sync.Mutex
	Received   int
	Processed  int
	Acked      int
	Requeued   int
	Discarded  int
	Released   int
	Errors     int
	Deliveries map[string]int
}

func (f *FakeMetrics) RecordReceived()                 { f.inc(&f.Received) }
func (f *FakeMetrics) RecordProcessed(_ time.Duration) { f.inc(&f.Processed) }
func (f *FakeMetrics) RecordAcked()                    { f.inc(&f.Acked) }
func (f *FakeMetrics) RecordRequeued()                 { f.inc(&f.Requeued) }
func (f *FakeMetrics) RecordDiscarded()                { f.inc(&f.Discarded) }
func (f *FakeMetrics) RecordReleased()                 { f.inc(&f.Released) }
func (f *FakeMetrics) RecordError()                    { f.inc(&f.Errors) }

func (f *FakeMetrics) RecordDelivery(channel string, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Deliveries == nil {
		f.Deliveries = make(map[string]int)
	}
	key := channel + "_failed"
	if ok {
		key = channel + "_sent"
	}
	f.Deliveries[key]++
}

func (f *FakeMetrics) inc(n *int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	*n++
}

var errTimeout = errors.New("dial tcp: i/o timeout")

func alertEvent() *events.AlertEvent {
	return &events.AlertEvent{
		ServerID:      7,
		ServerHost:    "api.example.com",
		Protocol:      "HTTPS",
		ErrorMessage:  "Connection timeout",
		StatusCode:    503,
		Timestamp:     time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		Emails:        []string{"a@example.com", "b@example.com", "c@example.com"},
		ChatUsernames: []string{"oncall_team"},
	}
}

func message(t *testing.T, ev *events.AlertEvent, attempt int) *consumer.Message {
	t.Helper()
	body, err := json.Marshal(ev)
	require.NoError(t, err)
	return &consumer.Message{Body: body, Attempt: attempt, Topic: "alerts"}
}

// messageAt is message with the queue identity a consumer would stamp on it.
func messageAt(t *testing.T, ev *events.AlertEvent, attempt int, origin string) *consumer.Message {
	t.Helper()
	msg := message(t, ev, attempt)
	msg.Origin = origin
	return msg
}
