package consumer

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/segmentio/kafka-go"

	kafkautil "notifier/pkg/kafka"
)

type fakeReader struct {
	queue     []kafka.Message
	committed []kafka.Message
	commitErr error
	closed    bool
}

func (f *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if len(f.queue) == 0 {
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}
	m := f.queue[0]
	f.queue = f.queue[1:]
	return m, nil
}

func (f *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.commitErr != nil {
		return f.commitErr
	}
	f.committed = append(f.committed, msgs...)
	return nil
}

func (f *fakeReader) Close() error {
	f.closed = true
	return nil
}

type fakePublisher struct {
	published []kafka.Message
	err       error
}

func (f *fakePublisher) Publish(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, msgs...)
	return nil
}

func rawMessage(attempt string) kafka.Message {
	m := kafka.Message{
		Topic:     "alerts",
		Partition: 2,
		Offset:    17,
		Key:       []byte("42"),
		Value:     []byte(`{"serverId":42}`),
		Headers:   []kafka.Header{{Key: "trace", Value: []byte("abc")}},
	}
	if attempt != "" {
		m.Headers = append(m.Headers, kafka.Header{Key: kafkautil.AttemptHeader, Value: []byte(attempt)})
	}
	return m
}

func header(msg kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

// receive fetches one message from a consumer fed with raw.
func receive(t *testing.T, raw kafka.Message) (*Consumer, *fakeReader, *fakePublisher, *Message) {
	t.Helper()
	reader := &fakeReader{queue: []kafka.Message{raw}}
	pub := &fakePublisher{}
	c := newConsumer(reader, pub, "alerts")

	msg, err := c.Receive(context.Background())
	if err != nil {
		t.Fatalf("Receive() error = %v", err)
	}
	return c, reader, pub, msg
}

func TestNewConsumer(t *testing.T) {
	tests := []struct {
		name    string
		brokers string
		topic   string
		groupID string
		wantErr string
	}{
		{name: "valid consumer", brokers: "localhost:9092", topic: "alerts", groupID: "notifier"},
		{name: "empty brokers", brokers: "", topic: "alerts", groupID: "notifier", wantErr: "brokers cannot be empty"},
		{name: "empty topic", brokers: "localhost:9092", topic: "", groupID: "notifier", wantErr: "topic cannot be empty"},
		{name: "empty groupID", brokers: "localhost:9092", topic: "alerts", groupID: "", wantErr: "groupID cannot be empty"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewConsumer(tt.brokers, tt.topic, tt.groupID, &fakePublisher{})
			if tt.wantErr != "" {
				if err == nil || err.Error() != tt.wantErr {
					t.Errorf("NewConsumer() error = %v, want %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewConsumer() error = %v", err)
			}
			_ = c.Close()
		})
	}

	if _, err := NewConsumer("localhost:9092", "alerts", "notifier", nil); err == nil {
		t.Error("NewConsumer() with nil publisher should fail")
	}
}

func TestConsumer_Receive(t *testing.T) {
	reader := &fakeReader{queue: []kafka.Message{rawMessage(""), rawMessage("3")}}
	c := newConsumer(reader, &fakePublisher{}, "alerts")

	first, err := c.Receive(context.Background())
	if err != nil {
		t.Fatalf("Receive() error = %v", err)
	}
	if first.Attempt != 1 {
		t.Errorf("Attempt = %d, want 1", first.Attempt)
	}
	if !bytes.Equal(first.Body, []byte(`{"serverId":42}`)) {
		t.Errorf("Body = %s", first.Body)
	}
	if first.Topic != "alerts" || first.Partition != 2 || first.Offset != 17 {
		t.Errorf("position = %s/%d/%d, want alerts/2/17", first.Topic, first.Partition, first.Offset)
	}
	if first.Origin != "alerts/2/17" {
		t.Errorf("Origin = %q, want alerts/2/17", first.Origin)
	}

	second, err := c.Receive(context.Background())
	if err != nil {
		t.Fatalf("Receive() error = %v", err)
	}
	if second.Attempt != 3 {
		t.Errorf("Attempt = %d, want 3", second.Attempt)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.Receive(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Receive() on cancelled ctx = %v, want context.Canceled", err)
	}
	if len(reader.committed) != 0 {
		t.Errorf("Receive() must not commit, committed %d", len(reader.committed))
	}
}

func TestConsumer_Ack(t *testing.T) {
	c, reader, pub, msg := receive(t, rawMessage(""))

	if err := c.Ack(context.Background(), msg); err != nil {
		t.Fatalf("Ack() error = %v", err)
	}
	if len(reader.committed) != 1 || reader.committed[0].Offset != 17 {
		t.Errorf("committed = %v, want offset 17", reader.committed)
	}
	if len(pub.published) != 0 {
		t.Errorf("Ack() published %d messages", len(pub.published))
	}
}

func TestConsumer_NackRequeueBumpsAttempt(t *testing.T) {
	c, reader, pub, msg := receive(t, rawMessage("2"))

	if err := c.Nack(context.Background(), msg, true); err != nil {
		t.Fatalf("Nack() error = %v", err)
	}
	if len(pub.published) != 1 {
		t.Fatalf("published %d messages, want 1", len(pub.published))
	}
	out := pub.published[0]
	if got := kafkautil.Attempt(out); got != 3 {
		t.Errorf("republished attempt = %d, want 3", got)
	}
	if out.Topic != "" {
		t.Errorf("republished Topic = %q, the writer sets it", out.Topic)
	}
	if !bytes.Equal(out.Key, []byte("42")) || !bytes.Equal(out.Value, msg.Body) {
		t.Errorf("republished key/value = %s/%s", out.Key, out.Value)
	}
	if header(out, "trace") != "abc" {
		t.Error("republished copy should keep other headers")
	}
	if len(reader.committed) != 1 {
		t.Errorf("committed %d, want 1", len(reader.committed))
	}
}

func TestConsumer_RepublishCarriesOrigin(t *testing.T) {
	requeued := rawMessage("2")
	requeued.Offset = 90
	requeued.Headers = append(requeued.Headers, kafka.Header{Key: kafkautil.OriginHeader, Value: []byte("alerts/2/17")})

	tests := []struct {
		name   string
		raw    kafka.Message
		settle func(*Consumer, *Message) error
	}{
		{
			name:   "requeue of first delivery",
			raw:    rawMessage(""),
			settle: func(c *Consumer, m *Message) error { return c.Nack(context.Background(), m, true) },
		},
		{
			name:   "release of first delivery",
			raw:    rawMessage(""),
			settle: func(c *Consumer, m *Message) error { return c.Release(context.Background(), m) },
		},
		{
			name:   "requeue of a requeued copy",
			raw:    requeued,
			settle: func(c *Consumer, m *Message) error { return c.Nack(context.Background(), m, true) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _, pub, msg := receive(t, tt.raw)
			if msg.Origin != "alerts/2/17" {
				t.Fatalf("Origin = %q, want alerts/2/17", msg.Origin)
			}

			if err := tt.settle(c, msg); err != nil {
				t.Fatalf("settle error = %v", err)
			}
			if len(pub.published) != 1 {
				t.Fatalf("published %d messages, want 1", len(pub.published))
			}
			out := pub.published[0]
			if got := header(out, kafkautil.OriginHeader); got != "alerts/2/17" {
				t.Errorf("origin header = %q, want alerts/2/17", got)
			}
			// Landing at a new offset must not change the identity.
			out.Topic, out.Partition, out.Offset = "alerts", 1, 400
			if got := kafkautil.Origin(out); got != "alerts/2/17" {
				t.Errorf("Origin(republished) = %q, want alerts/2/17", got)
			}
		})
	}
}

func TestConsumer_NackDiscard(t *testing.T) {
	c, reader, pub, msg := receive(t, rawMessage(""))

	if err := c.Nack(context.Background(), msg, false); err != nil {
		t.Fatalf("Nack() error = %v", err)
	}
	if len(pub.published) != 0 {
		t.Errorf("discard published %d messages", len(pub.published))
	}
	if len(reader.committed) != 1 {
		t.Errorf("committed %d, want 1", len(reader.committed))
	}
}

func TestConsumer_NackRequeueDoesNotCommitWhenPublishFails(t *testing.T) {
	reader := &fakeReader{queue: []kafka.Message{rawMessage("")}}
	pub := &fakePublisher{err: errors.New("leader not available")}
	c := newConsumer(reader, pub, "alerts")

	msg, err := c.Receive(context.Background())
	if err != nil {
		t.Fatalf("Receive() error = %v", err)
	}
	err = c.Nack(context.Background(), msg, true)
	if err == nil || !strings.Contains(err.Error(), "leader not available") {
		t.Errorf("Nack() error = %v, want publish failure", err)
	}
	if len(reader.committed) != 0 {
		t.Errorf("committed %d, want 0", len(reader.committed))
	}
}

func TestConsumer_ReleaseKeepsAttempt(t *testing.T) {
	c, reader, pub, msg := receive(t, rawMessage("2"))

	if err := c.Release(context.Background(), msg); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if len(pub.published) != 1 {
		t.Fatalf("published %d messages, want 1", len(pub.published))
	}
	if got := kafkautil.Attempt(pub.published[0]); got != 2 {
		t.Errorf("released attempt = %d, want 2", got)
	}
	if len(reader.committed) != 1 {
		t.Errorf("committed %d, want 1", len(reader.committed))
	}
}

func TestConsumer_CommitError(t *testing.T) {
	reader := &fakeReader{queue: []kafka.Message{rawMessage("")}, commitErr: errors.New("rebalance in progress")}
	c := newConsumer(reader, &fakePublisher{}, "alerts")

	msg, err := c.Receive(context.Background())
	if err != nil {
		t.Fatalf("Receive() error = %v", err)
	}
	if err := c.Ack(context.Background(), msg); err == nil {
		t.Error("Ack() should surface the commit error")
	}
}

func TestConsumer_Close(t *testing.T) {
	reader := &fakeReader{}
	c := newConsumer(reader, &fakePublisher{}, "alerts")
	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !reader.closed {
		t.Error("Close() should close the reader")
	}
}
