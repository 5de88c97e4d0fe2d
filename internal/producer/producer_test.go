package producer

import (
	"context"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
)

type fakeWriter struct {
	written []kafka.Message
	err     error
	closed  bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.written = append(f.written, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestNewProducer(t *testing.T) {
	tests := []struct {
		name    string
		brokers string
		topic   string
		wantErr string
	}{
		{name: "valid", brokers: "localhost:9092", topic: "alerts"},
		{name: "multiple brokers", brokers: "localhost:9092, localhost:9093", topic: "alerts"},
		{name: "empty brokers", brokers: "", topic: "alerts", wantErr: "brokers cannot be empty"},
		{name: "empty topic", brokers: "localhost:9092", topic: "", wantErr: "topic cannot be empty"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewProducer(tt.brokers, tt.topic)
			if tt.wantErr != "" {
				if err == nil || err.Error() != tt.wantErr {
					t.Fatalf("NewProducer() error = %v, want %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewProducer() unexpected error: %v", err)
			}
			if p.Topic() != tt.topic {
				t.Errorf("Topic() = %q, want %q", p.Topic(), tt.topic)
			}
			_ = p.Close()
		})
	}
}

func TestProducer_Publish(t *testing.T) {
	w := &fakeWriter{}
	p := &Producer{writer: w, topic: "alerts"}

	if err := p.Publish(context.Background()); err != nil {
		t.Fatalf("Publish() with no messages error = %v", err)
	}
	if len(w.written) != 0 {
		t.Fatalf("Publish() with no messages wrote %d", len(w.written))
	}

	msg := kafka.Message{Key: []byte("42"), Value: []byte(`{}`)}
	if err := p.Publish(context.Background(), msg); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if len(w.written) != 1 || string(w.written[0].Key) != "42" {
		t.Errorf("Publish() wrote %+v", w.written)
	}

	w.err = errors.New("leader not available")
	if err := p.Publish(context.Background(), msg); err == nil {
		t.Error("Publish() should surface writer errors")
	}

	if err := p.Close(); err != nil || !w.closed {
		t.Errorf("Close() error = %v, closed = %v", err, w.closed)
	}
}
