package main

import (
	"context"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notifier/internal/events"
	"notifier/internal/generator"
)

type recordingPublisher struct {
	err  error
	msgs []kafka.Message
}

func (r *recordingPublisher) Publish(_ context.Context, msgs ...kafka.Message) error {
	if r.err != nil {
		return r.err
	}
	r.msgs = append(r.msgs, msgs...)
	return nil
}

func (r *recordingPublisher) Close() error { return nil }

func TestSplitList(t *testing.T) {
	assert.Nil(t, splitList(""))
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, splitList(" a@example.com, ,b@example.com "))
}

func TestPublishOne(t *testing.T) {
	pub := &recordingPublisher{}
	ev := generator.DownEvent("api.example.com", "HTTPS", "Connection timeout", 503)
	ev.Emails = []string{"admin@example.com"}

	require.NoError(t, publishOne(context.Background(), pub, ev))
	require.Len(t, pub.msgs, 1)

	decoded, err := events.Decode(pub.msgs[0].Value)
	require.NoError(t, err)
	assert.Equal(t, "api.example.com", decoded.ServerHost)
	assert.Equal(t, []string{"admin@example.com"}, decoded.Emails)

	pub.err = errors.New("kafka unavailable")
	assert.Error(t, publishOne(context.Background(), pub, ev))
}

func TestLogPublisher(t *testing.T) {
	p := logPublisher{topic: "alerts"}
	assert.NoError(t, p.Publish(context.Background(), kafka.Message{Key: []byte("1"), Value: []byte("{}")}))
	assert.NoError(t, p.Close())
}
