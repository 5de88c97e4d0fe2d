// Package ledger remembers which recipients already received an event so a
// requeued event is only sent to the recipients that are still missing it.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// KeyPrefix prefixes every ledger key in Redis.
const KeyPrefix = "notifier:delivered:"

// DefaultTTL bounds how long a delivery is remembered.
const DefaultTTL = 24 * time.Hour

// Key builds the Redis key for one recipient of one event on one channel.
func Key(eventKey, channel, recipient string) string {
	return fmt.Sprintf("%s%s:%s:%s", KeyPrefix, eventKey, channel, recipient)
}

// NoOp remembers nothing; every recipient is always pending.
type NoOp struct{}

// Delivered implements the ledger contract with an empty result.
func (NoOp) Delivered(context.Context, string, string, []string) (map[string]bool, error) {
	return map[string]bool{}, nil
}

// MarkDelivered implements the ledger contract as a no-op.
func (NoOp) MarkDelivered(context.Context, string, string, string) error {
	return nil
}

// Redis stores delivery marks as expiring keys.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis creates a Redis-backed ledger. A non-positive ttl uses DefaultTTL.
func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{client: client, ttl: ttl}
}

// Delivered reports which of recipients already received eventKey on channel.
func (l *Redis) Delivered(ctx context.Context, eventKey, channel string, recipients []string) (map[string]bool, error) {
	out := make(map[string]bool, len(recipients))
	if len(recipients) == 0 {
		return out, nil
	}

	cmds := make([]*redis.IntCmd, len(recipients))
	_, err := l.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, r := range recipients {
			cmds[i] = pipe.Exists(ctx, Key(eventKey, channel, r))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read delivery ledger: %w", err)
	}

	for i, r := range recipients {
		if cmds[i].Val() > 0 {
			out[r] = true
		}
	}
	return out, nil
}

// MarkDelivered records that recipient received eventKey on channel.
func (l *Redis) MarkDelivered(ctx context.Context, eventKey, channel, recipient string) error {
	if err := l.client.SetNX(ctx, Key(eventKey, channel, recipient), time.Now().UTC().Unix(), l.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write delivery ledger: %w", err)
	}
	return nil
}
