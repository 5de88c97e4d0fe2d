package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func TestKey(t *testing.T) {
	got := Key("42:down:1714557600000000000", "email", "a@example.com")
	want := "notifier:delivered:42:down:1714557600000000000:email:a@example.com"
	if got != want {
		t.Errorf("Key() = %q, want %q", got, want)
	}
}

func TestNoOp(t *testing.T) {
	var l NoOp
	got, err := l.Delivered(context.Background(), "k", "email", []string{"a@example.com"})
	if err != nil || len(got) != 0 {
		t.Errorf("NoOp.Delivered() = %v, %v; want empty, nil", got, err)
	}
	if err := l.MarkDelivered(context.Background(), "k", "email", "a@example.com"); err != nil {
		t.Errorf("NoOp.MarkDelivered() error = %v", err)
	}
}

func TestNewRedis_DefaultTTL(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	defer client.Close()

	if l := NewRedis(client, 0); l.ttl != DefaultTTL {
		t.Errorf("NewRedis(0).ttl = %v, want %v", l.ttl, DefaultTTL)
	}
	if l := NewRedis(client, time.Hour); l.ttl != time.Hour {
		t.Errorf("NewRedis(1h).ttl = %v, want 1h", l.ttl)
	}
}

func TestRedis_Integration(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
	})
	defer client.Close()

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Skipping integration test: Redis not available: %v", err)
	}

	l := NewRedis(client, time.Minute)
	eventKey := "test:" + uuid.NewString()
	recipients := []string{"a@example.com", "b@example.com"}
	t.Cleanup(func() {
		for _, r := range recipients {
			client.Del(ctx, Key(eventKey, "email", r))
		}
	})

	got, err := l.Delivered(ctx, eventKey, "email", recipients)
	if err != nil {
		t.Fatalf("Delivered() error = %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("Delivered() before marking = %v, want empty", got)
	}

	if err := l.MarkDelivered(ctx, eventKey, "email", "a@example.com"); err != nil {
		t.Fatalf("MarkDelivered() error = %v", err)
	}

	got, err = l.Delivered(ctx, eventKey, "email", recipients)
	if err != nil {
		t.Fatalf("Delivered() error = %v", err)
	}
	if !got["a@example.com"] || got["b@example.com"] {
		t.Errorf("Delivered() = %v, want only a@example.com", got)
	}

	ttl := client.TTL(ctx, Key(eventKey, "email", "a@example.com")).Val()
	if ttl <= 0 || ttl > time.Minute {
		t.Errorf("ledger key TTL = %v, want (0, 1m]", ttl)
	}

	other, err := l.Delivered(ctx, eventKey, "chat", []string{"a@example.com"})
	if err != nil || len(other) != 0 {
		t.Errorf("Delivered() on another channel = %v, %v; want empty", other, err)
	}
}
