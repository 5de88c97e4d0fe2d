// Package main publishes synthetic alert events onto the alerts topic so the
// notifier can be exercised end to end without the monitoring scheduler.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/segmentio/kafka-go"

	"notifier/internal/events"
	"notifier/internal/generator"
	"notifier/internal/producer"
)

// publisher is satisfied by *producer.Producer and by the log-only mock.
type publisher interface {
	Publish(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// logPublisher logs events instead of sending them.
type logPublisher struct{ topic string }

func (p logPublisher) Publish(_ context.Context, msgs ...kafka.Message) error {
	for _, m := range msgs {
		slog.Info("Mock publish", "topic", p.topic, "key", string(m.Key), "payload", string(m.Value))
	}
	return nil
}

func (logPublisher) Close() error { return nil }

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	gen := generator.DefaultConfig()
	var (
		brokers, topic, hosts, emails, chatUsers string
		count                                    int
		interval                                 time.Duration
		mockMode                                 bool
	)
	flag.StringVar(&brokers, "kafka-brokers", getEnvOrDefault("QUEUE_BROKERS", "localhost:9092"), "Kafka broker addresses (comma-separated)")
	flag.StringVar(&topic, "topic", getEnvOrDefault("QUEUE_TOPIC", "alerts"), "Kafka topic name")
	flag.IntVar(&count, "count", 1, "Number of events to publish")
	flag.DurationVar(&interval, "interval", 0, "Pause between events (e.g., 500ms)")
	flag.Int64Var(&gen.Seed, "seed", 0, "Random seed for deterministic generation (0 = random)")
	flag.StringVar(&hosts, "hosts", strings.Join(gen.Hosts, ","), "Monitored hosts (comma-separated)")
	flag.StringVar(&gen.ProtocolDist, "protocol-dist", gen.ProtocolDist, "Protocol distribution (format: PROTOCOL:percent,...)")
	flag.IntVar(&gen.RecoveredPercent, "recovered-percent", gen.RecoveredPercent, "Percentage of events that are recoveries")
	flag.StringVar(&emails, "emails", "", "Email recipients (comma-separated)")
	flag.StringVar(&chatUsers, "chat", "", "Chat usernames (comma-separated)")
	flag.BoolVar(&mockMode, "mock", false, "Log events instead of publishing them (no Kafka required)")
	flag.Parse()

	gen.Hosts = splitList(hosts)
	gen.Emails = splitList(emails)
	gen.ChatUsernames = splitList(chatUsers)

	slog.Info("Starting alert-publisher",
		"kafka_brokers", brokers,
		"topic", topic,
		"count", count,
		"interval", interval,
		"seed", gen.Seed,
		"emails", len(gen.Emails),
		"chat_usernames", len(gen.ChatUsernames),
	)

	g, err := generator.New(gen)
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var pub publisher
	if mockMode {
		slog.Info("Using mock mode - events will be logged but not sent to Kafka")
		pub = logPublisher{topic: topic}
	} else {
		p, err := producer.NewProducer(brokers, topic)
		if err != nil {
			slog.Error("Failed to create Kafka producer", "error", err)
			slog.Info("Tip: Start Kafka with 'docker compose up -d' or use --mock flag to test without Kafka")
			os.Exit(1)
		}
		pub = p
	}

	published := 0
	for i := 0; i < count && ctx.Err() == nil; i++ {
		if err := publishOne(ctx, pub, g.Generate()); err != nil {
			slog.Error("Failed to publish alert event", "error", err)
			continue
		}
		published++
		if interval > 0 && i < count-1 {
			select {
			case <-ctx.Done():
			case <-time.After(interval):
			}
		}
	}

	if err := pub.Close(); err != nil {
		slog.Error("Failed to close publisher", "error", err)
	}

	slog.Info("Alert publisher completed", "published", published, "requested", count)
	if published < count {
		os.Exit(1)
	}
}

func publishOne(ctx context.Context, pub publisher, ev *events.AlertEvent) error {
	msg, err := producer.AlertMessage(ev)
	if err != nil {
		return err
	}
	if err := pub.Publish(ctx, msg); err != nil {
		return err
	}
	slog.Info("Published alert event",
		"server_id", ev.ServerID,
		"server_host", ev.ServerHost,
		"transition", ev.Transition(),
		"protocol", ev.Protocol,
	)
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
