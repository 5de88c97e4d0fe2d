package main

import (
	"context"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"notifier/internal/bootstrap"
	"notifier/internal/config"
	"notifier/internal/consumer"
	"notifier/internal/dispatcher"
	"notifier/internal/ledger"
	"notifier/internal/metrics"
	"notifier/internal/producer"
	"notifier/internal/sender"
	"notifier/internal/sender/retry"
	pkgmetrics "notifier/pkg/metrics"
	"notifier/pkg/shared"
)

const serviceName = "notifier"

// run wires every component and blocks until ctx is cancelled and the
// dispatcher has drained.
func run(ctx context.Context, cfg config.Config) error {
	var (
		redisClient *redis.Client
		deliveries  dispatcher.Ledger = ledger.NoOp{}
	)
	if cfg.Redis.Addr != "" {
		slog.Info("Connecting to Redis", "addr", cfg.Redis.Addr)
		client, err := shared.ConnectRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password)
		if err != nil {
			slog.Info("Tip: Start Redis with 'docker compose up -d redis' or unset REDIS_ADDR")
			return err
		}
		defer client.Close()
		redisClient = client
		deliveries = ledger.NewRedis(client, cfg.Redis.LedgerTTL)
		slog.Info("Successfully connected to Redis, delivery ledger enabled", "ledger_ttl", cfg.Redis.LedgerTTL)
	} else {
		slog.Info("REDIS_ADDR not set, delivery ledger and metrics publishing disabled")
	}

	collector := pkgmetrics.NewCollector(serviceName, redisClient)
	collector.Start(ctx)
	defer collector.Stop()

	transport, err := bootstrap.MailTransport(ctx, cfg)
	if err != nil {
		return err
	}
	channels, err := bootstrap.Channels(cfg, transport)
	if err != nil {
		return err
	}
	coordinator := sender.NewSender(channels)
	slog.Info("Initialized notification sender coordinator", "channels", coordinator.Channels())

	// Requeues and releases go back to the alert topic.
	slog.Info("Connecting to Kafka producer", "topic", cfg.Queue.Topic)
	requeue, err := producer.NewProducer(cfg.Queue.Brokers, cfg.Queue.Topic)
	if err != nil {
		slog.Info("Tip: Start Kafka with 'docker compose up -d kafka'")
		return err
	}
	defer requeue.Close()

	sink, closeSink, err := bootstrap.DeadLetterSink(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeSink()

	slog.Info("Connecting to Kafka consumer", "topic", cfg.Queue.Topic, "group_id", cfg.Queue.GroupID)
	queue, err := consumer.NewConsumer(cfg.Queue.Brokers, cfg.Queue.Topic, cfg.Queue.GroupID, requeue)
	if err != nil {
		slog.Info("Tip: Start Kafka with 'docker compose up -d kafka'")
		return err
	}
	defer queue.Close()
	slog.Info("Successfully connected to Kafka consumer")

	dispatchCfg := dispatcher.DefaultConfig()
	dispatchCfg.Concurrency = cfg.Queue.Concurrency
	dispatchCfg.RetryLimit = cfg.Queue.RetryLimit
	dispatchCfg.DeliveryTimeout = cfg.Queue.DeliveryTimeout
	dispatchCfg.DrainTimeout = cfg.Queue.DrainTimeout
	dispatchCfg.Settle = retry.DefaultConfig()

	d := dispatcher.NewDispatcher(dispatchCfg, queue, coordinator,
		dispatcher.WithLedger(deliveries),
		dispatcher.WithSink(sink),
		dispatcher.WithMetrics(metrics.NewCollectorAdapter(collector)),
	)
	return d.Run(ctx)
}
