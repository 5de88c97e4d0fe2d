package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"notifier/internal/config"
	"notifier/pkg/shared"
)

func main() {
	envFile := flag.String("env-file", ".env", "Optional dotenv file read before the environment")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Set up structured logging
	logLevel, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		slog.Warn("Unknown log level, using info", "log_level", cfg.LogLevel)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	slog.Info("Starting notifier service",
		"queue_brokers", cfg.Queue.Brokers,
		"queue_topic", cfg.Queue.Topic,
		"queue_group_id", cfg.Queue.GroupID,
		"concurrency", cfg.Queue.Concurrency,
		"retry_limit", cfg.Queue.RetryLimit,
		"email_provider", cfg.Email.Provider,
		"email_fallback", cfg.Email.Fallback,
		"smtp_host", cfg.Smtp.Host,
		"smtp_port", cfg.Smtp.Port,
		"chat_enabled", cfg.Chat.Enabled(),
		"redis_addr", cfg.Redis.Addr,
		"dead_letter_topic", cfg.DeadLetter.Topic,
		"dead_letter_postgres_dsn", maskedDSN(cfg.DeadLetter.PostgresDSN),
	)

	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		slog.Info("Received shutdown signal, draining in-flight alerts...")
		cancel()
	}()

	if err := run(ctx, cfg); err != nil {
		slog.Error("Notifier service failed", "error", err)
		os.Exit(1)
	}

	slog.Info("Notifier service stopped")
}

func maskedDSN(dsn string) string {
	if dsn == "" {
		return ""
	}
	return shared.MaskDSN(dsn)
}
