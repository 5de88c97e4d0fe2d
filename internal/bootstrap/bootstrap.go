// Package bootstrap builds the notifier's components from configuration.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"notifier/internal/config"
	"notifier/internal/database"
	"notifier/internal/deadletter"
	"notifier/internal/producer"
	"notifier/internal/sender/chat"
	"notifier/internal/sender/email"
	"notifier/internal/sender/email/provider"
	"notifier/internal/sender/strategy"
	"notifier/pkg/shared"
)

// MailTransport registers the configured mail providers behind a
// registry that fails over from the primary to the fallbacks in order.
func MailTransport(ctx context.Context, cfg config.Config) (*provider.Registry, error) {
	registry := provider.NewRegistry()

	if cfg.Email.Uses(config.ProviderSMTP) {
		registry.Register(provider.NewSMTPProvider(provider.SMTPConfig{
			Host:      cfg.Smtp.Host,
			Port:      cfg.Smtp.Port,
			Username:  cfg.Smtp.Username,
			Password:  cfg.Smtp.Password,
			EnableSSL: cfg.Smtp.EnableSSL,
		}))
	}
	if cfg.Email.Uses(config.ProviderSES) {
		registry.Register(provider.NewSESProvider(ctx, cfg.Email.AWSRegion))
	}
	if cfg.Email.Uses(config.ProviderResend) {
		registry.Register(provider.NewResendProvider(cfg.Email.ResendAPIKey))
	}

	if err := registry.SetPrimary(cfg.Email.Provider); err != nil {
		return nil, fmt.Errorf("failed to set primary email provider: %w", err)
	}
	if len(cfg.Email.Fallback) > 0 {
		if err := registry.SetFallback(cfg.Email.Fallback...); err != nil {
			return nil, fmt.Errorf("failed to set fallback email providers: %w", err)
		}
	}
	if !registry.IsConfigured() {
		return nil, fmt.Errorf("no configured email provider available (primary %q)", cfg.Email.Provider)
	}
	return registry, nil
}

// Channels registers the email channel and, when a bot token is set,
// the chat channel.
func Channels(cfg config.Config, transport provider.Provider) (*strategy.Registry, error) {
	channels := strategy.NewRegistry()
	channels.Register(email.NewSender(cfg.Smtp.Username, transport))

	if !cfg.Chat.Enabled() {
		slog.Info("CHAT_BOT_TOKEN not set, chat recipients will be skipped")
		return channels, nil
	}

	chatSender, err := chat.NewSender(chat.Config{
		Token:   cfg.Chat.BotToken,
		APIURL:  cfg.Chat.APIURL,
		Timeout: cfg.Chat.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create chat sender: %w", err)
	}
	channels.Register(chatSender)
	return channels, nil
}

// DeadLetterSink always logs dead letters and additionally writes them
// to the dead-letter topic and table when configured.
func DeadLetterSink(ctx context.Context, cfg config.Config) (deadletter.Sink, func(), error) {
	sinks := deadletter.Multi{deadletter.LogSink{}}
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.DeadLetter.Topic != "" {
		p, err := producer.NewProducer(cfg.Queue.Brokers, cfg.DeadLetter.Topic)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create dead-letter producer: %w", err)
		}
		closers = append(closers, func() { _ = p.Close() })
		sinks = append(sinks, deadletter.NewTopicSink(p))
	}

	if cfg.DeadLetter.PostgresDSN != "" {
		slog.Info("Connecting to PostgreSQL database", "dsn", shared.MaskDSN(cfg.DeadLetter.PostgresDSN))
		db, err := database.NewDB(cfg.DeadLetter.PostgresDSN)
		if err != nil {
			closeAll()
			slog.Info("Tip: Start Postgres with 'docker compose up -d postgres' or unset DEAD_LETTER_POSTGRES_DSN")
			return nil, nil, err
		}
		closers = append(closers, func() { _ = db.Close() })
		if err := db.EnsureSchema(ctx); err != nil {
			closeAll()
			return nil, nil, err
		}
		sinks = append(sinks, deadletter.NewStoreSink(db))
		slog.Info("Successfully connected to PostgreSQL database")
	}

	slog.Info("Dead-letter sinks configured", "count", len(sinks))
	return sinks, closeAll, nil
}
