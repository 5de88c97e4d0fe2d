// Package config provides configuration parsing and validation for the notifier.
//
// Configuration is read from environment variables with
// github.com/caarlos0/env, after an optional .env file:
//   - SMTP_*: outbound mail server (the username is also the From address)
//   - QUEUE_*: Kafka alert topic and dispatcher limits
//   - EMAIL_PROVIDER, EMAIL_FALLBACK, AWS_REGION, RESEND_API_KEY: mail transports
//   - CHAT_*: chat bot API
//   - REDIS_*: delivery ledger and metrics
//   - DEAD_LETTER_*: dead-letter topic and table
package config

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"
)

// Mail transport names.
const (
	ProviderSMTP   = "smtp"
	ProviderSES    = "ses"
	ProviderResend = "resend"
)

// Config holds all configuration parameters for the notifier.
type Config struct {
	Smtp       SmtpSettings       `envPrefix:"SMTP_"`
	Queue      QueueSettings      `envPrefix:"QUEUE_"`
	Email      EmailSettings
	Chat       ChatSettings       `envPrefix:"CHAT_"`
	Redis      RedisSettings      `envPrefix:"REDIS_"`
	DeadLetter DeadLetterSettings `envPrefix:"DEAD_LETTER_"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// SmtpSettings configures the SMTP transport.
type SmtpSettings struct {
	Host      string `env:"HOST" envDefault:"localhost"`
	Port      int    `env:"PORT" envDefault:"587"`
	Username  string `env:"USERNAME"`
	Password  string `env:"PASSWORD"`
	EnableSSL bool   `env:"ENABLE_SSL" envDefault:"true"`
}

// QueueSettings configures the alert topic and the dispatcher.
type QueueSettings struct {
	Brokers         string        `env:"BROKERS" envDefault:"localhost:9092"`
	Topic           string        `env:"TOPIC" envDefault:"alerts"`
	GroupID         string        `env:"GROUP_ID" envDefault:"notifier"`
	Concurrency     int           `env:"CONCURRENCY" envDefault:"4"`
	RetryLimit      int           `env:"RETRY_LIMIT" envDefault:"5"`
	DeliveryTimeout time.Duration `env:"DELIVERY_TIMEOUT" envDefault:"60s"`
	DrainTimeout    time.Duration `env:"DRAIN_TIMEOUT" envDefault:"30s"`
}

// EmailSettings selects the mail transports.
type EmailSettings struct {
	Provider     string   `env:"EMAIL_PROVIDER" envDefault:"smtp"`
	Fallback     []string `env:"EMAIL_FALLBACK" envSeparator:","`
	AWSRegion    string   `env:"AWS_REGION" envDefault:"us-east-1"`
	ResendAPIKey string   `env:"RESEND_API_KEY"`
}

// Uses reports whether the named transport is the primary or a fallback.
func (e EmailSettings) Uses(name string) bool {
	return e.Provider == name || slices.Contains(e.Fallback, name)
}

// ChatSettings configures the chat channel. It is disabled without a token.
type ChatSettings struct {
	BotToken string        `env:"BOT_TOKEN"`
	APIURL   string        `env:"API_URL" envDefault:"https://api.telegram.org"`
	Timeout  time.Duration `env:"TIMEOUT" envDefault:"30s"`
}

// Enabled reports whether chat delivery is configured.
func (c ChatSettings) Enabled() bool {
	return c.BotToken != ""
}

// RedisSettings configures the delivery ledger and metrics store.
// Both are disabled when Addr is empty.
type RedisSettings struct {
	Addr      string        `env:"ADDR"`
	Password  string        `env:"PASSWORD"`
	LedgerTTL time.Duration `env:"LEDGER_TTL" envDefault:"24h"`
}

// DeadLetterSettings configures where dead letters go besides the log.
type DeadLetterSettings struct {
	Topic       string `env:"TOPIC"`
	PostgresDSN string `env:"POSTGRES_DSN"`
}

// Sanitize normalises values loaded from the environment.
func (c *Config) Sanitize() {
	c.Smtp.Host = strings.TrimSpace(c.Smtp.Host)
	c.Smtp.Username = strings.TrimSpace(c.Smtp.Username)
	c.Queue.Topic = strings.TrimSpace(c.Queue.Topic)
	c.Queue.GroupID = strings.TrimSpace(c.Queue.GroupID)
	c.Email.Provider = strings.ToLower(strings.TrimSpace(c.Email.Provider))

	fallback := c.Email.Fallback[:0]
	for _, name := range c.Email.Fallback {
		name = strings.ToLower(strings.TrimSpace(name))
		if name != "" && name != c.Email.Provider && !slices.Contains(fallback, name) {
			fallback = append(fallback, name)
		}
	}
	c.Email.Fallback = fallback

	c.Chat.BotToken = strings.TrimSpace(c.Chat.BotToken)
	c.Chat.APIURL = strings.TrimRight(strings.TrimSpace(c.Chat.APIURL), "/")
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
}

// Validate checks that all required configuration fields are set and have valid values.
// Returns the first problem found, nil otherwise.
func (c *Config) Validate() error {
	if c.Smtp.Username == "" {
		return fmt.Errorf("smtp-username cannot be empty (it is used as the From address)")
	}
	if c.Email.Uses(ProviderSMTP) {
		if c.Smtp.Host == "" {
			return fmt.Errorf("smtp-host cannot be empty")
		}
		if c.Smtp.Port < 1 || c.Smtp.Port > 65535 {
			return fmt.Errorf("smtp-port must be between 1 and 65535, got %d", c.Smtp.Port)
		}
	}

	if c.Queue.Brokers == "" {
		return fmt.Errorf("queue-brokers cannot be empty")
	}
	if c.Queue.Topic == "" {
		return fmt.Errorf("queue-topic cannot be empty")
	}
	if c.Queue.GroupID == "" {
		return fmt.Errorf("queue-group-id cannot be empty")
	}
	if c.Queue.Concurrency < 1 {
		return fmt.Errorf("queue-concurrency must be at least 1, got %d", c.Queue.Concurrency)
	}
	if c.Queue.RetryLimit < 1 {
		return fmt.Errorf("queue-retry-limit must be at least 1, got %d", c.Queue.RetryLimit)
	}
	if c.Queue.DeliveryTimeout <= 0 {
		return fmt.Errorf("queue-delivery-timeout must be positive")
	}
	if c.Queue.DrainTimeout <= 0 {
		return fmt.Errorf("queue-drain-timeout must be positive")
	}

	known := []string{ProviderSMTP, ProviderSES, ProviderResend}
	if !slices.Contains(known, c.Email.Provider) {
		return fmt.Errorf("email-provider must be one of %v, got %q", known, c.Email.Provider)
	}
	for _, name := range c.Email.Fallback {
		if !slices.Contains(known, name) {
			return fmt.Errorf("email-fallback must only contain %v, got %q", known, name)
		}
	}
	if c.Email.Uses(ProviderResend) && c.Email.ResendAPIKey == "" {
		return fmt.Errorf("resend-api-key cannot be empty when the resend provider is used")
	}

	if c.Chat.Enabled() {
		if !strings.HasPrefix(c.Chat.APIURL, "http://") && !strings.HasPrefix(c.Chat.APIURL, "https://") {
			return fmt.Errorf("chat-api-url must be an http(s) URL, got %q", c.Chat.APIURL)
		}
		if c.Chat.Timeout <= 0 {
			return fmt.Errorf("chat-timeout must be positive")
		}
	}

	if c.Redis.Addr != "" && c.Redis.LedgerTTL <= 0 {
		return fmt.Errorf("redis-ledger-ttl must be positive")
	}

	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// ParseLogLevel maps LOG_LEVEL to a slog level.
func ParseLogLevel(level string) (slog.Level, error) {
	switch level {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("log-level must be one of debug, info, warn, error, got %q", level)
	}
}
