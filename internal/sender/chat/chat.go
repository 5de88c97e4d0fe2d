// Package chat delivers alert notifications to chat usernames through a
// bot HTTP API (POST {apiURL}/bot{token}/sendMessage).
package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"notifier/internal/events"
	"notifier/internal/sender/payload"
	"notifier/internal/sender/retry"
	"notifier/internal/sender/strategy"
	"notifier/internal/sender/validation"
)

// DefaultAPIURL is the bot API base used when none is configured.
const DefaultAPIURL = "https://api.telegram.org"

// Config holds bot API settings.
type Config struct {
	Token   string
	APIURL  string
	Timeout time.Duration
}

// Sender implements the chat channel.
type Sender struct {
	token      string
	apiURL     string
	httpClient *http.Client
}

type sendMessageRequest struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// NewSender creates a chat sender.
func NewSender(cfg Config) (*Sender, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("chat bot token is required")
	}
	apiURL := cfg.APIURL
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	if !validation.IsValidURL(apiURL) {
		return nil, fmt.Errorf("invalid chat API URL: %q (must be a valid HTTP/HTTPS URL)", apiURL)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Sender{
		token:      cfg.Token,
		apiURL:     strings.TrimRight(apiURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// Type returns the channel this sender handles.
func (s *Sender) Type() string {
	return events.ChannelChat
}

// Deliver sends one message per username, in order.
func (s *Sender) Deliver(ctx context.Context, ev *events.AlertEvent, recipients []string) []strategy.Outcome {
	if len(recipients) == 0 {
		return []strategy.Outcome{}
	}

	text := payload.BuildChatText(ev)

	return strategy.FanOut(ctx, s.Type(), recipients, func(ctx context.Context, username string) error {
		if err := s.send(ctx, username, text); err != nil {
			slog.Error("Failed to send chat notification",
				"error", err,
				"username", username,
				"server_id", ev.ServerID,
			)
			return err
		}
		slog.Info("Successfully sent chat notification",
			"username", username,
			"server_id", ev.ServerID,
			"transition", ev.Transition(),
		)
		return nil
	})
}

// chatID normalises a username to the @name form the bot API expects.
func chatID(username string) string {
	return "@" + strings.TrimPrefix(strings.TrimSpace(username), "@")
}

func (s *Sender) endpoint() string {
	return fmt.Sprintf("%s/bot%s/sendMessage", s.apiURL, s.token)
}

func (s *Sender) send(ctx context.Context, username, text string) error {
	if !validation.IsValidChatUsername(strings.TrimSpace(username)) {
		return retry.Permanent(fmt.Errorf("invalid chat username %q", username))
	}

	body, err := json.Marshal(sendMessageRequest{ChatID: chatID(username), Text: text})
	if err != nil {
		return fmt.Errorf("failed to marshal chat payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		// The token is part of the URL; keep it out of the error text.
		return fmt.Errorf("failed to reach chat API at %s: %w", s.apiURL, unwrapURLError(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		io.Copy(io.Discard, resp.Body)
		return nil
	}

	var apiResp apiResponse
	_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&apiResp)
	statusErr := fmt.Errorf("chat API returned status %d: %s", resp.StatusCode, apiResp.Description)

	// 400 (chat not found) and 403 (bot blocked) concern this recipient;
	// 401 and 404 mean the token or API URL is wrong.
	switch resp.StatusCode {
	case http.StatusBadRequest, http.StatusForbidden:
		return retry.Permanent(statusErr)
	default:
		return statusErr
	}
}

// unwrapURLError drops the *url.Error wrapper, whose message embeds the full
// request URL.
func unwrapURLError(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return urlErr.Err
	}
	return err
}
