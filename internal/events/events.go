// Package events defines the alert event consumed from the alerts topic.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Channel names used for recipient collections.
const (
	ChannelEmail = "email"
	ChannelChat  = "chat"
)

// Channels lists every channel an event can address, in dispatch order.
func Channels() []string {
	return []string{ChannelEmail, ChannelChat}
}

// ErrMalformed marks payloads that can never be dispatched, no matter how often they are retried.
var ErrMalformed = errors.New("malformed alert event")

// AlertEvent describes one availability transition of one monitored server.
// It is published by the monitoring scheduler and is never modified after decoding.
type AlertEvent struct {
	ServerID      uint32    `json:"serverId"`
	ServerHost    string    `json:"serverHost"`
	Protocol      string    `json:"protocol"`
	IsSuccess     bool      `json:"isSuccess"`
	ErrorMessage  string    `json:"errorMessage,omitempty"`
	StatusCode    int       `json:"statusCode,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
	Emails        []string  `json:"emails"`
	ChatUsernames []string  `json:"chatUsernames"`
}

// Decode parses a queue payload into an AlertEvent and validates it.
// Every returned error wraps ErrMalformed.
func Decode(data []byte) (*AlertEvent, error) {
	var ev AlertEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	ev.Timestamp = ev.Timestamp.UTC()
	return &ev, nil
}

// Validate checks the fields every dispatched event must carry.
func (e *AlertEvent) Validate() error {
	if e.ServerID == 0 {
		return fmt.Errorf("%w: serverId must be set", ErrMalformed)
	}
	if strings.TrimSpace(e.ServerHost) == "" {
		return fmt.Errorf("%w: serverHost must be set", ErrMalformed)
	}
	return nil
}

// Recipients returns a copy of the recipient collection for channel.
// Unknown channels have no recipients.
func (e *AlertEvent) Recipients(channel string) []string {
	var src []string
	switch channel {
	case ChannelEmail:
		src = e.Emails
	case ChannelChat:
		src = e.ChatUsernames
	}
	if len(src) == 0 {
		return nil
	}
	out := make([]string, len(src))
	copy(out, src)
	return out
}

// TotalRecipients returns the number of recipients across all channels.
func (e *AlertEvent) TotalRecipients() int {
	return len(e.Emails) + len(e.ChatUsernames)
}

// Transition returns "recovered" or "down".
func (e *AlertEvent) Transition() string {
	if e.IsSuccess {
		return "recovered"
	}
	return "down"
}

// Key identifies the transition this event describes. Redeliveries of the
// same event share a key.
func (e *AlertEvent) Key() string {
	return fmt.Sprintf("%d:%s:%d", e.ServerID, e.Transition(), e.Timestamp.UnixNano())
}
