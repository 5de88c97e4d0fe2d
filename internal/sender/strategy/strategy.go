// Package strategy defines the interface for alert delivery channels.
package strategy

import (
	"context"
	"sort"

	"notifier/internal/events"
)

// Channel is implemented by every delivery channel (email, chat).
type Channel interface {
	// Type returns the channel name, matching the recipient collection it serves
	// (events.ChannelEmail, events.ChannelChat).
	Type() string

	// Deliver sends ev to each recipient in order and returns exactly one
	// outcome per recipient. It never aborts the batch on a failed recipient.
	Deliver(ctx context.Context, ev *events.AlertEvent, recipients []string) []Outcome
}

// Registry manages delivery channels.
type Registry struct {
	channels map[string]Channel
}

// NewRegistry creates a new channel registry.
func NewRegistry() *Registry {
	return &Registry{
		channels: make(map[string]Channel),
	}
}

// Register registers a channel, replacing any channel of the same type.
func (r *Registry) Register(ch Channel) {
	r.channels[ch.Type()] = ch
}

// Get retrieves a channel by type.
func (r *Registry) Get(channelType string) (Channel, bool) {
	ch, ok := r.channels[channelType]
	return ch, ok
}

// List returns all registered channel types in sorted order.
func (r *Registry) List() []string {
	types := make([]string, 0, len(r.channels))
	for t := range r.channels {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
