// Package sender coordinates delivery of one alert event across channels.
// Channels are looked up in a strategy registry, so adding a channel needs
// no change here.
package sender

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"notifier/internal/events"
	"notifier/internal/sender/strategy"
)

// Filter reports whether recipient on channel still needs the event.
// A nil Filter keeps every recipient.
type Filter func(channel, recipient string) bool

// Report collects the outcomes of one dispatch.
type Report struct {
	ID       uuid.UUID
	EventKey string
	// Outcomes holds one entry per attempted recipient, grouped by channel
	// in dispatch order and in declaration order within a channel.
	Outcomes []strategy.Outcome
	// Skipped lists recipients of channels that have no registered sender.
	Skipped map[string][]string
	// AlreadyDelivered counts recipients removed by the filter.
	AlreadyDelivered int
	// ChannelErr is the first channel-level failure (a panic or a malformed
	// result); its recipients are reported as transient failures.
	ChannelErr error
}

func (r *Report) filter(keep func(strategy.Outcome) bool) []strategy.Outcome {
	var out []strategy.Outcome
	for _, o := range r.Outcomes {
		if keep(o) {
			out = append(out, o)
		}
	}
	return out
}

// Succeeded returns the successful outcomes.
func (r *Report) Succeeded() []strategy.Outcome {
	return r.filter(func(o strategy.Outcome) bool { return o.Succeeded })
}

// Failed returns every failed outcome.
func (r *Report) Failed() []strategy.Outcome {
	return r.filter(func(o strategy.Outcome) bool { return !o.Succeeded })
}

// Transient returns failures worth retrying.
func (r *Report) Transient() []strategy.Outcome {
	return r.filter(strategy.Outcome.Transient)
}

// Permanent returns failures that will not succeed on retry.
func (r *Report) Permanent() []strategy.Outcome {
	return r.filter(func(o strategy.Outcome) bool { return !o.Succeeded && o.Permanent })
}

// Sender coordinates notification sending across multiple channels.
type Sender struct {
	registry *strategy.Registry
}

// NewSender creates a sender coordinator over the given registry.
func NewSender(registry *strategy.Registry) *Sender {
	if registry == nil {
		registry = strategy.NewRegistry()
	}
	return &Sender{registry: registry}
}

// Channels returns the registered channel types.
func (s *Sender) Channels() []string {
	return s.registry.List()
}

// Dispatch delivers ev on every channel that has recipients. Channels run
// concurrently; recipients within a channel are sent sequentially.
func (s *Sender) Dispatch(ctx context.Context, ev *events.AlertEvent, filter Filter) *Report {
	report := &Report{
		ID:       uuid.New(),
		EventKey: ev.Key(),
		Skipped:  make(map[string][]string),
	}

	type job struct {
		channel    strategy.Channel
		recipients []string
	}
	var jobs []job

	for _, channelType := range events.Channels() {
		recipients := ev.Recipients(channelType)
		if len(recipients) == 0 {
			continue
		}

		ch, ok := s.registry.Get(channelType)
		if !ok {
			slog.Warn("No sender registered for channel, skipping recipients",
				"channel", channelType,
				"recipients", len(recipients),
				"server_id", ev.ServerID,
			)
			report.Skipped[channelType] = recipients
			continue
		}

		pending := recipients[:0]
		for _, r := range recipients {
			if filter != nil && !filter(channelType, r) {
				report.AlreadyDelivered++
				continue
			}
			pending = append(pending, r)
		}
		if len(pending) > 0 {
			jobs = append(jobs, job{channel: ch, recipients: pending})
		}
	}

	results := make([][]strategy.Outcome, len(jobs))
	var g errgroup.Group
	for i, j := range jobs {
		i, j := i, j
		g.Go(func() error {
			var err error
			results[i], err = deliver(ctx, j.channel, ev, j.recipients)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		report.ChannelErr = err
		slog.Error("Channel delivery failed",
			"dispatch_id", report.ID,
			"server_id", ev.ServerID,
			"error", err,
		)
	}

	for _, r := range results {
		report.Outcomes = append(report.Outcomes, r...)
	}

	if failed := len(report.Failed()); failed > 0 {
		slog.Warn("Some sends failed",
			"dispatch_id", report.ID,
			"server_id", ev.ServerID,
			"successful", len(report.Succeeded()),
			"failed", failed,
		)
	}
	return report
}

// deliver runs one channel and guarantees one outcome per recipient even if
// the channel misbehaves, in which case the misbehaviour is also returned.
func deliver(ctx context.Context, ch strategy.Channel, ev *events.AlertEvent, recipients []string) (outcomes []strategy.Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s channel panicked: %v", ch.Type(), r)
			outcomes = failAll(ch.Type(), recipients, err)
		}
	}()

	outcomes = ch.Deliver(ctx, ev, recipients)
	if len(outcomes) != len(recipients) {
		err = fmt.Errorf("%s channel returned %d outcomes for %d recipients", ch.Type(), len(outcomes), len(recipients))
		return failAll(ch.Type(), recipients, err), err
	}
	return outcomes, nil
}

func failAll(channel string, recipients []string, err error) []strategy.Outcome {
	out := make([]strategy.Outcome, 0, len(recipients))
	for _, r := range recipients {
		out = append(out, strategy.Failed(channel, r, err))
	}
	return out
}
