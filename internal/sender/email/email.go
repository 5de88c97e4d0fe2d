// Package email delivers alert notifications by email.
package email

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"notifier/internal/events"
	"notifier/internal/sender/email/provider"
	"notifier/internal/sender/payload"
	"notifier/internal/sender/retry"
	"notifier/internal/sender/strategy"
	"notifier/internal/sender/validation"
)

// Sender implements the email channel on top of a mail transport.
type Sender struct {
	from      string
	transport provider.Provider
}

// NewSender creates an email sender. from is the authenticated SMTP username,
// which is also the From address of every message.
func NewSender(from string, transport provider.Provider) *Sender {
	return &Sender{
		from:      from,
		transport: transport,
	}
}

// Type returns the channel this sender handles.
func (s *Sender) Type() string {
	return events.ChannelEmail
}

// SendAlert delivers ev to every address in ev.Emails.
func (s *Sender) SendAlert(ctx context.Context, ev *events.AlertEvent) []strategy.Outcome {
	return s.Deliver(ctx, ev, ev.Emails)
}

// Deliver renders ev once and submits one single-recipient message per
// address, in order. Invalid addresses fail permanently without reaching
// the transport.
func (s *Sender) Deliver(ctx context.Context, ev *events.AlertEvent, recipients []string) []strategy.Outcome {
	if len(recipients) == 0 {
		return []strategy.Outcome{}
	}

	p := payload.BuildEmailPayload(ev)

	return strategy.FanOut(ctx, s.Type(), recipients, func(ctx context.Context, recipient string) error {
		err := s.submit(ctx, recipient, p)
		if err != nil {
			slog.Error("Failed to send email",
				"error", err,
				"to", recipient,
				"server_id", ev.ServerID,
				"transition", ev.Transition(),
			)
			return err
		}

		slog.Info("Successfully sent email notification",
			"from", s.from,
			"to", recipient,
			"subject", p.Subject,
			"server_id", ev.ServerID,
			"transition", ev.Transition(),
		)
		return nil
	})
}

// SendStatusReport emails the periodic status report to every address in to.
// Each address is attempted; the returned error joins all failures.
func (s *Sender) SendStatusReport(ctx context.Context, to []string, report events.StatusReport) error {
	p := payload.BuildStatusReportPayload(report)

	var errs []error
	for _, recipient := range to {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := s.submit(ctx, recipient, p); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", recipient, err))
			continue
		}
		slog.Info("Sent status report",
			"to", recipient,
			"down_servers", report.DownServers,
		)
	}
	return errors.Join(errs...)
}

func (s *Sender) submit(ctx context.Context, recipient string, p payload.EmailPayload) error {
	if !validation.IsValidEmail(recipient) {
		return retry.Permanent(fmt.Errorf("invalid email address %q", recipient))
	}
	if s.transport == nil {
		return errors.New("no mail transport configured")
	}

	return s.transport.Send(ctx, &provider.EmailRequest{
		From:    s.from,
		To:      []string{recipient},
		Subject: p.Subject,
		Body:    p.Text,
		HTML:    p.HTML,
	})
}
