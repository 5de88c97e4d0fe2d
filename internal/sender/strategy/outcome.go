package strategy

import (
	"context"
	"fmt"

	"notifier/internal/sender/retry"
)

// Outcome is the result of one delivery attempt to one recipient.
type Outcome struct {
	Recipient string
	Channel   string
	Succeeded bool
	Err       error
	// Permanent is set for failures that will not succeed on retry
	// (rejected or malformed address).
	Permanent bool
}

// Transient reports whether the outcome is a failure worth retrying.
func (o Outcome) Transient() bool {
	return !o.Succeeded && !o.Permanent
}

func (o Outcome) String() string {
	if o.Succeeded {
		return fmt.Sprintf("%s (%s): ok", o.Channel, o.Recipient)
	}
	return fmt.Sprintf("%s (%s): %v", o.Channel, o.Recipient, o.Err)
}

// Succeeded builds a successful outcome.
func Succeeded(channel, recipient string) Outcome {
	return Outcome{Recipient: recipient, Channel: channel, Succeeded: true}
}

// Failed builds a failed outcome, classifying err with retry.IsPermanent.
func Failed(channel, recipient string, err error) Outcome {
	return Outcome{
		Recipient: recipient,
		Channel:   channel,
		Err:       err,
		Permanent: retry.IsPermanent(err),
	}
}

// SendFunc delivers one message to one recipient.
type SendFunc func(ctx context.Context, recipient string) error

// FanOut calls send for each recipient sequentially, in order, converting
// every error into that recipient's outcome. Once ctx is done the remaining
// recipients are reported as failed without calling send.
func FanOut(ctx context.Context, channel string, recipients []string, send SendFunc) []Outcome {
	outcomes := make([]Outcome, 0, len(recipients))
	for _, recipient := range recipients {
		if err := ctx.Err(); err != nil {
			outcomes = append(outcomes, Failed(channel, recipient, err))
			continue
		}
		if err := safeSend(ctx, send, recipient); err != nil {
			outcomes = append(outcomes, Failed(channel, recipient, err))
			continue
		}
		outcomes = append(outcomes, Succeeded(channel, recipient))
	}
	return outcomes
}

// safeSend turns a panicking transport into an ordinary transient failure.
func safeSend(ctx context.Context, send SendFunc, recipient string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("send panicked: %v", r)
		}
	}()
	return send(ctx, recipient)
}
