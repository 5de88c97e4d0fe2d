// Package retry classifies delivery failures and retries transient ones with
// exponential backoff.
package retry

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"math/rand"
	"net/textproto"
	"strings"
	"time"
)

// Class is the retry classification of an error.
type Class int

const (
	// Unknown errors are neither retried nor treated as permanent.
	Unknown Class = iota
	// Transient errors may succeed on a later attempt.
	Transient
	// Fatal errors will fail the same way every time.
	Fatal
)

func (c Class) String() string {
	switch c {
	case Transient:
		return "transient"
	case Fatal:
		return "permanent"
	default:
		return "unknown"
	}
}

// Config defines retry behavior.
type Config struct {
	MaxRetries     int           // retries after the first call; 0 disables retrying
	InitialBackoff time.Duration // wait before the first retry
	MaxBackoff     time.Duration // cap on a single wait
	BackoffFactor  float64       // growth per retry
}

// DefaultConfig is used for short, in-process retries such as queue settlement.
func DefaultConfig() Config {
	return Config{
		MaxRetries:     3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		BackoffFactor:  2.0,
	}
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as Fatal regardless of its text.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Substrings of lower-cased error text, checked in order. Only
// recipient-scoped rejections are Fatal; anything about the transport itself
// (authentication, TLS, a server-wide refusal) must stay retryable.
var textMarkers = []struct {
	marker string
	class  Class
}{
	{"email address is empty", Fatal}, // missing field
	{"recipient is required", Fatal},  // missing field
	{"mailbox unavailable", Fatal},    // SMTP 550 text
	{"user unknown", Fatal},           // SMTP 550 text
	{"timeout", Transient},
	{"connection refused", Transient},
	{"connection reset", Transient},
	{"temporary", Transient},
	{"rate limit", Transient},
	{"throttl", Transient},
	{"too many requests", Transient},
	{"try again", Transient},
	{"502", Transient},
	{"503", Transient},
	{"504", Transient},
}

// Classify decides how err should be treated by a retrying caller.
// Cancellation is Unknown so it is never retried nor reported as a
// recipient rejection; an expired deadline is Transient. An SMTP reply is
// Transient whatever its code: transports mark recipient rejections with
// Permanent themselves, since only they know which command was refused.
func Classify(err error) Class {
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return Unknown
	case errors.Is(err, context.DeadlineExceeded):
		return Transient
	}

	var pe *permanentError
	if errors.As(err, &pe) {
		return Fatal
	}

	var reply *textproto.Error
	if errors.As(err, &reply) {
		return Transient
	}

	text := strings.ToLower(err.Error())
	for _, m := range textMarkers {
		if strings.Contains(text, m.marker) {
			return m.class
		}
	}
	return Unknown
}

// IsPermanent reports whether err will not go away on retry.
func IsPermanent(err error) bool { return Classify(err) == Fatal }

// IsRetryable reports whether err is worth another attempt.
func IsRetryable(err error) bool { return Classify(err) == Transient }

// WithRetry calls fn until it succeeds, returns a non-transient error, or
// cfg.MaxRetries retries are used up. The last error is returned.
func WithRetry(ctx context.Context, cfg Config, operation string, fn func() error) error {
	attempts := cfg.MaxRetries + 1
	for i := 0; ; i++ {
		err := fn()
		if err == nil {
			if i > 0 {
				slog.Info("Operation succeeded after retry", "operation", operation, "attempt", i+1)
			}
			return nil
		}

		class := Classify(err)
		if class != Transient || i+1 >= attempts {
			slog.Warn("Operation failed",
				"operation", operation,
				"attempts", i+1,
				"class", class.String(),
				"error", err,
			)
			return err
		}

		wait := Backoff(cfg, i)
		slog.Debug("Retrying operation",
			"operation", operation,
			"attempt", i+1,
			"max_attempts", attempts,
			"backoff", wait,
			"error", err,
		)
		if sleepErr := Sleep(ctx, wait); sleepErr != nil {
			return sleepErr
		}
	}
}

// Backoff returns the wait before retry n (0-based): InitialBackoff grown by
// BackoffFactor per retry, capped at MaxBackoff, with up to 25% jitter either way.
func Backoff(cfg Config, n int) time.Duration {
	n = max(n, 0)
	d := math.Min(
		float64(cfg.InitialBackoff)*math.Pow(cfg.BackoffFactor, float64(n)),
		float64(cfg.MaxBackoff),
	)
	d *= 1 + 0.25*(2*rand.Float64()-1)
	return time.Duration(d)
}

// Sleep waits for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
