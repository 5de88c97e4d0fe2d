// Package provider holds the mail transports (SMTP, SES, Resend) and a
// registry that chains them: the primary transport first, then the
// fallbacks in order.
package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"notifier/internal/sender/retry"
)

// Transport names.
const (
	ProviderSMTP   = "smtp"
	ProviderSES    = "ses"
	ProviderResend = "resend"
)

// ErrNoTransport is returned when no registered transport is configured.
var ErrNoTransport = errors.New("no configured email provider available")

// EmailRequest is one fully rendered message.
type EmailRequest struct {
	From    string
	To      []string
	Subject string
	Body    string // plain text
	HTML    string // optional
}

// Provider is a mail transport.
type Provider interface {
	// Name is the registry key, e.g. "smtp".
	Name() string
	Send(ctx context.Context, req *EmailRequest) error
	// IsConfigured reports whether Send can work at all.
	IsConfigured() bool
}

// Registry implements Provider over a chain of transports.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	primary   string
	fallback  []string
}

func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds p, replacing any transport with the same name.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	r.providers[p.Name()] = p
	r.mu.Unlock()
	slog.Info("Registered email provider", "name", p.Name(), "configured", p.IsConfigured())
}

func (r *Registry) SetPrimary(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.known(name); err != nil {
		return err
	}
	r.primary = name
	slog.Info("Set primary email provider", "name", name)
	return nil
}

func (r *Registry) SetFallback(names ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.known(names...); err != nil {
		return err
	}
	r.fallback = slices.Clone(names)
	slog.Info("Set fallback email providers", "order", names)
	return nil
}

// known must be called with r.mu held.
func (r *Registry) known(names ...string) error {
	for _, name := range names {
		if _, ok := r.providers[name]; !ok {
			return fmt.Errorf("provider %q not registered", name)
		}
	}
	return nil
}

func (r *Registry) Get(name string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	return p, ok
}

// chain returns the configured transports in the order they are tried.
func (r *Registry) chain() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := append([]string{r.primary}, r.fallback...)
	out := make([]Provider, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		p, ok := r.providers[name]
		if !ok || seen[name] || !p.IsConfigured() {
			continue
		}
		seen[name] = true
		out = append(out, p)
	}
	return out
}

// Active returns the transport that Send tries first.
func (r *Registry) Active() (Provider, error) {
	c := r.chain()
	if len(c) == 0 {
		return nil, ErrNoTransport
	}
	if c[0].Name() != r.primaryName() {
		slog.Warn("Primary email provider not configured, using fallback",
			"primary", r.primaryName(),
			"fallback", c[0].Name(),
		)
	}
	return c[0], nil
}

func (r *Registry) primaryName() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.primary
}

func (r *Registry) Name() string { return "registry" }

func (r *Registry) IsConfigured() bool { return len(r.chain()) > 0 }

// Send walks the chain until one transport accepts req. A permanent error
// ends the walk, since every transport would reject the address. If all
// transports fail transiently the first error is returned.
func (r *Registry) Send(ctx context.Context, req *EmailRequest) error {
	c := r.chain()
	if len(c) == 0 {
		return ErrNoTransport
	}

	var first, prev error
	for i, p := range c {
		if i > 0 {
			slog.Warn("Email provider failed, trying next",
				"failed", c[i-1].Name(),
				"next", p.Name(),
				"error", prev,
			)
		}

		prev = p.Send(ctx, req)
		if prev == nil || retry.IsPermanent(prev) {
			return prev
		}
		if first == nil {
			first = prev
		}
		if ctx.Err() != nil {
			break
		}
	}
	return first
}

// List returns the registered transport names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func checkRequest(req *EmailRequest) error {
	if len(req.To) == 0 {
		return retry.Permanent(errors.New("recipient is required"))
	}
	return nil
}

func logSent(provider, ref string, req *EmailRequest) {
	slog.Debug("Email submitted",
		"provider", provider,
		"ref", ref,
		"to", req.To,
		"subject", req.Subject,
	)
}

func logSendFailure(provider string, req *EmailRequest, err error) {
	slog.Error("Email provider send failed",
		"provider", provider,
		"to", req.To,
		"subject", req.Subject,
		"error", err,
	)
}
