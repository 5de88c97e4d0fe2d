package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/resend/resend-go/v2"
)

type resendAPI interface {
	SendWithContext(ctx context.Context, params *resend.SendEmailRequest) (*resend.SendEmailResponse, error)
}

// ResendProvider sends through the Resend HTTP API.
type ResendProvider struct {
	emails resendAPI
}

// NewResendProvider returns an unconfigured provider when apiKey is empty.
func NewResendProvider(apiKey string) *ResendProvider {
	if apiKey == "" {
		slog.Warn("RESEND_API_KEY not set, Resend provider will be unavailable")
		return &ResendProvider{}
	}
	slog.Info("Resend email provider initialized")
	return &ResendProvider{emails: resend.NewClient(apiKey).Emails}
}

func (p *ResendProvider) Name() string       { return ProviderResend }
func (p *ResendProvider) IsConfigured() bool { return p.emails != nil }

func (p *ResendProvider) Send(ctx context.Context, req *EmailRequest) error {
	if p.emails == nil {
		return errors.New("Resend client not initialized")
	}
	if err := checkRequest(req); err != nil {
		return err
	}

	resp, err := p.emails.SendWithContext(ctx, &resend.SendEmailRequest{
		From:    req.From,
		To:      req.To,
		Subject: req.Subject,
		Html:    req.HTML,
		Text:    req.Body,
	})
	if err != nil {
		logSendFailure(p.Name(), req, err)
		return fmt.Errorf("Resend send failed: %w", err)
	}

	logSent(p.Name(), resp.Id, req)
	return nil
}
