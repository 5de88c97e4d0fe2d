package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"notifier/internal/sender/retry"
)

const defaultSESRegion = "us-east-1"

type sesAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESProvider sends through Amazon SES v2.
type SESProvider struct {
	client sesAPI
	region string
}

// NewSESProvider loads credentials from the default AWS chain. If that fails
// the provider is returned unconfigured so the registry can skip it.
func NewSESProvider(ctx context.Context, region string) *SESProvider {
	if region == "" {
		region = defaultSESRegion
	}
	p := &SESProvider{region: region}

	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		slog.Warn("Failed to load AWS config, SES provider will be unavailable", "region", region, "error", err)
		return p
	}
	p.client = sesv2.NewFromConfig(awsCfg)
	slog.Info("SES email provider initialized", "region", region)
	return p
}

func (p *SESProvider) Name() string       { return ProviderSES }
func (p *SESProvider) IsConfigured() bool { return p.client != nil }

func (p *SESProvider) Send(ctx context.Context, req *EmailRequest) error {
	if p.client == nil {
		return errors.New("SES client not initialized")
	}
	if err := checkRequest(req); err != nil {
		return err
	}

	out, err := p.client.SendEmail(ctx, sesInput(req))
	if err != nil {
		logSendFailure(p.Name(), req, err)
		return classifySESError(err)
	}

	logSent(p.Name(), aws.ToString(out.MessageId), req)
	return nil
}

func sesInput(req *EmailRequest) *sesv2.SendEmailInput {
	body := &types.Body{}
	if req.HTML != "" {
		body.Html = &types.Content{Data: aws.String(req.HTML), Charset: aws.String("UTF-8")}
	}
	if req.Body != "" {
		body.Text = &types.Content{Data: aws.String(req.Body), Charset: aws.String("UTF-8")}
	}
	return &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(req.From),
		Destination:      &types.Destination{ToAddresses: req.To},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(req.Subject), Charset: aws.String("UTF-8")},
				Body:    body,
			},
		},
	}
}

// classifySESError marks a rejected message as permanent. Account and sender
// configuration errors, throttling and service errors stay transient so the
// next transport in the chain gets a chance.
func classifySESError(err error) error {
	wrapped := fmt.Errorf("SES send failed: %w", err)

	var rejected *types.MessageRejected
	if errors.As(err, &rejected) {
		return retry.Permanent(wrapped)
	}
	return wrapped
}
