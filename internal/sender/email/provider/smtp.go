package provider

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"time"

	"notifier/internal/sender/retry"
)

// implicitTLSPort is the SMTPS port where TLS starts before the SMTP greeting.
const implicitTLSPort = 465

// SMTPConfig holds SMTP connection settings.
type SMTPConfig struct {
	Host      string
	Port      int
	Username  string
	Password  string
	EnableSSL bool
}

// SMTPProvider submits messages over SMTP, one connection per message.
type SMTPProvider struct {
	cfg    SMTPConfig
	dialer *net.Dialer
}

// NewSMTPProvider creates a new SMTP provider.
func NewSMTPProvider(cfg SMTPConfig) *SMTPProvider {
	return &SMTPProvider{
		cfg:    cfg,
		dialer: &net.Dialer{Timeout: 30 * time.Second},
	}
}

func (p *SMTPProvider) Name() string { return ProviderSMTP }

// IsConfigured returns true if a host and port are set.
func (p *SMTPProvider) IsConfigured() bool {
	return p.cfg.Host != "" && p.cfg.Port > 0
}

func (p *SMTPProvider) addr() string {
	return net.JoinHostPort(p.cfg.Host, strconv.Itoa(p.cfg.Port))
}

func (p *SMTPProvider) implicitTLS() bool {
	return p.cfg.EnableSSL && p.cfg.Port == implicitTLSPort
}

func (p *SMTPProvider) tlsConfig() *tls.Config {
	return &tls.Config{
		ServerName: p.cfg.Host,
		MinVersion: tls.VersionTLS12,
	}
}

// Send submits one message. The connection honours ctx: its deadline becomes
// the socket deadline and cancellation closes the socket.
func (p *SMTPProvider) Send(ctx context.Context, req *EmailRequest) error {
	if !p.IsConfigured() {
		return fmt.Errorf("SMTP provider not configured")
	}
	if err := checkRequest(req); err != nil {
		return err
	}

	msg, err := buildMessage(req, time.Now())
	if err != nil {
		return retry.Permanent(fmt.Errorf("failed to build message: %w", err))
	}

	err = p.send(ctx, req, msg)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("smtp send to %s interrupted: %w", p.addr(), ctxErr)
		}
		return err
	}

	logSent(p.Name(), p.addr(), req)
	return nil
}

func (p *SMTPProvider) send(ctx context.Context, req *EmailRequest, msg []byte) error {
	conn, err := p.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return fmt.Errorf("failed to set SMTP deadline: %w", err)
		}
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	client, err := smtp.NewClient(conn, p.cfg.Host)
	if err != nil {
		return fmt.Errorf("failed to create SMTP client: %w", err)
	}
	defer client.Close()

	if !p.implicitTLS() {
		ok, _ := client.Extension("STARTTLS")
		switch {
		case ok:
			if err := client.StartTLS(p.tlsConfig()); err != nil {
				return fmt.Errorf("failed to start TLS: %w", err)
			}
		case p.cfg.EnableSSL:
			return fmt.Errorf("SMTP server %s does not offer STARTTLS", p.addr())
		}
	}

	if p.cfg.Username != "" && p.cfg.Password != "" {
		slog.Debug("Authenticating with SMTP server", "user", p.cfg.Username, "host", p.cfg.Host)
		auth := smtp.PlainAuth("", p.cfg.Username, p.cfg.Password, p.cfg.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("SMTP authentication failed: %w", err)
		}
	}

	if err := client.Mail(req.From); err != nil {
		return fmt.Errorf("failed to set sender %s: %w", req.From, err)
	}
	for _, recipient := range req.To {
		if err := client.Rcpt(recipient); err != nil {
			return rcptError(recipient, err)
		}
	}

	writer, err := client.Data()
	if err != nil {
		return fmt.Errorf("failed to open data writer: %w", err)
	}
	if _, err := writer.Write(msg); err != nil {
		writer.Close()
		return fmt.Errorf("failed to write email data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close data writer: %w", err)
	}

	if err := client.Quit(); err != nil {
		slog.Warn("Error during SMTP QUIT", "error", err)
	}
	return nil
}

// rcptError marks a 5xx reply to RCPT TO as permanent: the server refused
// this address, not the session.
func rcptError(recipient string, err error) error {
	wrapped := fmt.Errorf("failed to set recipient %s: %w", recipient, err)
	var reply *textproto.Error
	if errors.As(err, &reply) && reply.Code >= 500 && reply.Code < 600 {
		return retry.Permanent(wrapped)
	}
	return wrapped
}

func (p *SMTPProvider) dial(ctx context.Context) (net.Conn, error) {
	if p.implicitTLS() {
		d := &tls.Dialer{NetDialer: p.dialer, Config: p.tlsConfig()}
		conn, err := d.DialContext(ctx, "tcp", p.addr())
		if err != nil {
			return nil, fmt.Errorf("failed to connect to SMTP server with TLS: %w", err)
		}
		return conn, nil
	}

	conn, err := p.dialer.DialContext(ctx, "tcp", p.addr())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	return conn, nil
}
