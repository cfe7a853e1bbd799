// Package mailer delivers transactional email over SMTP.
package mailer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wneessen/go-mail"
)

// ErrNotConfigured is returned by Disabled for every send.
var ErrNotConfigured = errors.New("mailer: SMTP is not configured")

// Sender delivers the password-reset notification.
type Sender interface {
	SendPasswordReset(ctx context.Context, to, name, resetURL string) error
}

// Config holds the SMTP connection settings.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Timeout  time.Duration
}

// SMTP sends mail through a relay with go-mail.
type SMTP struct {
	cfg Config
}

func NewSMTP(cfg Config) *SMTP {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &SMTP{cfg: cfg}
}

var _ Sender = (*SMTP)(nil)

func (s *SMTP) SendPasswordReset(ctx context.Context, to, name, resetURL string) error {
	msg, err := s.resetMessage(to, name, resetURL)
	if err != nil {
		return err
	}

	opts := []mail.Option{
		mail.WithPort(s.cfg.Port),
		mail.WithTimeout(s.cfg.Timeout),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	}
	if s.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(s.cfg.Username),
			mail.WithPassword(s.cfg.Password),
		)
	}

	client, err := mail.NewClient(s.cfg.Host, opts...)
	if err != nil {
		return fmt.Errorf("mailer: creating SMTP client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("mailer: sending reset email: %w", err)
	}
	return nil
}

func (s *SMTP) resetMessage(to, name, resetURL string) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(s.cfg.From); err != nil {
		return nil, fmt.Errorf("mailer: invalid from address: %w", err)
	}
	if err := msg.To(to); err != nil {
		return nil, fmt.Errorf("mailer: invalid recipient: %w", err)
	}
	msg.Subject("Reset your password")
	msg.SetBodyString(mail.TypeTextPlain, resetBody(name, resetURL))
	return msg, nil
}

func resetBody(name, resetURL string) string {
	if name == "" {
		name = "there"
	}
	return fmt.Sprintf(`Hi %s,

We received a request to reset your password. Open the link below to choose a new one:

%s

The link expires in 15 minutes and can be used once. If you did not ask for a reset, ignore this email.
`, name, resetURL)
}

// Disabled is used when no SMTP host is configured. Reset requests fail
// rather than leave an undeliverable token behind.
type Disabled struct{}

func (Disabled) SendPasswordReset(context.Context, string, string, string) error {
	return ErrNotConfigured
}
