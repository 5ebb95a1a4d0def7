package mailer

import (
	"context"
	"fmt"
	"strings"

	"github.com/karpithal/go-accounts"
	"gopkg.in/gomail.v2"
)

// Config holds SMTP settings
type Config struct {
	Host     string `env:"SMTP_HOST"`
	Port     int    `env:"SMTP_PORT" envDefault:"587"`
	Username string `env:"SMTP_USER"`
	Password string `env:"SMTP_PASS"`
	From     string `env:"MAIL_FROM" envDefault:"no-reply@karpithal.app"`
}

// Enabled reports whether enough settings are present to dial out
func (c Config) Enabled() bool {
	return strings.TrimSpace(c.Host) != "" && strings.TrimSpace(c.From) != ""
}

// Sender is the part of gomail.Dialer the mailer needs
type Sender interface {
	DialAndSend(m ...*gomail.Message) error
}

// SMTPMailer delivers account mail through an SMTP relay.
type SMTPMailer struct {
	from   string
	sender Sender
	logger accounts.Logger
}

// Option configures an SMTPMailer
type Option func(*SMTPMailer)

// WithSender replaces the gomail dialer
func WithSender(sender Sender) Option {
	return func(m *SMTPMailer) {
		if sender != nil {
			m.sender = sender
		}
	}
}

// WithLogger sets the logger used for delivery reports
func WithLogger(logger accounts.Logger) Option {
	return func(m *SMTPMailer) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewSMTPMailer builds a mailer dialing cfg.Host for every message.
func NewSMTPMailer(cfg Config, opts ...Option) (*SMTPMailer, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("smtp mailer: host and from address are required")
	}

	m := &SMTPMailer{
		from:   cfg.From,
		sender: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		logger: discard{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m, nil
}

// Send implements accounts.Mailer
func (m *SMTPMailer) Send(ctx context.Context, mail accounts.Mail) error {
	if strings.TrimSpace(mail.To) == "" {
		return fmt.Errorf("send %s mail: empty recipient", mail.Kind)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", mail.To)
	msg.SetHeader("Subject", mail.Subject)
	msg.SetHeader("X-Karpithal-Mail", string(mail.Kind))
	msg.SetBody("text/plain", mail.Body)

	if err := m.sender.DialAndSend(msg); err != nil {
		return fmt.Errorf("send %s mail: %w", mail.Kind, err)
	}

	m.logger.Info("mail sent", "kind", mail.Kind, "to", mail.To)
	return nil
}
