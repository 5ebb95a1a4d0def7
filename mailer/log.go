package mailer

import (
	"context"

	"github.com/karpithal/go-accounts"
)

// LogMailer writes mail to a logger instead of delivering it. Used in
// development when no SMTP relay is configured.
type LogMailer struct {
	Logger accounts.Logger
	// ShowBody includes the message body, which carries live tokens
	ShowBody bool
}

// Send implements accounts.Mailer
func (l *LogMailer) Send(_ context.Context, mail accounts.Mail) error {
	if l == nil || l.Logger == nil {
		return nil
	}
	args := []any{"kind", mail.Kind, "to", mail.To, "subject", mail.Subject}
	if l.ShowBody {
		args = append(args, "body", mail.Body)
	}
	l.Logger.Info("mail", args...)
	return nil
}

type discard struct{}

func (discard) Debug(string, ...any) {}
func (discard) Info(string, ...any)  {}
func (discard) Warn(string, ...any)  {}
func (discard) Error(string, ...any) {}

// New returns an SMTPMailer when cfg is complete and a LogMailer otherwise.
func New(cfg Config, logger accounts.Logger) (accounts.Mailer, error) {
	if !cfg.Enabled() {
		return &LogMailer{Logger: logger}, nil
	}
	return NewSMTPMailer(cfg, WithLogger(logger))
}
