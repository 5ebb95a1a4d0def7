package accounts

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"
)

func linkFor(base, token string) string {
	if base == "" {
		return token
	}
	if !strings.HasSuffix(base, "/") && !strings.HasSuffix(base, "=") {
		base += "/"
	}
	return base + url.PathEscape(token)
}

func (m *Manager) verificationMail(account *Account, token string) Mail {
	link := linkFor(m.opts.VerifyURL, token)
	return Mail{
		Kind:    MailVerifyEmail,
		To:      account.Email,
		Subject: "Verify your Karpithal account",
		Body: fmt.Sprintf(
			"Welcome to Karpithal!\n\nConfirm your email address by opening the link below:\n\n%s\n\nThe link expires in %s.\n",
			link, humanTTL(m.credentials.TTL(PurposeEmailVerify)),
		),
	}
}

func (m *Manager) resetMail(account *Account, token string) Mail {
	link := linkFor(m.opts.ResetURL, token)
	return Mail{
		Kind:    MailPasswordReset,
		To:      account.Email,
		Subject: "Reset your Karpithal password",
		Body: fmt.Sprintf(
			"We received a request to reset your password.\n\nChoose a new password here:\n\n%s\n\nThe link expires in %s. If you did not ask for this, ignore this email.\n",
			link, humanTTL(m.credentials.TTL(PurposePasswordReset)),
		),
	}
}

// dispatchMail sends after commit. Delivery failures never fail the caller.
func (m *Manager) dispatchMail(ctx context.Context, mail *Mail) {
	if mail == nil {
		return
	}
	if err := m.mailer.Send(ctx, *mail); err != nil {
		m.logger.Error("failed to send mail", "kind", mail.Kind, "to", mail.To, "error", err)
		return
	}
	m.logger.Debug("mail dispatched", "kind", mail.Kind, "to", mail.To)
}

func humanTTL(d time.Duration) string {
	h := d.Hours()
	if h >= 24 && int(h)%24 == 0 {
		days := int(h) / 24
		if days == 1 {
			return "1 day"
		}
		return fmt.Sprintf("%d days", days)
	}
	if h == 1 {
		return "1 hour"
	}
	return fmt.Sprintf("%g hours", h)
}
