package accounts

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Logger is satisfied by glog.Logger and slog style loggers: a message
// followed by key/value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Store is the transactional persistence collaborator. All *Tx methods
// run against the given bun.IDB so callers can compose them inside RunInTx.
type Store interface {
	RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error

	CreateAccountTx(ctx context.Context, tx bun.IDB, account *Account) (*Account, error)
	GetAccountByIDTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*Account, error)
	GetAccountByEmailTx(ctx context.Context, tx bun.IDB, email string) (*Account, error)
	GetAccountByOAuthIdentityTx(ctx context.Context, tx bun.IDB, provider, subject string) (*Account, error)
	// UpdateAccountTx persists account when the stored version equals
	// account.Version and bumps it, ErrStaleWrite otherwise.
	UpdateAccountTx(ctx context.Context, tx bun.IDB, account *Account) (*Account, error)

	GetProfileTx(ctx context.Context, tx bun.IDB, accountID uuid.UUID) (*Profile, error)
	CreateProfileTx(ctx context.Context, tx bun.IDB, profile *Profile) (*Profile, error)
	UpdateProfileTx(ctx context.Context, tx bun.IDB, profile *Profile) (*Profile, error)

	CreateTokenTx(ctx context.Context, tx bun.IDB, token *OneTimeToken) (*OneTimeToken, error)
	GetTokenTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*OneTimeToken, error)
	// ConsumeTokenTx marks the token consumed if it was not, ErrTokenUsed otherwise.
	ConsumeTokenTx(ctx context.Context, tx bun.IDB, id uuid.UUID, at time.Time) error
	DeleteExpiredTokens(ctx context.Context, before time.Time) (int64, error)
}

// MailKind tags outgoing mail for sinks and templates
type MailKind string

const (
	MailVerifyEmail   MailKind = "verify_email"
	MailPasswordReset MailKind = "password_reset"
)

// Mail is a plain text message handed over to a Mailer
type Mail struct {
	Kind    MailKind
	To      string
	Subject string
	Body    string
}

// Mailer delivers mail. Delivery is fire-and-forget for the lifecycle: errors
// are logged and never fail the operation that triggered them.
type Mailer interface {
	Send(ctx context.Context, mail Mail) error
}

// MailerFunc adapts a function to the Mailer interface
type MailerFunc func(ctx context.Context, mail Mail) error

// Send implements Mailer
func (f MailerFunc) Send(ctx context.Context, mail Mail) error {
	if f == nil {
		return nil
	}
	return f(ctx, mail)
}

type noopMailer struct{}

func (noopMailer) Send(context.Context, Mail) error { return nil }

type defLogger struct{}

func (d defLogger) Error(msg string, args ...any) {
	fmt.Print("[ERR] ACCOUNTS " + line(msg, args...))
}

func (d defLogger) Warn(msg string, args ...any) {
	fmt.Print("[WRN] ACCOUNTS " + line(msg, args...))
}

func (d defLogger) Info(msg string, args ...any) {
	fmt.Print("[INF] ACCOUNTS " + line(msg, args...))
}

func (d defLogger) Debug(msg string, args ...any) {
	fmt.Print("[DBG] ACCOUNTS " + line(msg, args...))
}

func line(msg string, args ...any) string {
	var b strings.Builder
	b.WriteString(msg)
	for i := 0; i < len(args); i += 2 {
		if i+1 < len(args) {
			fmt.Fprintf(&b, " %v=%v", args[i], args[i+1])
		} else {
			fmt.Fprintf(&b, " %v", args[i])
		}
	}
	b.WriteByte('\n')
	return b.String()
}
