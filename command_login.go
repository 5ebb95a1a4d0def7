package accounts

import (
	"context"
	"errors"
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// LoginMessage authenticates with email and password
type LoginMessage struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (e LoginMessage) Type() string { return "account.login" }

// Validate will validate the payload
func (e LoginMessage) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.Email, validation.Required),
		validation.Field(&e.Password, validation.Required),
	)
}

// LoginResult carries the authenticated account and its token pair
type LoginResult struct {
	Account *Account   `json:"user"`
	Tokens  *TokenPair `json:"tokens"`
}

// Login verifies the password credential of an active account. Unknown
// emails and wrong passwords both fail with ErrMismatchedHashAndPassword.
func (m *Manager) Login(ctx context.Context, msg LoginMessage) (*LoginResult, error) {
	ctx, cancel, err := m.guard(ctx, "login")
	if err != nil {
		return nil, err
	}
	defer cancel()

	if err := validate(msg); err != nil {
		return nil, err
	}

	var account *Account
	err = m.store.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		found, err := m.store.GetAccountByEmailTx(ctx, tx, NormalizeEmail(msg.Email))
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				// keep timing close to a real comparison
				_ = m.credentials.VerifyPassword(msg.Password, m.dummyHash)
				return ErrMismatchedHashAndPassword
			}
			return err
		}
		if err := m.credentials.VerifyPassword(msg.Password, found.PasswordHash); err != nil {
			if errors.Is(err, ErrMismatchedHashAndPassword) {
				account = found
				return ErrMismatchedHashAndPassword
			}
			return internalError(err, "failed to verify password")
		}
		account = found
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrMismatchedHashAndPassword) {
			m.recordLoginFailure(ctx, account, "invalid_credentials")
			return nil, ErrMismatchedHashAndPassword
		}
		return nil, m.boundary(err, "failed to login")
	}

	if !account.IsActive() {
		m.recordLoginFailure(ctx, account, string(account.Status()))
		return nil, fmt.Errorf("%w: %s", ErrAccountInactive, account.Status())
	}

	if NeedsRehash(m.hasher, account.PasswordHash) {
		m.rehash(ctx, account.ID, msg.Password)
	}

	if account, err = m.completeLogin(ctx, account.ID, "password"); err != nil {
		return nil, err
	}

	tokens, err := m.sessions.Generate(account)
	if err != nil {
		return nil, err
	}

	return &LoginResult{Account: account, Tokens: tokens}, nil
}

// completeLogin rejects inactive accounts and stamps LastLoginAt
func (m *Manager) completeLogin(ctx context.Context, id uuid.UUID, method string) (*Account, error) {
	var account *Account
	err := m.retryStale(ctx, func() error {
		return m.store.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
			current, err := m.store.GetAccountByIDTx(ctx, tx, id)
			if err != nil {
				return err
			}
			if !current.IsActive() {
				account = current
				return fmt.Errorf("%w: %s", ErrAccountInactive, current.Status())
			}
			now := m.now()
			current.LastLoginAt = &now
			account, err = m.saveAccountTx(ctx, tx, current)
			return err
		})
	})
	if err != nil {
		if errors.Is(err, ErrAccountInactive) {
			m.recordLoginFailure(ctx, account, string(account.Status()))
			return nil, err
		}
		return nil, m.boundary(err, "failed to record login")
	}

	m.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventLoginSuccess,
		Actor:     ActorOf(account),
		AccountID: account.ID.String(),
		Metadata:  map[string]any{"method": method},
	})
	return account, nil
}

// rehash upgrades a hash produced by a previous algorithm, best-effort
func (m *Manager) rehash(ctx context.Context, id uuid.UUID, password string) {
	hash, err := m.credentials.HashPassword(password)
	if err != nil {
		m.logger.Warn("password rehash failed", "account", id, "error", err)
		return
	}
	err = m.store.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		current, err := m.store.GetAccountByIDTx(ctx, tx, id)
		if err != nil {
			return err
		}
		current.PasswordHash = hash
		_, err = m.saveAccountTx(ctx, tx, current)
		return err
	})
	if err != nil {
		m.logger.Warn("password rehash failed", "account", id, "error", err)
	}
}

func (m *Manager) recordLoginFailure(ctx context.Context, account *Account, reason string) {
	event := ActivityEvent{
		EventType: ActivityEventLoginFailure,
		Actor:     SystemActor,
		Metadata:  map[string]any{"reason": reason},
	}
	if account != nil {
		event.Actor = ActorOf(account)
		event.AccountID = account.ID.String()
		event.FromStatus = account.Status()
	}
	m.recordActivity(ctx, event)
}
