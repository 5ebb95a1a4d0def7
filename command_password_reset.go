package accounts

import (
	"context"
	"errors"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/uptrace/bun"
)

// MessageResetRequested is returned whether or not the email exists
const MessageResetRequested = "If the email exists, a reset link has been sent."

// RequestPasswordResetMessage starts a password reset
type RequestPasswordResetMessage struct {
	Email string `json:"email"`
}

func (e RequestPasswordResetMessage) Type() string { return "account.password.reset_request" }

// Validate will validate the payload
func (e RequestPasswordResetMessage) Validate() error {
	return validateEmail(e.Email)
}

// RequestPasswordReset issues a reset token when the email belongs to an
// account with a usable password that is not suspended. The caller always
// gets MessageResetRequested.
func (m *Manager) RequestPasswordReset(ctx context.Context, msg RequestPasswordResetMessage) (string, error) {
	ctx, cancel, err := m.guard(ctx, "password reset request")
	if err != nil {
		return "", err
	}
	defer cancel()

	if err := validate(msg); err != nil {
		return "", err
	}

	var (
		mail    *Mail
		account *Account
	)

	err = m.store.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		found, err := m.store.GetAccountByEmailTx(ctx, tx, NormalizeEmail(msg.Email))
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil
			}
			return err
		}

		if !found.HasUsablePassword() || found.SuspendedAt != nil {
			m.logger.Debug("password reset skipped", "account", found.ID, "status", found.Status())
			return nil
		}

		token, _, err := m.credentials.IssueTx(ctx, tx, found, PurposePasswordReset)
		if err != nil {
			return err
		}
		rm := m.resetMail(found, token)
		mail = &rm
		account = found
		return nil
	})
	if err != nil {
		return "", m.boundary(err, "failed to request password reset")
	}

	m.dispatchMail(ctx, mail)

	if account != nil {
		m.recordActivity(ctx, ActivityEvent{
			EventType: ActivityEventPasswordResetRequested,
			Actor:     ActorOf(account),
			AccountID: account.ID.String(),
		})
	}

	return MessageResetRequested, nil
}

// ConfirmPasswordResetMessage sets a new password with a reset token
type ConfirmPasswordResetMessage struct {
	Token              string `json:"token"`
	NewPassword        string `json:"new_password"`
	ConfirmNewPassword string `json:"confirm_new_password"`
}

func (e ConfirmPasswordResetMessage) Type() string { return "account.password.reset_confirm" }

// Validate will validate the payload
func (e ConfirmPasswordResetMessage) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.Token, validation.Required),
		validation.Field(&e.NewPassword, validation.Required),
		validation.Field(&e.ConfirmNewPassword,
			validation.Required,
			validation.By(ValidateStringEquals(e.NewPassword, "New passwords do not match.")),
		),
	)
}

// ConfirmPasswordReset replaces the password credential and consumes the
// token. Every token failure surfaces as ErrInvalidToken. A successful reset
// also proves ownership of the email.
func (m *Manager) ConfirmPasswordReset(ctx context.Context, msg ConfirmPasswordResetMessage) (*Account, error) {
	ctx, cancel, err := m.guard(ctx, "password reset finalization")
	if err != nil {
		return nil, err
	}
	defer cancel()

	if err := validate(msg); err != nil {
		return nil, err
	}

	var (
		account *Account
		tc      *TransitionContext
	)

	err = m.retryStale(ctx, func() error {
		tc = nil
		return m.store.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
			current, err := m.credentials.ConsumeTx(ctx, tx, msg.Token, PurposePasswordReset)
			if err != nil {
				return m.tokenFailure(err, PurposePasswordReset)
			}

			if err := m.checkPassword("new_password", msg.NewPassword, current); err != nil {
				return err
			}

			hash, err := m.credentials.HashPassword(msg.NewPassword)
			if err != nil {
				return internalError(err, "failed to hash password")
			}

			current.PasswordHash = hash
			current.EmailVerified = true
			if tc, err = m.activateIfStudent(ctx, ActorOf(current), current, "password reset"); err != nil {
				return err
			}

			account, err = m.saveAccountTx(ctx, tx, current)
			return err
		})
	})
	if err != nil {
		return nil, m.boundary(err, "failed to finalize password reset")
	}

	m.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventPasswordResetSuccess,
		Actor:     ActorOf(account),
		AccountID: account.ID.String(),
	})
	m.recordTransition(ctx, tc)

	return account, nil
}
