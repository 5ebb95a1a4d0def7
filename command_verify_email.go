package accounts

import (
	"context"
	"errors"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/uptrace/bun"
)

// VerifyEmailMessage confirms ownership of the account email
type VerifyEmailMessage struct {
	Token string `json:"token"`
}

func (e VerifyEmailMessage) Type() string { return "account.email.verify" }

// Validate will validate the payload
func (e VerifyEmailMessage) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.Token, validation.Required),
	)
}

// VerifyEmail consumes a verification token. Students that were waiting on
// verification become active; suspended accounts stay suspended.
func (m *Manager) VerifyEmail(ctx context.Context, msg VerifyEmailMessage) (*Account, error) {
	ctx, cancel, err := m.guard(ctx, "email verification")
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
			current, err := m.credentials.ConsumeTx(ctx, tx, msg.Token, PurposeEmailVerify)
			if err != nil {
				return m.tokenFailure(err, PurposeEmailVerify)
			}

			if current.EmailVerified {
				return ErrAlreadyVerified
			}

			current.EmailVerified = true
			if tc, err = m.activateIfStudent(ctx, ActorOf(current), current, "email verified"); err != nil {
				return err
			}

			account, err = m.saveAccountTx(ctx, tx, current)
			return err
		})
	})
	if err != nil {
		return nil, m.boundary(err, "failed to verify email")
	}

	m.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventEmailVerified,
		Actor:     ActorOf(account),
		AccountID: account.ID.String(),
		ToStatus:  account.Status(),
	})
	m.recordTransition(ctx, tc)

	return account, nil
}

// ResendVerificationMessage asks for a new verification mail
type ResendVerificationMessage struct {
	Email string `json:"email"`
}

func (e ResendVerificationMessage) Type() string { return "account.email.resend" }

// Validate will validate the payload
func (e ResendVerificationMessage) Validate() error {
	return validateEmail(e.Email)
}

// ResendVerification issues a fresh verification token when the account
// exists and is unverified. The outcome is never revealed to the caller.
func (m *Manager) ResendVerification(ctx context.Context, msg ResendVerificationMessage) error {
	ctx, cancel, err := m.guard(ctx, "verification resend")
	if err != nil {
		return err
	}
	defer cancel()

	if err := validate(msg); err != nil {
		return err
	}

	var mail *Mail
	err = m.store.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		account, err := m.store.GetAccountByEmailTx(ctx, tx, NormalizeEmail(msg.Email))
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil
			}
			return err
		}

		if account.EmailVerified || !account.HasUsablePassword() || account.SuspendedAt != nil {
			return nil
		}

		token, _, err := m.credentials.IssueTx(ctx, tx, account, PurposeEmailVerify)
		if err != nil {
			return err
		}
		vm := m.verificationMail(account, token)
		mail = &vm
		return nil
	})
	if err != nil {
		return m.boundary(err, "failed to resend verification")
	}

	m.dispatchMail(ctx, mail)
	return nil
}

// tokenFailure collapses every token failure into ErrInvalidToken so callers
// cannot tell them apart; the cause is logged.
func (m *Manager) tokenFailure(err error, purpose TokenPurpose) error {
	if !IsTokenError(err) {
		return err
	}
	m.logger.Info("one-time token rejected", "purpose", purpose, "cause", err)
	return ErrInvalidToken
}
