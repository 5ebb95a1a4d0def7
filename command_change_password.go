package accounts

import (
	"context"
	"errors"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/uptrace/bun"
)

// ChangePasswordMessage replaces the password of the acting account
type ChangePasswordMessage struct {
	OldPassword        string `json:"old_password"`
	NewPassword        string `json:"new_password"`
	ConfirmNewPassword string `json:"confirm_new_password"`
}

func (e ChangePasswordMessage) Type() string { return "account.password.change" }

// Validate will validate the payload
func (e ChangePasswordMessage) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.OldPassword, validation.Required),
		validation.Field(&e.NewPassword, validation.Required),
		validation.Field(&e.ConfirmNewPassword,
			validation.Required,
			validation.By(ValidateStringEquals(e.NewPassword, "New passwords do not match.")),
		),
	)
}

// ChangePassword checks the old password against the stored credential
// before anything is written; a mismatch is ErrWrongOldPassword.
func (m *Manager) ChangePassword(ctx context.Context, actor *Account, msg ChangePasswordMessage) error {
	ctx, cancel, err := m.guard(ctx, "password change")
	if err != nil {
		return err
	}
	defer cancel()

	if actor == nil {
		return ErrForbidden
	}

	if err := validate(msg); err != nil {
		return err
	}

	err = m.retryStale(ctx, func() error {
		return m.store.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
			current, err := m.store.GetAccountByIDTx(ctx, tx, actor.ID)
			if err != nil {
				return err
			}

			if err := m.credentials.VerifyPassword(msg.OldPassword, current.PasswordHash); err != nil {
				if errors.Is(err, ErrMismatchedHashAndPassword) {
					return ErrWrongOldPassword
				}
				return internalError(err, "failed to verify password")
			}

			if err := m.checkPassword("new_password", msg.NewPassword, current); err != nil {
				return err
			}

			hash, err := m.credentials.HashPassword(msg.NewPassword)
			if err != nil {
				return internalError(err, "failed to hash password")
			}
			current.PasswordHash = hash

			_, err = m.saveAccountTx(ctx, tx, current)
			return err
		})
	})
	if err != nil {
		return m.boundary(err, "failed to change password")
	}

	m.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventPasswordChanged,
		Actor:     ActorOf(actor),
		AccountID: actor.ID.String(),
	})
	return nil
}
