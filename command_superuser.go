package accounts

import (
	"context"
	"errors"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/uptrace/bun"
)

// CreateSuperuserMessage bootstraps an administrator from the command line
type CreateSuperuserMessage struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (e CreateSuperuserMessage) Type() string { return "account.create_superuser" }

// Validate will validate the payload
func (e CreateSuperuserMessage) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.Email,
			validation.Required.Error("This field is required."),
			is.Email.Error("Enter a valid email address."),
		),
		validation.Field(&e.Password, validation.Required.Error("This field is required.")),
	)
}

// CreateSuperuser creates an active, verified and approved admin. It is
// the only path that does not require an admin actor and is meant for
// operators bootstrapping an empty installation.
func (m *Manager) CreateSuperuser(ctx context.Context, msg CreateSuperuserMessage) (*Account, error) {
	ctx, cancel, err := m.guard(ctx, "superuser creation")
	if err != nil {
		return nil, err
	}
	defer cancel()

	if err := validate(msg); err != nil {
		return nil, err
	}

	email := NormalizeEmail(msg.Email)
	if err := m.checkPassword("password", msg.Password, &Account{Email: email}); err != nil {
		return nil, err
	}
	hash, err := m.credentials.HashPassword(msg.Password)
	if err != nil {
		return nil, internalError(err, "failed to hash password")
	}

	now := m.now()
	account := &Account{
		Email:         email,
		Role:          RoleAdmin,
		EmailVerified: true,
		Approved:      true,
		Active:        true,
		PasswordHash:  hash,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	err = m.store.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := m.store.GetAccountByEmailTx(ctx, tx, email); err == nil {
			return ErrDuplicateEmail
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}

		if account.ID, err = m.credentials.newID(email); err != nil {
			return internalError(err, "failed to generate account id")
		}
		if account, err = m.store.CreateAccountTx(ctx, tx, account); err != nil {
			return err
		}
		_, err = EnsureProfileTx(ctx, m.store, tx, account, now)
		return err
	})
	if err != nil {
		return nil, m.boundary(err, "failed to create superuser")
	}

	m.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventAccountRegistered,
		Actor:     SystemActor,
		AccountID: account.ID.String(),
		ToStatus:  account.Status(),
		Metadata:  map[string]any{"role": string(RoleAdmin), "superuser": true},
	})
	return account, nil
}
