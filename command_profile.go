package accounts

import (
	"context"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// UpdateProfileMessage edits the profile of AccountID
type UpdateProfileMessage struct {
	AccountID uuid.UUID    `json:"account_id"`
	Profile   ProfileInput `json:"profile"`
}

func (e UpdateProfileMessage) Type() string { return "account.profile.update" }

// Validate will validate the payload
func (e UpdateProfileMessage) Validate() error {
	return ValidateAvatar(e.Profile.AvatarName, e.Profile.AvatarSize)
}

// GetProfile returns the profile of accountID. Reads are open to everyone.
func (m *Manager) GetProfile(ctx context.Context, accountID uuid.UUID) (*Profile, error) {
	var profile *Profile
	err := m.store.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		account, err := m.store.GetAccountByIDTx(ctx, tx, accountID)
		if err != nil {
			return err
		}
		profile, err = EnsureProfileTx(ctx, m.store, tx, account, m.now())
		return err
	})
	return profile, m.boundary(err, "failed to load profile")
}

// UpdateProfile applies the input when actor owns the profile.
func (m *Manager) UpdateProfile(ctx context.Context, actor *Account, msg UpdateProfileMessage) (*Profile, error) {
	ctx, cancel, err := m.guard(ctx, "profile update")
	if err != nil {
		return nil, err
	}
	defer cancel()

	if err := validate(msg); err != nil {
		return nil, err
	}

	var profile *Profile
	err = m.store.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		account, err := m.store.GetAccountByIDTx(ctx, tx, msg.AccountID)
		if err != nil {
			return err
		}

		current, err := EnsureProfileTx(ctx, m.store, tx, account, m.now())
		if err != nil {
			return err
		}

		if !CanMutate(actor, current, OpWrite) {
			return ErrForbidden
		}

		if !applyProfileInput(current, &msg.Profile, m.now()) {
			profile = current
			return nil
		}
		profile, err = m.store.UpdateProfileTx(ctx, tx, current)
		return err
	})
	if err != nil {
		return nil, m.boundary(err, "failed to update profile")
	}

	m.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventProfileUpdated,
		Actor:     ActorOf(actor),
		AccountID: msg.AccountID.String(),
	})
	return profile, nil
}
