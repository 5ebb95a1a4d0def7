package accounts

import (
	"context"
	"errors"

	"github.com/uptrace/bun"
)

// OAuthMessage is the already verified identity handed over by a provider
// collaborator. Email is only required the first time the identity is seen.
type OAuthMessage struct {
	Provider string        `json:"provider"`
	Subject  string        `json:"oauth_id"`
	Email    string        `json:"email,omitempty"`
	Profile  *ProfileInput `json:"profile,omitempty"`
}

func (e OAuthMessage) Type() string { return "account.oauth.link" }

// Validate will validate the payload
func (e OAuthMessage) Validate() error {
	if err := validateIdentity(e.Identity()); err != nil {
		return err
	}
	if e.Profile != nil {
		return ValidateAvatar(e.Profile.AvatarName, e.Profile.AvatarSize)
	}
	return nil
}

// Identity returns the provider tuple
func (e OAuthMessage) Identity() ExternalIdentity {
	return ExternalIdentity{
		Provider: e.Provider,
		Subject:  e.Subject,
		Email:    e.Email,
	}
}

// OAuthResult is returned by LinkOrCreateOAuth and LoginOAuth
type OAuthResult struct {
	Account *Account   `json:"user"`
	Created bool       `json:"created"`
	Tokens  *TokenPair `json:"tokens,omitempty"`
}

// LinkOrCreateOAuth returns the account linked to the identity, creating a
// verified student when the identity is new. Calling it again with the same
// identity returns the same account with Created false.
func (m *Manager) LinkOrCreateOAuth(ctx context.Context, msg OAuthMessage) (*OAuthResult, error) {
	ctx, cancel, err := m.guard(ctx, "oauth link")
	if err != nil {
		return nil, err
	}
	defer cancel()

	if err := validate(msg); err != nil {
		return nil, err
	}

	result, err := m.linkOrCreate(ctx, msg)
	if err != nil {
		return nil, m.boundary(err, "failed to link oauth identity")
	}
	return result, nil
}

func (m *Manager) linkOrCreate(ctx context.Context, msg OAuthMessage) (*OAuthResult, error) {
	identity := msg.Identity()
	result := &OAuthResult{}

	err := m.store.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		account, created, err := m.credentials.LinkOrCreateTx(ctx, tx, identity)
		if err != nil {
			return err
		}
		if created && msg.Profile != nil {
			profile, err := EnsureProfileTx(ctx, m.store, tx, account, m.now())
			if err != nil {
				return err
			}
			if applyProfileInput(profile, msg.Profile, m.now()) {
				if _, err := m.store.UpdateProfileTx(ctx, tx, profile); err != nil {
					return err
				}
			}
		}
		result.Account, result.Created = account, created
		return nil
	})

	// a concurrent call created the same identity first; the losing insert
	// can hit either the email or the identity unique index
	if errors.Is(err, ErrDuplicateOAuthIdentity) || errors.Is(err, ErrDuplicateEmail) {
		conflict := err
		err = m.store.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
			account, err := m.store.GetAccountByOAuthIdentityTx(ctx, tx, identity.Provider, identity.Subject)
			if err != nil {
				return err
			}
			result.Account, result.Created = account, false
			return nil
		})
		if errors.Is(err, ErrNotFound) {
			err = conflict
		} else if err == nil {
			m.logger.Debug("oauth identity created concurrently", "provider", identity.Provider)
		}
	}
	if err != nil {
		return nil, err
	}

	if result.Created {
		m.recordActivity(ctx, ActivityEvent{
			EventType: ActivityEventAccountRegistered,
			Actor:     ActorOf(result.Account),
			AccountID: result.Account.ID.String(),
			ToStatus:  result.Account.Status(),
			Metadata: map[string]any{
				"role":     string(result.Account.Role),
				"oauth":    true,
				"provider": identity.Provider,
			},
		})
	}
	m.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventOAuthLinked,
		Actor:     ActorOf(result.Account),
		AccountID: result.Account.ID.String(),
		Metadata: map[string]any{
			"provider": identity.Provider,
			"created":  result.Created,
		},
	})

	return result, nil
}

// LoginOAuth links or creates the account and issues a session token pair
// when the account is active.
func (m *Manager) LoginOAuth(ctx context.Context, msg OAuthMessage) (*OAuthResult, error) {
	ctx, cancel, err := m.guard(ctx, "oauth login")
	if err != nil {
		return nil, err
	}
	defer cancel()

	if err := validate(msg); err != nil {
		return nil, err
	}

	result, err := m.linkOrCreate(ctx, msg)
	if err != nil {
		return nil, m.boundary(err, "failed to link oauth identity")
	}

	account, err := m.completeLogin(ctx, result.Account.ID, "oauth:"+msg.Provider)
	if err != nil {
		return nil, err
	}
	result.Account = account

	if result.Tokens, err = m.sessions.Generate(account); err != nil {
		return nil, err
	}
	return result, nil
}
