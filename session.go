package accounts

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Authenticate resolves an access token to its active account. Expired,
// forged or refresh tokens fail with ErrInvalidToken; tokens of accounts
// that were suspended since issuance fail with ErrAccountInactive.
func (m *Manager) Authenticate(ctx context.Context, accessToken string) (*Account, error) {
	ctx, cancel, err := m.guard(ctx, "authenticate")
	if err != nil {
		return nil, err
	}
	defer cancel()

	account, err := m.sessionAccount(ctx, accessToken, TokenTypeAccess)
	if err != nil {
		return nil, err
	}
	return account, nil
}

// RefreshSession exchanges a refresh token for a new token pair
func (m *Manager) RefreshSession(ctx context.Context, refreshToken string) (*TokenPair, error) {
	ctx, cancel, err := m.guard(ctx, "refresh session")
	if err != nil {
		return nil, err
	}
	defer cancel()

	account, err := m.sessionAccount(ctx, refreshToken, TokenTypeRefresh)
	if err != nil {
		return nil, err
	}
	return m.sessions.Generate(account)
}

func (m *Manager) sessionAccount(ctx context.Context, raw, tokenType string) (*Account, error) {
	claims, err := m.sessions.Validate(raw)
	if err != nil {
		m.logger.Debug("session token rejected", "type", tokenType, "error", err)
		return nil, ErrInvalidToken
	}
	if claims.TokenType != tokenType {
		m.logger.Debug("session token rejected", "type", tokenType, "got", claims.TokenType)
		return nil, ErrInvalidToken
	}

	id, err := uuid.Parse(claims.UID)
	if err != nil {
		return nil, ErrInvalidToken
	}

	account, err := m.GetAccount(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}
	if !account.IsActive() {
		return nil, fmt.Errorf("%w: %s", ErrAccountInactive, account.Status())
	}
	return account, nil
}
