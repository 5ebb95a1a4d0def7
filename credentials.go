package accounts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// IDGenerator returns the id for a new account
type IDGenerator func(email string) (uuid.UUID, error)

// RandomIDs is the default IDGenerator
func RandomIDs(string) (uuid.UUID, error) {
	return uuid.New(), nil
}

// CredentialManager owns password hashing, one-time tokens and OAuth
// linkage. Token methods run inside the caller's transaction.
type CredentialManager struct {
	store     Store
	hasher    Hasher
	tokens    *OneTimeTokens
	verifyTTL time.Duration
	resetTTL  time.Duration
	newID     IDGenerator
	now       func() time.Time
}

// NewCredentialManager creates a manager, zero TTLs fall back to 72h
// (verification) and 24h (reset).
func NewCredentialManager(store Store, hasher Hasher, tokens *OneTimeTokens, verifyTTL, resetTTL time.Duration, newID IDGenerator, now func() time.Time) *CredentialManager {
	if hasher == nil {
		hasher = NewArgon2Hasher(DefaultArgon2Params())
	}
	if verifyTTL <= 0 {
		verifyTTL = DefaultVerificationTTL
	}
	if resetTTL <= 0 {
		resetTTL = DefaultResetTTL
	}
	if newID == nil {
		newID = RandomIDs
	}
	if now == nil {
		now = time.Now
	}
	return &CredentialManager{
		store:     store,
		hasher:    hasher,
		tokens:    tokens,
		verifyTTL: verifyTTL,
		resetTTL:  resetTTL,
		newID:     newID,
		now:       now,
	}
}

// HashPassword hashes with the configured Hasher
func (c *CredentialManager) HashPassword(password string) (string, error) {
	return c.hasher.Hash(password)
}

// VerifyPassword checks password against hash, whatever algorithm produced it
func (c *CredentialManager) VerifyPassword(password, hash string) error {
	return ComparePasswordAndHash(password, hash)
}

// TTL returns the lifetime of tokens issued for purpose
func (c *CredentialManager) TTL(purpose TokenPurpose) time.Duration {
	if purpose == PurposePasswordReset {
		return c.resetTTL
	}
	return c.verifyTTL
}

// IssueTx persists a token record for account and returns its signed form
func (c *CredentialManager) IssueTx(ctx context.Context, tx bun.IDB, account *Account, purpose TokenPurpose) (string, *OneTimeToken, error) {
	if account == nil {
		return "", nil, ErrNotFound
	}

	now := c.now()
	record := &OneTimeToken{
		ID:        uuid.New(),
		AccountID: account.ID,
		Purpose:   purpose,
		ExpiresAt: now.Add(c.TTL(purpose)),
		CreatedAt: now,
	}

	record, err := c.store.CreateTokenTx(ctx, tx, record)
	if err != nil {
		return "", nil, internalError(err, "failed to persist one-time token")
	}

	signed, err := c.tokens.Sign(record)
	if err != nil {
		return "", nil, err
	}
	return signed, record, nil
}

// ConsumeTx validates raw for purpose and marks its record consumed. It
// returns ErrInvalidToken, ErrTokenExpired, ErrTokenWrongPurpose or
// ErrTokenUsed; a second consume of the same token always fails.
func (c *CredentialManager) ConsumeTx(ctx context.Context, tx bun.IDB, raw string, purpose TokenPurpose) (*Account, error) {
	claims, err := c.tokens.Parse(raw, purpose)
	if err != nil {
		return nil, err
	}

	// both parsed by Parse already
	tokenID, _ := claims.TokenID()
	accountID, _ := claims.AccountID()

	record, err := c.store.GetTokenTx(ctx, tx, tokenID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: unknown token record", ErrInvalidToken)
		}
		return nil, internalError(err, "failed to load one-time token")
	}

	if record.AccountID != accountID {
		return nil, fmt.Errorf("%w: token subject mismatch", ErrInvalidToken)
	}
	if record.Purpose != purpose {
		return nil, ErrTokenWrongPurpose
	}
	if record.IsConsumed() {
		return nil, ErrTokenUsed
	}

	now := c.now()
	if !now.Before(record.ExpiresAt) {
		return nil, ErrTokenExpired
	}

	if err := c.store.ConsumeTokenTx(ctx, tx, record.ID, now); err != nil {
		return nil, err
	}

	account, err := c.store.GetAccountByIDTx(ctx, tx, accountID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: account no longer exists", ErrInvalidToken)
		}
		return nil, internalError(err, "failed to load token account")
	}
	return account, nil
}

// LinkOrCreateTx returns the account linked to identity, or creates a new
// verified student with an unusable password and its profile.
func (c *CredentialManager) LinkOrCreateTx(ctx context.Context, tx bun.IDB, identity ExternalIdentity) (*Account, bool, error) {
	if err := validateIdentity(identity); err != nil {
		return nil, false, err
	}

	existing, err := c.store.GetAccountByOAuthIdentityTx(ctx, tx, identity.Provider, identity.Subject)
	switch {
	case err == nil:
		return existing, false, nil
	case !errors.Is(err, ErrNotFound):
		return nil, false, internalError(err, "failed to lookup oauth identity")
	}

	email := NormalizeEmail(identity.Email)
	if email == "" {
		return nil, false, ErrEmailRequired
	}
	if err := validateEmail(email); err != nil {
		return nil, false, err
	}

	id, err := c.newID(email)
	if err != nil {
		return nil, false, internalError(err, "failed to generate account id")
	}

	now := c.now()
	provider, subject := identity.Provider, identity.Subject
	account := &Account{
		ID:            id,
		Email:         email,
		Role:          RoleStudent,
		EmailVerified: true,
		Approved:      true,
		Active:        true,
		PasswordHash:  UnusablePassword,
		OAuthProvider: &provider,
		OAuthSubject:  &subject,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	account, err = c.store.CreateAccountTx(ctx, tx, account)
	if err != nil {
		return nil, false, err
	}

	if _, err := EnsureProfileTx(ctx, c.store, tx, account, now); err != nil {
		return nil, false, err
	}

	return account, true, nil
}
