package accounts_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/karpithal/go-accounts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRecord(purpose accounts.TokenPurpose, now time.Time, ttl time.Duration) *accounts.OneTimeToken {
	return &accounts.OneTimeToken{
		ID:        uuid.New(),
		AccountID: uuid.New(),
		Purpose:   purpose,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}
}

func TestOneTimeTokensRoundTrip(t *testing.T) {
	clock := newTestClock()
	tokens := accounts.NewOneTimeTokens([]byte("secret"), "karpithal", clock.Now)
	record := newRecord(accounts.PurposeEmailVerify, clock.Now(), time.Hour)

	raw, err := tokens.Sign(record)
	require.NoError(t, err)

	claims, err := tokens.Parse(raw, accounts.PurposeEmailVerify)
	require.NoError(t, err)

	id, err := claims.TokenID()
	require.NoError(t, err)
	assert.Equal(t, record.ID, id)

	accountID, err := claims.AccountID()
	require.NoError(t, err)
	assert.Equal(t, record.AccountID, accountID)
	assert.Equal(t, accounts.PurposeEmailVerify, claims.Purpose)
}

func TestOneTimeTokensRejections(t *testing.T) {
	clock := newTestClock()
	tokens := accounts.NewOneTimeTokens([]byte("secret"), "karpithal", clock.Now)
	record := newRecord(accounts.PurposePasswordReset, clock.Now(), time.Hour)

	raw, err := tokens.Sign(record)
	require.NoError(t, err)

	_, err = tokens.Parse(raw, accounts.PurposeEmailVerify)
	assert.ErrorIs(t, err, accounts.ErrTokenWrongPurpose)

	_, err = tokens.Parse("", accounts.PurposePasswordReset)
	assert.ErrorIs(t, err, accounts.ErrInvalidToken)

	_, err = tokens.Parse(raw+"x", accounts.PurposePasswordReset)
	assert.ErrorIs(t, err, accounts.ErrInvalidToken)

	otherKey := accounts.NewOneTimeTokens([]byte("other"), "karpithal", clock.Now)
	_, err = otherKey.Parse(raw, accounts.PurposePasswordReset)
	assert.ErrorIs(t, err, accounts.ErrInvalidToken)

	otherIssuer := accounts.NewOneTimeTokens([]byte("secret"), "someone-else", clock.Now)
	_, err = otherIssuer.Parse(raw, accounts.PurposePasswordReset)
	assert.ErrorIs(t, err, accounts.ErrInvalidToken)

	clock.Advance(2 * time.Hour)
	_, err = tokens.Parse(raw, accounts.PurposePasswordReset)
	assert.ErrorIs(t, err, accounts.ErrTokenExpired)
	assert.True(t, accounts.IsTokenError(err))
}

func TestOneTimeTokensRejectOtherAlgorithms(t *testing.T) {
	clock := newTestClock()
	tokens := accounts.NewOneTimeTokens([]byte("secret"), "karpithal", clock.Now)

	claims := &accounts.OneTimeClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    "karpithal",
			Subject:   uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(clock.Now().Add(time.Hour)),
		},
		Purpose: accounts.PurposeEmailVerify,
	}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = tokens.Parse(raw, accounts.PurposeEmailVerify)
	assert.ErrorIs(t, err, accounts.ErrInvalidToken)

	// expiry is mandatory
	claims.ExpiresAt = nil
	raw, err = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = tokens.Parse(raw, accounts.PurposeEmailVerify)
	assert.ErrorIs(t, err, accounts.ErrInvalidToken)

	// subject must be an account id
	claims.ExpiresAt = jwt.NewNumericDate(clock.Now().Add(time.Hour))
	claims.Subject = "not-a-uuid"
	raw, err = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = tokens.Parse(raw, accounts.PurposeEmailVerify)
	assert.ErrorIs(t, err, accounts.ErrInvalidToken)
}

func TestSessionTokens(t *testing.T) {
	clock := newTestClock()
	sessions := accounts.NewSessionTokens([]byte("secret"), "karpithal", 15*time.Minute, 24*time.Hour, clock.Now, quietLogger{})
	account := &accounts.Account{ID: uuid.New(), Role: accounts.RoleInstructor}

	pair, err := sessions.Generate(account)
	require.NoError(t, err)
	assert.Equal(t, clock.Now().Add(15*time.Minute), pair.AccessExpiresAt)
	assert.Equal(t, clock.Now().Add(24*time.Hour), pair.RefreshExpiresAt)

	access, err := sessions.Validate(pair.Access)
	require.NoError(t, err)
	assert.Equal(t, account.ID.String(), access.UID)
	assert.Equal(t, account.ID.String(), access.Subject)
	assert.Equal(t, accounts.RoleInstructor, access.Role)
	assert.Equal(t, accounts.TokenTypeAccess, access.TokenType)

	refresh, err := sessions.Validate(pair.Refresh)
	require.NoError(t, err)
	assert.Equal(t, accounts.TokenTypeRefresh, refresh.TokenType)

	clock.Advance(time.Hour)
	_, err = sessions.Validate(pair.Access)
	assert.ErrorIs(t, err, accounts.ErrTokenExpired)
	_, err = sessions.Validate(pair.Refresh)
	assert.NoError(t, err)

	_, err = sessions.Validate("not.a.token")
	assert.ErrorIs(t, err, accounts.ErrInvalidToken)

	_, err = sessions.Generate(nil)
	assert.Error(t, err)
}
