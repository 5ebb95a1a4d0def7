package accounts

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// OneTimeClaims are the claims of a purpose scoped one-time token. ID (jti)
// points at the persisted OneTimeToken record.
type OneTimeClaims struct {
	jwt.RegisteredClaims
	Purpose TokenPurpose `json:"purpose"`
}

// AccountID returns the subject as an account id
func (c *OneTimeClaims) AccountID() (uuid.UUID, error) {
	return uuid.Parse(c.Subject)
}

// TokenID returns the jti as a record id
func (c *OneTimeClaims) TokenID() (uuid.UUID, error) {
	return uuid.Parse(c.ID)
}

// OneTimeTokens signs and parses one-time tokens. It knows nothing about the
// persisted record, CredentialManager combines both.
type OneTimeTokens struct {
	signingKey []byte
	issuer     string
	now        func() time.Time
}

// NewOneTimeTokens creates a signer. Tokens are HS256.
func NewOneTimeTokens(signingKey []byte, issuer string, now func() time.Time) *OneTimeTokens {
	if now == nil {
		now = time.Now
	}
	return &OneTimeTokens{
		signingKey: signingKey,
		issuer:     issuer,
		now:        now,
	}
}

// Sign creates a token for record
func (t *OneTimeTokens) Sign(record *OneTimeToken) (string, error) {
	if record == nil {
		return "", goerrors.New("token record must not be nil", goerrors.CategoryInternal)
	}

	claims := &OneTimeClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        record.ID.String(),
			Issuer:    t.issuer,
			Subject:   record.AccountID.String(),
			IssuedAt:  jwt.NewNumericDate(record.CreatedAt),
			ExpiresAt: jwt.NewNumericDate(record.ExpiresAt),
		},
		Purpose: record.Purpose,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.signingKey)
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to sign one-time token")
	}
	return signed, nil
}

// Parse verifies signature, issuer, expiry and purpose. Failures are
// ErrTokenExpired, ErrTokenWrongPurpose or ErrInvalidToken.
func (t *OneTimeTokens) Parse(raw string, purpose TokenPurpose) (*OneTimeClaims, error) {
	if raw == "" {
		return nil, ErrInvalidToken
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(t.now),
		jwt.WithExpirationRequired(),
	}
	if t.issuer != "" {
		opts = append(opts, jwt.WithIssuer(t.issuer))
	}

	claims := &OneTimeClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return t.signingKey, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	if claims.Purpose != purpose {
		return nil, ErrTokenWrongPurpose
	}
	if _, err := claims.AccountID(); err != nil {
		return nil, fmt.Errorf("%w: bad subject", ErrInvalidToken)
	}
	if _, err := claims.TokenID(); err != nil {
		return nil, fmt.Errorf("%w: bad token id", ErrInvalidToken)
	}

	return claims, nil
}
