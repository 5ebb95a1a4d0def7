package accounts

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

// SessionClaims are the claims of access and refresh tokens
type SessionClaims struct {
	jwt.RegisteredClaims
	UID       string `json:"uid"`
	Role      Role   `json:"role"`
	TokenType string `json:"token_type"`
}

// TokenPair is returned by a successful login
type TokenPair struct {
	Access           string    `json:"access"`
	Refresh          string    `json:"refresh"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// SessionTokens issues access/refresh pairs for active accounts
type SessionTokens struct {
	signingKey []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
	logger     Logger
}

// NewSessionTokens creates a new SessionTokens instance
func NewSessionTokens(signingKey []byte, issuer string, accessTTL, refreshTTL time.Duration, now func() time.Time, logger Logger) *SessionTokens {
	if logger == nil {
		logger = defLogger{}
	}
	if now == nil {
		now = time.Now
	}
	return &SessionTokens{
		signingKey: signingKey,
		issuer:     issuer,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        now,
		logger:     logger,
	}
}

// Generate creates an access and a refresh token for account
func (ts *SessionTokens) Generate(account *Account) (*TokenPair, error) {
	if account == nil {
		return nil, goerrors.New("account must not be nil", goerrors.CategoryInternal)
	}

	now := ts.now()
	pair := &TokenPair{
		AccessExpiresAt:  now.Add(ts.accessTTL),
		RefreshExpiresAt: now.Add(ts.refreshTTL),
	}

	var err error
	if pair.Access, err = ts.sign(account, TokenTypeAccess, now, pair.AccessExpiresAt); err != nil {
		return nil, err
	}
	if pair.Refresh, err = ts.sign(account, TokenTypeRefresh, now, pair.RefreshExpiresAt); err != nil {
		return nil, err
	}
	return pair, nil
}

func (ts *SessionTokens) sign(account *Account, tokenType string, now, expires time.Time) (string, error) {
	claims := &SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    ts.issuer,
			Subject:   account.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
		UID:       account.ID.String(),
		Role:      account.Role,
		TokenType: tokenType,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(ts.signingKey)
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to sign JWT")
	}
	return signed, nil
}

// Validate parses and validates a session token string
func (ts *SessionTokens) Validate(raw string) (*SessionClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(ts.now),
	}
	if ts.issuer != "" {
		opts = append(opts, jwt.WithIssuer(ts.issuer))
	}

	claims := &SessionClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return ts.signingKey, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		ts.logger.Debug("session token rejected", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
