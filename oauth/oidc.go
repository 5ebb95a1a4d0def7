package oauth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/karpithal/go-accounts"
)

const (
	AppleIssuer  = "https://appleid.apple.com"
	AppleJWKSURL = "https://appleid.apple.com/auth/keys"
)

// OIDCConfig describes a provider that signs ID tokens with keys published
// as a JWK set.
type OIDCConfig struct {
	Provider string
	Issuer   string
	JWKSURL  string
	// Audience is the client (service) id tokens must be issued to
	Audience string
	Now      func() time.Time
	Logger   accounts.Logger
}

// OIDCVerifier validates RS256 ID tokens against a remote JWK set.
type OIDCVerifier struct {
	cfg  OIDCConfig
	jwks *keyfunc.JWKS
}

// NewOIDCVerifier fetches the JWK set once and keeps it refreshed in the
// background until Close.
func NewOIDCVerifier(cfg OIDCConfig) (*OIDCVerifier, error) {
	if cfg.Provider == "" || cfg.Issuer == "" || cfg.JWKSURL == "" || cfg.Audience == "" {
		return nil, errors.New("oidc verifier: provider, issuer, jwks url and audience are required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	jwks, err := keyfunc.Get(cfg.JWKSURL, keyfunc.Options{
		RefreshErrorHandler: func(err error) {
			if cfg.Logger != nil {
				cfg.Logger.Warn("failed to refresh jwk set", "provider", cfg.Provider, "error", err)
			}
		},
		RefreshInterval:   time.Hour,
		RefreshRateLimit:  5 * time.Minute,
		RefreshTimeout:    10 * time.Second,
		RefreshUnknownKID: true,
	})
	if err != nil {
		return nil, fmt.Errorf("load %s jwk set: %w", cfg.Provider, err)
	}

	return &OIDCVerifier{cfg: cfg, jwks: jwks}, nil
}

// NewAppleVerifier validates Sign in with Apple ID tokens for serviceID
func NewAppleVerifier(serviceID string, logger accounts.Logger) (*OIDCVerifier, error) {
	return NewOIDCVerifier(OIDCConfig{
		Provider: accounts.ProviderApple,
		Issuer:   AppleIssuer,
		JWKSURL:  AppleJWKSURL,
		Audience: serviceID,
		Logger:   logger,
	})
}

// Provider implements Verifier
func (o *OIDCVerifier) Provider() string { return o.cfg.Provider }

// Close stops the background refresh
func (o *OIDCVerifier) Close() {
	o.jwks.EndBackground()
}

type idTokenClaims struct {
	jwt.RegisteredClaims
	Email         string `json:"email"`
	EmailVerified any    `json:"email_verified"`
}

// Verify implements Verifier, credential is the ID token.
func (o *OIDCVerifier) Verify(_ context.Context, token string) (accounts.ExternalIdentity, error) {
	claims := &idTokenClaims{}
	_, err := jwt.ParseWithClaims(token, claims, o.jwks.Keyfunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(o.cfg.Issuer),
		jwt.WithAudience(o.cfg.Audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(o.cfg.Now),
	)
	if err != nil {
		return accounts.ExternalIdentity{}, err
	}
	if claims.Subject == "" {
		return accounts.ExternalIdentity{}, errors.New("missing subject")
	}

	identity := accounts.ExternalIdentity{Subject: claims.Subject}
	if truthy(claims.EmailVerified) {
		identity.Email = claims.Email
	}
	return identity, nil
}

// apple sends email_verified as a string
func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return strings.EqualFold(t, "true")
	default:
		return false
	}
}
