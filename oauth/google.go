package oauth

import (
	"context"
	"errors"
	"fmt"

	"github.com/karpithal/go-accounts"
	"google.golang.org/api/idtoken"
)

var googleIssuers = map[string]struct{}{
	"accounts.google.com":         {},
	"https://accounts.google.com": {},
}

// IDTokenValidator matches idtoken.Validate
type IDTokenValidator func(ctx context.Context, token, audience string) (*idtoken.Payload, error)

// GoogleVerifier validates Google ID tokens issued to ClientID.
type GoogleVerifier struct {
	clientID string
	validate IDTokenValidator
}

// NewGoogleVerifier uses idtoken.Validate unless validate is given
func NewGoogleVerifier(clientID string, validate IDTokenValidator) (*GoogleVerifier, error) {
	if clientID == "" {
		return nil, errors.New("google client id is required")
	}
	if validate == nil {
		validate = idtoken.Validate
	}
	return &GoogleVerifier{clientID: clientID, validate: validate}, nil
}

// Provider implements Verifier
func (g *GoogleVerifier) Provider() string { return accounts.ProviderGoogle }

// Verify implements Verifier, credential is the ID token.
func (g *GoogleVerifier) Verify(ctx context.Context, token string) (accounts.ExternalIdentity, error) {
	payload, err := g.validate(ctx, token, g.clientID)
	if err != nil {
		return accounts.ExternalIdentity{}, err
	}
	if _, ok := googleIssuers[payload.Issuer]; !ok {
		return accounts.ExternalIdentity{}, fmt.Errorf("unexpected issuer %q", payload.Issuer)
	}
	if payload.Subject == "" {
		return accounts.ExternalIdentity{}, errors.New("missing subject")
	}

	identity := accounts.ExternalIdentity{Subject: payload.Subject}
	if verified, _ := payload.Claims["email_verified"].(bool); verified {
		identity.Email, _ = payload.Claims["email"].(string)
	}
	return identity, nil
}
