// Package oauth turns provider credentials (authorization codes or ID
// tokens) into verified accounts.ExternalIdentity values. The lifecycle
// core never talks to providers directly.
package oauth

import (
	"context"
	"fmt"
	"strings"
	"sync"

	goerrors "github.com/goliatone/go-errors"
	"github.com/karpithal/go-accounts"
)

const (
	TextCodeProviderRejected = "OAUTH_PROVIDER_REJECTED"
	TextCodeUnknownProvider  = "OAUTH_UNKNOWN_PROVIDER"
)

// ErrProviderRejected is returned when the provider did not vouch for the credential
var ErrProviderRejected = goerrors.New("oauth provider rejected the credential", goerrors.CategoryAuth).
	WithTextCode(TextCodeProviderRejected).
	WithCode(goerrors.CodeUnauthorized)

// ErrUnknownProvider is returned for providers without a registered verifier
var ErrUnknownProvider = goerrors.New("oauth provider is not configured", goerrors.CategoryValidation).
	WithTextCode(TextCodeUnknownProvider).
	WithCode(goerrors.CodeBadRequest)

// Verifier exchanges a provider credential for a verified identity.
// Email is only set when the provider reports it as verified.
type Verifier interface {
	Provider() string
	Verify(ctx context.Context, credential string) (accounts.ExternalIdentity, error)
}

// VerifierFunc adapts a function to Verifier
type VerifierFunc struct {
	Name string
	Fn   func(ctx context.Context, credential string) (accounts.ExternalIdentity, error)
}

// Provider implements Verifier
func (v VerifierFunc) Provider() string { return v.Name }

// Verify implements Verifier
func (v VerifierFunc) Verify(ctx context.Context, credential string) (accounts.ExternalIdentity, error) {
	return v.Fn(ctx, credential)
}

// Linker is the part of accounts.Manager the registry drives
type Linker interface {
	LoginOAuth(ctx context.Context, msg accounts.OAuthMessage) (*accounts.OAuthResult, error)
}

// Registry dispatches credentials to the verifier of their provider.
type Registry struct {
	mu        sync.RWMutex
	verifiers map[string]Verifier
}

// NewRegistry registers the given verifiers
func NewRegistry(verifiers ...Verifier) *Registry {
	r := &Registry{verifiers: make(map[string]Verifier)}
	for _, v := range verifiers {
		r.Register(v)
	}
	return r
}

// Register adds or replaces the verifier for v.Provider()
func (r *Registry) Register(v Verifier) {
	if v == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.verifiers[strings.ToLower(v.Provider())] = v
}

// Providers lists the configured provider names
func (r *Registry) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.verifiers))
	for name := range r.verifiers {
		out = append(out, name)
	}
	return out
}

// Verify checks credential against the named provider.
func (r *Registry) Verify(ctx context.Context, provider, credential string) (accounts.ExternalIdentity, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))

	r.mu.RLock()
	v, ok := r.verifiers[provider]
	r.mu.RUnlock()
	if !ok {
		return accounts.ExternalIdentity{}, ErrUnknownProvider
	}

	if strings.TrimSpace(credential) == "" {
		return accounts.ExternalIdentity{}, ErrProviderRejected
	}

	identity, err := v.Verify(ctx, credential)
	if err != nil {
		return accounts.ExternalIdentity{}, fmt.Errorf("%w: %s: %v", ErrProviderRejected, provider, err)
	}
	identity.Provider = provider
	identity.Email = accounts.NormalizeEmail(identity.Email)
	return identity, nil
}

// Login verifies the credential and links or creates the account through
// the manager, returning a session token pair.
func (r *Registry) Login(ctx context.Context, linker Linker, provider, credential string) (*accounts.OAuthResult, error) {
	identity, err := r.Verify(ctx, provider, credential)
	if err != nil {
		return nil, err
	}
	return linker.LoginOAuth(ctx, accounts.OAuthMessage{
		Provider: identity.Provider,
		Subject:  identity.Subject,
		Email:    identity.Email,
	})
}
