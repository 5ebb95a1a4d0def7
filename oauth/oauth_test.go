package oauth_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/karpithal/go-accounts"
	"github.com/karpithal/go-accounts/oauth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	"google.golang.org/api/idtoken"
)

type linkerStub struct {
	got accounts.OAuthMessage
}

func (l *linkerStub) LoginOAuth(_ context.Context, msg accounts.OAuthMessage) (*accounts.OAuthResult, error) {
	l.got = msg
	return &accounts.OAuthResult{Account: &accounts.Account{Email: msg.Email}, Created: true}, nil
}

func staticVerifier(name string, identity accounts.ExternalIdentity, err error) oauth.Verifier {
	return oauth.VerifierFunc{Name: name, Fn: func(context.Context, string) (accounts.ExternalIdentity, error) {
		return identity, err
	}}
}

func TestRegistryVerify(t *testing.T) {
	registry := oauth.NewRegistry(
		staticVerifier("google", accounts.ExternalIdentity{Subject: "g-1", Email: " Someone@Example.com "}, nil),
		staticVerifier("github", accounts.ExternalIdentity{}, errors.New("bad_verification_code")),
	)
	assert.ElementsMatch(t, []string{"google", "github"}, registry.Providers())

	identity, err := registry.Verify(context.Background(), "Google", "id-token")
	require.NoError(t, err)
	assert.Equal(t, accounts.ExternalIdentity{Provider: "google", Subject: "g-1", Email: "someone@example.com"}, identity)

	_, err = registry.Verify(context.Background(), "github", "code")
	assert.ErrorIs(t, err, oauth.ErrProviderRejected)
	assert.Contains(t, err.Error(), "bad_verification_code")

	_, err = registry.Verify(context.Background(), "google", " ")
	assert.ErrorIs(t, err, oauth.ErrProviderRejected)

	_, err = registry.Verify(context.Background(), "myspace", "x")
	assert.ErrorIs(t, err, oauth.ErrUnknownProvider)
}

func TestRegistryLogin(t *testing.T) {
	registry := oauth.NewRegistry(staticVerifier("apple", accounts.ExternalIdentity{Subject: "a-1", Email: "a@example.com"}, nil))
	linker := &linkerStub{}

	result, err := registry.Login(context.Background(), linker, "apple", "id-token")
	require.NoError(t, err)
	assert.True(t, result.Created)
	assert.Equal(t, accounts.OAuthMessage{Provider: "apple", Subject: "a-1", Email: "a@example.com"}, linker.got)

	_, err = registry.Login(context.Background(), linker, "google", "id-token")
	assert.ErrorIs(t, err, oauth.ErrUnknownProvider)
}

func githubServer(t *testing.T, emails string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/login/oauth/access_token", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if r.Form.Get("code") != "good-code" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"bad_verification_code"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"gho_test","token_type":"bearer","scope":"read:user,user:email"}`))
	})
	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer gho_test" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"id":4242,"login":"octo","name":"Octo Cat"}`))
	})
	mux.HandleFunc("/user/emails", func(w http.ResponseWriter, r *http.Request) {
		if emails == "" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		_, _ = w.Write([]byte(emails))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newGitHub(srv *httptest.Server) *oauth.GitHubVerifier {
	return oauth.NewGitHubVerifier(oauth.GitHubConfig{
		ClientID:     "client",
		ClientSecret: "secret",
		Endpoint: oauth2.Endpoint{
			AuthURL:   srv.URL + "/login/oauth/authorize",
			TokenURL:  srv.URL + "/login/oauth/access_token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
		UserURL:    srv.URL + "/user",
		EmailsURL:  srv.URL + "/user/emails",
		HTTPClient: srv.Client(),
	})
}

func TestGitHubVerifier(t *testing.T) {
	srv := githubServer(t, `[
		{"email":"old@example.com","primary":false,"verified":true},
		{"email":"octo@example.com","primary":true,"verified":true}
	]`)
	gh := newGitHub(srv)

	assert.Equal(t, "github", gh.Provider())
	assert.Contains(t, gh.AuthCodeURL("state-1"), "state=state-1")

	identity, err := gh.Verify(context.Background(), "good-code")
	require.NoError(t, err)
	assert.Equal(t, "4242", identity.Subject)
	assert.Equal(t, "octo@example.com", identity.Email)

	_, err = gh.Verify(context.Background(), "bad-code")
	assert.Error(t, err)
}

func TestGitHubVerifierWithoutVerifiedEmail(t *testing.T) {
	gh := newGitHub(githubServer(t, `[{"email":"octo@example.com","primary":true,"verified":false}]`))
	identity, err := gh.Verify(context.Background(), "good-code")
	require.NoError(t, err)
	assert.Equal(t, "4242", identity.Subject)
	assert.Empty(t, identity.Email)

	gh = newGitHub(githubServer(t, ""))
	identity, err = gh.Verify(context.Background(), "good-code")
	require.NoError(t, err)
	assert.Empty(t, identity.Email)
}

func TestGoogleVerifier(t *testing.T) {
	_, err := oauth.NewGoogleVerifier("", nil)
	assert.Error(t, err)

	payloads := map[string]*idtoken.Payload{
		"verified": {
			Issuer:  "https://accounts.google.com",
			Subject: "g-1",
			Claims:  map[string]interface{}{"email": "g@example.com", "email_verified": true},
		},
		"unverified": {
			Issuer:  "accounts.google.com",
			Subject: "g-2",
			Claims:  map[string]interface{}{"email": "g2@example.com", "email_verified": false},
		},
		"foreign": {Issuer: "https://evil.example.com", Subject: "g-3"},
	}

	var audience string
	g, err := oauth.NewGoogleVerifier("client-id", func(_ context.Context, token, aud string) (*idtoken.Payload, error) {
		audience = aud
		if p, ok := payloads[token]; ok {
			return p, nil
		}
		return nil, errors.New("idtoken: invalid token")
	})
	require.NoError(t, err)

	identity, err := g.Verify(context.Background(), "verified")
	require.NoError(t, err)
	assert.Equal(t, "client-id", audience)
	assert.Equal(t, accounts.ExternalIdentity{Subject: "g-1", Email: "g@example.com"}, identity)

	identity, err = g.Verify(context.Background(), "unverified")
	require.NoError(t, err)
	assert.Empty(t, identity.Email)

	_, err = g.Verify(context.Background(), "foreign")
	assert.Error(t, err)

	_, err = g.Verify(context.Background(), "garbage")
	assert.Error(t, err)
}

func jwksServer(t *testing.T, key *rsa.PrivateKey, kid string) *httptest.Server {
	t.Helper()
	set := map[string]any{"keys": []map[string]string{{
		"kty": "RSA",
		"kid": kid,
		"alg": "RS256",
		"use": "sig",
		"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
		"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
	}}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(set)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func signIDToken(t *testing.T, key *rsa.PrivateKey, kid string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid
	raw, err := token.SignedString(key)
	require.NoError(t, err)
	return raw
}

func TestOIDCVerifier(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	srv := jwksServer(t, key, "apple-1")

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	v, err := oauth.NewOIDCVerifier(oauth.OIDCConfig{
		Provider: "apple",
		Issuer:   oauth.AppleIssuer,
		JWKSURL:  srv.URL,
		Audience: "app.karpithal.web",
		Now:      func() time.Time { return now },
	})
	require.NoError(t, err)
	t.Cleanup(v.Close)

	base := func() jwt.MapClaims {
		return jwt.MapClaims{
			"iss":            oauth.AppleIssuer,
			"aud":            "app.karpithal.web",
			"sub":            "001234.abcd",
			"email":          "relay@privaterelay.appleid.com",
			"email_verified": "true",
			"exp":            now.Add(10 * time.Minute).Unix(),
			"iat":            now.Unix(),
		}
	}

	identity, err := v.Verify(context.Background(), signIDToken(t, key, "apple-1", base()))
	require.NoError(t, err)
	assert.Equal(t, "apple", v.Provider())
	assert.Equal(t, "001234.abcd", identity.Subject)
	assert.Equal(t, "relay@privaterelay.appleid.com", identity.Email)

	unverified := base()
	unverified["email_verified"] = false
	identity, err = v.Verify(context.Background(), signIDToken(t, key, "apple-1", unverified))
	require.NoError(t, err)
	assert.Empty(t, identity.Email)

	rejects := map[string]func(jwt.MapClaims){
		"wrong audience": func(c jwt.MapClaims) { c["aud"] = "someone.else" },
		"wrong issuer":   func(c jwt.MapClaims) { c["iss"] = "https://accounts.google.com" },
		"expired":        func(c jwt.MapClaims) { c["exp"] = now.Add(-time.Minute).Unix() },
		"no expiry":      func(c jwt.MapClaims) { delete(c, "exp") },
		"no subject":     func(c jwt.MapClaims) { delete(c, "sub") },
	}
	for name, mutate := range rejects {
		t.Run(name, func(t *testing.T) {
			claims := base()
			mutate(claims)
			_, err := v.Verify(context.Background(), signIDToken(t, key, "apple-1", claims))
			assert.Error(t, err)
		})
	}

	other, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	_, err = v.Verify(context.Background(), signIDToken(t, other, "apple-1", base()))
	assert.Error(t, err)
}

func TestOIDCVerifierConfig(t *testing.T) {
	_, err := oauth.NewOIDCVerifier(oauth.OIDCConfig{Provider: "apple"})
	assert.Error(t, err)
}
