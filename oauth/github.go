package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/karpithal/go-accounts"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
)

const (
	defaultGitHubUserURL   = "https://api.github.com/user"
	defaultGitHubEmailsURL = "https://api.github.com/user/emails"
)

// GitHubConfig holds GitHub OAuth app settings
type GitHubConfig struct {
	ClientID     string
	ClientSecret string
	CallbackURL  string

	// overridable for tests and GitHub Enterprise
	Endpoint  oauth2.Endpoint
	UserURL   string
	EmailsURL string

	HTTPClient *http.Client
}

// GitHubVerifier exchanges an authorization code and reads the user and
// its primary verified email.
type GitHubVerifier struct {
	oauth      *oauth2.Config
	userURL    string
	emailsURL  string
	httpClient *http.Client
}

// NewGitHubVerifier fills in GitHub defaults for the empty fields of cfg
func NewGitHubVerifier(cfg GitHubConfig) *GitHubVerifier {
	if cfg.Endpoint.TokenURL == "" {
		cfg.Endpoint = github.Endpoint
	}
	if cfg.UserURL == "" {
		cfg.UserURL = defaultGitHubUserURL
	}
	if cfg.EmailsURL == "" {
		cfg.EmailsURL = defaultGitHubEmailsURL
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	return &GitHubVerifier{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.CallbackURL,
			Scopes:       []string{"read:user", "user:email"},
			Endpoint:     cfg.Endpoint,
		},
		userURL:    cfg.UserURL,
		emailsURL:  cfg.EmailsURL,
		httpClient: client,
	}
}

// Provider implements Verifier
func (g *GitHubVerifier) Provider() string { return accounts.ProviderGitHub }

// AuthCodeURL returns the consent page URL for state
func (g *GitHubVerifier) AuthCodeURL(state string) string {
	return g.oauth.AuthCodeURL(state)
}

// Verify implements Verifier, credential is the authorization code.
func (g *GitHubVerifier) Verify(ctx context.Context, code string) (accounts.ExternalIdentity, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, g.httpClient)

	token, err := g.oauth.Exchange(ctx, code)
	if err != nil {
		return accounts.ExternalIdentity{}, fmt.Errorf("exchange code: %w", err)
	}
	client := g.oauth.Client(ctx, token)

	var user githubUser
	if err := getJSON(ctx, client, g.userURL, &user); err != nil {
		return accounts.ExternalIdentity{}, fmt.Errorf("fetch user: %w", err)
	}
	if user.ID == 0 {
		return accounts.ExternalIdentity{}, fmt.Errorf("fetch user: missing id")
	}

	var emails []githubEmail
	if err := getJSON(ctx, client, g.emailsURL, &emails); err != nil {
		// the account may still exist, linking only needs the subject
		emails = nil
	}

	return accounts.ExternalIdentity{
		Subject: strconv.FormatInt(user.ID, 10),
		Email:   primaryVerifiedEmail(emails),
	}, nil
}

type githubUser struct {
	ID    int64  `json:"id"`
	Login string `json:"login"`
	Name  string `json:"name"`
}

type githubEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

func primaryVerifiedEmail(emails []githubEmail) string {
	for _, e := range emails {
		if e.Primary && e.Verified {
			return e.Email
		}
	}
	for _, e := range emails {
		if e.Verified {
			return e.Email
		}
	}
	return ""
}

func getJSON(ctx context.Context, client *http.Client, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.Unmarshal(body, out)
}
