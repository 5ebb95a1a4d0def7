package accounts

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Status is the lifecycle state derived from the account flags
type Status string

const (
	// StatusPendingVerification waits for the owner to confirm the email
	StatusPendingVerification Status = "pending_verification"
	// StatusPendingApproval waits for an admin approval
	StatusPendingApproval Status = "pending_approval"
	// StatusActive can log in and use role gated capabilities
	StatusActive Status = "active"
	// StatusSuspended was deactivated by an admin
	StatusSuspended Status = "suspended"
)

// UnusablePassword marks accounts that can only authenticate through OAuth
const UnusablePassword = "!"

// DefaultBio is the greeting stored on newly created profiles
const DefaultBio = "Welcome to my Karpithal profile!"

// Account is the identity record, keyed externally by email
type Account struct {
	bun.BaseModel `bun:"table:accounts,alias:acc"`
	ID            uuid.UUID  `bun:"id,pk,type:uuid" json:"id"`
	Email         string     `bun:"email,notnull,unique" json:"email"`
	Role          Role       `bun:"role,notnull" json:"role"`
	EmailVerified bool       `bun:"email_verified,notnull" json:"is_verified"`
	Approved      bool       `bun:"approved,notnull" json:"is_approved"`
	Active        bool       `bun:"active,notnull" json:"is_active"`
	PasswordHash  string     `bun:"password_hash" json:"-"`
	OAuthProvider *string    `bun:"oauth_provider,unique:oauth_identity" json:"oauth_provider,omitempty"`
	OAuthSubject  *string    `bun:"oauth_subject,unique:oauth_identity" json:"-"`
	Version       int64      `bun:"version,notnull" json:"version"`
	SuspendedAt   *time.Time `bun:"suspended_at,nullzero" json:"suspended_at,omitempty"`
	LastLoginAt   *time.Time `bun:"last_login_at,nullzero" json:"last_login_at,omitempty"`
	CreatedAt     time.Time  `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt     time.Time  `bun:"updated_at,notnull" json:"updated_at"`
}

// Status derives the lifecycle state from the persisted flags.
func (a *Account) Status() Status {
	switch {
	case a == nil:
		return ""
	case a.SuspendedAt != nil:
		return StatusSuspended
	case a.Active:
		return StatusActive
	case !a.Approved:
		return StatusPendingApproval
	case !a.EmailVerified:
		return StatusPendingVerification
	default:
		// approved, verified and inactive without a suspension timestamp
		// only happens for rows edited outside the lifecycle
		return StatusSuspended
	}
}

// IsActive reports whether the account can authenticate
func (a *Account) IsActive() bool {
	return a != nil && a.Active && a.SuspendedAt == nil
}

// HasUsablePassword is false for OAuth-only accounts
func (a *Account) HasUsablePassword() bool {
	return a != nil && a.PasswordHash != "" && !strings.HasPrefix(a.PasswordHash, UnusablePassword)
}

// IsOAuth reports whether the account was linked to an external identity
func (a *Account) IsOAuth() bool {
	return a != nil && a.OAuthProvider != nil && a.OAuthSubject != nil
}

// OwnerID implements Owned, accounts own themselves
func (a *Account) OwnerID() uuid.UUID {
	return a.ID
}

// Clone returns a shallow copy safe to mutate before persisting
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	c := *a
	return &c
}

// Profile is the 1:1 sidecar of an Account
type Profile struct {
	bun.BaseModel `bun:"table:profiles,alias:prf"`
	AccountID     uuid.UUID `bun:"account_id,pk,type:uuid" json:"account_id"`
	Bio           string    `bun:"bio,notnull" json:"bio"`
	AvatarName    string    `bun:"avatar_name" json:"profile_picture,omitempty"`
	AvatarSize    int64     `bun:"avatar_size" json:"-"`
	CreatedAt     time.Time `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt     time.Time `bun:"updated_at,notnull" json:"updated_at"`
}

// OwnerID implements Owned
func (p *Profile) OwnerID() uuid.UUID {
	return p.AccountID
}

// TokenPurpose scopes a one-time token to a single transition
type TokenPurpose string

const (
	// PurposeEmailVerify confirms ownership of the account email
	PurposeEmailVerify TokenPurpose = "email_verify"
	// PurposePasswordReset authorizes replacing the password credential
	PurposePasswordReset TokenPurpose = "password_reset"
)

// OneTimeToken is the persisted side of an issued token. The signed token
// carries its ID as jti.
type OneTimeToken struct {
	bun.BaseModel `bun:"table:one_time_tokens,alias:ott"`
	ID            uuid.UUID    `bun:"id,pk,type:uuid" json:"id"`
	AccountID     uuid.UUID    `bun:"account_id,notnull,type:uuid" json:"account_id"`
	Purpose       TokenPurpose `bun:"purpose,notnull" json:"purpose"`
	ExpiresAt     time.Time    `bun:"expires_at,notnull" json:"expires_at"`
	ConsumedAt    *time.Time   `bun:"consumed_at,nullzero" json:"consumed_at,omitempty"`
	CreatedAt     time.Time    `bun:"created_at,notnull" json:"created_at"`
}

// IsConsumed reports whether the token was already used
func (t *OneTimeToken) IsConsumed() bool {
	return t != nil && t.ConsumedAt != nil
}

// ExternalIdentity is the already verified tuple handed over by an OAuth
// provider collaborator.
type ExternalIdentity struct {
	Provider string `json:"provider"`
	Subject  string `json:"oauth_id"`
	Email    string `json:"email,omitempty"`
}

const (
	ProviderGoogle = "google"
	ProviderGitHub = "github"
	ProviderApple  = "apple"
)

// SupportedProviders lists the OAuth providers accounts can link to
func SupportedProviders() []string {
	return []string{ProviderGoogle, ProviderGitHub, ProviderApple}
}

// NormalizeEmail lower-cases and trims the address; uniqueness is enforced
// on the normalized form.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
