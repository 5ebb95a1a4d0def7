package accounts

import (
	"context"
	"errors"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/uptrace/bun"
)

const (
	MessageRegistered           = "User registered successfully."
	MessageRegisteredVerifyMail = "User registered successfully. Please verify your email."
)

// RegisterMessage registers a password or OAuth account. Role defaults to
// student; instructor and admin require an active admin actor.
type RegisterMessage struct {
	Email         string        `json:"email"`
	Password      string        `json:"password,omitempty"`
	Role          string        `json:"role,omitempty"`
	OAuthProvider string        `json:"oauth_provider,omitempty"`
	OAuthSubject  string        `json:"oauth_id,omitempty"`
	Profile       *ProfileInput `json:"profile,omitempty"`
}

func (e RegisterMessage) Type() string { return "account.register" }

// Validate will validate the payload
func (e RegisterMessage) Validate() error {
	roles := make([]any, 0, 3)
	for _, r := range AllRoles() {
		roles = append(roles, string(r))
	}
	providers := make([]any, 0, 3)
	for _, p := range SupportedProviders() {
		providers = append(providers, p)
	}

	oauth := e.OAuthProvider != ""

	return validation.ValidateStruct(&e,
		validation.Field(&e.Email,
			validation.Required.Error("This field is required."),
			validation.Length(3, 254),
			is.Email.Error("Enter a valid email address."),
		),
		validation.Field(&e.Role, validation.In(roles...).Error("Invalid role.")),
		validation.Field(&e.Password, validation.By(func(value interface{}) error {
			if !oauth && value.(string) == "" {
				return errors.New("Password is required for email signup.")
			}
			return nil
		})),
		validation.Field(&e.OAuthProvider, validation.In(providers...).Error("Unsupported OAuth provider.")),
		validation.Field(&e.OAuthSubject, validation.By(func(value interface{}) error {
			if oauth && value.(string) == "" {
				return errors.New("Provider and OAuth ID are required.")
			}
			return nil
		})),
	)
}

// RegisterResult is returned by Register. Tokens are only set for accounts
// that are active right away.
type RegisterResult struct {
	Account *Account   `json:"user"`
	Profile *Profile   `json:"profile"`
	Tokens  *TokenPair `json:"tokens"`
	Message string     `json:"message"`
}

// Register creates an account with its profile in one transaction.
func (m *Manager) Register(ctx context.Context, actor *Account, msg RegisterMessage) (*RegisterResult, error) {
	ctx, cancel, err := m.guard(ctx, "account registration")
	if err != nil {
		return nil, err
	}
	defer cancel()

	if err := validate(msg); err != nil {
		return nil, err
	}

	role, _ := ParseRole(msg.Role)
	if role.IsPrivileged() && !IsAdmin(actor) {
		m.logger.Warn("role escalation rejected", "role", role, "actor", ActorOf(actor).ID)
		return nil, ErrForbidden
	}

	if msg.Profile != nil {
		if err := ValidateAvatar(msg.Profile.AvatarName, msg.Profile.AvatarSize); err != nil {
			return nil, err
		}
	}

	email := NormalizeEmail(msg.Email)
	oauth := msg.OAuthProvider != ""

	hash := UnusablePassword
	if !oauth {
		if err := m.checkPassword("password", msg.Password, &Account{Email: email}); err != nil {
			return nil, err
		}
		if hash, err = m.credentials.HashPassword(msg.Password); err != nil {
			return nil, internalError(err, "failed to hash password")
		}
	}

	now := m.now()
	account := &Account{
		Email:         email,
		Role:          role,
		EmailVerified: oauth,
		Approved:      role == RoleStudent,
		Active:        role == RoleStudent && (oauth || !m.opts.RequireStudentVerification),
		PasswordHash:  hash,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if oauth {
		provider, subject := msg.OAuthProvider, msg.OAuthSubject
		account.OAuthProvider = &provider
		account.OAuthSubject = &subject
	}

	var (
		profile *Profile
		mail    *Mail
	)

	err = m.store.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := m.store.GetAccountByEmailTx(ctx, tx, email); err == nil {
			return ErrDuplicateEmail
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}

		if oauth {
			if _, err := m.store.GetAccountByOAuthIdentityTx(ctx, tx, msg.OAuthProvider, msg.OAuthSubject); err == nil {
				return ErrDuplicateOAuthIdentity
			} else if !errors.Is(err, ErrNotFound) {
				return err
			}
		}

		id, err := m.credentials.newID(email)
		if err != nil {
			return internalError(err, "failed to generate account id")
		}
		account.ID = id

		if account, err = m.store.CreateAccountTx(ctx, tx, account); err != nil {
			return err
		}

		if profile, err = EnsureProfileTx(ctx, m.store, tx, account, now); err != nil {
			return err
		}
		if applyProfileInput(profile, msg.Profile, now) {
			if profile, err = m.store.UpdateProfileTx(ctx, tx, profile); err != nil {
				return err
			}
		}

		if !account.EmailVerified && account.HasUsablePassword() {
			token, _, err := m.credentials.IssueTx(ctx, tx, account, PurposeEmailVerify)
			if err != nil {
				return err
			}
			vm := m.verificationMail(account, token)
			mail = &vm
		}

		return nil
	})
	if err != nil {
		return nil, m.boundary(err, "failed to register account")
	}

	m.dispatchMail(ctx, mail)

	m.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventAccountRegistered,
		Actor:     registrationActor(actor, account),
		AccountID: account.ID.String(),
		ToStatus:  account.Status(),
		Metadata: map[string]any{
			"role":  string(account.Role),
			"oauth": oauth,
		},
	})

	result := &RegisterResult{
		Account: account,
		Profile: profile,
		Message: MessageRegisteredVerifyMail,
	}

	if account.IsActive() {
		result.Message = MessageRegistered
		if result.Tokens, err = m.sessions.Generate(account); err != nil {
			return nil, err
		}
	}

	return result, nil
}

func registrationActor(actor, account *Account) ActorRef {
	if actor != nil {
		return ActorOf(actor)
	}
	return ActorOf(account)
}
