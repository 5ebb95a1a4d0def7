package accounts

import (
	"context"
	"errors"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

const (
	DefaultVerificationTTL = 72 * time.Hour
	DefaultResetTTL        = 24 * time.Hour
	DefaultAccessTTL       = 15 * time.Minute
	DefaultRefreshTTL      = 24 * time.Hour
	DefaultOperationTTL    = 10 * time.Second
	DefaultMaxStaleRetries = 3
)

// Options configures a Manager
type Options struct {
	// RequireStudentVerification keeps password students inactive until
	// they verify their email.
	RequireStudentVerification bool
	VerificationTTL            time.Duration
	ResetTTL                   time.Duration
	TokenSigningKey            []byte
	TokenIssuer                string
	AccessTokenTTL             time.Duration
	RefreshTokenTTL            time.Duration
	// VerifyURL and ResetURL are prefixed to the token in outgoing mail
	VerifyURL string
	ResetURL  string
	// DeterministicIDs derives account ids from the email with hashid
	DeterministicIDs bool
	MaxStaleRetries  uint64
	OperationTimeout time.Duration
}

// DefaultOptions returns mandatory verification with 72h/24h token TTLs
func DefaultOptions() Options {
	return Options{
		RequireStudentVerification: true,
		VerificationTTL:            DefaultVerificationTTL,
		ResetTTL:                   DefaultResetTTL,
		TokenIssuer:                "karpithal",
		AccessTokenTTL:             DefaultAccessTTL,
		RefreshTokenTTL:            DefaultRefreshTTL,
		VerifyURL:                  "http://localhost:3000/verify-email/",
		ResetURL:                   "http://localhost:3000/reset-password/",
		MaxStaleRetries:            DefaultMaxStaleRetries,
		OperationTimeout:           DefaultOperationTTL,
	}
}

// ManagerOption customizes a Manager
type ManagerOption func(*Manager)

// WithHasher sets the password Hasher
func WithHasher(h Hasher) ManagerOption {
	return func(m *Manager) {
		if h != nil {
			m.hasher = h
		}
	}
}

// WithPasswordPolicy sets the password quality checker
func WithPasswordPolicy(p PasswordPolicy) ManagerOption {
	return func(m *Manager) {
		if p != nil {
			m.policy = p
		}
	}
}

// WithMailer sets the mail collaborator
func WithMailer(mailer Mailer) ManagerOption {
	return func(m *Manager) {
		if mailer != nil {
			m.mailer = mailer
		}
	}
}

// WithActivitySink sets the sink used to emit lifecycle events.
func WithActivitySink(sink ActivitySink) ManagerOption {
	return func(m *Manager) {
		m.activity = normalizeActivitySink(sink)
	}
}

// WithLogger overrides the logger
func WithLogger(logger Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithClock injects a custom clock (useful for tests).
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithLifecycleMachine replaces the default transition table
func WithLifecycleMachine(sm LifecycleMachine) ManagerOption {
	return func(m *Manager) {
		if sm != nil {
			m.machine = sm
		}
	}
}

// Manager exposes the account lifecycle operations. The acting account is
// always passed explicitly.
type Manager struct {
	store       Store
	opts        Options
	hasher      Hasher
	policy      PasswordPolicy
	mailer      Mailer
	activity    ActivitySink
	logger      Logger
	now         func() time.Time
	machine     LifecycleMachine
	credentials *CredentialManager
	sessions    *SessionTokens
	dummyHash   string
}

// NewManager wires a Manager on top of store
func NewManager(store Store, opts Options, options ...ManagerOption) (*Manager, error) {
	if store == nil {
		return nil, goerrors.New("store is required", goerrors.CategoryInternal)
	}
	if len(opts.TokenSigningKey) == 0 {
		return nil, goerrors.New("token signing key is required", goerrors.CategoryInternal)
	}
	if opts.OperationTimeout <= 0 {
		opts.OperationTimeout = DefaultOperationTTL
	}
	if opts.AccessTokenTTL <= 0 {
		opts.AccessTokenTTL = DefaultAccessTTL
	}
	if opts.RefreshTokenTTL <= 0 {
		opts.RefreshTokenTTL = DefaultRefreshTTL
	}

	m := &Manager{
		store:    store,
		opts:     opts,
		hasher:   NewArgon2Hasher(DefaultArgon2Params()),
		policy:   NewDefaultPasswordPolicy(),
		mailer:   noopMailer{},
		activity: noopActivitySink{},
		logger:   defLogger{},
		now:      time.Now,
	}

	for _, opt := range options {
		if opt != nil {
			opt(m)
		}
	}

	if m.machine == nil {
		m.machine = NewLifecycleMachine(WithStateMachineClock(m.now))
	}

	newID := RandomIDs
	if opts.DeterministicIDs {
		newID = func(email string) (uuid.UUID, error) {
			return hashid.NewUUID(email)
		}
	}

	tokens := NewOneTimeTokens(opts.TokenSigningKey, opts.TokenIssuer, m.now)
	m.credentials = NewCredentialManager(store, m.hasher, tokens, opts.VerificationTTL, opts.ResetTTL, newID, m.now)
	m.sessions = NewSessionTokens(opts.TokenSigningKey, opts.TokenIssuer, opts.AccessTokenTTL, opts.RefreshTokenTTL, m.now, m.logger)

	dummy, err := m.hasher.Hash(uuid.NewString())
	if err != nil {
		return nil, err
	}
	m.dummyHash = dummy

	return m, nil
}

// Credentials returns the credential manager
func (m *Manager) Credentials() *CredentialManager {
	return m.credentials
}

// Sessions returns the session token issuer
func (m *Manager) Sessions() *SessionTokens {
	return m.sessions
}

// Machine returns the lifecycle state machine
func (m *Manager) Machine() LifecycleMachine {
	return m.machine
}

// GetAccount loads an account by id
func (m *Manager) GetAccount(ctx context.Context, id uuid.UUID) (*Account, error) {
	var account *Account
	err := m.store.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		account, err = m.store.GetAccountByIDTx(ctx, tx, id)
		return err
	})
	return account, m.boundary(err, "failed to load account")
}

// FindByEmail loads an account by its (case-insensitive) email
func (m *Manager) FindByEmail(ctx context.Context, email string) (*Account, error) {
	var account *Account
	err := m.store.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		account, err = m.store.GetAccountByEmailTx(ctx, tx, NormalizeEmail(email))
		return err
	})
	return account, m.boundary(err, "failed to load account")
}

// FindByOAuthIdentity loads the account linked to provider and subject
func (m *Manager) FindByOAuthIdentity(ctx context.Context, provider, subject string) (*Account, error) {
	var account *Account
	err := m.store.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		account, err = m.store.GetAccountByOAuthIdentityTx(ctx, tx, provider, subject)
		return err
	})
	return account, m.boundary(err, "failed to load account")
}

// saveAccountTx persists account with optimistic versioning and self-heals
// a missing profile.
func (m *Manager) saveAccountTx(ctx context.Context, tx bun.IDB, account *Account) (*Account, error) {
	account.UpdatedAt = m.now()
	updated, err := m.store.UpdateAccountTx(ctx, tx, account)
	if err != nil {
		return nil, err
	}
	if _, err := EnsureProfileTx(ctx, m.store, tx, updated, m.now()); err != nil {
		return nil, err
	}
	return updated, nil
}

// activateIfStudent moves a verified, non suspended student to active
func (m *Manager) activateIfStudent(ctx context.Context, actor ActorRef, account *Account, reason string) (*TransitionContext, error) {
	if account.Role != RoleStudent || account.Active || account.SuspendedAt != nil || !account.EmailVerified {
		return nil, nil
	}
	tc, err := m.machine.Transition(ctx, actor, account, StatusActive, WithTransitionReason(reason))
	if err != nil {
		return nil, err
	}
	if tc.Noop {
		return nil, nil
	}
	return &tc, nil
}

func (m *Manager) checkPassword(field, password string, account *Account) error {
	err := m.policy.Validate(password, account)
	if err == nil {
		return nil
	}
	if fe, ok := ValidationFields(err); ok {
		out := make(FieldErrors, len(fe))
		for k, v := range fe {
			if k == "password" {
				k = field
			}
			out[k] = v
		}
		return out
	}
	return internalError(err, "password policy failed")
}

func (m *Manager) recordActivity(ctx context.Context, event ActivityEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = m.now()
	}
	if err := m.activity.Record(ctx, event); err != nil {
		m.logger.Warn("activity sink error", "event", event.EventType, "error", err)
	}
}

func (m *Manager) recordTransition(ctx context.Context, tc *TransitionContext) {
	if tc == nil || tc.Noop {
		return
	}
	m.recordActivity(ctx, tc.Event())
}

// guard applies the operation deadline and fails fast on cancelled contexts
func (m *Manager) guard(ctx context.Context, op string) (context.Context, context.CancelFunc, error) {
	select {
	case <-ctx.Done():
		return ctx, func() {}, goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation, "context cancelled during "+op)
	default:
	}
	ctx, cancel := context.WithTimeout(ctx, m.opts.OperationTimeout)
	return ctx, cancel, nil
}

// boundary keeps typed domain errors and wraps infrastructure failures
func (m *Manager) boundary(err error, message string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return goerrors.Wrap(err, goerrors.CategoryOperation, message)
	}
	return internalError(err, message)
}
