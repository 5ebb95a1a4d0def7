package accounts_test

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/karpithal/go-accounts"
	"github.com/karpithal/go-accounts/repository"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"golang.org/x/crypto/bcrypt"

	_ "github.com/mattn/go-sqlite3"
)

const (
	verifyURL = "https://app.test/verify-email/"
	resetURL  = "https://app.test/reset-password/"

	strongPassword = "Corr3ct-Horse-Battery"
	otherPassword  = "Stap1e-Lantern-Orbit"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Now().UTC().Truncate(time.Second)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type captureMailer struct {
	mu    sync.Mutex
	mails []accounts.Mail
}

func (m *captureMailer) Send(_ context.Context, mail accounts.Mail) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mails = append(m.mails, mail)
	return nil
}

func (m *captureMailer) All() []accounts.Mail {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]accounts.Mail, len(m.mails))
	copy(out, m.mails)
	return out
}

func (m *captureMailer) Last(t *testing.T, kind accounts.MailKind) accounts.Mail {
	t.Helper()
	all := m.All()
	for i := len(all) - 1; i >= 0; i-- {
		if all[i].Kind == kind {
			return all[i]
		}
	}
	t.Fatalf("no %s mail captured", kind)
	return accounts.Mail{}
}

func (m *captureMailer) Count(kind accounts.MailKind) int {
	n := 0
	for _, mail := range m.All() {
		if mail.Kind == kind {
			n++
		}
	}
	return n
}

type recordingSink struct {
	mu     sync.Mutex
	events []accounts.ActivityEvent
}

func (s *recordingSink) Record(_ context.Context, event accounts.ActivityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) Of(eventType accounts.ActivityEventType) []accounts.ActivityEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []accounts.ActivityEvent
	for _, e := range s.events {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

type quietLogger struct{}

func (quietLogger) Debug(string, ...any) {}
func (quietLogger) Info(string, ...any)  {}
func (quietLogger) Warn(string, ...any)  {}
func (quietLogger) Error(string, ...any) {}

type harness struct {
	store   *repository.Store
	manager *accounts.Manager
	mailer  *captureMailer
	sink    *recordingSink
	clock   *testClock
}

func newHarness(t *testing.T, configure ...func(*accounts.Options)) *harness {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)

	bunDB := bun.NewDB(db, sqlitedialect.New())
	_, err = bunDB.Exec("PRAGMA foreign_keys = ON;")
	require.NoError(t, err)
	require.NoError(t, repository.Migrate(context.Background(), bunDB))

	t.Cleanup(func() {
		_ = bunDB.Close()
		_ = db.Close()
	})

	opts := accounts.DefaultOptions()
	opts.TokenSigningKey = []byte("test-signing-key")
	opts.VerifyURL = verifyURL
	opts.ResetURL = resetURL
	for _, fn := range configure {
		fn(&opts)
	}

	h := &harness{
		store:  repository.NewStore(bunDB),
		mailer: &captureMailer{},
		sink:   &recordingSink{},
		clock:  newTestClock(),
	}

	h.manager, err = accounts.NewManager(h.store, opts,
		accounts.WithHasher(accounts.NewBcryptHasher(bcrypt.MinCost)),
		accounts.WithMailer(h.mailer),
		accounts.WithActivitySink(h.sink),
		accounts.WithLogger(quietLogger{}),
		accounts.WithClock(h.clock.Now),
	)
	require.NoError(t, err)

	return h
}

func withoutVerification(o *accounts.Options) {
	o.RequireStudentVerification = false
}

// tokenFrom extracts the raw token from the link inside a mail body
func tokenFrom(t *testing.T, mail accounts.Mail, base string) string {
	t.Helper()
	idx := strings.Index(mail.Body, base)
	require.GreaterOrEqual(t, idx, 0, "link %q not found in mail body", base)
	rest := mail.Body[idx+len(base):]
	if end := strings.IndexAny(rest, " \n"); end >= 0 {
		rest = rest[:end]
	}
	require.NotEmpty(t, rest)
	return rest
}

// seedAdmin creates an active admin directly through the store
func (h *harness) seedAdmin(t *testing.T, email string) *accounts.Account {
	t.Helper()
	hash, err := accounts.NewBcryptHasher(bcrypt.MinCost).Hash(strongPassword)
	require.NoError(t, err)

	now := h.clock.Now()
	admin := &accounts.Account{
		Email:         email,
		Role:          accounts.RoleAdmin,
		EmailVerified: true,
		Approved:      true,
		Active:        true,
		PasswordHash:  hash,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	ctx := context.Background()
	err = h.store.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := h.store.CreateAccountTx(ctx, tx, admin); err != nil {
			return err
		}
		_, err := accounts.EnsureProfileTx(ctx, h.store, tx, admin, now)
		return err
	})
	require.NoError(t, err)
	return admin
}

func (h *harness) registerStudent(t *testing.T, email string) *accounts.RegisterResult {
	t.Helper()
	res, err := h.manager.Register(context.Background(), nil, accounts.RegisterMessage{
		Email:    email,
		Password: strongPassword,
	})
	require.NoError(t, err)
	return res
}

func (h *harness) reload(t *testing.T, account *accounts.Account) *accounts.Account {
	t.Helper()
	fresh, err := h.manager.GetAccount(context.Background(), account.ID)
	require.NoError(t, err)
	return fresh
}

func (h *harness) requireProfile(t *testing.T, account *accounts.Account) *accounts.Profile {
	t.Helper()
	profile, err := h.store.GetProfileTx(context.Background(), h.store.DB(), account.ID)
	require.NoError(t, err, "profile missing for %s", account.Email)
	return profile
}

func (h *harness) countAccounts(t *testing.T, where string, args ...any) int {
	t.Helper()
	n, err := h.store.DB().NewSelect().Model((*accounts.Account)(nil)).Where(where, args...).Count(context.Background())
	require.NoError(t, err)
	return n
}
