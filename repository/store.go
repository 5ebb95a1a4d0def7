package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
	repobun "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/karpithal/go-accounts"
	"github.com/uptrace/bun"
)

const pgUniqueViolation = "23505"

// Store implements accounts.Store on top of bun
type Store struct {
	db *bun.DB
}

var _ accounts.Store = (*Store)(nil)

// NewStore creates a new store
func NewStore(db *bun.DB) *Store {
	return &Store{db: db}
}

// DB returns the underlying database
func (s *Store) DB() *bun.DB {
	return s.db
}

func (s *Store) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return s.db.RunInTx(ctx, opts, f)
	}
}

func (s *Store) CreateAccountTx(ctx context.Context, tx bun.IDB, account *accounts.Account) (*accounts.Account, error) {
	account.Email = accounts.NormalizeEmail(account.Email)
	if err := validation.Validate(account.Email, validation.Required, is.Email); err != nil {
		return nil, accounts.ErrInvalidEmail
	}
	if account.ID == uuid.Nil {
		account.ID = uuid.New()
	}
	if account.Version == 0 {
		account.Version = 1
	}

	if _, err := tx.NewInsert().Model(account).Exec(ctx); err != nil {
		return nil, mapWriteError(err)
	}
	return account, nil
}

func (s *Store) GetAccountByIDTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*accounts.Account, error) {
	account := &accounts.Account{}
	err := tx.NewSelect().Model(account).Where("?TableAlias.id = ?", id).Limit(1).Scan(ctx)
	if err != nil {
		return nil, mapReadError(err)
	}
	return account, nil
}

func (s *Store) GetAccountByEmailTx(ctx context.Context, tx bun.IDB, email string) (*accounts.Account, error) {
	account := &accounts.Account{}
	err := tx.NewSelect().
		Model(account).
		Where("?TableAlias.email = ?", accounts.NormalizeEmail(email)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, mapReadError(err)
	}
	return account, nil
}

func (s *Store) GetAccountByOAuthIdentityTx(ctx context.Context, tx bun.IDB, provider, subject string) (*accounts.Account, error) {
	account := &accounts.Account{}
	err := tx.NewSelect().
		Model(account).
		Where("?TableAlias.oauth_provider = ? AND ?TableAlias.oauth_subject = ?", provider, subject).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, mapReadError(err)
	}
	return account, nil
}

// UpdateAccountTx writes every column when the stored version still matches
func (s *Store) UpdateAccountTx(ctx context.Context, tx bun.IDB, account *accounts.Account) (*accounts.Account, error) {
	expected := account.Version
	account.Version = expected + 1

	res, err := tx.NewUpdate().
		Model(account).
		WherePK().
		Where("version = ?", expected).
		Exec(ctx)
	if err != nil {
		account.Version = expected
		return nil, mapWriteError(err)
	}

	if n, err := res.RowsAffected(); err != nil {
		account.Version = expected
		return nil, err
	} else if n == 0 {
		account.Version = expected
		if _, err := s.GetAccountByIDTx(ctx, tx, account.ID); err != nil {
			return nil, err
		}
		return nil, accounts.ErrStaleWrite
	}

	return account, nil
}

func (s *Store) GetProfileTx(ctx context.Context, tx bun.IDB, accountID uuid.UUID) (*accounts.Profile, error) {
	profile := &accounts.Profile{}
	err := tx.NewSelect().Model(profile).Where("?TableAlias.account_id = ?", accountID).Limit(1).Scan(ctx)
	if err != nil {
		return nil, mapReadError(err)
	}
	return profile, nil
}

// CreateProfileTx inserts the profile, a concurrent insert for the same
// account is not an error.
func (s *Store) CreateProfileTx(ctx context.Context, tx bun.IDB, profile *accounts.Profile) (*accounts.Profile, error) {
	if _, err := tx.NewInsert().Model(profile).On("CONFLICT (account_id) DO NOTHING").Exec(ctx); err != nil {
		return nil, mapWriteError(err)
	}
	return s.GetProfileTx(ctx, tx, profile.AccountID)
}

func (s *Store) UpdateProfileTx(ctx context.Context, tx bun.IDB, profile *accounts.Profile) (*accounts.Profile, error) {
	res, err := tx.NewUpdate().Model(profile).WherePK().Exec(ctx)
	if err != nil {
		return nil, mapWriteError(err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, accounts.ErrNotFound
	}
	return profile, nil
}

func (s *Store) CreateTokenTx(ctx context.Context, tx bun.IDB, token *accounts.OneTimeToken) (*accounts.OneTimeToken, error) {
	if token.ID == uuid.Nil {
		token.ID = uuid.New()
	}
	if _, err := tx.NewInsert().Model(token).Exec(ctx); err != nil {
		return nil, mapWriteError(err)
	}
	return token, nil
}

func (s *Store) GetTokenTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*accounts.OneTimeToken, error) {
	token := &accounts.OneTimeToken{}
	err := tx.NewSelect().Model(token).Where("?TableAlias.id = ?", id).Limit(1).Scan(ctx)
	if err != nil {
		return nil, mapReadError(err)
	}
	return token, nil
}

// ConsumeTokenTx only touches rows that are still unconsumed, so of two
// racing consumers exactly one sees a row affected.
func (s *Store) ConsumeTokenTx(ctx context.Context, tx bun.IDB, id uuid.UUID, at time.Time) error {
	res, err := tx.NewUpdate().
		Model((*accounts.OneTimeToken)(nil)).
		Set("consumed_at = ?", at).
		Where("id = ?", id).
		Where("consumed_at IS NULL").
		Exec(ctx)
	if err != nil {
		return mapWriteError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return accounts.ErrTokenUsed
	}
	return nil
}

// DeleteExpiredTokens removes tokens that expired or were consumed before the cutoff
func (s *Store) DeleteExpiredTokens(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.NewDelete().
		Model((*accounts.OneTimeToken)(nil)).
		WhereGroup(" AND ", func(q *bun.DeleteQuery) *bun.DeleteQuery {
			return q.Where("expires_at < ?", before).WhereOr("consumed_at < ?", before)
		}).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func mapReadError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) || repobun.IsRecordNotFound(err) {
		return accounts.ErrNotFound
	}
	return err
}

func mapWriteError(err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code != pgUniqueViolation {
			return err
		}
		return uniqueViolation(err, pgErr.ConstraintName+" "+pgErr.Detail)
	}

	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return uniqueViolation(err, err.Error())
	}
	return err
}

func uniqueViolation(err error, detail string) error {
	detail = strings.ToLower(detail)
	switch {
	case strings.Contains(detail, "oauth"):
		return accounts.ErrDuplicateOAuthIdentity
	case strings.Contains(detail, "email"):
		return accounts.ErrDuplicateEmail
	default:
		return goerrors.Wrap(err, goerrors.CategoryConflict, "unique constraint violated")
	}
}
