package repository

import (
	"context"
	"fmt"

	"github.com/karpithal/go-accounts"
	"github.com/uptrace/bun"
)

// Migrate creates the accounts, profiles and one_time_tokens tables with
// their indexes. It is safe to run repeatedly.
func Migrate(ctx context.Context, db *bun.DB) error {
	return db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewCreateTable().
			Model((*accounts.Account)(nil)).
			IfNotExists().
			Exec(ctx); err != nil {
			return fmt.Errorf("create accounts: %w", err)
		}

		if _, err := tx.NewCreateTable().
			Model((*accounts.Profile)(nil)).
			IfNotExists().
			ForeignKey(`("account_id") REFERENCES "accounts" ("id") ON DELETE CASCADE`).
			Exec(ctx); err != nil {
			return fmt.Errorf("create profiles: %w", err)
		}

		if _, err := tx.NewCreateTable().
			Model((*accounts.OneTimeToken)(nil)).
			IfNotExists().
			ForeignKey(`("account_id") REFERENCES "accounts" ("id") ON DELETE CASCADE`).
			Exec(ctx); err != nil {
			return fmt.Errorf("create one_time_tokens: %w", err)
		}

		if _, err := tx.NewCreateIndex().
			Model((*accounts.OneTimeToken)(nil)).
			Index("idx_one_time_tokens_account_id").
			Column("account_id").
			IfNotExists().
			Exec(ctx); err != nil {
			return fmt.Errorf("create token index: %w", err)
		}

		return nil
	})
}
