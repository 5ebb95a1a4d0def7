package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"github.com/uptrace/bun/extra/bundebug"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	// DefaultSQLiteDSN keeps data on disk between CLI invocations
	DefaultSQLiteDSN = "file:karpithal.db?cache=shared"
)

// Config selects the database driver
type Config struct {
	Driver          string
	DSN             string
	Debug           bool
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

// Open connects to sqlite (through sqliteshim) or postgres (through the pgx
// stdlib driver) and pings the database.
func Open(ctx context.Context, cfg Config) (*bun.DB, error) {
	var (
		sqldb *sql.DB
		db    *bun.DB
		err   error
	)

	switch strings.ToLower(cfg.Driver) {
	case "", DriverSQLite, "sqlite3":
		dsn := cfg.DSN
		if dsn == "" {
			dsn = DefaultSQLiteDSN
		}
		if sqldb, err = sql.Open(sqliteshim.ShimName, dsn); err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		// sqlite serializes writers, a single connection avoids SQLITE_BUSY
		sqldb.SetMaxOpenConns(1)
		db = bun.NewDB(sqldb, sqlitedialect.New())
	case DriverPostgres, "pg", "pgx":
		if sqldb, err = sql.Open("pgx", cfg.DSN); err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		if cfg.MaxOpenConns > 0 {
			sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
		}
		db = bun.NewDB(sqldb, pgdialect.New())
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	if cfg.ConnMaxLifetime > 0 {
		sqldb.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if cfg.Debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return db, nil
}
