package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
	"github.com/karpithal/go-accounts"
	"github.com/karpithal/go-accounts/mailer"
	"github.com/karpithal/go-accounts/oauth"
	"github.com/karpithal/go-accounts/repository"
)

// Config is read from the environment, optionally seeded from a .env file
type Config struct {
	AppEnv   string `env:"KARPITHAL_APP_ENV" envDefault:"local"`
	LogLevel string `env:"KARPITHAL_LOG_LEVEL" envDefault:"info"`

	DBDriver       string        `env:"KARPITHAL_DB_DRIVER" envDefault:"sqlite"`
	DBDSN          string        `env:"KARPITHAL_DB_DSN" envDefault:"file:karpithal.db?cache=shared"`
	DBDebug        bool          `env:"KARPITHAL_DB_DEBUG" envDefault:"false"`
	DBMaxOpenConns int           `env:"KARPITHAL_DB_MAX_OPEN_CONNS" envDefault:"10"`
	DBConnMaxLife  time.Duration `env:"KARPITHAL_DB_CONN_MAX_LIFETIME" envDefault:"30m"`

	SigningKey      string        `env:"KARPITHAL_TOKEN_SIGNING_KEY,notEmpty"`
	TokenIssuer     string        `env:"KARPITHAL_TOKEN_ISSUER" envDefault:"karpithal"`
	AccessTTL       time.Duration `env:"KARPITHAL_ACCESS_TTL" envDefault:"15m"`
	RefreshTTL      time.Duration `env:"KARPITHAL_REFRESH_TTL" envDefault:"24h"`
	VerificationTTL time.Duration `env:"KARPITHAL_VERIFICATION_TTL" envDefault:"72h"`
	ResetTTL        time.Duration `env:"KARPITHAL_RESET_TTL" envDefault:"24h"`

	RequireStudentVerification bool          `env:"KARPITHAL_REQUIRE_STUDENT_VERIFICATION" envDefault:"true"`
	DeterministicIDs           bool          `env:"KARPITHAL_DETERMINISTIC_IDS" envDefault:"false"`
	PasswordHasher             string        `env:"KARPITHAL_PASSWORD_HASHER" envDefault:"argon2id"`
	MaxStaleRetries            uint64        `env:"KARPITHAL_MAX_STALE_RETRIES" envDefault:"3"`
	OperationTimeout           time.Duration `env:"KARPITHAL_OPERATION_TIMEOUT" envDefault:"10s"`

	VerifyURL string `env:"KARPITHAL_VERIFY_URL" envDefault:"http://localhost:3000/verify-email/"`
	ResetURL  string `env:"KARPITHAL_RESET_URL" envDefault:"http://localhost:3000/reset-password/"`

	Mail mailer.Config

	NATSURL           string `env:"NATS_URL"`
	NATSSubjectPrefix string `env:"NATS_SUBJECT_PREFIX" envDefault:"karpithal"`
	NATSVerifySubject string `env:"NATS_SUBJECT_VERIFY_SESSION" envDefault:"karpithal.session.verify"`
	MetricsAddr       string `env:"KARPITHAL_METRICS_ADDR"`

	GoogleClientID     string `env:"GOOGLE_CLIENT_ID"`
	AppleServiceID     string `env:"APPLE_SERVICE_ID"`
	GitHubClientID     string `env:"GITHUB_CLIENT_ID"`
	GitHubClientSecret string `env:"GITHUB_CLIENT_SECRET"`
	GitHubCallbackURL  string `env:"GITHUB_CALLBACK_URL"`
}

// Load reads .env files (missing files are ignored) and then the
// environment. Variables already set win over .env values.
func Load(files ...string) (*Config, error) {
	_ = godotenv.Load(files...)

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// MustLoad is Load for main packages
func MustLoad(files ...string) *Config {
	cfg, err := Load(files...)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

// Validate checks values env tags cannot express
func (c *Config) Validate() error {
	if len(c.SigningKey) < 16 {
		return fmt.Errorf("KARPITHAL_TOKEN_SIGNING_KEY must be at least 16 bytes")
	}
	if _, err := accounts.NewHasher(c.PasswordHasher); err != nil {
		return fmt.Errorf("KARPITHAL_PASSWORD_HASHER: %w", err)
	}
	switch strings.ToLower(c.DBDriver) {
	case repository.DriverSQLite, "sqlite3", repository.DriverPostgres, "pg", "pgx":
	default:
		return fmt.Errorf("KARPITHAL_DB_DRIVER: unsupported driver %q", c.DBDriver)
	}
	return nil
}

// IsProduction reports whether AppEnv is prod or production
func (c *Config) IsProduction() bool {
	appEnv := strings.ToLower(c.AppEnv)
	return appEnv == "prod" || appEnv == "production"
}

// Options maps the config onto the manager options
func (c *Config) Options() accounts.Options {
	opts := accounts.DefaultOptions()
	opts.RequireStudentVerification = c.RequireStudentVerification
	opts.VerificationTTL = c.VerificationTTL
	opts.ResetTTL = c.ResetTTL
	opts.TokenSigningKey = []byte(c.SigningKey)
	opts.TokenIssuer = c.TokenIssuer
	opts.AccessTokenTTL = c.AccessTTL
	opts.RefreshTokenTTL = c.RefreshTTL
	opts.VerifyURL = c.VerifyURL
	opts.ResetURL = c.ResetURL
	opts.DeterministicIDs = c.DeterministicIDs
	opts.MaxStaleRetries = c.MaxStaleRetries
	opts.OperationTimeout = c.OperationTimeout
	return opts
}

// Database returns the repository connection settings
func (c *Config) Database() repository.Config {
	return repository.Config{
		Driver:          c.DBDriver,
		DSN:             c.DBDSN,
		Debug:           c.DBDebug,
		MaxOpenConns:    c.DBMaxOpenConns,
		ConnMaxLifetime: c.DBConnMaxLife,
	}
}

// GitHub returns the GitHub verifier settings, ok is false when the app is
// not configured.
func (c *Config) GitHub() (oauth.GitHubConfig, bool) {
	cfg := oauth.GitHubConfig{
		ClientID:     c.GitHubClientID,
		ClientSecret: c.GitHubClientSecret,
		CallbackURL:  c.GitHubCallbackURL,
	}
	return cfg, cfg.ClientID != "" && cfg.ClientSecret != ""
}
