package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-print"
	"github.com/karpithal/go-accounts"
	"github.com/karpithal/go-accounts/activitysink"
	"github.com/karpithal/go-accounts/config"
	"github.com/karpithal/go-accounts/mailer"
	"github.com/karpithal/go-accounts/natsrpc"
	"github.com/karpithal/go-accounts/oauth"
	"github.com/karpithal/go-accounts/repository"
	nats "github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/uptrace/bun"
)

const usage = `usage: accounts <command> [flags]

commands:
  migrate            create the accounts, profiles and one_time_tokens tables
  create-superuser   create an active admin (-email, -password)
  purge-tokens       delete expired and consumed one-time tokens (-older-than)
  oauth-login        verify a provider credential and print the session (-provider, -credential)
  show-config        print the resolved configuration
  serve              answer session verification requests over NATS and expose metrics
`

type app struct {
	cfg     *config.Config
	lgr     *glog.BaseLogger
	logger  glog.Logger
	db      *bun.DB
	store   *repository.Store
	manager *accounts.Manager
	closers []func()
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	lgr := glog.NewLogger(
		glog.WithLoggerTypePretty(),
		glog.WithLevel(glog.Trace),
		glog.WithName("accounts"),
		glog.WithAddSource(false),
		glog.WithRichErrorHandler(goerrors.ToSlogAttributes),
	)
	logger := lgr.GetLogger("cmd")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, lgr, os.Args[1], os.Args[2:]); err != nil {
		logger.Error("command failed", "command", os.Args[1], "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, lgr *glog.BaseLogger, command string, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	switch command {
	case "show-config":
		masked := *cfg
		masked.SigningKey = "********"
		masked.Mail.Password = "********"
		masked.GitHubClientSecret = "********"
		fmt.Println(print.MaybePrettyJSON(masked))
		return nil
	case "migrate", "create-superuser", "purge-tokens", "oauth-login", "serve":
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", command)
	}

	a, err := newApp(ctx, cfg, lgr)
	if err != nil {
		return err
	}
	defer a.close()

	switch command {
	case "migrate":
		if err := repository.Migrate(ctx, a.db); err != nil {
			return err
		}
		a.logger.Info("schema migrated", "driver", cfg.DBDriver)
		return nil
	case "create-superuser":
		return a.createSuperuser(ctx, args)
	case "purge-tokens":
		return a.purgeTokens(ctx, args)
	case "oauth-login":
		return a.oauthLogin(ctx, args)
	default:
		return a.serve(ctx)
	}
}

func newApp(ctx context.Context, cfg *config.Config, lgr *glog.BaseLogger) (*app, error) {
	a := &app{cfg: cfg, lgr: lgr, logger: lgr.GetLogger("cmd")}

	db, err := repository.Open(ctx, cfg.Database())
	if err != nil {
		return nil, err
	}
	a.db = db
	a.closers = append(a.closers, func() { _ = db.Close() })
	a.store = repository.NewStore(db)

	if err := a.buildManager(nil); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

// buildManager wires the account manager. A nil sink discards activity.
func (a *app) buildManager(sink accounts.ActivitySink) error {
	hasher, err := accounts.NewHasher(a.cfg.PasswordHasher)
	if err != nil {
		return err
	}
	mail, err := mailer.New(a.cfg.Mail, a.lgr.GetLogger("mailer"))
	if err != nil {
		return err
	}
	a.manager, err = accounts.NewManager(a.store, a.cfg.Options(),
		accounts.WithHasher(hasher),
		accounts.WithMailer(mail),
		accounts.WithLogger(a.lgr.GetLogger("accounts")),
		accounts.WithActivitySink(sink),
	)
	return err
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *app) createSuperuser(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("create-superuser", flag.ContinueOnError)
	email := fs.String("email", "", "admin email")
	password := fs.String("password", os.Getenv("KARPITHAL_SUPERUSER_PASSWORD"), "admin password, defaults to $KARPITHAL_SUPERUSER_PASSWORD")
	if err := fs.Parse(args); err != nil {
		return err
	}

	admin, err := a.manager.CreateSuperuser(ctx, accounts.CreateSuperuserMessage{Email: *email, Password: *password})
	if err != nil {
		if fields, ok := accounts.ValidationFields(err); ok {
			fmt.Fprintln(os.Stderr, print.MaybePrettyJSON(fields))
		}
		return err
	}
	fmt.Println(print.MaybePrettyJSON(admin))
	return nil
}

func (a *app) purgeTokens(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("purge-tokens", flag.ContinueOnError)
	olderThan := fs.Duration("older-than", 0, "keep tokens that expired or were used less than this long ago")
	if err := fs.Parse(args); err != nil {
		return err
	}

	n, err := a.store.DeleteExpiredTokens(ctx, time.Now().Add(-*olderThan))
	if err != nil {
		return err
	}
	a.logger.Info("one-time tokens purged", "deleted", n)
	return nil
}

func (a *app) oauthLogin(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("oauth-login", flag.ContinueOnError)
	provider := fs.String("provider", "", "google, github or apple")
	credential := fs.String("credential", "", "ID token (google, apple) or authorization code (github)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	registry, err := a.verifiers()
	if err != nil {
		return err
	}

	result, err := registry.Login(ctx, a.manager, *provider, *credential)
	if err != nil {
		return err
	}
	fmt.Println(print.MaybePrettyJSON(result))
	return nil
}

func (a *app) verifiers() (*oauth.Registry, error) {
	registry := oauth.NewRegistry()

	if a.cfg.GoogleClientID != "" {
		google, err := oauth.NewGoogleVerifier(a.cfg.GoogleClientID, nil)
		if err != nil {
			return nil, err
		}
		registry.Register(google)
	}
	if gh, ok := a.cfg.GitHub(); ok {
		registry.Register(oauth.NewGitHubVerifier(gh))
	}
	if a.cfg.AppleServiceID != "" {
		apple, err := oauth.NewAppleVerifier(a.cfg.AppleServiceID, a.logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, apple.Close)
		registry.Register(apple)
	}
	return registry, nil
}

func (a *app) serve(ctx context.Context) error {
	metrics, err := activitysink.NewMetricsSink(prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}
	sinks := accounts.MultiSink{metrics}

	var nc *nats.Conn
	if a.cfg.NATSURL != "" {
		var publisher *activitysink.NATSSink
		publisher, nc, err = activitysink.Connect(a.cfg.NATSURL, a.cfg.NATSSubjectPrefix)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func() { _ = nc.Drain() })
		sinks = append(sinks, publisher)
	}

	if err := a.buildManager(sinks); err != nil {
		return err
	}

	if nc != nil {
		handler := natsrpc.NewVerifyHandler(a.manager, a.logger)
		if _, err := handler.Subscribe(nc, a.cfg.NATSVerifySubject, "karpithal-accounts"); err != nil {
			return err
		}
		a.logger.Info("answering session verification", "subject", a.cfg.NATSVerifySubject)
	}

	var srv *http.Server
	if a.cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv = &http.Server{Addr: a.cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("metrics server stopped", "error", err)
			}
		}()
		a.logger.Info("metrics listening", "addr", a.cfg.MetricsAddr)
	}

	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if srv != nil {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}
			a.logger.Info("shutting down")
			return nil
		case <-ticker.C:
			if n, err := a.store.DeleteExpiredTokens(ctx, time.Now()); err != nil {
				a.logger.Error("token purge failed", "error", err)
			} else if n > 0 {
				a.logger.Info("one-time tokens purged", "deleted", n)
			}
		}
	}
}
