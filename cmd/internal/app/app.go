// Package app wires the warden server runtime: config, logging, stores,
// HTTP routes, the mail dispatcher and the realtime session gateway.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"warden/cmd/identity"
	authapi "warden/cmd/internal/auth/api"
	"warden/cmd/internal/auth/session"
	"warden/cmd/internal/mail"
	"warden/cmd/internal/migrations"
	"warden/cmd/internal/realtime"
	"warden/cmd/internal/verification"
	"warden/cmd/security/password"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// App is the warden server runtime. It owns the DB pool, the mail workers
// and the realtime hub, and releases them on shutdown.
type App struct {
	cfg Config
	log Logger

	reg     *prometheus.Registry
	metrics *httpMetrics

	pool *pgxpool.Pool

	hub      *realtime.Hub
	gateway  *realtime.Gateway
	mailer   *mail.Dispatcher
	sessions *session.Service
	auth     *authapi.Handler
}

// stores groups the persistence backends selected at startup.
type stores struct {
	users    identity.Store
	sessions session.Store
	codes    verification.Store
	auditor  authapi.Auditor
}

// New constructs a fully wired App. With an empty DatabaseURL every store is
// in-memory; otherwise a pool is opened and migrations are applied.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	sessCfg, err := loadSessionConfig(cfg, log)
	if err != nil {
		return nil, err
	}
	hasher, err := newTokenHasher(cfg, log)
	if err != nil {
		return nil, err
	}
	pwCfg, err := password.FromEnv()
	if err != nil {
		return nil, fmt.Errorf("password config: %w", err)
	}
	codeTTL, err := verification.TTLFromEnv()
	if err != nil {
		return nil, fmt.Errorf("verification config: %w", err)
	}
	transport, err := newMailer(cfg, log)
	if err != nil {
		return nil, err
	}

	st, pool, err := newStores(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	a := &App{cfg: cfg, log: log, pool: pool, reg: newRegistry()}
	a.metrics = newHTTPMetrics(a.reg)
	a.hub = realtime.NewHub(log, a.reg)
	a.mailer = mail.NewDispatcher(transport, mail.DispatcherConfig{
		Workers:     cfg.MailWorkers,
		QueueSize:   cfg.MailQueueSize,
		SendTimeout: cfg.MailSendTimeout,
	}, log, a.reg)

	a.sessions = session.NewService(sessCfg, st.sessions, st.users, hasher,
		session.WithNotifier(a.hub),
		session.WithMetrics(session.NewMetrics(a.reg)),
		session.WithLogger(log),
	)
	codes := verification.NewService(st.codes, codeTTL)

	a.auth, err = authapi.NewHandler(log, authapi.LoadConfigFromEnv(), st.users, a.sessions, codes,
		authapi.WithMailer(a.mailer),
		authapi.WithAuditor(st.auditor),
		authapi.WithPasswordConfig(pwCfg),
	)
	if err != nil {
		_ = a.Close(ctx)
		return nil, err
	}

	a.gateway = realtime.NewGateway(log, a.hub, a.sessions, realtime.GatewayConfigFromEnv())

	return a, nil
}

// newStores decides between Postgres-backed persistence and in-memory dev stores.
func newStores(ctx context.Context, cfg Config, log Logger) (stores, *pgxpool.Pool, error) {
	if cfg.DatabaseURL == "" {
		if cfg.Production() {
			return stores{}, nil, errors.New("WARDEN_DATABASE_URL is required in production")
		}
		log.Info("db.disabled.inmemory_store")
		return stores{
			users:    identity.NewMemoryStore(),
			sessions: session.NewMemoryStore(),
			codes:    verification.NewMemoryStore(),
			auditor:  authapi.LogAuditor{Log: log},
		}, nil, nil
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return stores{}, nil, fmt.Errorf("db: %w", err)
	}

	if cfg.AutoMigrate {
		if err := migrations.Up(ctx, pool); err != nil {
			pool.Close()
			return stores{}, nil, err
		}
		log.Info("db.migrations.applied")
	}

	users, err := identity.NewPostgresStore(pool)
	if err != nil {
		pool.Close()
		return stores{}, nil, err
	}

	log.Info("db.enabled.postgres_store")
	return stores{
		users:    users,
		sessions: session.NewPostgresStore(pool),
		codes:    verification.NewPostgresStore(pool),
		auditor:  authapi.NewPostgresAuditor(pool),
	}, pool, nil
}

// newMailer picks SMTP delivery when an address is configured and the log
// mailer otherwise.
func newMailer(cfg Config, log Logger) (mail.Mailer, error) {
	if cfg.SMTPAddr == "" {
		log.Info("mail.transport", "kind", "log")
		return mail.NewLogMailer(log), nil
	}
	m, err := mail.NewSMTPMailer(mail.SMTPConfig{
		Addr:     cfg.SMTPAddr,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
	})
	if err != nil {
		return nil, err
	}
	log.Info("mail.transport", "kind", "smtp", "addr", cfg.SMTPAddr)
	return m, nil
}

// Run starts the HTTP server and blocks until context cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "env", a.cfg.Env, "db_enabled", a.pool != nil)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case runErr = <-errCh:
		a.log.Error("server.fail", "err", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), nonZeroDuration(a.cfg.ShutdownTimeout, 10*time.Second))
	defer cancel()

	// Websocket connections are hijacked and invisible to srv.Shutdown.
	a.hub.Shutdown()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		runErr = errors.Join(runErr, err)
	}

	if err := a.Close(shutdownCtx); err != nil {
		runErr = errors.Join(runErr, err)
	}

	a.log.Info("server.stopped")
	return runErr
}

// Close drains the mail queue, disconnects realtime clients and closes the pool.
func (a *App) Close(ctx context.Context) error {
	var err error
	if a.hub != nil {
		a.hub.Shutdown()
	}
	if a.mailer != nil {
		if cerr := a.mailer.Close(ctx); cerr != nil {
			a.log.Error("mail.close.fail", "err", cerr)
			err = cerr
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
	return err
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
