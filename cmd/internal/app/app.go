// Package app wires the rtbridge relay server: config, logging, metrics,
// the session journal, and the HTTP routes around the relay gateway.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"rtbridge/cmd/internal/relay"
	"rtbridge/cmd/internal/secrets"
	"rtbridge/cmd/internal/socket"
	"rtbridge/cmd/security/accesskey"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// App owns the HTTP server and everything the relay gateway depends on.
type App struct {
	cfg Config
	log Logger
	reg *prometheus.Registry

	// nil when the journal is in memory
	pool    *pgxpool.Pool
	gateway *relay.Gateway
}

// New builds an App. The upstream key is looked up in store on every connect.
func New(ctx context.Context, cfg Config, log Logger, store *secrets.Store) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}
	if store == nil {
		store = secrets.New()
	}

	// Fail at startup rather than on the first browser connection.
	if _, err := cfg.UpstreamSettings(store); err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	rc := cfg.Relay
	if cfg.AccessKeyHash != "" {
		kc, err := accesskey.FromEnv()
		if err != nil {
			return nil, err
		}
		v, err := accesskey.NewVerifier(kc, cfg.AccessKeyHash)
		if err != nil {
			return nil, fmt.Errorf("RTB_RELAY_ACCESS_KEY_HASH: %w", err)
		}
		rc.AccessKey = v
	} else {
		log.Warn("relay.access_key.disabled")
	}

	pool, journal, err := newJournal(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	gw := relay.NewGateway(rc, cfg.Upstream(store), relay.Options{
		Logger:        log,
		Journal:       journal,
		Metrics:       relay.NewMetrics(reg),
		BridgeMetrics: socket.NewMetrics(reg),
		Dialer:        socket.WebSocketDialer(cfg.ReadLimit),
	})

	return &App{cfg: cfg, log: log, reg: reg, pool: pool, gateway: gw}, nil
}

// newJournal picks Postgres when RTB_DATABASE_URL is set, memory otherwise.
func newJournal(ctx context.Context, cfg Config, log Logger) (*pgxpool.Pool, relay.Journal, error) {
	if cfg.DatabaseURL == "" {
		log.Info("db.disabled.memory_journal")
		return nil, relay.NewMemoryJournal(), nil
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	j, err := relay.NewPostgresJournal(pool, relay.WithSchema(cfg.DBSchema))
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	if cfg.DBMigrate {
		if err := j.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
	}
	log.Info("db.enabled.postgres_journal", "schema", cfg.DBSchema)
	return pool, j, nil
}

// Handler returns the routed, logged HTTP handler.
func (a *App) Handler() http.Handler {
	return WithRequestLogging(WithSecurityHeaders(a.routes()), a.log)
}

// Run serves until ctx is done or the listener fails.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: a.cfg.ReadHeaderTimeout,
		ReadTimeout:       a.cfg.ReadTimeout,
		WriteTimeout:      a.cfg.WriteTimeout,
		IdleTimeout:       a.cfg.IdleTimeout,
		MaxHeaderBytes:    a.cfg.MaxHeaderBytes,
	}

	a.log.Info("server.start",
		"addr", a.cfg.HTTPAddr,
		"provider", a.cfg.Provider,
		"db_enabled", a.pool != nil,
	)

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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		runErr = errors.Join(runErr, err)
	}
	a.Close()

	a.log.Info("server.stopped")
	return runErr
}

// Close releases the DB pool, if any.
func (a *App) Close() {
	if a.pool != nil {
		a.pool.Close()
		a.pool = nil
	}
}
