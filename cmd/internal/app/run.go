package app

import (
	"context"
	"os/signal"
	"syscall"

	"rtbridge/cmd/internal/secrets"
)

// Run is the `rtbridge serve` entrypoint.
// It returns an error instead of calling os.Exit to keep defers effective and lint clean.
func Run(parent context.Context) error {
	if err := secrets.LoadDotEnv(); err != nil {
		return err
	}
	cfg, err := LoadConfig()
	if err != nil {
		return err
	}
	log := NewLogger(cfg.LogLevel, cfg.LogFormat)

	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := New(ctx, cfg, log, secrets.New())
	if err != nil {
		return err
	}
	return a.Run(ctx)
}
