package app

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/novelbytelabs/arqonbus/internal/ws"
)

// Run is the CLI entrypoint used by cmd/arqonbus.
// It returns an error instead of calling os.Exit to keep defers effective.
func Run() error {
	cfg := LoadConfig()
	log := NewLogger(cfg.LogLevel, cfg.LogFormat)

	// HeaderAuthenticator is dev-only: it trusts caller-supplied headers
	// with no cryptographic verification. A production deployment plugs
	// in its own ws.Authenticator at an edge/auth layer instead.
	a, err := New(cfg, log, ws.NewHeaderAuthenticator())
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return a.Run(ctx)
}
