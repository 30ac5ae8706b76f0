package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/thanhpd/warelay/internal/config"
	"github.com/thanhpd/warelay/internal/relay"
)

// runRelay loads config, assembles the relay and blocks until SIGINT/SIGTERM.
func runRelay(ctx context.Context) error {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := relay.New(ctx, cfg)
	if err != nil {
		return err
	}

	slog.Info("warelay starting", "version", Version, "bridge", cfg.Bridge.URL, "store", cfg.Store.Driver)
	return app.Run(ctx)
}
