// Package app wires the configured backends together and runs the daemon in
// its selected mode.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/opinionsmarket/internal/config"
	"github.com/alanyoungcy/opinionsmarket/internal/domain"
)

// App is the top-level application container.
type App struct {
	cfg    *config.Config
	logger *slog.Logger
}

// New creates a new App with the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger,
	}
}

// Run wires all dependencies, makes sure the market is initialized and
// starts the components for the configured mode. It blocks until ctx is
// cancelled or a component fails.
func (a *App) Run(ctx context.Context) error {
	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire: %w", err)
	}
	defer cleanup()

	if err := a.ensureMarket(ctx, deps); err != nil {
		return err
	}

	a.logger.InfoContext(ctx, "starting",
		slog.String("mode", a.cfg.Mode),
		slog.String("store", a.cfg.Store.Driver),
		slog.Bool("redis", a.cfg.Redis.Enabled),
		slog.Bool("s3", a.cfg.S3.Enabled),
	)

	switch a.cfg.Mode {
	case "api":
		return runAPI(ctx, a.cfg, deps, a.logger)
	case "keeper":
		return runKeeper(ctx, a.cfg, deps, a.logger)
	case "full":
		return runFull(ctx, a.cfg, deps, a.logger)
	default:
		return fmt.Errorf("app: unknown mode %q", a.cfg.Mode)
	}
}

// ensureMarket seeds the market from the [market] section on first start.
// An existing market keeps its stored configuration.
func (a *App) ensureMarket(ctx context.Context, deps *Dependencies) error {
	cfg, err := deps.Engine.InitializeMarket(ctx, a.cfg.Market.Domain(), a.cfg.Market.BaseDecimals)
	switch {
	case errors.Is(err, domain.ErrMarketInitialized):
		a.logger.DebugContext(ctx, "market already initialized")
		return nil
	case err != nil:
		return fmt.Errorf("app: initialize market: %w", err)
	}
	a.logger.InfoContext(ctx, "market initialized",
		slog.String("admin", cfg.Admin),
		slog.String("base_currency", cfg.BaseCurrency),
	)
	return nil
}
