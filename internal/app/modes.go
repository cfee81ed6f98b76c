package app

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/opinionsmarket/internal/auth"
	"github.com/alanyoungcy/opinionsmarket/internal/batcher"
	"github.com/alanyoungcy/opinionsmarket/internal/config"
	"github.com/alanyoungcy/opinionsmarket/internal/pipeline"
	"github.com/alanyoungcy/opinionsmarket/internal/server"
	"github.com/alanyoungcy/opinionsmarket/internal/server/handler"
	"github.com/alanyoungcy/opinionsmarket/internal/server/ws"
)

// runAPI starts the HTTP server, the WebSocket hub and, when enabled, the
// vote batcher.
func runAPI(ctx context.Context, cfg *config.Config, deps *Dependencies, logger *slog.Logger) error {
	g, ctx := errgroup.WithContext(ctx)
	startAPI(ctx, g, cfg, deps, logger)
	return g.Wait()
}

// runKeeper runs the settlement keeper and the archive job on their cron
// schedules.
func runKeeper(ctx context.Context, cfg *config.Config, deps *Dependencies, logger *slog.Logger) error {
	sched, err := buildScheduler(cfg, deps, logger)
	if err != nil {
		return err
	}
	return sched.Run(ctx)
}

// runFull runs the API and the scheduled jobs in one process.
func runFull(ctx context.Context, cfg *config.Config, deps *Dependencies, logger *slog.Logger) error {
	sched, err := buildScheduler(cfg, deps, logger)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	startAPI(ctx, g, cfg, deps, logger)
	g.Go(func() error {
		return sched.Run(ctx)
	})
	return g.Wait()
}

func startAPI(ctx context.Context, g *errgroup.Group, cfg *config.Config, deps *Dependencies, logger *slog.Logger) {
	tokens := auth.NewService(cfg.Server.JWTSecret, cfg.Server.TokenTTL.Duration, cfg.Server.ChallengeTTL.Duration)

	var queue handler.VoteQueue
	if cfg.Batcher.Enabled {
		b := batcher.New(
			deps.Market,
			cfg.Batcher.FlushInterval.Duration,
			cfg.Batcher.MaxPending,
			batcher.NewDedup(cfg.Batcher.DedupTTL.Duration),
			logger,
		)
		queue = b
		g.Go(func() error {
			return b.Run(ctx)
		})
	}

	hub := ws.NewHub(deps.SignalBus, logger, ws.Config{
		Mode:           cfg.Mode,
		StartedAt:      time.Now(),
		AllowedOrigins: cfg.Server.CORSOrigins,
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	handlers := server.Handlers{
		Health:  handler.NewHealthHandler(deps.HealthChecks, logger),
		Auth:    handler.NewAuthHandler(tokens, logger),
		Market:  handler.NewMarketHandler(deps.Market, queue, logger),
		Account: handler.NewAccountHandler(deps.Market, logger),
		Admin:   handler.NewAdminHandler(deps.Market, logger),
	}
	srv := server.NewServer(server.Config{
		Port:          cfg.Server.Port,
		CORSOrigins:   cfg.Server.CORSOrigins,
		RateLimit:     cfg.Server.RateLimit,
		RateWindow:    cfg.Server.RateWindow.Duration,
		AdminAPIKey:   cfg.Server.AdminAPIKey,
		AdminIdentity: cfg.Market.Admin,
		ReadTimeout:   cfg.Server.ReadTimeout.Duration,
		WriteTimeout:  cfg.Server.WriteTimeout.Duration,
	}, handlers, hub, tokens, deps.RateLimiter, logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

func buildScheduler(cfg *config.Config, deps *Dependencies, logger *slog.Logger) (*pipeline.Scheduler, error) {
	sched := pipeline.NewScheduler(logger)

	if cfg.Keeper.Enabled {
		keeper := pipeline.NewKeeper(
			deps.Market,
			deps.LockManager,
			deps.Notifier,
			cfg.Keeper.BatchSize,
			cfg.Keeper.LockTTL.Duration,
			logger,
		)
		if err := sched.Add("keeper", cfg.Keeper.Schedule, keeper); err != nil {
			return nil, err
		}
	}

	if cfg.Archive.Enabled {
		if deps.Archiver == nil {
			logger.Warn("archive enabled without s3; archive job not scheduled")
		} else {
			job := pipeline.NewArchiveJob(deps.Archiver, cfg.Archive.RetentionDays, deps.Notifier, logger)
			if err := sched.Add("archive", cfg.Archive.Schedule, job); err != nil {
				return nil, err
			}
		}
	}
	return sched, nil
}
