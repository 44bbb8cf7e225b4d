// Package app provides the top-level application lifecycle for escrowd. It
// wires the engine to its stores, caches, archive, notifications and HTTP
// gateway, and runs the long-lived goroutines until the context ends.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/escrowd/internal/config"
)

// shutdownTimeout bounds the HTTP server's graceful shutdown.
const shutdownTimeout = 5 * time.Second

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires all dependencies, seeds genesis state, starts the dispatcher,
// hub, archive, writer lease and HTTP server, and blocks until ctx is
// cancelled or one of them fails.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("engine", a.cfg.Engine.Address),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	// The lease must be held before anything is written.
	if deps.Lease != nil {
		if err := deps.Lease.Acquire(ctx); err != nil {
			return fmt.Errorf("app: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	if deps.Lease != nil {
		g.Go(func() error { return deps.Lease.Run(gctx) })
	}
	g.Go(func() error { return deps.Dispatcher.Run(gctx) })
	g.Go(func() error { return deps.Hub.Run(gctx) })

	if path := a.cfg.Genesis.Path; path != "" {
		genesis, err := seedGenesis(gctx, path, deps.Ledger)
		if err != nil {
			cancel()
			_ = g.Wait()
			return fmt.Errorf("app: genesis: %w", err)
		}
		a.logger.InfoContext(ctx, "genesis seeded",
			slog.String("path", path),
			slog.Int("balances", len(genesis.Balances)),
			slog.Int("assets", len(genesis.Assets)),
			slog.Int("approvals", len(genesis.Approvals)),
		)
	}

	if deps.Archive != nil {
		g.Go(func() error { return deps.Archive.Run(gctx) })
	}

	if deps.Server != nil {
		srv := deps.Server
		g.Go(srv.Start)
		g.Go(func() error {
			<-gctx.Done()
			shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			a.logger.InfoContext(ctx, "HTTP server shutting down")
			return srv.Shutdown(shutCtx)
		})
	}

	a.logger.InfoContext(ctx, "application started", slog.String("run_id", deps.RunID))
	return g.Wait()
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
