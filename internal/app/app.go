// Package app provides top-level lifecycle management for the vault daemon.
// It wires the stores, caches, oracle, engine, and services, starts the price
// feed goroutines, and blocks until shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/harborfi/vaultd/internal/config"
	"github.com/harborfi/vaultd/internal/domain"
	"github.com/harborfi/vaultd/internal/feed"
	"github.com/harborfi/vaultd/internal/oracle"
)

// App is the root application object. It owns the configuration, logger, and
// a list of cleanup functions that are called in reverse order on shutdown.
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

// Run wires all dependencies, starts the feed goroutines, and blocks until
// the context is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting vault daemon",
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	g, gctx := errgroup.WithContext(ctx)

	if a.cfg.Feed.Enabled {
		bridge := &registeringApplier{oracle: deps.Oracle}
		wsFeed := feed.NewWSFeed(a.cfg.Feed.WsURL, a.cfg.Feed.Symbols, bridge, a.logger)
		bridge.source = wsFeed
		a.closers = append(a.closers, wsFeed.Close)
		g.Go(func() error {
			return wsFeed.Run(gctx)
		})
	}

	updater := feed.NewUpdater(deps.Oracle, a.logger)
	g.Go(func() error {
		return updater.Run(gctx)
	})

	err = g.Wait()
	if err != nil && gctx.Err() == nil {
		return fmt.Errorf("app: %w", err)
	}
	return nil
}

// registeringApplier forwards pushed price updates to the aggregator,
// registering the stream as the symbol's feed on first sight. The stream
// records its latest tick before applying, so registration can seed from it.
type registeringApplier struct {
	oracle *oracle.Aggregator
	source oracle.FeedSource
}

func (r *registeringApplier) Apply(ctx context.Context, info domain.PriceInfo) error {
	err := r.oracle.Apply(ctx, info)
	if errors.Is(err, domain.ErrUnknownAsset) {
		return r.oracle.RegisterFeed(ctx, info.Symbol, r.source)
	}
	return err
}

// Close tears down all resources in reverse registration order. Safe to call
// multiple times.
func (a *App) Close() {
	a.logger.Info("shutting down vault daemon")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
