// Package app provides the top-level application lifecycle for the indexer.
// It wires together stores, caches, blob storage, the chain client, services
// and pipelines, and starts the goroutines the configured mode needs.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/ctfindexer/internal/config"
)

// Options carry per-invocation arguments for the one-shot modes.
type Options struct {
	// TxHash selects the transaction for tx and decode-market modes.
	TxHash string
	// Slug selects a market for decode-market, or a single event for
	// discover mode instead of the configured list.
	Slug string
	// LogIndex picks a ConditionPreparation log when a transaction holds
	// several.
	LogIndex *uint
	// FromBlock and ToBlock make index mode backfill one range and exit.
	FromBlock *uint64
	ToBlock   *uint64
}

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	opts    Options
	out     io.Writer
	base    *slog.Logger
	logger  *slog.Logger
	closers []func()
}

// New creates a new App. One-shot modes write their JSON result to out.
func New(cfg *config.Config, opts Options, out io.Writer, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		opts:   opts,
		out:    out,
		base:   logger,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run is the main entry point. It wires all dependencies, selects the
// operating mode, and blocks until the mode finishes or the context is
// cancelled.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", a.cfg.Mode),
		slog.String("log_level", a.cfg.LogLevel),
		slog.String("stream", a.cfg.Indexer.StreamKey),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.base)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	switch strings.ToLower(a.cfg.Mode) {
	case config.ModeIndex:
		return a.IndexMode(ctx, deps)
	case config.ModeDiscover:
		return a.DiscoverMode(ctx, deps)
	case config.ModeServer:
		return a.ServerMode(ctx, deps)
	case config.ModeFull:
		return a.FullMode(ctx, deps)
	case config.ModeTx:
		return a.TxMode(ctx, deps)
	case config.ModeDecodeMarket:
		return a.DecodeMarketMode(ctx, deps)
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
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
