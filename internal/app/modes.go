package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/ctfindexer/internal/domain"
	"github.com/alanyoungcy/ctfindexer/internal/pipeline"
	"github.com/alanyoungcy/ctfindexer/internal/server"
	"github.com/alanyoungcy/ctfindexer/internal/server/handler"
	"github.com/alanyoungcy/ctfindexer/internal/server/ws"
	"github.com/alanyoungcy/ctfindexer/internal/service"
)

var errNoIndexer = errors.New("indexer not wired (needs postgres and chain)")

// IndexMode follows the chain head. With FromBlock and ToBlock set it
// backfills that range once and prints the run report instead.
func (a *App) IndexMode(ctx context.Context, deps *Dependencies) error {
	if deps.Loop == nil {
		return fmt.Errorf("index mode: %w", errNoIndexer)
	}

	if a.opts.FromBlock != nil || a.opts.ToBlock != nil {
		if a.opts.FromBlock == nil || a.opts.ToBlock == nil {
			return errors.New("index mode: --from and --to must be given together")
		}
		report, err := deps.Indexer.IndexRange(ctx, *a.opts.FromBlock, *a.opts.ToBlock)
		if perr := a.printJSON(report); perr != nil {
			return perr
		}
		if err != nil {
			return fmt.Errorf("index mode: %w", err)
		}
		return nil
	}

	a.logger.InfoContext(ctx, "starting index mode")
	return a.orchestrator(deps, nil).Run(ctx)
}

// DiscoverMode pulls every configured event (or the one named by Slug) from
// Gamma into the registry and prints the results.
func (a *App) DiscoverMode(ctx context.Context, deps *Dependencies) error {
	slugs := a.cfg.Polymarket.EventSlugs
	if a.opts.Slug != "" {
		slugs = []string{a.opts.Slug}
	}
	if len(slugs) == 0 {
		return errors.New("discover mode: no event slugs configured")
	}

	results := make([]service.DiscoveryResult, 0, len(slugs))
	var errs []error
	for _, slug := range slugs {
		res, err := deps.Discovery.DiscoverEvent(ctx, slug)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		results = append(results, res)
	}
	if err := a.printJSON(results); err != nil {
		return err
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("discover mode: %w", err)
	}
	return nil
}

// ServerMode serves the query API and the live feed without indexing.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps, nil)
	return ignoreCanceled(g.Wait())
}

// FullMode runs the indexer loop, periodic discovery, the archive and the
// HTTP server together.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	if deps.Loop == nil {
		return fmt.Errorf("full mode: %w", errNoIndexer)
	}
	a.logger.InfoContext(ctx, "starting full mode",
		slog.Int("event_slugs", len(a.cfg.Polymarket.EventSlugs)),
		slog.Bool("archive", deps.Archiver != nil),
	)

	g, ctx := errgroup.WithContext(ctx)

	var discovery *pipeline.DiscoveryLoop
	if len(a.cfg.Polymarket.EventSlugs) > 0 {
		discovery = pipeline.NewDiscoveryLoop(deps.Discovery, a.cfg.Polymarket.EventSlugs, a.base)
	}
	orch := a.orchestrator(deps, discovery)
	g.Go(func() error {
		return orch.Run(ctx)
	})

	a.startHTTPServer(ctx, g, deps, deps.Loop)
	return ignoreCanceled(g.Wait())
}

// TxMode indexes a single transaction and prints the run report. The
// watermark is left unchanged.
func (a *App) TxMode(ctx context.Context, deps *Dependencies) error {
	if a.opts.TxHash == "" {
		return errors.New("tx mode: --tx is required")
	}
	if deps.Indexer == nil {
		return fmt.Errorf("tx mode: %w", errNoIndexer)
	}
	report, err := deps.Indexer.IndexTransaction(ctx, a.opts.TxHash)
	if perr := a.printJSON(report); perr != nil {
		return perr
	}
	if err != nil {
		return fmt.Errorf("tx mode: %w", err)
	}
	return nil
}

// decodedMarket is printed by decode-market mode.
type decodedMarket struct {
	Source     string              `json:"source"`
	Market     domain.Market       `json:"market"`
	Comparison *service.Comparison `json:"comparison,omitempty"`
}

// DecodeMarketMode derives a market's token ids from a ConditionPreparation
// transaction or from Gamma metadata, without storing anything.
func (a *App) DecodeMarketMode(ctx context.Context, deps *Dependencies) error {
	switch {
	case a.opts.TxHash != "":
		m, err := deps.Discovery.DecodeMarketFromTx(ctx, a.opts.TxHash, a.opts.LogIndex)
		if err != nil {
			return fmt.Errorf("decode-market mode: %w", err)
		}
		return a.printJSON(decodedMarket{Source: "tx", Market: m})
	case a.opts.Slug != "":
		m, cmp, err := deps.Discovery.DecodeMarketFromSlug(ctx, a.opts.Slug)
		if err != nil {
			return fmt.Errorf("decode-market mode: %w", err)
		}
		return a.printJSON(decodedMarket{Source: "gamma", Market: m, Comparison: &cmp})
	default:
		return errors.New("decode-market mode: --tx or --slug is required")
	}
}

func (a *App) orchestrator(deps *Dependencies, discovery *pipeline.DiscoveryLoop) *pipeline.Orchestrator {
	var archiver *pipeline.Archiver
	if deps.Archiver != nil {
		archiver = pipeline.NewArchiver(deps.Archiver, a.base)
	}
	return pipeline.NewOrchestrator(
		deps.Loop,
		discovery,
		archiver,
		a.cfg.Polymarket.DiscoveryInterval.Duration,
		a.cfg.Archive.Cron,
		a.base,
	)
}

// startHTTPServer adds the HTTP server, and the WebSocket hub when a signal
// bus is wired, to the errgroup. The server is shut down gracefully when the
// context is cancelled. indexer may be nil, which disables the trigger.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, indexer *pipeline.IndexerLoop) {
	var hub *ws.Hub
	if deps.SignalBus != nil {
		hub = ws.NewHub(deps.SignalBus, a.cfg.Mode, a.base)
		g.Go(func() error {
			return hub.Run(ctx)
		})
	}

	handlers := server.Handlers{
		Health: handler.NewHealthHandler(deps.healthChecks(), a.base),
		Query:  handler.NewQueryHandler(deps.Query, a.base),
	}
	var trigger handler.Indexer
	if indexer != nil {
		trigger = indexer
	}
	handlers.Index = handler.NewIndexHandler(trigger, a.base)

	srv := server.NewServer(server.Config{
		Host:        a.cfg.Server.Host,
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, hub, deps.RateLimiter, a.base)

	g.Go(srv.Start)

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Server.ShutdownWindow.Duration)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

func (a *App) printJSON(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("app: write result: %w", err)
	}
	return nil
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
