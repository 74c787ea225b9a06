package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Orchestrator runs the background loops: chain indexing, event discovery and
// cold-storage archival. Discovery and archival are optional.
type Orchestrator struct {
	loop              *IndexerLoop
	discovery         *DiscoveryLoop
	archiver          *Archiver
	discoveryInterval time.Duration
	archiveCron       string
	logger            *slog.Logger
}

// NewOrchestrator creates a new Orchestrator. discovery and archiver may be
// nil.
func NewOrchestrator(
	loop *IndexerLoop,
	discovery *DiscoveryLoop,
	archiver *Archiver,
	discoveryInterval time.Duration,
	archiveCron string,
	logger *slog.Logger,
) *Orchestrator {
	if discoveryInterval <= 0 {
		discoveryInterval = 10 * time.Minute
	}
	return &Orchestrator{
		loop:              loop,
		discovery:         discovery,
		archiver:          archiver,
		discoveryInterval: discoveryInterval,
		archiveCron:       archiveCron,
		logger:            logger.With(slog.String("component", "orchestrator")),
	}
}

// Run starts every loop in an errgroup. If one returns a non-context error
// the shared context is cancelled and Run returns that error.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("pipeline orchestrator starting",
		slog.Bool("discovery", o.discovery != nil),
		slog.Bool("archive", o.archiver != nil),
		slog.String("archive_cron", o.archiveCron),
	)

	g, ctx := errgroup.WithContext(ctx)

	if o.discovery != nil {
		g.Go(func() error {
			err := o.discovery.RunLoop(ctx, o.discoveryInterval)
			if ctx.Err() != nil {
				return nil // clean shutdown
			}
			return fmt.Errorf("discovery: %w", err)
		})
	}

	if o.loop != nil {
		g.Go(func() error {
			err := o.loop.Run(ctx)
			if ctx.Err() != nil {
				return nil // clean shutdown
			}
			return fmt.Errorf("indexer: %w", err)
		})
	}

	if o.archiver != nil {
		g.Go(func() error {
			err := o.archiver.RunCron(ctx, o.archiveCron)
			if ctx.Err() != nil {
				return nil // clean shutdown
			}
			return fmt.Errorf("archiver: %w", err)
		})
	}

	if err := g.Wait(); err != nil {
		o.logger.Error("pipeline orchestrator stopped with error", slog.String("error", err.Error()))
		return err
	}

	o.logger.Info("pipeline orchestrator stopped cleanly")
	return nil
}
