package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/alanyoungcy/ctfindexer/internal/service"
)

// EventDiscoverer stores the markets of one Gamma event.
type EventDiscoverer interface {
	DiscoverEvent(ctx context.Context, slug string) (service.DiscoveryResult, error)
}

// DiscoveryLoop refreshes a fixed set of event slugs so that markets exist
// before their trades are indexed.
type DiscoveryLoop struct {
	discoverer EventDiscoverer
	slugs      []string
	logger     *slog.Logger
}

// NewDiscoveryLoop creates a DiscoveryLoop over slugs.
func NewDiscoveryLoop(discoverer EventDiscoverer, slugs []string, logger *slog.Logger) *DiscoveryLoop {
	return &DiscoveryLoop{
		discoverer: discoverer,
		slugs:      slugs,
		logger:     logger.With(slog.String("component", "discovery_loop")),
	}
}

// Run discovers every configured event once. A failing slug is logged and
// the rest still run; the joined error is returned.
func (d *DiscoveryLoop) Run(ctx context.Context) error {
	var errs []error
	markets := 0
	for _, slug := range d.slugs {
		if err := ctx.Err(); err != nil {
			return err
		}
		res, err := d.discoverer.DiscoverEvent(ctx, slug)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				d.logger.ErrorContext(ctx, "event discovery failed",
					slog.String("event", slug),
					slog.String("error", err.Error()),
				)
			}
			errs = append(errs, err)
			continue
		}
		markets += res.TotalMarkets
	}
	d.logger.InfoContext(ctx, "discovery pass complete",
		slog.Int("events", len(d.slugs)),
		slog.Int("markets", markets),
		slog.Int("failed", len(errs)),
	)
	return errors.Join(errs...)
}

// RunLoop runs discovery on a repeating interval until ctx is cancelled.
func (d *DiscoveryLoop) RunLoop(ctx context.Context, interval time.Duration) error {
	if len(d.slugs) == 0 {
		d.logger.Info("no event slugs configured, discovery loop idle")
		<-ctx.Done()
		return ctx.Err()
	}

	// Run immediately on start.
	_ = d.Run(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("discovery loop stopped")
			return ctx.Err()
		case <-ticker.C:
			_ = d.Run(ctx)
		}
	}
}
