package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/ctfindexer/internal/domain"
)

// LoopConfig controls how an IndexerLoop picks block ranges.
type LoopConfig struct {
	StartBlock    uint64
	BatchSize     uint64
	Confirmations uint64
	PollInterval  time.Duration
	RunTimeout    time.Duration
}

func (c *LoopConfig) applyDefaults() {
	if c.BatchSize == 0 {
		c.BatchSize = 5000
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 15 * time.Second
	}
	if c.RunTimeout <= 0 {
		c.RunTimeout = 5 * time.Minute
	}
}

// IndexerLoop follows the chain head. Each step indexes the next batch after
// the watermark, staying Confirmations blocks behind the head.
type IndexerLoop struct {
	cfg     LoopConfig
	indexer *TradeIndexer
	trigger chan struct{}
	logger  *slog.Logger
}

// NewIndexerLoop creates an IndexerLoop around indexer.
func NewIndexerLoop(cfg LoopConfig, indexer *TradeIndexer, logger *slog.Logger) *IndexerLoop {
	cfg.applyDefaults()
	return &IndexerLoop{
		cfg:     cfg,
		indexer: indexer,
		trigger: make(chan struct{}, 1),
		logger:  logger.With(slog.String("component", "indexer_loop")),
	}
}

// Trigger asks the loop to run now. It returns false when a run is already
// queued.
func (l *IndexerLoop) Trigger() bool {
	select {
	case l.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// IndexTransaction indexes one transaction outside the loop's schedule.
func (l *IndexerLoop) IndexTransaction(ctx context.Context, txHash string) (domain.RunReport, error) {
	return l.indexer.IndexTransaction(ctx, txHash)
}

// NextRange returns the range the next step would index. ok is false when
// the indexer is already within Confirmations of the head.
func (l *IndexerLoop) NextRange(ctx context.Context) (from, to uint64, ok bool, err error) {
	wm, seen, err := l.indexer.Watermark(ctx)
	if err != nil {
		return 0, 0, false, err
	}
	from = l.cfg.StartBlock
	if seen && wm+1 > from {
		from = wm + 1
	}

	head, err := l.indexer.Head(ctx)
	if err != nil {
		return 0, 0, false, fmt.Errorf("indexer loop: head: %w", err)
	}
	if head < l.cfg.Confirmations {
		return from, from, false, nil
	}
	target := head - l.cfg.Confirmations
	if from > target {
		return from, target, false, nil
	}

	to = from + l.cfg.BatchSize - 1
	if to > target {
		to = target
	}
	return from, to, true, nil
}

// Step indexes one batch. caughtUp reports whether the watermark has reached
// the confirmed head.
func (l *IndexerLoop) Step(ctx context.Context) (report domain.RunReport, caughtUp bool, err error) {
	ctx, cancel := context.WithTimeout(ctx, l.cfg.RunTimeout)
	defer cancel()

	from, to, ok, err := l.NextRange(ctx)
	if err != nil || !ok {
		return domain.RunReport{}, true, err
	}
	report, err = l.indexer.IndexRange(ctx, from, to)
	if err != nil {
		return report, false, err
	}

	_, _, more, err := l.NextRange(ctx)
	if err != nil {
		return report, true, nil
	}
	return report, !more, nil
}

// Run steps on every tick or trigger until ctx is cancelled. While behind the
// head it keeps stepping without waiting.
func (l *IndexerLoop) Run(ctx context.Context) error {
	l.logger.InfoContext(ctx, "indexer loop started",
		slog.String("stream", l.indexer.StreamKey()),
		slog.Duration("interval", l.cfg.PollInterval),
		slog.Uint64("start_block", l.cfg.StartBlock),
	)

	ticker := time.NewTicker(l.cfg.PollInterval)
	defer ticker.Stop()

	for {
		l.catchUp(ctx)

		select {
		case <-ctx.Done():
			l.logger.Info("indexer loop stopped")
			return ctx.Err()
		case <-ticker.C:
		case <-l.trigger:
		}
	}
}

func (l *IndexerLoop) catchUp(ctx context.Context) {
	for ctx.Err() == nil {
		_, caughtUp, err := l.Step(ctx)
		if err != nil {
			if !errors.Is(err, domain.ErrLockHeld) && ctx.Err() == nil {
				l.logger.ErrorContext(ctx, "index step failed", slog.String("error", err.Error()))
			}
			return
		}
		if caughtUp {
			return
		}
	}
}
