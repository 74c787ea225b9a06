package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/alanyoungcy/ctfindexer/internal/ctf"
	"github.com/alanyoungcy/ctfindexer/internal/decoder"
	"github.com/alanyoungcy/ctfindexer/internal/domain"
)

// Run modes recorded on RunReport.Mode.
const (
	ModeRange = "range"
	ModeTx    = "tx"
)

// LogSource reads chain data. Implemented by polygon.Client.
type LogSource interface {
	FilterLogs(ctx context.Context, from, to uint64, addresses []common.Address, topics []common.Hash) ([]types.Log, error)
	BlockTime(ctx context.Context, n uint64) (time.Time, error)
	Receipt(ctx context.Context, txHash common.Hash) ([]types.Log, uint64, error)
	Head(ctx context.Context) (uint64, error)
}

// MarketResolver maps a token id to its market; unknown tokens yield nil.
type MarketResolver interface {
	Resolve(ctx context.Context, tokenID string) (*domain.Market, error)
}

// RunAlerter is told about runs that end with an error.
type RunAlerter interface {
	RunFailed(ctx context.Context, r domain.RunReport) error
}

// IndexerConfig controls one trade stream.
type IndexerConfig struct {
	StreamKey        string
	MaxBlockSpan     uint64
	FetchConcurrency int
	LockTTL          time.Duration
}

func (c *IndexerConfig) applyDefaults() {
	if c.StreamKey == "" {
		c.StreamKey = "ctf_exchange"
	}
	if c.MaxBlockSpan == 0 {
		c.MaxBlockSpan = 2000
	}
	if c.FetchConcurrency <= 0 {
		c.FetchConcurrency = 4
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 2 * time.Minute
	}
}

// TradeIndexer turns OrderFilled logs into stored trades. Each run goes
// FETCH, DECODE, RESOLVE, then commits trades and the watermark atomically.
// Only one run executes at a time, guarded by an in-process semaphore and,
// when a LockManager is set, a distributed lock on the stream key. Waiting
// for the semaphore is bounded by the caller's context.
type TradeIndexer struct {
	cfg       IndexerConfig
	running   *semaphore.Weighted
	source    LogSource
	filter    *decoder.TradeFilter
	resolver  MarketResolver
	committer domain.IndexCommitter
	sync      domain.SyncStore
	runs      domain.RunStore
	locks     domain.LockManager
	bus       domain.SignalBus
	alerts    RunAlerter
	logger    *slog.Logger
}

// IndexerDeps bundles the collaborators of a TradeIndexer. Runs, Locks, Bus
// and Alerts are optional.
type IndexerDeps struct {
	Source    LogSource
	Filter    *decoder.TradeFilter
	Resolver  MarketResolver
	Committer domain.IndexCommitter
	Sync      domain.SyncStore
	Runs      domain.RunStore
	Locks     domain.LockManager
	Bus       domain.SignalBus
	Alerts    RunAlerter
}

// NewTradeIndexer creates a TradeIndexer.
func NewTradeIndexer(cfg IndexerConfig, deps IndexerDeps, logger *slog.Logger) *TradeIndexer {
	cfg.applyDefaults()
	if deps.Filter == nil {
		deps.Filter = decoder.NewTradeFilter(ctf.DefaultExchanges())
	}
	return &TradeIndexer{
		cfg:       cfg,
		running:   semaphore.NewWeighted(1),
		source:    deps.Source,
		filter:    deps.Filter,
		resolver:  deps.Resolver,
		committer: deps.Committer,
		sync:      deps.Sync,
		runs:      deps.Runs,
		locks:     deps.Locks,
		bus:       deps.Bus,
		alerts:    deps.Alerts,
		logger:    logger.With(slog.String("component", "indexer"), slog.String("stream", cfg.StreamKey)),
	}
}

// StreamKey returns the watermark key this indexer owns.
func (x *TradeIndexer) StreamKey() string { return x.cfg.StreamKey }

// Watermark returns the last indexed block, or ok=false when the stream has
// never committed.
func (x *TradeIndexer) Watermark(ctx context.Context) (uint64, bool, error) {
	wm, err := x.sync.Get(ctx, x.cfg.StreamKey)
	if errors.Is(err, domain.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("indexer: read watermark: %w", err)
	}
	return wm.LastBlock, true, nil
}

// Head returns the chain head block.
func (x *TradeIndexer) Head(ctx context.Context) (uint64, error) {
	return x.source.Head(ctx)
}

// IndexRange indexes every OrderFilled log in [from, to] and advances the
// watermark to at least to. Re-running a range is harmless: existing trades
// count as duplicates and the watermark never moves backwards.
func (x *TradeIndexer) IndexRange(ctx context.Context, from, to uint64) (report domain.RunReport, err error) {
	report = x.newReport(ModeRange)
	report.FromBlock, report.ToBlock = from, to
	defer func() { x.finish(ctx, &report, err) }()

	if from > to {
		return report, fmt.Errorf("indexer: %w: %d > %d", domain.ErrInvalidRange, from, to)
	}

	unlock, err := x.lockStream(ctx)
	if err != nil {
		return report, err
	}
	defer unlock()

	if report.WatermarkBefore, _, err = x.Watermark(ctx); err != nil {
		return report, err
	}

	logs, err := x.fetchRange(ctx, from, to)
	if err != nil {
		return report, err
	}
	return report, x.process(ctx, &report, logs, &to)
}

// IndexTransaction indexes the OrderFilled logs of one transaction. The
// watermark is left alone: block-range runs own it.
func (x *TradeIndexer) IndexTransaction(ctx context.Context, txHash string) (report domain.RunReport, err error) {
	report = x.newReport(ModeTx)
	report.TxHash = txHash
	defer func() { x.finish(ctx, &report, err) }()

	h, err := ctf.NormalizeHash(txHash)
	if err != nil {
		return report, fmt.Errorf("indexer: tx hash: %w: %w", domain.ErrInvalidParam, err)
	}
	report.TxHash = h

	unlock, err := x.acquireLocal(ctx)
	if err != nil {
		return report, err
	}
	defer unlock()

	logs, block, err := x.source.Receipt(ctx, common.HexToHash(h))
	if err != nil {
		return report, fmt.Errorf("indexer: receipt: %w", err)
	}
	report.FromBlock, report.ToBlock = block, block
	if report.WatermarkBefore, _, err = x.Watermark(ctx); err != nil {
		return report, err
	}

	topic := decoder.OrderFilledTopic
	var matching []types.Log
	for _, lg := range logs {
		if len(lg.Topics) > 0 && lg.Topics[0] == topic {
			matching = append(matching, lg)
		}
	}
	sortLogs(matching)
	return report, x.process(ctx, &report, matching, nil)
}

func (x *TradeIndexer) newReport(mode string) domain.RunReport {
	return domain.RunReport{
		RunID:     uuid.NewString(),
		StreamKey: x.cfg.StreamKey,
		Mode:      mode,
		Skipped:   map[string]int{},
		StartedAt: time.Now().UTC(),
	}
}

// lockStream serializes runs of this stream in-process and across processes.
func (x *TradeIndexer) lockStream(ctx context.Context) (func(), error) {
	unlockLocal, err := x.acquireLocal(ctx)
	if err != nil {
		return nil, err
	}
	if x.locks == nil {
		return unlockLocal, nil
	}
	unlockRemote, err := x.locks.Acquire(ctx, "index:"+x.cfg.StreamKey, x.cfg.LockTTL)
	if err != nil {
		unlockLocal()
		return nil, fmt.Errorf("indexer: stream lock: %w", err)
	}
	return func() {
		unlockRemote()
		unlockLocal()
	}, nil
}

// fetchRange splits [from, to] into spans of at most MaxBlockSpan blocks,
// fetches them in parallel and returns the logs ordered by block and index.
func (x *TradeIndexer) fetchRange(ctx context.Context, from, to uint64) ([]types.Log, error) {
	chunks := splitRange(from, to, x.cfg.MaxBlockSpan)
	parts := make([][]types.Log, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(x.cfg.FetchConcurrency)
	for i, c := range chunks {
		g.Go(func() error {
			logs, err := x.source.FilterLogs(gctx, c[0], c[1], x.filter.Exchanges(), []common.Hash{decoder.OrderFilledTopic})
			if err != nil {
				return fmt.Errorf("indexer: fetch %d-%d: %w", c[0], c[1], err)
			}
			parts[i] = logs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var n int
	for _, p := range parts {
		n += len(p)
	}
	logs := make([]types.Log, 0, n)
	for _, p := range parts {
		logs = append(logs, p...)
	}
	sortLogs(logs)
	return logs, nil
}

// process runs DECODE, RESOLVE and COMMIT over logs already in order.
func (x *TradeIndexer) process(ctx context.Context, report *domain.RunReport, logs []types.Log, advanceTo *uint64) error {
	report.TotalLogs = len(logs)

	fills := make([]decoder.Fill, 0, len(logs))
	for _, lg := range logs {
		if lg.Removed {
			report.Skip("filtered:removed")
			continue
		}
		res := x.filter.Decode(lg)
		if !res.OK() {
			report.Skip(skipKey(res.Reject))
			x.logger.DebugContext(ctx, "log rejected",
				slog.String("tx_hash", lg.TxHash.Hex()),
				slog.Uint64("log_index", uint64(lg.Index)),
				slog.String("reason", string(res.Reject)),
			)
			continue
		}
		fills = append(fills, res.Value)
	}
	report.ParsedTrades = len(fills)

	times, err := x.blockTimes(ctx, fills)
	if err != nil {
		return err
	}

	trades, err := x.resolve(ctx, report, fills, times)
	if err != nil {
		return err
	}

	// Nothing is written once the caller has given up.
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("indexer: before commit: %w", err)
	}

	res, err := x.committer.CommitTrades(ctx, x.cfg.StreamKey, trades, advanceTo)
	if err != nil {
		return fmt.Errorf("indexer: commit: %w", err)
	}
	report.InsertedTrades = res.Inserted
	report.Duplicates = res.Duplicates
	report.WatermarkAfter = res.Watermark

	x.publishTrades(ctx, res.Trades)
	return nil
}

// blockTimes resolves each distinct block once, in parallel. The map lives
// for one run only.
func (x *TradeIndexer) blockTimes(ctx context.Context, fills []decoder.Fill) (map[uint64]time.Time, error) {
	times := make(map[uint64]time.Time)
	var blocks []uint64
	for _, f := range fills {
		if _, ok := times[f.BlockNumber]; !ok {
			times[f.BlockNumber] = time.Time{}
			blocks = append(blocks, f.BlockNumber)
		}
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(x.cfg.FetchConcurrency)
	for _, b := range blocks {
		g.Go(func() error {
			ts, err := x.source.BlockTime(gctx, b)
			if err != nil {
				return fmt.Errorf("indexer: block time %d: %w", b, err)
			}
			mu.Lock()
			times[b] = ts
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return times, nil
}

func (x *TradeIndexer) resolve(ctx context.Context, report *domain.RunReport, fills []decoder.Fill, times map[uint64]time.Time) ([]domain.Trade, error) {
	markets := make(map[string]*domain.Market)
	trades := make([]domain.Trade, 0, len(fills))
	for _, f := range fills {
		m, seen := markets[f.TokenID]
		if !seen {
			var err error
			if m, err = x.resolver.Resolve(ctx, f.TokenID); err != nil {
				return nil, fmt.Errorf("indexer: resolve token %s: %w", f.TokenID, err)
			}
			markets[f.TokenID] = m
		}
		if m == nil {
			report.Skip("no_market")
			x.logger.WarnContext(ctx, "no market for token",
				slog.String("token_id", f.TokenID),
				slog.String("tx_hash", f.TxHash),
				slog.Uint64("log_index", uint64(f.LogIndex)),
			)
			continue
		}
		t := f.Trade(m.ID)
		t.Outcome = m.OutcomeFor(f.TokenID)
		t.Timestamp = times[f.BlockNumber]
		trades = append(trades, t)
	}
	return trades, nil
}

func (x *TradeIndexer) publishTrades(ctx context.Context, trades []domain.Trade) {
	if x.bus == nil {
		return
	}
	for _, t := range trades {
		payload, err := json.Marshal(t)
		if err != nil {
			continue
		}
		if err := x.bus.Publish(ctx, domain.TradeChannel(t.MarketID), payload); err != nil {
			x.logger.WarnContext(ctx, "publish trade failed",
				slog.Int64("trade_id", t.ID),
				slog.String("error", err.Error()),
			)
			return
		}
	}
}

// finish completes the report, logs it and hands it to the run store, the
// signal bus and, on failure, the alerter. The report is always finalized.
func (x *TradeIndexer) finish(ctx context.Context, report *domain.RunReport, err error) {
	report.Duration = time.Since(report.StartedAt)
	if errors.Is(err, domain.ErrLockHeld) {
		x.logger.InfoContext(ctx, "stream locked by another indexer, run skipped", slog.String("run_id", report.RunID))
		return
	}
	if err != nil {
		report.Error = err.Error()
	}

	attrs := []any{
		slog.String("run_id", report.RunID),
		slog.String("mode", report.Mode),
		slog.Uint64("from", report.FromBlock),
		slog.Uint64("to", report.ToBlock),
		slog.Int("logs", report.TotalLogs),
		slog.Int("parsed", report.ParsedTrades),
		slog.Int("inserted", report.InsertedTrades),
		slog.Int("duplicates", report.Duplicates),
		slog.Int("skipped", report.SkippedTotal()),
		slog.Uint64("watermark", report.WatermarkAfter),
		slog.Duration("took", report.Duration),
	}
	if err != nil {
		x.logger.ErrorContext(ctx, "index run failed", append(attrs, slog.String("error", err.Error()))...)
	} else {
		x.logger.InfoContext(ctx, "index run complete", attrs...)
	}

	// Reporting outlives a cancelled run context.
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if x.runs != nil {
		if rerr := x.runs.Record(rctx, *report); rerr != nil {
			x.logger.WarnContext(ctx, "record run failed", slog.String("error", rerr.Error()))
		}
	}
	if x.bus != nil {
		if payload, merr := json.Marshal(report); merr == nil {
			if perr := x.bus.Publish(rctx, domain.ChannelIndexRuns, payload); perr != nil {
				x.logger.WarnContext(ctx, "publish run report failed", slog.String("error", perr.Error()))
			}
			if serr := x.bus.StreamAppend(rctx, domain.StreamIndexRuns, payload); serr != nil {
				x.logger.WarnContext(ctx, "append run report failed", slog.String("error", serr.Error()))
			}
		}
	}
	if err != nil && x.alerts != nil && !errors.Is(err, context.Canceled) {
		if aerr := x.alerts.RunFailed(rctx, *report); aerr != nil {
			x.logger.WarnContext(ctx, "run alert failed", slog.String("error", aerr.Error()))
		}
	}
}

func skipKey(r decoder.RejectReason) string {
	switch r {
	case decoder.RejectUnknownExchange, decoder.RejectSelfFill:
		return "filtered:" + string(r)
	default:
		return "decode:" + string(r)
	}
}

// splitRange cuts [from, to] into disjoint inclusive spans of at most span
// blocks.
func splitRange(from, to, span uint64) [][2]uint64 {
	if span == 0 {
		span = 1
	}
	var out [][2]uint64
	for start := from; start <= to; {
		end := to
		if to-start >= span {
			end = start + span - 1
		}
		out = append(out, [2]uint64{start, end})
		if end == to {
			break
		}
		start = end + 1
	}
	return out
}

func sortLogs(logs []types.Log) {
	sort.SliceStable(logs, func(i, j int) bool {
		if logs[i].BlockNumber != logs[j].BlockNumber {
			return logs[i].BlockNumber < logs[j].BlockNumber
		}
		return logs[i].Index < logs[j].Index
	})
}

// acquireLocal waits for this indexer's run slot until ctx is done.
func (x *TradeIndexer) acquireLocal(ctx context.Context) (func(), error) {
	if err := x.running.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("indexer: waiting for stream %s: %w", x.cfg.StreamKey, err)
	}
	return func() { x.running.Release(1) }, nil
}
