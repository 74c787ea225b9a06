package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/ctfindexer/internal/abi"
	"github.com/alanyoungcy/ctfindexer/internal/ctf"
	"github.com/alanyoungcy/ctfindexer/internal/decoder"
	"github.com/alanyoungcy/ctfindexer/internal/domain"
	"github.com/alanyoungcy/ctfindexer/internal/service"
)

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

var (
	testMaker = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	testTaker = common.HexToAddress("0x00000000000000000000000000000000000000bb")

	yesToken = ctf.MustNormalizeTokenID(big.NewInt(1001))
	noToken  = ctf.MustNormalizeTokenID(big.NewInt(1002))
)

func testMarket() *domain.Market {
	return &domain.Market{ID: 1, Slug: "will-it-rain", YesTokenID: yesToken, NoTokenID: noToken}
}

func dataWords(vals ...int64) []byte {
	var out []byte
	for _, v := range vals {
		w, _ := abi.Uint256Word(big.NewInt(v))
		out = append(out, w[:]...)
	}
	return out
}

// buyLog is a fill where the maker pays makerAmt collateral for takerAmt of
// token.
func buyLog(block uint64, index uint, tx string, token, makerAmt, takerAmt int64) types.Log {
	return types.Log{
		Address: ctf.CTFExchange,
		Topics: []common.Hash{
			decoder.OrderFilledTopic,
			common.HexToHash("0x01"),
			common.BytesToHash(testMaker.Bytes()),
			common.BytesToHash(testTaker.Bytes()),
		},
		Data:        dataWords(0, token, makerAmt, takerAmt, 0),
		BlockNumber: block,
		TxHash:      common.HexToHash(tx),
		Index:       index,
	}
}

func blockTime(n uint64) time.Time { return time.Unix(1_700_000_000+int64(n)*2, 0).UTC() }

type fakeChain struct {
	mu          sync.Mutex
	logs        []types.Log
	receipts    map[common.Hash][]types.Log
	head        uint64
	filterCalls int
	blockCalls  int
	blockErr    error
}

func (c *fakeChain) FilterLogs(_ context.Context, from, to uint64, _ []common.Address, _ []common.Hash) ([]types.Log, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.filterCalls++
	var out []types.Log
	// Newest first so callers must sort.
	for i := len(c.logs) - 1; i >= 0; i-- {
		if lg := c.logs[i]; lg.BlockNumber >= from && lg.BlockNumber <= to {
			out = append(out, lg)
		}
	}
	return out, nil
}

func (c *fakeChain) BlockTime(_ context.Context, n uint64) (time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blockCalls++
	if c.blockErr != nil {
		return time.Time{}, c.blockErr
	}
	return blockTime(n), nil
}

func (c *fakeChain) Receipt(_ context.Context, h common.Hash) ([]types.Log, uint64, error) {
	logs, ok := c.receipts[h]
	if !ok {
		return nil, 0, domain.ErrNotFound
	}
	var block uint64
	if len(logs) > 0 {
		block = logs[0].BlockNumber
	}
	return logs, block, nil
}

func (c *fakeChain) Head(context.Context) (uint64, error) { return c.head, nil }

type mapResolver struct {
	markets map[string]*domain.Market
	calls   int
	onCall  func()
}

func (r *mapResolver) Resolve(_ context.Context, tok string) (*domain.Market, error) {
	r.calls++
	if r.onCall != nil {
		r.onCall()
	}
	return r.markets[tok], nil
}

type tradeKey struct {
	tx  string
	idx uint
}

// memLedger is an in-memory IndexCommitter and SyncStore with the same
// insert-or-ignore and never-backwards semantics as the Postgres store.
type memLedger struct {
	mu        sync.Mutex
	nextID    int64
	trades    map[tradeKey]domain.Trade
	order     []domain.Trade
	wm        map[string]uint64
	commits   int
	advances  []*uint64
	commitErr error
}

func newMemLedger() *memLedger {
	return &memLedger{trades: map[tradeKey]domain.Trade{}, wm: map[string]uint64{}}
}

func (l *memLedger) CommitTrades(_ context.Context, stream string, trades []domain.Trade, advanceTo *uint64) (domain.CommitResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.commits++
	l.advances = append(l.advances, advanceTo)
	if l.commitErr != nil {
		return domain.CommitResult{}, l.commitErr
	}
	var res domain.CommitResult
	for _, t := range trades {
		k := tradeKey{t.TxHash, t.LogIndex}
		if _, dup := l.trades[k]; dup {
			res.Duplicates++
			continue
		}
		l.nextID++
		t.ID = l.nextID
		l.trades[k] = t
		l.order = append(l.order, t)
		res.Inserted++
		res.Trades = append(res.Trades, t)
	}
	if advanceTo != nil && *advanceTo > l.wm[stream] {
		l.wm[stream] = *advanceTo
	}
	res.Watermark = l.wm[stream]
	return res, nil
}

func (l *memLedger) Get(_ context.Context, stream string) (domain.Watermark, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	v, ok := l.wm[stream]
	if !ok {
		return domain.Watermark{}, domain.ErrNotFound
	}
	return domain.Watermark{StreamKey: stream, LastBlock: v}, nil
}

func (l *memLedger) Advance(_ context.Context, stream string, v uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if v > l.wm[stream] {
		l.wm[stream] = v
	}
	return nil
}

type memRuns struct{ reports []domain.RunReport }

func (r *memRuns) Record(_ context.Context, rep domain.RunReport) error {
	r.reports = append(r.reports, rep)
	return nil
}

func (r *memRuns) ListRecent(context.Context, string, int) ([]domain.RunReport, error) {
	return r.reports, nil
}

type fakeLocks struct {
	held map[string]bool
	keys []string
}

func (f *fakeLocks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	f.keys = append(f.keys, key)
	if f.held[key] {
		return nil, domain.ErrLockHeld
	}
	return func() {}, nil
}

type fakeBus struct {
	mu        sync.Mutex
	published map[string]int
	streamed  map[string]int
}

func newFakeBus() *fakeBus {
	return &fakeBus{published: map[string]int{}, streamed: map[string]int{}}
}

func (b *fakeBus) Publish(_ context.Context, ch string, _ []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published[ch]++
	return nil
}

func (b *fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return nil, errors.New("not supported")
}

func (b *fakeBus) StreamAppend(_ context.Context, s string, _ []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.streamed[s]++
	return nil
}

type recordingRunAlerter struct{ failed []domain.RunReport }

func (a *recordingRunAlerter) RunFailed(_ context.Context, r domain.RunReport) error {
	a.failed = append(a.failed, r)
	return nil
}

type fakeDiscoverer struct {
	fail  map[string]bool
	calls []string
}

func (d *fakeDiscoverer) DiscoverEvent(_ context.Context, slug string) (service.DiscoveryResult, error) {
	d.calls = append(d.calls, slug)
	if d.fail[slug] {
		return service.DiscoveryResult{}, fmt.Errorf("discovery: event %s: %w", slug, domain.ErrNotFound)
	}
	return service.DiscoveryResult{EventSlug: slug, TotalMarkets: 2}, nil
}

type fakeTradeArchiver struct {
	n   int64
	err error
}

func (f *fakeTradeArchiver) ArchiveTrades(context.Context) (int64, error) { return f.n, f.err }

type indexerFixture struct {
	chain    *fakeChain
	resolver *mapResolver
	ledger   *memLedger
	runs     *memRuns
	locks    *fakeLocks
	bus      *fakeBus
	alerts   *recordingRunAlerter
	indexer  *TradeIndexer
}

func newIndexerFixture(cfg IndexerConfig, logs ...types.Log) *indexerFixture {
	f := &indexerFixture{
		chain:    &fakeChain{logs: logs, receipts: map[common.Hash][]types.Log{}},
		resolver: &mapResolver{markets: map[string]*domain.Market{yesToken: testMarket(), noToken: testMarket()}},
		ledger:   newMemLedger(),
		runs:     &memRuns{},
		locks:    &fakeLocks{held: map[string]bool{}},
		bus:      newFakeBus(),
		alerts:   &recordingRunAlerter{},
	}
	if cfg.StreamKey == "" {
		cfg.StreamKey = "test"
	}
	f.indexer = NewTradeIndexer(cfg, IndexerDeps{
		Source:    f.chain,
		Resolver:  f.resolver,
		Committer: f.ledger,
		Sync:      f.ledger,
		Runs:      f.runs,
		Locks:     f.locks,
		Bus:       f.bus,
		Alerts:    f.alerts,
	}, discardLogger())
	return f
}
