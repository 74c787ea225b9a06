package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/alanyoungcy/ctfindexer/internal/ctf"
	"github.com/alanyoungcy/ctfindexer/internal/domain"
)

// Trade page limits.
const (
	DefaultTradeLimit = 100
	MaxTradeLimit     = 1000
)

// TradeQuery filters and pages a trade listing. Cursor is a row offset.
type TradeQuery struct {
	Limit     int
	Cursor    int
	FromBlock *uint64
	ToBlock   *uint64
}

// ListOpts validates q and converts it to store options. A zero Limit
// selects DefaultTradeLimit.
func (q TradeQuery) ListOpts() (domain.ListOpts, error) {
	limit := q.Limit
	if limit == 0 {
		limit = DefaultTradeLimit
	}
	if limit < 1 || limit > MaxTradeLimit {
		return domain.ListOpts{}, fmt.Errorf("%w: limit must be between 1 and %d", domain.ErrInvalidParam, MaxTradeLimit)
	}
	if q.Cursor < 0 {
		return domain.ListOpts{}, fmt.Errorf("%w: cursor must be >= 0", domain.ErrInvalidParam)
	}
	if q.FromBlock != nil && q.ToBlock != nil && *q.FromBlock > *q.ToBlock {
		return domain.ListOpts{}, fmt.Errorf("%w: fromBlock %d > toBlock %d", domain.ErrInvalidRange, *q.FromBlock, *q.ToBlock)
	}
	return domain.ListOpts{
		Limit:     limit,
		Offset:    q.Cursor,
		FromBlock: q.FromBlock,
		ToBlock:   q.ToBlock,
	}, nil
}

// EventMarkets is an event together with its markets.
type EventMarkets struct {
	EventSlug    string          `json:"event_slug"`
	EventID      int64           `json:"event_id"`
	TotalMarkets int             `json:"total_markets"`
	Markets      []domain.Market `json:"markets"`
}

// Stats counts stored rows.
type Stats struct {
	Markets int64 `json:"markets"`
	Trades  int64 `json:"trades"`
}

// QueryService answers read-only questions about stored events, markets,
// trades and sync progress.
type QueryService struct {
	events  domain.EventStore
	markets domain.MarketStore
	trades  domain.TradeStore
	sync    domain.SyncStore
	runs    domain.RunStore
}

// NewQueryService creates a QueryService. runs may be nil.
func NewQueryService(
	events domain.EventStore,
	markets domain.MarketStore,
	trades domain.TradeStore,
	sync domain.SyncStore,
	runs domain.RunStore,
) *QueryService {
	return &QueryService{
		events:  events,
		markets: markets,
		trades:  trades,
		sync:    sync,
		runs:    runs,
	}
}

// Event returns the event with the given slug.
func (s *QueryService) Event(ctx context.Context, slug string) (domain.Event, error) {
	ev, err := s.events.GetBySlug(ctx, slug)
	if err != nil {
		return domain.Event{}, fmt.Errorf("query: event %s: %w", slug, err)
	}
	return ev, nil
}

// EventMarkets returns every market linked to the event with the given slug.
func (s *QueryService) EventMarkets(ctx context.Context, slug string) (EventMarkets, error) {
	ev, err := s.Event(ctx, slug)
	if err != nil {
		return EventMarkets{}, err
	}
	markets, err := s.markets.ListByEvent(ctx, ev.ID)
	if err != nil {
		return EventMarkets{}, fmt.Errorf("query: markets of event %s: %w", slug, err)
	}
	if markets == nil {
		markets = []domain.Market{}
	}
	return EventMarkets{
		EventSlug:    slug,
		EventID:      ev.ID,
		TotalMarkets: len(markets),
		Markets:      markets,
	}, nil
}

// Market looks a market up by slug, falling back to its numeric id.
func (s *QueryService) Market(ctx context.Context, slugOrID string) (domain.Market, error) {
	m, err := s.markets.GetBySlug(ctx, slugOrID)
	if errors.Is(err, domain.ErrNotFound) {
		if id, perr := strconv.ParseInt(slugOrID, 10, 64); perr == nil {
			m, err = s.markets.GetByID(ctx, id)
		}
	}
	if err != nil {
		return domain.Market{}, fmt.Errorf("query: market %s: %w", slugOrID, err)
	}
	return m, nil
}

// MarketTrades lists trades of one market ordered by block then log index.
func (s *QueryService) MarketTrades(ctx context.Context, slugOrID string, q TradeQuery) ([]domain.Trade, error) {
	opts, err := q.ListOpts()
	if err != nil {
		return nil, err
	}
	m, err := s.Market(ctx, slugOrID)
	if err != nil {
		return nil, err
	}
	trades, err := s.trades.ListByMarket(ctx, m.ID, opts)
	if err != nil {
		return nil, fmt.Errorf("query: trades of market %s: %w", slugOrID, err)
	}
	return nonNil(trades), nil
}

// TokenTrades lists trades of one token. tokenID may use any accepted form.
func (s *QueryService) TokenTrades(ctx context.Context, tokenID string, q TradeQuery) ([]domain.Trade, error) {
	opts, err := q.ListOpts()
	if err != nil {
		return nil, err
	}
	tok, err := ctf.NormalizeTokenID(tokenID)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	trades, err := s.trades.ListByToken(ctx, tok, opts)
	if err != nil {
		return nil, fmt.Errorf("query: trades of token %s: %w", tok, err)
	}
	return nonNil(trades), nil
}

// Watermark returns sync progress for a stream.
func (s *QueryService) Watermark(ctx context.Context, streamKey string) (domain.Watermark, error) {
	wm, err := s.sync.Get(ctx, streamKey)
	if err != nil {
		return domain.Watermark{}, fmt.Errorf("query: watermark %s: %w", streamKey, err)
	}
	return wm, nil
}

// RecentRuns returns the latest run reports of a stream, newest first.
func (s *QueryService) RecentRuns(ctx context.Context, streamKey string, limit int) ([]domain.RunReport, error) {
	if s.runs == nil {
		return []domain.RunReport{}, nil
	}
	if limit <= 0 || limit > MaxTradeLimit {
		limit = 20
	}
	runs, err := s.runs.ListRecent(ctx, streamKey, limit)
	if err != nil {
		return nil, fmt.Errorf("query: runs of %s: %w", streamKey, err)
	}
	if runs == nil {
		runs = []domain.RunReport{}
	}
	return runs, nil
}

// Stats counts stored markets and trades.
func (s *QueryService) Stats(ctx context.Context) (Stats, error) {
	markets, err := s.markets.Count(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("query: count markets: %w", err)
	}
	trades, err := s.trades.Count(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("query: count trades: %w", err)
	}
	return Stats{Markets: markets, Trades: trades}, nil
}

func nonNil(trades []domain.Trade) []domain.Trade {
	if trades == nil {
		return []domain.Trade{}
	}
	return trades
}
