package service

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/ctfindexer/internal/domain"
	"github.com/alanyoungcy/ctfindexer/internal/platform/polymarket"
)

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type memMarkets struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]domain.Market
}

func newMemMarkets() *memMarkets { return &memMarkets{rows: map[int64]domain.Market{}} }

func (s *memMarkets) Upsert(_ context.Context, m domain.Market) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, row := range s.rows {
		if row.ConditionID == m.ConditionID {
			m.ID = id
			s.rows[id] = m
			return id, nil
		}
	}
	s.nextID++
	m.ID = s.nextID
	s.rows[m.ID] = m
	return m.ID, nil
}

func (s *memMarkets) find(match func(domain.Market) bool) (domain.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.rows {
		if match(m) {
			return m, nil
		}
	}
	return domain.Market{}, domain.ErrNotFound
}

func (s *memMarkets) GetByID(_ context.Context, id int64) (domain.Market, error) {
	return s.find(func(m domain.Market) bool { return m.ID == id })
}

func (s *memMarkets) GetByConditionID(_ context.Context, c string) (domain.Market, error) {
	return s.find(func(m domain.Market) bool { return m.ConditionID == c })
}

func (s *memMarkets) GetByTokenID(_ context.Context, tok string) (domain.Market, error) {
	return s.find(func(m domain.Market) bool { return m.YesTokenID == tok || m.NoTokenID == tok })
}

func (s *memMarkets) GetBySlug(_ context.Context, slug string) (domain.Market, error) {
	return s.find(func(m domain.Market) bool { return m.Slug == slug })
}

func (s *memMarkets) ListByEvent(_ context.Context, eventID int64) ([]domain.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Market
	for _, m := range s.rows {
		if m.EventID != nil && *m.EventID == eventID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memMarkets) Count(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.rows)), nil
}

type memEvents struct {
	rows map[string]domain.Event
}

func (s *memEvents) Upsert(_ context.Context, e domain.Event) (int64, error) {
	if s.rows == nil {
		s.rows = map[string]domain.Event{}
	}
	if old, ok := s.rows[e.Slug]; ok {
		e.ID = old.ID
	} else {
		e.ID = int64(len(s.rows) + 1)
	}
	s.rows[e.Slug] = e
	return e.ID, nil
}

func (s *memEvents) GetBySlug(_ context.Context, slug string) (domain.Event, error) {
	e, ok := s.rows[slug]
	if !ok {
		return domain.Event{}, domain.ErrNotFound
	}
	return e, nil
}

// memCache mirrors the Redis layout: token index entries live apart from
// the market they point at.
type memCache struct {
	byID    map[int64]domain.Market
	byToken map[string]int64
	hits    int
	calls   int
}

func newMemCache() *memCache {
	return &memCache{byID: map[int64]domain.Market{}, byToken: map[string]int64{}}
}

func (c *memCache) Set(_ context.Context, m domain.Market) error {
	c.byID[m.ID] = m
	for _, tok := range m.TokenIDs() {
		c.byToken[tok] = m.ID
	}
	return nil
}

func (c *memCache) Get(_ context.Context, id int64) (domain.Market, error) {
	m, ok := c.byID[id]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return m, nil
}

func (c *memCache) GetByToken(ctx context.Context, tok string) (domain.Market, error) {
	c.calls++
	id, ok := c.byToken[tok]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	m, err := c.Get(ctx, id)
	if err == nil {
		c.hits++
	}
	return m, err
}

func (c *memCache) Invalidate(_ context.Context, id int64) error {
	if m, ok := c.byID[id]; ok {
		for _, tok := range m.TokenIDs() {
			delete(c.byToken, tok)
		}
	}
	delete(c.byID, id)
	return nil
}

type recordingAlerter struct {
	conditions []string
}

func (a *recordingAlerter) DerivationMismatch(_ context.Context, conditionID, _ string, _, _ [2]string) error {
	a.conditions = append(a.conditions, conditionID)
	return nil
}

type fakeGamma struct {
	events  map[string]polymarket.GammaEvent
	markets map[string]polymarket.GammaMarket
}

func (g *fakeGamma) GetEventBySlug(_ context.Context, slug string) (polymarket.GammaEvent, error) {
	e, ok := g.events[slug]
	if !ok {
		return polymarket.GammaEvent{}, domain.ErrNotFound
	}
	return e, nil
}

func (g *fakeGamma) GetMarketBySlug(_ context.Context, slug string) (polymarket.GammaMarket, error) {
	m, ok := g.markets[slug]
	if !ok {
		return polymarket.GammaMarket{}, domain.ErrNotFound
	}
	return m, nil
}

type fakeReceipts struct {
	logs []types.Log
}

func (f *fakeReceipts) Receipt(_ context.Context, _ common.Hash) ([]types.Log, uint64, error) {
	return f.logs, 1, nil
}

type memTrades struct {
	rows     []domain.Trade
	lastOpts domain.ListOpts
}

func (s *memTrades) ListByMarket(_ context.Context, marketID int64, opts domain.ListOpts) ([]domain.Trade, error) {
	s.lastOpts = opts
	var out []domain.Trade
	for _, t := range s.rows {
		if t.MarketID == marketID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *memTrades) ListByToken(_ context.Context, tok string, opts domain.ListOpts) ([]domain.Trade, error) {
	s.lastOpts = opts
	var out []domain.Trade
	for _, t := range s.rows {
		if t.TokenID == tok {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *memTrades) ListAfterID(context.Context, int64, int) ([]domain.Trade, error) { return nil, nil }

func (s *memTrades) Count(context.Context) (int64, error) { return int64(len(s.rows)), nil }

type memSync struct{ last map[string]uint64 }

func (s *memSync) Get(_ context.Context, key string) (domain.Watermark, error) {
	v, ok := s.last[key]
	if !ok {
		return domain.Watermark{}, domain.ErrNotFound
	}
	return domain.Watermark{StreamKey: key, LastBlock: v}, nil
}

func (s *memSync) Advance(_ context.Context, key string, v uint64) error {
	if v > s.last[key] {
		s.last[key] = v
	}
	return nil
}
