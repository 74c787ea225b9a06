package domain

import "context"

// ListOpts provides pagination and block-range filtering for list queries.
type ListOpts struct {
	Limit     int
	Offset    int
	FromBlock *uint64
	ToBlock   *uint64
}

// EventStore persists Gamma events.
type EventStore interface {
	Upsert(ctx context.Context, event Event) (int64, error)
	GetBySlug(ctx context.Context, slug string) (Event, error)
}

// MarketStore persists market metadata. Upsert is keyed by condition id and
// returns the stable surrogate id.
type MarketStore interface {
	Upsert(ctx context.Context, market Market) (int64, error)
	GetByID(ctx context.Context, id int64) (Market, error)
	GetByConditionID(ctx context.Context, conditionID string) (Market, error)
	GetByTokenID(ctx context.Context, tokenID string) (Market, error)
	GetBySlug(ctx context.Context, slug string) (Market, error)
	ListByEvent(ctx context.Context, eventID int64) ([]Market, error)
	Count(ctx context.Context) (int64, error)
}

// TradeStore reads the append-only trade history. Writes go through
// IndexCommitter so that trades and the watermark move together.
type TradeStore interface {
	ListByMarket(ctx context.Context, marketID int64, opts ListOpts) ([]Trade, error)
	ListByToken(ctx context.Context, tokenID string, opts ListOpts) ([]Trade, error)
	ListAfterID(ctx context.Context, afterID int64, limit int) ([]Trade, error)
	Count(ctx context.Context) (int64, error)
}

// SyncStore reads and advances per-stream watermarks.
type SyncStore interface {
	Get(ctx context.Context, streamKey string) (Watermark, error)
	Advance(ctx context.Context, streamKey string, block uint64) error
}

// RunStore keeps an append-only history of indexing runs.
type RunStore interface {
	Record(ctx context.Context, report RunReport) error
	ListRecent(ctx context.Context, streamKey string, limit int) ([]RunReport, error)
}

// CommitResult reports what one atomic commit wrote.
type CommitResult struct {
	Inserted   int
	Duplicates int
	Trades     []Trade
	Watermark  uint64
}

// IndexCommitter writes a batch of trades and, optionally, a new watermark
// in one transaction. A nil advanceTo leaves the watermark untouched.
type IndexCommitter interface {
	CommitTrades(ctx context.Context, streamKey string, trades []Trade, advanceTo *uint64) (CommitResult, error)
}
