package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/ctfindexer/internal/domain"
)

// TradeStore implements domain.TradeStore and domain.IndexCommitter using
// PostgreSQL.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a new TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeSelectCols = `id, market_id, tx_hash, log_index, block_number, timestamp,
	exchange, order_hash, maker, taker, side, outcome, price, size, token_id,
	maker_asset_id, taker_asset_id, maker_amount, taker_amount, fee`

const insertTradeSQL = `
	INSERT INTO trades (
		market_id, tx_hash, log_index, block_number, timestamp,
		exchange, order_hash, maker, taker, side, outcome,
		price, size, token_id,
		maker_asset_id, taker_asset_id, maker_amount, taker_amount, fee
	) VALUES (
		$1, $2, $3, $4, $5,
		$6, $7, $8, $9, $10, $11,
		$12, $13, $14,
		$15, $16, $17, $18, $19
	)
	ON CONFLICT (tx_hash, log_index) DO NOTHING
	RETURNING id`

const advanceWatermarkSQL = `
	INSERT INTO sync_state (stream_key, last_block, updated_at)
	VALUES ($1, $2, NOW())
	ON CONFLICT (stream_key) DO UPDATE SET
		last_block = GREATEST(sync_state.last_block, EXCLUDED.last_block),
		updated_at = NOW()
	RETURNING last_block`

func scanTradeRows(rows pgx.Rows) ([]domain.Trade, error) {
	var trades []domain.Trade
	for rows.Next() {
		var t domain.Trade
		var logIndex int32
		var block int64
		var side, outcome string
		if err := rows.Scan(
			&t.ID, &t.MarketID, &t.TxHash, &logIndex, &block, &t.Timestamp,
			&t.Exchange, &t.OrderHash, &t.Maker, &t.Taker, &side, &outcome,
			&t.Price, &t.Size, &t.TokenID,
			&t.MakerAssetID, &t.TakerAssetID, &t.MakerAmount, &t.TakerAmount, &t.Fee,
		); err != nil {
			return nil, err
		}
		t.LogIndex = uint(logIndex)
		t.BlockNumber = uint64(block)
		t.Side = domain.Side(side)
		t.Outcome = domain.Outcome(outcome)
		t.Timestamp = t.Timestamp.UTC()
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// CommitTrades inserts trades and optionally advances the stream watermark
// in one transaction. Rows that already exist are counted as duplicates.
// The returned Trades hold only the newly inserted rows, with ids set.
func (s *TradeStore) CommitTrades(ctx context.Context, streamKey string, trades []domain.Trade, advanceTo *uint64) (domain.CommitResult, error) {
	var res domain.CommitResult
	err := inTx(ctx, s.pool, func(tx pgx.Tx) error {
		res = domain.CommitResult{}
		if len(trades) > 0 {
			batch := &pgx.Batch{}
			for _, t := range trades {
				batch.Queue(insertTradeSQL,
					t.MarketID, t.TxHash, int32(t.LogIndex), int64(t.BlockNumber), t.Timestamp,
					t.Exchange, t.OrderHash, t.Maker, t.Taker, string(t.Side), string(t.Outcome),
					t.Price, t.Size, t.TokenID,
					t.MakerAssetID, t.TakerAssetID, t.MakerAmount, t.TakerAmount, t.Fee,
				)
			}
			br := tx.SendBatch(ctx, batch)
			for i, t := range trades {
				var id int64
				err := br.QueryRow().Scan(&id)
				switch {
				case errors.Is(err, pgx.ErrNoRows):
					res.Duplicates++
				case err != nil:
					_ = br.Close()
					return fmt.Errorf("postgres: insert trade batch item %d: %w", i, err)
				default:
					t.ID = id
					res.Inserted++
					res.Trades = append(res.Trades, t)
				}
			}
			if err := br.Close(); err != nil {
				return fmt.Errorf("postgres: close trade batch: %w", err)
			}
		}

		var last int64
		var err error
		if advanceTo != nil {
			err = tx.QueryRow(ctx, advanceWatermarkSQL, streamKey, int64(*advanceTo)).Scan(&last)
		} else {
			err = tx.QueryRow(ctx, `SELECT last_block FROM sync_state WHERE stream_key = $1`, streamKey).Scan(&last)
			if errors.Is(err, pgx.ErrNoRows) {
				err = nil
			}
		}
		if err != nil {
			return fmt.Errorf("postgres: watermark %s: %w", streamKey, err)
		}
		res.Watermark = uint64(last)
		return nil
	})
	if err != nil {
		return domain.CommitResult{}, err
	}
	return res, nil
}

// tradeQuery builds a paginated, block-ordered trade query filtered on one
// column.
func tradeQuery(column string, value any, opts domain.ListOpts) (string, []any) {
	query := `SELECT ` + tradeSelectCols + ` FROM trades WHERE ` + column + ` = $1`
	args := []any{value}
	argIdx := 2

	if opts.FromBlock != nil {
		query += fmt.Sprintf(" AND block_number >= $%d", argIdx)
		args = append(args, int64(*opts.FromBlock))
		argIdx++
	}
	if opts.ToBlock != nil {
		query += fmt.Sprintf(" AND block_number <= $%d", argIdx)
		args = append(args, int64(*opts.ToBlock))
		argIdx++
	}

	query += " ORDER BY block_number ASC, log_index ASC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}
	return query, args
}

func (s *TradeStore) list(ctx context.Context, what, query string, args []any) ([]domain.Trade, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades by %s: %w", what, err)
	}
	defer rows.Close()

	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades by %s: %w", what, err)
	}
	return trades, nil
}

// ListByMarket returns trades of one market in chain order.
func (s *TradeStore) ListByMarket(ctx context.Context, marketID int64, opts domain.ListOpts) ([]domain.Trade, error) {
	q, args := tradeQuery("market_id", marketID, opts)
	return s.list(ctx, "market", q, args)
}

// ListByToken returns trades of one position token in chain order.
func (s *TradeStore) ListByToken(ctx context.Context, tokenID string, opts domain.ListOpts) ([]domain.Trade, error) {
	q, args := tradeQuery("token_id", tokenID, opts)
	return s.list(ctx, "token", q, args)
}

// ListAfterID returns up to limit trades with id greater than afterID, in id
// order. Used by the archiver to page through new rows.
func (s *TradeStore) ListAfterID(ctx context.Context, afterID int64, limit int) ([]domain.Trade, error) {
	return s.list(ctx, "id",
		`SELECT `+tradeSelectCols+` FROM trades WHERE id > $1 ORDER BY id ASC LIMIT $2`,
		[]any{afterID, limit})
}

// Count returns the total number of trades.
func (s *TradeStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM trades").Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count trades: %w", err)
	}
	return n, nil
}
