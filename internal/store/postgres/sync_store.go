package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/ctfindexer/internal/domain"
)

// SyncStore implements domain.SyncStore using PostgreSQL.
type SyncStore struct {
	pool *pgxpool.Pool
}

// NewSyncStore creates a new SyncStore backed by the given connection pool.
func NewSyncStore(pool *pgxpool.Pool) *SyncStore {
	return &SyncStore{pool: pool}
}

// Get returns the watermark of a stream, or domain.ErrNotFound when the
// stream has never committed.
func (s *SyncStore) Get(ctx context.Context, streamKey string) (domain.Watermark, error) {
	var last int64
	w := domain.Watermark{StreamKey: streamKey}
	err := s.pool.QueryRow(ctx,
		`SELECT last_block, updated_at FROM sync_state WHERE stream_key = $1`, streamKey,
	).Scan(&last, &w.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Watermark{}, domain.ErrNotFound
		}
		return domain.Watermark{}, fmt.Errorf("postgres: get watermark %s: %w", streamKey, err)
	}
	w.LastBlock = uint64(last)
	return w, nil
}

// Advance moves the watermark forward. A lower block never moves it back.
func (s *SyncStore) Advance(ctx context.Context, streamKey string, block uint64) error {
	if _, err := s.pool.Exec(ctx, advanceWatermarkSQL, streamKey, int64(block)); err != nil {
		return fmt.Errorf("postgres: advance watermark %s: %w", streamKey, err)
	}
	return nil
}
