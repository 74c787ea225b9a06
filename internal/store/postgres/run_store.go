package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/ctfindexer/internal/domain"
)

// RunStore implements domain.RunStore using PostgreSQL.
type RunStore struct {
	pool *pgxpool.Pool
}

// NewRunStore creates a new RunStore backed by the given connection pool.
func NewRunStore(pool *pgxpool.Pool) *RunStore {
	return &RunStore{pool: pool}
}

// Record appends a run report. The full report is kept as JSONB next to a
// few columns used for filtering.
func (s *RunStore) Record(ctx context.Context, r domain.RunReport) error {
	runID, err := uuid.Parse(r.RunID)
	if err != nil {
		return fmt.Errorf("postgres: run id %q: %w", r.RunID, err)
	}
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("postgres: marshal run report: %w", err)
	}

	const query = `
		INSERT INTO index_runs (run_id, stream_key, mode, from_block, to_block, inserted, failed, report)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (run_id) DO NOTHING`
	_, err = s.pool.Exec(ctx, query,
		runID.String(), r.StreamKey, r.Mode, int64(r.FromBlock), int64(r.ToBlock),
		r.InsertedTrades, r.Error != "", body,
	)
	if err != nil {
		return fmt.Errorf("postgres: record run %s: %w", r.RunID, err)
	}
	return nil
}

// ListRecent returns the newest runs for a stream, newest first.
func (s *RunStore) ListRecent(ctx context.Context, streamKey string, limit int) ([]domain.RunReport, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx,
		`SELECT report FROM index_runs WHERE stream_key = $1 ORDER BY created_at DESC LIMIT $2`,
		streamKey, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list runs: %w", err)
	}
	defer rows.Close()

	var reports []domain.RunReport
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("postgres: scan run: %w", err)
		}
		var r domain.RunReport
		if err := json.Unmarshal(body, &r); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal run: %w", err)
		}
		reports = append(reports, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list runs rows: %w", err)
	}
	return reports, nil
}
