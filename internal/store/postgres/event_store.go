package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/ctfindexer/internal/domain"
)

// EventStore implements domain.EventStore using PostgreSQL.
type EventStore struct {
	pool *pgxpool.Pool
}

// NewEventStore creates a new EventStore backed by the given connection pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

// Upsert inserts or refreshes an event keyed by slug and returns its id.
func (s *EventStore) Upsert(ctx context.Context, e domain.Event) (int64, error) {
	const query = `
		INSERT INTO events (slug, title, description, start_date, end_date, enable_neg_risk, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (slug) DO UPDATE SET
			title           = EXCLUDED.title,
			description     = EXCLUDED.description,
			start_date      = EXCLUDED.start_date,
			end_date        = EXCLUDED.end_date,
			enable_neg_risk = EXCLUDED.enable_neg_risk,
			updated_at      = NOW()
		RETURNING id`

	var id int64
	err := s.pool.QueryRow(ctx, query,
		e.Slug, e.Title, e.Description, e.StartDate, e.EndDate, e.EnableNegRisk,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("postgres: upsert event %s: %w", e.Slug, err)
	}
	return id, nil
}

// GetBySlug retrieves an event by slug.
func (s *EventStore) GetBySlug(ctx context.Context, slug string) (domain.Event, error) {
	var e domain.Event
	err := s.pool.QueryRow(ctx, `
		SELECT id, slug, title, description, start_date, end_date, enable_neg_risk, created_at, updated_at
		FROM events WHERE slug = $1`, slug,
	).Scan(&e.ID, &e.Slug, &e.Title, &e.Description, &e.StartDate, &e.EndDate,
		&e.EnableNegRisk, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Event{}, domain.ErrNotFound
		}
		return domain.Event{}, fmt.Errorf("postgres: get event %s: %w", slug, err)
	}
	return e, nil
}
