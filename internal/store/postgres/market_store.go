package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/ctfindexer/internal/domain"
)

// MarketStore implements domain.MarketStore using PostgreSQL.
type MarketStore struct {
	pool *pgxpool.Pool
}

// NewMarketStore creates a new MarketStore backed by the given connection pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

// Upsert inserts or updates a market keyed by condition id and returns the
// row id in the same statement. Empty metadata never overwrites stored
// values, so an on-chain decode does not erase Gamma fields.
func (s *MarketStore) Upsert(ctx context.Context, m domain.Market) (int64, error) {
	const query = `
		INSERT INTO markets (
			event_id, slug, condition_id, question_id, oracle, collateral_token,
			yes_token_id, no_token_id, enable_neg_risk, status, title, description,
			updated_at
		) VALUES (
			$1, NULLIF($2, ''), $3, $4, $5, $6,
			$7, $8, $9, $10, $11, $12,
			NOW()
		)
		ON CONFLICT (condition_id) DO UPDATE SET
			event_id         = COALESCE(EXCLUDED.event_id, markets.event_id),
			slug             = COALESCE(EXCLUDED.slug, markets.slug),
			question_id      = COALESCE(NULLIF(EXCLUDED.question_id, ''), markets.question_id),
			oracle           = COALESCE(NULLIF(EXCLUDED.oracle, ''), markets.oracle),
			collateral_token = COALESCE(NULLIF(EXCLUDED.collateral_token, ''), markets.collateral_token),
			yes_token_id     = COALESCE(NULLIF(EXCLUDED.yes_token_id, ''), markets.yes_token_id),
			no_token_id      = COALESCE(NULLIF(EXCLUDED.no_token_id, ''), markets.no_token_id),
			enable_neg_risk  = EXCLUDED.enable_neg_risk OR markets.enable_neg_risk,
			status           = EXCLUDED.status,
			title            = COALESCE(NULLIF(EXCLUDED.title, ''), markets.title),
			description      = COALESCE(NULLIF(EXCLUDED.description, ''), markets.description),
			updated_at       = NOW()
		RETURNING id`

	status := m.Status
	if status == "" {
		status = domain.MarketStatusActive
	}

	var id int64
	err := s.pool.QueryRow(ctx, query,
		m.EventID, m.Slug, m.ConditionID, m.QuestionID, m.Oracle, m.CollateralToken,
		m.YesTokenID, m.NoTokenID, m.EnableNegRisk, string(status), m.Title, m.Description,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("postgres: upsert market %s: %w", m.ConditionID, err)
	}
	return id, nil
}

const marketCols = `id, event_id, COALESCE(slug, ''), condition_id, question_id, oracle,
	collateral_token, yes_token_id, no_token_id, enable_neg_risk, status,
	title, description, created_at, updated_at`

func scanMarket(row pgx.Row) (domain.Market, error) {
	var m domain.Market
	var status string
	err := row.Scan(
		&m.ID, &m.EventID, &m.Slug, &m.ConditionID, &m.QuestionID, &m.Oracle,
		&m.CollateralToken, &m.YesTokenID, &m.NoTokenID, &m.EnableNegRisk, &status,
		&m.Title, &m.Description, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return domain.Market{}, err
	}
	m.Status = domain.MarketStatus(status)
	return m, nil
}

func (s *MarketStore) getOne(ctx context.Context, what, where string, arg any) (domain.Market, error) {
	m, err := scanMarket(s.pool.QueryRow(ctx, `SELECT `+marketCols+` FROM markets WHERE `+where, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("postgres: get market by %s %v: %w", what, arg, err)
	}
	return m, nil
}

// GetByID retrieves a market by its primary key.
func (s *MarketStore) GetByID(ctx context.Context, id int64) (domain.Market, error) {
	return s.getOne(ctx, "id", "id = $1", id)
}

// GetByConditionID retrieves a market by condition id.
func (s *MarketStore) GetByConditionID(ctx context.Context, conditionID string) (domain.Market, error) {
	return s.getOne(ctx, "condition", "condition_id = $1", conditionID)
}

// GetByTokenID retrieves a market by either position token id.
func (s *MarketStore) GetByTokenID(ctx context.Context, tokenID string) (domain.Market, error) {
	return s.getOne(ctx, "token", "yes_token_id = $1 OR no_token_id = $1 LIMIT 1", tokenID)
}

// GetBySlug retrieves a market by its URL slug.
func (s *MarketStore) GetBySlug(ctx context.Context, slug string) (domain.Market, error) {
	return s.getOne(ctx, "slug", "slug = $1", slug)
}

// ListByEvent returns the markets of an event ordered by id.
func (s *MarketStore) ListByEvent(ctx context.Context, eventID int64) ([]domain.Market, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+marketCols+` FROM markets WHERE event_id = $1 ORDER BY id`, eventID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list markets by event: %w", err)
	}
	defer rows.Close()

	var markets []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		markets = append(markets, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list markets by event rows: %w", err)
	}
	return markets, nil
}

// Count returns the total number of markets in the database.
func (s *MarketStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM markets").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("postgres: count markets: %w", err)
	}
	return count, nil
}
