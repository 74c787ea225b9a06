package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/ctfindexer/internal/abi"
	"github.com/alanyoungcy/ctfindexer/internal/ctf"
	"github.com/alanyoungcy/ctfindexer/internal/domain"
)

// MismatchAlerter is told when derived token ids disagree with published ones.
type MismatchAlerter interface {
	DerivationMismatch(ctx context.Context, conditionID, slug string, derived, external [2]string) error
}

// Comparison is the outcome of DeriveAndCompare.
type Comparison struct {
	Derived ctf.BinaryPositions `json:"derived"`
	// Checked is false when the market carried no external token ids.
	Checked bool `json:"checked"`
	Match   bool `json:"match"`
	// Swapped means both ids matched but in the opposite YES/NO order.
	Swapped bool `json:"swapped"`
	// ConditionMatch is false when oracle and question id were known and
	// produced a different condition id than the one supplied.
	ConditionMatch bool `json:"condition_match"`
}

// MarketRegistry owns market metadata: it normalizes and stores markets,
// resolves token ids to markets and checks published token ids against the
// on-chain derivation.
type MarketRegistry struct {
	markets    domain.MarketStore
	cache      domain.MarketCache
	alerts     MismatchAlerter
	collateral string
	logger     *slog.Logger
}

// NewMarketRegistry creates a MarketRegistry. cache and alerts may be nil.
// collateral is the default collateral token for markets that omit one.
func NewMarketRegistry(
	markets domain.MarketStore,
	cache domain.MarketCache,
	alerts MismatchAlerter,
	collateral string,
	logger *slog.Logger,
) *MarketRegistry {
	if collateral == "" {
		collateral = abi.HexAddress(ctf.USDCe)
	}
	return &MarketRegistry{
		markets:    markets,
		cache:      cache,
		alerts:     alerts,
		collateral: collateral,
		logger:     logger.With(slog.String("component", "registry")),
	}
}

// Normalize returns m with every identifier in canonical form and defaults
// applied. It fails with domain.ErrMissingConditionID when no condition id
// is present.
func (r *MarketRegistry) Normalize(m domain.Market) (domain.Market, error) {
	if m.ConditionID == "" {
		return m, domain.ErrMissingConditionID
	}
	return r.normalizeFields(m)
}

func (r *MarketRegistry) normalizeFields(m domain.Market) (domain.Market, error) {
	var err error
	if m.ConditionID != "" {
		if m.ConditionID, err = ctf.NormalizeHash(m.ConditionID); err != nil {
			return m, fmt.Errorf("condition id: %w", err)
		}
	}
	if m.QuestionID != "" {
		if m.QuestionID, err = ctf.NormalizeHash(m.QuestionID); err != nil {
			return m, fmt.Errorf("question id: %w", err)
		}
	}
	if m.Oracle != "" {
		if m.Oracle, err = ctf.NormalizeAddress(m.Oracle); err != nil {
			return m, fmt.Errorf("oracle: %w", err)
		}
	}
	if m.CollateralToken == "" {
		m.CollateralToken = r.collateral
	}
	if m.CollateralToken, err = ctf.NormalizeAddress(m.CollateralToken); err != nil {
		return m, fmt.Errorf("collateral: %w", err)
	}
	if m.YesTokenID != "" {
		if m.YesTokenID, err = ctf.NormalizeTokenID(m.YesTokenID); err != nil {
			return m, fmt.Errorf("yes token: %w", err)
		}
	}
	if m.NoTokenID != "" {
		if m.NoTokenID, err = ctf.NormalizeTokenID(m.NoTokenID); err != nil {
			return m, fmt.Errorf("no token: %w", err)
		}
	}
	if m.Status == "" {
		m.Status = domain.MarketStatusActive
	}
	return m, nil
}

// Upsert normalizes and stores a market keyed by condition id and returns
// its stable id. The cached copy is refreshed from the stored row.
func (r *MarketRegistry) Upsert(ctx context.Context, m domain.Market) (int64, error) {
	m, err := r.Normalize(m)
	if err != nil {
		return 0, fmt.Errorf("registry: upsert %s: %w", m.Slug, err)
	}
	id, err := r.markets.Upsert(ctx, m)
	if err != nil {
		return 0, fmt.Errorf("registry: upsert %s: %w", m.ConditionID, err)
	}
	r.refreshCache(ctx, id)
	return id, nil
}

func (r *MarketRegistry) refreshCache(ctx context.Context, id int64) {
	if r.cache == nil {
		return
	}
	// Token ids may have changed; drop the old index entries first.
	err := r.cache.Invalidate(ctx, id)
	var stored domain.Market
	if err == nil {
		stored, err = r.markets.GetByID(ctx, id)
	}
	if err == nil {
		err = r.cache.Set(ctx, stored)
	}
	if err != nil {
		r.logger.WarnContext(ctx, "cache refresh failed",
			slog.Int64("market_id", id),
			slog.String("error", err.Error()),
		)
	}
}

// Resolve finds the market owning tokenID. Any accepted token id form is
// normalized first. An unknown token returns (nil, nil).
func (r *MarketRegistry) Resolve(ctx context.Context, tokenID string) (*domain.Market, error) {
	tok, err := ctf.NormalizeTokenID(tokenID)
	if err != nil {
		return nil, fmt.Errorf("registry: resolve: %w", err)
	}

	if r.cache != nil {
		if m, err := r.cache.GetByToken(ctx, tok); err == nil {
			return &m, nil
		} else if !errors.Is(err, domain.ErrNotFound) {
			r.logger.DebugContext(ctx, "cache lookup failed", slog.String("error", err.Error()))
		}
	}

	m, err := r.markets.GetByTokenID(ctx, tok)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("registry: resolve %s: %w", tok, err)
	}

	if r.cache != nil {
		if err := r.cache.Set(ctx, m); err != nil {
			r.logger.WarnContext(ctx, "cache set failed",
				slog.Int64("market_id", m.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	return &m, nil
}

// Outcome reports whether tokenID is the YES or NO side of m.
func (r *MarketRegistry) Outcome(m domain.Market, tokenID string) domain.Outcome {
	tok, err := ctf.NormalizeTokenID(tokenID)
	if err != nil {
		return domain.OutcomeUnknown
	}
	return m.OutcomeFor(tok)
}

// DeriveAndCompare recomputes the binary positions of m and checks them
// against its token ids. The supplied condition id is used directly when
// present; otherwise it is derived from oracle and question id.
//
// On mismatch the published ids are kept, a warning is logged and the
// alerter is notified. Missing token ids are filled from the derivation.
func (r *MarketRegistry) DeriveAndCompare(ctx context.Context, m domain.Market) (domain.Market, Comparison, error) {
	m, err := r.normalizeFields(m)
	if err != nil {
		return m, Comparison{}, fmt.Errorf("registry: derive: %w", err)
	}

	if m.ConditionID == "" && m.QuestionID == "" {
		return m, Comparison{}, fmt.Errorf("registry: derive: %w", domain.ErrMissingConditionID)
	}
	oracle := m.Oracle
	if oracle == "" {
		oracle = abi.HexAddress(ctf.UMAAdapterOracle)
	}
	pos, err := ctf.DeriveBinaryPositionsHex(oracle, m.QuestionID, m.CollateralToken, m.ConditionID)
	if err != nil {
		return m, Comparison{}, fmt.Errorf("registry: derive: %w", err)
	}

	cmp := Comparison{Derived: pos, ConditionMatch: true}
	if m.Oracle != "" && m.QuestionID != "" && m.ConditionID != "" {
		fromQuestion, err := ctf.DeriveBinaryPositionsHex(m.Oracle, m.QuestionID, m.CollateralToken, "")
		if err == nil && fromQuestion.ConditionID != pos.ConditionID {
			cmp.ConditionMatch = false
			r.logger.WarnContext(ctx, "condition id does not match oracle and question",
				slog.String("condition_id", m.ConditionID),
				slog.String("derived", fromQuestion.ConditionID.Hex()),
			)
		}
	}
	if m.ConditionID == "" {
		m.ConditionID = pos.ConditionID.Hex()
	}

	yes, no := pos.YesTokenID(), pos.NoTokenID()
	if m.YesTokenID == "" && m.NoTokenID == "" {
		m.YesTokenID, m.NoTokenID = yes, no
		cmp.Match = true
		return m, cmp, nil
	}

	cmp.Checked = true
	switch {
	case m.YesTokenID == yes && m.NoTokenID == no:
		cmp.Match = true
	case m.YesTokenID == no && m.NoTokenID == yes:
		cmp.Match = true
		cmp.Swapped = true
		r.logger.InfoContext(ctx, "published token ids are in swapped order",
			slog.String("condition_id", m.ConditionID),
			slog.String("slug", m.Slug),
		)
	default:
		r.logger.WarnContext(ctx, "derived token ids differ from published ids, keeping published",
			slog.String("condition_id", m.ConditionID),
			slog.String("slug", m.Slug),
			slog.String("derived_yes", yes),
			slog.String("derived_no", no),
			slog.String("published_yes", m.YesTokenID),
			slog.String("published_no", m.NoTokenID),
		)
		if r.alerts != nil {
			if err := r.alerts.DerivationMismatch(ctx, m.ConditionID, m.Slug,
				[2]string{yes, no}, [2]string{m.YesTokenID, m.NoTokenID}); err != nil {
				r.logger.WarnContext(ctx, "mismatch alert failed", slog.String("error", err.Error()))
			}
		}
	}
	return m, cmp, nil
}
