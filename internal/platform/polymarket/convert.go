package polymarket

import (
	"fmt"

	"github.com/alanyoungcy/ctfindexer/internal/ctf"
	"github.com/alanyoungcy/ctfindexer/internal/domain"
)

// ToDomainEvent converts a Gamma event. Markets are converted separately.
func (e GammaEvent) ToDomainEvent(fallbackSlug string) domain.Event {
	slug := e.Slug
	if slug == "" {
		slug = fallbackSlug
	}
	return domain.Event{
		Slug:          slug,
		Title:         e.Title,
		Description:   e.Description,
		StartDate:     e.Start(),
		EndDate:       e.End(),
		EnableNegRisk: e.EnableNegRisk || e.NegRisk,
	}
}

// ToDomainMarket converts a Gamma market into a registry draft with
// canonical identifiers. The first two clobTokenIds are YES and NO.
// collateral must already be canonical. A market without a condition id
// returns domain.ErrMissingConditionID.
func (m GammaMarket) ToDomainMarket(collateral string) (domain.Market, error) {
	if m.ConditionID == "" {
		return domain.Market{}, fmt.Errorf("polymarket/gamma: market %s: %w", m.SlugOrID(), domain.ErrMissingConditionID)
	}
	cond, err := ctf.NormalizeHash(m.ConditionID)
	if err != nil {
		return domain.Market{}, fmt.Errorf("polymarket/gamma: market %s condition id: %w", m.SlugOrID(), err)
	}

	dm := domain.Market{
		Slug:            m.SlugOrID(),
		ConditionID:     cond,
		CollateralToken: collateral,
		EnableNegRisk:   m.NegRisk || m.EnableNegRisk,
		Status:          domain.MarketStatusInactive,
		Title:           m.Title(),
		Description:     m.Description,
	}
	if m.IsActive() {
		dm.Status = domain.MarketStatusActive
	}
	if m.QuestionID != "" {
		q, err := ctf.NormalizeHash(m.QuestionID)
		if err != nil {
			return domain.Market{}, fmt.Errorf("polymarket/gamma: market %s question id: %w", m.SlugOrID(), err)
		}
		dm.QuestionID = q
	}
	if len(m.ClobTokenIDs) >= 2 {
		if dm.YesTokenID, err = ctf.NormalizeTokenID(m.ClobTokenIDs[0]); err != nil {
			return domain.Market{}, fmt.Errorf("polymarket/gamma: market %s yes token: %w", m.SlugOrID(), err)
		}
		if dm.NoTokenID, err = ctf.NormalizeTokenID(m.ClobTokenIDs[1]); err != nil {
			return domain.Market{}, fmt.Errorf("polymarket/gamma: market %s no token: %w", m.SlugOrID(), err)
		}
	}
	return dm, nil
}
