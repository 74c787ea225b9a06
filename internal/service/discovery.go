package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/ctfindexer/internal/ctf"
	"github.com/alanyoungcy/ctfindexer/internal/decoder"
	"github.com/alanyoungcy/ctfindexer/internal/domain"
	"github.com/alanyoungcy/ctfindexer/internal/platform/polymarket"
)

// GammaSource fetches off-chain event and market metadata.
type GammaSource interface {
	GetEventBySlug(ctx context.Context, slug string) (polymarket.GammaEvent, error)
	GetMarketBySlug(ctx context.Context, slug string) (polymarket.GammaMarket, error)
}

// ReceiptSource returns the logs and block number of a mined transaction.
type ReceiptSource interface {
	Receipt(ctx context.Context, txHash common.Hash) ([]types.Log, uint64, error)
}

// MarketFailure records a market that could not be stored.
type MarketFailure struct {
	Slug  string `json:"slug"`
	Error string `json:"error"`
}

// DiscoveryResult summarizes one DiscoverEvent call.
type DiscoveryResult struct {
	EventSlug    string          `json:"event_slug"`
	EventID      int64           `json:"event_id"`
	TotalMarkets int             `json:"total_markets"`
	Validated    int             `json:"validated_markets"`
	Mismatched   int             `json:"mismatched_markets"`
	Failed       []MarketFailure `json:"failed"`
	Markets      []domain.Market `json:"markets"`
}

// DiscoveryConfig controls market discovery.
type DiscoveryConfig struct {
	// Collateral is the canonical collateral token for discovered markets.
	Collateral string
	// VerifyTokens re-derives token ids of standard markets and compares
	// them with the published ones. Neg-risk markets are not checked since
	// their positions use a wrapped collateral.
	VerifyTokens bool
}

// DiscoveryService pulls event and market metadata from Gamma into the
// registry and decodes markets from on-chain condition preparations.
type DiscoveryService struct {
	cfg      DiscoveryConfig
	gamma    GammaSource
	events   domain.EventStore
	registry *MarketRegistry
	receipts ReceiptSource
	logger   *slog.Logger
}

// NewDiscoveryService creates a DiscoveryService. receipts may be nil when
// transaction decoding is not needed.
func NewDiscoveryService(
	cfg DiscoveryConfig,
	gamma GammaSource,
	events domain.EventStore,
	registry *MarketRegistry,
	receipts ReceiptSource,
	logger *slog.Logger,
) *DiscoveryService {
	if cfg.Collateral == "" {
		cfg.Collateral = ctf.USDCe.Hex()
	}
	if c, err := ctf.NormalizeAddress(cfg.Collateral); err == nil {
		cfg.Collateral = c
	}
	return &DiscoveryService{
		cfg:      cfg,
		gamma:    gamma,
		events:   events,
		registry: registry,
		receipts: receipts,
		logger:   logger.With(slog.String("component", "discovery")),
	}
}

// DiscoverEvent fetches an event by slug, stores it and upserts each of its
// markets. A market that fails is recorded in the result and does not abort
// the others.
//
// Validated counts markets that carry a condition id and a YES token id.
// It does not mean the token ids were re-derived.
func (s *DiscoveryService) DiscoverEvent(ctx context.Context, slug string) (DiscoveryResult, error) {
	ge, err := s.gamma.GetEventBySlug(ctx, slug)
	if err != nil {
		return DiscoveryResult{}, fmt.Errorf("discovery: event %s: %w", slug, err)
	}

	eventID, err := s.events.Upsert(ctx, ge.ToDomainEvent(slug))
	if err != nil {
		return DiscoveryResult{}, fmt.Errorf("discovery: store event %s: %w", slug, err)
	}

	res := DiscoveryResult{
		EventSlug: slug,
		EventID:   eventID,
		Failed:    []MarketFailure{},
		Markets:   make([]domain.Market, 0, len(ge.Markets)),
	}
	for _, gm := range ge.Markets {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		m, mismatch, err := s.storeMarket(ctx, gm, &eventID)
		if err != nil {
			s.logger.WarnContext(ctx, "market skipped",
				slog.String("event", slug),
				slog.String("market", gm.SlugOrID()),
				slog.String("error", err.Error()),
			)
			res.Failed = append(res.Failed, MarketFailure{Slug: gm.SlugOrID(), Error: err.Error()})
			continue
		}
		if mismatch {
			res.Mismatched++
		}
		if m.ConditionID != "" && m.YesTokenID != "" {
			res.Validated++
		}
		res.Markets = append(res.Markets, m)
	}
	res.TotalMarkets = len(res.Markets)

	s.logger.InfoContext(ctx, "event discovered",
		slog.String("event", slug),
		slog.Int64("event_id", eventID),
		slog.Int("markets", res.TotalMarkets),
		slog.Int("validated", res.Validated),
		slog.Int("failed", len(res.Failed)),
	)
	return res, nil
}

// DiscoverMarket fetches and stores a single market by slug.
func (s *DiscoveryService) DiscoverMarket(ctx context.Context, slug string) (domain.Market, error) {
	gm, err := s.gamma.GetMarketBySlug(ctx, slug)
	if err != nil {
		return domain.Market{}, fmt.Errorf("discovery: market %s: %w", slug, err)
	}
	m, _, err := s.storeMarket(ctx, gm, nil)
	if err != nil {
		return domain.Market{}, fmt.Errorf("discovery: market %s: %w", slug, err)
	}
	s.logger.InfoContext(ctx, "market discovered",
		slog.String("slug", m.Slug),
		slog.Int64("market_id", m.ID),
	)
	return m, nil
}

func (s *DiscoveryService) storeMarket(ctx context.Context, gm polymarket.GammaMarket, eventID *int64) (domain.Market, bool, error) {
	m, err := gm.ToDomainMarket(s.cfg.Collateral)
	if err != nil {
		return domain.Market{}, false, err
	}
	m.EventID = eventID

	mismatch := false
	if s.cfg.VerifyTokens && !m.EnableNegRisk {
		var cmp Comparison
		m, cmp, err = s.registry.DeriveAndCompare(ctx, m)
		if err != nil {
			return domain.Market{}, false, err
		}
		mismatch = cmp.Checked && !cmp.Match
	}

	id, err := s.registry.Upsert(ctx, m)
	if err != nil {
		return domain.Market{}, mismatch, err
	}
	m.ID = id
	return m, mismatch, nil
}

// DecodeMarketFromSlug builds a market from Gamma metadata and the on-chain
// derivation without storing it. Published token ids win on mismatch.
func (s *DiscoveryService) DecodeMarketFromSlug(ctx context.Context, slug string) (domain.Market, Comparison, error) {
	gm, err := s.gamma.GetMarketBySlug(ctx, slug)
	if err != nil {
		return domain.Market{}, Comparison{}, fmt.Errorf("discovery: market %s: %w", slug, err)
	}
	m, err := gm.ToDomainMarket(s.cfg.Collateral)
	if err != nil {
		return domain.Market{}, Comparison{}, fmt.Errorf("discovery: market %s: %w", slug, err)
	}
	m, cmp, err := s.registry.DeriveAndCompare(ctx, m)
	if err != nil {
		return domain.Market{}, Comparison{}, fmt.Errorf("discovery: market %s: %w", slug, err)
	}
	return m, cmp, nil
}

// DecodeMarketFromTx reads a transaction receipt, selects its
// ConditionPreparation event and derives the market's token ids. logIndex
// picks a specific log when the transaction prepared several conditions.
func (s *DiscoveryService) DecodeMarketFromTx(ctx context.Context, txHash string, logIndex *uint) (domain.Market, error) {
	if s.receipts == nil {
		return domain.Market{}, errors.New("discovery: no receipt source configured")
	}
	h, err := ctf.NormalizeHash(txHash)
	if err != nil {
		return domain.Market{}, fmt.Errorf("discovery: tx hash: %w: %w", domain.ErrInvalidParam, err)
	}
	logs, _, err := s.receipts.Receipt(ctx, common.HexToHash(h))
	if err != nil {
		return domain.Market{}, fmt.Errorf("discovery: receipt %s: %w", h, err)
	}
	prep, err := decoder.SelectConditionPreparation(logs, logIndex, s.logger)
	if err != nil {
		return domain.Market{}, fmt.Errorf("discovery: tx %s: %w", h, err)
	}
	collateral, err := ctf.ParseAddress(s.cfg.Collateral)
	if err != nil {
		return domain.Market{}, fmt.Errorf("discovery: collateral: %w", err)
	}
	m := decoder.MarketFromCondition(prep, collateral)
	if slots := prep.OutcomeSlotCount; !slots.IsUint64() || slots.Uint64() != ctf.BinaryOutcomeSlots {
		s.logger.WarnContext(ctx, "condition is not binary, positions assume two outcomes",
			slog.String("condition_id", m.ConditionID),
			slog.String("outcome_slots", prep.OutcomeSlotCount.String()),
		)
	}
	return m, nil
}
