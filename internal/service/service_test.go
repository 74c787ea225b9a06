package service

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/ctfindexer/internal/abi"
	"github.com/alanyoungcy/ctfindexer/internal/ctf"
	"github.com/alanyoungcy/ctfindexer/internal/decoder"
	"github.com/alanyoungcy/ctfindexer/internal/domain"
	"github.com/alanyoungcy/ctfindexer/internal/platform/polymarket"
)

const testCondition = "0x9915bea232fa12b20058f9cea1187ea51366352bf833393676cd0db557a58249"

func derivedFor(t *testing.T, condition string) ctf.BinaryPositions {
	t.Helper()
	pos, err := ctf.DeriveBinaryPositionsHex(ctf.UMAAdapterOracle.Hex(), "", ctf.USDCe.Hex(), condition)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	return pos
}

func newRegistry(alerts MismatchAlerter) (*MarketRegistry, *memMarkets, *memCache) {
	store := newMemMarkets()
	cache := newMemCache()
	return NewMarketRegistry(store, cache, alerts, "", discardLogger()), store, cache
}

func TestRegistryUpsertNormalizes(t *testing.T) {
	reg, store, cache := newRegistry(nil)
	ctx := context.Background()

	id, err := reg.Upsert(ctx, domain.Market{
		Slug:        "m",
		ConditionID: "0X9915BEA232FA12B20058F9CEA1187EA51366352BF833393676CD0DB557A58249",
		YesTokenID:  "123",
		NoTokenID:   "0x1C8",
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	got := store.rows[id]
	if got.ConditionID != testCondition {
		t.Errorf("condition = %s", got.ConditionID)
	}
	if got.YesTokenID != ctf.MustNormalizeTokenID(123) || got.NoTokenID != ctf.MustNormalizeTokenID(456) {
		t.Errorf("tokens = %s / %s", got.YesTokenID, got.NoTokenID)
	}
	if got.CollateralToken != "0x2791bca1f2de4661ed88a30c99a7a9449aa84174" || got.Status != domain.MarketStatusActive {
		t.Errorf("defaults = %s / %s", got.CollateralToken, got.Status)
	}
	if _, ok := cache.byID[id]; !ok {
		t.Error("cache not refreshed")
	}

	// Same condition keeps the id.
	again, err := reg.Upsert(ctx, domain.Market{ConditionID: testCondition, Slug: "m2"})
	if err != nil || again != id {
		t.Fatalf("second upsert = (%d, %v), want (%d, nil)", again, err, id)
	}
}

func TestRegistryUpsertDropsStaleTokenIndex(t *testing.T) {
	reg, _, _ := newRegistry(nil)
	ctx := context.Background()

	id, err := reg.Upsert(ctx, domain.Market{Slug: "m", ConditionID: testCondition, YesTokenID: "123", NoTokenID: "456"})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if m, err := reg.Resolve(ctx, "123"); err != nil || m == nil || m.ID != id {
		t.Fatalf("Resolve before re-upsert = (%+v, %v)", m, err)
	}

	if _, err := reg.Upsert(ctx, domain.Market{Slug: "m", ConditionID: testCondition, YesTokenID: "789", NoTokenID: "1011"}); err != nil {
		t.Fatalf("second Upsert: %v", err)
	}
	for _, old := range []string{"123", "456"} {
		if m, err := reg.Resolve(ctx, old); err != nil || m != nil {
			t.Errorf("Resolve(%s) after token change = (%+v, %v), want (nil, nil)", old, m, err)
		}
	}
	m, err := reg.Resolve(ctx, "789")
	if err != nil || m == nil || reg.Outcome(*m, "789") != domain.OutcomeYes {
		t.Errorf("Resolve(789) = (%+v, %v), want YES side of market %d", m, err, id)
	}
}

func TestRegistryUpsertRequiresCondition(t *testing.T) {
	reg, _, _ := newRegistry(nil)
	_, err := reg.Upsert(context.Background(), domain.Market{Slug: "x"})
	if !errors.Is(err, domain.ErrMissingConditionID) {
		t.Fatalf("err = %v, want ErrMissingConditionID", err)
	}
}

func TestRegistryResolve(t *testing.T) {
	reg, store, cache := newRegistry(nil)
	ctx := context.Background()
	tok := ctf.MustNormalizeTokenID(777)
	store.rows[1] = domain.Market{ID: 1, ConditionID: testCondition, YesTokenID: tok}
	store.nextID = 1

	tests := []struct {
		name  string
		input string
	}{
		{"decimal", "777"},
		{"lower hex", tok},
		{"upper hex", "0X" + "0000000000000000000000000000000000000000000000000000000000000309"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := reg.Resolve(ctx, tt.input)
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if m == nil || m.ID != 1 {
				t.Fatalf("market = %+v", m)
			}
		})
	}
	if cache.hits == 0 {
		t.Error("cache never hit after back-fill")
	}

	m, err := reg.Resolve(ctx, "999")
	if err != nil || m != nil {
		t.Fatalf("unknown token = (%v, %v), want (nil, nil)", m, err)
	}
	if _, err := reg.Resolve(ctx, "not-a-number"); !errors.Is(err, domain.ErrInvalidTokenID) {
		t.Fatalf("err = %v, want ErrInvalidTokenID", err)
	}
}

func TestRegistryOutcome(t *testing.T) {
	reg, _, _ := newRegistry(nil)
	m := domain.Market{YesTokenID: ctf.MustNormalizeTokenID(1), NoTokenID: ctf.MustNormalizeTokenID(2)}
	if got := reg.Outcome(m, "1"); got != domain.OutcomeYes {
		t.Errorf("Outcome(1) = %s", got)
	}
	if got := reg.Outcome(m, "0x02"); got != domain.OutcomeNo {
		t.Errorf("Outcome(0x02) = %s", got)
	}
	if got := reg.Outcome(m, "3"); got != domain.OutcomeUnknown {
		t.Errorf("Outcome(3) = %s", got)
	}
}

func TestDeriveAndCompare(t *testing.T) {
	pos := derivedFor(t, testCondition)
	yes, no := pos.YesTokenID(), pos.NoTokenID()
	other := ctf.MustNormalizeTokenID(42)

	tests := []struct {
		name        string
		yes, no     string
		wantMatch   bool
		wantSwapped bool
		wantChecked bool
		wantAlert   bool
	}{
		{"exact", yes, no, true, false, true, false},
		{"swapped", no, yes, true, true, true, false},
		{"mismatch", other, no, false, false, true, true},
		{"missing fills derived", "", "", true, false, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			alerts := &recordingAlerter{}
			reg, _, _ := newRegistry(alerts)
			m, cmp, err := reg.DeriveAndCompare(context.Background(), domain.Market{
				ConditionID: testCondition,
				YesTokenID:  tt.yes,
				NoTokenID:   tt.no,
			})
			if err != nil {
				t.Fatalf("DeriveAndCompare: %v", err)
			}
			if cmp.Match != tt.wantMatch || cmp.Swapped != tt.wantSwapped || cmp.Checked != tt.wantChecked {
				t.Errorf("cmp = %+v", cmp)
			}
			if (len(alerts.conditions) > 0) != tt.wantAlert {
				t.Errorf("alerts = %v", alerts.conditions)
			}
			if tt.yes != "" && m.YesTokenID != tt.yes {
				t.Errorf("published yes replaced: %s", m.YesTokenID)
			}
			if tt.yes == "" && (m.YesTokenID != yes || m.NoTokenID != no) {
				t.Errorf("derived ids not filled: %s / %s", m.YesTokenID, m.NoTokenID)
			}
		})
	}
}

func TestDeriveAndCompareFromQuestion(t *testing.T) {
	reg, _, _ := newRegistry(nil)
	oracle := "0x157ce2d672854c848c9b79c49a8cc6cc89176a49"
	question := common.HexToHash("0xab").Hex()

	m, cmp, err := reg.DeriveAndCompare(context.Background(), domain.Market{Oracle: oracle, QuestionID: question})
	if err != nil {
		t.Fatalf("DeriveAndCompare: %v", err)
	}
	want := ctf.ConditionID(common.HexToAddress(oracle), common.HexToHash(question), 2)
	if m.ConditionID != want.Hex() || !cmp.ConditionMatch {
		t.Errorf("condition = %s, want %s", m.ConditionID, want.Hex())
	}

	_, cmp, err = reg.DeriveAndCompare(context.Background(), domain.Market{
		Oracle: oracle, QuestionID: question, ConditionID: testCondition,
	})
	if err != nil {
		t.Fatalf("DeriveAndCompare: %v", err)
	}
	if cmp.ConditionMatch {
		t.Error("conflicting condition id not reported")
	}

	if _, _, err := reg.DeriveAndCompare(context.Background(), domain.Market{}); !errors.Is(err, domain.ErrMissingConditionID) {
		t.Errorf("err = %v, want ErrMissingConditionID", err)
	}
}

func TestDiscoverEvent(t *testing.T) {
	pos := derivedFor(t, testCondition)
	gamma := &fakeGamma{events: map[string]polymarket.GammaEvent{
		"ev": {
			Slug:  "ev",
			Title: "Event",
			Markets: []polymarket.GammaMarket{
				{
					Slug:         "good",
					Question:     "Good?",
					ConditionID:  testCondition,
					ClobTokenIDs: polymarket.TokenIDList{new(big.Int).SetBytes(pos.PositionYes[:]).String(), new(big.Int).SetBytes(pos.PositionNo[:]).String()},
				},
				{Slug: "no-condition"},
				{
					Slug:         "wrong-ids",
					ConditionID:  "0x01",
					ClobTokenIDs: polymarket.TokenIDList{"5", "6"},
				},
			},
		},
	}}
	events := &memEvents{}
	alerts := &recordingAlerter{}
	reg, store, _ := newRegistry(alerts)
	svc := NewDiscoveryService(DiscoveryConfig{VerifyTokens: true}, gamma, events, reg, nil, discardLogger())

	res, err := svc.DiscoverEvent(context.Background(), "ev")
	if err != nil {
		t.Fatalf("DiscoverEvent: %v", err)
	}
	if res.TotalMarkets != 2 || res.Validated != 2 || len(res.Failed) != 1 || res.Mismatched != 1 {
		t.Fatalf("result = %+v", res)
	}
	if res.Failed[0].Slug != "no-condition" {
		t.Errorf("failed = %+v", res.Failed)
	}
	if len(alerts.conditions) != 1 {
		t.Errorf("alerts = %v", alerts.conditions)
	}
	if len(store.rows) != 2 {
		t.Fatalf("stored %d markets", len(store.rows))
	}
	for _, m := range store.rows {
		if m.EventID == nil || *m.EventID != res.EventID {
			t.Errorf("market %s not linked to event", m.Slug)
		}
	}
	good, _ := store.GetBySlug(context.Background(), "good")
	if good.YesTokenID != pos.YesTokenID() || good.Title != "Good?" {
		t.Errorf("good = %+v", good)
	}

	if _, err := svc.DiscoverEvent(context.Background(), "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestDecodeMarketFromTx(t *testing.T) {
	oracle := ctf.UMAAdapterOracle
	question := common.HexToHash("0x1234")
	cond := ctf.ConditionID(oracle, question, 2)
	lg := types.Log{
		Address: ctf.ConditionalTokens,
		Topics:  []common.Hash{decoder.ConditionPreparationTopic, cond, common.BytesToHash(oracle.Bytes()), question},
		Data:    abi.Uint64Word(2).Hash().Bytes(),
		Index:   3,
	}
	reg, _, _ := newRegistry(nil)
	svc := NewDiscoveryService(DiscoveryConfig{}, &fakeGamma{}, &memEvents{}, reg, &fakeReceipts{logs: []types.Log{lg}}, discardLogger())

	m, err := svc.DecodeMarketFromTx(context.Background(), "0xAB", nil)
	if err != nil {
		t.Fatalf("DecodeMarketFromTx: %v", err)
	}
	want := ctf.DeriveBinaryPositions(oracle, question, ctf.USDCe, nil)
	if m.ConditionID != cond.Hex() || m.YesTokenID != want.YesTokenID() || m.NoTokenID != want.NoTokenID() {
		t.Errorf("market = %+v", m)
	}

	idx := uint(9)
	if _, err := svc.DecodeMarketFromTx(context.Background(), "0xAB", &idx); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestQueryServiceTrades(t *testing.T) {
	markets := newMemMarkets()
	markets.rows[7] = domain.Market{ID: 7, Slug: "m", ConditionID: testCondition}
	tok := ctf.MustNormalizeTokenID(5)
	trades := &memTrades{rows: []domain.Trade{{MarketID: 7, TokenID: tok}}}
	q := NewQueryService(&memEvents{}, markets, trades, &memSync{last: map[string]uint64{}}, nil)
	ctx := context.Background()

	got, err := q.MarketTrades(ctx, "m", TradeQuery{})
	if err != nil || len(got) != 1 {
		t.Fatalf("MarketTrades = (%v, %v)", got, err)
	}
	if trades.lastOpts.Limit != DefaultTradeLimit {
		t.Errorf("limit = %d", trades.lastOpts.Limit)
	}
	if got, err := q.MarketTrades(ctx, "7", TradeQuery{Limit: 5}); err != nil || len(got) != 1 {
		t.Fatalf("MarketTrades by id = (%v, %v)", got, err)
	}
	if _, err := q.MarketTrades(ctx, "nope", TradeQuery{}); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if got, err := q.TokenTrades(ctx, "5", TradeQuery{}); err != nil || len(got) != 1 {
		t.Fatalf("TokenTrades = (%v, %v)", got, err)
	}
	if got, err := q.TokenTrades(ctx, "6", TradeQuery{}); err != nil || got == nil || len(got) != 0 {
		t.Fatalf("TokenTrades empty = (%v, %v), want empty slice", got, err)
	}
}

func TestTradeQueryValidation(t *testing.T) {
	from, to := uint64(10), uint64(5)
	tests := []struct {
		name string
		q    TradeQuery
		want error
	}{
		{"defaults", TradeQuery{}, nil},
		{"max", TradeQuery{Limit: MaxTradeLimit}, nil},
		{"too large", TradeQuery{Limit: MaxTradeLimit + 1}, domain.ErrInvalidParam},
		{"negative limit", TradeQuery{Limit: -1}, domain.ErrInvalidParam},
		{"negative cursor", TradeQuery{Cursor: -1}, domain.ErrInvalidParam},
		{"inverted range", TradeQuery{FromBlock: &from, ToBlock: &to}, domain.ErrInvalidRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.q.ListOpts()
			if tt.want == nil && err != nil {
				t.Fatalf("err = %v", err)
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
}
