package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/ctfindexer/internal/config"
	"github.com/alanyoungcy/ctfindexer/internal/ctf"
	"github.com/alanyoungcy/ctfindexer/internal/platform/polymarket"
	"github.com/alanyoungcy/ctfindexer/internal/service"
)

const testCondition = "0x5eed00000000000000000000000000000000000000000000000000000000c0de"

func newTestApp(t *testing.T, opts Options) (*App, *bytes.Buffer) {
	t.Helper()
	cfg := config.Defaults()
	var out bytes.Buffer
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(&cfg, opts, &out, logger), &out
}

func gammaDeps(t *testing.T, a *App) *Dependencies {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/markets" || r.URL.Query().Get("slug") != "will-it-rain" {
			w.Write([]byte(`[]`))
			return
		}
		w.Write([]byte(`[{"id":"7","slug":"will-it-rain","question":"Will it rain?","conditionId":"` + testCondition + `"}]`))
	}))
	t.Cleanup(srv.Close)

	registry := service.NewMarketRegistry(nil, nil, nil, "", a.base)
	discovery := service.NewDiscoveryService(service.DiscoveryConfig{}, polymarket.NewGammaClient(srv.URL), nil, registry, nil, a.base)
	return &Dependencies{Registry: registry, Discovery: discovery}
}

func TestDecodeMarketModeFromSlug(t *testing.T) {
	a, out := newTestApp(t, Options{Slug: "will-it-rain"})
	deps := gammaDeps(t, a)

	if err := a.DecodeMarketMode(context.Background(), deps); err != nil {
		t.Fatal(err)
	}

	var got struct {
		Source string `json:"source"`
		Market struct {
			Slug        string `json:"slug"`
			ConditionID string `json:"condition_id"`
			YesTokenID  string `json:"yes_token_id"`
			NoTokenID   string `json:"no_token_id"`
		} `json:"market"`
		Comparison *service.Comparison `json:"comparison"`
	}
	if err := json.Unmarshal(out.Bytes(), &got); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out.String())
	}

	cond := common.HexToHash(testCondition)
	want := ctf.DeriveBinaryPositions(ctf.UMAAdapterOracle, common.Hash{}, ctf.USDCe, &cond)
	if got.Source != "gamma" || got.Market.Slug != "will-it-rain" {
		t.Errorf("unexpected header: %+v", got)
	}
	if got.Market.YesTokenID != want.YesTokenID() || got.Market.NoTokenID != want.NoTokenID() {
		t.Errorf("tokens = %s/%s, want %s/%s", got.Market.YesTokenID, got.Market.NoTokenID, want.YesTokenID(), want.NoTokenID())
	}
	if got.Comparison == nil || !got.Comparison.Match || got.Comparison.Checked {
		t.Errorf("comparison = %+v, want unchecked match", got.Comparison)
	}
}

func TestDecodeMarketModeUnknownSlug(t *testing.T) {
	a, out := newTestApp(t, Options{Slug: "nope"})
	deps := gammaDeps(t, a)

	err := a.DecodeMarketMode(context.Background(), deps)
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("want not found error, got %v", err)
	}
	if out.Len() != 0 {
		t.Errorf("nothing should be printed on failure, got %s", out.String())
	}
}

func TestOneShotModesValidateArguments(t *testing.T) {
	from := uint64(10)
	tests := []struct {
		name string
		opts Options
		run  func(*App, context.Context, *Dependencies) error
		want string
	}{
		{"decode needs input", Options{}, (*App).DecodeMarketMode, "--tx or --slug"},
		{"tx needs hash", Options{}, (*App).TxMode, "--tx is required"},
		{"tx needs indexer", Options{TxHash: "0xabc"}, (*App).TxMode, "indexer not wired"},
		{"index needs indexer", Options{FromBlock: &from}, (*App).IndexMode, "indexer not wired"},
		{"discover needs slugs", Options{}, (*App).DiscoverMode, "no event slugs"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			a, _ := newTestApp(t, tc.opts)
			err := tc.run(a, context.Background(), &Dependencies{})
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("want error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestTradeFilter(t *testing.T) {
	f, err := tradeFilter([]string{strings.ToLower(ctf.CTFExchange.Hex())})
	if err != nil {
		t.Fatal(err)
	}
	if !f.Known(ctf.CTFExchange) || f.Known(ctf.NegRiskCTFExchange) {
		t.Error("filter should only know the configured exchange")
	}

	if _, err := tradeFilter([]string{"0xdead"}); err == nil {
		t.Error("expected error for short address")
	}
}
