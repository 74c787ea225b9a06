package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alanyoungcy/ctfindexer/internal/domain"
	"github.com/alanyoungcy/ctfindexer/internal/server/handler"
	"github.com/alanyoungcy/ctfindexer/internal/server/middleware"
	"github.com/alanyoungcy/ctfindexer/internal/service"
)

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type fakeQuery struct {
	lastOpts domain.ListOpts
}

func (f *fakeQuery) Event(_ context.Context, slug string) (domain.Event, error) {
	if slug != "election" {
		return domain.Event{}, domain.ErrNotFound
	}
	return domain.Event{ID: 7, Slug: slug, Title: "Election"}, nil
}

func (f *fakeQuery) EventMarkets(ctx context.Context, slug string) (service.EventMarkets, error) {
	ev, err := f.Event(ctx, slug)
	if err != nil {
		return service.EventMarkets{}, err
	}
	return service.EventMarkets{EventSlug: slug, EventID: ev.ID, TotalMarkets: 1, Markets: []domain.Market{{ID: 1, Slug: "a"}}}, nil
}

func (f *fakeQuery) Market(_ context.Context, slug string) (domain.Market, error) {
	if slug != "a" {
		return domain.Market{}, domain.ErrNotFound
	}
	return domain.Market{ID: 1, Slug: "a"}, nil
}

func (f *fakeQuery) MarketTrades(ctx context.Context, slug string, q service.TradeQuery) ([]domain.Trade, error) {
	opts, err := q.ListOpts()
	if err != nil {
		return nil, err
	}
	f.lastOpts = opts
	if _, err := f.Market(ctx, slug); err != nil {
		return nil, err
	}
	return []domain.Trade{{ID: 1, MarketID: 1, Price: "0.5"}}, nil
}

func (f *fakeQuery) TokenTrades(_ context.Context, tok string, q service.TradeQuery) ([]domain.Trade, error) {
	opts, err := q.ListOpts()
	if err != nil {
		return nil, err
	}
	f.lastOpts = opts
	if strings.HasPrefix(tok, "zz") {
		return nil, domain.ErrInvalidTokenID
	}
	return []domain.Trade{}, nil
}

func (f *fakeQuery) Watermark(_ context.Context, key string) (domain.Watermark, error) {
	if key != "ctf_exchange" {
		return domain.Watermark{}, domain.ErrNotFound
	}
	return domain.Watermark{StreamKey: key, LastBlock: 500}, nil
}

func (f *fakeQuery) RecentRuns(context.Context, string, int) ([]domain.RunReport, error) {
	return []domain.RunReport{}, nil
}

func (f *fakeQuery) Stats(context.Context) (service.Stats, error) {
	return service.Stats{}, errors.New("db down")
}

type fakeIndexer struct{ triggers int }

func (f *fakeIndexer) Trigger() bool {
	f.triggers++
	return f.triggers == 1
}

func (f *fakeIndexer) IndexTransaction(_ context.Context, tx string) (domain.RunReport, error) {
	if !strings.HasPrefix(tx, "0x") {
		return domain.RunReport{}, domain.ErrInvalidParam
	}
	return domain.RunReport{Mode: "tx", TxHash: tx, InsertedTrades: 2}, nil
}

type denyLimiter struct{}

func (denyLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) { return false, nil }

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("connection refused") }

func newTestServer(t *testing.T, cfg Config, limiter domain.RateLimiter, checks map[string]handler.Pinger) (*httptest.Server, *fakeQuery, *fakeIndexer) {
	t.Helper()
	q := &fakeQuery{}
	idx := &fakeIndexer{}
	log := discardLogger()
	h := Routes(cfg, Handlers{
		Health: handler.NewHealthHandler(checks, log),
		Query:  handler.NewQueryHandler(q, log),
		Index:  handler.NewIndexHandler(idx, log),
	}, nil, limiter, log)
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	return ts, q, idx
}

func do(t *testing.T, method, url, body string, header map[string]string) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp, string(b)
}

func TestQueryRoutes(t *testing.T) {
	ts, _, _ := newTestServer(t, Config{}, nil, nil)

	tests := []struct {
		path     string
		status   int
		contains string
	}{
		{"/", http.StatusOK, "/tokens/{tokenId}/trades"},
		{"/health", http.StatusOK, `"status":"healthy"`},
		{"/api/health", http.StatusOK, `"status":"healthy"`},
		{"/events/election", http.StatusOK, `"slug":"election"`},
		{"/events/nope", http.StatusNotFound, "event not found"},
		{"/events/election/markets", http.StatusOK, `"total_markets":1`},
		{"/markets/a", http.StatusOK, `"slug":"a"`},
		{"/markets/b", http.StatusNotFound, "market not found"},
		{"/markets/a/trades", http.StatusOK, `"price":"0.5"`},
		{"/markets/b/trades", http.StatusNotFound, "market not found"},
		{"/markets/a/trades?limit=0", http.StatusBadRequest, "limit"},
		{"/markets/a/trades?limit=1001", http.StatusBadRequest, "limit"},
		{"/markets/a/trades?limit=ten", http.StatusBadRequest, "limit"},
		{"/markets/a/trades?cursor=-1", http.StatusBadRequest, "cursor"},
		{"/markets/a/trades?fromBlock=-5", http.StatusBadRequest, "fromBlock"},
		{"/markets/a/trades?fromBlock=10&toBlock=5", http.StatusBadRequest, "invalid block range"},
		{"/tokens/123/trades", http.StatusOK, "[]"},
		{"/tokens/zz/trades", http.StatusBadRequest, "invalid token id"},
		{"/sync/ctf_exchange", http.StatusOK, `"last_block":500`},
		{"/sync/other", http.StatusNotFound, "stream not found"},
		{"/sync/ctf_exchange/runs", http.StatusOK, "[]"},
		{"/sync/ctf_exchange/runs?limit=x", http.StatusBadRequest, "limit"},
		{"/stats", http.StatusInternalServerError, "failed to load stats"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, body := do(t, http.MethodGet, ts.URL+tt.path, "", nil)
			if resp.StatusCode != tt.status {
				t.Errorf("status = %d, want %d (body %s)", resp.StatusCode, tt.status, body)
			}
			if !strings.Contains(body, tt.contains) {
				t.Errorf("body %s does not contain %q", body, tt.contains)
			}
			if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
				t.Errorf("content type = %q", ct)
			}
		})
	}
}

func TestTradeQueryForwarded(t *testing.T) {
	ts, q, _ := newTestServer(t, Config{}, nil, nil)

	resp, body := do(t, http.MethodGet, ts.URL+"/markets/a/trades?limit=5&cursor=10&fromBlock=100&toBlock=200", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}
	o := q.lastOpts
	if o.Limit != 5 || o.Offset != 10 || o.FromBlock == nil || *o.FromBlock != 100 || o.ToBlock == nil || *o.ToBlock != 200 {
		t.Errorf("opts = %+v", o)
	}

	do(t, http.MethodGet, ts.URL+"/tokens/1/trades", "", nil)
	if q.lastOpts.Limit != service.DefaultTradeLimit || q.lastOpts.FromBlock != nil {
		t.Errorf("default opts = %+v", q.lastOpts)
	}
}

func TestHealthDegraded(t *testing.T) {
	ts, _, _ := newTestServer(t, Config{}, nil, map[string]handler.Pinger{"postgres": failingPinger{}})

	resp, body := do(t, http.MethodGet, ts.URL+"/health", "", nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
	if !strings.Contains(body, "postgres") {
		t.Errorf("body %s does not name the failing check", body)
	}
}

func TestIndexTrigger(t *testing.T) {
	ts, _, idx := newTestServer(t, Config{APIKey: "secret"}, nil, nil)
	url := ts.URL + "/api/index/trigger"
	auth := map[string]string{"Authorization": "Bearer secret"}

	if resp, _ := do(t, http.MethodPost, url, "", nil); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("no key: status %d, want 401", resp.StatusCode)
	}
	if resp, _ := do(t, http.MethodPost, url, "", map[string]string{"X-API-Key": "wrong"}); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("wrong key: status %d, want 401", resp.StatusCode)
	}

	resp, body := do(t, http.MethodPost, url, "", auth)
	if resp.StatusCode != http.StatusAccepted || !strings.Contains(body, `"queued":true`) {
		t.Errorf("trigger: %d %s", resp.StatusCode, body)
	}
	_, body = do(t, http.MethodPost, url, "", auth)
	if !strings.Contains(body, `"queued":false`) || idx.triggers != 2 {
		t.Errorf("second trigger: %s", body)
	}

	resp, body = do(t, http.MethodPost, url, `{"tx_hash":"0xabc"}`, auth)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("tx trigger: %d %s", resp.StatusCode, body)
	}
	var rep domain.RunReport
	if err := json.Unmarshal([]byte(body), &rep); err != nil || rep.InsertedTrades != 2 || rep.TxHash != "0xabc" {
		t.Errorf("tx report = %+v (%v)", rep, err)
	}

	if resp, _ := do(t, http.MethodPost, url, `{"tx_hash":"nothex"}`, auth); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad tx: status %d, want 400", resp.StatusCode)
	}
	if resp, _ := do(t, http.MethodPost, url, `{not json`, auth); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad body: status %d, want 400", resp.StatusCode)
	}
}

func TestIndexTriggerWithoutIndexer(t *testing.T) {
	log := discardLogger()
	h := Routes(Config{}, Handlers{
		Health: handler.NewHealthHandler(nil, log),
		Query:  handler.NewQueryHandler(&fakeQuery{}, log),
		Index:  handler.NewIndexHandler(nil, log),
	}, nil, nil, log)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/index/trigger", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestMiddlewareChain(t *testing.T) {
	ts, _, _ := newTestServer(t, Config{CORSOrigins: []string{"https://app.example"}, RateLimit: 1}, denyLimiter{}, nil)

	resp, _ := do(t, http.MethodGet, ts.URL+"/health", "", nil)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("limited status = %d, want 429", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Error("missing Retry-After")
	}
	if resp.Header.Get(middleware.RequestIDHeader) == "" {
		t.Error("missing request id")
	}

	resp, _ = do(t, http.MethodOptions, ts.URL+"/markets/a", "", map[string]string{"Origin": "https://app.example"})
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "https://app.example" {
		t.Errorf("allow origin = %q", got)
	}

	resp, _ = do(t, http.MethodOptions, ts.URL+"/markets/a", "", map[string]string{"Origin": "https://evil.example"})
	if resp.Header.Get("Access-Control-Allow-Origin") != "" {
		t.Error("unlisted origin was allowed")
	}

	resp, _ = do(t, http.MethodGet, ts.URL+"/health", "", map[string]string{middleware.RequestIDHeader: "req-1"})
	if got := resp.Header.Get(middleware.RequestIDHeader); got != "req-1" {
		t.Errorf("request id = %q, want req-1", got)
	}
}
