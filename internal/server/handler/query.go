package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/ctfindexer/internal/domain"
	"github.com/alanyoungcy/ctfindexer/internal/service"
)

// QueryService defines the read methods the query handlers require. It is
// declared locally so the handler package does not depend on the concrete
// service implementation.
type QueryService interface {
	Event(ctx context.Context, slug string) (domain.Event, error)
	EventMarkets(ctx context.Context, slug string) (service.EventMarkets, error)
	Market(ctx context.Context, slugOrID string) (domain.Market, error)
	MarketTrades(ctx context.Context, slugOrID string, q service.TradeQuery) ([]domain.Trade, error)
	TokenTrades(ctx context.Context, tokenID string, q service.TradeQuery) ([]domain.Trade, error)
	Watermark(ctx context.Context, streamKey string) (domain.Watermark, error)
	RecentRuns(ctx context.Context, streamKey string, limit int) ([]domain.RunReport, error)
	Stats(ctx context.Context) (service.Stats, error)
}

// QueryHandler serves the read-only event, market, trade and sync endpoints.
type QueryHandler struct {
	query  QueryService
	logger *slog.Logger
}

// NewQueryHandler creates a QueryHandler.
func NewQueryHandler(query QueryService, logger *slog.Logger) *QueryHandler {
	return &QueryHandler{query: query, logger: logger}
}

// GetEvent returns one event.
// GET /events/{slug}
func (h *QueryHandler) GetEvent(w http.ResponseWriter, r *http.Request) {
	ev, err := h.query.Event(r.Context(), pathParam(r, "slug"))
	if err != nil {
		writeServiceError(w, r, h.logger, "event", err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

// GetEventMarkets returns the markets of one event.
// GET /events/{slug}/markets
func (h *QueryHandler) GetEventMarkets(w http.ResponseWriter, r *http.Request) {
	res, err := h.query.EventMarkets(r.Context(), pathParam(r, "slug"))
	if err != nil {
		writeServiceError(w, r, h.logger, "event", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GetMarket returns one market by slug or numeric id.
// GET /markets/{slug}
func (h *QueryHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	m, err := h.query.Market(r.Context(), pathParam(r, "slug"))
	if err != nil {
		writeServiceError(w, r, h.logger, "market", err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// ListMarketTrades returns a page of a market's trades.
// GET /markets/{slug}/trades?limit=100&cursor=0&fromBlock=&toBlock=
func (h *QueryHandler) ListMarketTrades(w http.ResponseWriter, r *http.Request) {
	q, err := parseTradeQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	trades, err := h.query.MarketTrades(r.Context(), pathParam(r, "slug"), q)
	if err != nil {
		writeServiceError(w, r, h.logger, "market", err)
		return
	}
	writeJSON(w, http.StatusOK, trades)
}

// ListTokenTrades returns a page of one position token's trades.
// GET /tokens/{tokenId}/trades
func (h *QueryHandler) ListTokenTrades(w http.ResponseWriter, r *http.Request) {
	q, err := parseTradeQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	trades, err := h.query.TokenTrades(r.Context(), pathParam(r, "tokenId"), q)
	if err != nil {
		writeServiceError(w, r, h.logger, "trades", err)
		return
	}
	writeJSON(w, http.StatusOK, trades)
}

// GetWatermark returns sync progress for a stream.
// GET /sync/{streamKey}
func (h *QueryHandler) GetWatermark(w http.ResponseWriter, r *http.Request) {
	wm, err := h.query.Watermark(r.Context(), pathParam(r, "streamKey"))
	if err != nil {
		writeServiceError(w, r, h.logger, "stream", err)
		return
	}
	writeJSON(w, http.StatusOK, wm)
}

// ListRuns returns recent run reports of a stream.
// GET /sync/{streamKey}/runs?limit=20
func (h *QueryHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	runs, err := h.query.RecentRuns(r.Context(), pathParam(r, "streamKey"), limit)
	if err != nil {
		writeServiceError(w, r, h.logger, "runs", err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

// GetStats returns row counts.
// GET /stats
func (h *QueryHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	st, err := h.query.Stats(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "stats", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}
