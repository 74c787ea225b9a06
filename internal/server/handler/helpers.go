package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/ctfindexer/internal/domain"
	"github.com/alanyoungcy/ctfindexer/internal/service"
)

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeServiceError maps service errors onto HTTP statuses. Client mistakes
// echo the error text; anything else is logged and hidden behind a 500.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, what string, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, what+" not found")
	case errors.Is(err, domain.ErrInvalidParam),
		errors.Is(err, domain.ErrInvalidRange),
		errors.Is(err, domain.ErrInvalidTokenID):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrLockHeld):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrUpstream):
		logger.WarnContext(r.Context(), "handler: upstream failure",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadGateway, "upstream unavailable")
	default:
		logger.ErrorContext(r.Context(), "handler: request failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to load "+what)
	}
}

// parseTradeQuery reads limit, cursor, fromBlock and toBlock. Range checks
// happen in the service; this only rejects values that are not integers.
func parseTradeQuery(r *http.Request) (service.TradeQuery, error) {
	q := r.URL.Query()
	var tq service.TradeQuery

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return tq, fmt.Errorf("%w: limit %q is not an integer", domain.ErrInvalidParam, v)
		}
		if n == 0 {
			return tq, fmt.Errorf("%w: limit must be between 1 and %d", domain.ErrInvalidParam, service.MaxTradeLimit)
		}
		tq.Limit = n
	}
	if v := q.Get("cursor"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return tq, fmt.Errorf("%w: cursor %q is not an integer", domain.ErrInvalidParam, v)
		}
		tq.Cursor = n
	}

	var err error
	if tq.FromBlock, err = parseBlock(q.Get("fromBlock"), "fromBlock"); err != nil {
		return tq, err
	}
	if tq.ToBlock, err = parseBlock(q.Get("toBlock"), "toBlock"); err != nil {
		return tq, err
	}
	return tq, nil
}

func parseBlock(v, name string) (*uint64, error) {
	if v == "" {
		return nil, nil
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %q must be a non-negative integer", domain.ErrInvalidParam, name, v)
	}
	return &n, nil
}

// pathParam extracts a named path parameter from the request using Go 1.22+
// built-in routing (http.Request.PathValue).
func pathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}
