package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/ctfindexer/internal/domain"
)

// Indexer runs indexing on request. Trigger queues a loop step and reports
// whether one was not already pending.
type Indexer interface {
	Trigger() bool
	IndexTransaction(ctx context.Context, txHash string) (domain.RunReport, error)
}

// IndexHandler serves manual indexing endpoints.
type IndexHandler struct {
	indexer Indexer
	logger  *slog.Logger
}

// NewIndexHandler creates an IndexHandler. indexer may be nil when this
// process does not run the indexer, in which case triggers return 503.
func NewIndexHandler(indexer Indexer, logger *slog.Logger) *IndexHandler {
	return &IndexHandler{indexer: indexer, logger: logger}
}

type triggerRequest struct {
	TxHash string `json:"tx_hash"`
}

// Trigger queues an indexer loop step. With a JSON body carrying tx_hash it
// instead indexes that transaction synchronously and returns its report.
// POST /api/index/trigger
func (h *IndexHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	if h.indexer == nil {
		writeError(w, http.StatusServiceUnavailable, "indexer not running in this process")
		return
	}

	var req triggerRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if req.TxHash != "" {
		h.logger.InfoContext(r.Context(), "handler: transaction index requested", slog.String("tx_hash", req.TxHash))
		rep, err := h.indexer.IndexTransaction(r.Context(), req.TxHash)
		if err != nil {
			writeServiceError(w, r, h.logger, "transaction", err)
			return
		}
		writeJSON(w, http.StatusOK, rep)
		return
	}

	queued := h.indexer.Trigger()
	h.logger.InfoContext(r.Context(), "handler: index trigger requested", slog.Bool("queued", queued))
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":       "accepted",
		"queued":       queued,
		"requested_at": time.Now().UTC().Format(time.RFC3339),
	})
}
