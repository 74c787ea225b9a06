package domain

import (
	"strconv"
	"time"
)

// Signal bus channels.
const (
	ChannelIndexRuns   = "index_runs"
	ChannelTradePrefix = "trades:"
	StreamIndexRuns    = "stream:index_runs"
)

// TradeChannel returns the pub/sub channel carrying trades for one market.
func TradeChannel(marketID int64) string {
	return ChannelTradePrefix + strconv.FormatInt(marketID, 10)
}

// RunReport summarizes one indexing run. It is finalized even when the run
// fails, in which case Error holds the failure text.
type RunReport struct {
	RunID           string         `json:"run_id"`
	StreamKey       string         `json:"stream_key"`
	Mode            string         `json:"mode"`
	FromBlock       uint64         `json:"from_block"`
	ToBlock         uint64         `json:"to_block"`
	TxHash          string         `json:"tx_hash,omitempty"`
	TotalLogs       int            `json:"total_logs"`
	ParsedTrades    int            `json:"parsed_trades"`
	InsertedTrades  int            `json:"inserted_trades"`
	Duplicates      int            `json:"duplicates"`
	Skipped         map[string]int `json:"skipped"`
	WatermarkBefore uint64         `json:"watermark_before"`
	WatermarkAfter  uint64         `json:"watermark_after"`
	StartedAt       time.Time      `json:"started_at"`
	Duration        time.Duration  `json:"duration"`
	Error           string         `json:"error,omitempty"`
}

// SkippedTotal sums all skip reasons.
func (r RunReport) SkippedTotal() int {
	n := 0
	for _, v := range r.Skipped {
		n += v
	}
	return n
}

// Skip increments the counter for reason.
func (r *RunReport) Skip(reason string) {
	if r.Skipped == nil {
		r.Skipped = make(map[string]int)
	}
	r.Skipped[reason]++
}
