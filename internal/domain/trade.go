package domain

import "time"

// Side is the direction of a fill from the maker's point of view.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Outcome is the market side a traded token represents.
type Outcome string

const (
	OutcomeYes     Outcome = "YES"
	OutcomeNo      Outcome = "NO"
	OutcomeUnknown Outcome = "UNKNOWN"
)

// Trade is one matched fill for one position. (TxHash, LogIndex) is the
// natural key; rows are append-only.
type Trade struct {
	ID           int64     `json:"id"`
	MarketID     int64     `json:"market_id"`
	TxHash       string    `json:"tx_hash"`
	LogIndex     uint      `json:"log_index"`
	BlockNumber  uint64    `json:"block_number"`
	Timestamp    time.Time `json:"timestamp"`
	Exchange     string    `json:"exchange"`
	OrderHash    string    `json:"order_hash"`
	Maker        string    `json:"maker"`
	Taker        string    `json:"taker"`
	Side         Side      `json:"side"`
	Outcome      Outcome   `json:"outcome"`
	Price        string    `json:"price"`
	Size         string    `json:"size"`
	TokenID      string    `json:"token_id"`
	MakerAssetID string    `json:"maker_asset_id"`
	TakerAssetID string    `json:"taker_asset_id"`
	MakerAmount  string    `json:"maker_amount"`
	TakerAmount  string    `json:"taker_amount"`
	Fee          string    `json:"fee"`
}

// Less orders trades by (block number, log index).
func (t Trade) Less(o Trade) bool {
	if t.BlockNumber != o.BlockNumber {
		return t.BlockNumber < o.BlockNumber
	}
	return t.LogIndex < o.LogIndex
}

// Watermark is the highest fully processed block for one indexing stream.
type Watermark struct {
	StreamKey string    `json:"stream_key"`
	LastBlock uint64    `json:"last_block"`
	UpdatedAt time.Time `json:"updated_at"`
}
