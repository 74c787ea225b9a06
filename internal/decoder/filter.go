package decoder

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// TradeFilter accepts fills emitted by a known exchange where the taker is a
// real counterparty. When the taker is the exchange itself the log is the
// exchange-side mirror of a match already recorded per maker.
type TradeFilter struct {
	exchanges map[common.Address]struct{}
}

// NewTradeFilter builds a filter over the given exchange contracts.
func NewTradeFilter(exchanges []common.Address) *TradeFilter {
	m := make(map[common.Address]struct{}, len(exchanges))
	for _, a := range exchanges {
		m[a] = struct{}{}
	}
	return &TradeFilter{exchanges: m}
}

// Exchanges returns the configured exchange addresses.
func (f *TradeFilter) Exchanges() []common.Address {
	out := make([]common.Address, 0, len(f.exchanges))
	for a := range f.exchanges {
		out = append(out, a)
	}
	return out
}

// Known reports whether addr is one of the configured exchanges.
func (f *TradeFilter) Known(addr common.Address) bool {
	_, ok := f.exchanges[addr]
	return ok
}

// Decode decodes lg and applies the exchange and self-fill checks.
func (f *TradeFilter) Decode(lg types.Log) Result[Fill] {
	if !f.Known(lg.Address) {
		return reject[Fill](RejectUnknownExchange, "log %d from %s", lg.Index, lg.Address.Hex())
	}
	res := DecodeOrderFilled(lg)
	if !res.OK() {
		return res
	}
	if common.BytesToAddress(lg.Topics[3].Bytes()) == lg.Address {
		return reject[Fill](RejectSelfFill, "log %d taker is the exchange", lg.Index)
	}
	return res
}
