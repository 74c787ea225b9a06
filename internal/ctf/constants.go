package ctf

import "github.com/ethereum/go-ethereum/common"

// Polygon mainnet contract addresses used by Polymarket.
var (
	CTFExchange        = common.HexToAddress("0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E")
	NegRiskCTFExchange = common.HexToAddress("0xC5d563A36AE78145C45a50134d48A1215220f80a")
	ConditionalTokens  = common.HexToAddress("0x4D97DCd97eC945f40cF65F87097ACe5EA0476045")
	USDCe              = common.HexToAddress("0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174")
	UMAAdapterOracle   = common.HexToAddress("0x157Ce2d672854c848c9b79C49a8Cc6cc89176a49")
)

const (
	// BinaryOutcomeSlots is the outcome slot count of a YES/NO condition.
	BinaryOutcomeSlots = 2
	IndexSetYes        = 1
	IndexSetNo         = 2
)

// RootCollection is the parent collection of every top-level position.
var RootCollection = common.Hash{}

// DefaultExchanges returns the two exchange contracts that emit OrderFilled.
func DefaultExchanges() []common.Address {
	return []common.Address{CTFExchange, NegRiskCTFExchange}
}
