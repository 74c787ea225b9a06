package decoder

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/ctfindexer/internal/abi"
	"github.com/alanyoungcy/ctfindexer/internal/ctf"
	"github.com/alanyoungcy/ctfindexer/internal/domain"
)

// OrderFilledSignature is the canonical signature of the exchange fill event.
const OrderFilledSignature = "OrderFilled(bytes32,address,address,uint256,uint256,uint256,uint256,uint256)"

// OrderFilledTopic is topic 0 of OrderFilled.
var OrderFilledTopic = abi.EventTopic(OrderFilledSignature)

const (
	orderFilledTopics = 4
	orderFilledWords  = 5
	priceDecimals     = 6
)

var (
	tokenUnit  = decimal.New(1, 6)
	priceScale = big.NewInt(1_000_000)
)

// Fill is a decoded OrderFilled log before market resolution.
type Fill struct {
	TxHash       string
	LogIndex     uint
	BlockNumber  uint64
	Exchange     string
	OrderHash    string
	Maker        string
	Taker        string
	MakerAssetID *big.Int
	TakerAssetID *big.Int
	MakerAmount  *big.Int
	TakerAmount  *big.Int
	Fee          *big.Int
	Side         domain.Side
	TokenID      string
	Price        string
	Size         string
}

// Trade converts a fill into a trade row for marketID. Outcome and Timestamp
// are left to the caller.
func (f Fill) Trade(marketID int64) domain.Trade {
	return domain.Trade{
		MarketID:     marketID,
		TxHash:       f.TxHash,
		LogIndex:     f.LogIndex,
		BlockNumber:  f.BlockNumber,
		Exchange:     f.Exchange,
		OrderHash:    f.OrderHash,
		Maker:        f.Maker,
		Taker:        f.Taker,
		Side:         f.Side,
		Outcome:      domain.OutcomeUnknown,
		Price:        f.Price,
		Size:         f.Size,
		TokenID:      f.TokenID,
		MakerAssetID: f.MakerAssetID.String(),
		TakerAssetID: f.TakerAssetID.String(),
		MakerAmount:  f.MakerAmount.String(),
		TakerAmount:  f.TakerAmount.String(),
		Fee:          f.Fee.String(),
	}
}

// DecodeOrderFilled decodes one log. It checks shape only; exchange and
// self-fill checks belong to TradeFilter.
func DecodeOrderFilled(lg types.Log) Result[Fill] {
	if len(lg.Topics) == 0 || lg.Topics[0] != OrderFilledTopic {
		return reject[Fill](RejectWrongSignature, "log %d", lg.Index)
	}
	if len(lg.Topics) != orderFilledTopics {
		return reject[Fill](RejectWrongTopicCount, "log %d has %d topics", lg.Index, len(lg.Topics))
	}
	if len(lg.Data) < orderFilledWords*abi.WordSize {
		return reject[Fill](RejectShortData, "log %d has %d data bytes", lg.Index, len(lg.Data))
	}

	var words [orderFilledWords]*big.Int
	for i := range words {
		// Length was checked above.
		v, _ := abi.Uint256At(lg.Data, i)
		words[i] = v
	}
	makerAsset, takerAsset, makerAmt, takerAmt, fee := words[0], words[1], words[2], words[3], words[4]

	f := Fill{
		TxHash:       lg.TxHash.Hex(),
		LogIndex:     lg.Index,
		BlockNumber:  lg.BlockNumber,
		Exchange:     abi.HexAddress(lg.Address),
		OrderHash:    lg.Topics[1].Hex(),
		Maker:        abi.HexAddress(common.BytesToAddress(lg.Topics[2].Bytes())),
		Taker:        abi.HexAddress(common.BytesToAddress(lg.Topics[3].Bytes())),
		MakerAssetID: makerAsset,
		TakerAssetID: takerAsset,
		MakerAmount:  makerAmt,
		TakerAmount:  takerAmt,
		Fee:          fee,
	}

	// A zero maker asset means the maker paid collateral for outcome tokens.
	var tokenAsset, tokenAmount *big.Int
	if makerAsset.Sign() == 0 {
		f.Side = domain.SideBuy
		tokenAsset, tokenAmount = takerAsset, takerAmt
		f.Price = FormatPrice(makerAmt, takerAmt)
	} else {
		f.Side = domain.SideSell
		tokenAsset, tokenAmount = makerAsset, makerAmt
		f.Price = FormatPrice(takerAmt, makerAmt)
	}
	f.TokenID = ctf.MustNormalizeTokenID(tokenAsset)
	f.Size = FormatSize(tokenAmount)
	return Result[Fill]{Value: f}
}

// FormatPrice renders num/den with six decimals, rounding half to even, then
// strips trailing zeros and a trailing dot. A zero denominator prices at 0.
func FormatPrice(num, den *big.Int) string {
	if num == nil || den == nil || den.Sign() == 0 {
		return "0"
	}
	d := new(big.Int).Abs(den)
	scaled := new(big.Int).Mul(new(big.Int).Abs(num), priceScale)
	q, r := new(big.Int).QuoRem(scaled, d, new(big.Int))
	// Rounding happens once, on the exact remainder.
	switch r.Lsh(r, 1).Cmp(d) {
	case 1:
		q.Add(q, big.NewInt(1))
	case 0:
		if q.Bit(0) == 1 {
			q.Add(q, big.NewInt(1))
		}
	}
	if num.Sign()*den.Sign() < 0 {
		q.Neg(q)
	}
	return trimDecimal(decimal.NewFromBigInt(q, -priceDecimals).StringFixed(priceDecimals))
}

// FormatSize renders a raw six-decimal token amount as a decimal string.
func FormatSize(amount *big.Int) string {
	if amount == nil {
		return "0"
	}
	return decimal.NewFromBigInt(amount, 0).Div(tokenUnit).String()
}

func trimDecimal(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] != '.' {
			continue
		}
		end := len(s)
		for end > i+1 && s[end-1] == '0' {
			end--
		}
		if end == i+1 {
			end = i
		}
		return s[:end]
	}
	return s
}
