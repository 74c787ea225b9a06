package decoder

import (
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/ctfindexer/internal/abi"
	"github.com/alanyoungcy/ctfindexer/internal/ctf"
	"github.com/alanyoungcy/ctfindexer/internal/domain"
)

// ConditionPreparationSignature is emitted by the ConditionalTokens contract
// when a new condition is prepared.
const ConditionPreparationSignature = "ConditionPreparation(bytes32,address,bytes32,uint256)"

// ConditionPreparationTopic is topic 0 of ConditionPreparation.
var ConditionPreparationTopic = abi.EventTopic(ConditionPreparationSignature)

// ConditionPreparation is a decoded ConditionPreparation log.
type ConditionPreparation struct {
	TxHash           string
	LogIndex         uint
	BlockNumber      uint64
	ConditionID      common.Hash
	Oracle           common.Address
	QuestionID       common.Hash
	OutcomeSlotCount *big.Int
}

// DecodeConditionPreparation decodes one log.
func DecodeConditionPreparation(lg types.Log) Result[ConditionPreparation] {
	if len(lg.Topics) == 0 || lg.Topics[0] != ConditionPreparationTopic {
		return reject[ConditionPreparation](RejectWrongSignature, "log %d", lg.Index)
	}
	if len(lg.Topics) != 4 {
		return reject[ConditionPreparation](RejectWrongTopicCount, "log %d has %d topics", lg.Index, len(lg.Topics))
	}
	slots, err := abi.Uint256At(lg.Data, 0)
	if err != nil {
		return reject[ConditionPreparation](RejectShortData, "log %d: %v", lg.Index, err)
	}
	return Result[ConditionPreparation]{Value: ConditionPreparation{
		TxHash:           lg.TxHash.Hex(),
		LogIndex:         lg.Index,
		BlockNumber:      lg.BlockNumber,
		ConditionID:      lg.Topics[1],
		Oracle:           common.BytesToAddress(lg.Topics[2].Bytes()),
		QuestionID:       lg.Topics[3],
		OutcomeSlotCount: slots,
	}}
}

// SelectConditionPreparation picks one ConditionPreparation from the logs of
// a single transaction. Only logs emitted by the ConditionalTokens contract
// are considered. With logIndex set, that exact log is required. Without it,
// the first match is used and a warning is logged when there are several.
// Multiple preparations are never merged.
func SelectConditionPreparation(logs []types.Log, logIndex *uint, logger *slog.Logger) (ConditionPreparation, error) {
	var found []ConditionPreparation
	for _, lg := range logs {
		if lg.Address != ctf.ConditionalTokens {
			continue
		}
		res := DecodeConditionPreparation(lg)
		if res.Reject == RejectWrongSignature {
			continue
		}
		if !res.OK() {
			if logIndex != nil && lg.Index == *logIndex {
				return ConditionPreparation{}, res.Err
			}
			continue
		}
		found = append(found, res.Value)
	}
	if len(found) == 0 {
		return ConditionPreparation{}, fmt.Errorf("decoder: no ConditionPreparation event: %w", domain.ErrNotFound)
	}
	if logIndex != nil {
		for _, p := range found {
			if p.LogIndex == *logIndex {
				return p, nil
			}
		}
		return ConditionPreparation{}, fmt.Errorf("decoder: no ConditionPreparation at log index %d: %w", *logIndex, domain.ErrNotFound)
	}
	if len(found) > 1 && logger != nil {
		logger.Warn("multiple ConditionPreparation events, using first",
			slog.Int("count", len(found)),
			slog.Uint64("log_index", uint64(found[0].LogIndex)),
			slog.String("tx_hash", found[0].TxHash),
		)
	}
	return found[0], nil
}

// MarketFromCondition builds a market draft from a prepared condition. The
// emitted condition id is authoritative; positions are derived from it.
func MarketFromCondition(p ConditionPreparation, collateral common.Address) domain.Market {
	cond := p.ConditionID
	pos := ctf.DeriveBinaryPositions(p.Oracle, p.QuestionID, collateral, &cond)
	return domain.Market{
		ConditionID:     cond.Hex(),
		QuestionID:      p.QuestionID.Hex(),
		Oracle:          abi.HexAddress(p.Oracle),
		CollateralToken: abi.HexAddress(collateral),
		YesTokenID:      pos.YesTokenID(),
		NoTokenID:       pos.NoTokenID(),
		Status:          domain.MarketStatusActive,
	}
}
