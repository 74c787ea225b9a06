// Package ctf derives Conditional Token Framework identifiers. Every function
// here is pure: the same inputs always produce the same 32-byte outputs.
package ctf

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/ctfindexer/internal/abi"
)

// BinaryPositions holds the identifiers of a YES/NO market.
type BinaryPositions struct {
	ConditionID   common.Hash `json:"condition_id"`
	CollectionYes common.Hash `json:"collection_yes"`
	CollectionNo  common.Hash `json:"collection_no"`
	PositionYes   common.Hash `json:"position_yes"`
	PositionNo    common.Hash `json:"position_no"`
}

// YesTokenID renders the YES position in canonical form.
func (p BinaryPositions) YesTokenID() string { return p.PositionYes.Hex() }

// NoTokenID renders the NO position in canonical form.
func (p BinaryPositions) NoTokenID() string { return p.PositionNo.Hex() }

// ConditionID is keccak256(abi.encode(address oracle, bytes32 questionId,
// uint256 outcomeSlotCount)): three full 32-byte words.
func ConditionID(oracle common.Address, questionID common.Hash, outcomeSlotCount uint64) common.Hash {
	a := abi.AddressWord(oracle)
	n := abi.Uint64Word(outcomeSlotCount)
	return crypto.Keccak256Hash(a[:], questionID[:], n[:])
}

// CollectionID is keccak256(parent ‖ conditionId ‖ uint256(indexSet)),
// packed into 96 bytes.
func CollectionID(parent, conditionID common.Hash, indexSet uint64) common.Hash {
	idx := abi.Uint64Word(indexSet)
	return crypto.Keccak256Hash(parent[:], conditionID[:], idx[:])
}

// PositionID is keccak256(collateral ‖ collectionId), packed into 52 bytes.
// The result is the ERC-1155 token id of the position.
func PositionID(collateral common.Address, collectionID common.Hash) common.Hash {
	return crypto.Keccak256Hash(collateral[:], collectionID[:])
}

// DeriveBinaryPositions computes both positions of a binary market under the
// root collection. When conditionID is nil it is derived from oracle and
// questionID; otherwise the supplied value is used as is.
func DeriveBinaryPositions(oracle common.Address, questionID common.Hash, collateral common.Address, conditionID *common.Hash) BinaryPositions {
	var cond common.Hash
	if conditionID != nil {
		cond = *conditionID
	} else {
		cond = ConditionID(oracle, questionID, BinaryOutcomeSlots)
	}
	yes := CollectionID(RootCollection, cond, IndexSetYes)
	no := CollectionID(RootCollection, cond, IndexSetNo)
	return BinaryPositions{
		ConditionID:   cond,
		CollectionYes: yes,
		CollectionNo:  no,
		PositionYes:   PositionID(collateral, yes),
		PositionNo:    PositionID(collateral, no),
	}
}

// DeriveBinaryPositionsHex is the string front door for DeriveBinaryPositions.
// Inputs may use any case and omit 0x. An empty conditionID means "derive it".
func DeriveBinaryPositionsHex(oracle, questionID, collateral, conditionID string) (BinaryPositions, error) {
	o, err := ParseAddress(oracle)
	if err != nil {
		return BinaryPositions{}, fmt.Errorf("ctf: oracle: %w", err)
	}
	c, err := ParseAddress(collateral)
	if err != nil {
		return BinaryPositions{}, fmt.Errorf("ctf: collateral: %w", err)
	}
	var q common.Hash
	if questionID != "" {
		w, err := abi.HexToWord(questionID)
		if err != nil {
			return BinaryPositions{}, fmt.Errorf("ctf: question id: %w", err)
		}
		q = w.Hash()
	}
	var cond *common.Hash
	if conditionID != "" {
		w, err := abi.HexToWord(conditionID)
		if err != nil {
			return BinaryPositions{}, fmt.Errorf("ctf: condition id: %w", err)
		}
		h := w.Hash()
		cond = &h
	} else if questionID == "" {
		return BinaryPositions{}, fmt.Errorf("ctf: need a question id or a condition id")
	}
	return DeriveBinaryPositions(o, q, c, cond), nil
}
