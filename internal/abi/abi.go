// Package abi holds the small set of fixed-width EVM encoding helpers the
// indexer needs: 32-byte words, uint256 and address slots, and event topics.
package abi

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// WordSize is the width of one ABI slot.
const WordSize = 32

// Word is a single 32-byte ABI slot.
type Word [WordSize]byte

var maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// WordAt returns slot i of data.
func WordAt(data []byte, i int) (Word, error) {
	var w Word
	if i < 0 {
		return w, fmt.Errorf("abi: negative slot %d", i)
	}
	end := (i + 1) * WordSize
	if len(data) < end {
		return w, fmt.Errorf("abi: slot %d out of range (%d bytes)", i, len(data))
	}
	copy(w[:], data[i*WordSize:end])
	return w, nil
}

// Uint256At reads slot i of data as an unsigned 256-bit integer.
func Uint256At(data []byte, i int) (*big.Int, error) {
	w, err := WordAt(data, i)
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(w[:]), nil
}

// Big returns the word as an unsigned integer.
func (w Word) Big() *big.Int {
	return new(big.Int).SetBytes(w[:])
}

// Hash returns the word as a go-ethereum hash.
func (w Word) Hash() common.Hash {
	return common.Hash(w)
}

// AddressFromWord takes the low 20 bytes of a slot.
func AddressFromWord(w Word) common.Address {
	return common.BytesToAddress(w[WordSize-common.AddressLength:])
}

// Uint256Word encodes v big-endian into one slot. It fails for negative
// values and values wider than 256 bits.
func Uint256Word(v *big.Int) (Word, error) {
	var w Word
	if v == nil || v.Sign() < 0 {
		return w, fmt.Errorf("abi: uint256 must be non-negative")
	}
	if v.Cmp(maxUint256) > 0 {
		return w, fmt.Errorf("abi: value exceeds 256 bits")
	}
	v.FillBytes(w[:])
	return w, nil
}

// Uint64Word encodes v into one slot.
func Uint64Word(v uint64) Word {
	var w Word
	new(big.Int).SetUint64(v).FillBytes(w[:])
	return w
}

// AddressWord left-pads an address to one slot.
func AddressWord(a common.Address) Word {
	var w Word
	copy(w[WordSize-common.AddressLength:], a.Bytes())
	return w
}

// HexToWord parses a hex string, with or without 0x and in any case, into a
// left-padded slot. Inputs longer than 32 bytes are rejected.
func HexToWord(s string) (Word, error) {
	var w Word
	s = strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	if s == "" {
		return w, fmt.Errorf("abi: empty hex")
	}
	if len(s)%2 == 1 {
		s = "0" + s
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return w, fmt.Errorf("abi: invalid hex: %w", err)
	}
	if len(b) > WordSize {
		return w, fmt.Errorf("abi: hex is %d bytes, max %d", len(b), WordSize)
	}
	copy(w[WordSize-len(b):], b)
	return w, nil
}

// EventTopic returns topic 0 for a canonical event signature such as
// "Transfer(address,address,uint256)".
func EventTopic(signature string) common.Hash {
	return crypto.Keccak256Hash([]byte(signature))
}

// HexAddress renders an address in canonical lowercase form.
func HexAddress(a common.Address) string {
	return strings.ToLower(a.Hex())
}

// HexHash renders a 32-byte value in canonical lowercase form.
func HexHash(h common.Hash) string {
	return h.Hex()
}
