package ctf

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/ctfindexer/internal/abi"
	"github.com/alanyoungcy/ctfindexer/internal/domain"
)

// NormalizeTokenID converts a token id from any accepted representation to
// 0x + 64 lowercase hex. Accepted: decimal strings, 0x-prefixed hex in any
// case, integer types, json.Number and *big.Int.
//
// A string without a 0x prefix that is exactly 64 characters long is read as
// the bare hex of a 32-byte word. Other unprefixed strings are read as
// decimal when every character is a digit and as hex otherwise; Gamma and
// the CLOB publish decimal ids.
func NormalizeTokenID(v any) (string, error) {
	n, err := tokenIDInt(v)
	if err != nil {
		return "", err
	}
	w, err := abi.Uint256Word(n)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrInvalidTokenID, err)
	}
	return w.Hash().Hex(), nil
}

// MustNormalizeTokenID panics on invalid input. Use it only where the input
// cannot fail, such as constants and 256-bit integers read from log words.
func MustNormalizeTokenID(v any) string {
	s, err := NormalizeTokenID(v)
	if err != nil {
		panic(err)
	}
	return s
}

func tokenIDInt(v any) (*big.Int, error) {
	switch t := v.(type) {
	case string:
		return parseTokenString(t)
	case json.Number:
		return parseTokenString(string(t))
	case *big.Int:
		if t == nil {
			return nil, fmt.Errorf("%w: nil", domain.ErrInvalidTokenID)
		}
		return new(big.Int).Set(t), nil
	case common.Hash:
		return new(big.Int).SetBytes(t[:]), nil
	case int:
		return big.NewInt(int64(t)), nil
	case int64:
		return big.NewInt(t), nil
	case uint64:
		return new(big.Int).SetUint64(t), nil
	case float64:
		// JSON numbers decoded into any lose precision beyond 2^53.
		if t != float64(int64(t)) {
			return nil, fmt.Errorf("%w: non-integer %v", domain.ErrInvalidTokenID, t)
		}
		return big.NewInt(int64(t)), nil
	default:
		return nil, fmt.Errorf("%w: unsupported type %T", domain.ErrInvalidTokenID, v)
	}
}

func parseTokenString(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%w: empty", domain.ErrInvalidTokenID)
	}
	base := 10
	digits := s
	switch {
	case strings.HasPrefix(s, "0x"), strings.HasPrefix(s, "0X"):
		base = 16
		digits = s[2:]
	case len(s) == 2*common.HashLength, !isDecimal(s):
		base = 16
	}
	if digits == "" {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidTokenID, s)
	}
	n, ok := new(big.Int).SetString(digits, base)
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidTokenID, s)
	}
	return n, nil
}

func isDecimal(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// NormalizeHash returns a 32-byte hex value in canonical form.
func NormalizeHash(s string) (string, error) {
	w, err := abi.HexToWord(s)
	if err != nil {
		return "", err
	}
	return w.Hash().Hex(), nil
}

// ParseAddress accepts a 20-byte hex address in any case, with or without 0x.
func ParseAddress(s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		s = "0x" + s
	}
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}

// NormalizeAddress returns an address in canonical lowercase form.
func NormalizeAddress(s string) (string, error) {
	a, err := ParseAddress(s)
	if err != nil {
		return "", err
	}
	return abi.HexAddress(a), nil
}
