// Package decoder turns raw EVM logs into typed OrderFilled and
// ConditionPreparation records. Decoding is per item: a bad log yields a
// rejected Result rather than failing the batch.
package decoder

import (
	"fmt"

	"github.com/alanyoungcy/ctfindexer/internal/domain"
)

// RejectReason classifies why a log did not produce a record.
type RejectReason string

const (
	RejectNone            RejectReason = ""
	RejectWrongSignature  RejectReason = "wrong_signature"
	RejectWrongTopicCount RejectReason = "wrong_topic_count"
	RejectShortData       RejectReason = "short_data"
	RejectUnknownExchange RejectReason = "unknown_exchange"
	RejectSelfFill        RejectReason = "self_fill"
)

// Result is the outcome of decoding one log.
type Result[T any] struct {
	Value  T
	Reject RejectReason
	Err    error
}

// OK reports whether the log decoded and passed all filters.
func (r Result[T]) OK() bool { return r.Reject == RejectNone && r.Err == nil }

func reject[T any](reason RejectReason, format string, args ...any) Result[T] {
	return Result[T]{
		Reject: reason,
		Err:    fmt.Errorf("%w: %s: %s", domain.ErrDecode, reason, fmt.Sprintf(format, args...)),
	}
}
