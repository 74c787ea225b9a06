package domain

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrRateLimited        = errors.New("rate limited")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrLockHeld           = errors.New("lock already held")
	ErrUpstream           = errors.New("upstream unavailable")
	ErrMissingConditionID = errors.New("missing condition id")
	ErrInvalidTokenID     = errors.New("invalid token id")
	ErrInvalidRange       = errors.New("invalid block range")
	ErrInvalidParam       = errors.New("invalid parameter")
	ErrDecode             = errors.New("decode failed")
)
