package ratelimiter

import "errors"

var (
	ErrInvalidConfig     = errors.New("invalid rate limit configuration")
	ErrInvalidTokenCount = errors.New("invalid token count")
	ErrStoreNil          = errors.New("rate limit store is nil")
	ErrStoreUnavailable  = errors.New("rate limit store unavailable")
)
