package rate

import "errors"

var (
	// ErrRateLimited is returned once a session exceeds its refresh budget for the window.
	ErrRateLimited = errors.New("rate limited")
	// ErrRedisUnavailable wraps counter failures.
	ErrRedisUnavailable = errors.New("redis unavailable")
)
