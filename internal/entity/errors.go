package entity

import "errors"

// Error taxonomy surfaced to callers. Services wrap these with %w; raw
// upstream payloads never cross the gateway boundary.
var (
	ErrInvalidOrder         = errors.New("invalid order")
	ErrNotFound             = errors.New("no matching instrument")
	ErrNoUnderlying         = errors.New("underlying instrument not found")
	ErrUpstreamUnavailable  = errors.New("upstream unavailable")
	ErrUpstreamTimeout      = errors.New("upstream timeout")
	ErrTokenNotFound        = errors.New("confirmation token not found")
	ErrTokenExpired         = errors.New("confirmation token expired")
	ErrTokenAlreadyConsumed = errors.New("confirmation token already consumed")
)

// Transient reports whether err is a retryable upstream-side failure.
// Read-only paths retry these at most once; placement never retries.
func Transient(err error) bool {
	return errors.Is(err, ErrUpstreamUnavailable) || errors.Is(err, ErrUpstreamTimeout)
}
