package apperrors

import "errors"

// Standardized copier errors
var (
	ErrTransientFetch     = errors.New("transient fetch failure")
	ErrQuoteUnavailable   = errors.New("quote unavailable")
	ErrOrderRejected      = errors.New("order rejected")
	ErrInsufficientMargin = errors.New("insufficient margin")
	ErrRateLimitExceeded  = errors.New("rate limit exceeded")
	ErrNetwork            = errors.New("network error")
	ErrInvalidSymbol      = errors.New("invalid symbol")
	ErrConfiguration      = errors.New("invalid configuration")
	ErrNotRunning         = errors.New("not running")
	ErrAlreadyRunning     = errors.New("already running")
)

// IsTransient reports whether err is worth retrying on a later pass rather
// than treating as fatal.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransientFetch) ||
		errors.Is(err, ErrNetwork) ||
		errors.Is(err, ErrQuoteUnavailable) ||
		errors.Is(err, ErrRateLimitExceeded)
}
