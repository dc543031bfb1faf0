package ports

import "errors"

// Standard application-level errors.
// Adapters wrap underlying infrastructure errors with these sentinels so
// the core can classify failures with errors.Is.
var (
	// General errors
	ErrUnknown         = errors.New("unknown error occurred")
	ErrTimeout         = errors.New("operation timed out")
	ErrContextCanceled = errors.New("operation canceled via context")

	// Exchange gateway errors
	ErrConnectionFailed     = errors.New("failed to connect to the exchange")
	ErrRateLimited          = errors.New("API rate limit exceeded")
	ErrAuthenticationFailed = errors.New("exchange authentication failed (check API keys)")
	ErrInsufficientFunds    = errors.New("insufficient funds for operation")
	ErrInvalidOrder         = errors.New("order parameters rejected as invalid")
	ErrOrderNotFound        = errors.New("order not found on the exchange")
	ErrExchangeRejected     = errors.New("request rejected by the exchange")

	// Engine-side errors
	ErrInvalidConfig      = errors.New("invalid or missing configuration")
	ErrInvalidCenterPrice = errors.New("center price must be positive")
	ErrLevelOccupied      = errors.New("grid level already has an open order")
	ErrTradingHalted      = errors.New("trading is currently halted")
	ErrNoOpenPosition     = errors.New("no open position matches the closing trade")

	// Persistence errors
	ErrDBConnection = errors.New("database connection error")
	ErrQueryFailed  = errors.New("database query failed")
)

// IsTransient reports whether an error is worth retrying with backoff.
// Terminal failures (authentication, invalid order) are never transient.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrConnectionFailed)
}
