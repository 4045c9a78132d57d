package ports

import "errors"

// Standard application-level errors.
// Adapters wrap underlying infrastructure errors with these standard errors.
var (
	// General errors
	ErrUnknown            = errors.New("unknown error occurred")
	ErrInvalidRequest     = errors.New("invalid request parameters or format")
	ErrNotFound           = errors.New("resource not found")
	ErrTimeout            = errors.New("operation timed out")
	ErrContextCanceled    = errors.New("operation canceled via context")
	ErrPermissionDenied   = errors.New("permission denied")
	ErrConfigurationError = errors.New("invalid or missing configuration")

	// Exchange errors
	ErrExchangeUnavailable  = errors.New("exchange API is unavailable")
	ErrConnectionFailed     = errors.New("failed to connect to the exchange")
	ErrRateLimited          = errors.New("API rate limit exceeded")
	ErrAuthenticationFailed = errors.New("exchange authentication failed (check API keys)")
	ErrInvalidAPIKeys       = errors.New("invalid API keys or permissions")
	ErrInsufficientFunds    = errors.New("insufficient funds for operation")
	ErrOrderNotFound        = errors.New("order not found on the exchange")
	ErrOrderPlacementFailed = errors.New("failed to place order")
	ErrOrderCancelFailed    = errors.New("failed to cancel order")

	// Engine validation errors. These are rejected synchronously before any
	// exchange call and are never counted against the circuit breaker.
	ErrEngineNotRunning     = errors.New("trading engine is not running")
	ErrEngineAlreadyRunning = errors.New("trading engine is already running")
	ErrCircuitBreakerOpen   = errors.New("circuit breaker is open")
	ErrSymbolNotAllowed     = errors.New("symbol is not on the allow-list")
	ErrRiskRejected         = errors.New("order rejected by risk manager")
	ErrOrderNotActive       = errors.New("order is not active")
	ErrUnknownOrder         = errors.New("order is not tracked locally")
	ErrPositionNotFound     = errors.New("position not found")

	// Database errors
	ErrDBConnection = errors.New("database connection error")
	ErrQueryFailed  = errors.New("database query failed")
)
