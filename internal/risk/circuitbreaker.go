package risk

import (
	"sync"
	"time"
)

// BreakerState is a read-only snapshot of the circuit breaker.
type BreakerState struct {
	Open              bool
	ConsecutiveErrors int
	OpenedAt          time.Time
	LastError         string
}

// CircuitBreaker counts consecutive operational failures and halts trading
// once a threshold is reached. Pure state machine, no I/O.
//
// Once open, the breaker never closes on its own: not from elapsed time and
// not from later successes. In a money-moving system an automatic recovery
// from a fault is more dangerous than an operator-confirmed one, so closing
// is always an explicit call to Close.
type CircuitBreaker struct {
	mu                sync.Mutex
	open              bool
	consecutiveErrors int
	openedAt          time.Time
	lastError         string
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker() *CircuitBreaker {
	return &CircuitBreaker{}
}

// RecordError increments the consecutive error counter and opens the breaker
// when the counter reaches threshold. It returns true only on the call that
// performs the transition, so the caller emits the opened event exactly once.
func (cb *CircuitBreaker) RecordError(message string, threshold int) bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveErrors++
	cb.lastError = message
	if cb.open {
		return false
	}
	if threshold > 0 && cb.consecutiveErrors >= threshold {
		cb.open = true
		cb.openedAt = time.Now().UTC()
		return true
	}
	return false
}

// RecordSuccess resets the consecutive error counter. It does not close an
// open breaker.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.consecutiveErrors = 0
}

// ForceOpen opens the breaker immediately, regardless of the error count.
// Used by the emergency stop path. Returns true if the breaker was closed.
func (cb *CircuitBreaker) ForceOpen(message string) bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.open {
		return false
	}
	cb.open = true
	cb.openedAt = time.Now().UTC()
	cb.lastError = message
	return true
}

// Close resets the breaker to the closed state. This is the only way an open
// breaker closes.
func (cb *CircuitBreaker) Close() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.open = false
	cb.consecutiveErrors = 0
	cb.openedAt = time.Time{}
	cb.lastError = ""
}

// IsOpen reports whether the breaker is currently open.
func (cb *CircuitBreaker) IsOpen() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.open
}

// ShouldClose is an advisory query: it reports whether the breaker has been
// open for at least cooldown. It never closes the breaker itself.
func (cb *CircuitBreaker) ShouldClose(cooldown time.Duration) bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if !cb.open {
		return false
	}
	return time.Since(cb.openedAt) >= cooldown
}

// State returns a snapshot for status reporting.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return BreakerState{
		Open:              cb.open,
		ConsecutiveErrors: cb.consecutiveErrors,
		OpenedAt:          cb.openedAt,
		LastError:         cb.lastError,
	}
}
