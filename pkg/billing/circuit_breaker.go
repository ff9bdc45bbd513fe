package billing

import (
	"sync"
	"time"
)

// CircuitBreakerState represents the current state of the circuit breaker.
type CircuitBreakerState string

const (
	StateClosed   CircuitBreakerState = "closed"
	StateOpen     CircuitBreakerState = "open"
	StateHalfOpen CircuitBreakerState = "half_open"
)

// CircuitBreaker stops calling a failing provider for a cool-down period.
// Only provider-side failures count towards the threshold: a declined card or
// an unknown price is the caller's problem, not an outage.
type CircuitBreaker struct {
	mu sync.RWMutex

	state               CircuitBreakerState
	failureThreshold    int
	resetTimeout        time.Duration
	consecutiveFailures int
	lastFailureTime     time.Time

	shouldTrip    func(error) bool
	onStateChange func(state CircuitBreakerState)
	now           func() time.Time
}

// NewCircuitBreaker creates a breaker that opens after failureThreshold
// consecutive provider-side failures and half-opens after resetTimeout.
// A non-positive threshold disables the breaker.
func NewCircuitBreaker(failureThreshold int, resetTimeout time.Duration,
	onStateChange func(state CircuitBreakerState)) *CircuitBreaker {
	return &CircuitBreaker{
		state:            StateClosed,
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
		shouldTrip:       isProviderFailure,
		onStateChange:    onStateChange,
		now:              time.Now,
	}
}

func isProviderFailure(err error) bool {
	if be, ok := AsError(err); ok {
		return be.Retryable()
	}
	return true
}

// State returns the current state of the circuit breaker.
func (cb *CircuitBreaker) State() CircuitBreakerState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.currentState()
}

func (cb *CircuitBreaker) currentState() CircuitBreakerState {
	if cb.state == StateOpen && cb.now().Sub(cb.lastFailureTime) >= cb.resetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Execute runs fn unless the breaker is open, in which case ErrProviderUnavailable
// is returned as a *Error for op without calling fn.
func (cb *CircuitBreaker) Execute(op string, fn func() error) error {
	if cb == nil || cb.failureThreshold <= 0 {
		return fn()
	}

	if cb.State() == StateOpen {
		return &Error{
			Op:      op,
			Code:    CodeProviderUnavailable,
			Message: "billing provider temporarily unavailable",
			Err:     ErrProviderUnavailable,
		}
	}

	err := fn()
	if err != nil && cb.shouldTrip(err) {
		cb.failure()
		return err
	}

	cb.success()
	return err
}

func (cb *CircuitBreaker) success() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != StateClosed {
		cb.changeState(StateClosed)
	}
	cb.consecutiveFailures = 0
}

func (cb *CircuitBreaker) failure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	state := cb.currentState()
	cb.consecutiveFailures++
	cb.lastFailureTime = cb.now()

	// A failed half-open trial call keeps the stored state open; the refreshed
	// lastFailureTime starts a new cool-down.
	if state == StateClosed && cb.consecutiveFailures >= cb.failureThreshold {
		cb.changeState(StateOpen)
	}
}

func (cb *CircuitBreaker) changeState(newState CircuitBreakerState) {
	if cb.state != newState {
		cb.state = newState
		if cb.onStateChange != nil {
			cb.onStateChange(newState)
		}
	}
}
