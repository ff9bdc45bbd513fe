package billing

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrProviderNotConfigured is returned when a provider is not properly configured
	ErrProviderNotConfigured = errors.New("billing provider not configured")

	// ErrInvalidWebhookSignature is returned when webhook signature validation fails
	ErrInvalidWebhookSignature = errors.New("invalid webhook signature")

	// ErrInvalidWebhookPayload is returned when webhook payload cannot be parsed
	ErrInvalidWebhookPayload = errors.New("invalid webhook payload")

	// ErrResourceMissing is returned when the provider reports that an object
	// no longer exists (e.g. a subscription deleted upstream)
	ErrResourceMissing = errors.New("billing resource missing")

	// ErrProviderTimeout is returned when a provider call exceeds its deadline.
	// Nothing can be assumed about whether the remote object was created.
	ErrProviderTimeout = errors.New("billing provider timeout")

	// ErrProviderUnavailable is returned while the circuit breaker is open
	ErrProviderUnavailable = errors.New("billing provider unavailable")

	// ErrProviderAPIError is returned when the provider's API returns an error
	ErrProviderAPIError = errors.New("billing provider API error")
)

// Error codes carried by *Error.
const (
	CodeResourceMissing     = "resource_missing"
	CodeTimeout             = "timeout"
	CodeProviderUnavailable = "provider_unavailable"
	CodeAPIError            = "api_error"
	CodeCardError           = "card_error"
	CodeInvalidRequest      = "invalid_request"
)

// Error is a failed billing provider call.
// StatusCode is the provider's HTTP status (0 when the call never completed).
type Error struct {
	Op         string
	Code       string
	Message    string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("billing %s: %s", e.Op, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("billing %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("billing %s failed", e.Op)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports sentinel equivalence by code so callers can write
// errors.Is(err, billing.ErrResourceMissing) against any provider.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrResourceMissing:
		return e.Code == CodeResourceMissing
	case ErrProviderTimeout:
		return e.Code == CodeTimeout
	case ErrProviderUnavailable:
		return e.Code == CodeProviderUnavailable
	case ErrProviderAPIError:
		return e.Code == CodeAPIError
	}
	return false
}

// HTTPStatus maps the error onto a status code suitable for API clients.
// Client errors reported by the provider pass through; everything else is a
// gateway failure.
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case CodeTimeout:
		return http.StatusGatewayTimeout
	case CodeProviderUnavailable:
		return http.StatusServiceUnavailable
	case CodeResourceMissing:
		return http.StatusNotFound
	}
	if e.StatusCode >= 400 && e.StatusCode < 500 {
		return e.StatusCode
	}
	return http.StatusBadGateway
}

// Retryable reports whether the failure is on the provider side
// (network, timeout, 5xx, rate limiting).
func (e *Error) Retryable() bool {
	switch e.Code {
	case CodeTimeout, CodeProviderUnavailable:
		return true
	}
	return e.StatusCode == 0 || e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// AsError extracts a *Error from err.
func AsError(err error) (*Error, bool) {
	var be *Error
	if errors.As(err, &be) {
		return be, true
	}
	return nil, false
}

// Policy declares how a call site treats a failed billing call.
type Policy int

const (
	// PolicyAbort propagates the error and aborts the surrounding transition.
	PolicyAbort Policy = iota

	// PolicyWarn logs the error and lets the transition continue.
	// Used for opportunistic side effects that are retried later.
	PolicyWarn
)

func (p Policy) String() string {
	if p == PolicyWarn {
		return "warn"
	}
	return "abort"
}
