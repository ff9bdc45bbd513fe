package onboarding

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrRecordNotFound is returned when no onboarding record exists
	ErrRecordNotFound = errors.New("onboarding record not found")

	// ErrBillingCustomerImmutable is returned when an update would change or
	// clear an already assigned billing customer id
	ErrBillingCustomerImmutable = errors.New("billing customer id is immutable once set")

	// ErrBillingCustomerConflict is returned when a billing customer id is
	// already assigned to another user
	ErrBillingCustomerConflict = errors.New("billing customer id already assigned")

	// ErrNoBillingCustomer is returned when an operation requires a billing customer
	ErrNoBillingCustomer = errors.New("user has no billing customer")

	// ErrInvariantViolation is returned when an update would persist an
	// inconsistent record
	ErrInvariantViolation = errors.New("onboarding record invariant violated")

	// ErrStorageUnavailable is returned when storage is unavailable
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrInvalidUserID is returned for empty or oversized user ids
	ErrInvalidUserID = errors.New("invalid user id")
)

// FieldError describes one invalid input field.
type FieldError struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

// ValidationError is returned when input is rejected before any write.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "validation failed"
	}
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s: %s", f.Field, f.Message))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// SequenceError is returned when a step is attempted before its
// preconditions hold. NextStep is where the client should redirect.
type SequenceError struct {
	Attempted Step
	NextStep  Step
}

func (e *SequenceError) Error() string {
	if e.NextStep == StepCompleted {
		return fmt.Sprintf("cannot submit %s: onboarding already completed", e.Attempted)
	}
	return fmt.Sprintf("cannot submit %s: complete %s first", e.Attempted, e.NextStep)
}

// AsValidationError extracts a *ValidationError from err.
func AsValidationError(err error) (*ValidationError, bool) {
	var ve *ValidationError
	ok := errors.As(err, &ve)
	return ve, ok
}

// AsSequenceError extracts a *SequenceError from err.
func AsSequenceError(err error) (*SequenceError, bool) {
	var se *SequenceError
	ok := errors.As(err, &se)
	return se, ok
}
