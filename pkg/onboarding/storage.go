package onboarding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrNoChange may be returned by an UpdateFunc to leave the stored record
// untouched. UpdateRecord then returns the current record and a nil error.
var ErrNoChange = errors.New("no change")

// UpdateFunc mutates rec in place. Returning an error aborts the update
// without writing anything. Implementations may call it more than once when
// an optimistic transaction is retried, so it must only depend on rec.
type UpdateFunc func(rec *Record) error

// Storage defines the interface for onboarding record persistence.
type Storage interface {
	// GetRecord returns the record for userID or ErrRecordNotFound.
	GetRecord(ctx context.Context, userID string) (*Record, error)

	// UpdateRecord atomically reads the record for userID (the default record
	// when absent), applies fn and writes the result. Backends run the result
	// through ApplyUpdate and must reject a BillingCustomerID that another
	// user already holds with ErrBillingCustomerConflict.
	UpdateRecord(ctx context.Context, userID string, fn UpdateFunc) (*Record, error)

	// FindByBillingCustomerID returns the record owning customerID or
	// ErrRecordNotFound.
	FindByBillingCustomerID(ctx context.Context, customerID string) (*Record, error)
}

// ApplyUpdate runs fn against a copy of existing (or a new default record)
// and validates the result. It reports whether the result must be written.
// Every Storage implementation funnels its writes through it.
func ApplyUpdate(existing *Record, userID string, now time.Time, fn UpdateFunc) (*Record, bool, error) {
	var rec *Record
	if existing == nil {
		rec = NewRecord(userID)
	} else {
		rec = existing.Clone()
	}

	if err := fn(rec); err != nil {
		if errors.Is(err, ErrNoChange) {
			if existing == nil {
				return NewRecord(userID), false, nil
			}
			return existing.Clone(), false, nil
		}
		return nil, false, err
	}

	if rec.UserID != userID {
		return nil, false, fmt.Errorf("%w: user id changed from %q to %q", ErrInvariantViolation, userID, rec.UserID)
	}
	if existing != nil {
		if existing.BillingCustomerID != "" && rec.BillingCustomerID != existing.BillingCustomerID {
			return nil, false, ErrBillingCustomerImmutable
		}
		if existing.ID != "" && rec.ID != existing.ID {
			return nil, false, fmt.Errorf("%w: record id changed", ErrInvariantViolation)
		}
	}
	if err := CheckInvariants(rec); err != nil {
		return nil, false, err
	}

	now = storedTime(now)
	normalizeTimes(rec)
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	return rec, true, nil
}

// storedTime reduces t to what every backend can store: UTC with microsecond
// precision and no monotonic clock reading. The record returned from a write
// then equals the record read back later.
func storedTime(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.UTC().Truncate(time.Microsecond)
}

func storedTimePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := storedTime(*t)
	return &v
}

func normalizeTimes(r *Record) {
	r.SubscriptionPeriodStart = storedTimePtr(r.SubscriptionPeriodStart)
	r.SubscriptionPeriodEnd = storedTimePtr(r.SubscriptionPeriodEnd)
	r.SubscriptionSyncedAt = storedTime(r.SubscriptionSyncedAt)
	r.LastPaymentAt = storedTimePtr(r.LastPaymentAt)
	r.CompletedAt = storedTimePtr(r.CompletedAt)
	r.CreatedAt = storedTime(r.CreatedAt)
}

// CheckInvariants validates the structural invariants of a single record.
func CheckInvariants(rec *Record) error {
	if !rec.CurrentStep.Valid() {
		return fmt.Errorf("%w: unknown step %q", ErrInvariantViolation, rec.CurrentStep)
	}
	if !rec.OnboardingComplete {
		if rec.CurrentStep == StepCompleted {
			return fmt.Errorf("%w: step is COMPLETED but onboarding is not complete", ErrInvariantViolation)
		}
		return nil
	}
	switch {
	case rec.CurrentStep != StepCompleted:
		return fmt.Errorf("%w: completed record at step %s", ErrInvariantViolation, rec.CurrentStep)
	case !rec.HasBasicInfo(), !rec.HasAdditionalDetails():
		return fmt.Errorf("%w: completed record is missing step data", ErrInvariantViolation)
	case rec.SubscriptionID == "":
		return fmt.Errorf("%w: completed record has no subscription", ErrInvariantViolation)
	case rec.CompletedAt == nil:
		return fmt.Errorf("%w: completed record has no completion time", ErrInvariantViolation)
	}
	return nil
}
