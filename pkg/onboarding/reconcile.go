package onboarding

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/mihaimyh/goonboard/pkg/billing"
)

// Reconcile results reported to Metrics.
const (
	reconcileApplied   = "applied"
	reconcileStale     = "stale"
	reconcileUnmatched = "unmatched"
	reconcileIgnored   = "ignored"
	reconcileError     = "error"
)

// HandleEvent applies a verified provider event to the local mirror. Events
// are matched to users by billing customer id only. Events for unknown
// customers and event kinds this package does not consume are acknowledged
// without touching storage, so the provider stops redelivering them.
//
// Subscription writes are ordered by provider timestamp: an event older than
// the last applied subscription write is dropped. Replaying an event is a
// no-op beyond rewriting the same values.
func (s *Synchronizer) HandleEvent(ctx context.Context, event *billing.Event) error {
	if event == nil {
		return billing.ErrInvalidWebhookPayload
	}

	result, err := s.handleEvent(ctx, event)
	if err != nil {
		result = reconcileError
	}
	s.metrics.RecordWebhookReconcile(string(event.Kind), result)

	fields := []Field{
		{Key: "event_id", Value: event.ID},
		{Key: "event_type", Value: string(event.Kind)},
		{Key: "customer_id", Value: eventCustomerID(event)},
		{Key: "result", Value: result},
	}
	switch {
	case err != nil:
		s.logger.Error("Failed to reconcile billing event", append(fields, Field{Key: "error", Value: err.Error()})...)
	case result == reconcileUnmatched:
		s.logger.Info("Billing event for unknown customer ignored", fields...)
	default:
		s.logger.Debug("Billing event reconciled", fields...)
	}
	return err
}

func (s *Synchronizer) handleEvent(ctx context.Context, event *billing.Event) (string, error) {
	switch event.Kind {
	case billing.EventSubscriptionCreated,
		billing.EventSubscriptionUpdated,
		billing.EventSubscriptionDeleted,
		billing.EventInvoicePaymentSucceeded,
		billing.EventInvoicePaymentFailed:
	default:
		return reconcileIgnored, nil
	}

	customerID := eventCustomerID(event)
	if customerID == "" {
		return reconcileUnmatched, nil
	}

	rec, err := s.storage.FindByBillingCustomerID(ctx, customerID)
	if errors.Is(err, ErrRecordNotFound) {
		return reconcileUnmatched, nil
	}
	if err != nil {
		return "", fmt.Errorf("find customer %s: %w", customerID, err)
	}

	var fn func(r *Record) (string, error)
	switch event.Kind {
	case billing.EventSubscriptionCreated:
		fn = subscriptionCreated(event)
	case billing.EventSubscriptionUpdated:
		fn = subscriptionUpdated(event)
	case billing.EventSubscriptionDeleted:
		fn = subscriptionDeleted(event)
	case billing.EventInvoicePaymentSucceeded:
		fn = paymentSucceeded(event)
	case billing.EventInvoicePaymentFailed:
		// The provider follows up with a subscription update to past_due;
		// status is only ever taken from subscription events.
		return reconcileIgnored, nil
	}

	var result string
	start := time.Now()
	_, err = s.storage.UpdateRecord(ctx, rec.UserID, func(r *Record) error {
		if r.BillingCustomerID != customerID {
			result = reconcileUnmatched
			return ErrNoChange
		}
		before := r.Clone()
		res, err := fn(r)
		result = res
		if err != nil {
			return err
		}
		// Replays rewrite identical values; skip the write so UpdatedAt
		// only moves when something changed.
		if res != reconcileApplied || reflect.DeepEqual(before, r) {
			return ErrNoChange
		}
		return nil
	})
	s.metrics.RecordStorageOperation("reconcile_"+string(event.Kind), time.Since(start), err)
	if err != nil {
		return "", fmt.Errorf("update record for user %s: %w", rec.UserID, err)
	}
	return result, nil
}

func eventCustomerID(event *billing.Event) string {
	if event.CustomerID != "" {
		return event.CustomerID
	}
	if event.Subscription != nil {
		return event.Subscription.CustomerID
	}
	return ""
}

// isStaleEvent reports whether an event timestamp predates the last applied
// subscription write. Equal timestamps are applied so replays stay idempotent.
func isStaleEvent(r *Record, at time.Time) bool {
	return !r.SubscriptionSyncedAt.IsZero() && at.Before(r.SubscriptionSyncedAt)
}

// entitles reports whether a subscription in this status grants access.
func entitles(status billing.SubscriptionStatus) bool {
	return status == billing.StatusActive || status == billing.StatusTrialing
}

func subscriptionCreated(event *billing.Event) func(*Record) (string, error) {
	return func(r *Record) (string, error) {
		sub := event.Subscription
		if sub == nil || sub.ID == "" {
			return "", fmt.Errorf("%w: subscription event without subscription", billing.ErrInvalidWebhookPayload)
		}
		if isStaleEvent(r, event.Created) {
			return reconcileStale, nil
		}
		r.SubscriptionID = sub.ID
		mirrorSubscription(r, sub, event.Created)
		return reconcileApplied, nil
	}
}

func subscriptionUpdated(event *billing.Event) func(*Record) (string, error) {
	return func(r *Record) (string, error) {
		sub := event.Subscription
		if sub == nil || sub.ID == "" {
			return "", fmt.Errorf("%w: subscription event without subscription", billing.ErrInvalidWebhookPayload)
		}
		// Another subscription of the same customer takes over the mirror
		// only once it entitles the user. A payment submitted twice leaves
		// the newer subscription mirrored while the user may confirm the
		// older one.
		if r.SubscriptionID != "" && r.SubscriptionID != sub.ID && !entitles(sub.Status) {
			return reconcileIgnored, nil
		}
		if isStaleEvent(r, event.Created) {
			return reconcileStale, nil
		}
		r.SubscriptionID = sub.ID
		mirrorSubscription(r, sub, event.Created)
		return reconcileApplied, nil
	}
}

func subscriptionDeleted(event *billing.Event) func(*Record) (string, error) {
	return func(r *Record) (string, error) {
		sub := event.Subscription
		if sub == nil || sub.ID == "" {
			return "", fmt.Errorf("%w: subscription event without subscription", billing.ErrInvalidWebhookPayload)
		}
		// Deleting a subscription that is not mirrored leaves the mirror alone.
		if r.SubscriptionID != "" && r.SubscriptionID != sub.ID {
			return reconcileIgnored, nil
		}
		if isStaleEvent(r, event.Created) {
			return reconcileStale, nil
		}
		if r.SubscriptionID == "" {
			r.SubscriptionID = sub.ID
		}
		// Completion and the subscription id are history and stay as they are.
		r.SubscriptionStatus = billing.StatusCanceled
		r.SubscriptionSyncedAt = event.Created
		return reconcileApplied, nil
	}
}

func paymentSucceeded(event *billing.Event) func(*Record) (string, error) {
	return func(r *Record) (string, error) {
		paidAt := event.Created
		if event.Invoice != nil && event.Invoice.PaidAt != nil {
			paidAt = *event.Invoice.PaidAt
		}
		if r.LastPaymentAt != nil && !paidAt.After(*r.LastPaymentAt) {
			return reconcileStale, nil
		}
		r.LastPaymentAt = &paidAt
		return reconcileApplied, nil
	}
}
