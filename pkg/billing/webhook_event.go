package billing

import "time"

// EventKind identifies the webhook events consumed by the synchronizer.
type EventKind string

const (
	EventSubscriptionCreated     EventKind = "customer.subscription.created"
	EventSubscriptionUpdated     EventKind = "customer.subscription.updated"
	EventSubscriptionDeleted     EventKind = "customer.subscription.deleted"
	EventInvoicePaymentSucceeded EventKind = "invoice.payment_succeeded"
	EventInvoicePaymentFailed    EventKind = "invoice.payment_failed"
)

// Event is a verified, decoded provider webhook.
// Subscription is set for subscription events, Invoice for invoice events.
type Event struct {
	// ID is the provider event id
	ID string

	// Kind is the provider event type; unknown kinds are passed through as-is
	Kind EventKind

	// Provider is the billing provider name ("stripe")
	Provider string

	// CustomerID is the provider customer the event concerns. It is the only
	// identifier used to correlate the event with a local user.
	CustomerID string

	// Created is when the provider emitted the event
	Created time.Time

	Subscription *Subscription
	Invoice      *Invoice
}

// Invoice is the subset of a provider invoice the synchronizer reads.
type Invoice struct {
	ID             string
	SubscriptionID string
	AmountPaid     int64
	Currency       string

	// PaidAt is when the invoice was paid (nil if unknown)
	PaidAt *time.Time
}
