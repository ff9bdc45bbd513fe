package billing

import (
	"context"
	"time"
)

// SubscriptionStatus mirrors the provider's subscription lifecycle states.
type SubscriptionStatus string

const (
	StatusIncomplete        SubscriptionStatus = "incomplete"
	StatusIncompleteExpired SubscriptionStatus = "incomplete_expired"
	StatusTrialing          SubscriptionStatus = "trialing"
	StatusActive            SubscriptionStatus = "active"
	StatusPastDue           SubscriptionStatus = "past_due"
	StatusUnpaid            SubscriptionStatus = "unpaid"
	StatusPaused            SubscriptionStatus = "paused"
	// StatusCanceled is also the sentinel written locally when the provider
	// reports the subscription as deleted.
	StatusCanceled SubscriptionStatus = "canceled"
)

// Provider is the boundary to an external billing service.
// Implementations translate provider SDK objects and errors into the types of
// this package; callers never see SDK types.
type Provider interface {
	// Name returns the provider name (e.g., "stripe")
	Name() string

	// CreateCustomer creates a customer tagged with the local user id in the
	// provider's metadata. Webhooks are correlated back to users through the
	// returned customer id.
	CreateCustomer(ctx context.Context, params CustomerParams) (*Customer, error)

	// CreateSubscription creates a subscription with a single line item in an
	// incomplete state. The returned ClientSecret must be confirmed client-side
	// before the subscription becomes active.
	CreateSubscription(ctx context.Context, params SubscriptionParams) (*Subscription, error)

	// RetrieveSubscription fetches the live subscription.
	// Returns an error matching ErrResourceMissing when it no longer exists.
	RetrieveSubscription(ctx context.Context, subscriptionID string) (*Subscription, error)

	// CreatePortalSession returns a redirect URL to the provider-hosted portal.
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error)

	// ParseWebhook verifies the payload signature and decodes it.
	// Returns ErrInvalidWebhookSignature when verification fails.
	ParseWebhook(payload []byte, signatureHeader string) (*Event, error)
}

// CustomerParams describes a customer to create.
type CustomerParams struct {
	UserID string
	Email  string
	Name   string
}

// Customer is a provider-owned billing customer.
type Customer struct {
	ID     string
	Email  string
	Name   string
	UserID string
}

// SubscriptionParams describes a subscription to create.
type SubscriptionParams struct {
	CustomerID string
	PriceID    string
	UserID     string

	// IdempotencyKey is forwarded to providers that support request idempotency.
	IdempotencyKey string
}

// Subscription is a normalized view of a provider subscription.
type Subscription struct {
	ID          string
	CustomerID  string
	Status      SubscriptionStatus
	PriceID     string
	ProductName string

	PeriodStart *time.Time
	PeriodEnd   *time.Time

	// CancelAtPeriodEnd is true when the subscription is scheduled to end.
	CancelAtPeriodEnd bool

	// ClientSecret is only populated on creation.
	ClientSecret string

	// Created is the provider creation time of the subscription.
	Created time.Time
}
