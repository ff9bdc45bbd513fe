package stripe

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/mihaimyh/goonboard/pkg/billing"
)

const (
	providerName           = "stripe"
	defaultHTTPTimeout     = 10 * time.Second
	defaultPaymentBehavior = "default_incomplete"
	metadataUserID         = "user_id"
)

// Config extends billing.Config with Stripe-specific options
type Config struct {
	billing.Config // Base config (APIKey, WebhookSecret, HTTPClient, Metrics)

	// PaymentBehavior is passed to subscription creation.
	// Defaults to "default_incomplete": the subscription starts incomplete and
	// becomes active once the client confirms the first payment.
	PaymentBehavior string

	// Backends overrides the Stripe API backends (Optional)
	// Used to point the client at a proxy or a test server.
	Backends *stripe.Backends
}

// Provider implements the billing.Provider interface for Stripe
type Provider struct {
	client          *stripe.Client
	webhookSecret   string
	paymentBehavior string
	metrics         billing.Metrics
}

// NewProvider creates a new Stripe billing provider
func NewProvider(config Config) (*Provider, error) {
	apiKey := strings.TrimSpace(config.APIKey)
	if apiKey == "" {
		return nil, billing.ErrProviderNotConfigured
	}

	backends := config.Backends
	if backends == nil {
		httpClient := config.HTTPClient
		if httpClient == nil {
			timeout := config.Timeout
			if timeout <= 0 {
				timeout = defaultHTTPTimeout
			}
			httpClient = &http.Client{Timeout: timeout}
		}
		backends = stripe.NewBackendsWithConfig(&stripe.BackendConfig{
			HTTPClient: httpClient,
		})
	}

	paymentBehavior := config.PaymentBehavior
	if paymentBehavior == "" {
		paymentBehavior = defaultPaymentBehavior
	}

	metrics := config.Metrics
	if metrics == nil {
		metrics = &billing.NoopMetrics{}
	}

	return &Provider{
		client:          stripe.NewClient(apiKey, stripe.WithBackends(backends)),
		webhookSecret:   strings.TrimSpace(config.WebhookSecret),
		paymentBehavior: paymentBehavior,
		metrics:         metrics,
	}, nil
}

// Name returns the provider name
func (p *Provider) Name() string {
	return providerName
}

// CreateCustomer creates a Stripe customer. The user id is stored in the
// customer metadata so support staff can find the local user from the
// dashboard; webhooks are matched by customer id.
func (p *Provider) CreateCustomer(ctx context.Context, params billing.CustomerParams) (*billing.Customer, error) {
	const endpoint = "/v1/customers"
	startTime := time.Now()

	createParams := &stripe.CustomerCreateParams{}
	if params.Email != "" {
		createParams.Email = stripe.String(params.Email)
	}
	if params.Name != "" {
		createParams.Name = stripe.String(params.Name)
	}
	createParams.AddMetadata(metadataUserID, params.UserID)

	cust, err := p.client.V1Customers.Create(ctx, createParams)
	p.recordAPICall(endpoint, startTime, err)
	if err != nil {
		return nil, mapError("create_customer", err)
	}

	return &billing.Customer{
		ID:     cust.ID,
		Email:  cust.Email,
		Name:   cust.Name,
		UserID: cust.Metadata[metadataUserID],
	}, nil
}

// CreateSubscription creates a single-item subscription and expands the
// latest invoice's confirmation secret so the client can confirm payment.
func (p *Provider) CreateSubscription(ctx context.Context, params billing.SubscriptionParams) (*billing.Subscription, error) {
	const endpoint = "/v1/subscriptions"
	startTime := time.Now()

	createParams := &stripe.SubscriptionCreateParams{
		Customer: stripe.String(params.CustomerID),
		Items: []*stripe.SubscriptionCreateItemParams{
			{Price: stripe.String(params.PriceID)},
		},
		PaymentBehavior: stripe.String(p.paymentBehavior),
		PaymentSettings: &stripe.SubscriptionCreatePaymentSettingsParams{
			SaveDefaultPaymentMethod: stripe.String("on_subscription"),
		},
	}
	if params.UserID != "" {
		createParams.AddMetadata(metadataUserID, params.UserID)
	}
	if params.IdempotencyKey != "" {
		createParams.SetIdempotencyKey(params.IdempotencyKey)
	}
	createParams.AddExpand("latest_invoice.confirmation_secret")
	createParams.AddExpand("items.data.price.product")

	sub, err := p.client.V1Subscriptions.Create(ctx, createParams)
	p.recordAPICall(endpoint, startTime, err)
	if err != nil {
		return nil, mapError("create_subscription", err)
	}

	return toSubscription(sub), nil
}

// RetrieveSubscription fetches a subscription with its price and product.
// A deleted subscription fails with billing.ErrResourceMissing.
func (p *Provider) RetrieveSubscription(ctx context.Context, subscriptionID string) (*billing.Subscription, error) {
	const endpoint = "/v1/subscriptions/{id}"
	startTime := time.Now()

	params := &stripe.SubscriptionRetrieveParams{}
	params.AddExpand("items.data.price.product")

	sub, err := p.client.V1Subscriptions.Retrieve(ctx, subscriptionID, params)
	p.recordAPICall(endpoint, startTime, err)
	if err != nil {
		return nil, mapError("retrieve_subscription", err)
	}

	return toSubscription(sub), nil
}

// CreatePortalSession creates a customer portal session and returns its URL.
func (p *Provider) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	const endpoint = "/v1/billing_portal/sessions"
	startTime := time.Now()

	params := &stripe.BillingPortalSessionCreateParams{
		Customer: stripe.String(customerID),
	}
	if returnURL != "" {
		params.ReturnURL = stripe.String(returnURL)
	}

	session, err := p.client.V1BillingPortalSessions.Create(ctx, params)
	p.recordAPICall(endpoint, startTime, err)
	if err != nil {
		return "", mapError("create_portal_session", err)
	}
	return session.URL, nil
}

func (p *Provider) recordAPICall(endpoint string, startTime time.Time, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	p.metrics.RecordAPICall(providerName, endpoint, result)
	p.metrics.RecordAPICallDuration(providerName, endpoint, time.Since(startTime))
}

var _ billing.Provider = (*Provider)(nil)
