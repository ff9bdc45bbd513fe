package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/mihaimyh/goonboard/pkg/billing"
	"github.com/mihaimyh/goonboard/pkg/onboarding"
)

const (
	defaultMaxBodyBytes      = 64 << 10
	defaultMaxWebhookBytes   = 256 << 10
	defaultWebhookRateLimit  = 100
	defaultWebhookRateWindow = time.Minute
	defaultSignatureHeader   = "Stripe-Signature"
)

// Config holds configuration for the onboarding API handler
type Config struct {
	// Machine runs the onboarding steps (required)
	Machine *onboarding.Machine

	// Synchronizer serves the billing endpoints and applies webhook events.
	// If nil, the billing routes and the webhook are not mounted.
	Synchronizer *onboarding.Synchronizer

	// Provider verifies and decodes webhook payloads (required with Synchronizer)
	Provider billing.Provider

	// GetUserID extracts the authenticated user ID from the request (required).
	// Typically middleware/http.UserIDFromRequest behind its Authenticate middleware.
	GetUserID func(*http.Request) string

	// Middleware is applied to every route except the webhook, which
	// authenticates through its signature instead.
	Middleware []func(http.Handler) http.Handler

	// PortalReturnURL is used when a portal request carries no returnUrl
	PortalReturnURL string

	// SignatureHeader is the webhook signature header. Default: "Stripe-Signature"
	SignatureHeader string

	// MaxBodyBytes caps JSON request bodies. Default: 64 KiB
	MaxBodyBytes int64

	// MaxWebhookBytes caps webhook payloads. Default: 256 KiB
	MaxWebhookBytes int64

	// WebhookRateLimit is the number of webhook requests allowed per client IP
	// in each WebhookRateWindow. Default: 100 per minute
	WebhookRateLimit  int
	WebhookRateWindow time.Duration

	// OnError replaces the default JSON error responses.
	// If nil, errors are mapped by WriteError.
	OnError func(http.ResponseWriter, *http.Request, error)

	// Logger is optional. Defaults to onboarding.NoopLogger.
	Logger onboarding.Logger

	// Metrics records webhook processing. Defaults to billing.NoopMetrics.
	Metrics billing.Metrics
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Machine == nil {
		return fmt.Errorf("machine is required")
	}
	if c.GetUserID == nil {
		return fmt.Errorf("getUserID is required")
	}
	if c.Synchronizer != nil && c.Provider == nil {
		return fmt.Errorf("provider is required when synchronizer is set")
	}
	if c.MaxBodyBytes < 0 || c.MaxWebhookBytes < 0 {
		return fmt.Errorf("body limits must not be negative")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.SignatureHeader == "" {
		c.SignatureHeader = defaultSignatureHeader
	}
	if c.MaxBodyBytes == 0 {
		c.MaxBodyBytes = defaultMaxBodyBytes
	}
	if c.MaxWebhookBytes == 0 {
		c.MaxWebhookBytes = defaultMaxWebhookBytes
	}
	if c.WebhookRateLimit <= 0 {
		c.WebhookRateLimit = defaultWebhookRateLimit
	}
	if c.WebhookRateWindow <= 0 {
		c.WebhookRateWindow = defaultWebhookRateWindow
	}
	if c.Logger == nil {
		c.Logger = &onboarding.NoopLogger{}
	}
	if c.Metrics == nil {
		c.Metrics = &billing.NoopMetrics{}
	}
}

// NewHandler creates a new onboarding API handler with the given configuration
func NewHandler(config Config) (*Handler, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	config.applyDefaults()
	return newHandler(config), nil
}

// Helper functions for common UserID extraction patterns

// FromHeader returns a GetUserID function that extracts user ID from a header
func FromHeader(headerName string) func(*http.Request) string {
	return func(r *http.Request) string {
		return r.Header.Get(headerName)
	}
}

// FromContext returns a GetUserID function that extracts user ID from request context
func FromContext(key interface{}) func(*http.Request) string {
	return func(r *http.Request) string {
		if userID, ok := r.Context().Value(key).(string); ok {
			return userID
		}
		return ""
	}
}
