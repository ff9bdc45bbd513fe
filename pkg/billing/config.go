package billing

import (
	"net/http"
	"time"
)

// Config defines the standard configuration all providers should accept
type Config struct {
	// APIKey is used for outbound API calls to the billing provider.
	APIKey string

	// WebhookSecret is used to verify incoming webhook signatures.
	WebhookSecret string

	// HTTPClient is an optional HTTP client for API calls.
	// If nil, a default client with Timeout will be used.
	// Allows custom timeouts, proxies, or instrumentation (e.g., OpenTelemetry).
	HTTPClient *http.Client

	// Timeout bounds every HTTP request made to the provider.
	// Defaults to 10s.
	Timeout time.Duration

	// Metrics is an optional metrics collector for tracking billing provider operations.
	// If nil, metrics will be silently ignored (no-op).
	Metrics Metrics
}
