package api

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/goonboard/pkg/billing"
)

// recordingMetrics captures billing.Metrics webhook calls.
type recordingMetrics struct {
	billing.NoopMetrics
	events    []string
	errors    []string
	durations int
}

func (m *recordingMetrics) RecordWebhookEvent(_, eventType, status string) {
	m.events = append(m.events, eventType+":"+status)
}

func (m *recordingMetrics) RecordWebhookError(_, errorType string) {
	m.errors = append(m.errors, errorType)
}

func (m *recordingMetrics) RecordWebhookProcessingDuration(_, _ string, _ time.Duration) {
	m.durations++
}

func TestWebhook_InvalidSignature(t *testing.T) {
	metrics := &recordingMetrics{}
	s := newTestServer(t, func(c *Config) { c.Metrics = metrics })

	w := s.webhook("forged", subscriptionWebhook(string(billing.EventSubscriptionUpdated), testCustomerID, "sub_1", "active"))
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, CodeInvalidSignature, decode[ErrorResponse](t, w).Code)
	assert.Equal(t, []string{"auth_failed"}, metrics.errors)
	assert.Empty(t, metrics.events)
	assert.Equal(t, 0, s.storage.Len())
}

func TestWebhook_MalformedPayload(t *testing.T) {
	metrics := &recordingMetrics{}
	s := newTestServer(t, func(c *Config) { c.Metrics = metrics })

	w := s.webhook(testSignature, `{"type":`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, []string{"invalid_payload"}, metrics.errors)

	w = s.webhook(testSignature, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWebhook_PayloadTooLarge(t *testing.T) {
	s := newTestServer(t, func(c *Config) { c.MaxWebhookBytes = 32 })

	w := s.webhook(testSignature, subscriptionWebhook(string(billing.EventSubscriptionUpdated), testCustomerID, "sub_1", "active"))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestWebhook_UnmatchedCustomerAcknowledged(t *testing.T) {
	metrics := &recordingMetrics{}
	s := newTestServer(t, func(c *Config) { c.Metrics = metrics })

	kinds := []billing.EventKind{
		billing.EventSubscriptionCreated,
		billing.EventSubscriptionUpdated,
		billing.EventSubscriptionDeleted,
		billing.EventInvoicePaymentSucceeded,
		billing.EventInvoicePaymentFailed,
	}
	for _, kind := range kinds {
		w := s.webhook(testSignature, subscriptionWebhook(string(kind), "cus_unknown", "sub_9", "active"))
		assert.Equal(t, http.StatusOK, w.Code, string(kind))
	}
	assert.Equal(t, 0, s.storage.Len())
	assert.Len(t, metrics.events, len(kinds))
	assert.Equal(t, len(kinds), metrics.durations)
	for _, e := range metrics.events {
		assert.True(t, strings.HasSuffix(e, ":success"), e)
	}
}

func TestWebhook_RateLimited(t *testing.T) {
	s := newTestServer(t, func(c *Config) {
		c.WebhookRateLimit = 1
		c.WebhookRateWindow = time.Hour
	})

	body := subscriptionWebhook("customer.created", "cus_x", "", "")
	assert.Equal(t, http.StatusOK, s.webhook(testSignature, body).Code)

	w := s.webhook(testSignature, body)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
}
