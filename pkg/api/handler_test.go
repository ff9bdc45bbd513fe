package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/goonboard/pkg/billing"
	"github.com/mihaimyh/goonboard/pkg/onboarding"
	"github.com/mihaimyh/goonboard/storage/memory"
)

const (
	testUserID     = "user123"
	userHeader     = "X-User-ID"
	testPriceID    = "price_pro_monthly"
	basicInfoJSON  = `{"fullName":"Jane Doe","email":"jane@x.com","phone":"+1 555 010 2030","companyName":"Acme Travel"}`
	detailsJSON    = `{"industry":"travel","companySize":"11-50","role":"founder","goals":["bookings","reporting"]}`
	paymentJSON    = `{"priceId":"price_pro_monthly"}`
	testCustomerID = "cus_1"
)

type testServer struct {
	storage  *memory.Storage
	provider *fakeProvider
	handler  *Handler
	router   http.Handler
}

func newTestServer(t *testing.T, mutate ...func(*Config)) *testServer {
	t.Helper()
	store := memory.New()
	provider := newFakeProvider()
	sync := onboarding.NewSynchronizer(store, provider, onboarding.SyncConfig{})
	machine, err := onboarding.NewMachine(store, onboarding.Config{Billing: sync})
	require.NoError(t, err)

	config := Config{
		Machine:         machine,
		Synchronizer:    sync,
		Provider:        provider,
		GetUserID:       FromHeader(userHeader),
		PortalReturnURL: "https://app.example.com/settings",
	}
	for _, m := range mutate {
		m(&config)
	}
	handler, err := NewHandler(config)
	require.NoError(t, err)

	return &testServer{storage: store, provider: provider, handler: handler, router: handler.Routes()}
}

func (s *testServer) do(method, path, userID, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if userID != "" {
		req.Header.Set(userHeader, userID)
	}
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) webhook(signature, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/billing", strings.NewReader(body))
	req.Header.Set(defaultSignatureHeader, signature)
	req.RemoteAddr = "192.0.2.10:4321"
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func subscriptionWebhook(kind, customerID, subscriptionID, status string) string {
	return fmt.Sprintf(`{"id":"evt_1","type":%q,"customer":%q,"subscription":%q,"status":%q,"created":%d}`,
		kind, customerID, subscriptionID, status, providerNow.Add(3600e9).Unix())
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestHandler_FullFlow(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodGet, "/onboarding/status", testUserID, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	status := decode[onboarding.Status](t, w)
	assert.Equal(t, onboarding.StepNotStarted, status.CurrentStep)
	assert.Equal(t, onboarding.StepBasicInfo, status.NextStep)
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))

	w = s.do(http.MethodPost, "/onboarding/user-info", testUserID, basicInfoJSON)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	step := decode[onboarding.StepResult](t, w)
	assert.Equal(t, onboarding.StepAdditionalDetails, step.NextStep)
	assert.Equal(t, "Jane Doe", step.Profile.FullName)

	w = s.do(http.MethodPost, "/onboarding/additional-details", testUserID, detailsJSON)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	step = decode[onboarding.StepResult](t, w)
	assert.Equal(t, onboarding.StepPayment, step.NextStep)
	assert.Equal(t, testCustomerID, step.Profile.BillingCustomerID)

	w = s.do(http.MethodPost, "/onboarding/payment", testUserID, paymentJSON)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	payment := decode[onboarding.PaymentResult](t, w)
	assert.NotEmpty(t, payment.ClientSecret)
	assert.NotEmpty(t, payment.SubscriptionID)
	assert.Equal(t, onboarding.StepPayment, payment.NextStep)

	// Not paid yet
	w = s.do(http.MethodPost, "/onboarding/complete", testUserID, "")
	require.Equal(t, http.StatusConflict, w.Code, w.Body.String())
	assert.Equal(t, onboarding.StepPayment, decode[ErrorResponse](t, w).NextStep)

	s.provider.setStatus(payment.SubscriptionID, billing.StatusActive)
	w = s.webhook(testSignature, subscriptionWebhook(string(billing.EventSubscriptionUpdated),
		testCustomerID, payment.SubscriptionID, string(billing.StatusActive)))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, decode[WebhookResponse](t, w).Received)

	w = s.do(http.MethodPost, "/onboarding/complete", testUserID, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	step = decode[onboarding.StepResult](t, w)
	assert.Equal(t, onboarding.StepCompleted, step.NextStep)
	assert.True(t, step.Profile.OnboardingComplete)

	w = s.do(http.MethodGet, "/billing/subscription", testUserID, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	info := decode[onboarding.SubscriptionInfo](t, w)
	assert.True(t, info.Active)
	assert.Equal(t, payment.SubscriptionID, info.SubscriptionID)
	assert.Equal(t, testPriceID, info.PriceID)

	// Submitting a step after completion is a sequence error
	w = s.do(http.MethodPost, "/onboarding/user-info", testUserID, basicInfoJSON)
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, onboarding.StepCompleted, decode[ErrorResponse](t, w).NextStep)
}

func TestHandler_MissingUser(t *testing.T) {
	s := newTestServer(t)

	for _, path := range []string{"/onboarding/status", "/billing/subscription"} {
		w := s.do(http.MethodGet, path, "", "")
		assert.Equal(t, http.StatusUnauthorized, w.Code, path)
		assert.Equal(t, CodeUnauthorized, decode[ErrorResponse](t, w).Code)
	}

	w := s.do(http.MethodPost, "/onboarding/user-info", "   ", basicInfoJSON)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHandler_InvalidUserID(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodGet, "/onboarding/status", strings.Repeat("u", 300), "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, CodeInvalidUserID, decode[ErrorResponse](t, w).Code)
}

func TestHandler_ValidationFailure(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodPost, "/onboarding/user-info", testUserID,
		`{"fullName":"Jane Doe","email":"not-an-email","phone":"+1 555 010 2030","companyName":""}`)
	require.Equal(t, http.StatusBadRequest, w.Code)

	body := decode[ErrorResponse](t, w)
	assert.Equal(t, CodeValidationFailed, body.Code)
	fields := make([]string, 0, len(body.Fields))
	for _, f := range body.Fields {
		fields = append(fields, f.Field)
	}
	assert.ElementsMatch(t, []string{"email", "companyName"}, fields)

	// Nothing was written
	assert.Equal(t, 0, s.storage.Len())
}

func TestHandler_OutOfOrder(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodPost, "/onboarding/additional-details", testUserID, detailsJSON)
	require.Equal(t, http.StatusConflict, w.Code)
	body := decode[ErrorResponse](t, w)
	assert.Equal(t, CodeStepOutOfOrder, body.Code)
	assert.Equal(t, onboarding.StepBasicInfo, body.NextStep)

	w = s.do(http.MethodPost, "/onboarding/payment", testUserID, paymentJSON)
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, onboarding.StepBasicInfo, decode[ErrorResponse](t, w).NextStep)
}

func TestHandler_MalformedBody(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"unknown field", `{"fullName":"Jane","admin":true}`},
		{"syntax error", `{"fullName":`},
		{"trailing data", basicInfoJSON + `{}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(http.MethodPost, "/onboarding/user-info", testUserID, tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, CodeInvalidRequest, decode[ErrorResponse](t, w).Code)
		})
	}
}

func TestHandler_BodyTooLarge(t *testing.T) {
	s := newTestServer(t, func(c *Config) { c.MaxBodyBytes = 64 })

	w := s.do(http.MethodPost, "/onboarding/user-info", testUserID, basicInfoJSON)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Equal(t, CodePayloadTooLarge, decode[ErrorResponse](t, w).Code)
}

func TestHandler_PaymentProviderError(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/onboarding/user-info", testUserID, basicInfoJSON).Code)
	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/onboarding/additional-details", testUserID, detailsJSON).Code)

	s.provider.createSubscriptionErr = &billing.Error{
		Op: "create_subscription", Code: billing.CodeCardError, Message: "Your card was declined.", StatusCode: http.StatusPaymentRequired,
	}
	w := s.do(http.MethodPost, "/onboarding/payment", testUserID, paymentJSON)
	require.Equal(t, http.StatusPaymentRequired, w.Code)
	body := decode[ErrorResponse](t, w)
	assert.Equal(t, billing.CodeCardError, body.Code)
	assert.Equal(t, "Your card was declined.", body.Error)

	s.provider.createSubscriptionErr = &billing.Error{
		Op: "create_subscription", Code: billing.CodeAPIError, Message: "upstream exploded", StatusCode: http.StatusInternalServerError,
	}
	w = s.do(http.MethodPost, "/onboarding/payment", testUserID, paymentJSON)
	require.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, "billing provider error", decode[ErrorResponse](t, w).Error)

	// The record did not move and the user can retry
	s.provider.createSubscriptionErr = nil
	w = s.do(http.MethodPost, "/onboarding/payment", testUserID, paymentJSON)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestHandler_GetSubscription_NoSubscription(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodGet, "/billing/subscription", testUserID, "")
	require.Equal(t, http.StatusOK, w.Code)
	info := decode[onboarding.SubscriptionInfo](t, w)
	assert.False(t, info.Active)
	assert.Empty(t, info.SubscriptionID)
}

func TestHandler_CreatePortalSession(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodPost, "/billing/portal", testUserID, "")
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, CodeNoBillingCustomer, decode[ErrorResponse](t, w).Code)

	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/onboarding/user-info", testUserID, basicInfoJSON).Code)
	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/onboarding/additional-details", testUserID, detailsJSON).Code)

	w = s.do(http.MethodPost, "/billing/portal", testUserID, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "https://portal.example.com/cus_1?return=https://app.example.com/settings", decode[PortalResponse](t, w).URL)

	w = s.do(http.MethodPost, "/billing/portal", testUserID, `{"returnUrl":"https://app.example.com/done"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "https://portal.example.com/cus_1?return=https://app.example.com/done", decode[PortalResponse](t, w).URL)
}

func TestHandler_WithoutSynchronizer(t *testing.T) {
	s := newTestServer(t, func(c *Config) {
		c.Synchronizer = nil
		c.Provider = nil
	})

	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/billing/subscription", testUserID, "").Code)
	assert.Equal(t, http.StatusNotFound, s.webhook(testSignature, `{}`).Code)
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/onboarding/status", testUserID, "").Code)
}

func TestHandler_Middleware(t *testing.T) {
	var calls int
	s := newTestServer(t, func(c *Config) {
		c.Middleware = []func(http.Handler) http.Handler{
			func(next http.Handler) http.Handler {
				return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					calls++
					next.ServeHTTP(w, r)
				})
			},
		}
	})

	s.do(http.MethodGet, "/onboarding/status", testUserID, "")
	s.do(http.MethodGet, "/billing/subscription", testUserID, "")
	s.webhook(testSignature, subscriptionWebhook("customer.created", "cus_x", "", ""))
	assert.Equal(t, 2, calls, "webhook must bypass user middleware")
}

func TestHandler_OnError(t *testing.T) {
	var got error
	s := newTestServer(t, func(c *Config) {
		c.OnError = func(w http.ResponseWriter, _ *http.Request, err error) {
			got = err
			w.WriteHeader(http.StatusTeapot)
		}
	})

	w := s.do(http.MethodPost, "/onboarding/additional-details", testUserID, detailsJSON)
	assert.Equal(t, http.StatusTeapot, w.Code)
	_, ok := onboarding.AsSequenceError(got)
	assert.True(t, ok)
}

func TestNewHandler_InvalidConfig(t *testing.T) {
	store := memory.New()
	machine, err := onboarding.NewMachine(store, onboarding.Config{})
	require.NoError(t, err)
	sync := onboarding.NewSynchronizer(store, nil, onboarding.SyncConfig{})

	tests := []struct {
		name   string
		config Config
	}{
		{"missing machine", Config{GetUserID: FromHeader(userHeader)}},
		{"missing user extractor", Config{Machine: machine}},
		{"synchronizer without provider", Config{Machine: machine, GetUserID: FromHeader(userHeader), Synchronizer: sync}},
		{"negative limit", Config{Machine: machine, GetUserID: FromHeader(userHeader), MaxBodyBytes: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewHandler(tt.config)
			assert.Error(t, err)
		})
	}
}

func TestErrorBody(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"timeout", &billing.Error{Code: billing.CodeTimeout, Err: billing.ErrProviderTimeout}, http.StatusGatewayTimeout, billing.CodeTimeout},
		{"breaker open", &billing.Error{Code: billing.CodeProviderUnavailable}, http.StatusServiceUnavailable, billing.CodeProviderUnavailable},
		{"not configured", billing.ErrProviderNotConfigured, http.StatusServiceUnavailable, CodeProviderNotConfigured},
		{"storage", fmt.Errorf("load: %w", onboarding.ErrStorageUnavailable), http.StatusServiceUnavailable, CodeStorageUnavailable},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, CodeInternal},
		{"bad signature", fmt.Errorf("%w: x", billing.ErrInvalidWebhookSignature), http.StatusBadRequest, CodeInvalidSignature},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := ErrorBody(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, body.Code)
			assert.NotContains(t, body.Error, "boom")
		})
	}
}

func TestFromContext(t *testing.T) {
	type key struct{}
	extract := FromContext(key{})

	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	assert.Empty(t, extract(req))

	req = req.WithContext(context.WithValue(req.Context(), key{}, "u1"))
	assert.Equal(t, "u1", extract(req))
}

func TestWriteError(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, &onboarding.SequenceError{Attempted: onboarding.StepPayment, NextStep: onboarding.StepAdditionalDetails})

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.True(t, bytes.Contains(w.Body.Bytes(), []byte(`"nextStep":"ADDITIONAL_DETAILS"`)))
}
