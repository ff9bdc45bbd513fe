package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Endpoint is one route of the API with its middleware already applied.
// Framework adapters register Endpoints on their own routers.
type Endpoint struct {
	Method  string
	Path    string
	Handler http.Handler

	// Public is true for routes that do not identify a user (the webhook).
	Public bool
}

// Endpoints lists the API routes:
//
//	GET  /onboarding/status
//	POST /onboarding/user-info
//	POST /onboarding/additional-details
//	POST /onboarding/payment
//	POST /onboarding/complete
//	GET  /billing/subscription
//	POST /billing/portal
//	POST /webhooks/billing
//
// The billing routes and the webhook are only included when a Synchronizer
// is configured. Config.Middleware wraps every route except the webhook,
// which is rate limited per client IP instead.
func (h *Handler) Endpoints() []Endpoint {
	endpoints := []Endpoint{
		{Method: http.MethodGet, Path: "/onboarding/status", Handler: h.authenticated(h.GetStatus)},
		{Method: http.MethodPost, Path: "/onboarding/user-info", Handler: h.authenticated(h.SubmitBasicInfo)},
		{Method: http.MethodPost, Path: "/onboarding/additional-details", Handler: h.authenticated(h.SubmitAdditionalDetails)},
		{Method: http.MethodPost, Path: "/onboarding/payment", Handler: h.authenticated(h.SubmitPayment)},
		{Method: http.MethodPost, Path: "/onboarding/complete", Handler: h.authenticated(h.CompleteOnboarding)},
	}
	if h.config.Synchronizer == nil {
		return endpoints
	}
	return append(endpoints,
		Endpoint{Method: http.MethodGet, Path: "/billing/subscription", Handler: h.authenticated(h.GetSubscription)},
		Endpoint{Method: http.MethodPost, Path: "/billing/portal", Handler: h.authenticated(h.CreatePortalSession)},
		Endpoint{Method: http.MethodPost, Path: "/webhooks/billing", Handler: h.limiter.Middleware(http.HandlerFunc(h.Webhook)), Public: true},
	)
}

func (h *Handler) authenticated(fn http.HandlerFunc) http.Handler {
	var handler http.Handler = fn
	for i := len(h.config.Middleware) - 1; i >= 0; i-- {
		handler = h.config.Middleware[i](handler)
	}
	return handler
}

// Routes returns a chi router serving Endpoints.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	for _, e := range h.Endpoints() {
		r.Method(e.Method, e.Path, e.Handler)
	}
	return r
}
