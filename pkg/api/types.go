package api

import "github.com/mihaimyh/goonboard/pkg/onboarding"

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error    string                  `json:"error"`
	Code     string                  `json:"code"`
	Fields   []onboarding.FieldError `json:"fields,omitempty"`
	NextStep onboarding.Step         `json:"nextStep,omitempty"`
}

// PortalRequest is the optional body of POST /billing/portal.
type PortalRequest struct {
	ReturnURL string `json:"returnUrl,omitempty"`
}

// PortalResponse carries the customer portal redirect URL.
type PortalResponse struct {
	URL string `json:"url"`
}

// WebhookResponse acknowledges a processed webhook.
type WebhookResponse struct {
	Received bool `json:"received"`
}
