package api

import (
	"errors"
	"net/http"

	"github.com/mihaimyh/goonboard/pkg/billing"
	"github.com/mihaimyh/goonboard/pkg/internal"
	"github.com/mihaimyh/goonboard/pkg/onboarding"
)

// Error codes of ErrorResponse that are not billing.Error codes.
const (
	CodeValidationFailed      = "validation_failed"
	CodeStepOutOfOrder        = "step_out_of_order"
	CodeUnauthorized          = "unauthorized"
	CodeInvalidUserID         = "invalid_user_id"
	CodeInvalidRequest        = "invalid_request"
	CodePayloadTooLarge       = "payload_too_large"
	CodeNoBillingCustomer     = "no_billing_customer"
	CodeProviderNotConfigured = "provider_not_configured"
	CodeInvalidSignature      = "invalid_signature"
	CodeStorageUnavailable    = "storage_unavailable"
	CodeInternal              = "internal_error"
)

// requestError is a malformed request body.
type requestError struct {
	err error
}

func (e *requestError) Error() string { return e.err.Error() }
func (e *requestError) Unwrap() error { return e.err }

func badRequest(err error) error {
	return &requestError{err: err}
}

// ErrorBody maps err onto an HTTP status and response body. Provider
// failures keep their status when it is a client error; anything the caller
// cannot act on is reported without internal detail.
func ErrorBody(err error) (int, ErrorResponse) {
	if ve, ok := onboarding.AsValidationError(err); ok {
		return http.StatusBadRequest, ErrorResponse{
			Error:  "validation failed",
			Code:   CodeValidationFailed,
			Fields: ve.Fields,
		}
	}
	if se, ok := onboarding.AsSequenceError(err); ok {
		return http.StatusConflict, ErrorResponse{
			Error:    se.Error(),
			Code:     CodeStepOutOfOrder,
			NextStep: se.NextStep,
		}
	}

	var reqErr *requestError
	switch {
	case errors.Is(err, errMissingUser):
		return http.StatusUnauthorized, ErrorResponse{Error: "unauthorized", Code: CodeUnauthorized}
	case errors.Is(err, onboarding.ErrInvalidUserID):
		return http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: CodeInvalidUserID}
	case errors.Is(err, internal.ErrPayloadTooLarge):
		return http.StatusRequestEntityTooLarge, ErrorResponse{Error: "payload too large", Code: CodePayloadTooLarge}
	case errors.As(err, &reqErr):
		return http.StatusBadRequest, ErrorResponse{Error: reqErr.Error(), Code: CodeInvalidRequest}
	case errors.Is(err, onboarding.ErrNoBillingCustomer):
		return http.StatusConflict, ErrorResponse{Error: err.Error(), Code: CodeNoBillingCustomer}
	case errors.Is(err, billing.ErrInvalidWebhookSignature):
		return http.StatusBadRequest, ErrorResponse{Error: "invalid webhook signature", Code: CodeInvalidSignature}
	case errors.Is(err, billing.ErrInvalidWebhookPayload):
		return http.StatusBadRequest, ErrorResponse{Error: "invalid webhook payload", Code: CodeInvalidRequest}
	case errors.Is(err, billing.ErrProviderNotConfigured):
		return http.StatusServiceUnavailable, ErrorResponse{Error: "billing is not configured", Code: CodeProviderNotConfigured}
	}

	if be, ok := billing.AsError(err); ok {
		status := be.HTTPStatus()
		msg := be.Message
		if status >= http.StatusInternalServerError {
			msg = "billing provider error"
			switch be.Code {
			case billing.CodeTimeout:
				msg = "billing provider timed out"
			case billing.CodeProviderUnavailable:
				msg = "billing provider unavailable"
			}
		}
		return status, ErrorResponse{Error: msg, Code: be.Code}
	}

	if errors.Is(err, onboarding.ErrStorageUnavailable) {
		return http.StatusServiceUnavailable, ErrorResponse{Error: "storage unavailable", Code: CodeStorageUnavailable}
	}
	return http.StatusInternalServerError, ErrorResponse{Error: "internal server error", Code: CodeInternal}
}

// WriteError writes err as an ErrorResponse. It is the default used by the
// handler and is exported for framework adapters.
func WriteError(w http.ResponseWriter, err error) {
	status, body := ErrorBody(err)
	internal.SetSecurityHeaders(w)
	_ = internal.WriteJSON(w, status, body)
}
