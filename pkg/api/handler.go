package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/mihaimyh/goonboard/pkg/internal"
	"github.com/mihaimyh/goonboard/pkg/onboarding"
)

// errMissingUser is returned when GetUserID yields nothing.
var errMissingUser = errors.New("user ID not found")

// Handler provides HTTP endpoints for the onboarding flow, the billing
// status and portal, and the billing provider webhook
type Handler struct {
	config  Config
	limiter *internal.RateLimiter
}

func newHandler(config Config) *Handler {
	return &Handler{
		config:  config,
		limiter: internal.NewRateLimiter(config.WebhookRateLimit, config.WebhookRateWindow),
	}
}

// userID resolves the caller. It writes a 401 and returns false when the
// request is not authenticated.
func (h *Handler) userID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := strings.TrimSpace(h.config.GetUserID(r))
	if userID == "" {
		h.handleError(w, r, errMissingUser)
		return "", false
	}
	return userID, true
}

// GetStatus returns the user's current step, next step and profile.
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	status, err := h.config.Machine.GetStatus(r.Context(), userID)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, status)
}

// SubmitBasicInfo handles POST /onboarding/user-info.
func (h *Handler) SubmitBasicInfo(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	var input onboarding.BasicInfoInput
	if err := internal.DecodeJSON(w, r, h.config.MaxBodyBytes, &input); err != nil {
		h.handleError(w, r, badRequest(err))
		return
	}

	result, err := h.config.Machine.SubmitBasicInfo(r.Context(), userID, input)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// SubmitAdditionalDetails handles POST /onboarding/additional-details.
func (h *Handler) SubmitAdditionalDetails(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	var input onboarding.AdditionalDetailsInput
	if err := internal.DecodeJSON(w, r, h.config.MaxBodyBytes, &input); err != nil {
		h.handleError(w, r, badRequest(err))
		return
	}

	result, err := h.config.Machine.SubmitAdditionalDetails(r.Context(), userID, input)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// SubmitPayment handles POST /onboarding/payment. The response carries the
// client secret the frontend uses to confirm the first payment.
func (h *Handler) SubmitPayment(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	var input onboarding.PaymentInput
	if err := internal.DecodeJSON(w, r, h.config.MaxBodyBytes, &input); err != nil {
		h.handleError(w, r, badRequest(err))
		return
	}

	result, err := h.config.Machine.SubmitPayment(r.Context(), userID, input)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// CompleteOnboarding handles POST /onboarding/complete.
func (h *Handler) CompleteOnboarding(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	result, err := h.config.Machine.CompleteOnboarding(r.Context(), userID)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// GetSubscription returns the live subscription status of the user.
func (h *Handler) GetSubscription(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	info, err := h.config.Synchronizer.GetSubscriptionStatus(r.Context(), userID)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, info)
}

// CreatePortalSession returns a customer portal URL for the user.
func (h *Handler) CreatePortalSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	var req PortalRequest
	if err := internal.DecodeJSON(w, r, h.config.MaxBodyBytes, &req); err != nil {
		h.handleError(w, r, badRequest(err))
		return
	}
	returnURL := strings.TrimSpace(req.ReturnURL)
	if returnURL == "" {
		returnURL = h.config.PortalReturnURL
	}

	url, err := h.config.Synchronizer.CreatePortalSession(r.Context(), userID, returnURL)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, PortalResponse{URL: url})
}

func (h *Handler) writeJSON(w http.ResponseWriter, code int, body any) {
	internal.SetSecurityHeaders(w)
	if err := internal.WriteJSON(w, code, body); err != nil {
		// Response already started
		h.config.Logger.Warn("Failed to encode response", onboarding.Field{Key: "error", Value: err})
	}
}

// handleError writes err through OnError when configured, otherwise as an
// ErrorResponse.
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	if h.config.OnError != nil {
		h.config.OnError(w, r, err)
		return
	}

	status, body := ErrorBody(err)
	if status >= http.StatusInternalServerError {
		h.config.Logger.Error("Request failed",
			onboarding.Field{Key: "method", Value: r.Method},
			onboarding.Field{Key: "path", Value: r.URL.Path},
			onboarding.Field{Key: "status", Value: status},
			onboarding.Field{Key: "error", Value: err},
		)
	}
	h.writeJSON(w, status, body)
}
