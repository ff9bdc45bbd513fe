package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/mihaimyh/goonboard/pkg/billing"
	"github.com/mihaimyh/goonboard/pkg/internal"
	"github.com/mihaimyh/goonboard/pkg/onboarding"
)

// Webhook verifies a provider webhook and applies it. Verification failures
// are rejected before anything is dispatched. Events that match no user are
// acknowledged so the provider stops retrying them; processing failures
// return 500 so it retries.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	provider := h.config.Provider.Name()

	body, err := internal.ReadBodyStrict(w, r, h.config.MaxWebhookBytes)
	if err != nil {
		h.config.Metrics.RecordWebhookError(provider, "invalid_payload")
		if !errors.Is(err, internal.ErrPayloadTooLarge) {
			err = badRequest(err)
		}
		h.handleError(w, r, err)
		return
	}

	event, err := h.config.Provider.ParseWebhook(body, r.Header.Get(h.config.SignatureHeader))
	if err != nil {
		errorType := "invalid_payload"
		if errors.Is(err, billing.ErrInvalidWebhookSignature) {
			errorType = "auth_failed"
		}
		h.config.Metrics.RecordWebhookError(provider, errorType)
		h.config.Logger.Warn("Rejected webhook",
			onboarding.Field{Key: "reason", Value: errorType},
			onboarding.Field{Key: "error", Value: err},
		)
		h.handleError(w, r, err)
		return
	}

	eventType := string(event.Kind)
	defer func() {
		h.config.Metrics.RecordWebhookProcessingDuration(provider, eventType, time.Since(start))
	}()

	if err := h.config.Synchronizer.HandleEvent(r.Context(), event); err != nil {
		h.config.Metrics.RecordWebhookEvent(provider, eventType, "error")
		h.config.Metrics.RecordWebhookError(provider, "processing_error")
		h.handleError(w, r, err)
		return
	}

	h.config.Metrics.RecordWebhookEvent(provider, eventType, "success")
	h.writeJSON(w, http.StatusOK, WebhookResponse{Received: true})
}
