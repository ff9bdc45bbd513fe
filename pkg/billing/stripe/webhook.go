package stripe

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v83"
	"github.com/stripe/stripe-go/v83/webhook"

	"github.com/mihaimyh/goonboard/pkg/billing"
)

// ParseWebhook verifies the Stripe-Signature header against the webhook
// secret and decodes the event. Events of kinds the synchronizer does not
// consume are returned with only their envelope fields set.
func (p *Provider) ParseWebhook(payload []byte, signatureHeader string) (*billing.Event, error) {
	if p.webhookSecret == "" {
		return nil, billing.ErrProviderNotConfigured
	}

	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, p.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		if isSignatureError(err) {
			return nil, fmt.Errorf("%w: %v", billing.ErrInvalidWebhookSignature, err)
		}
		return nil, fmt.Errorf("%w: %v", billing.ErrInvalidWebhookPayload, err)
	}

	return decodeEvent(&event)
}

func isSignatureError(err error) bool {
	return errors.Is(err, webhook.ErrNotSigned) ||
		errors.Is(err, webhook.ErrInvalidHeader) ||
		errors.Is(err, webhook.ErrNoValidSignature) ||
		errors.Is(err, webhook.ErrTooOld)
}

func decodeEvent(event *stripe.Event) (*billing.Event, error) {
	out := &billing.Event{
		ID:       event.ID,
		Kind:     billing.EventKind(event.Type),
		Provider: providerName,
	}
	if event.Created > 0 {
		out.Created = time.Unix(event.Created, 0).UTC()
	}

	if event.Data == nil {
		switch out.Kind {
		case billing.EventSubscriptionCreated, billing.EventSubscriptionUpdated, billing.EventSubscriptionDeleted,
			billing.EventInvoicePaymentSucceeded, billing.EventInvoicePaymentFailed:
			return nil, fmt.Errorf("%w: event %s has no data", billing.ErrInvalidWebhookPayload, event.ID)
		}
		return out, nil
	}

	switch out.Kind {
	case billing.EventSubscriptionCreated, billing.EventSubscriptionUpdated, billing.EventSubscriptionDeleted:
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil, fmt.Errorf("%w: failed to unmarshal subscription: %v", billing.ErrInvalidWebhookPayload, err)
		}
		out.Subscription = toSubscription(&sub)
		out.CustomerID = out.Subscription.CustomerID

	case billing.EventInvoicePaymentSucceeded, billing.EventInvoicePaymentFailed:
		var inv invoicePayload
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return nil, fmt.Errorf("%w: failed to unmarshal invoice: %v", billing.ErrInvalidWebhookPayload, err)
		}
		out.Invoice = inv.toInvoice()
		out.CustomerID = expandableID(inv.Customer)
	}
	return out, nil
}

// invoicePayload is the part of an invoice object read from webhooks. It is
// decoded by hand because the subscription reference moved under
// parent.subscription_details in newer API versions.
type invoicePayload struct {
	ID                string          `json:"id"`
	Customer          json.RawMessage `json:"customer"`
	Subscription      json.RawMessage `json:"subscription"`
	AmountPaid        int64           `json:"amount_paid"`
	Currency          string          `json:"currency"`
	StatusTransitions *struct {
		PaidAt int64 `json:"paid_at"`
	} `json:"status_transitions"`
	Parent *struct {
		SubscriptionDetails *struct {
			Subscription json.RawMessage `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
}

func (inv *invoicePayload) toInvoice() *billing.Invoice {
	out := &billing.Invoice{
		ID:             inv.ID,
		SubscriptionID: expandableID(inv.Subscription),
		AmountPaid:     inv.AmountPaid,
		Currency:       inv.Currency,
	}
	if out.SubscriptionID == "" && inv.Parent != nil && inv.Parent.SubscriptionDetails != nil {
		out.SubscriptionID = expandableID(inv.Parent.SubscriptionDetails.Subscription)
	}
	if inv.StatusTransitions != nil {
		out.PaidAt = unixPtr(inv.StatusTransitions.PaidAt)
	}
	return out
}

// expandableID returns the id of an expandable field, which Stripe sends
// either as a bare id string or as the expanded object.
func expandableID(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		return id
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.ID
	}
	return ""
}
