package stripe

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/mihaimyh/goonboard/pkg/billing"
)

// toSubscription converts a Stripe subscription. Billing period bounds live
// on the subscription items; the first item is the one the subscription was
// created with.
func toSubscription(sub *stripe.Subscription) *billing.Subscription {
	out := &billing.Subscription{
		ID:                sub.ID,
		Status:            billing.SubscriptionStatus(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
	}
	if sub.Created > 0 {
		out.Created = time.Unix(sub.Created, 0).UTC()
	}
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}

	if sub.Items != nil && len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		if item.Price != nil {
			out.PriceID = item.Price.ID
			if item.Price.Product != nil {
				out.ProductName = item.Price.Product.Name
			}
		}
		out.PeriodStart = unixPtr(item.CurrentPeriodStart)
		out.PeriodEnd = unixPtr(item.CurrentPeriodEnd)
	}

	if sub.LatestInvoice != nil && sub.LatestInvoice.ConfirmationSecret != nil {
		out.ClientSecret = sub.LatestInvoice.ConfirmationSecret.ClientSecret
	}
	return out
}

func unixPtr(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}

// mapError converts a Stripe SDK error into a *billing.Error.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &billing.Error{Op: op, Code: billing.CodeTimeout, Message: "stripe request timed out", Err: billing.ErrProviderTimeout}
	}

	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return &billing.Error{Op: op, Code: billing.CodeAPIError, Message: err.Error(), Err: err}
	}

	be := &billing.Error{
		Op:         op,
		Code:       string(stripeErr.Code),
		Message:    stripeErr.Msg,
		StatusCode: stripeErr.HTTPStatusCode,
		Err:        err,
	}
	switch {
	case stripeErr.Code == stripe.ErrorCodeResourceMissing:
		be.Code = billing.CodeResourceMissing
	case stripeErr.Type == stripe.ErrorTypeCard:
		be.Code = billing.CodeCardError
	case be.Code == "" && stripeErr.Type == stripe.ErrorTypeInvalidRequest:
		be.Code = billing.CodeInvalidRequest
	case be.Code == "":
		be.Code = billing.CodeAPIError
	}
	if be.Message == "" {
		be.Message = http.StatusText(be.StatusCode)
	}
	return be
}
