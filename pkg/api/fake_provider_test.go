package api

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/mihaimyh/goonboard/pkg/billing"
)

const testSignature = "sig-ok"

var providerNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// fakeProvider is an in-memory billing.Provider. Webhooks are plain JSON
// accepted when the signature header equals testSignature.
type fakeProvider struct {
	mu                    sync.Mutex
	seq                   int
	subscriptions         map[string]*billing.Subscription
	createSubscriptionErr error
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{subscriptions: make(map[string]*billing.Subscription)}
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) CreateCustomer(_ context.Context, params billing.CustomerParams) (*billing.Customer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	return &billing.Customer{ID: fmt.Sprintf("cus_%d", p.seq), Email: params.Email, Name: params.Name, UserID: params.UserID}, nil
}

func (p *fakeProvider) CreateSubscription(_ context.Context, params billing.SubscriptionParams) (*billing.Subscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.createSubscriptionErr != nil {
		return nil, p.createSubscriptionErr
	}
	p.seq++
	sub := &billing.Subscription{
		ID:           fmt.Sprintf("sub_%d", p.seq),
		CustomerID:   params.CustomerID,
		Status:       billing.StatusIncomplete,
		PriceID:      params.PriceID,
		ProductName:  "Pro",
		ClientSecret: fmt.Sprintf("pi_%d_secret", p.seq),
		Created:      providerNow.Add(time.Duration(p.seq) * time.Second),
	}
	p.subscriptions[sub.ID] = sub
	out := *sub
	return &out, nil
}

func (p *fakeProvider) RetrieveSubscription(_ context.Context, id string) (*billing.Subscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	sub, ok := p.subscriptions[id]
	if !ok {
		return nil, &billing.Error{Op: "retrieve_subscription", Code: billing.CodeResourceMissing, StatusCode: 404}
	}
	out := *sub
	out.ClientSecret = ""
	return &out, nil
}

func (p *fakeProvider) CreatePortalSession(_ context.Context, customerID, returnURL string) (string, error) {
	return "https://portal.example.com/" + customerID + "?return=" + returnURL, nil
}

func (p *fakeProvider) setStatus(id string, status billing.SubscriptionStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subscriptions[id].Status = status
}

type fakeWebhook struct {
	ID             string `json:"id"`
	Type           string `json:"type"`
	Customer       string `json:"customer"`
	SubscriptionID string `json:"subscription"`
	Status         string `json:"status"`
	Created        int64  `json:"created"`
}

func (p *fakeProvider) ParseWebhook(payload []byte, signatureHeader string) (*billing.Event, error) {
	if signatureHeader != testSignature {
		return nil, fmt.Errorf("%w: signature mismatch", billing.ErrInvalidWebhookSignature)
	}
	var wh fakeWebhook
	if err := json.Unmarshal(payload, &wh); err != nil {
		return nil, fmt.Errorf("%w: %v", billing.ErrInvalidWebhookPayload, err)
	}
	event := &billing.Event{
		ID:         wh.ID,
		Kind:       billing.EventKind(wh.Type),
		Provider:   p.Name(),
		CustomerID: wh.Customer,
		Created:    time.Unix(wh.Created, 0).UTC(),
	}
	if wh.SubscriptionID != "" {
		event.Subscription = &billing.Subscription{
			ID:         wh.SubscriptionID,
			CustomerID: wh.Customer,
			Status:     billing.SubscriptionStatus(wh.Status),
		}
	}
	return event, nil
}

var _ billing.Provider = (*fakeProvider)(nil)
