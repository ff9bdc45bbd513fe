package onboarding_test

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mihaimyh/goonboard/pkg/billing"
)

// fakeProvider is an in-process billing.Provider.
type fakeProvider struct {
	mu sync.Mutex

	customers        []billing.CustomerParams
	customerAttempts int
	subscriptions    map[string]*billing.Subscription
	created          []billing.SubscriptionParams
	portalCalls      []string

	createCustomerErr     error
	createSubscriptionErr error
	retrieveErr           error
	block                 chan struct{}

	now time.Time
	seq int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		subscriptions: make(map[string]*billing.Subscription),
		now:           time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) CreateCustomer(ctx context.Context, params billing.CustomerParams) (*billing.Customer, error) {
	if p.block != nil {
		select {
		case <-p.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.customerAttempts++
	if p.createCustomerErr != nil {
		return nil, p.createCustomerErr
	}
	p.customers = append(p.customers, params)
	return &billing.Customer{
		ID:     fmt.Sprintf("cus_%d", len(p.customers)),
		Email:  params.Email,
		Name:   params.Name,
		UserID: params.UserID,
	}, nil
}

func (p *fakeProvider) CreateSubscription(ctx context.Context, params billing.SubscriptionParams) (*billing.Subscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.createSubscriptionErr != nil {
		return nil, p.createSubscriptionErr
	}
	p.seq++
	p.created = append(p.created, params)
	start := p.now
	end := start.AddDate(0, 1, 0)
	sub := &billing.Subscription{
		ID:           fmt.Sprintf("sub_%d", p.seq),
		CustomerID:   params.CustomerID,
		Status:       billing.StatusIncomplete,
		PriceID:      params.PriceID,
		ProductName:  "Basic",
		PeriodStart:  &start,
		PeriodEnd:    &end,
		ClientSecret: fmt.Sprintf("pi_%d_secret", p.seq),
		Created:      p.now.Add(time.Duration(p.seq) * time.Second),
	}
	p.subscriptions[sub.ID] = sub
	cp := *sub
	return &cp, nil
}

func (p *fakeProvider) RetrieveSubscription(ctx context.Context, id string) (*billing.Subscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.retrieveErr != nil {
		return nil, p.retrieveErr
	}
	sub, ok := p.subscriptions[id]
	if !ok {
		return nil, &billing.Error{Op: "retrieve_subscription", Code: billing.CodeResourceMissing,
			StatusCode: 404, Message: "No such subscription", Err: billing.ErrResourceMissing}
	}
	cp := *sub
	return &cp, nil
}

func (p *fakeProvider) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.portalCalls = append(p.portalCalls, customerID)
	return "https://billing.example.com/session/" + customerID + "?return=" + returnURL, nil
}

func (p *fakeProvider) ParseWebhook(payload []byte, signatureHeader string) (*billing.Event, error) {
	return nil, billing.ErrInvalidWebhookSignature
}

func (p *fakeProvider) customerCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.customers)
}

func (p *fakeProvider) attempts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.customerAttempts
}

func (p *fakeProvider) setStatus(id string, status billing.SubscriptionStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if sub, ok := p.subscriptions[id]; ok {
		sub.Status = status
	}
}
