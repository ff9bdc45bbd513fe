package onboarding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/mihaimyh/goonboard/pkg/billing"
)

const defaultProviderTimeout = 15 * time.Second

// SyncConfig holds configuration for the Synchronizer.
type SyncConfig struct {
	// ProviderTimeout bounds every billing provider call. Defaults to 15s.
	ProviderTimeout time.Duration

	// CircuitBreaker is optional. When set, provider calls fail fast with
	// billing.ErrProviderUnavailable while it is open.
	CircuitBreaker *billing.CircuitBreaker

	// Logger is optional. Defaults to NoopLogger.
	Logger Logger

	// Metrics is optional. Defaults to NoopMetrics.
	Metrics Metrics
}

// Synchronizer keeps the local subscription mirror in step with the billing
// provider. It creates customers and subscriptions on behalf of the state
// machine and reconciles provider webhook events.
type Synchronizer struct {
	storage  Storage
	provider billing.Provider
	breaker  *billing.CircuitBreaker
	timeout  time.Duration
	logger   Logger
	metrics  Metrics

	customers singleflight.Group
}

// NewSynchronizer creates a new Synchronizer.
func NewSynchronizer(storage Storage, provider billing.Provider, config SyncConfig) *Synchronizer {
	if config.ProviderTimeout <= 0 {
		config.ProviderTimeout = defaultProviderTimeout
	}
	if config.Logger == nil {
		config.Logger = &NoopLogger{}
	}
	if config.Metrics == nil {
		config.Metrics = &NoopMetrics{}
	}
	return &Synchronizer{
		storage:  storage,
		provider: provider,
		breaker:  config.CircuitBreaker,
		timeout:  config.ProviderTimeout,
		logger:   config.Logger,
		metrics:  config.Metrics,
	}
}

// call runs fn against the provider under the configured timeout and circuit
// breaker, normalizing every failure into a *billing.Error.
func (s *Synchronizer) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if s.provider == nil {
		return &billing.Error{Op: op, Code: billing.CodeProviderUnavailable,
			Message: "no billing provider configured", Err: billing.ErrProviderNotConfigured}
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	return s.breaker.Execute(op, func() error {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return &billing.Error{
				Op:      op,
				Code:    billing.CodeTimeout,
				Message: fmt.Sprintf("%s did not respond within %s", s.provider.Name(), s.timeout),
				Err:     billing.ErrProviderTimeout,
			}
		}
		if _, ok := billing.AsError(err); ok {
			return err
		}
		return &billing.Error{Op: op, Code: billing.CodeAPIError, Message: err.Error(), Err: err}
	})
}

// CreateCustomer creates a provider customer tagged with the user id and
// stores its id on the record. It does not check whether the user already has
// a customer; use EnsureCustomer for create-if-absent.
//
// If another request attached a different customer first, the stored id is
// kept, the new provider customer is logged as orphaned and
// ErrBillingCustomerConflict is returned along with it.
func (s *Synchronizer) CreateCustomer(ctx context.Context, rec *Record) (*billing.Customer, error) {
	cust, err := s.newCustomer(ctx, rec)
	if err != nil {
		return nil, err
	}

	stored, err := s.attachCustomer(ctx, rec.UserID, cust.ID)
	if err != nil {
		return cust, err
	}
	if stored != cust.ID {
		return cust, fmt.Errorf("%w: user %s already has customer %s", ErrBillingCustomerConflict, rec.UserID, stored)
	}
	return cust, nil
}

func (s *Synchronizer) newCustomer(ctx context.Context, rec *Record) (*billing.Customer, error) {
	var cust *billing.Customer
	err := s.call(ctx, "create_customer", func(ctx context.Context) error {
		var err error
		cust, err = s.provider.CreateCustomer(ctx, billing.CustomerParams{
			UserID: rec.UserID,
			Email:  rec.Email,
			Name:   rec.FullName,
		})
		return err
	})
	return cust, err
}

// attachCustomer writes customerID onto the record unless one is already set,
// and returns the id that ended up stored.
func (s *Synchronizer) attachCustomer(ctx context.Context, userID, customerID string) (string, error) {
	start := time.Now()
	updated, err := s.storage.UpdateRecord(ctx, userID, func(r *Record) error {
		if r.BillingCustomerID != "" {
			return ErrNoChange
		}
		r.BillingCustomerID = customerID
		return nil
	})
	s.metrics.RecordStorageOperation("attach_customer", time.Since(start), err)
	if err != nil {
		s.logger.Error("Failed to store billing customer; provider customer is orphaned",
			Field{Key: "user_id", Value: userID},
			Field{Key: "customer_id", Value: customerID},
			Field{Key: "error", Value: err.Error()},
		)
		return "", fmt.Errorf("store billing customer: %w", err)
	}
	if updated.BillingCustomerID != customerID {
		s.logger.Warn("Concurrent customer creation lost the race; provider customer is orphaned",
			Field{Key: "user_id", Value: userID},
			Field{Key: "orphan_customer_id", Value: customerID},
			Field{Key: "customer_id", Value: updated.BillingCustomerID},
		)
	}
	return updated.BillingCustomerID, nil
}

// EnsureCustomer returns the user's billing customer id, creating the
// customer if the record has none. Concurrent calls for one user in this
// process share a single provider call; across processes the storage
// compare-and-set keeps the first stored id.
func (s *Synchronizer) EnsureCustomer(ctx context.Context, rec *Record) (string, error) {
	if rec.BillingCustomerID != "" {
		return rec.BillingCustomerID, nil
	}

	v, err, _ := s.customers.Do(rec.UserID, func() (interface{}, error) {
		current, err := s.storage.GetRecord(ctx, rec.UserID)
		switch {
		case err == nil && current.BillingCustomerID != "":
			return current.BillingCustomerID, nil
		case err != nil && !errors.Is(err, ErrRecordNotFound):
			return "", fmt.Errorf("load record: %w", err)
		}

		cust, err := s.newCustomer(ctx, rec)
		if err != nil {
			return "", err
		}
		return s.attachCustomer(ctx, rec.UserID, cust.ID)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// CreateSubscription creates an incomplete subscription for priceID, creating
// the billing customer first if needed, and mirrors it onto the record. The
// returned client secret is used by the client to confirm the first payment.
func (s *Synchronizer) CreateSubscription(ctx context.Context, rec *Record, priceID string) (*SubscriptionIntent, error) {
	customerID, err := s.EnsureCustomer(ctx, rec)
	if err != nil {
		return nil, err
	}

	var sub *billing.Subscription
	err = s.call(ctx, "create_subscription", func(ctx context.Context) error {
		var err error
		sub, err = s.provider.CreateSubscription(ctx, billing.SubscriptionParams{
			CustomerID:     customerID,
			PriceID:        priceID,
			UserID:         rec.UserID,
			IdempotencyKey: subscriptionIdempotencyKey(rec, customerID, priceID),
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	synced := sub.Created
	if synced.IsZero() {
		synced = time.Now().UTC()
	}

	start := time.Now()
	updated, err := s.storage.UpdateRecord(ctx, rec.UserID, func(r *Record) error {
		// A webhook for this subscription may already have landed with a
		// timestamp at least as new as the creation response.
		if !r.SubscriptionSyncedAt.IsZero() && !synced.After(r.SubscriptionSyncedAt) && r.SubscriptionID == sub.ID {
			return ErrNoChange
		}
		r.SubscriptionID = sub.ID
		mirrorSubscription(r, sub, synced)
		return nil
	})
	s.metrics.RecordStorageOperation("mirror_subscription", time.Since(start), err)
	if err != nil {
		s.logger.Error("Failed to mirror created subscription",
			Field{Key: "user_id", Value: rec.UserID},
			Field{Key: "subscription_id", Value: sub.ID},
			Field{Key: "error", Value: err.Error()},
		)
		return nil, fmt.Errorf("store subscription: %w", err)
	}

	return &SubscriptionIntent{
		ClientSecret:   sub.ClientSecret,
		SubscriptionID: sub.ID,
		Status:         sub.Status,
		Record:         updated,
	}, nil
}

// subscriptionIdempotencyKey is stable for retries of one submission: it only
// changes once a subscription has been mirrored onto the record or the price
// changes.
func subscriptionIdempotencyKey(rec *Record, customerID, priceID string) string {
	previous := rec.SubscriptionID
	if previous == "" {
		previous = "none"
	}
	name := "subscription:" + rec.UserID + ":" + customerID + ":" + priceID + ":" + previous
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)).String()
}

// GetSubscriptionStatus fetches the live subscription of a user. Users without
// a subscription, and subscriptions the provider no longer knows about, are
// reported as inactive rather than as errors.
func (s *Synchronizer) GetSubscriptionStatus(ctx context.Context, userID string) (*SubscriptionInfo, error) {
	rec, err := s.storage.GetRecord(ctx, userID)
	if errors.Is(err, ErrRecordNotFound) {
		return &SubscriptionInfo{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load record: %w", err)
	}
	if rec.SubscriptionID == "" {
		return &SubscriptionInfo{}, nil
	}

	var sub *billing.Subscription
	err = s.call(ctx, "retrieve_subscription", func(ctx context.Context) error {
		var err error
		sub, err = s.provider.RetrieveSubscription(ctx, rec.SubscriptionID)
		return err
	})
	if errors.Is(err, billing.ErrResourceMissing) {
		s.logger.Info("Subscription no longer exists at provider",
			Field{Key: "user_id", Value: userID},
			Field{Key: "subscription_id", Value: rec.SubscriptionID},
		)
		return &SubscriptionInfo{}, nil
	}
	if err != nil {
		return nil, err
	}

	return &SubscriptionInfo{
		Active:            sub.Status == billing.StatusActive,
		Status:            sub.Status,
		SubscriptionID:    sub.ID,
		PriceID:           sub.PriceID,
		ProductName:       sub.ProductName,
		PeriodStart:       cloneTime(sub.PeriodStart),
		PeriodEnd:         cloneTime(sub.PeriodEnd),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
	}, nil
}

// CreatePortalSession returns a provider-hosted customer portal URL.
func (s *Synchronizer) CreatePortalSession(ctx context.Context, userID, returnURL string) (string, error) {
	rec, err := s.storage.GetRecord(ctx, userID)
	if errors.Is(err, ErrRecordNotFound) {
		return "", ErrNoBillingCustomer
	}
	if err != nil {
		return "", fmt.Errorf("load record: %w", err)
	}
	if rec.BillingCustomerID == "" {
		return "", ErrNoBillingCustomer
	}

	var url string
	err = s.call(ctx, "create_portal_session", func(ctx context.Context) error {
		var err error
		url, err = s.provider.CreatePortalSession(ctx, rec.BillingCustomerID, returnURL)
		return err
	})
	return url, err
}

// mirrorSubscription copies the provider view of a subscription onto r. Once
// the subscription is active and both form steps are done, the payment step
// counts as passed.
func mirrorSubscription(r *Record, sub *billing.Subscription, synced time.Time) {
	r.SubscriptionStatus = sub.Status
	if sub.PriceID != "" {
		r.SubscriptionPriceID = sub.PriceID
	}
	if sub.PeriodStart != nil {
		r.SubscriptionPeriodStart = cloneTime(sub.PeriodStart)
	}
	if sub.PeriodEnd != nil {
		r.SubscriptionPeriodEnd = cloneTime(sub.PeriodEnd)
	}
	r.SubscriptionSyncedAt = synced

	if !r.OnboardingComplete && r.HasActiveSubscription() && r.HasBasicInfo() && r.HasAdditionalDetails() {
		r.CurrentStep = advance(r.CurrentStep, StepPayment)
	}
}
