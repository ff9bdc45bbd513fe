// Package firestore provides a Firestore implementation of the onboarding.Storage interface.
// Each user's record is one document; a second collection indexes billing
// customer ids. Updates run in Firestore transactions.
package firestore

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/mihaimyh/goonboard/pkg/billing"
	"github.com/mihaimyh/goonboard/pkg/onboarding"
)

const defaultMaxAttempts = 25

// Storage implements onboarding.Storage using Google Cloud Firestore
type Storage struct {
	client              *firestore.Client
	recordsCollection   string
	customersCollection string
	maxAttempts         int
	now                 func() time.Time
}

// Config holds Firestore storage configuration
type Config struct {
	// RecordsCollection is the Firestore collection for onboarding records
	// Default: "onboarding_records"
	RecordsCollection string

	// CustomersCollection maps billing customer ids to user ids
	// Default: "onboarding_customers"
	CustomersCollection string

	// MaxAttempts bounds transaction retries under contention
	// Default: 25
	MaxAttempts int
}

// New creates a new Firestore storage adapter
func New(client *firestore.Client, config Config) (*Storage, error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client is required")
	}

	// Set defaults
	if config.RecordsCollection == "" {
		config.RecordsCollection = "onboarding_records"
	}
	if config.CustomersCollection == "" {
		config.CustomersCollection = "onboarding_customers"
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaultMaxAttempts
	}

	return &Storage{
		client:              client,
		recordsCollection:   config.RecordsCollection,
		customersCollection: config.CustomersCollection,
		maxAttempts:         config.MaxAttempts,
		now:                 time.Now,
	}, nil
}

// GetRecord implements onboarding.Storage
func (s *Storage) GetRecord(ctx context.Context, userID string) (*onboarding.Record, error) {
	snap, err := s.client.Collection(s.recordsCollection).Doc(userID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, onboarding.ErrRecordNotFound
		}
		return nil, storageError("failed to get record", err)
	}
	if !snap.Exists() {
		return nil, onboarding.ErrRecordNotFound
	}
	return fromDocument(userID, snap.Data()), nil
}

// FindByBillingCustomerID implements onboarding.Storage
func (s *Storage) FindByBillingCustomerID(ctx context.Context, customerID string) (*onboarding.Record, error) {
	snap, err := s.client.Collection(s.customersCollection).Doc(customerID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, onboarding.ErrRecordNotFound
		}
		return nil, storageError("failed to get customer index", err)
	}

	userID := getString(snap.Data(), "userId")
	if userID == "" {
		return nil, onboarding.ErrRecordNotFound
	}
	rec, err := s.GetRecord(ctx, userID)
	if err != nil {
		return nil, err
	}
	if rec.BillingCustomerID != customerID {
		return nil, onboarding.ErrRecordNotFound
	}
	return rec, nil
}

// UpdateRecord implements onboarding.Storage
func (s *Storage) UpdateRecord(ctx context.Context, userID string, fn onboarding.UpdateFunc) (*onboarding.Record, error) {
	recordRef := s.client.Collection(s.recordsCollection).Doc(userID)

	var result *onboarding.Record
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		result = nil

		var existing *onboarding.Record
		snap, err := tx.Get(recordRef)
		if err != nil && status.Code(err) != codes.NotFound {
			return storageError("failed to get record", err)
		}
		if err == nil && snap.Exists() {
			existing = fromDocument(userID, snap.Data())
		}

		updated, write, err := onboarding.ApplyUpdate(existing, userID, s.now().UTC(), fn)
		if err != nil {
			return err
		}
		result = updated
		if !write {
			return nil
		}

		var customerRef *firestore.DocumentRef
		if updated.BillingCustomerID != "" && (existing == nil || existing.BillingCustomerID == "") {
			customerRef = s.client.Collection(s.customersCollection).Doc(updated.BillingCustomerID)
			snap, err := tx.Get(customerRef)
			if err != nil && status.Code(err) != codes.NotFound {
				return storageError("failed to get customer index", err)
			}
			if err == nil && snap.Exists() {
				if owner := getString(snap.Data(), "userId"); owner != userID {
					return fmt.Errorf("%w: %s belongs to another user", onboarding.ErrBillingCustomerConflict, updated.BillingCustomerID)
				}
			}
		}

		if err := tx.Set(recordRef, toDocument(updated)); err != nil {
			return err
		}
		if customerRef != nil {
			return tx.Set(customerRef, map[string]interface{}{
				"userId":    userID,
				"createdAt": updated.UpdatedAt,
			})
		}
		return nil
	}, firestore.MaxAttempts(s.maxAttempts))
	if err != nil {
		return nil, err
	}
	return result, nil
}

func storageError(msg string, err error) error {
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted:
		return fmt.Errorf("%s: %w: %v", msg, onboarding.ErrStorageUnavailable, err)
	}
	return fmt.Errorf("%s: %w", msg, err)
}

func toDocument(r *onboarding.Record) map[string]interface{} {
	goals := make([]interface{}, 0, len(r.Goals))
	for _, g := range r.Goals {
		goals = append(goals, g)
	}

	data := map[string]interface{}{
		"id":                  r.ID,
		"userId":              r.UserID,
		"currentStep":         string(r.CurrentStep),
		"fullName":            r.FullName,
		"email":               r.Email,
		"phone":               r.Phone,
		"companyName":         r.CompanyName,
		"industry":            r.Industry,
		"companySize":         r.CompanySize,
		"role":                r.Role,
		"goals":               goals,
		"referralSource":      r.ReferralSource,
		"billingCustomerId":   r.BillingCustomerID,
		"subscriptionId":      r.SubscriptionID,
		"subscriptionStatus":  string(r.SubscriptionStatus),
		"subscriptionPriceId": r.SubscriptionPriceID,
		"onboardingComplete":  r.OnboardingComplete,
		"createdAt":           r.CreatedAt,
		"updatedAt":           r.UpdatedAt,
	}
	setTime(data, "subscriptionPeriodStart", r.SubscriptionPeriodStart)
	setTime(data, "subscriptionPeriodEnd", r.SubscriptionPeriodEnd)
	setTime(data, "lastPaymentAt", r.LastPaymentAt)
	setTime(data, "completedAt", r.CompletedAt)
	if !r.SubscriptionSyncedAt.IsZero() {
		data["subscriptionSyncedAt"] = r.SubscriptionSyncedAt
	}
	return data
}

func fromDocument(userID string, data map[string]interface{}) *onboarding.Record {
	r := &onboarding.Record{
		ID:                      getString(data, "id"),
		UserID:                  userID,
		CurrentStep:             onboarding.Step(getString(data, "currentStep")),
		FullName:                getString(data, "fullName"),
		Email:                   getString(data, "email"),
		Phone:                   getString(data, "phone"),
		CompanyName:             getString(data, "companyName"),
		Industry:                getString(data, "industry"),
		CompanySize:             getString(data, "companySize"),
		Role:                    getString(data, "role"),
		Goals:                   getStrings(data, "goals"),
		ReferralSource:          getString(data, "referralSource"),
		BillingCustomerID:       getString(data, "billingCustomerId"),
		SubscriptionID:          getString(data, "subscriptionId"),
		SubscriptionStatus:      billing.SubscriptionStatus(getString(data, "subscriptionStatus")),
		SubscriptionPriceID:     getString(data, "subscriptionPriceId"),
		SubscriptionPeriodStart: getTimePtr(data, "subscriptionPeriodStart"),
		SubscriptionPeriodEnd:   getTimePtr(data, "subscriptionPeriodEnd"),
		SubscriptionSyncedAt:    getTime(data, "subscriptionSyncedAt"),
		LastPaymentAt:           getTimePtr(data, "lastPaymentAt"),
		CompletedAt:             getTimePtr(data, "completedAt"),
		CreatedAt:               getTime(data, "createdAt"),
		UpdatedAt:               getTime(data, "updatedAt"),
	}
	if v, ok := data["onboardingComplete"].(bool); ok {
		r.OnboardingComplete = v
	}
	if r.CurrentStep == "" {
		r.CurrentStep = onboarding.StepNotStarted
	}
	return r
}

// Helper functions

func getString(data map[string]interface{}, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}

func getStrings(data map[string]interface{}, key string) []string {
	raw, ok := data[key].([]interface{})
	if !ok || len(raw) == 0 {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func getTime(data map[string]interface{}, key string) time.Time {
	if v, ok := data[key].(time.Time); ok {
		return v.UTC()
	}
	return time.Time{}
}

func getTimePtr(data map[string]interface{}, key string) *time.Time {
	t := getTime(data, key)
	if t.IsZero() {
		return nil
	}
	return &t
}

func setTime(data map[string]interface{}, key string, t *time.Time) {
	if t != nil {
		data[key] = *t
	}
}

var _ onboarding.Storage = (*Storage)(nil)
