// Package storagetest provides a conformance suite for onboarding.Storage
// implementations.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/goonboard/pkg/billing"
	"github.com/mihaimyh/goonboard/pkg/onboarding"
)

// Factory returns an empty storage. Each call must return storage that does
// not share records with previous calls, or the suite's user ids must not
// collide with existing data.
type Factory func(t *testing.T) onboarding.Storage

// Run runs the conformance suite against storages created by newStorage.
func Run(t *testing.T, newStorage Factory) {
	t.Run("GetRecord_NotFound", func(t *testing.T) { testGetNotFound(t, newStorage(t)) })
	t.Run("UpdateRecord_CreatesRecord", func(t *testing.T) { testCreate(t, newStorage(t)) })
	t.Run("UpdateRecord_RoundTrip", func(t *testing.T) { testRoundTrip(t, newStorage(t)) })
	t.Run("UpdateRecord_ReturnsStoredRecord", func(t *testing.T) { testReturnsStoredRecord(t, newStorage(t)) })
	t.Run("UpdateRecord_NoChange", func(t *testing.T) { testNoChange(t, newStorage(t)) })
	t.Run("UpdateRecord_ErrorLeavesRecord", func(t *testing.T) { testErrorLeavesRecord(t, newStorage(t)) })
	t.Run("UpdateRecord_InvariantViolation", func(t *testing.T) { testInvariantViolation(t, newStorage(t)) })
	t.Run("BillingCustomer_Immutable", func(t *testing.T) { testCustomerImmutable(t, newStorage(t)) })
	t.Run("BillingCustomer_Unique", func(t *testing.T) { testCustomerUnique(t, newStorage(t)) })
	t.Run("FindByBillingCustomerID", func(t *testing.T) { testFindByCustomer(t, newStorage(t)) })
	t.Run("UpdateRecord_Concurrent", func(t *testing.T) { testConcurrentUpdates(t, newStorage(t)) })
}

func userID(t *testing.T) string {
	return fmt.Sprintf("%s-%d", t.Name(), time.Now().UnixNano())
}

func testGetNotFound(t *testing.T, s onboarding.Storage) {
	_, err := s.GetRecord(context.Background(), userID(t))
	assert.ErrorIs(t, err, onboarding.ErrRecordNotFound)

	_, err = s.FindByBillingCustomerID(context.Background(), "cus_missing_"+userID(t))
	assert.ErrorIs(t, err, onboarding.ErrRecordNotFound)
}

func testCreate(t *testing.T, s onboarding.Storage) {
	ctx := context.Background()
	uid := userID(t)

	rec, err := s.UpdateRecord(ctx, uid, func(r *onboarding.Record) error {
		r.FullName = "Jane Doe"
		return nil
	})
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, uid, rec.UserID)
	assert.Equal(t, onboarding.StepNotStarted, rec.CurrentStep)
	assert.False(t, rec.CreatedAt.IsZero())
	assert.True(t, rec.CreatedAt.Equal(rec.UpdatedAt))

	got, err := s.GetRecord(ctx, uid)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, "Jane Doe", got.FullName)
}

func testRoundTrip(t *testing.T, s onboarding.Storage) {
	ctx := context.Background()
	uid := userID(t)
	customerID := "cus_" + uid
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)
	synced := start.Add(time.Minute)
	completed := start.Add(2 * time.Minute)

	_, err := s.UpdateRecord(ctx, uid, func(r *onboarding.Record) error {
		r.CurrentStep = onboarding.StepCompleted
		r.FullName = "Jane Doe"
		r.Email = "jane@x.com"
		r.Phone = "+1 555 010 2030"
		r.CompanyName = "Acme Travel"
		r.Industry = "travel"
		r.CompanySize = "11-50"
		r.Role = "founder"
		r.Goals = []string{"bookings", "reporting"}
		r.ReferralSource = "search"
		r.BillingCustomerID = customerID
		r.SubscriptionID = "sub_" + uid
		r.SubscriptionStatus = billing.StatusActive
		r.SubscriptionPriceID = "price_pro"
		r.SubscriptionPeriodStart = &start
		r.SubscriptionPeriodEnd = &end
		r.SubscriptionSyncedAt = synced
		r.LastPaymentAt = &synced
		r.OnboardingComplete = true
		r.CompletedAt = &completed
		return nil
	})
	require.NoError(t, err)

	got, err := s.GetRecord(ctx, uid)
	require.NoError(t, err)
	assert.Equal(t, onboarding.StepCompleted, got.CurrentStep)
	assert.Equal(t, []string{"bookings", "reporting"}, got.Goals)
	assert.Equal(t, "search", got.ReferralSource)
	assert.Equal(t, customerID, got.BillingCustomerID)
	assert.Equal(t, billing.StatusActive, got.SubscriptionStatus)
	assert.Equal(t, "price_pro", got.SubscriptionPriceID)
	require.NotNil(t, got.SubscriptionPeriodStart)
	assert.True(t, start.Equal(*got.SubscriptionPeriodStart))
	assert.True(t, end.Equal(*got.SubscriptionPeriodEnd))
	assert.True(t, synced.Equal(got.SubscriptionSyncedAt))
	require.NotNil(t, got.LastPaymentAt)
	assert.True(t, synced.Equal(*got.LastPaymentAt))
	assert.True(t, got.OnboardingComplete)
	require.NotNil(t, got.CompletedAt)
	assert.True(t, completed.Equal(*got.CompletedAt))
}

// testReturnsStoredRecord checks that the record handed back by a write is
// exactly what a later read returns, even when the caller supplies times finer
// than the backend keeps.
func testReturnsStoredRecord(t *testing.T, s onboarding.Storage) {
	ctx := context.Background()
	uid := userID(t)
	synced := time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.UTC)
	start := synced.Add(-time.Hour)
	end := start.AddDate(0, 1, 0)
	completed := synced.Add(987654321 * time.Nanosecond)

	written, err := s.UpdateRecord(ctx, uid, func(r *onboarding.Record) error {
		r.CurrentStep = onboarding.StepCompleted
		r.FullName = "Jane Doe"
		r.Email = "jane@x.com"
		r.CompanyName = "Acme Travel"
		r.Industry = "travel"
		r.CompanySize = "11-50"
		r.Role = "founder"
		r.Goals = []string{"bookings"}
		r.BillingCustomerID = "cus_" + uid
		r.SubscriptionID = "sub_" + uid
		r.SubscriptionStatus = billing.StatusActive
		r.SubscriptionPriceID = "price_pro"
		r.SubscriptionPeriodStart = &start
		r.SubscriptionPeriodEnd = &end
		r.SubscriptionSyncedAt = synced
		r.LastPaymentAt = &synced
		r.OnboardingComplete = true
		r.CompletedAt = &completed
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 0, written.SubscriptionSyncedAt.Nanosecond()%1000)
	assert.Equal(t, 0, written.UpdatedAt.Nanosecond()%1000)

	got, err := s.GetRecord(ctx, uid)
	require.NoError(t, err)
	assert.Equal(t, written, got)

	again, err := s.UpdateRecord(ctx, uid, func(*onboarding.Record) error { return onboarding.ErrNoChange })
	require.NoError(t, err)
	assert.Equal(t, written, again)
}

func testNoChange(t *testing.T, s onboarding.Storage) {
	ctx := context.Background()
	uid := userID(t)

	rec, err := s.UpdateRecord(ctx, uid, func(*onboarding.Record) error { return onboarding.ErrNoChange })
	require.NoError(t, err)
	assert.Equal(t, uid, rec.UserID)
	_, err = s.GetRecord(ctx, uid)
	assert.ErrorIs(t, err, onboarding.ErrRecordNotFound, "no-change update must not create a record")

	created, err := s.UpdateRecord(ctx, uid, func(r *onboarding.Record) error {
		r.FullName = "Jane"
		return nil
	})
	require.NoError(t, err)

	same, err := s.UpdateRecord(ctx, uid, func(r *onboarding.Record) error {
		r.FullName = "ignored"
		return onboarding.ErrNoChange
	})
	require.NoError(t, err)
	assert.Equal(t, "Jane", same.FullName)
	assert.True(t, created.UpdatedAt.Equal(same.UpdatedAt))
}

func testErrorLeavesRecord(t *testing.T, s onboarding.Storage) {
	ctx := context.Background()
	uid := userID(t)
	boom := errors.New("boom")

	_, err := s.UpdateRecord(ctx, uid, func(r *onboarding.Record) error {
		r.FullName = "Jane"
		return nil
	})
	require.NoError(t, err)

	_, err = s.UpdateRecord(ctx, uid, func(r *onboarding.Record) error {
		r.FullName = "changed"
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := s.GetRecord(ctx, uid)
	require.NoError(t, err)
	assert.Equal(t, "Jane", got.FullName)
}

func testInvariantViolation(t *testing.T, s onboarding.Storage) {
	ctx := context.Background()
	uid := userID(t)

	_, err := s.UpdateRecord(ctx, uid, func(r *onboarding.Record) error {
		r.OnboardingComplete = true
		return nil
	})
	assert.ErrorIs(t, err, onboarding.ErrInvariantViolation)

	_, err = s.GetRecord(ctx, uid)
	assert.ErrorIs(t, err, onboarding.ErrRecordNotFound)
}

func testCustomerImmutable(t *testing.T, s onboarding.Storage) {
	ctx := context.Background()
	uid := userID(t)

	_, err := s.UpdateRecord(ctx, uid, func(r *onboarding.Record) error {
		r.BillingCustomerID = "cus_a_" + uid
		return nil
	})
	require.NoError(t, err)

	_, err = s.UpdateRecord(ctx, uid, func(r *onboarding.Record) error {
		r.BillingCustomerID = "cus_b_" + uid
		return nil
	})
	assert.ErrorIs(t, err, onboarding.ErrBillingCustomerImmutable)

	_, err = s.UpdateRecord(ctx, uid, func(r *onboarding.Record) error {
		r.BillingCustomerID = ""
		return nil
	})
	assert.ErrorIs(t, err, onboarding.ErrBillingCustomerImmutable)

	got, err := s.GetRecord(ctx, uid)
	require.NoError(t, err)
	assert.Equal(t, "cus_a_"+uid, got.BillingCustomerID)
}

func testCustomerUnique(t *testing.T, s onboarding.Storage) {
	ctx := context.Background()
	uid1 := userID(t) + "-1"
	uid2 := userID(t) + "-2"
	customerID := "cus_shared_" + uid1

	_, err := s.UpdateRecord(ctx, uid1, func(r *onboarding.Record) error {
		r.BillingCustomerID = customerID
		return nil
	})
	require.NoError(t, err)

	_, err = s.UpdateRecord(ctx, uid2, func(r *onboarding.Record) error {
		r.BillingCustomerID = customerID
		return nil
	})
	assert.ErrorIs(t, err, onboarding.ErrBillingCustomerConflict)

	owner, err := s.FindByBillingCustomerID(ctx, customerID)
	require.NoError(t, err)
	assert.Equal(t, uid1, owner.UserID)
}

func testFindByCustomer(t *testing.T, s onboarding.Storage) {
	ctx := context.Background()
	uid := userID(t)
	customerID := "cus_find_" + uid

	_, err := s.UpdateRecord(ctx, uid, func(r *onboarding.Record) error {
		r.FullName = "Jane"
		return nil
	})
	require.NoError(t, err)
	_, err = s.FindByBillingCustomerID(ctx, customerID)
	assert.ErrorIs(t, err, onboarding.ErrRecordNotFound)

	_, err = s.UpdateRecord(ctx, uid, func(r *onboarding.Record) error {
		r.BillingCustomerID = customerID
		return nil
	})
	require.NoError(t, err)

	got, err := s.FindByBillingCustomerID(ctx, customerID)
	require.NoError(t, err)
	assert.Equal(t, uid, got.UserID)
	assert.Equal(t, "Jane", got.FullName)
}

// testConcurrentUpdates checks that read-modify-write updates of one record
// do not lose writes.
func testConcurrentUpdates(t *testing.T, s onboarding.Storage) {
	ctx := context.Background()
	uid := userID(t)
	const writers = 10

	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.UpdateRecord(ctx, uid, func(r *onboarding.Record) error {
				r.Goals = append(r.Goals, fmt.Sprintf("goal-%d", i))
				return nil
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got, err := s.GetRecord(ctx, uid)
	require.NoError(t, err)
	assert.Len(t, got.Goals, writers)
}
