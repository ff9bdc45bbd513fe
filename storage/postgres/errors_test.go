package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/mihaimyh/goonboard/pkg/onboarding"
)

func TestWriteError(t *testing.T) {
	rec := &onboarding.Record{UserID: "user1", BillingCustomerID: "cus_1"}

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"customer taken", &pgconn.PgError{Code: uniqueViolation, ConstraintName: customerConstraint}, onboarding.ErrBillingCustomerConflict},
		{"insert race", &pgconn.PgError{Code: uniqueViolation, ConstraintName: userIDConstraint}, errInsertRace},
		{"connection lost", errors.New("conn closed"), onboarding.ErrStorageUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := writeError(tt.err, rec); !errors.Is(got, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestStorageError(t *testing.T) {
	err := storageError("query", &pgconn.PgError{Code: "42P01"})
	if errors.Is(err, onboarding.ErrStorageUnavailable) {
		t.Errorf("Server-reported errors should not be classified as unavailable: %v", err)
	}

	err = storageError("query", context.Canceled)
	if !errors.Is(err, context.Canceled) || errors.Is(err, onboarding.ErrStorageUnavailable) {
		t.Errorf("Expected cancellation to pass through, got %v", err)
	}
}

func TestRecordArgs_NullableColumns(t *testing.T) {
	args := recordArgs(&onboarding.Record{ID: "id", UserID: "user1", CurrentStep: onboarding.StepNotStarted})

	if len(args) != 24 {
		t.Fatalf("Expected 24 column arguments, got %d", len(args))
	}
	if customerID, ok := args[12].(*string); !ok || customerID != nil {
		t.Errorf("Expected NULL billing customer id, got %v", args[12])
	}
	if goals, ok := args[10].([]string); !ok || goals == nil {
		t.Errorf("Expected empty goals array, got %v", args[10])
	}
}
