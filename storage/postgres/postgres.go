// Package postgres provides a PostgreSQL implementation of the onboarding.Storage interface.
// Updates run in a transaction that locks the user's row with SELECT FOR UPDATE;
// billing customer ids are kept unique by a partial unique index.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mihaimyh/goonboard/pkg/billing"
	"github.com/mihaimyh/goonboard/pkg/onboarding"
)

const (
	uniqueViolation = "23505"

	userIDConstraint   = "onboarding_records_user_id_key"
	customerConstraint = "onboarding_records_billing_customer_id_key"

	// maxInsertAttempts bounds retries after losing a race to create the
	// same user's record.
	maxInsertAttempts = 3
)

// Schema creates the onboarding table. It is safe to run repeatedly.
const Schema = `
CREATE TABLE IF NOT EXISTS onboarding_records (
	id                        UUID PRIMARY KEY,
	user_id                   TEXT NOT NULL,
	current_step              TEXT NOT NULL,
	full_name                 TEXT NOT NULL DEFAULT '',
	email                     TEXT NOT NULL DEFAULT '',
	phone                     TEXT NOT NULL DEFAULT '',
	company_name              TEXT NOT NULL DEFAULT '',
	industry                  TEXT NOT NULL DEFAULT '',
	company_size              TEXT NOT NULL DEFAULT '',
	role                      TEXT NOT NULL DEFAULT '',
	goals                     TEXT[] NOT NULL DEFAULT '{}',
	referral_source           TEXT NOT NULL DEFAULT '',
	billing_customer_id       TEXT,
	subscription_id           TEXT NOT NULL DEFAULT '',
	subscription_status       TEXT NOT NULL DEFAULT '',
	subscription_price_id     TEXT NOT NULL DEFAULT '',
	subscription_period_start TIMESTAMPTZ,
	subscription_period_end   TIMESTAMPTZ,
	subscription_synced_at    TIMESTAMPTZ,
	last_payment_at           TIMESTAMPTZ,
	onboarding_complete       BOOLEAN NOT NULL DEFAULT FALSE,
	completed_at              TIMESTAMPTZ,
	created_at                TIMESTAMPTZ NOT NULL,
	updated_at                TIMESTAMPTZ NOT NULL,
	CONSTRAINT onboarding_records_user_id_key UNIQUE (user_id)
);

CREATE UNIQUE INDEX IF NOT EXISTS onboarding_records_billing_customer_id_key
	ON onboarding_records (billing_customer_id)
	WHERE billing_customer_id IS NOT NULL;
`

const selectColumns = `id, user_id, current_step, full_name, email, phone, company_name,
	industry, company_size, role, goals, referral_source, billing_customer_id,
	subscription_id, subscription_status, subscription_price_id,
	subscription_period_start, subscription_period_end, subscription_synced_at,
	last_payment_at, onboarding_complete, completed_at, created_at, updated_at`

// Storage implements onboarding.Storage using PostgreSQL
type Storage struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// Config holds PostgreSQL storage configuration
type Config struct {
	// ConnectionString is the PostgreSQL connection string
	ConnectionString string

	// Pool configuration
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration

	// Migrate applies Schema on startup
	Migrate bool
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
		Migrate:         true,
	}
}

// New creates a new PostgreSQL storage adapter
func New(ctx context.Context, config Config) (*Storage, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required")
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}
	if config.MinConns > 0 {
		poolConfig.MinConns = config.MinConns
	}
	if config.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = config.MaxConnLifetime
	}
	if config.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = config.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := NewFromPool(pool)
	if config.Migrate {
		if err := s.Migrate(ctx); err != nil {
			pool.Close()
			return nil, err
		}
	}
	return s, nil
}

// NewFromPool wraps an existing pool. The caller owns the pool.
func NewFromPool(pool *pgxpool.Pool) *Storage {
	return &Storage{pool: pool, now: time.Now}
}

// Migrate applies Schema
func (s *Storage) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Ping checks database connectivity
func (s *Storage) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the PostgreSQL connection pool
func (s *Storage) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// GetRecord implements onboarding.Storage
func (s *Storage) GetRecord(ctx context.Context, userID string) (*onboarding.Record, error) {
	rec, err := scanRecord(s.pool.QueryRow(ctx,
		`SELECT `+selectColumns+` FROM onboarding_records WHERE user_id = $1`, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, onboarding.ErrRecordNotFound
	}
	if err != nil {
		return nil, storageError("failed to get record", err)
	}
	return rec, nil
}

// FindByBillingCustomerID implements onboarding.Storage
func (s *Storage) FindByBillingCustomerID(ctx context.Context, customerID string) (*onboarding.Record, error) {
	rec, err := scanRecord(s.pool.QueryRow(ctx,
		`SELECT `+selectColumns+` FROM onboarding_records WHERE billing_customer_id = $1`, customerID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, onboarding.ErrRecordNotFound
	}
	if err != nil {
		return nil, storageError("failed to find record by billing customer", err)
	}
	return rec, nil
}

// UpdateRecord implements onboarding.Storage
func (s *Storage) UpdateRecord(ctx context.Context, userID string, fn onboarding.UpdateFunc) (*onboarding.Record, error) {
	for attempt := 1; ; attempt++ {
		rec, err := s.updateRecord(ctx, userID, fn)
		if errors.Is(err, errInsertRace) && attempt < maxInsertAttempts {
			continue
		}
		if errors.Is(err, errInsertRace) {
			return nil, fmt.Errorf("%w: concurrent record creation for %s", onboarding.ErrStorageUnavailable, userID)
		}
		return rec, err
	}
}

// errInsertRace means another transaction created the record first.
var errInsertRace = errors.New("record created concurrently")

func (s *Storage) updateRecord(ctx context.Context, userID string, fn onboarding.UpdateFunc) (*onboarding.Record, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, storageError("failed to begin transaction", err)
	}
	defer func() {
		//nolint:errcheck // Rollback error is safe to ignore if transaction was committed
		_ = tx.Rollback(ctx)
	}()

	existing, err := scanRecord(tx.QueryRow(ctx,
		`SELECT `+selectColumns+` FROM onboarding_records WHERE user_id = $1 FOR UPDATE`, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		existing = nil
	} else if err != nil {
		return nil, storageError("failed to lock record", err)
	}

	updated, write, err := onboarding.ApplyUpdate(existing, userID, s.now().UTC(), fn)
	if err != nil {
		return nil, err
	}
	if !write {
		return updated, nil
	}

	if existing == nil {
		_, err = tx.Exec(ctx, `INSERT INTO onboarding_records (`+selectColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
				$17, $18, $19, $20, $21, $22, $23, $24)`, recordArgs(updated)...)
	} else {
		_, err = tx.Exec(ctx, `UPDATE onboarding_records SET
				id = $1, current_step = $3, full_name = $4, email = $5, phone = $6,
				company_name = $7, industry = $8, company_size = $9, role = $10, goals = $11,
				referral_source = $12, billing_customer_id = $13, subscription_id = $14,
				subscription_status = $15, subscription_price_id = $16,
				subscription_period_start = $17, subscription_period_end = $18,
				subscription_synced_at = $19, last_payment_at = $20, onboarding_complete = $21,
				completed_at = $22, created_at = $23, updated_at = $24
			WHERE user_id = $2`, recordArgs(updated)...)
	}
	if err != nil {
		return nil, writeError(err, updated)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, writeError(err, updated)
	}
	return updated, nil
}

func writeError(err error, rec *onboarding.Record) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		switch pgErr.ConstraintName {
		case userIDConstraint:
			return errInsertRace
		case customerConstraint:
			return fmt.Errorf("%w: %s belongs to another user", onboarding.ErrBillingCustomerConflict, rec.BillingCustomerID)
		}
	}
	return storageError("failed to write record", err)
}

// storageError wraps connection-level failures with ErrStorageUnavailable
// so callers can tell them from data errors.
func storageError(msg string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", msg, err)
	}
	return fmt.Errorf("%s: %w: %v", msg, onboarding.ErrStorageUnavailable, err)
}

func recordArgs(r *onboarding.Record) []any {
	goals := r.Goals
	if goals == nil {
		goals = []string{}
	}
	return []any{
		r.ID, r.UserID, string(r.CurrentStep), r.FullName, r.Email, r.Phone, r.CompanyName,
		r.Industry, r.CompanySize, r.Role, goals, r.ReferralSource, nullString(r.BillingCustomerID),
		r.SubscriptionID, string(r.SubscriptionStatus), r.SubscriptionPriceID,
		r.SubscriptionPeriodStart, r.SubscriptionPeriodEnd, nullTime(r.SubscriptionSyncedAt),
		r.LastPaymentAt, r.OnboardingComplete, r.CompletedAt, r.CreatedAt, r.UpdatedAt,
	}
}

func scanRecord(row pgx.Row) (*onboarding.Record, error) {
	var (
		r          onboarding.Record
		step       string
		status     string
		customerID *string
		syncedAt   *time.Time
	)
	err := row.Scan(
		&r.ID, &r.UserID, &step, &r.FullName, &r.Email, &r.Phone, &r.CompanyName,
		&r.Industry, &r.CompanySize, &r.Role, &r.Goals, &r.ReferralSource, &customerID,
		&r.SubscriptionID, &status, &r.SubscriptionPriceID,
		&r.SubscriptionPeriodStart, &r.SubscriptionPeriodEnd, &syncedAt,
		&r.LastPaymentAt, &r.OnboardingComplete, &r.CompletedAt, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	r.CurrentStep = onboarding.Step(step)
	r.SubscriptionStatus = billing.SubscriptionStatus(status)
	if customerID != nil {
		r.BillingCustomerID = *customerID
	}
	if syncedAt != nil {
		r.SubscriptionSyncedAt = syncedAt.UTC()
	}
	if len(r.Goals) == 0 {
		r.Goals = nil
	}
	r.SubscriptionPeriodStart = utcPtr(r.SubscriptionPeriodStart)
	r.SubscriptionPeriodEnd = utcPtr(r.SubscriptionPeriodEnd)
	r.LastPaymentAt = utcPtr(r.LastPaymentAt)
	r.CompletedAt = utcPtr(r.CompletedAt)
	r.CreatedAt = r.CreatedAt.UTC()
	r.UpdatedAt = r.UpdatedAt.UTC()
	return &r, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

var _ onboarding.Storage = (*Storage)(nil)
