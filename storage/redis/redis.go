// Package redis provides a Redis implementation of the onboarding.Storage interface.
// Records are stored as JSON; updates are optimistic WATCH/MULTI transactions
// over the record key and the billing customer index key.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mihaimyh/goonboard/pkg/onboarding"
)

// Storage implements onboarding.Storage using Redis
type Storage struct {
	client redis.UniversalClient
	config Config
	now    func() time.Time
}

// Config holds Redis storage configuration
type Config struct {
	// KeyPrefix is prepended to all Redis keys (default: "goonboard:")
	KeyPrefix string

	// MaxRetries is the maximum number of attempts when a watched key
	// changes during an update (default: 50)
	MaxRetries int

	// RetryBackoff is the base delay between attempts (default: 2ms)
	RetryBackoff time.Duration
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		KeyPrefix:    "goonboard:",
		MaxRetries:   50,
		RetryBackoff: 2 * time.Millisecond,
	}
}

// New creates a new Redis storage adapter
// The client can be *redis.Client, *redis.ClusterClient, or *redis.Ring.
// With a cluster, use a KeyPrefix containing a hash tag (e.g. "{onboarding}:")
// so a record and its customer index key share a slot.
func New(client redis.UniversalClient, config Config) (*Storage, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}

	defaults := DefaultConfig()
	if config.KeyPrefix == "" {
		config.KeyPrefix = defaults.KeyPrefix
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = defaults.MaxRetries
	}
	if config.RetryBackoff <= 0 {
		config.RetryBackoff = defaults.RetryBackoff
	}

	return &Storage{
		client: client,
		config: config,
		now:    time.Now,
	}, nil
}

func (s *Storage) recordKey(userID string) string {
	return s.config.KeyPrefix + "record:" + userID
}

func (s *Storage) customerKey(customerID string) string {
	return s.config.KeyPrefix + "customer:" + customerID
}

// GetRecord implements onboarding.Storage
func (s *Storage) GetRecord(ctx context.Context, userID string) (*onboarding.Record, error) {
	rec, err := getRecord(ctx, s.client, s.recordKey(userID))
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, onboarding.ErrRecordNotFound
	}
	return rec, nil
}

// FindByBillingCustomerID implements onboarding.Storage
func (s *Storage) FindByBillingCustomerID(ctx context.Context, customerID string) (*onboarding.Record, error) {
	userID, err := s.client.Get(ctx, s.customerKey(customerID)).Result()
	if err == redis.Nil {
		return nil, onboarding.ErrRecordNotFound
	}
	if err != nil {
		return nil, unavailable("failed to get customer index", err)
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
	key := s.recordKey(userID)

	for attempt := 0; attempt < s.config.MaxRetries; attempt++ {
		var result *onboarding.Record
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			existing, err := getRecord(ctx, tx, key)
			if err != nil {
				return err
			}

			updated, write, err := onboarding.ApplyUpdate(existing, userID, s.now().UTC(), fn)
			if err != nil {
				return err
			}
			result = updated
			if !write {
				return nil
			}

			claim := ""
			if updated.BillingCustomerID != "" && (existing == nil || existing.BillingCustomerID == "") {
				claim = s.customerKey(updated.BillingCustomerID)
				if err := tx.Watch(ctx, claim).Err(); err != nil {
					return unavailable("failed to watch customer index", err)
				}
				owner, err := tx.Get(ctx, claim).Result()
				if err != nil && err != redis.Nil {
					return unavailable("failed to get customer index", err)
				}
				if err == nil && owner != userID {
					return fmt.Errorf("%w: %s belongs to another user", onboarding.ErrBillingCustomerConflict, updated.BillingCustomerID)
				}
			}

			data, err := json.Marshal(updated)
			if err != nil {
				return fmt.Errorf("failed to marshal record: %w", err)
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, data, 0)
				if claim != "" {
					pipe.Set(ctx, claim, userID, 0)
				}
				return nil
			})
			return err
		}, key)

		if err == nil {
			return result, nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			return nil, err
		}

		// A watched key changed; back off and re-run fn on fresh data.
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.config.RetryBackoff * time.Duration(attempt+1)):
		}
	}
	return nil, fmt.Errorf("%w: too many concurrent updates for %s", onboarding.ErrStorageUnavailable, userID)
}

func getRecord(ctx context.Context, c redis.Cmdable, key string) (*onboarding.Record, error) {
	data, err := c.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("failed to get record", err)
	}

	var rec onboarding.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record: %w", err)
	}
	return &rec, nil
}

func unavailable(msg string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", msg, err)
	}
	return fmt.Errorf("%s: %w: %v", msg, onboarding.ErrStorageUnavailable, err)
}

var _ onboarding.Storage = (*Storage)(nil)
