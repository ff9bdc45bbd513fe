// Package memory provides an in-memory implementation of the onboarding.Storage interface.
// This implementation is primarily intended for testing and development.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mihaimyh/goonboard/pkg/onboarding"
)

// Storage implements onboarding.Storage using in-memory maps
type Storage struct {
	mu        sync.RWMutex
	records   map[string]*onboarding.Record
	customers map[string]string // billing customer id -> user id
	now       func() time.Time
}

// New creates a new in-memory storage adapter
func New() *Storage {
	return &Storage{
		records:   make(map[string]*onboarding.Record),
		customers: make(map[string]string),
		now:       time.Now,
	}
}

// GetRecord implements onboarding.Storage
func (s *Storage) GetRecord(ctx context.Context, userID string) (*onboarding.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[userID]
	if !ok {
		return nil, onboarding.ErrRecordNotFound
	}

	// Return a copy to prevent external mutations
	return rec.Clone(), nil
}

// UpdateRecord implements onboarding.Storage. The write lock is held for the
// whole read-modify-write, which serializes updates across users.
func (s *Storage) UpdateRecord(ctx context.Context, userID string, fn onboarding.UpdateFunc) (*onboarding.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.records[userID]
	updated, write, err := onboarding.ApplyUpdate(existing, userID, s.now().UTC(), fn)
	if err != nil {
		return nil, err
	}
	if !write {
		return updated, nil
	}

	if id := updated.BillingCustomerID; id != "" {
		if owner, ok := s.customers[id]; ok && owner != userID {
			return nil, fmt.Errorf("%w: %s belongs to another user", onboarding.ErrBillingCustomerConflict, id)
		}
		s.customers[id] = userID
	}

	// Store a copy to prevent external mutations
	s.records[userID] = updated.Clone()
	return updated, nil
}

// FindByBillingCustomerID implements onboarding.Storage
func (s *Storage) FindByBillingCustomerID(ctx context.Context, customerID string) (*onboarding.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	userID, ok := s.customers[customerID]
	if !ok {
		return nil, onboarding.ErrRecordNotFound
	}
	rec, ok := s.records[userID]
	if !ok {
		return nil, onboarding.ErrRecordNotFound
	}
	return rec.Clone(), nil
}

// Len returns the number of stored records.
func (s *Storage) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
