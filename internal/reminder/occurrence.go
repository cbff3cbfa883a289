package reminder

import (
	"context"
	"sync"
	"time"
)

// OccurrenceStore tracks which (entity, occurrence) pairs have been
// notified. Claim must be an atomic check-and-set: of any number of
// concurrent claimants for the same key, exactly one wins.
//
// The two-phase shape exists because sent_at may only be written after a
// successful dispatch: Claim marks the occurrence in flight, Confirm
// records the send, Release returns the claim if dispatch failed so a
// later tick can retry.
type OccurrenceStore interface {
	// Claim atomically claims the occurrence. False means another tick
	// already claimed or sent it.
	Claim(ctx context.Context, entityType, entityID, occurrenceKey string) (bool, error)

	// Confirm records sent_at for a claimed occurrence.
	Confirm(ctx context.Context, entityType, entityID, occurrenceKey string) error

	// Release drops an unconfirmed claim.
	Release(ctx context.Context, entityType, entityID, occurrenceKey string) error

	// SentAt returns the send time, or nil if the occurrence was never
	// confirmed.
	SentAt(ctx context.Context, entityType, entityID, occurrenceKey string) (*time.Time, error)
}

// MemoryOccurrenceStore is the in-process store for development and tests.
type MemoryOccurrenceStore struct {
	mu      sync.Mutex
	entries map[occKey]*occEntry
	now     func() time.Time
}

type occKey struct {
	entityType    string
	entityID      string
	occurrenceKey string
}

type occEntry struct {
	sentAt *time.Time
}

// NewMemoryOccurrenceStore creates an empty store.
func NewMemoryOccurrenceStore() *MemoryOccurrenceStore {
	return &MemoryOccurrenceStore{
		entries: make(map[occKey]*occEntry),
		now:     time.Now,
	}
}

// Claim implements OccurrenceStore.
func (s *MemoryOccurrenceStore) Claim(_ context.Context, entityType, entityID, occurrenceKey string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := occKey{entityType, entityID, occurrenceKey}
	if _, ok := s.entries[k]; ok {
		return false, nil
	}
	s.entries[k] = &occEntry{}
	return true, nil
}

// Confirm implements OccurrenceStore.
func (s *MemoryOccurrenceStore) Confirm(_ context.Context, entityType, entityID, occurrenceKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[occKey{entityType, entityID, occurrenceKey}]; ok {
		t := s.now()
		e.sentAt = &t
	}
	return nil
}

// Release implements OccurrenceStore. Confirmed occurrences stay put;
// only unconfirmed claims are returned.
func (s *MemoryOccurrenceStore) Release(_ context.Context, entityType, entityID, occurrenceKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := occKey{entityType, entityID, occurrenceKey}
	if e, ok := s.entries[k]; ok && e.sentAt == nil {
		delete(s.entries, k)
	}
	return nil
}

// SentAt implements OccurrenceStore.
func (s *MemoryOccurrenceStore) SentAt(_ context.Context, entityType, entityID, occurrenceKey string) (*time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[occKey{entityType, entityID, occurrenceKey}]
	if !ok || e.sentAt == nil {
		return nil, nil
	}
	t := *e.sentAt
	return &t, nil
}
