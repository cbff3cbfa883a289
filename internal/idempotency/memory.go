package idempotency

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryGuard is an in-process Guard for development and tests. Expired
// records are dropped lazily on access.
type MemoryGuard struct {
	mu      sync.Mutex
	records map[memKey]*Record
	ttl     time.Duration
	now     func() time.Time
}

type memKey struct {
	tenantID uuid.UUID
	key      string
}

// NewMemoryGuard creates a guard with the given TTL (DefaultTTL if zero).
func NewMemoryGuard(ttl time.Duration) *MemoryGuard {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryGuard{
		records: make(map[memKey]*Record),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Admit implements Guard.
func (g *MemoryGuard) Admit(_ context.Context, tenantID uuid.UUID, key string) (*Admission, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	k := memKey{tenantID, key}
	now := g.now()

	if rec, ok := g.records[k]; ok {
		if now.Before(rec.ExpiresAt) {
			prior := *rec
			return &Admission{Prior: &prior}, nil
		}
		delete(g.records, k)
	}

	g.records[k] = &Record{
		TenantID:  tenantID,
		Key:       key,
		State:     StateProcessing,
		CreatedAt: now,
		ExpiresAt: now.Add(g.ttl),
	}
	return &Admission{FirstDelivery: true}, nil
}

// Complete implements Guard.
func (g *MemoryGuard) Complete(_ context.Context, tenantID uuid.UUID, key, traceID, response string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	rec, ok := g.records[memKey{tenantID, key}]
	if !ok || !g.now().Before(rec.ExpiresAt) {
		return ErrUnknownKey
	}
	rec.State = StateDone
	rec.TraceID = traceID
	rec.Response = response
	return nil
}

// Release implements Guard.
func (g *MemoryGuard) Release(_ context.Context, tenantID uuid.UUID, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.records, memKey{tenantID, key})
	return nil
}
