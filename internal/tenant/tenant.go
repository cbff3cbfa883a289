// Package tenant defines the tenant model shared by the orchestration
// runtime, the reminder scheduler and the knowledge retriever. Every
// downstream read and write is scoped to a tenant ID; components receive
// the active tenant through context.
package tenant

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a tenant ID is unknown.
var ErrNotFound = errors.New("tenant not found")

// Tenant holds the per-tenant settings the runtime needs.
type Tenant struct {
	// ID is the tenant's unique identifier.
	ID uuid.UUID `json:"id" yaml:"id"`

	// Name is a human-readable label.
	Name string `json:"name" yaml:"name"`

	// Language is the tenant's preferred reply language (BCP 47-ish, e.g. "ru", "en").
	Language string `json:"language,omitempty" yaml:"language"`

	// Timezone is the IANA timezone used for quiet hours and briefings.
	Timezone string `json:"timezone,omitempty" yaml:"timezone"`

	// QuietStart is the start of the quiet-hours window, "HH:MM" tenant-local.
	QuietStart string `json:"quiet_start,omitempty" yaml:"quiet_start"`

	// QuietEnd is the end of the quiet-hours window, "HH:MM" tenant-local.
	QuietEnd string `json:"quiet_end,omitempty" yaml:"quiet_end"`

	// RemindersOptOut disables proactive notifications entirely.
	RemindersOptOut bool `json:"reminders_opt_out,omitempty" yaml:"reminders_opt_out"`

	// BriefingHour is the tenant-local hour for the morning briefing (0 disables it).
	BriefingHour int `json:"briefing_hour,omitempty" yaml:"briefing_hour"`
}

// Location resolves the tenant's timezone, falling back to UTC.
func (t *Tenant) Location() *time.Location {
	if t.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(t.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Directory resolves tenants for inbound events and scheduler ticks.
type Directory interface {
	// Get returns the tenant with the given ID, or ErrNotFound.
	Get(ctx context.Context, id uuid.UUID) (*Tenant, error)

	// List returns all known tenants, ordered by ID.
	List(ctx context.Context) ([]*Tenant, error)
}

// StaticDirectory is an in-memory Directory backed by a fixed tenant set.
// It serves local/dev deployments and tests; production deployments plug
// in a persistence-backed Directory.
type StaticDirectory struct {
	mu      sync.RWMutex
	tenants map[uuid.UUID]*Tenant
}

// NewStaticDirectory creates a directory from the given tenants.
func NewStaticDirectory(tenants ...*Tenant) *StaticDirectory {
	d := &StaticDirectory{tenants: make(map[uuid.UUID]*Tenant, len(tenants))}
	for _, t := range tenants {
		d.tenants[t.ID] = t
	}
	return d
}

// Put adds or replaces a tenant.
func (d *StaticDirectory) Put(t *Tenant) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tenants[t.ID] = t
}

// Get implements Directory.
func (d *StaticDirectory) Get(ctx context.Context, id uuid.UUID) (*Tenant, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	t, ok := d.tenants[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	copied := *t
	return &copied, nil
}

// List implements Directory.
func (d *StaticDirectory) List(ctx context.Context) ([]*Tenant, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*Tenant, 0, len(d.tenants))
	for _, t := range d.tenants {
		copied := *t
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

type tenantCtxKey struct{}

// WithTenant stores the active tenant in the context.
func WithTenant(ctx context.Context, t *Tenant) context.Context {
	return context.WithValue(ctx, tenantCtxKey{}, t)
}

// FromContext retrieves the active tenant from the context.
func FromContext(ctx context.Context) (*Tenant, bool) {
	t, ok := ctx.Value(tenantCtxKey{}).(*Tenant)
	return t, ok
}

// IDFromContext retrieves the active tenant's ID, or uuid.Nil.
func IDFromContext(ctx context.Context) uuid.UUID {
	if t, ok := FromContext(ctx); ok {
		return t.ID
	}
	return uuid.Nil
}
