// Package trace persists and queries run traces. The runtime writes
// through the narrow runtime.TraceStore interface; operators read back
// through Store's query surface (CLI, debugging, audits).
package trace

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/kenes-ai/kenes/internal/runtime"
)

// ErrNotFound is returned when no run matches the trace ID.
var ErrNotFound = errors.New("trace: run not found")

// Query filters ListRuns. Zero fields match everything; TenantID is the
// exception and is required, since traces are tenant-scoped data.
type Query struct {
	TenantID uuid.UUID
	Source   runtime.Source
	Status   runtime.Status
	From     time.Time
	To       time.Time
	Limit    int
}

// DefaultQueryLimit bounds unpaginated listings.
const DefaultQueryLimit = 50

// Store is the full trace persistence surface.
type Store interface {
	runtime.TraceStore

	// GetRun loads one run by trace ID within a tenant.
	GetRun(ctx context.Context, tenantID uuid.UUID, traceID string) (*runtime.AgentRun, error)

	// ListRuns returns runs matching the query, newest first.
	ListRuns(ctx context.Context, q Query) ([]*runtime.AgentRun, error)
}
