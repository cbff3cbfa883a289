package trace

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/kenes-ai/kenes/internal/runtime"
)

// MemoryStore keeps run traces in process memory, for development and
// tests. Runs are deep-copied on write and read so callers cannot mutate
// stored state.
type MemoryStore struct {
	mu   sync.RWMutex
	runs map[string]*runtime.AgentRun
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: make(map[string]*runtime.AgentRun)}
}

// SaveRun implements runtime.TraceStore. Saving the same trace ID again
// overwrites the record, which is how the runtime persists terminal state.
func (s *MemoryStore) SaveRun(_ context.Context, run *runtime.AgentRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.TraceID] = copyRun(run)
	return nil
}

// GetRun implements Store.
func (s *MemoryStore) GetRun(_ context.Context, tenantID uuid.UUID, traceID string) (*runtime.AgentRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[traceID]
	if !ok || run.TenantID != tenantID {
		return nil, ErrNotFound
	}
	return copyRun(run), nil
}

// ListRuns implements Store.
func (s *MemoryStore) ListRuns(_ context.Context, q Query) ([]*runtime.AgentRun, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}

	s.mu.RLock()
	var matched []*runtime.AgentRun
	for _, run := range s.runs {
		if run.TenantID != q.TenantID {
			continue
		}
		if q.Source != "" && run.Source != q.Source {
			continue
		}
		if q.Status != "" && run.Status != q.Status {
			continue
		}
		if !q.From.IsZero() && run.StartedAt.Before(q.From) {
			continue
		}
		if !q.To.IsZero() && run.StartedAt.After(q.To) {
			continue
		}
		matched = append(matched, copyRun(run))
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].StartedAt.After(matched[j].StartedAt)
	})
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func copyRun(run *runtime.AgentRun) *runtime.AgentRun {
	out := *run
	out.Steps = make([]runtime.Step, len(run.Steps))
	copy(out.Steps, run.Steps)
	if run.CompletedAt != nil {
		completed := *run.CompletedAt
		out.CompletedAt = &completed
	}
	return &out
}
