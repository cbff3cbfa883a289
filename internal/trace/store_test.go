package trace

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/kenes-ai/kenes/internal/runtime"
)

func sampleRun(tenantID uuid.UUID, source runtime.Source, status runtime.Status, started time.Time) *runtime.AgentRun {
	run := runtime.NewRun(runtime.InboundEvent{
		TenantID: tenantID,
		Source:   source,
		Message:  "what is my balance",
	}, started)
	_ = run.AppendStep(runtime.Step{Agent: "finance", Tool: "get_balance", Result: "100", Status: runtime.StepSuccess})
	if status.Terminal() {
		_ = run.Finish(status, "your balance is 100", started.Add(time.Second))
	}
	return run
}

// storeUnderTest exercises the full Store surface against any backend.
func storeUnderTest(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	tenant := uuid.New()
	other := uuid.New()
	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	first := sampleRun(tenant, runtime.SourceTelegram, runtime.StatusCompleted, base)
	second := sampleRun(tenant, runtime.SourceWeb, runtime.StatusFailed, base.Add(time.Hour))
	foreign := sampleRun(other, runtime.SourceTelegram, runtime.StatusCompleted, base)

	for _, run := range []*runtime.AgentRun{first, second, foreign} {
		if err := s.SaveRun(ctx, run); err != nil {
			t.Fatalf("SaveRun: %v", err)
		}
	}

	got, err := s.GetRun(ctx, tenant, first.TraceID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Status != runtime.StatusCompleted || got.FinalOutput != "your balance is 100" {
		t.Errorf("got run = %+v", got)
	}
	if len(got.Steps) != 1 || got.Steps[0].Tool != "get_balance" {
		t.Errorf("steps = %+v", got.Steps)
	}
	if got.CompletedAt == nil {
		t.Error("CompletedAt lost in round trip")
	}

	// Tenant isolation: another tenant cannot read the run.
	if _, err := s.GetRun(ctx, other, first.TraceID); err != ErrNotFound {
		t.Errorf("cross-tenant GetRun: err = %v, want ErrNotFound", err)
	}
	if _, err := s.GetRun(ctx, tenant, "no-such-trace"); err != ErrNotFound {
		t.Errorf("missing trace: err = %v, want ErrNotFound", err)
	}

	// Listing is newest first and tenant scoped.
	runs, err := s.ListRuns(ctx, Query{TenantID: tenant})
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("listed %d runs, want 2", len(runs))
	}
	if runs[0].TraceID != second.TraceID {
		t.Errorf("runs not ordered newest first")
	}

	// Filters narrow by source, status and time window.
	runs, err = s.ListRuns(ctx, Query{TenantID: tenant, Source: runtime.SourceWeb})
	if err != nil || len(runs) != 1 || runs[0].TraceID != second.TraceID {
		t.Errorf("source filter: runs = %v, err = %v", runs, err)
	}
	runs, err = s.ListRuns(ctx, Query{TenantID: tenant, Status: runtime.StatusCompleted})
	if err != nil || len(runs) != 1 || runs[0].TraceID != first.TraceID {
		t.Errorf("status filter: runs = %v, err = %v", runs, err)
	}
	runs, err = s.ListRuns(ctx, Query{TenantID: tenant, From: base.Add(30 * time.Minute)})
	if err != nil || len(runs) != 1 || runs[0].TraceID != second.TraceID {
		t.Errorf("time filter: runs = %v, err = %v", runs, err)
	}
	runs, err = s.ListRuns(ctx, Query{TenantID: tenant, Limit: 1})
	if err != nil || len(runs) != 1 {
		t.Errorf("limit: runs = %v, err = %v", runs, err)
	}

	// Saving again with the same trace ID updates in place.
	second.FinalOutput = "amended"
	if err := s.SaveRun(ctx, second); err != nil {
		t.Fatalf("SaveRun update: %v", err)
	}
	got, err = s.GetRun(ctx, tenant, second.TraceID)
	if err != nil || got.FinalOutput != "amended" {
		t.Errorf("update: run = %+v, err = %v", got, err)
	}
}

func TestMemoryStore(t *testing.T) {
	storeUnderTest(t, NewMemoryStore())
}

func TestSQLiteStore(t *testing.T) {
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "traces.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	s, err := NewSQLiteStore(db)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	storeUnderTest(t, s)
}

func TestMemoryStoreCopiesOnWrite(t *testing.T) {
	s := NewMemoryStore()
	tenant := uuid.New()
	run := sampleRun(tenant, runtime.SourceWeb, runtime.StatusCompleted, time.Now())

	if err := s.SaveRun(context.Background(), run); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	run.FinalOutput = "mutated after save"

	got, err := s.GetRun(context.Background(), tenant, run.TraceID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.FinalOutput != "your balance is 100" {
		t.Errorf("stored run aliased caller memory: output = %q", got.FinalOutput)
	}
}
