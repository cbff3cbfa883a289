package trace

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/kenes-ai/kenes/internal/runtime"
)

// SQLiteStore persists run traces in SQLite, the default for single-node
// deployments. Steps and input are stored as JSON columns; the filterable
// fields get their own columns and indexes.
type SQLiteStore struct {
	db *sql.DB
}

const sqliteTraceSchema = `
CREATE TABLE IF NOT EXISTS agent_runs (
	trace_id         TEXT PRIMARY KEY,
	tenant_id        TEXT NOT NULL,
	source           TEXT NOT NULL,
	conversation_ref TEXT NOT NULL DEFAULT '',
	input            TEXT NOT NULL,
	steps            TEXT NOT NULL,
	status           TEXT NOT NULL,
	final_output     TEXT NOT NULL DEFAULT '',
	started_at       INTEGER NOT NULL,
	completed_at     INTEGER
);
CREATE INDEX IF NOT EXISTS idx_runs_tenant_started ON agent_runs(tenant_id, started_at DESC);
`

// NewSQLiteStore opens (or creates) the trace table on the given database.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if _, err := db.Exec(sqliteTraceSchema); err != nil {
		return nil, fmt.Errorf("create trace schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// SaveRun implements runtime.TraceStore via upsert keyed on trace ID.
func (s *SQLiteStore) SaveRun(ctx context.Context, run *runtime.AgentRun) error {
	input, err := json.Marshal(run.Input)
	if err != nil {
		return fmt.Errorf("marshal run input: %w", err)
	}
	steps, err := json.Marshal(run.Steps)
	if err != nil {
		return fmt.Errorf("marshal run steps: %w", err)
	}

	var completed sql.NullInt64
	if run.CompletedAt != nil {
		completed = sql.NullInt64{Int64: run.CompletedAt.UnixNano(), Valid: true}
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO agent_runs (trace_id, tenant_id, source, conversation_ref, input, steps, status, final_output, started_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(trace_id) DO UPDATE SET
		   steps = excluded.steps,
		   status = excluded.status,
		   final_output = excluded.final_output,
		   completed_at = excluded.completed_at`,
		run.TraceID, run.TenantID.String(), string(run.Source), run.ConversationRef,
		string(input), string(steps), string(run.Status), run.FinalOutput,
		run.StartedAt.UnixNano(), completed)
	if err != nil {
		return fmt.Errorf("save run %s: %w", run.TraceID, err)
	}
	return nil
}

// GetRun implements Store.
func (s *SQLiteStore) GetRun(ctx context.Context, tenantID uuid.UUID, traceID string) (*runtime.AgentRun, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT trace_id, tenant_id, source, conversation_ref, input, steps, status, final_output, started_at, completed_at
		 FROM agent_runs WHERE trace_id = ? AND tenant_id = ?`,
		traceID, tenantID.String())
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return run, err
}

// ListRuns implements Store.
func (s *SQLiteStore) ListRuns(ctx context.Context, q Query) ([]*runtime.AgentRun, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}

	clauses := []string{"tenant_id = ?"}
	args := []any{q.TenantID.String()}
	if q.Source != "" {
		clauses = append(clauses, "source = ?")
		args = append(args, string(q.Source))
	}
	if q.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(q.Status))
	}
	if !q.From.IsZero() {
		clauses = append(clauses, "started_at >= ?")
		args = append(args, q.From.UnixNano())
	}
	if !q.To.IsZero() {
		clauses = append(clauses, "started_at <= ?")
		args = append(args, q.To.UnixNano())
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx,
		`SELECT trace_id, tenant_id, source, conversation_ref, input, steps, status, final_output, started_at, completed_at
		 FROM agent_runs WHERE `+strings.Join(clauses, " AND ")+`
		 ORDER BY started_at DESC LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []*runtime.AgentRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*runtime.AgentRun, error) {
	var run runtime.AgentRun
	var tenant, source, status, input, steps string
	var started int64
	var completed sql.NullInt64

	err := row.Scan(&run.TraceID, &tenant, &source, &run.ConversationRef,
		&input, &steps, &status, &run.FinalOutput, &started, &completed)
	if err != nil {
		return nil, err
	}

	run.TenantID, err = uuid.Parse(tenant)
	if err != nil {
		return nil, fmt.Errorf("parse tenant id: %w", err)
	}
	run.Source = runtime.Source(source)
	run.Status = runtime.Status(status)
	if err := json.Unmarshal([]byte(input), &run.Input); err != nil {
		return nil, fmt.Errorf("unmarshal run input: %w", err)
	}
	if err := json.Unmarshal([]byte(steps), &run.Steps); err != nil {
		return nil, fmt.Errorf("unmarshal run steps: %w", err)
	}
	run.StartedAt = time.Unix(0, started)
	if completed.Valid {
		t := time.Unix(0, completed.Int64)
		run.CompletedAt = &t
	}
	return &run, nil
}
