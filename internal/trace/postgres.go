package trace

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/kenes-ai/kenes/internal/runtime"
)

// PostgresStore persists run traces in PostgreSQL for multi-node
// deployments. Input and steps go into JSONB so they stay queryable with
// SQL tooling.
type PostgresStore struct {
	db *sql.DB
}

const postgresTraceSchema = `
CREATE TABLE IF NOT EXISTS agent_runs (
	trace_id         TEXT PRIMARY KEY,
	tenant_id        UUID NOT NULL,
	source           TEXT NOT NULL,
	conversation_ref TEXT NOT NULL DEFAULT '',
	input            JSONB NOT NULL,
	steps            JSONB NOT NULL,
	status           TEXT NOT NULL,
	final_output     TEXT NOT NULL DEFAULT '',
	started_at       TIMESTAMPTZ NOT NULL,
	completed_at     TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_runs_tenant_started ON agent_runs(tenant_id, started_at DESC);
`

// NewPostgresStore opens a store over an existing connection pool and
// applies the schema.
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	if _, err := db.Exec(postgresTraceSchema); err != nil {
		return nil, fmt.Errorf("create trace schema: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// OpenPostgres dials PostgreSQL with the given DSN and verifies the
// connection before handing the pool to NewPostgresStore.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// SaveRun implements runtime.TraceStore.
func (s *PostgresStore) SaveRun(ctx context.Context, run *runtime.AgentRun) error {
	input, err := json.Marshal(run.Input)
	if err != nil {
		return fmt.Errorf("marshal run input: %w", err)
	}
	steps, err := json.Marshal(run.Steps)
	if err != nil {
		return fmt.Errorf("marshal run steps: %w", err)
	}

	var completed sql.NullTime
	if run.CompletedAt != nil {
		completed = sql.NullTime{Time: *run.CompletedAt, Valid: true}
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO agent_runs (trace_id, tenant_id, source, conversation_ref, input, steps, status, final_output, started_at, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (trace_id) DO UPDATE SET
		   steps = EXCLUDED.steps,
		   status = EXCLUDED.status,
		   final_output = EXCLUDED.final_output,
		   completed_at = EXCLUDED.completed_at`,
		run.TraceID, run.TenantID, string(run.Source), run.ConversationRef,
		input, steps, string(run.Status), run.FinalOutput,
		run.StartedAt, completed)
	if err != nil {
		return fmt.Errorf("save run %s: %w", run.TraceID, err)
	}
	return nil
}

// GetRun implements Store.
func (s *PostgresStore) GetRun(ctx context.Context, tenantID uuid.UUID, traceID string) (*runtime.AgentRun, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT trace_id, tenant_id, source, conversation_ref, input, steps, status, final_output, started_at, completed_at
		 FROM agent_runs WHERE trace_id = $1 AND tenant_id = $2`,
		traceID, tenantID)
	run, err := scanPostgresRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return run, err
}

// ListRuns implements Store.
func (s *PostgresStore) ListRuns(ctx context.Context, q Query) ([]*runtime.AgentRun, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}

	clauses := []string{"tenant_id = $1"}
	args := []any{q.TenantID}
	n := 2
	add := func(clause string, v any) {
		clauses = append(clauses, fmt.Sprintf(clause, n))
		args = append(args, v)
		n++
	}
	if q.Source != "" {
		add("source = $%d", string(q.Source))
	}
	if q.Status != "" {
		add("status = $%d", string(q.Status))
	}
	if !q.From.IsZero() {
		add("started_at >= $%d", q.From)
	}
	if !q.To.IsZero() {
		add("started_at <= $%d", q.To)
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx,
		`SELECT trace_id, tenant_id, source, conversation_ref, input, steps, status, final_output, started_at, completed_at
		 FROM agent_runs WHERE `+strings.Join(clauses, " AND ")+
			fmt.Sprintf(" ORDER BY started_at DESC LIMIT $%d", n), args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []*runtime.AgentRun
	for rows.Next() {
		run, err := scanPostgresRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func scanPostgresRun(row rowScanner) (*runtime.AgentRun, error) {
	var run runtime.AgentRun
	var source, status string
	var input, steps []byte
	var completed sql.NullTime

	err := row.Scan(&run.TraceID, &run.TenantID, &source, &run.ConversationRef,
		&input, &steps, &status, &run.FinalOutput, &run.StartedAt, &completed)
	if err != nil {
		return nil, err
	}

	run.Source = runtime.Source(source)
	run.Status = runtime.Status(status)
	if err := json.Unmarshal(input, &run.Input); err != nil {
		return nil, fmt.Errorf("unmarshal run input: %w", err)
	}
	if err := json.Unmarshal(steps, &run.Steps); err != nil {
		return nil, fmt.Errorf("unmarshal run steps: %w", err)
	}
	if completed.Valid {
		t := completed.Time
		run.CompletedAt = &t
	}
	return &run, nil
}
