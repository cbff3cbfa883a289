package idempotency

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

// PostgresGuard persists dedupe records in PostgreSQL. Atomicity of
// Admit comes from the primary key plus ON CONFLICT DO NOTHING.
type PostgresGuard struct {
	db  *sql.DB
	ttl time.Duration
	now func() time.Time
}

const postgresGuardSchema = `
CREATE TABLE IF NOT EXISTS dedupe_records (
	tenant_id  UUID NOT NULL,
	dedupe_key TEXT NOT NULL,
	state      TEXT NOT NULL,
	trace_id   TEXT NOT NULL DEFAULT '',
	response   TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (tenant_id, dedupe_key)
);
CREATE INDEX IF NOT EXISTS idx_dedupe_expires ON dedupe_records(expires_at);
`

// NewPostgresGuard applies the schema on the given pool.
func NewPostgresGuard(db *sql.DB, ttl time.Duration) (*PostgresGuard, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if _, err := db.Exec(postgresGuardSchema); err != nil {
		return nil, fmt.Errorf("create dedupe schema: %w", err)
	}
	return &PostgresGuard{db: db, ttl: ttl, now: time.Now}, nil
}

// Admit implements Guard.
func (g *PostgresGuard) Admit(ctx context.Context, tenantID uuid.UUID, key string) (*Admission, error) {
	now := g.now()

	if _, err := g.db.ExecContext(ctx,
		`DELETE FROM dedupe_records WHERE tenant_id = $1 AND dedupe_key = $2 AND expires_at <= $3`,
		tenantID, key, now); err != nil {
		return nil, fmt.Errorf("expire dedupe record: %w", err)
	}

	res, err := g.db.ExecContext(ctx,
		`INSERT INTO dedupe_records (tenant_id, dedupe_key, state, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (tenant_id, dedupe_key) DO NOTHING`,
		tenantID, key, string(StateProcessing), now, now.Add(g.ttl))
	if err != nil {
		return nil, fmt.Errorf("claim dedupe key: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("claim dedupe key: %w", err)
	}
	if n == 1 {
		return &Admission{FirstDelivery: true}, nil
	}

	var rec Record
	var state string
	err = g.db.QueryRowContext(ctx,
		`SELECT dedupe_key, state, trace_id, response, created_at, expires_at
		 FROM dedupe_records WHERE tenant_id = $1 AND dedupe_key = $2`,
		tenantID, key).
		Scan(&rec.Key, &state, &rec.TraceID, &rec.Response, &rec.CreatedAt, &rec.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("load dedupe record: %w", err)
	}
	rec.TenantID = tenantID
	rec.State = State(state)
	return &Admission{Prior: &rec}, nil
}

// Complete implements Guard.
func (g *PostgresGuard) Complete(ctx context.Context, tenantID uuid.UUID, key, traceID, response string) error {
	res, err := g.db.ExecContext(ctx,
		`UPDATE dedupe_records SET state = $1, trace_id = $2, response = $3
		 WHERE tenant_id = $4 AND dedupe_key = $5 AND expires_at > $6`,
		string(StateDone), traceID, response, tenantID, key, g.now())
	if err != nil {
		return fmt.Errorf("complete dedupe record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("complete dedupe record: %w", err)
	}
	if n == 0 {
		return ErrUnknownKey
	}
	return nil
}

// Release implements Guard.
func (g *PostgresGuard) Release(ctx context.Context, tenantID uuid.UUID, key string) error {
	_, err := g.db.ExecContext(ctx,
		`DELETE FROM dedupe_records WHERE tenant_id = $1 AND dedupe_key = $2`,
		tenantID, key)
	if err != nil {
		return fmt.Errorf("release dedupe record: %w", err)
	}
	return nil
}
