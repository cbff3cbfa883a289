package idempotency

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteGuard persists dedupe records in SQLite so admission survives
// restarts. Atomicity of Admit comes from the unique key plus
// INSERT OR IGNORE: exactly one inserter wins.
type SQLiteGuard struct {
	db  *sql.DB
	ttl time.Duration
	now func() time.Time
}

const sqliteGuardSchema = `
CREATE TABLE IF NOT EXISTS dedupe_records (
	tenant_id  TEXT NOT NULL,
	dedupe_key TEXT NOT NULL,
	state      TEXT NOT NULL,
	trace_id   TEXT NOT NULL DEFAULT '',
	response   TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	expires_at INTEGER NOT NULL,
	PRIMARY KEY (tenant_id, dedupe_key)
);
CREATE INDEX IF NOT EXISTS idx_dedupe_expires ON dedupe_records(expires_at);
`

// NewSQLiteGuard opens (or creates) the guard table on the given database.
func NewSQLiteGuard(db *sql.DB, ttl time.Duration) (*SQLiteGuard, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if _, err := db.Exec(sqliteGuardSchema); err != nil {
		return nil, fmt.Errorf("create dedupe schema: %w", err)
	}
	return &SQLiteGuard{db: db, ttl: ttl, now: time.Now}, nil
}

// Admit implements Guard.
func (g *SQLiteGuard) Admit(ctx context.Context, tenantID uuid.UUID, key string) (*Admission, error) {
	now := g.now()

	// Expired rows are cleared first so their keys can be claimed again.
	if _, err := g.db.ExecContext(ctx,
		`DELETE FROM dedupe_records WHERE tenant_id = ? AND dedupe_key = ? AND expires_at <= ?`,
		tenantID.String(), key, now.Unix()); err != nil {
		return nil, fmt.Errorf("expire dedupe record: %w", err)
	}

	res, err := g.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO dedupe_records (tenant_id, dedupe_key, state, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?)`,
		tenantID.String(), key, string(StateProcessing), now.Unix(), now.Add(g.ttl).Unix())
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
	var tenant string
	var created, expires int64
	var state string
	err = g.db.QueryRowContext(ctx,
		`SELECT tenant_id, dedupe_key, state, trace_id, response, created_at, expires_at
		 FROM dedupe_records WHERE tenant_id = ? AND dedupe_key = ?`,
		tenantID.String(), key).
		Scan(&tenant, &rec.Key, &state, &rec.TraceID, &rec.Response, &created, &expires)
	if err != nil {
		return nil, fmt.Errorf("load dedupe record: %w", err)
	}
	rec.TenantID = tenantID
	rec.State = State(state)
	rec.CreatedAt = time.Unix(created, 0)
	rec.ExpiresAt = time.Unix(expires, 0)
	return &Admission{Prior: &rec}, nil
}

// Complete implements Guard.
func (g *SQLiteGuard) Complete(ctx context.Context, tenantID uuid.UUID, key, traceID, response string) error {
	res, err := g.db.ExecContext(ctx,
		`UPDATE dedupe_records SET state = ?, trace_id = ?, response = ?
		 WHERE tenant_id = ? AND dedupe_key = ? AND expires_at > ?`,
		string(StateDone), traceID, response, tenantID.String(), key, g.now().Unix())
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
func (g *SQLiteGuard) Release(ctx context.Context, tenantID uuid.UUID, key string) error {
	_, err := g.db.ExecContext(ctx,
		`DELETE FROM dedupe_records WHERE tenant_id = ? AND dedupe_key = ?`,
		tenantID.String(), key)
	if err != nil {
		return fmt.Errorf("release dedupe record: %w", err)
	}
	return nil
}
