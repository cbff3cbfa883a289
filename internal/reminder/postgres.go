package reminder

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresOccurrenceStore persists occurrences in PostgreSQL. The claim
// is INSERT ... ON CONFLICT DO NOTHING on the primary key.
type PostgresOccurrenceStore struct {
	db  *sql.DB
	now func() time.Time
}

const postgresOccurrenceSchema = `
CREATE TABLE IF NOT EXISTS reminder_occurrences (
	entity_type    TEXT NOT NULL,
	entity_id      TEXT NOT NULL,
	occurrence_key TEXT NOT NULL,
	claimed_at     TIMESTAMPTZ NOT NULL,
	sent_at        TIMESTAMPTZ,
	PRIMARY KEY (entity_type, entity_id, occurrence_key)
);
`

// NewPostgresOccurrenceStore applies the schema on the given pool.
func NewPostgresOccurrenceStore(db *sql.DB) (*PostgresOccurrenceStore, error) {
	if _, err := db.Exec(postgresOccurrenceSchema); err != nil {
		return nil, fmt.Errorf("create occurrence schema: %w", err)
	}
	return &PostgresOccurrenceStore{db: db, now: time.Now}, nil
}

// Claim implements OccurrenceStore.
func (s *PostgresOccurrenceStore) Claim(ctx context.Context, entityType, entityID, occurrenceKey string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO reminder_occurrences (entity_type, entity_id, occurrence_key, claimed_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (entity_type, entity_id, occurrence_key) DO NOTHING`,
		entityType, entityID, occurrenceKey, s.now())
	if err != nil {
		return false, fmt.Errorf("claim occurrence: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim occurrence: %w", err)
	}
	return n == 1, nil
}

// Confirm implements OccurrenceStore.
func (s *PostgresOccurrenceStore) Confirm(ctx context.Context, entityType, entityID, occurrenceKey string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE reminder_occurrences SET sent_at = $1
		 WHERE entity_type = $2 AND entity_id = $3 AND occurrence_key = $4`,
		s.now(), entityType, entityID, occurrenceKey)
	if err != nil {
		return fmt.Errorf("confirm occurrence: %w", err)
	}
	return nil
}

// Release implements OccurrenceStore.
func (s *PostgresOccurrenceStore) Release(ctx context.Context, entityType, entityID, occurrenceKey string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM reminder_occurrences
		 WHERE entity_type = $1 AND entity_id = $2 AND occurrence_key = $3 AND sent_at IS NULL`,
		entityType, entityID, occurrenceKey)
	if err != nil {
		return fmt.Errorf("release occurrence: %w", err)
	}
	return nil
}

// SentAt implements OccurrenceStore.
func (s *PostgresOccurrenceStore) SentAt(ctx context.Context, entityType, entityID, occurrenceKey string) (*time.Time, error) {
	var sent sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT sent_at FROM reminder_occurrences
		 WHERE entity_type = $1 AND entity_id = $2 AND occurrence_key = $3`,
		entityType, entityID, occurrenceKey).Scan(&sent)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load occurrence: %w", err)
	}
	if !sent.Valid {
		return nil, nil
	}
	t := sent.Time
	return &t, nil
}
