package reminder

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteOccurrenceStore persists occurrences in SQLite so at-most-once
// holds across restarts. The primary key carries the atomicity: a claim
// is INSERT OR IGNORE, and exactly one inserter wins.
type SQLiteOccurrenceStore struct {
	db  *sql.DB
	now func() time.Time
}

const sqliteOccurrenceSchema = `
CREATE TABLE IF NOT EXISTS reminder_occurrences (
	entity_type    TEXT NOT NULL,
	entity_id      TEXT NOT NULL,
	occurrence_key TEXT NOT NULL,
	claimed_at     INTEGER NOT NULL,
	sent_at        INTEGER,
	PRIMARY KEY (entity_type, entity_id, occurrence_key)
);
`

// NewSQLiteOccurrenceStore opens (or creates) the occurrence table.
func NewSQLiteOccurrenceStore(db *sql.DB) (*SQLiteOccurrenceStore, error) {
	if _, err := db.Exec(sqliteOccurrenceSchema); err != nil {
		return nil, fmt.Errorf("create occurrence schema: %w", err)
	}
	return &SQLiteOccurrenceStore{db: db, now: time.Now}, nil
}

// Claim implements OccurrenceStore.
func (s *SQLiteOccurrenceStore) Claim(ctx context.Context, entityType, entityID, occurrenceKey string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO reminder_occurrences (entity_type, entity_id, occurrence_key, claimed_at)
		 VALUES (?, ?, ?, ?)`,
		entityType, entityID, occurrenceKey, s.now().Unix())
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
func (s *SQLiteOccurrenceStore) Confirm(ctx context.Context, entityType, entityID, occurrenceKey string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE reminder_occurrences SET sent_at = ?
		 WHERE entity_type = ? AND entity_id = ? AND occurrence_key = ?`,
		s.now().Unix(), entityType, entityID, occurrenceKey)
	if err != nil {
		return fmt.Errorf("confirm occurrence: %w", err)
	}
	return nil
}

// Release implements OccurrenceStore.
func (s *SQLiteOccurrenceStore) Release(ctx context.Context, entityType, entityID, occurrenceKey string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM reminder_occurrences
		 WHERE entity_type = ? AND entity_id = ? AND occurrence_key = ? AND sent_at IS NULL`,
		entityType, entityID, occurrenceKey)
	if err != nil {
		return fmt.Errorf("release occurrence: %w", err)
	}
	return nil
}

// SentAt implements OccurrenceStore.
func (s *SQLiteOccurrenceStore) SentAt(ctx context.Context, entityType, entityID, occurrenceKey string) (*time.Time, error) {
	var sent sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT sent_at FROM reminder_occurrences
		 WHERE entity_type = ? AND entity_id = ? AND occurrence_key = ?`,
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
	t := time.Unix(sent.Int64, 0)
	return &t, nil
}
