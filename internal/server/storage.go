package server

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Storage persists reconciled records on the backend side. Each record is
// keyed by its client-assigned id so re-pushed batches are idempotent.
type Storage struct {
	db *sql.DB
}

// OpenStorage opens (or creates) the backend database at path.
func OpenStorage(path string) (*Storage, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("server: create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("server: open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("server: enable WAL: %w", err)
	}

	schema := `
		CREATE TABLE IF NOT EXISTS reconciled_records (
			entity       TEXT    NOT NULL,
			id           TEXT    NOT NULL,
			server_id    TEXT    NOT NULL,
			payload      TEXT    NOT NULL,
			last_updated INTEGER NOT NULL,
			received_at  TEXT    NOT NULL,
			PRIMARY KEY (entity, id)
		)`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("server: create schema: %w", err)
	}

	return &Storage{db: db}, nil
}

// Close closes the backend database.
func (st *Storage) Close() error {
	return st.db.Close()
}

// UpsertBatch reconciles one entity batch in a single transaction: either
// every record lands or none does. A record pushed again keeps the server
// id it was assigned the first time.
func (st *Storage) UpsertBatch(ctx context.Context, entity string, records []IncomingRecord) ([]Confirmation, error) {
	tx, err := st.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("server: begin tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	nowMillis := now.UnixMilli()
	confs := make([]Confirmation, 0, len(records))

	for _, rec := range records {
		var serverID string
		err := tx.QueryRowContext(ctx,
			"SELECT server_id FROM reconciled_records WHERE entity = ? AND id = ?",
			entity, rec.ID,
		).Scan(&serverID)
		switch {
		case err == sql.ErrNoRows:
			serverID = uuid.NewString()
		case err != nil:
			return nil, fmt.Errorf("server: lookup %s/%s: %w", entity, rec.ID, err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO reconciled_records (entity, id, server_id, payload, last_updated, received_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (entity, id) DO UPDATE SET
				payload = excluded.payload,
				last_updated = excluded.last_updated,
				received_at = excluded.received_at
		`, entity, rec.ID, serverID, string(rec.Raw), nowMillis, now.Format(time.RFC3339))
		if err != nil {
			return nil, fmt.Errorf("server: upsert %s/%s: %w", entity, rec.ID, err)
		}

		confs = append(confs, Confirmation{
			ID:          rec.ID,
			ServerID:    serverID,
			LastUpdated: nowMillis,
		})
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("server: commit: %w", err)
	}

	return confs, nil
}

// List returns every reconciled record of one entity type.
func (st *Storage) List(ctx context.Context, entity string) ([]StoredRecord, error) {
	rows, err := st.db.QueryContext(ctx, `
		SELECT id, server_id, payload, last_updated
		FROM reconciled_records
		WHERE entity = ?
		ORDER BY last_updated
	`, entity)
	if err != nil {
		return nil, fmt.Errorf("server: list %s: %w", entity, err)
	}
	defer rows.Close()

	var records []StoredRecord
	for rows.Next() {
		var rec StoredRecord
		var payload string
		if err := rows.Scan(&rec.ID, &rec.ServerID, &payload, &rec.LastUpdated); err != nil {
			return nil, err
		}
		rec.Payload = []byte(payload)
		records = append(records, rec)
	}

	return records, rows.Err()
}

// Count returns the number of reconciled records across all entities.
func (st *Storage) Count(ctx context.Context) (int, error) {
	var count int
	err := st.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM reconciled_records").Scan(&count)
	return count, err
}
