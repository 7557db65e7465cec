package agrosync

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// appendAudit writes one audit entry inside the caller's transaction and
// enforces the ring-buffer retention bound. Runs as part of every record
// mutation: no mutation commits without its audit entry, and an audit
// write failure fails the whole mutation.
func (s *Store) appendAudit(tx *sql.Tx, entry AuditEntry) error {
	if entry.ID == "" {
		entry.ID = ulid.Make().String()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	if entry.UserID == "" {
		entry.UserID = DefaultActor
	}

	_, err := tx.Exec(`
		INSERT INTO audit_log (id, timestamp, user_id, action, entity, entity_id, details, previous_data, new_data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		entry.ID,
		entry.Timestamp.Format(time.RFC3339Nano),
		entry.UserID,
		string(entry.Action),
		string(entry.Entity),
		entry.EntityID,
		entry.Details,
		nullIfEmpty(entry.PreviousData),
		nullIfEmpty(entry.NewData),
	)
	if err != nil {
		return fmt.Errorf("store: append audit: %w", err)
	}

	// Ring-buffer retention: drop the oldest entries beyond the bound.
	_, err = tx.Exec(`
		DELETE FROM audit_log WHERE seq NOT IN (
			SELECT seq FROM audit_log ORDER BY seq DESC LIMIT ?
		)
	`, MaxAuditEntries)
	if err != nil {
		return fmt.Errorf("store: trim audit: %w", err)
	}

	return nil
}

// RecentAudit returns the last n audit entries in insertion order.
func (s *Store) RecentAudit(n int) ([]AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.Query(`
		SELECT id, timestamp, user_id, action, entity, entity_id, details, previous_data, new_data
		FROM (
			SELECT seq, id, timestamp, user_id, action, entity, entity_id, details, previous_data, new_data
			FROM audit_log ORDER BY seq DESC LIMIT ?
		) ORDER BY seq
	`, n)
	if err != nil {
		return nil, fmt.Errorf("store: query audit: %w", err)
	}
	defer rows.Close()

	var entries []AuditEntry
	for rows.Next() {
		var (
			entry    AuditEntry
			ts       string
			action   string
			entity   string
			prevData sql.NullString
			newData  sql.NullString
		)
		if err := rows.Scan(&entry.ID, &ts, &entry.UserID, &action, &entity, &entry.EntityID, &entry.Details, &prevData, &newData); err != nil {
			return nil, err
		}
		entry.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		entry.Action = AuditAction(action)
		entry.Entity = EntityType(entity)
		if prevData.Valid {
			entry.PreviousData = prevData.String
		}
		if newData.Valid {
			entry.NewData = newData.String
		}
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

// ExportAudit returns the audit trail in the shape backups carry it: the
// most recent ExportAuditEntries entries with per-entry details capped at
// MaxAuditDetailLen characters to bound payload size.
func (s *Store) ExportAudit() ([]AuditEntry, error) {
	entries, err := s.RecentAudit(ExportAuditEntries)
	if err != nil {
		return nil, err
	}

	for i := range entries {
		if len(entries[i].Details) > MaxAuditDetailLen {
			entries[i].Details = entries[i].Details[:MaxAuditDetailLen]
		}
		if len(entries[i].PreviousData) > MaxAuditDetailLen {
			entries[i].PreviousData = entries[i].PreviousData[:MaxAuditDetailLen]
		}
		if len(entries[i].NewData) > MaxAuditDetailLen {
			entries[i].NewData = entries[i].NewData[:MaxAuditDetailLen]
		}
	}

	return entries, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
