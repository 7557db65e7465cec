package agrosync

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/agrobodega/agrosync/internal/store/migrations"
	"github.com/oklog/ulid/v2"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

const schemaVersion = "1"

// Metadata keys. The sync and export cursors are deliberately separate;
// the two paths must never share cursor state.
const (
	metaKeySchemaVersion = "schema_version"
	metaKeyLastSync      = "last_sync"
	metaKeyLastExport    = "last_export"
)

// Store manages the local SQLite record database. It is the single owner
// of all syncable records and of the audit log; every mutation writes its
// audit entry in the same transaction as the record change.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
	path   string
}

// NewStore opens or creates a local record store.
func NewStore(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Enable WAL mode for better concurrent access
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	store := &Store{db: db, path: path}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	return store, nil
}

func (s *Store) migrate() error {
	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("store: set goose dialect: %w", err)
	}
	if err := goose.Up(s.db, "."); err != nil {
		return fmt.Errorf("store: run migrations: %w", err)
	}

	_, err := s.db.Exec(`
		INSERT OR IGNORE INTO metadata (key, value) VALUES (?, ?)
	`, metaKeySchemaVersion, schemaVersion)
	return err
}

// Close closes the store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	return s.db.Close()
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

// Insert stores a new record and its audit entry in one transaction.
// The record gets a fresh ULID, syncStatus pending_create, and
// lastUpdated set to the current time.
func (s *Store) Insert(entity EntityType, name string, payload any, actor, details string) (*Record, error) {
	if !entity.IsValid() {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntity, entity)
	}
	if name == "" {
		return nil, ErrEmptyName
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("store: marshal payload: %w", err)
	}

	rec := &Record{
		EntityType:  entity,
		ID:          ulid.Make().String(),
		Status:      StatusPendingCreate,
		LastUpdated: nowMillis(),
		Name:        name,
		Payload:     raw,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("store: begin transaction: %w", err)
	}
	defer tx.Rollback() // no-op if committed

	_, err = tx.Exec(`
		INSERT INTO records (entity_type, id, server_id, sync_status, last_updated, name, payload)
		VALUES (?, ?, NULL, ?, ?, ?, ?)
	`, string(entity), rec.ID, string(rec.Status), rec.LastUpdated, rec.Name, string(rec.Payload))
	if err != nil {
		return nil, fmt.Errorf("store: insert record: %w", err)
	}

	if err := s.appendAudit(tx, AuditEntry{
		UserID:   actor,
		Action:   ActionCreate,
		Entity:   entity,
		EntityID: rec.ID,
		Details:  details,
		NewData:  string(raw),
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("store: commit insert: %w", err)
	}
	return rec, nil
}

// Update replaces a record's payload and display name. The record becomes
// pending_update unless it is still pending_create: a never-confirmed
// record keeps its create semantics until the first successful sync.
// lastUpdated always moves strictly forward.
func (s *Store) Update(entity EntityType, id, name string, payload any, actor, details string) (*Record, error) {
	if !entity.IsValid() {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntity, entity)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("store: marshal payload: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	prev, err := s.getRecord(entity, id)
	if err != nil {
		return nil, err
	}

	status := StatusPendingUpdate
	if prev.Status == StatusPendingCreate {
		status = StatusPendingCreate
	}

	lu := nowMillis()
	if lu <= prev.LastUpdated {
		lu = prev.LastUpdated + 1
	}
	if name == "" {
		name = prev.Name
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("store: begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		UPDATE records SET sync_status = ?, last_updated = ?, name = ?, payload = ?
		WHERE entity_type = ? AND id = ?
	`, string(status), lu, name, string(raw), string(entity), id)
	if err != nil {
		return nil, fmt.Errorf("store: update record: %w", err)
	}

	if err := s.appendAudit(tx, AuditEntry{
		UserID:       actor,
		Action:       ActionUpdate,
		Entity:       entity,
		EntityID:     id,
		Details:      details,
		PreviousData: string(prev.Payload),
		NewData:      string(raw),
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("store: commit update: %w", err)
	}

	rec := *prev
	rec.Status = status
	rec.LastUpdated = lu
	rec.Name = name
	rec.Payload = raw
	return &rec, nil
}

// Delete removes a record outright. Local deletes are final: a record
// that was already synced simply stops being uploaded, and no tombstone
// is propagated to the server. Dependents that reference the deleted
// record by id keep the reference string but are annotated as detached in
// the same transaction.
func (s *Store) Delete(entity EntityType, id, actor, details string) error {
	if !entity.IsValid() {
		return fmt.Errorf("%w: %s", ErrUnknownEntity, entity)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	prev, err := s.getRecord(entity, id)
	if err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		DELETE FROM records WHERE entity_type = ? AND id = ?
	`, string(entity), id); err != nil {
		return fmt.Errorf("store: delete record: %w", err)
	}

	if err := s.annotateDetached(tx, entity, id); err != nil {
		return err
	}

	if err := s.appendAudit(tx, AuditEntry{
		UserID:       actor,
		Action:       ActionDelete,
		Entity:       entity,
		EntityID:     id,
		Details:      details,
		PreviousData: string(prev.Payload),
	}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit delete: %w", err)
	}
	return nil
}

// detachRefs maps a deletable referenced entity to the payload fields its
// dependents use: the id field stays untouched, the display-name field
// gets the detached annotation.
var detachRefs = map[EntityType]struct {
	dependents []EntityType
	idField    string
	nameField  string
}{
	EntityLot:       {[]EntityType{EntityLabor, EntityFinance, EntitySanitary, EntityHarvest}, "costCenterId", "costCenterName"},
	EntityPersonnel: {[]EntityType{EntityLabor}, "personnelId", "personnelName"},
	EntityInventory: {[]EntityType{EntityMovement}, "itemId", "itemName"},
}

// detachedSuffix marks a dependent whose referenced entity was deleted.
const detachedSuffix = " (Eliminado)"

// annotateDetached rewrites dependents of a deleted record: the id
// reference is preserved, the name field is suffixed, and the dependent
// becomes pending so the annotation syncs. Dependents are never deleted
// (no cascade).
func (s *Store) annotateDetached(tx *sql.Tx, deleted EntityType, deletedID string) error {
	ref, ok := detachRefs[deleted]
	if !ok {
		return nil
	}

	type patch struct {
		entity  EntityType
		id      string
		status  SyncStatus
		lu      int64
		payload []byte
	}
	var patches []patch

	for _, dep := range ref.dependents {
		rows, err := tx.Query(`
			SELECT id, sync_status, last_updated, payload FROM records WHERE entity_type = ?
		`, string(dep))
		if err != nil {
			return fmt.Errorf("store: query dependents: %w", err)
		}

		for rows.Next() {
			var (
				id     string
				status string
				lu     int64
				rawStr string
			)
			if err := rows.Scan(&id, &status, &lu, &rawStr); err != nil {
				rows.Close()
				return fmt.Errorf("store: scan dependent: %w", err)
			}

			var fields map[string]any
			if err := json.Unmarshal([]byte(rawStr), &fields); err != nil {
				continue // malformed payload, leave untouched
			}
			if refID, _ := fields[ref.idField].(string); refID != deletedID {
				continue
			}
			name, _ := fields[ref.nameField].(string)
			if name == "" || strings.HasSuffix(name, detachedSuffix) {
				continue
			}
			fields[ref.nameField] = name + detachedSuffix

			raw, err := json.Marshal(fields)
			if err != nil {
				continue
			}

			newStatus := StatusPendingUpdate
			if SyncStatus(status) == StatusPendingCreate {
				newStatus = StatusPendingCreate
			}
			newLU := nowMillis()
			if newLU <= lu {
				newLU = lu + 1
			}
			patches = append(patches, patch{entity: dep, id: id, status: newStatus, lu: newLU, payload: raw})
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()
	}

	for _, p := range patches {
		if _, err := tx.Exec(`
			UPDATE records SET sync_status = ?, last_updated = ?, payload = ?
			WHERE entity_type = ? AND id = ?
		`, string(p.status), p.lu, string(p.payload), string(p.entity), p.id); err != nil {
			return fmt.Errorf("store: annotate dependent: %w", err)
		}
	}

	return nil
}

// Get retrieves a record by id.
func (s *Store) Get(entity EntityType, id string) (*Record, error) {
	if !entity.IsValid() {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntity, entity)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	return s.getRecord(entity, id)
}

func (s *Store) getRecord(entity EntityType, id string) (*Record, error) {
	row := s.db.QueryRow(`
		SELECT entity_type, id, server_id, sync_status, last_updated, name, payload
		FROM records WHERE entity_type = ? AND id = ?
	`, string(entity), id)

	return scanRecord(row)
}

// List returns every record of an entity type, oldest first.
func (s *Store) List(entity EntityType) ([]Record, error) {
	return s.queryRecords(entity, `
		SELECT entity_type, id, server_id, sync_status, last_updated, name, payload
		FROM records WHERE entity_type = ? ORDER BY last_updated
	`, string(entity))
}

// Pending returns the records eligible for upload: those whose status is
// pending_create or pending_update. The result is a snapshot at call
// time; records written afterwards are picked up by the next cycle.
func (s *Store) Pending(entity EntityType) ([]Record, error) {
	return s.queryRecords(entity, `
		SELECT entity_type, id, server_id, sync_status, last_updated, name, payload
		FROM records WHERE entity_type = ? AND sync_status IN (?, ?)
		ORDER BY last_updated
	`, string(entity), string(StatusPendingCreate), string(StatusPendingUpdate))
}

// Since returns records modified after the given unix-millisecond
// timestamp. Used by the reporting export path only; it shares no cursor
// with Pending.
func (s *Store) Since(entity EntityType, sinceMillis int64) ([]Record, error) {
	return s.queryRecords(entity, `
		SELECT entity_type, id, server_id, sync_status, last_updated, name, payload
		FROM records WHERE entity_type = ? AND last_updated > ?
		ORDER BY last_updated
	`, string(entity), sinceMillis)
}

func (s *Store) queryRecords(entity EntityType, query string, args ...any) ([]Record, error) {
	if !entity.IsValid() {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntity, entity)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query records: %w", err)
	}
	defer rows.Close()

	var results []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, *rec)
	}

	return results, rows.Err()
}

// ApplyConfirmations reconciles server acknowledgements into local
// records. uploadedAt maps record id to the lastUpdated value that was in
// the uploaded snapshot; a record modified while the batch was in flight
// keeps its pending status (and local timestamp) and re-uploads next
// cycle. serverId is first-assignment-only: once set it is never
// overwritten with a different value.
func (s *Store) ApplyConfirmations(entity EntityType, confs []Confirmation, uploadedAt map[string]int64) (int, error) {
	if !entity.IsValid() {
		return 0, fmt.Errorf("%w: %s", ErrUnknownEntity, entity)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrStoreClosed
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("store: begin transaction: %w", err)
	}
	defer tx.Rollback()

	confirmed := 0
	for _, conf := range confs {
		if conf.ServerID != "" {
			if _, err := tx.Exec(`
				UPDATE records SET server_id = ?
				WHERE entity_type = ? AND id = ? AND (server_id IS NULL OR server_id = '')
			`, conf.ServerID, string(entity), conf.ID); err != nil {
				return 0, fmt.Errorf("store: assign server id: %w", err)
			}
		}

		snap, ok := uploadedAt[conf.ID]
		if !ok {
			continue
		}

		res, err := tx.Exec(`
			UPDATE records SET sync_status = ?, last_updated = ?
			WHERE entity_type = ? AND id = ? AND last_updated = ?
		`, string(StatusSynced), conf.LastUpdated, string(entity), conf.ID, snap)
		if err != nil {
			return 0, fmt.Errorf("store: confirm record: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			confirmed++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("store: commit confirmations: %w", err)
	}
	return confirmed, nil
}

// GetMetadata returns a metadata value, or empty string when unset.
func (s *Store) GetMetadata(key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return "", ErrStoreClosed
	}

	var value string
	err := s.db.QueryRow(`SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// SetMetadata stores a metadata value.
func (s *Store) SetMetadata(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	_, err := s.db.Exec(`
		INSERT INTO metadata (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

// LastSync returns the authoritative sync cursor. Zero time when never synced.
func (s *Store) LastSync() (time.Time, error) {
	return s.metaTime(metaKeyLastSync)
}

// SetLastSync advances the authoritative sync cursor. Written only after
// a fully successful entity-type batch.
func (s *Store) SetLastSync(t time.Time) error {
	return s.SetMetadata(metaKeyLastSync, t.UTC().Format(time.RFC3339))
}

// LastExport returns the reporting export cursor, independent of LastSync.
func (s *Store) LastExport() (time.Time, error) {
	return s.metaTime(metaKeyLastExport)
}

// SetLastExport advances the reporting export cursor.
func (s *Store) SetLastExport(t time.Time) error {
	return s.SetMetadata(metaKeyLastExport, t.UTC().Format(time.RFC3339))
}

func (s *Store) metaTime(key string) (time.Time, error) {
	value, err := s.GetMetadata(key)
	if err != nil || value == "" {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, nil // unreadable cursor resets to epoch
	}
	return t, nil
}

// Stats returns store statistics.
func (s *Store) Stats() (*StoreStats, error) {
	s.mu.RLock()

	if s.closed {
		s.mu.RUnlock()
		return nil, ErrStoreClosed
	}

	stats := &StoreStats{PerEntity: make(map[EntityType]int)}

	rows, err := s.db.Query(`SELECT entity_type, COUNT(*) FROM records GROUP BY entity_type`)
	if err != nil {
		s.mu.RUnlock()
		return nil, err
	}
	for rows.Next() {
		var et string
		var n int
		if err := rows.Scan(&et, &n); err != nil {
			rows.Close()
			s.mu.RUnlock()
			return nil, err
		}
		stats.PerEntity[EntityType(et)] = n
		stats.RecordCount += n
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		s.mu.RUnlock()
		return nil, err
	}
	rows.Close()

	if err := s.db.QueryRow(`
		SELECT COUNT(*) FROM records WHERE sync_status IN (?, ?)
	`, string(StatusPendingCreate), string(StatusPendingUpdate)).Scan(&stats.PendingCount); err != nil {
		s.mu.RUnlock()
		return nil, err
	}

	if err := s.db.QueryRow(`SELECT COUNT(*) FROM audit_log`).Scan(&stats.AuditCount); err != nil {
		s.mu.RUnlock()
		return nil, err
	}
	s.mu.RUnlock()

	lastSync, err := s.LastSync()
	if err != nil {
		return nil, err
	}
	lastExport, err := s.LastExport()
	if err != nil {
		return nil, err
	}
	stats.LastSync = lastSync
	stats.LastExport = lastExport

	return stats, nil
}

// scanner abstracts the Scan method shared by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (*Record, error) {
	var (
		rec      Record
		et       string
		serverID sql.NullString
		status   string
		payload  string
	)

	err := sc.Scan(&et, &rec.ID, &serverID, &status, &rec.LastUpdated, &rec.Name, &payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rec.EntityType = EntityType(et)
	rec.Status = SyncStatus(status)
	if serverID.Valid {
		rec.ServerID = serverID.String
	}
	rec.Payload = json.RawMessage(payload)

	return &rec, nil
}
