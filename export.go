package agrosync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	cloudsync "github.com/agrobodega/agrosync/internal/sync"
)

// ExportVersion is the current version of the file export format.
const ExportVersion = "1.0"

// Sheet payload sync types.
const (
	exportTypeDelta = "AUTO_DELTA"
	exportTypeFull  = "MANUAL_FULL"
)

// sheetPayload is the body posted to the reporting sink. Delta exports
// carry only the reporting entities changed since the last export; full
// backups carry every entity plus the bounded audit trail.
type sheetPayload struct {
	SyncType  string                      `json:"syncType"`
	SyncDate  string                      `json:"syncDate"`
	Movements []map[string]any            `json:"movements,omitempty"`
	Harvests  []map[string]any            `json:"harvests,omitempty"`
	Labor     []map[string]any            `json:"labor,omitempty"`
	Data      map[string][]map[string]any `json:"data,omitempty"`
	AuditLog  []AuditEntry                `json:"auditLog,omitempty"`
}

// SheetExporter pushes read-only copies of local records to a reporting
// webhook (a spreadsheet bridge). It is entirely separate from the
// authoritative sync path: it never reads or advances the sync cursor and
// its failures never touch local data.
type SheetExporter struct {
	url        string
	httpClient *http.Client
}

// NewSheetExporter creates an exporter for the given webhook URL.
func NewSheetExporter(url string) *SheetExporter {
	return &SheetExporter{
		url: strings.TrimSpace(url),
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// WithHTTPClient sets a custom http.Client (for testing or custom timeouts).
func (e *SheetExporter) WithHTTPClient(client *http.Client) *SheetExporter {
	e.httpClient = client
	return e
}

// ExportDelta posts reporting records changed since the last export. On
// transport success the export cursor advances; the sink's response body
// is ignored.
func (e *SheetExporter) ExportDelta(ctx context.Context, store *Store) error {
	if e.url == "" {
		return ErrNoExportURL
	}

	last, err := store.LastExport()
	if err != nil {
		return err
	}
	var sinceMillis int64
	if !last.IsZero() {
		sinceMillis = last.UnixMilli()
	}

	// Capture the cursor before reading. Rows written while the POST is in
	// flight land after it and go out with the next delta.
	cursor := time.Now().UTC()

	payload := sheetPayload{
		SyncType: exportTypeDelta,
		SyncDate: cursor.Format(time.RFC3339),
	}

	payload.Movements, err = exportRows(store, EntityMovement, sinceMillis)
	if err != nil {
		return err
	}
	payload.Harvests, err = exportRows(store, EntityHarvest, sinceMillis)
	if err != nil {
		return err
	}
	payload.Labor, err = exportRows(store, EntityLabor, sinceMillis)
	if err != nil {
		return err
	}

	if len(payload.Movements) == 0 && len(payload.Harvests) == 0 && len(payload.Labor) == 0 {
		return nil
	}

	if err := e.post(ctx, payload); err != nil {
		return err
	}

	return store.SetLastExport(cursor)
}

// ExportBackup posts a full snapshot of every entity plus the audit trail.
// Backups never touch the delta export cursor.
func (e *SheetExporter) ExportBackup(ctx context.Context, store *Store) error {
	if e.url == "" {
		return ErrNoExportURL
	}

	payload := sheetPayload{
		SyncType: exportTypeFull,
		SyncDate: time.Now().UTC().Format(time.RFC3339),
		Data:     make(map[string][]map[string]any),
	}

	for _, entity := range EntityTypes() {
		rows, err := exportRows(store, entity, 0)
		if err != nil {
			return err
		}
		payload.Data[string(entity)] = rows
	}

	audit, err := store.ExportAudit()
	if err != nil {
		return err
	}
	payload.AuditLog = audit

	return e.post(ctx, payload)
}

// exportRows flattens records changed since sinceMillis into sheet rows.
func exportRows(store *Store, entity EntityType, sinceMillis int64) ([]map[string]any, error) {
	records, err := store.Since(entity, sinceMillis)
	if err != nil {
		return nil, err
	}

	rows := make([]map[string]any, 0, len(records))
	for _, rec := range records {
		row, err := cloudsync.WireRecord(rec.ID, rec.LastUpdated, rec.Payload)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// post sends the payload and discards the response body. Any 2xx counts as
// delivered; the sink is not a system of record.
func (e *SheetExporter) post(ctx context.Context, payload sheetPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("export: encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("export: sink returned HTTP %d", resp.StatusCode)
	}

	return nil
}

// ExportFormat is the top-level structure for JSON file exports.
type ExportFormat struct {
	Version    string                  `json:"version"`
	ExportedAt time.Time               `json:"exportedAt"`
	Records    map[EntityType][]Record `json:"records"`
	Audit      []AuditEntry            `json:"auditLog"`
}

// ExportJSON writes the full store contents as JSON to the writer.
func (s *Store) ExportJSON(ctx context.Context, w io.Writer) error {
	out := ExportFormat{
		Version:    ExportVersion,
		ExportedAt: time.Now().UTC(),
		Records:    make(map[EntityType][]Record),
	}

	for _, entity := range EntityTypes() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		records, err := s.List(entity)
		if err != nil {
			return err
		}
		out.Records[entity] = records
	}

	audit, err := s.ExportAudit()
	if err != nil {
		return err
	}
	out.Audit = audit

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// BackupTo copies the store's SQLite database to destPath. It checkpoints
// the WAL first so the copy is consistent.
func (s *Store) BackupTo(ctx context.Context, destPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	if _, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("checkpoint WAL: %w", err)
	}

	srcFile, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer srcFile.Close()

	destFile, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("create destination: %w", err)
	}
	defer destFile.Close()

	if _, err := io.Copy(destFile, srcFile); err != nil {
		_ = os.Remove(destPath)
		return fmt.Errorf("copy database: %w", err)
	}

	return destFile.Sync()
}
