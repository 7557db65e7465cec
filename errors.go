package agrosync

import (
	"errors"
	"fmt"

	cloudsync "github.com/agrobodega/agrosync/internal/sync"
)

// Common errors returned by the agrosync client and store.
var (
	// ErrNotFound is returned when a record is not found.
	ErrNotFound = errors.New("record not found")

	// ErrUnknownEntity is returned when an entity type is outside the closed set.
	ErrUnknownEntity = errors.New("unknown entity type")

	// ErrEmptyName is returned when a record is created without a display name.
	ErrEmptyName = errors.New("name cannot be empty")

	// ErrStoreClosed is returned when operating on a closed store.
	ErrStoreClosed = errors.New("store is closed")

	// ErrOffline is returned when a network operation is attempted without
	// a configured cloud endpoint.
	ErrOffline = errors.New("operation unavailable in offline mode")

	// ErrSyncInProgress is returned when a cycle is requested while another
	// cycle is still running. Triggers coalesce; they are never queued.
	ErrSyncInProgress = errors.New("sync cycle already in progress")

	// ErrNoExportURL is returned when an export is requested without a
	// configured sheet sink URL.
	ErrNoExportURL = errors.New("export URL not configured")

	// ErrEmptyBatch is returned when an upload is attempted with no
	// records. The syncer skips empty sets; direct CloudClient callers
	// hit it.
	ErrEmptyBatch = cloudsync.ErrEmptyBatch
)

// ValidationError is returned when configuration validation fails.
// Extractable via errors.As().
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// SyncError is returned when an upload or connectivity check fails.
// Extractable via errors.As(). Supports Unwrap().
type SyncError struct {
	Operation  string
	Entity     EntityType
	StatusCode int
	Err        error
}

func (e *SyncError) Error() string {
	if e.Entity != "" {
		return fmt.Sprintf("sync: %s %s failed (status %d): %v", e.Operation, e.Entity, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("sync: %s failed (status %d): %v", e.Operation, e.StatusCode, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }
