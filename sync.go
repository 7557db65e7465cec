package agrosync

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	cloudsync "github.com/agrobodega/agrosync/internal/sync"
)

// Syncer pushes pending local records to the reconciliation backend. The
// local store stays authoritative: a cycle only uploads and applies
// per-record confirmations, it never pulls server state back down.
type Syncer struct {
	store   *Store
	client  cloudsync.CloudClient
	log     *logrus.Logger
	running atomic.Bool
}

// NewSyncer creates a new syncer. client may be nil for offline-only mode;
// every cycle is then skipped at the connectivity gate.
func NewSyncer(store *Store, client cloudsync.CloudClient, log *logrus.Logger) *Syncer {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Syncer{
		store:  store,
		client: client,
		log:    log,
	}
}

// SyncState is a point-in-time view of sync health for status surfaces.
type SyncState struct {
	Online   bool      `json:"online"`
	LastSync time.Time `json:"lastSync"`
	Pending  int       `json:"pending"`
}

// State reports connectivity, the last completed cycle time, and the number
// of records waiting for upload.
func (s *Syncer) State(ctx context.Context) (*SyncState, error) {
	stats, err := s.store.Stats()
	if err != nil {
		return nil, err
	}

	state := &SyncState{
		LastSync: stats.LastSync,
		Pending:  stats.PendingCount,
	}

	if s.client != nil {
		if _, err := s.client.Health(ctx); err == nil {
			state.Online = true
		}
	}

	return state, nil
}

// SyncCycle runs one best-effort sync cycle: connectivity check, then one
// upload batch per entity type in fixed order. A failed batch marks its
// entity as failed and the cycle moves on; nothing is retried within the
// cycle. Only one cycle runs at a time; concurrent calls get
// ErrSyncInProgress.
func (s *Syncer) SyncCycle(ctx context.Context) (*CycleResult, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrSyncInProgress
	}
	defer s.running.Store(false)

	result := &CycleResult{
		Started: time.Now().UTC(),
		Synced:  make(map[EntityType]int),
		Failed:  make(map[EntityType]error),
	}

	if s.client == nil {
		result.Skipped = true
		result.Duration = time.Since(result.Started)
		return result, nil
	}

	if _, err := s.client.Health(ctx); err != nil {
		s.log.WithError(err).Warn("backend unreachable, skipping sync cycle")
		result.Skipped = true
		result.Duration = time.Since(result.Started)
		return result, nil
	}

	for _, entity := range EntityTypes() {
		n, err := s.syncEntity(ctx, entity)
		if err != nil {
			s.log.WithFields(logrus.Fields{
				"entity": entity,
			}).WithError(err).Error("entity batch failed")
			result.Failed[entity] = err
			continue
		}
		if n > 0 {
			s.log.WithFields(logrus.Fields{
				"entity": entity,
				"count":  n,
			}).Info("entity batch synced")
		}
		result.Synced[entity] = n
	}

	if result.Ok() {
		if err := s.store.SetLastSync(time.Now().UTC()); err != nil {
			s.log.WithError(err).Warn("failed to record sync time")
		}
	}

	result.Duration = time.Since(result.Started)
	return result, nil
}

// syncEntity uploads one entity type's pending records and applies the
// backend's confirmations. Returns the number of records confirmed synced.
func (s *Syncer) syncEntity(ctx context.Context, entity EntityType) (int, error) {
	pending, err := s.store.Pending(entity)
	if err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		return 0, nil
	}

	// Snapshot each record's timestamp at upload time so confirmations
	// never overwrite a record edited mid-flight.
	batch := make([]map[string]any, 0, len(pending))
	uploadedAt := make(map[string]int64, len(pending))
	for _, rec := range pending {
		wire, err := cloudsync.WireRecord(rec.ID, rec.LastUpdated, rec.Payload)
		if err != nil {
			return 0, &SyncError{Operation: "encode", Entity: entity, Err: err}
		}
		batch = append(batch, wire)
		uploadedAt[rec.ID] = rec.LastUpdated
	}

	resp, err := s.client.PushBatch(ctx, string(entity), batch)
	if err != nil {
		syncErr := &SyncError{Operation: "push", Entity: entity, Err: err}
		var apiErr *cloudsync.APIError
		if errors.As(err, &apiErr) {
			syncErr.StatusCode = apiErr.StatusCode
		}
		return 0, syncErr
	}

	confs := make([]Confirmation, len(resp.Synced))
	for i, c := range resp.Synced {
		confs[i] = Confirmation{
			ID:          c.ID,
			ServerID:    c.ServerID,
			LastUpdated: c.LastUpdated,
		}
	}

	return s.store.ApplyConfirmations(entity, confs, uploadedAt)
}
