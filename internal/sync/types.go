package sync

import (
	"encoding/json"
	"fmt"
	"time"
)

// HealthResponse from GET /api/v1/health
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Time    string `json:"time"`
}

// ServerConfirmation is one element of the sync response's synced array.
// LastUpdated is the server-authoritative timestamp in unix milliseconds.
type ServerConfirmation struct {
	ID          string `json:"id"`
	ServerID    string `json:"serverId"`
	LastUpdated int64  `json:"lastUpdated"`
}

// PushResponse from POST /api/v1/{entity}/sync
type PushResponse struct {
	Success bool                 `json:"success"`
	Synced  []ServerConfirmation `json:"synced"`
	Error   string               `json:"error,omitempty"`
}

// WireRecord flattens a stored record into the shape the backend accepts:
// the domain payload with the local id and lastUpdated folded in, local-only
// bookkeeping fields stripped, and the date field normalized to RFC 3339.
func WireRecord(id string, lastUpdated int64, payload []byte) (map[string]any, error) {
	fields := make(map[string]any)
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &fields); err != nil {
			return nil, fmt.Errorf("sync: decode payload for %s: %w", id, err)
		}
	}

	delete(fields, "serverId")
	delete(fields, "syncStatus")
	fields["id"] = id
	fields["lastUpdated"] = lastUpdated

	if raw, ok := fields["date"]; ok {
		if norm, ok := normalizeDate(raw); ok {
			fields["date"] = norm
		}
	}

	return fields, nil
}

// normalizeDate coerces the payload date to RFC 3339 UTC. Unix-millisecond
// numbers and bare calendar dates both occur in older payloads.
func normalizeDate(raw any) (string, bool) {
	switch v := raw.(type) {
	case float64:
		return time.UnixMilli(int64(v)).UTC().Format(time.RFC3339), true
	case string:
		if _, err := time.Parse(time.RFC3339, v); err == nil {
			return v, true
		}
		if t, err := time.Parse("2006-01-02", v); err == nil {
			return t.UTC().Format(time.RFC3339), true
		}
	}
	return "", false
}
