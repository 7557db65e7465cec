package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
)

func newTestServer(t *testing.T) (*Server, *Storage) {
	t.Helper()

	storage, err := OpenStorage(filepath.Join(t.TempDir(), "backend.db"))
	if err != nil {
		t.Fatalf("failed to open storage: %v", err)
	}
	t.Cleanup(func() { storage.Close() })

	return NewServer(storage, "", nil), storage
}

func postSync(t *testing.T, srv *Server, entity string, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/"+entity+"/sync", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	return w
}

func TestSyncAssignsServerIdentity(t *testing.T) {
	srv, _ := newTestServer(t)

	w := postSync(t, srv, "inventory", `[{"id":"local-1","name":"Urea","lastUpdated":1000}]`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}

	var resp syncResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !resp.Success {
		t.Fatalf("success = false: %s", resp.Error)
	}
	if len(resp.Synced) != 1 {
		t.Fatalf("synced = %d, want 1", len(resp.Synced))
	}
	if resp.Synced[0].ID != "local-1" {
		t.Errorf("id = %s, want local-1", resp.Synced[0].ID)
	}
	if resp.Synced[0].ServerID == "" {
		t.Error("server id should be assigned")
	}
	if resp.Synced[0].LastUpdated <= 1000 {
		t.Errorf("lastUpdated = %d, want server time", resp.Synced[0].LastUpdated)
	}
}

func TestSyncIdempotentServerID(t *testing.T) {
	srv, _ := newTestServer(t)

	w := postSync(t, srv, "lots", `[{"id":"lot-1","name":"Lote Norte","lastUpdated":1}]`)
	var first syncResponse
	_ = json.Unmarshal(w.Body.Bytes(), &first)

	w = postSync(t, srv, "lots", `[{"id":"lot-1","name":"Lote Norte (editado)","lastUpdated":2}]`)
	var second syncResponse
	_ = json.Unmarshal(w.Body.Bytes(), &second)

	if first.Synced[0].ServerID != second.Synced[0].ServerID {
		t.Errorf("server id changed on re-push: %s != %s",
			first.Synced[0].ServerID, second.Synced[0].ServerID)
	}
}

func TestSyncUnknownEntity(t *testing.T) {
	srv, _ := newTestServer(t)

	w := postSync(t, srv, "tractors", `[{"id":"x","lastUpdated":1}]`)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestSyncRejectsNonArray(t *testing.T) {
	srv, _ := newTestServer(t)

	w := postSync(t, srv, "inventory", `{"id":"x"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestSyncRejectsMissingID(t *testing.T) {
	srv, storage := newTestServer(t)

	w := postSync(t, srv, "inventory", `[{"id":"ok-1","lastUpdated":1},{"name":"no id","lastUpdated":1}]`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}

	// Nothing from the rejected batch may land.
	count, err := storage.Count(context.Background())
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 0 {
		t.Errorf("count = %d, want 0 after rejected batch", count)
	}
}

func TestSyncRequiresToken(t *testing.T) {
	storage, err := OpenStorage(filepath.Join(t.TempDir(), "backend.db"))
	if err != nil {
		t.Fatalf("failed to open storage: %v", err)
	}
	t.Cleanup(func() { storage.Close() })
	srv := NewServer(storage, "secret", nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/inventory/sync", bytes.NewBufferString(`[]`))
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401 without token", w.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/inventory/sync", bytes.NewBufferString(`[]`))
	req.Header.Set("Authorization", "Bearer secret")
	w = httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 with token", w.Code)
	}
}

func TestListReconciledRecords(t *testing.T) {
	srv, _ := newTestServer(t)

	postSync(t, srv, "harvests", `[{"id":"h-1","quantityKg":120,"lastUpdated":1}]`)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/harvests", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var records []StoredRecord
	if err := json.Unmarshal(w.Body.Bytes(), &records); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(records) != 1 || records[0].ID != "h-1" {
		t.Errorf("unexpected records: %v", records)
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var health healthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &health); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if health.Status != "ok" {
		t.Errorf("status = %s, want ok", health.Status)
	}
}
