package agrosync

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/agrobodega/agrosync/internal/server"
	"github.com/shopspring/decimal"
)

// Full round trip: records created offline sync against the real backend
// handler and come back confirmed with server identities.
func TestClientSyncsAgainstBackend(t *testing.T) {
	storage, err := server.OpenStorage(filepath.Join(t.TempDir(), "backend.db"))
	if err != nil {
		t.Fatalf("failed to open backend storage: %v", err)
	}
	t.Cleanup(func() { storage.Close() })

	backend := httptest.NewServer(server.NewServer(storage, "field-token", nil).Router())
	t.Cleanup(backend.Close)

	client, err := New(Config{
		LocalPath: filepath.Join(t.TempDir(), "agrosync.db"),
		CloudURL:  backend.URL,
		APIToken:  "field-token",
		AutoSync:  false,
	})
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	ctx := context.Background()

	lot, err := client.AddCostCenter(ctx, CostCenter{Name: "Lote Norte", Crop: "Cacao"})
	if err != nil {
		t.Fatalf("failed to add lot: %v", err)
	}
	if _, err := client.AddInventoryItem(ctx, InventoryItem{
		Name:              "Urea",
		CurrentQuantity:   20,
		BaseUnit:          "kg",
		LastPurchasePrice: decimal.NewFromInt(1),
	}); err != nil {
		t.Fatalf("failed to add item: %v", err)
	}

	result, err := client.SyncNow(ctx)
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if !result.Ok() {
		t.Fatalf("cycle not ok: skipped=%v failed=%v", result.Skipped, result.Failed)
	}
	// Lot, item, and the opening movement.
	if result.TotalSynced() != 3 {
		t.Errorf("total synced = %d, want 3", result.TotalSynced())
	}

	got, err := client.Get(EntityLot, lot.ID)
	if err != nil {
		t.Fatalf("failed to read lot: %v", err)
	}
	if got.Status != StatusSynced {
		t.Errorf("lot status = %s, want synced", got.Status)
	}
	if got.ServerID == "" {
		t.Error("lot should carry a server identity after sync")
	}

	// The backend now holds the reconciled record under the client id.
	stored, err := storage.List(ctx, string(EntityLot))
	if err != nil {
		t.Fatalf("failed to list backend records: %v", err)
	}
	if len(stored) != 1 || stored[0].ID != lot.ID {
		t.Errorf("backend records = %v, want the synced lot", stored)
	}
	if stored[0].ServerID != got.ServerID {
		t.Errorf("server id mismatch: backend %q vs local %q", stored[0].ServerID, got.ServerID)
	}

	// Re-syncing an edit keeps the same server identity.
	if _, err := client.UpdateCostCenter(ctx, lot.ID, CostCenter{Name: "Lote Norte", Crop: "Cacao", Stage: "produccion"}); err != nil {
		t.Fatalf("failed to update lot: %v", err)
	}
	if _, err := client.SyncNow(ctx); err != nil {
		t.Fatalf("second sync failed: %v", err)
	}

	after, _ := client.Get(EntityLot, lot.ID)
	if after.ServerID != got.ServerID {
		t.Errorf("server id changed across syncs: %q vs %q", after.ServerID, got.ServerID)
	}
	if after.Status != StatusSynced {
		t.Errorf("lot status = %s, want synced after re-push", after.Status)
	}
}
