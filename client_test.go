package agrosync

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()

	client, err := New(Config{
		LocalPath: filepath.Join(t.TempDir(), "agrosync.db"),
	})
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	return client
}

func TestAddInventoryItemCreatesOpeningMovement(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	rec, err := client.AddInventoryItem(ctx, InventoryItem{
		Name:              "Urea 46%",
		CurrentQuantity:   50,
		BaseUnit:          "kg",
		LastPurchasePrice: decimal.NewFromFloat(1.20),
	})
	if err != nil {
		t.Fatalf("failed to add item: %v", err)
	}

	var item InventoryItem
	got, _ := client.Get(EntityInventory, rec.ID)
	if err := unmarshalPayload(got.Payload, &item); err != nil {
		t.Fatalf("failed to decode item: %v", err)
	}
	if !item.AverageCost.Equal(decimal.NewFromFloat(1.20)) {
		t.Errorf("average cost = %s, want last purchase price", item.AverageCost)
	}

	movements, err := client.List(EntityMovement)
	if err != nil {
		t.Fatalf("failed to list movements: %v", err)
	}
	if len(movements) != 1 {
		t.Fatalf("movements = %d, want opening movement", len(movements))
	}
	var m Movement
	if err := unmarshalPayload(movements[0].Payload, &m); err != nil {
		t.Fatalf("failed to decode movement: %v", err)
	}
	if m.Type != MovementIn || m.Quantity != 50 || m.ItemID != rec.ID {
		t.Errorf("unexpected opening movement: %+v", m)
	}
	if !m.CalculatedCost.Equal(decimal.NewFromFloat(60)) {
		t.Errorf("opening cost = %s, want 60", m.CalculatedCost)
	}
}

func TestAddInventoryItemWithoutStockHasNoMovement(t *testing.T) {
	client := newTestClient(t)

	if _, err := client.AddInventoryItem(context.Background(), InventoryItem{Name: "Machete", BaseUnit: "unidad"}); err != nil {
		t.Fatalf("failed to add item: %v", err)
	}

	movements, _ := client.List(EntityMovement)
	if len(movements) != 0 {
		t.Errorf("movements = %d, want none without opening stock", len(movements))
	}
}

func TestRecordMovementMaintainsWeightedAverage(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	rec, err := client.AddInventoryItem(ctx, InventoryItem{
		Name:              "Abono",
		CurrentQuantity:   10,
		BaseUnit:          "kg",
		LastPurchasePrice: decimal.NewFromInt(1),
	})
	if err != nil {
		t.Fatalf("failed to add item: %v", err)
	}

	// Purchase 10 kg for 20: average moves from 1.00 to 1.50.
	if _, err := client.RecordMovement(ctx, Movement{
		ItemID:         rec.ID,
		Type:           MovementIn,
		Quantity:       10,
		CalculatedCost: decimal.NewFromInt(20),
	}); err != nil {
		t.Fatalf("failed to record purchase: %v", err)
	}

	var item InventoryItem
	got, _ := client.Get(EntityInventory, rec.ID)
	if err := unmarshalPayload(got.Payload, &item); err != nil {
		t.Fatalf("failed to decode item: %v", err)
	}
	if item.CurrentQuantity != 20 {
		t.Errorf("quantity = %g, want 20", item.CurrentQuantity)
	}
	if !item.AverageCost.Equal(decimal.NewFromFloat(1.5)) {
		t.Errorf("average cost = %s, want 1.5", item.AverageCost)
	}
	if !item.LastPurchasePrice.Equal(decimal.NewFromInt(2)) {
		t.Errorf("last purchase price = %s, want 2", item.LastPurchasePrice)
	}

	// Withdraw 5 kg: valued at the running average.
	out, err := client.RecordMovement(ctx, Movement{
		ItemID:   rec.ID,
		Type:     MovementOut,
		Quantity: 5,
	})
	if err != nil {
		t.Fatalf("failed to record withdrawal: %v", err)
	}

	var m Movement
	if err := unmarshalPayload(out.Payload, &m); err != nil {
		t.Fatalf("failed to decode movement: %v", err)
	}
	if !m.CalculatedCost.Equal(decimal.NewFromFloat(7.5)) {
		t.Errorf("withdrawal cost = %s, want 7.5", m.CalculatedCost)
	}

	got, _ = client.Get(EntityInventory, rec.ID)
	if err := unmarshalPayload(got.Payload, &item); err != nil {
		t.Fatalf("failed to decode item: %v", err)
	}
	if item.CurrentQuantity != 15 {
		t.Errorf("quantity = %g, want 15", item.CurrentQuantity)
	}
}

func TestRecordMovementUnknownItem(t *testing.T) {
	client := newTestClient(t)

	_, err := client.RecordMovement(context.Background(), Movement{
		ItemID: "missing", Type: MovementIn, Quantity: 1,
	})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestDeleteCostCenterKeepsAnnotatedHistory(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	lot, err := client.AddCostCenter(ctx, CostCenter{Name: "Lote Viejo", Crop: "Cacao"})
	if err != nil {
		t.Fatalf("failed to add lot: %v", err)
	}
	labor, err := client.LogLabor(ctx, LaborLog{ActivityName: "Poda", CostCenterID: lot.ID})
	if err != nil {
		t.Fatalf("failed to log labor: %v", err)
	}

	if err := client.DeleteCostCenter(ctx, lot.ID); err != nil {
		t.Fatalf("failed to delete lot: %v", err)
	}

	got, err := client.Get(EntityLabor, labor.ID)
	if err != nil {
		t.Fatalf("labor must survive the lot delete: %v", err)
	}
	var l LaborLog
	if err := unmarshalPayload(got.Payload, &l); err != nil {
		t.Fatalf("failed to decode labor: %v", err)
	}
	if !strings.HasSuffix(l.CostCenterName, " (Eliminado)") {
		t.Errorf("costCenterName = %q, want detached annotation", l.CostCenterName)
	}
}

func TestLogLaborResolvesLotName(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	lot, err := client.AddCostCenter(ctx, CostCenter{Name: "Lote Norte"})
	if err != nil {
		t.Fatalf("failed to add lot: %v", err)
	}

	rec, err := client.LogLabor(ctx, LaborLog{ActivityName: "Siembra", CostCenterID: lot.ID})
	if err != nil {
		t.Fatalf("failed to log labor: %v", err)
	}

	var l LaborLog
	if err := unmarshalPayload(rec.Payload, &l); err != nil {
		t.Fatalf("failed to decode labor: %v", err)
	}
	if l.CostCenterName != "Lote Norte" {
		t.Errorf("costCenterName = %q, want resolved from the lot", l.CostCenterName)
	}
	if l.Date == "" {
		t.Error("date should default to now")
	}
}

func TestAddFinanceEntryValidatesKind(t *testing.T) {
	client := newTestClient(t)

	_, err := client.AddFinanceEntry(context.Background(), FinanceLog{
		Kind: "TRANSFER", Description: "x", Amount: decimal.NewFromInt(1),
	})

	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Errorf("err = %v, want *ValidationError", err)
	}
}

func TestSyncNowOffline(t *testing.T) {
	client := newTestClient(t)

	if _, err := client.SyncNow(context.Background()); !errors.Is(err, ErrOffline) {
		t.Errorf("err = %v, want ErrOffline without a backend", err)
	}
}

func TestClientStateOffline(t *testing.T) {
	client := newTestClient(t)

	if _, err := client.AddCostCenter(context.Background(), CostCenter{Name: "Lote Norte"}); err != nil {
		t.Fatalf("failed to add lot: %v", err)
	}

	state, err := client.State(context.Background())
	if err != nil {
		t.Fatalf("failed to get state: %v", err)
	}
	if state.Online {
		t.Error("offline client must report offline")
	}
	if state.Pending != 1 {
		t.Errorf("pending = %d, want 1", state.Pending)
	}
}

func TestClientCloseIsIdempotent(t *testing.T) {
	client := newTestClient(t)

	if err := client.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Errorf("second close should be a no-op, got %v", err)
	}
}
