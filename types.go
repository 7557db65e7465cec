package agrosync

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// EntityType identifies a category of syncable farm record.
type EntityType string

const (
	EntityInventory EntityType = "inventory"
	EntityLot       EntityType = "lots"
	EntityPersonnel EntityType = "personnel"
	EntityLabor     EntityType = "labor"
	EntityFinance   EntityType = "finance"
	EntitySanitary  EntityType = "sanitary"
	EntityMovement  EntityType = "movements"
	EntityHarvest   EntityType = "harvests"
)

// EntityTypes returns every syncable entity type in the fixed order the
// sync cycle iterates them.
func EntityTypes() []EntityType {
	return []EntityType{
		EntityInventory,
		EntityLot,
		EntityPersonnel,
		EntityLabor,
		EntityFinance,
		EntitySanitary,
		EntityMovement,
		EntityHarvest,
	}
}

// IsValid checks if the entity type belongs to the closed set.
func (e EntityType) IsValid() bool {
	for _, valid := range EntityTypes() {
		if e == valid {
			return true
		}
	}
	return false
}

// SyncStatus tracks where a record stands relative to the last confirmed
// server state.
type SyncStatus string

const (
	StatusPendingCreate SyncStatus = "pending_create"
	StatusPendingUpdate SyncStatus = "pending_update"
	StatusSynced        SyncStatus = "synced"
)

// IsPending reports whether the record is eligible for upload.
func (s SyncStatus) IsPending() bool {
	return s == StatusPendingCreate || s == StatusPendingUpdate
}

// Record is the stored envelope shared by every syncable entity. Domain
// fields live in Payload; Name duplicates the display-name field so
// listings and referential detach don't need to unmarshal it.
type Record struct {
	EntityType  EntityType      `json:"entityType"`
	ID          string          `json:"id"`
	ServerID    string          `json:"serverId,omitempty"`
	Status      SyncStatus      `json:"syncStatus"`
	LastUpdated int64           `json:"lastUpdated"` // unix milliseconds
	Name        string          `json:"name"`
	Payload     json.RawMessage `json:"payload"`
}

// AuditAction classifies a mutation recorded in the audit log.
type AuditAction string

const (
	ActionCreate AuditAction = "CREATE"
	ActionUpdate AuditAction = "UPDATE"
	ActionDelete AuditAction = "DELETE"
)

// AuditEntry is one row of the append-only mutation ledger.
type AuditEntry struct {
	ID           string      `json:"id"`
	Timestamp    time.Time   `json:"timestamp"`
	UserID       string      `json:"userId"`
	Action       AuditAction `json:"action"`
	Entity       EntityType  `json:"entity"`
	EntityID     string      `json:"entityId"`
	Details      string      `json:"details"`
	PreviousData string      `json:"previousData,omitempty"`
	NewData      string      `json:"newData,omitempty"`
}

// Confirmation is the per-record acknowledgement a reconciliation endpoint
// returns for an uploaded record, matched by the local id.
type Confirmation struct {
	ID          string `json:"id"`
	ServerID    string `json:"serverId"`
	LastUpdated int64  `json:"lastUpdated"`
}

// MovementType distinguishes stock entries from withdrawals.
type MovementType string

const (
	MovementIn  MovementType = "IN"
	MovementOut MovementType = "OUT"
)

// FinanceKind distinguishes income from expense entries.
type FinanceKind string

const (
	FinanceIncome  FinanceKind = "INCOME"
	FinanceExpense FinanceKind = "EXPENSE"
)

// InventoryItem is a stocked product (fertilizer, pesticide, fuel, tools).
type InventoryItem struct {
	Name              string          `json:"name"`
	Category          string          `json:"category,omitempty"`
	CurrentQuantity   float64         `json:"currentQuantity"`
	BaseUnit          string          `json:"baseUnit"`
	LastPurchaseUnit  string          `json:"lastPurchaseUnit,omitempty"`
	LastPurchasePrice decimal.Decimal `json:"lastPurchasePrice"`
	AverageCost       decimal.Decimal `json:"averageCost"`
	WarehouseID       string          `json:"warehouseId,omitempty"`
}

// CostCenter is a production lot that costs and harvests accrue against.
type CostCenter struct {
	Name         string  `json:"name"`
	Crop         string  `json:"crop,omitempty"`
	AreaHectares float64 `json:"areaHectares,omitempty"`
	Stage        string  `json:"stage,omitempty"`
}

// Personnel is a worker that labor logs reference.
type Personnel struct {
	Name      string          `json:"name"`
	Role      string          `json:"role,omitempty"`
	DailyRate decimal.Decimal `json:"dailyRate"`
	Phone     string          `json:"phone,omitempty"`
}

// LaborLog records field work performed against a cost center.
type LaborLog struct {
	ActivityName   string          `json:"activityName"`
	CostCenterID   string          `json:"costCenterId"`
	CostCenterName string          `json:"costCenterName"`
	PersonnelID    string          `json:"personnelId,omitempty"`
	PersonnelName  string          `json:"personnelName,omitempty"`
	Date           string          `json:"date"`
	Hours          float64         `json:"hours,omitempty"`
	Cost           decimal.Decimal `json:"cost"`
}

// FinanceLog records an income or expense entry.
type FinanceLog struct {
	Kind           FinanceKind     `json:"type"`
	Description    string          `json:"description"`
	CostCenterID   string          `json:"costCenterId,omitempty"`
	CostCenterName string          `json:"costCenterName,omitempty"`
	Date           string          `json:"date"`
	Amount         decimal.Decimal `json:"amount"`
}

// SanitaryLog records a phytosanitary application.
type SanitaryLog struct {
	ProductName    string `json:"productName"`
	CostCenterID   string `json:"costCenterId"`
	CostCenterName string `json:"costCenterName"`
	Date           string `json:"date"`
	Dose           string `json:"dose,omitempty"`
	Target         string `json:"target,omitempty"`
	Notes          string `json:"notes,omitempty"`
}

// Movement records stock entering or leaving the warehouse.
type Movement struct {
	ItemID         string          `json:"itemId"`
	ItemName       string          `json:"itemName"`
	Type           MovementType    `json:"type"`
	Quantity       float64         `json:"quantity"`
	Unit           string          `json:"unit,omitempty"`
	CalculatedCost decimal.Decimal `json:"calculatedCost"`
	Date           string          `json:"date"`
	Notes          string          `json:"notes,omitempty"`
	SupplierID     string          `json:"supplierId,omitempty"`
	SupplierName   string          `json:"supplierName,omitempty"`
	InvoiceNumber  string          `json:"invoiceNumber,omitempty"`
}

// Harvest records collected production for a cost center.
type Harvest struct {
	CostCenterID   string          `json:"costCenterId"`
	CostCenterName string          `json:"costCenterName"`
	Date           string          `json:"date"`
	QuantityKg     float64         `json:"quantityKg"`
	PricePerKg     decimal.Decimal `json:"pricePerKg"`
	Notes          string          `json:"notes,omitempty"`
}

// CycleResult summarizes one sync cycle.
type CycleResult struct {
	Started  time.Time            `json:"started"`
	Duration time.Duration        `json:"duration"`
	Synced   map[EntityType]int   `json:"synced"`
	Failed   map[EntityType]error `json:"-"`
	Skipped  bool                 `json:"skipped"` // offline, cycle aborted before upload
}

// Ok reports whether every attempted entity batch succeeded.
func (r *CycleResult) Ok() bool {
	return !r.Skipped && len(r.Failed) == 0
}

// TotalSynced returns the number of records confirmed across all entities.
func (r *CycleResult) TotalSynced() int {
	total := 0
	for _, n := range r.Synced {
		total += n
	}
	return total
}

// StoreStats summarizes the local store.
type StoreStats struct {
	RecordCount  int                `json:"record_count"`
	PendingCount int                `json:"pending_count"`
	PerEntity    map[EntityType]int `json:"per_entity"`
	AuditCount   int                `json:"audit_count"`
	LastSync     time.Time          `json:"last_sync"`
	LastExport   time.Time          `json:"last_export"`
}

// Audit retention and export bounds.
const (
	MaxAuditEntries    = 1000 // local ring-buffer bound
	ExportAuditEntries = 200  // most-recent entries included in backups
	MaxAuditDetailLen  = 1000 // per-entry detail cap on export
)

// DefaultActor is recorded on audit entries when no user is configured.
const DefaultActor = "admin_local"

// unmarshalPayload decodes a record payload into a domain struct.
func unmarshalPayload(payload json.RawMessage, v any) error {
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}
