package agrosync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	cloudsync "github.com/agrobodega/agrosync/internal/sync"
)

// Client is the main interface for recording farm activity. Every write
// lands in the local store first; the background loop pushes pending
// records to the reconciliation backend when one is configured.
type Client struct {
	store    *Store
	syncer   *Syncer
	exporter *SheetExporter
	config   Config
	log      *logrus.Logger

	mu       sync.Mutex
	closed   bool
	stopSync chan struct{}
	syncDone chan struct{}
	trigger  chan struct{}
}

// New creates a new agrosync client.
func New(cfg Config) (*Client, error) {
	cfg = cfg.WithDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	store, err := NewStore(cfg.LocalPath)
	if err != nil {
		return nil, fmt.Errorf("client: %w", err)
	}

	c := &Client{
		store:    store,
		config:   cfg,
		log:      logrus.StandardLogger(),
		stopSync: make(chan struct{}),
		syncDone: make(chan struct{}),
		trigger:  make(chan struct{}, 1),
	}

	if !cfg.IsOffline() {
		c.syncer = NewSyncer(store, cloudsync.NewHTTPClient(cfg.CloudURL, cfg.APIToken), c.log)
	}
	if cfg.SheetURL != "" {
		c.exporter = NewSheetExporter(cfg.SheetURL)
	}

	if c.syncer != nil && cfg.AutoSync {
		go c.backgroundSync()
	} else {
		close(c.syncDone)
	}

	return c, nil
}

// SetLogger replaces the client's logger. Must be called before any
// concurrent use.
func (c *Client) SetLogger(log *logrus.Logger) {
	c.log = log
	if c.syncer != nil {
		c.syncer.log = log
	}
}

// Store exposes the underlying record store for read access.
func (c *Client) Store() *Store {
	return c.store
}

// AddInventoryItem creates a stock item. If the item carries opening stock,
// an IN movement is recorded alongside it so the kardex starts balanced.
func (c *Client) AddInventoryItem(ctx context.Context, item InventoryItem) (*Record, error) {
	if item.AverageCost.IsZero() {
		item.AverageCost = item.LastPurchasePrice
	}

	rec, err := c.store.Insert(EntityInventory, item.Name, item, c.config.Actor,
		fmt.Sprintf("registered item %q (%g %s)", item.Name, item.CurrentQuantity, item.BaseUnit))
	if err != nil {
		return nil, err
	}

	if item.CurrentQuantity > 0 {
		opening := Movement{
			ItemID:         rec.ID,
			ItemName:       item.Name,
			Type:           MovementIn,
			Quantity:       item.CurrentQuantity,
			Unit:           item.BaseUnit,
			CalculatedCost: item.AverageCost.Mul(decimal.NewFromFloat(item.CurrentQuantity)),
			Date:           time.Now().UTC().Format(time.RFC3339),
			Notes:          "opening stock",
		}
		if _, err := c.store.Insert(EntityMovement, item.Name, opening, c.config.Actor,
			fmt.Sprintf("opening stock for %q", item.Name)); err != nil {
			return nil, err
		}
	}

	c.requestSync()
	return rec, nil
}

// RecordMovement registers stock entering or leaving the warehouse and
// keeps the item's quantity and weighted average cost current. IN movements
// with a purchase cost shift the average; OUT movements are valued at the
// current average when no cost is given.
func (c *Client) RecordMovement(ctx context.Context, m Movement) (*Record, error) {
	itemRec, err := c.store.Get(EntityInventory, m.ItemID)
	if err != nil {
		return nil, fmt.Errorf("movement: item %s: %w", m.ItemID, err)
	}

	var item InventoryItem
	if err := unmarshalPayload(itemRec.Payload, &item); err != nil {
		return nil, err
	}

	if m.ItemName == "" {
		m.ItemName = item.Name
	}
	if m.Unit == "" {
		m.Unit = item.BaseUnit
	}
	if m.Date == "" {
		m.Date = time.Now().UTC().Format(time.RFC3339)
	}

	qty := decimal.NewFromFloat(m.Quantity)
	held := decimal.NewFromFloat(item.CurrentQuantity)

	switch m.Type {
	case MovementIn:
		if m.CalculatedCost.IsZero() {
			m.CalculatedCost = item.AverageCost.Mul(qty)
		} else if m.Quantity > 0 {
			unitCost := m.CalculatedCost.Div(qty)
			total := held.Add(qty)
			if total.IsPositive() {
				item.AverageCost = held.Mul(item.AverageCost).Add(m.CalculatedCost).Div(total)
			}
			item.LastPurchasePrice = unitCost
			item.LastPurchaseUnit = m.Unit
		}
		item.CurrentQuantity = held.Add(qty).InexactFloat64()
	case MovementOut:
		if m.CalculatedCost.IsZero() {
			m.CalculatedCost = item.AverageCost.Mul(qty)
		}
		item.CurrentQuantity = held.Sub(qty).InexactFloat64()
	default:
		return nil, &ValidationError{Field: "type", Message: "movement type must be IN or OUT"}
	}

	if _, err := c.store.Update(EntityInventory, m.ItemID, item.Name, item, c.config.Actor,
		fmt.Sprintf("stock %s %g %s for %q", m.Type, m.Quantity, m.Unit, item.Name)); err != nil {
		return nil, err
	}

	rec, err := c.store.Insert(EntityMovement, m.ItemName, m, c.config.Actor,
		fmt.Sprintf("%s movement of %g %s for %q", m.Type, m.Quantity, m.Unit, m.ItemName))
	if err != nil {
		return nil, err
	}

	c.requestSync()
	return rec, nil
}

// DeleteInventoryItem removes a stock item. Its movements survive with the
// item reference annotated as deleted.
func (c *Client) DeleteInventoryItem(ctx context.Context, id string) error {
	if err := c.store.Delete(EntityInventory, id, c.config.Actor, "deleted inventory item"); err != nil {
		return err
	}
	c.requestSync()
	return nil
}

// AddCostCenter creates a production lot.
func (c *Client) AddCostCenter(ctx context.Context, cc CostCenter) (*Record, error) {
	rec, err := c.store.Insert(EntityLot, cc.Name, cc, c.config.Actor,
		fmt.Sprintf("created lot %q (%s)", cc.Name, cc.Crop))
	if err != nil {
		return nil, err
	}
	c.requestSync()
	return rec, nil
}

// UpdateCostCenter updates a production lot.
func (c *Client) UpdateCostCenter(ctx context.Context, id string, cc CostCenter) (*Record, error) {
	rec, err := c.store.Update(EntityLot, id, cc.Name, cc, c.config.Actor,
		fmt.Sprintf("updated lot %q", cc.Name))
	if err != nil {
		return nil, err
	}
	c.requestSync()
	return rec, nil
}

// DeleteCostCenter removes a production lot. Labor, finance, sanitary and
// harvest records that reference it are kept and annotated, never deleted.
func (c *Client) DeleteCostCenter(ctx context.Context, id string) error {
	if err := c.store.Delete(EntityLot, id, c.config.Actor, "deleted lot"); err != nil {
		return err
	}
	c.requestSync()
	return nil
}

// AddPersonnel registers a worker.
func (c *Client) AddPersonnel(ctx context.Context, p Personnel) (*Record, error) {
	rec, err := c.store.Insert(EntityPersonnel, p.Name, p, c.config.Actor,
		fmt.Sprintf("registered worker %q (%s)", p.Name, p.Role))
	if err != nil {
		return nil, err
	}
	c.requestSync()
	return rec, nil
}

// DeletePersonnel removes a worker. Labor logs that reference them keep
// the id and get the name annotated.
func (c *Client) DeletePersonnel(ctx context.Context, id string) error {
	if err := c.store.Delete(EntityPersonnel, id, c.config.Actor, "deleted worker"); err != nil {
		return err
	}
	c.requestSync()
	return nil
}

// LogLabor records field work against a cost center.
func (c *Client) LogLabor(ctx context.Context, l LaborLog) (*Record, error) {
	if err := c.fillLotName(l.CostCenterID, &l.CostCenterName); err != nil {
		return nil, err
	}
	if l.PersonnelID != "" && l.PersonnelName == "" {
		pRec, err := c.store.Get(EntityPersonnel, l.PersonnelID)
		if err != nil {
			return nil, fmt.Errorf("worker %s: %w", l.PersonnelID, err)
		}
		l.PersonnelName = pRec.Name
	}
	if l.Date == "" {
		l.Date = time.Now().UTC().Format(time.RFC3339)
	}

	rec, err := c.store.Insert(EntityLabor, l.ActivityName, l, c.config.Actor,
		fmt.Sprintf("logged %q on lot %q", l.ActivityName, l.CostCenterName))
	if err != nil {
		return nil, err
	}
	c.requestSync()
	return rec, nil
}

// AddFinanceEntry records an income or expense entry.
func (c *Client) AddFinanceEntry(ctx context.Context, f FinanceLog) (*Record, error) {
	if f.Kind != FinanceIncome && f.Kind != FinanceExpense {
		return nil, &ValidationError{Field: "type", Message: "finance type must be INCOME or EXPENSE"}
	}
	if f.CostCenterID != "" {
		if err := c.fillLotName(f.CostCenterID, &f.CostCenterName); err != nil {
			return nil, err
		}
	}
	if f.Date == "" {
		f.Date = time.Now().UTC().Format(time.RFC3339)
	}

	rec, err := c.store.Insert(EntityFinance, f.Description, f, c.config.Actor,
		fmt.Sprintf("%s of %s: %s", f.Kind, f.Amount.StringFixed(2), f.Description))
	if err != nil {
		return nil, err
	}
	c.requestSync()
	return rec, nil
}

// AddSanitaryEntry records a phytosanitary application.
func (c *Client) AddSanitaryEntry(ctx context.Context, entry SanitaryLog) (*Record, error) {
	if err := c.fillLotName(entry.CostCenterID, &entry.CostCenterName); err != nil {
		return nil, err
	}
	if entry.Date == "" {
		entry.Date = time.Now().UTC().Format(time.RFC3339)
	}

	rec, err := c.store.Insert(EntitySanitary, entry.ProductName, entry, c.config.Actor,
		fmt.Sprintf("applied %q on lot %q", entry.ProductName, entry.CostCenterName))
	if err != nil {
		return nil, err
	}
	c.requestSync()
	return rec, nil
}

// RecordHarvest records collected production for a cost center.
func (c *Client) RecordHarvest(ctx context.Context, h Harvest) (*Record, error) {
	if err := c.fillLotName(h.CostCenterID, &h.CostCenterName); err != nil {
		return nil, err
	}
	if h.Date == "" {
		h.Date = time.Now().UTC().Format(time.RFC3339)
	}

	rec, err := c.store.Insert(EntityHarvest, h.CostCenterName, h, c.config.Actor,
		fmt.Sprintf("harvested %g kg on lot %q", h.QuantityKg, h.CostCenterName))
	if err != nil {
		return nil, err
	}
	c.requestSync()
	return rec, nil
}

// fillLotName resolves the lot's display name when the caller didn't
// provide one. Unknown lot ids are an error for new references.
func (c *Client) fillLotName(lotID string, name *string) error {
	if *name != "" {
		return nil
	}
	rec, err := c.store.Get(EntityLot, lotID)
	if err != nil {
		return fmt.Errorf("lot %s: %w", lotID, err)
	}
	*name = rec.Name
	return nil
}

// List returns all records of one entity type.
func (c *Client) List(entity EntityType) ([]Record, error) {
	return c.store.List(entity)
}

// Get returns one record.
func (c *Client) Get(entity EntityType, id string) (*Record, error) {
	return c.store.Get(entity, id)
}

// Audit returns the last n audit entries.
func (c *Client) Audit(n int) ([]AuditEntry, error) {
	return c.store.RecentAudit(n)
}

// SyncNow runs one sync cycle immediately. Returns ErrOffline when no
// backend is configured and ErrSyncInProgress when a cycle is running.
func (c *Client) SyncNow(ctx context.Context) (*CycleResult, error) {
	if c.syncer == nil {
		return nil, ErrOffline
	}
	return c.syncer.SyncCycle(ctx)
}

// NotifyOnline nudges the background loop to run a cycle soon, for callers
// that detect connectivity coming back. Triggers coalesce.
func (c *Client) NotifyOnline() {
	c.requestSync()
}

// State reports sync health.
func (c *Client) State(ctx context.Context) (*SyncState, error) {
	if c.syncer == nil {
		stats, err := c.store.Stats()
		if err != nil {
			return nil, err
		}
		return &SyncState{LastSync: stats.LastSync, Pending: stats.PendingCount}, nil
	}
	return c.syncer.State(ctx)
}

// Stats returns store statistics.
func (c *Client) Stats() (*StoreStats, error) {
	return c.store.Stats()
}

// ExportDelta pushes records changed since the last export to the
// reporting sink. Best-effort; sink failures never affect local data.
func (c *Client) ExportDelta(ctx context.Context) error {
	if c.exporter == nil {
		return ErrNoExportURL
	}
	return c.exporter.ExportDelta(ctx, c.store)
}

// ExportBackup pushes a full snapshot including the audit trail to the
// reporting sink.
func (c *Client) ExportBackup(ctx context.Context) error {
	if c.exporter == nil {
		return ErrNoExportURL
	}
	return c.exporter.ExportBackup(ctx, c.store)
}

// Close stops the background loop, attempts a final sync, and closes the
// local store.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	close(c.stopSync)

	select {
	case <-c.syncDone:
	case <-time.After(5 * time.Second):
	}

	if c.syncer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		_, _ = c.syncer.SyncCycle(ctx)
		cancel()
	}

	return c.store.Close()
}

// requestSync nudges the background loop without blocking. Dropped when a
// nudge is already queued or the loop isn't running.
func (c *Client) requestSync() {
	select {
	case c.trigger <- struct{}{}:
	default:
	}
}

func (c *Client) backgroundSync() {
	defer close(c.syncDone)

	ticker := time.NewTicker(c.config.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopSync:
			return
		case <-ticker.C:
		case <-c.trigger:
		}

		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		result, err := c.syncer.SyncCycle(ctx)
		if err == nil && result.Ok() && result.TotalSynced() > 0 && c.exporter != nil {
			if exportErr := c.exporter.ExportDelta(ctx, c.store); exportErr != nil {
				c.log.WithError(exportErr).Debug("reporting export failed")
			}
		}
		cancel()
	}
}
