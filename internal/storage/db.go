package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"tcgledger/internal"
)

var (
	ErrAlreadyCommitted = errors.New("order already committed to ledger")
	ErrNotFound         = errors.New("not found")
)

type DB struct {
	conn *sql.DB

	// confirmFault is a test seam run between the sale writes and the
	// ledger commit; a non-nil error aborts the transaction.
	confirmFault func() error
}

func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	if _, err := conn.Exec(`PRAGMA journal_mode = WAL;`); err != nil {
		_ = conn.Close()
		return nil, err
	}
	if _, err := conn.Exec(`PRAGMA foreign_keys = ON;`); err != nil {
		_ = conn.Close()
		return nil, err
	}

	db := &DB{conn: conn}
	if err := db.init(); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return db, nil
}

func (d *DB) Close() error {
	return d.conn.Close()
}

func (d *DB) init() error {
	schema := `
CREATE TABLE IF NOT EXISTS messages (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  provider TEXT NOT NULL,
  messageId TEXT NOT NULL,
  subject TEXT,
  sender TEXT,
  receivedAt TEXT,
  outcome TEXT NOT NULL DEFAULT '',
  createdAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
  updatedAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
  UNIQUE(provider, messageId)
);

CREATE TABLE IF NOT EXISTS inventory (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  name TEXT NOT NULL,
  condition TEXT NOT NULL DEFAULT '',
  quantityOnHand INTEGER NOT NULL DEFAULT 0,
  costBasisCents INTEGER NOT NULL DEFAULT 0,
  addedAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_inventory_name ON inventory(name);

CREATE TABLE IF NOT EXISTS ledger (
  orderId TEXT PRIMARY KEY,
  resolution TEXT NOT NULL,
  committedAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS pending_sales (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  orderId TEXT NOT NULL UNIQUE,
  saleJson TEXT NOT NULL,
  detectedAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS confirmed_sales (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  orderId TEXT NOT NULL,
  inventoryItemId INTEGER NOT NULL,
  itemName TEXT NOT NULL,
  quantity INTEGER NOT NULL,
  salePriceCents INTEGER NOT NULL,
  costBasisCents INTEGER NOT NULL,
  profitCents INTEGER NOT NULL,
  confirmedAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
  FOREIGN KEY(inventoryItemId) REFERENCES inventory(id)
);
CREATE INDEX IF NOT EXISTS idx_confirmed_orderId ON confirmed_sales(orderId);

CREATE TABLE IF NOT EXISTS metadata (
  key TEXT PRIMARY KEY,
  value TEXT NOT NULL,
  updatedAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

	_, err := d.conn.Exec(schema)
	return err
}

func (d *DB) UpsertMessage(provider, messageID, subject, sender, receivedAt, outcome string) error {
	_, err := d.conn.Exec(`
INSERT INTO messages (provider, messageId, subject, sender, receivedAt, outcome)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(provider, messageId) DO UPDATE SET
  subject=excluded.subject,
  sender=excluded.sender,
  receivedAt=excluded.receivedAt,
  outcome=excluded.outcome,
  updatedAt=CURRENT_TIMESTAMP
`, provider, messageID, subject, sender, receivedAt, outcome)
	return err
}

func (d *DB) CountMessagesByOutcome(outcome string) (int, error) {
	var count int
	err := d.conn.QueryRow(`SELECT COUNT(*) FROM messages WHERE outcome = ?`, outcome).Scan(&count)
	return count, err
}

func (d *DB) InsertInventoryItem(item internal.InventoryItem) (int64, error) {
	addedAt := item.AddedAt
	if addedAt == "" {
		addedAt = time.Now().UTC().Format(time.RFC3339)
	}
	result, err := d.conn.Exec(`
INSERT INTO inventory (name, condition, quantityOnHand, costBasisCents, addedAt)
VALUES (?, ?, ?, ?, ?)
`, item.Name, item.Condition, item.QuantityOnHand, item.CostBasisCents, addedAt)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

func (d *DB) ListInventory() ([]internal.InventoryItem, error) {
	rows, err := d.conn.Query(`
SELECT id, name, condition, quantityOnHand, costBasisCents, addedAt
FROM inventory ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []internal.InventoryItem
	for rows.Next() {
		var item internal.InventoryItem
		if err := rows.Scan(&item.ID, &item.Name, &item.Condition, &item.QuantityOnHand, &item.CostBasisCents, &item.AddedAt); err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func (d *DB) GetInventoryItem(id int64) (*internal.InventoryItem, error) {
	var item internal.InventoryItem
	err := d.conn.QueryRow(`
SELECT id, name, condition, quantityOnHand, costBasisCents, addedAt
FROM inventory WHERE id = ?`, id).Scan(
		&item.ID, &item.Name, &item.Condition, &item.QuantityOnHand, &item.CostBasisCents, &item.AddedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (d *DB) HasOrder(orderID string) (bool, error) {
	var one int
	err := d.conn.QueryRow(`SELECT 1 FROM ledger WHERE orderId = ?`, orderID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// CommitOrder is idempotent; the ledger is append-only.
func (d *DB) CommitOrder(orderID, resolution string) error {
	_, err := d.conn.Exec(`
INSERT INTO ledger (orderId, resolution) VALUES (?, ?)
ON CONFLICT(orderId) DO NOTHING
`, orderID, resolution)
	return err
}

// InsertPendingSale returns created=false when the order id is already queued.
func (d *DB) InsertPendingSale(sale internal.Sale) (int64, bool, error) {
	blob, err := json.Marshal(sale)
	if err != nil {
		return 0, false, err
	}

	result, err := d.conn.Exec(`
INSERT INTO pending_sales (orderId, saleJson, detectedAt) VALUES (?, ?, ?)
ON CONFLICT(orderId) DO NOTHING
`, sale.OrderID, string(blob), sale.DetectedAt)
	if err != nil {
		return 0, false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, false, err
	}
	if affected == 0 {
		return 0, false, nil
	}
	id, err := result.LastInsertId()
	return id, true, err
}

func (d *DB) ListPendingSales() ([]internal.PendingSaleEntry, error) {
	rows, err := d.conn.Query(`SELECT id, saleJson FROM pending_sales ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []internal.PendingSaleEntry
	for rows.Next() {
		var entry internal.PendingSaleEntry
		var blob string
		if err := rows.Scan(&entry.ID, &blob); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(blob), &entry.Sale); err != nil {
			return nil, err
		}
		entry.Status = internal.StatusPending
		out = append(out, entry)
	}
	return out, rows.Err()
}

func (d *DB) GetPendingSale(id int64) (*internal.PendingSaleEntry, error) {
	var entry internal.PendingSaleEntry
	var blob string
	err := d.conn.QueryRow(`SELECT id, saleJson FROM pending_sales WHERE id = ?`, id).Scan(&entry.ID, &blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(blob), &entry.Sale); err != nil {
		return nil, err
	}
	entry.Status = internal.StatusPending
	return &entry, nil
}

type ConfirmSelection struct {
	LineIndex       int
	InventoryItemID int64
	CostBasisCents  int64
}

// StockWarning flags a confirmation that would drive quantity on hand
// negative; the quantity is clamped at zero and the sale still recorded.
type StockWarning struct {
	InventoryItemID int64
	ItemName        string
	Requested       int
	OnHand          int
}

// ConfirmPendingSale decrements stock, writes the confirmed sale records,
// commits the order id to the ledger and drops the pending row in a single
// transaction.
func (d *DB) ConfirmPendingSale(pendingID int64, selections []ConfirmSelection) ([]internal.ConfirmedSaleRecord, []StockWarning, error) {
	tx, err := d.conn.Begin()
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var orderID, blob string
	err = tx.QueryRow(`SELECT orderId, saleJson FROM pending_sales WHERE id = ?`, pendingID).Scan(&orderID, &blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, err
	}

	var one int
	err = tx.QueryRow(`SELECT 1 FROM ledger WHERE orderId = ?`, orderID).Scan(&one)
	if err == nil {
		return nil, nil, ErrAlreadyCommitted
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, nil, err
	}

	var sale internal.Sale
	if err := json.Unmarshal([]byte(blob), &sale); err != nil {
		return nil, nil, err
	}

	confirmedAt := time.Now().UTC().Format(time.RFC3339)
	records := make([]internal.ConfirmedSaleRecord, 0, len(selections))
	warnings := []StockWarning{}

	for _, sel := range selections {
		if sel.LineIndex < 0 || sel.LineIndex >= len(sale.LineItems) {
			return nil, nil, fmt.Errorf("line index %d out of range for order %s", sel.LineIndex, orderID)
		}
		line := sale.LineItems[sel.LineIndex]

		var name string
		var onHand int
		err := tx.QueryRow(`SELECT name, quantityOnHand FROM inventory WHERE id = ?`, sel.InventoryItemID).Scan(&name, &onHand)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, fmt.Errorf("inventory item %d: %w", sel.InventoryItemID, ErrNotFound)
		}
		if err != nil {
			return nil, nil, err
		}

		newQty := onHand - line.Quantity
		if newQty < 0 {
			warnings = append(warnings, StockWarning{
				InventoryItemID: sel.InventoryItemID,
				ItemName:        name,
				Requested:       line.Quantity,
				OnHand:          onHand,
			})
			newQty = 0
		}
		if _, err := tx.Exec(`UPDATE inventory SET quantityOnHand = ? WHERE id = ?`, newQty, sel.InventoryItemID); err != nil {
			return nil, nil, err
		}

		record := internal.ConfirmedSaleRecord{
			OrderID:         orderID,
			InventoryItemID: sel.InventoryItemID,
			ItemName:        name,
			Quantity:        line.Quantity,
			SalePriceCents:  line.AllocatedCents,
			CostBasisCents:  sel.CostBasisCents,
			ProfitCents:     line.AllocatedCents - sel.CostBasisCents,
			ConfirmedAt:     confirmedAt,
		}
		result, err := tx.Exec(`
INSERT INTO confirmed_sales (orderId, inventoryItemId, itemName, quantity, salePriceCents, costBasisCents, profitCents, confirmedAt)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`, record.OrderID, record.InventoryItemID, record.ItemName, record.Quantity, record.SalePriceCents, record.CostBasisCents, record.ProfitCents, record.ConfirmedAt)
		if err != nil {
			return nil, nil, err
		}
		record.ID, _ = result.LastInsertId()
		records = append(records, record)
	}

	if d.confirmFault != nil {
		if err := d.confirmFault(); err != nil {
			return nil, nil, err
		}
	}

	if _, err := tx.Exec(`INSERT INTO ledger (orderId, resolution) VALUES (?, ?)`, orderID, internal.ResolutionConfirmed); err != nil {
		if isConstraintErr(err) {
			return nil, nil, ErrAlreadyCommitted
		}
		return nil, nil, err
	}
	if _, err := tx.Exec(`DELETE FROM pending_sales WHERE id = ?`, pendingID); err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}
	return records, warnings, nil
}

// DismissPendingSale commits the order id to the ledger without writing a
// sale record.
func (d *DB) DismissPendingSale(pendingID int64) error {
	tx, err := d.conn.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var orderID string
	err = tx.QueryRow(`SELECT orderId FROM pending_sales WHERE id = ?`, pendingID).Scan(&orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	if _, err := tx.Exec(`
INSERT INTO ledger (orderId, resolution) VALUES (?, ?)
ON CONFLICT(orderId) DO NOTHING
`, orderID, internal.ResolutionDismissed); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM pending_sales WHERE id = ?`, pendingID); err != nil {
		return err
	}

	return tx.Commit()
}

func (d *DB) DismissAllPending() (int, error) {
	tx, err := d.conn.Begin()
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.Query(`SELECT id, orderId FROM pending_sales`)
	if err != nil {
		return 0, err
	}
	type row struct {
		id      int64
		orderID string
	}
	var pending []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.id, &r.orderID); err != nil {
			_ = rows.Close()
			return 0, err
		}
		pending = append(pending, r)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, r := range pending {
		if _, err := tx.Exec(`
INSERT INTO ledger (orderId, resolution) VALUES (?, ?)
ON CONFLICT(orderId) DO NOTHING
`, r.orderID, internal.ResolutionDismissed); err != nil {
			return 0, err
		}
		if _, err := tx.Exec(`DELETE FROM pending_sales WHERE id = ?`, r.id); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(pending), nil
}

func (d *DB) ListConfirmedSales() ([]internal.ConfirmedSaleRecord, error) {
	rows, err := d.conn.Query(`
SELECT id, orderId, inventoryItemId, itemName, quantity, salePriceCents, costBasisCents, profitCents, confirmedAt
FROM confirmed_sales ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []internal.ConfirmedSaleRecord
	for rows.Next() {
		var r internal.ConfirmedSaleRecord
		if err := rows.Scan(&r.ID, &r.OrderID, &r.InventoryItemID, &r.ItemName, &r.Quantity, &r.SalePriceCents, &r.CostBasisCents, &r.ProfitCents, &r.ConfirmedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// isConstraintErr spots the unique-key failure a losing concurrent writer gets.
func isConstraintErr(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "constraint")
}

func (d *DB) SetMetadata(key, value string) error {
	_, err := d.conn.Exec(`
INSERT INTO metadata (key, value) VALUES (?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value, updatedAt = CURRENT_TIMESTAMP
`, key, value)
	return err
}

func (d *DB) GetMetadata(key string) (*string, error) {
	var value string
	err := d.conn.QueryRow(`SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &value, nil
}
