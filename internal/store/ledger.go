package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/erazemk/fieldstock/internal/model"
)

// placement is where a device row sits after a transition.
type placement struct {
	status     string
	assignedTo *int64
	location   *int64
}

// stockKey identifies the material row that quantities merge into. Technician
// rows have no location; location rows have no owner.
type stockKey struct {
	definitionID int64
	ownerID      *int64
	locationID   *int64
}

func technicianStock(definitionID, technicianID int64) stockKey {
	return stockKey{definitionID: definitionID, ownerID: &technicianID}
}

func locationStock(definitionID, locationID int64) stockKey {
	return stockKey{definitionID: definitionID, locationID: &locationID}
}

func (k stockKey) status() string {
	if k.ownerID != nil {
		return model.StatusAssigned
	}
	return model.StatusAvailable
}

func ptr[T any](v T) *T { return &v }

// createDevice inserts a device row at p and records entry as its first
// history entry.
func createDevice(ctx context.Context, tx *sql.Tx, d model.Device, p placement, entry model.HistoryEntry) (*model.Item, *model.HistoryEntry, error) {
	var serial *string
	if d.SerialNumber != "" {
		serial = &d.SerialNumber
	}
	result, err := tx.ExecContext(ctx,
		`INSERT INTO items (kind, name, category, serial_number, quantity, unit_price,
		                    status, assigned_to_id, location_id)
		 VALUES ('device', ?, ?, ?, 1, ?, ?, ?, ?)`,
		d.Name, d.Category, serial, d.UnitPrice.String(), p.status, p.assignedTo, p.location,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("creating device: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, nil, fmt.Errorf("getting device id: %w", err)
	}

	entry.ItemID = id
	saved, err := appendHistory(ctx, tx, entry)
	if err != nil {
		return nil, nil, err
	}
	item, err := requireItem(ctx, tx, id)
	if err != nil {
		return nil, nil, err
	}
	return item, saved, nil
}

// transition moves a device row to p and records entry against it. Device
// custody changes only through here.
func transition(ctx context.Context, tx *sql.Tx, item *model.Item, p placement, entry model.HistoryEntry) (*model.Item, *model.HistoryEntry, error) {
	if item.Device == nil {
		return nil, nil, fmt.Errorf("transition on material row %d", item.ID)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE items SET status = ?, assigned_to_id = ?, location_id = ?,
		        updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		p.status, p.assignedTo, p.location, item.ID,
	); err != nil {
		return nil, nil, fmt.Errorf("updating device %d: %w", item.ID, err)
	}

	entry.ItemID = item.ID
	saved, err := appendHistory(ctx, tx, entry)
	if err != nil {
		return nil, nil, err
	}
	updated, err := requireItem(ctx, tx, item.ID)
	if err != nil {
		return nil, nil, err
	}
	return updated, saved, nil
}

// takeQuantity atomically decrements a material row. The row never goes
// negative: a short row fails with BadRequest naming the material. History
// is the caller's job; transfer escrow is recorded by its transfer row.
func takeQuantity(ctx context.Context, tx *sql.Tx, row *model.Item, qty int) error {
	result, err := tx.ExecContext(ctx,
		`UPDATE items SET quantity = quantity - ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND kind = 'material' AND quantity >= ?`,
		qty, row.ID, qty,
	)
	if err != nil {
		return fmt.Errorf("decrementing %s: %w", row.Name(), err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("decrementing %s: %w", row.Name(), err)
	}
	if n == 0 {
		return badRequest("insufficient quantity of %s: requested %d", row.Name(), qty)
	}
	return nil
}

// findStockRow returns the oldest row for key, or nil.
func findStockRow(ctx context.Context, tx *sql.Tx, key stockKey) (*model.Item, error) {
	items, err := queryItems(ctx, tx,
		`i.kind = 'material' AND i.material_definition_id = ? AND i.status = ?
		   AND i.assigned_to_id IS ? AND i.location_id IS ?
		 ORDER BY i.id LIMIT 1`,
		key.definitionID, key.status(), key.ownerID, key.locationID,
	)
	if err != nil || len(items) == 0 {
		return nil, err
	}
	return &items[0], nil
}

// putQuantity increments the row for key, creating it from the material
// definition when the owner or location has none yet.
func putQuantity(ctx context.Context, tx *sql.Tx, key stockKey, qty int) (*model.Item, error) {
	row, err := findStockRow(ctx, tx, key)
	if err != nil {
		return nil, err
	}

	if row != nil {
		if _, err := tx.ExecContext(ctx,
			`UPDATE items SET quantity = quantity + ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
			qty, row.ID,
		); err != nil {
			return nil, fmt.Errorf("incrementing %s: %w", row.Name(), err)
		}
		return requireItem(ctx, tx, row.ID)
	}

	def, err := requireDefinition(ctx, tx, key.definitionID)
	if err != nil {
		return nil, err
	}
	result, err := tx.ExecContext(ctx,
		`INSERT INTO items (kind, name, category, material_definition_id, quantity, unit,
		                    unit_price, status, assigned_to_id, location_id)
		 VALUES ('material', ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		def.Name, def.Category, def.ID, qty, def.Unit, def.UnitPrice.String(),
		key.status(), key.ownerID, key.locationID,
	)
	if err != nil {
		return nil, fmt.Errorf("creating stock row for %s: %w", def.Name, err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("getting stock row id: %w", err)
	}
	return requireItem(ctx, tx, id)
}

// moveQuantity moves qty units out of from (nil when units enter the ledger)
// into the row for to (nil when units leave it), and records the move as one
// history entry on the row that received it, or on from when nothing did.
func moveQuantity(ctx context.Context, tx *sql.Tx, from *model.Item, to *stockKey, qty int, entry model.HistoryEntry) (*model.Item, *model.HistoryEntry, error) {
	if qty <= 0 {
		return nil, nil, badRequest("quantity must be positive")
	}
	if from == nil && to == nil {
		return nil, nil, fmt.Errorf("quantity move without source or destination")
	}

	if from != nil {
		if err := takeQuantity(ctx, tx, from, qty); err != nil {
			return nil, nil, err
		}
	}

	var (
		row *model.Item
		err error
	)
	if to != nil {
		row, err = putQuantity(ctx, tx, *to, qty)
	} else {
		row, err = requireItem(ctx, tx, from.ID)
	}
	if err != nil {
		return nil, nil, err
	}

	entry.ItemID = row.ID
	entry.Quantity = &qty
	saved, err := appendHistory(ctx, tx, entry)
	if err != nil {
		return nil, nil, err
	}
	return row, saved, nil
}

// drawDown takes up to qty units from a technician's rows for a material,
// flooring at zero, and records one history entry per row it touched. It
// returns how many units it actually took.
func drawDown(ctx context.Context, tx *sql.Tx, technicianID, definitionID int64, qty int, entry model.HistoryEntry) (int, []int64, error) {
	rows, err := queryItems(ctx, tx,
		`i.kind = 'material' AND i.material_definition_id = ? AND i.assigned_to_id = ?
		   AND i.status = 'assigned' AND i.quantity > 0
		 ORDER BY i.id`,
		definitionID, technicianID,
	)
	if err != nil {
		return 0, nil, err
	}

	taken := 0
	var historyIDs []int64
	for i := range rows {
		if taken == qty {
			break
		}
		n := min(qty-taken, rows[i].Quantity())
		_, saved, err := moveQuantity(ctx, tx, &rows[i], nil, n, entry)
		if err != nil {
			return 0, nil, err
		}
		taken += n
		historyIDs = append(historyIDs, saved.ID)
	}
	return taken, historyIDs, nil
}

// DeviceInput describes a device received into a location.
type DeviceInput struct {
	Name         string
	Category     string
	SerialNumber string
	UnitPrice    decimal.Decimal
}

// ReceiveDevice creates a device in a location's stock.
func ReceiveDevice(ctx context.Context, db *sql.DB, actor model.Actor, locationID int64, in DeviceInput) (*model.Item, *model.HistoryEntry, error) {
	if err := requireLocationActor(actor, locationID); err != nil {
		return nil, nil, err
	}
	if in.Name == "" {
		return nil, nil, badRequest("device name is required")
	}
	serial := model.NormalizeSerial(in.SerialNumber)

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := requireLocation(ctx, tx, locationID); err != nil {
		return nil, nil, err
	}
	if serial != "" {
		if err := requireFreeSerial(ctx, tx, serial); err != nil {
			return nil, nil, err
		}
	}

	item, entry, err := createDevice(ctx, tx,
		model.Device{Name: in.Name, Category: in.Category, SerialNumber: serial, UnitPrice: in.UnitPrice},
		placement{status: model.StatusAvailable, location: &locationID},
		model.HistoryEntry{
			Action:       model.ActionReceived,
			PerformedBy:  &actor.UserID,
			ToLocationID: &locationID,
		},
	)
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("committing receipt: %w", err)
	}
	return item, entry, nil
}

func requireFreeSerial(ctx context.Context, tx *sql.Tx, serial string) error {
	var exists bool
	if err := tx.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM items WHERE serial_number = ?)`, serial,
	).Scan(&exists); err != nil {
		return fmt.Errorf("checking serial number: %w", err)
	}
	if exists {
		return conflict("device with serial number %s already exists", serial)
	}
	return nil
}

// ReceiveMaterial adds qty units of a material to a location's stock row.
func ReceiveMaterial(ctx context.Context, db *sql.DB, actor model.Actor, locationID, definitionID int64, qty int) (*model.Item, *model.HistoryEntry, error) {
	if err := requireLocationActor(actor, locationID); err != nil {
		return nil, nil, err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := requireLocation(ctx, tx, locationID); err != nil {
		return nil, nil, err
	}
	key := locationStock(definitionID, locationID)
	item, entry, err := moveQuantity(ctx, tx, nil, &key, qty, model.HistoryEntry{
		Action:       model.ActionReceived,
		PerformedBy:  &actor.UserID,
		ToLocationID: &locationID,
	})
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("committing receipt: %w", err)
	}
	return item, entry, nil
}

// Issue hands location stock to a technician. Devices move whole and keep
// their origin location; materials move qty units into the technician's row.
func Issue(ctx context.Context, db *sql.DB, actor model.Actor, itemID, technicianID int64, qty int) (*model.Item, *model.HistoryEntry, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	item, err := requireItem(ctx, tx, itemID)
	if err != nil {
		return nil, nil, err
	}
	if item.AssignedToID != nil || item.LocationID == nil || item.Status != model.StatusAvailable {
		return nil, nil, badRequest("%s is not available in a location", item.Name())
	}
	locationID := *item.LocationID
	if err := requireLocationActor(actor, locationID); err != nil {
		return nil, nil, err
	}
	if _, err := requireTechnician(ctx, tx, technicianID); err != nil {
		return nil, nil, err
	}

	entry := model.HistoryEntry{
		Action:         model.ActionIssued,
		PerformedBy:    &actor.UserID,
		AssignedToID:   &technicianID,
		FromLocationID: &locationID,
	}

	var saved *model.HistoryEntry
	switch item.Kind {
	case model.KindDevice:
		if qty > 1 {
			return nil, nil, badRequest("devices are issued one at a time")
		}
		if item.Device.SerialNumber == "" {
			return nil, nil, badRequest("device %s has no serial number", item.Name())
		}
		item, saved, err = transition(ctx, tx, item, placement{
			status:     model.StatusAssigned,
			assignedTo: &technicianID,
			location:   &locationID,
		}, entry)
	case model.KindMaterial:
		key := technicianStock(item.Material.DefinitionID, technicianID)
		item, saved, err = moveQuantity(ctx, tx, item, &key, qty, entry)
	}
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("committing issue: %w", err)
	}
	return item, saved, nil
}

// ConsumeForOrder links devices held by the order's technician to the order.
// Devices already consumed by this order are skipped.
func ConsumeForOrder(ctx context.Context, db *sql.DB, actor model.Actor, orderID int64, itemIDs []int64) ([]int64, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	order, err := requireOrder(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	holderID, err := settlingTechnician(actor, order)
	if err != nil {
		return nil, err
	}

	var historyIDs []int64
	for _, id := range itemIDs {
		entry, err := consumeDevice(ctx, tx, actor, order, holderID, id, model.EquipmentInstalled, KindForbidden)
		if err != nil {
			return nil, err
		}
		if entry != nil {
			historyIDs = append(historyIDs, entry.ID)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing consumption: %w", err)
	}
	return historyIDs, nil
}

// consumeDevice links one device to order under role and hands it from
// holderID to the order. A device held by anyone else fails with ownership;
// a device claimed by another order always fails with Conflict. It returns a
// nil entry when the device is already consumed by this order.
func consumeDevice(ctx context.Context, tx *sql.Tx, actor model.Actor, order *model.Order, holderID, itemID int64, role string, ownership ErrorKind) (*model.HistoryEntry, error) {
	item, err := requireItem(ctx, tx, itemID)
	if err != nil {
		return nil, err
	}
	if item.Device == nil {
		return nil, badRequest("%s is a material, not a device", item.Name())
	}

	claimedBy, err := consumingOrder(ctx, tx, itemID)
	if err != nil {
		return nil, err
	}
	if claimedBy != nil {
		if claimedBy.ID != order.ID {
			return nil, conflict("device %s is already assigned to order %s", deviceLabel(item), claimedBy.Number)
		}
		if item.Status == model.StatusAssignedToOrder {
			return nil, nil
		}
	}

	if item.TransferPending {
		return nil, conflict("device %s has a pending transfer", deviceLabel(item))
	}
	if item.Status != model.StatusAssigned || !item.HeldBy(holderID) {
		return nil, &Error{Kind: ownership, Msg: fmt.Sprintf("device %s is not held by the order's technician", deviceLabel(item))}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO order_equipment (order_id, item_id, role) VALUES (?, ?, ?)
		 ON CONFLICT (order_id, item_id) DO UPDATE SET role = excluded.role`,
		order.ID, itemID, role,
	); err != nil {
		return nil, fmt.Errorf("linking device to order: %w", err)
	}

	_, entry, err := transition(ctx, tx, item, placement{
		status:   model.StatusAssignedToOrder,
		location: item.LocationID,
	}, model.HistoryEntry{
		Action:       model.ActionAssignedToOrder,
		PerformedBy:  &actor.UserID,
		OrderID:      &order.ID,
		AssignedToID: &holderID,
	})
	return entry, err
}

// consumingOrder returns the order that holds a non-collected link to the item.
func consumingOrder(ctx context.Context, tx *sql.Tx, itemID int64) (*model.Order, error) {
	var orderID int64
	err := tx.QueryRowContext(ctx,
		`SELECT order_id FROM order_equipment WHERE item_id = ? AND role != 'collected'`, itemID,
	).Scan(&orderID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("checking device claims: %w", err)
	}
	return requireOrder(ctx, tx, orderID)
}

func deviceLabel(item *model.Item) string {
	if item.Device != nil && item.Device.SerialNumber != "" {
		return item.Device.SerialNumber
	}
	return item.Name()
}

// CollectedDevice describes a device picked up at a client.
type CollectedDevice struct {
	Name         string
	Category     string
	SerialNumber string
}

// CollectFromClient records a device picked up at the order's client. The
// device lands in the order technician's custody.
func CollectFromClient(ctx context.Context, db *sql.DB, actor model.Actor, orderID int64, d CollectedDevice) (*model.Item, *model.HistoryEntry, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	order, err := requireOrder(ctx, tx, orderID)
	if err != nil {
		return nil, nil, err
	}
	holderID, err := settlingTechnician(actor, order)
	if err != nil {
		return nil, nil, err
	}

	item, entry, err := collectDevice(ctx, tx, actor, order, holderID, d)
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("committing collection: %w", err)
	}
	return item, entry, nil
}

// collectDevice creates or reuses, by normalized serial, the row for a device
// collected at order's client and links it to the order. A device already
// collected on this order is returned unchanged with a nil entry, whatever
// happened to it since.
func collectDevice(ctx context.Context, tx *sql.Tx, actor model.Actor, order *model.Order, holderID int64, d CollectedDevice) (*model.Item, *model.HistoryEntry, error) {
	serial := model.NormalizeSerial(d.SerialNumber)
	if serial == "" {
		return nil, nil, badRequest("collected device requires a serial number")
	}

	entry := model.HistoryEntry{
		Action:       model.ActionCollectedFromClient,
		PerformedBy:  &actor.UserID,
		OrderID:      &order.ID,
		AssignedToID: &holderID,
	}
	collected := placement{status: model.StatusCollectedFromClient, assignedTo: &holderID}

	var existing *model.Item
	items, err := queryItems(ctx, tx, `i.serial_number = ?`, serial)
	if err != nil {
		return nil, nil, err
	}
	if len(items) > 0 {
		existing = &items[0]
		linked, err := equipmentRole(ctx, tx, order.ID, existing.ID)
		if err != nil {
			return nil, nil, err
		}
		if linked == model.EquipmentCollected {
			// Movements after the collection stand as they are.
			return existing, nil, nil
		}
	}

	var (
		item  *model.Item
		saved *model.HistoryEntry
	)
	switch {
	case existing == nil:
		if d.Name == "" {
			return nil, nil, badRequest("collected device %s requires a name", serial)
		}
		item, saved, err = createDevice(ctx, tx,
			model.Device{Name: d.Name, Category: d.Category, SerialNumber: serial},
			collected, entry)
		if err != nil {
			return nil, nil, err
		}

	case existing.Status == model.StatusCollectedFromClient:
		return nil, nil, conflict("device %s is already collected elsewhere", serial)

	case existing.Status == model.StatusAssignedToOrder || existing.Status == model.StatusReturnedToOperator:
		// Installed at a client earlier, or back in the field after leaving
		// the system: the old consuming link no longer describes where it is.
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM order_equipment WHERE item_id = ? AND role != 'collected'`, existing.ID,
		); err != nil {
			return nil, nil, fmt.Errorf("releasing previous order link: %w", err)
		}
		item, saved, err = transition(ctx, tx, existing, collected, entry)
		if err != nil {
			return nil, nil, err
		}

	default:
		return nil, nil, conflict("device %s is in stock and cannot be collected from a client", serial)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO order_equipment (order_id, item_id, role) VALUES (?, ?, 'collected')`,
		order.ID, item.ID,
	); err != nil {
		return nil, nil, fmt.Errorf("linking collected device: %w", err)
	}
	return item, saved, nil
}

// equipmentRole returns the role under which order links item, or "".
func equipmentRole(ctx context.Context, tx *sql.Tx, orderID, itemID int64) (string, error) {
	var role string
	err := tx.QueryRowContext(ctx,
		`SELECT role FROM order_equipment WHERE order_id = ? AND item_id = ?`, orderID, itemID,
	).Scan(&role)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("checking order link: %w", err)
	}
	return role, nil
}

// ReturnToLocation takes stock back from a technician into a location.
// Assigned devices become available again; collected devices become returned
// and wait for shipment to the operator.
func ReturnToLocation(ctx context.Context, db *sql.DB, actor model.Actor, itemID, locationID int64, qty int) (*model.Item, *model.HistoryEntry, error) {
	if err := requireLocationActor(actor, locationID); err != nil {
		return nil, nil, err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := requireLocation(ctx, tx, locationID); err != nil {
		return nil, nil, err
	}
	item, err := requireItem(ctx, tx, itemID)
	if err != nil {
		return nil, nil, err
	}
	if item.AssignedToID == nil {
		return nil, nil, badRequest("%s is not held by a technician", item.Name())
	}
	if item.TransferPending {
		return nil, nil, conflict("%s has a pending transfer", item.Name())
	}

	entry := model.HistoryEntry{
		Action:       model.ActionReturned,
		PerformedBy:  &actor.UserID,
		AssignedToID: item.AssignedToID,
		ToLocationID: &locationID,
	}

	var saved *model.HistoryEntry
	switch item.Kind {
	case model.KindDevice:
		var status string
		switch item.Status {
		case model.StatusAssigned:
			status = model.StatusAvailable
		case model.StatusCollectedFromClient:
			status = model.StatusReturned
		default:
			return nil, nil, badRequest("device %s cannot be returned from status %s", deviceLabel(item), item.Status)
		}
		item, saved, err = transition(ctx, tx, item, placement{status: status, location: &locationID}, entry)
	case model.KindMaterial:
		key := locationStock(item.Material.DefinitionID, locationID)
		item, saved, err = moveQuantity(ctx, tx, item, &key, qty, entry)
	}
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("committing return: %w", err)
	}
	return item, saved, nil
}

// OperatorReturn is one line of a shipment back to the supplying operator.
// Quantity is ignored for devices.
type OperatorReturn struct {
	ItemID   int64
	Quantity int
}

// ReturnToOperator ships location stock back to the operator. Devices leave
// the system for good; material quantities leave the location's row. It
// returns the history entries it created, for export.
func ReturnToOperator(ctx context.Context, db *sql.DB, actor model.Actor, locationID int64, lines []OperatorReturn) ([]int64, error) {
	if err := requireLocationActor(actor, locationID); err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, badRequest("nothing to return")
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var historyIDs []int64
	for _, line := range lines {
		item, err := requireItem(ctx, tx, line.ItemID)
		if err != nil {
			return nil, err
		}
		if item.AssignedToID != nil || item.LocationID == nil || *item.LocationID != locationID {
			return nil, badRequest("%s is not in stock at location %d", item.Name(), locationID)
		}

		entry := model.HistoryEntry{
			Action:         model.ActionReturnedToOperator,
			PerformedBy:    &actor.UserID,
			FromLocationID: &locationID,
		}

		var saved *model.HistoryEntry
		switch item.Kind {
		case model.KindDevice:
			if item.Status != model.StatusReturned && item.Status != model.StatusAvailable {
				return nil, badRequest("device %s cannot be returned from status %s", deviceLabel(item), item.Status)
			}
			_, saved, err = transition(ctx, tx, item, placement{status: model.StatusReturnedToOperator}, entry)
		case model.KindMaterial:
			_, saved, err = moveQuantity(ctx, tx, item, nil, line.Quantity, entry)
		}
		if err != nil {
			return nil, err
		}
		historyIDs = append(historyIDs, saved.ID)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing operator return: %w", err)
	}
	return historyIDs, nil
}
