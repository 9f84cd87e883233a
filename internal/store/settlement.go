package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/erazemk/fieldstock/internal/model"
)

// Settlement is what a technician submits when closing an order.
type Settlement struct {
	Status        string
	Notes         string
	FailureReason string
	WorkCodes     []model.SettlementEntry
	Materials     []UsedMaterial
	EquipmentIDs  []int64
	IssuedIDs     []int64
	Collected     []CollectedDevice
	Services      []ServiceInput
}

// UsedMaterial is a quantity of a material used on an order.
type UsedMaterial struct {
	DefinitionID int64
	Quantity     int
}

// ServiceInput is an installed service. DeviceID references a device on the
// order; without it the device is declared by the client by serial and
// category.
type ServiceInput struct {
	Type           string
	DeviceID       *int64
	DeviceSerial   string
	DeviceCategory string
	DownloadMbps   *float64
	UploadMbps     *float64
	SignalDBm      *float64
	Notes          string
	ExtraDevices   []ExtraDeviceInput
}

// ExtraDeviceInput is an additional device on a service, taken from stock
// when ItemID is set.
type ExtraDeviceInput struct {
	ItemID   *int64
	Name     string
	Category string
	Serial   string
}

// SettlementResult is a settled order with the warnings raised on the way
// and the history entries written.
type SettlementResult struct {
	Order      *model.Order `json:"order"`
	Warnings   []string     `json:"warnings,omitempty"`
	HistoryIDs []int64      `json:"history_ids,omitempty"`
}

func (s *Settlement) validate(order *model.Order) error {
	switch s.Status {
	case model.OrderCompleted:
		if order.Type == model.OrderTypeInstallation && len(s.WorkCodes) == 0 {
			return badRequest("completed installation order %s requires at least one work code", order.Number)
		}
	case model.OrderNotCompleted:
		if s.FailureReason == "" {
			return badRequest("failure reason is required when an order is not completed")
		}
	default:
		return badRequest("invalid settlement status %q", s.Status)
	}

	for _, c := range s.WorkCodes {
		if c.Code == "" || c.Quantity <= 0 {
			return badRequest("work code %q needs a positive quantity", c.Code)
		}
	}
	for _, m := range s.Materials {
		if m.Quantity <= 0 {
			return badRequest("material %d needs a positive quantity", m.DefinitionID)
		}
	}
	if len(s.IssuedIDs) > 0 && order.Type == model.OrderTypeInstallation {
		return badRequest("devices are only issued to clients on service and outage orders")
	}
	for _, svc := range s.Services {
		if svc.Type == "" {
			return badRequest("service type is required")
		}
		if svc.DeviceID == nil && model.NormalizeSerial(svc.DeviceSerial) == "" {
			return badRequest("service %s needs a device or a client-declared serial", svc.Type)
		}
	}
	return nil
}

// CompleteOrder settles an open order in one transaction: status, work
// codes, materials, consumed, issued and collected devices, and installed
// services. Any failure rolls back all of it. A material the technician is
// short of does not fail the settlement; it is drawn down to zero and
// reported as a warning.
func CompleteOrder(ctx context.Context, db *sql.DB, actor model.Actor, orderID int64, s Settlement, now time.Time) (*SettlementResult, error) {
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
	if order.Status != model.OrderPending && order.Status != model.OrderAssigned {
		return nil, badRequest("order %s is already %s; amend it instead", order.Number, order.Status)
	}
	if err := s.validate(order); err != nil {
		return nil, err
	}

	result, err := settle(ctx, tx, actor, order, holderID, s, now.UTC())
	if err != nil {
		return nil, err
	}
	if err := appendOrderHistory(ctx, tx, order.ID, actor.UserID, order.Status, s.Status, s.FailureReason); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing settlement: %w", err)
	}
	return result, nil
}

// settle applies a settlement to order against holderID's stock. It is shared
// by completion and amendment and is safe to re-run with the same input.
func settle(ctx context.Context, tx *sql.Tx, actor model.Actor, order *model.Order, holderID int64, s Settlement, completedAt time.Time) (*SettlementResult, error) {
	result := &SettlementResult{}

	if _, err := tx.ExecContext(ctx,
		`UPDATE orders SET status = ?, notes = ?, failure_reason = ?, completed_at = ?,
		        updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		s.Status, s.Notes, s.FailureReason, completedAt, order.ID,
	); err != nil {
		return nil, fmt.Errorf("updating order: %w", err)
	}

	if err := replaceWorkCodes(ctx, tx, order.ID, s.WorkCodes); err != nil {
		return nil, err
	}

	if err := settleMaterials(ctx, tx, actor, order, holderID, s.Materials, result); err != nil {
		return nil, err
	}

	for _, id := range s.EquipmentIDs {
		entry, err := consumeDevice(ctx, tx, actor, order, holderID, id, model.EquipmentInstalled, KindConflict)
		if err != nil {
			return nil, err
		}
		result.addEntry(entry)
	}
	for _, id := range s.IssuedIDs {
		entry, err := consumeDevice(ctx, tx, actor, order, holderID, id, model.EquipmentIssued, KindConflict)
		if err != nil {
			return nil, err
		}
		result.addEntry(entry)
	}

	for _, d := range s.Collected {
		_, entry, err := collectDevice(ctx, tx, actor, order, holderID, d)
		if err != nil {
			return nil, err
		}
		result.addEntry(entry)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM order_services WHERE order_id = ?`, order.ID); err != nil {
		return nil, fmt.Errorf("clearing order services: %w", err)
	}
	if s.Status == model.OrderCompleted {
		for _, svc := range s.Services {
			if err := insertService(ctx, tx, actor, order, holderID, svc, result); err != nil {
				return nil, err
			}
		}
	}

	settled, err := requireOrder(ctx, tx, order.ID)
	if err != nil {
		return nil, err
	}
	if err := loadOrderChildren(ctx, tx, settled); err != nil {
		return nil, err
	}
	result.Order = settled
	return result, nil
}

func (r *SettlementResult) addEntry(e *model.HistoryEntry) {
	if e != nil {
		r.HistoryIDs = append(r.HistoryIDs, e.ID)
	}
}

func replaceWorkCodes(ctx context.Context, tx *sql.Tx, orderID int64, codes []model.SettlementEntry) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM order_settlements WHERE order_id = ?`, orderID); err != nil {
		return fmt.Errorf("clearing work codes: %w", err)
	}
	for _, c := range codes {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO order_settlements (order_id, code, quantity) VALUES (?, ?, ?)`,
			orderID, c.Code, c.Quantity,
		); err != nil {
			return fmt.Errorf("adding work code %s: %w", c.Code, err)
		}
	}
	return nil
}

// settleMaterials replaces the order's material snapshot and draws from the
// technician only what has not been drawn for this order yet. Consumption is
// never credited back.
func settleMaterials(ctx context.Context, tx *sql.Tx, actor model.Actor, order *model.Order, holderID int64, used []UsedMaterial, result *SettlementResult) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM order_materials WHERE order_id = ?`, order.ID); err != nil {
		return fmt.Errorf("clearing order materials: %w", err)
	}

	totals := make(map[int64]int)
	var defIDs []int64
	for _, m := range used {
		if _, ok := totals[m.DefinitionID]; !ok {
			defIDs = append(defIDs, m.DefinitionID)
		}
		totals[m.DefinitionID] += m.Quantity
	}

	for _, defID := range defIDs {
		qty := totals[defID]
		def, err := requireDefinition(ctx, tx, defID)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO order_materials (order_id, material_definition_id, name, unit, unit_price, quantity)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			order.ID, def.ID, def.Name, def.Unit, def.UnitPrice.String(), qty,
		); err != nil {
			return fmt.Errorf("recording material %s: %w", def.Name, err)
		}

		drawn, err := drawnForOrder(ctx, tx, order.ID, def.ID)
		if err != nil {
			return err
		}
		need := qty - drawn
		if need <= 0 {
			continue
		}

		taken, ids, err := drawDown(ctx, tx, holderID, def.ID, need, model.HistoryEntry{
			Action:       model.ActionAssignedToOrder,
			PerformedBy:  &actor.UserID,
			OrderID:      &order.ID,
			AssignedToID: &holderID,
		})
		if err != nil {
			return err
		}
		result.HistoryIDs = append(result.HistoryIDs, ids...)
		if taken < need {
			result.Warnings = append(result.Warnings, fmt.Sprintf(
				"insufficient stock of %s: used %d %s, technician held %d", def.Name, need, def.Unit, taken))
		}
	}
	return nil
}

// drawnForOrder sums what the ledger has already drawn for an order and
// material.
func drawnForOrder(ctx context.Context, tx *sql.Tx, orderID, definitionID int64) (int, error) {
	var n int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(h.quantity), 0)
		 FROM history h JOIN items i ON i.id = h.item_id
		 WHERE h.order_id = ? AND h.action = 'assigned_to_order'
		   AND i.kind = 'material' AND i.material_definition_id = ?`,
		orderID, definitionID,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("summing drawn material: %w", err)
	}
	return n, nil
}

func insertService(ctx context.Context, tx *sql.Tx, actor model.Actor, order *model.Order, holderID int64, svc ServiceInput, result *SettlementResult) error {
	var (
		serial   = model.NormalizeSerial(svc.DeviceSerial)
		category = svc.DeviceCategory
		declared = svc.DeviceID == nil
	)
	if svc.DeviceID != nil {
		item, err := requireItem(ctx, tx, *svc.DeviceID)
		if err != nil {
			return err
		}
		if item.Device == nil {
			return badRequest("service device %s is a material", item.Name())
		}
		role, err := equipmentRole(ctx, tx, order.ID, item.ID)
		if err != nil {
			return err
		}
		if role == "" {
			return badRequest("service device %s is not part of order %s", deviceLabel(item), order.Number)
		}
		serial = item.Device.SerialNumber
		category = item.Device.Category
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO order_services (order_id, type, device_id, device_serial, device_category,
		                             client_declared, download_mbps, upload_mbps, signal_dbm, notes)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		order.ID, svc.Type, svc.DeviceID, serial, category, declared,
		svc.DownloadMbps, svc.UploadMbps, svc.SignalDBm, svc.Notes,
	)
	if err != nil {
		return fmt.Errorf("recording service %s: %w", svc.Type, err)
	}
	serviceID, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting service id: %w", err)
	}

	for _, extra := range svc.ExtraDevices {
		name, cat, sn := extra.Name, extra.Category, model.NormalizeSerial(extra.Serial)
		if extra.ItemID != nil {
			entry, err := consumeDevice(ctx, tx, actor, order, holderID, *extra.ItemID, model.EquipmentInstalled, KindConflict)
			if err != nil {
				return err
			}
			result.addEntry(entry)

			item, err := requireItem(ctx, tx, *extra.ItemID)
			if err != nil {
				return err
			}
			name, cat, sn = item.Name(), item.Device.Category, item.Device.SerialNumber
		} else if name == "" && sn == "" {
			return badRequest("extra device on service %s needs a name or serial", svc.Type)
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO order_service_extra_devices (service_id, item_id, name, category, serial)
			 VALUES (?, ?, ?, ?, ?)`,
			serviceID, extra.ItemID, name, cat, sn,
		); err != nil {
			return fmt.Errorf("recording extra device: %w", err)
		}
	}
	return nil
}
