package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/erazemk/fieldstock/internal/model"
)

// AmendOrder re-settles an already settled order. Technicians may amend their
// own orders within window of completion; admins and coordinators at any time.
//
// Devices dropped from the order go back to the order's technician, except
// devices collected from the client, which stay where they are: the
// technician flow only detaches them, the admin flow deletes rows that
// nothing else references. Materials are re-snapshotted but never credited
// back to stock.
func AmendOrder(ctx context.Context, db *sql.DB, actor model.Actor, orderID int64, s Settlement, now time.Time, window time.Duration) (*SettlementResult, error) {
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
	if order.Status != model.OrderCompleted && order.Status != model.OrderNotCompleted {
		return nil, badRequest("order %s has not been settled", order.Number)
	}
	if order.CompletedAt == nil {
		return nil, badRequest("order %s has no completion time", order.Number)
	}
	if actor.IsTechnician() && now.Sub(*order.CompletedAt) > window {
		return nil, badRequest("amendment window for order %s has expired", order.Number)
	}
	if err := s.validate(order); err != nil {
		return nil, err
	}

	var returned []int64
	kept := s.referencedDevices()
	links, err := orderEquipment(ctx, tx, order.ID)
	if err != nil {
		return nil, err
	}
	for _, l := range links {
		if l.Role == model.EquipmentCollected || kept[l.ItemID] {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM order_equipment WHERE order_id = ? AND item_id = ?`, order.ID, l.ItemID,
		); err != nil {
			return nil, fmt.Errorf("unlinking device: %w", err)
		}
		id, err := releaseDevice(ctx, tx, actor, order, l.ItemID)
		if err != nil {
			return nil, err
		}
		if id != 0 {
			returned = append(returned, id)
		}
	}

	if err := reconcileCollected(ctx, tx, actor, order, holderID, links, s.Collected); err != nil {
		return nil, err
	}

	result, err := settle(ctx, tx, actor, order, holderID, s, *order.CompletedAt)
	if err != nil {
		return nil, err
	}
	result.HistoryIDs = append(returned, result.HistoryIDs...)

	orphans, err := sweepOrphans(ctx, tx, actor, order)
	if err != nil {
		return nil, err
	}
	result.HistoryIDs = append(result.HistoryIDs, orphans...)

	if err := appendOrderHistory(ctx, tx, order.ID, actor.UserID, order.Status, s.Status, "amended"); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing amendment: %w", err)
	}
	return result, nil
}

// referencedDevices returns every stock device the settlement names.
func (s *Settlement) referencedDevices() map[int64]bool {
	ids := make(map[int64]bool)
	for _, id := range s.EquipmentIDs {
		ids[id] = true
	}
	for _, id := range s.IssuedIDs {
		ids[id] = true
	}
	for _, svc := range s.Services {
		if svc.DeviceID != nil {
			ids[*svc.DeviceID] = true
		}
		for _, e := range svc.ExtraDevices {
			if e.ItemID != nil {
				ids[*e.ItemID] = true
			}
		}
	}
	return ids
}

func orderEquipment(ctx context.Context, q querier, orderID int64) ([]model.OrderEquipment, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT item_id, role FROM order_equipment WHERE order_id = ? ORDER BY item_id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("listing equipment: %w", err)
	}
	defer rows.Close()

	var links []model.OrderEquipment
	for rows.Next() {
		var e model.OrderEquipment
		if err := rows.Scan(&e.ItemID, &e.Role); err != nil {
			return nil, fmt.Errorf("scanning equipment: %w", err)
		}
		links = append(links, e)
	}
	return links, rows.Err()
}

// releaseDevice gives a device consumed by order back to the order's
// technician, or to its origin location when the order has none. Devices no
// longer consumed are left alone and yield a zero id.
func releaseDevice(ctx context.Context, tx *sql.Tx, actor model.Actor, order *model.Order, itemID int64) (int64, error) {
	item, err := requireItem(ctx, tx, itemID)
	if err != nil {
		return 0, err
	}
	if item.Status != model.StatusAssignedToOrder {
		return 0, nil
	}

	var (
		p     placement
		entry = model.HistoryEntry{
			PerformedBy: &actor.UserID,
			OrderID:     &order.ID,
			Notes:       "removed from order " + order.Number,
		}
	)
	switch {
	case order.AssignedToID != nil:
		p = placement{status: model.StatusAssigned, assignedTo: order.AssignedToID, location: item.LocationID}
		entry.Action = model.ActionReturnedToTechnician
		entry.AssignedToID = order.AssignedToID
	case item.LocationID != nil:
		p = placement{status: model.StatusAvailable, location: item.LocationID}
		entry.Action = model.ActionReturned
		entry.ToLocationID = item.LocationID
	default:
		return 0, conflict("device %s has no technician or location to return to", deviceLabel(item))
	}

	_, saved, err := transition(ctx, tx, item, p, entry)
	if err != nil {
		return 0, err
	}
	return saved.ID, nil
}

// reconcileCollected detaches collected devices missing from the new list.
// Admins and coordinators also delete the device row when nothing else
// refers to it and it is still in the technician's custody.
func reconcileCollected(ctx context.Context, tx *sql.Tx, actor model.Actor, order *model.Order, holderID int64, links []model.OrderEquipment, collected []CollectedDevice) error {
	keep := make(map[string]bool)
	for _, d := range collected {
		keep[model.NormalizeSerial(d.SerialNumber)] = true
	}

	for _, l := range links {
		if l.Role != model.EquipmentCollected {
			continue
		}
		item, err := requireItem(ctx, tx, l.ItemID)
		if err != nil {
			return err
		}
		if keep[item.Device.SerialNumber] {
			continue
		}

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM order_equipment WHERE order_id = ? AND item_id = ?`, order.ID, item.ID,
		); err != nil {
			return fmt.Errorf("detaching collected device: %w", err)
		}
		if !actor.IsSupervisor() {
			continue
		}

		deletable, err := collectedDeletable(ctx, tx, item, holderID)
		if err != nil {
			return err
		}
		if !deletable {
			continue
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM history WHERE item_id = ?`, item.ID); err != nil {
			return fmt.Errorf("deleting collected device history: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM items WHERE id = ?`, item.ID); err != nil {
			return fmt.Errorf("deleting collected device: %w", err)
		}
	}
	return nil
}

func collectedDeletable(ctx context.Context, tx *sql.Tx, item *model.Item, holderID int64) (bool, error) {
	if item.Status != model.StatusCollectedFromClient || !item.HeldBy(holderID) {
		return false, nil
	}
	var referenced bool
	if err := tx.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM order_equipment WHERE item_id = ?)
		     OR EXISTS(SELECT 1 FROM order_services WHERE device_id = ?)
		     OR EXISTS(SELECT 1 FROM order_service_extra_devices WHERE item_id = ?)
		     OR EXISTS(SELECT 1 FROM pending_transfers WHERE item_id = ?)
		     OR EXISTS(SELECT 1 FROM transfer_lines WHERE item_id = ?)`,
		item.ID, item.ID, item.ID, item.ID, item.ID,
	).Scan(&referenced); err != nil {
		return false, fmt.Errorf("checking collected device references: %w", err)
	}
	return !referenced, nil
}

// sweepOrphans returns devices this order consumed at some point that are
// still marked consumed but are no longer linked to any order.
func sweepOrphans(ctx context.Context, tx *sql.Tx, actor model.Actor, order *model.Order) ([]int64, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT DISTINCT i.id FROM items i
		 JOIN history h ON h.item_id = i.id
		 WHERE h.order_id = ? AND h.action = 'assigned_to_order'
		   AND i.kind = 'device' AND i.status = 'assigned_to_order'
		   AND NOT EXISTS (SELECT 1 FROM order_equipment e
		                   WHERE e.item_id = i.id AND e.role != 'collected')
		 ORDER BY i.id`, order.ID)
	if err != nil {
		return nil, fmt.Errorf("finding orphaned devices: %w", err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning orphaned device: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var historyIDs []int64
	for _, id := range ids {
		hid, err := releaseDevice(ctx, tx, actor, order, id)
		if err != nil {
			return nil, err
		}
		if hid != 0 {
			historyIDs = append(historyIDs, hid)
		}
	}
	return historyIDs, nil
}
