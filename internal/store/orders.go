package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/erazemk/fieldstock/internal/idgen"
	"github.com/erazemk/fieldstock/internal/model"
)

const orderColumns = `id, number, type, status, client, address, assigned_to_id, notes,
        failure_reason, completed_at, created_at, updated_at`

// NewOrder holds the fields of an order to create.
type NewOrder struct {
	Type         string
	Client       string
	Address      string
	Notes        string
	AssignedToID *int64
}

func validOrderType(t string) bool {
	switch t {
	case model.OrderTypeInstallation, model.OrderTypeService, model.OrderTypeOutage:
		return true
	}
	return false
}

// CreateOrder creates an order, assigned right away when a technician is given.
func CreateOrder(ctx context.Context, db *sql.DB, actor model.Actor, in NewOrder) (*model.Order, error) {
	if !validOrderType(in.Type) {
		return nil, badRequest("invalid order type %q", in.Type)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	status := model.OrderPending
	if in.AssignedToID != nil {
		if _, err := requireTechnician(ctx, tx, *in.AssignedToID); err != nil {
			return nil, err
		}
		status = model.OrderAssigned
	}

	result, err := tx.ExecContext(ctx,
		`INSERT INTO orders (number, type, status, client, address, assigned_to_id, notes)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		idgen.Number("ORD"), in.Type, status, in.Client, in.Address, in.AssignedToID, in.Notes,
	)
	if err != nil {
		return nil, fmt.Errorf("creating order: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("getting order id: %w", err)
	}
	if err := appendOrderHistory(ctx, tx, id, actor.UserID, "", status, "created"); err != nil {
		return nil, err
	}

	order, err := requireOrder(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing order: %w", err)
	}
	return order, nil
}

// AssignOrder hands an open order to a technician.
func AssignOrder(ctx context.Context, db *sql.DB, actor model.Actor, orderID, technicianID int64) (*model.Order, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	order, err := requireOrder(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != model.OrderPending && order.Status != model.OrderAssigned {
		return nil, badRequest("order %s is %s and cannot be reassigned", order.Number, order.Status)
	}
	if _, err := requireTechnician(ctx, tx, technicianID); err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE orders SET assigned_to_id = ?, status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		technicianID, model.OrderAssigned, orderID,
	); err != nil {
		return nil, fmt.Errorf("assigning order: %w", err)
	}
	if err := appendOrderHistory(ctx, tx, orderID, actor.UserID, order.Status, model.OrderAssigned, "assigned"); err != nil {
		return nil, err
	}

	order, err = requireOrder(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing assignment: %w", err)
	}
	return order, nil
}

// CancelOrder cancels an order that has not been settled.
func CancelOrder(ctx context.Context, db *sql.DB, actor model.Actor, orderID int64, notes string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	order, err := requireOrder(ctx, tx, orderID)
	if err != nil {
		return err
	}
	if order.Status != model.OrderPending && order.Status != model.OrderAssigned {
		return badRequest("order %s is %s and cannot be canceled", order.Number, order.Status)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE orders SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		model.OrderCanceled, orderID,
	); err != nil {
		return fmt.Errorf("canceling order: %w", err)
	}
	if err := appendOrderHistory(ctx, tx, orderID, actor.UserID, order.Status, model.OrderCanceled, notes); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing cancellation: %w", err)
	}
	return nil
}

func scanOrder(row rowScanner) (*model.Order, error) {
	o := &model.Order{}
	err := row.Scan(&o.ID, &o.Number, &o.Type, &o.Status, &o.Client, &o.Address, &o.AssignedToID,
		&o.Notes, &o.FailureReason, &o.CompletedAt, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return o, nil
}

func getOrder(ctx context.Context, q querier, id int64) (*model.Order, error) {
	o, err := scanOrder(q.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting order: %w", err)
	}
	return o, nil
}

// requireOrder loads an order without its children, failing with NotFound.
func requireOrder(ctx context.Context, tx *sql.Tx, id int64) (*model.Order, error) {
	o, err := getOrder(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if o == nil {
		return nil, notFound("order %d not found", id)
	}
	return o, nil
}

// GetOrder returns an order with its settlement, materials, equipment and
// services.
func GetOrder(ctx context.Context, db *sql.DB, id int64) (*model.Order, error) {
	o, err := getOrder(ctx, db, id)
	if err != nil || o == nil {
		return o, err
	}
	if err := loadOrderChildren(ctx, db, o); err != nil {
		return nil, err
	}
	return o, nil
}

// ListOrders returns orders, optionally only those of one technician.
func ListOrders(ctx context.Context, db *sql.DB, technicianID *int64, status string) ([]model.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE 1 = 1`
	var args []any
	if technicianID != nil {
		query += ` AND assigned_to_id = ?`
		args = append(args, *technicianID)
	}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning order: %w", err)
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}

func loadOrderChildren(ctx context.Context, q querier, o *model.Order) error {
	rows, err := q.QueryContext(ctx,
		`SELECT code, quantity FROM order_settlements WHERE order_id = ? ORDER BY id`, o.ID)
	if err != nil {
		return fmt.Errorf("listing settlements: %w", err)
	}
	for rows.Next() {
		var s model.SettlementEntry
		if err := rows.Scan(&s.Code, &s.Quantity); err != nil {
			rows.Close()
			return fmt.Errorf("scanning settlement: %w", err)
		}
		o.Settlements = append(o.Settlements, s)
	}
	rows.Close()

	o.Materials, err = orderMaterials(ctx, q, o.ID)
	if err != nil {
		return err
	}

	o.Equipment, err = orderEquipment(ctx, q, o.ID)
	if err != nil {
		return err
	}

	o.Services, err = orderServices(ctx, q, o.ID)
	return err
}

func orderMaterials(ctx context.Context, q querier, orderID int64) ([]model.OrderMaterial, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, material_definition_id, name, unit, unit_price, quantity
		 FROM order_materials WHERE order_id = ? ORDER BY id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("listing order materials: %w", err)
	}
	defer rows.Close()

	var materials []model.OrderMaterial
	for rows.Next() {
		var m model.OrderMaterial
		if err := rows.Scan(&m.ID, &m.DefinitionID, &m.Name, &m.Unit, &m.UnitPrice, &m.Quantity); err != nil {
			return nil, fmt.Errorf("scanning order material: %w", err)
		}
		materials = append(materials, m)
	}
	return materials, rows.Err()
}

func orderServices(ctx context.Context, q querier, orderID int64) ([]model.OrderService, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, type, device_id, device_serial, device_category, client_declared,
		        download_mbps, upload_mbps, signal_dbm, notes
		 FROM order_services WHERE order_id = ? ORDER BY id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("listing order services: %w", err)
	}

	var services []model.OrderService
	for rows.Next() {
		var s model.OrderService
		if err := rows.Scan(&s.ID, &s.Type, &s.DeviceID, &s.DeviceSerial, &s.DeviceCategory,
			&s.ClientDeclared, &s.DownloadMbps, &s.UploadMbps, &s.SignalDBm, &s.Notes); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning order service: %w", err)
		}
		services = append(services, s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range services {
		extras, err := q.QueryContext(ctx,
			`SELECT id, item_id, name, category, serial FROM order_service_extra_devices
			 WHERE service_id = ? ORDER BY id`, services[i].ID)
		if err != nil {
			return nil, fmt.Errorf("listing extra devices: %w", err)
		}
		for extras.Next() {
			var d model.ExtraDevice
			if err := extras.Scan(&d.ID, &d.ItemID, &d.Name, &d.Category, &d.Serial); err != nil {
				extras.Close()
				return nil, fmt.Errorf("scanning extra device: %w", err)
			}
			services[i].ExtraDevices = append(services[i].ExtraDevices, d)
		}
		extras.Close()
	}
	return services, nil
}

// ListOrderHistory returns an order's status changes and amendments, oldest first.
func ListOrderHistory(ctx context.Context, db *sql.DB, orderID int64) ([]model.OrderHistory, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, order_id, changed_by, changed_at, previous_status, new_status, notes
		 FROM order_history WHERE order_id = ? ORDER BY changed_at, id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("listing order history: %w", err)
	}
	defer rows.Close()

	var history []model.OrderHistory
	for rows.Next() {
		var h model.OrderHistory
		if err := rows.Scan(&h.ID, &h.OrderID, &h.ChangedBy, &h.ChangedAt,
			&h.PreviousStatus, &h.NewStatus, &h.Notes); err != nil {
			return nil, fmt.Errorf("scanning order history: %w", err)
		}
		history = append(history, h)
	}
	return history, rows.Err()
}

func appendOrderHistory(ctx context.Context, tx *sql.Tx, orderID, actorID int64, previous, next, notes string) error {
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO order_history (order_id, changed_by, previous_status, new_status, notes)
		 VALUES (?, ?, ?, ?, ?)`,
		orderID, actorID, previous, next, notes,
	); err != nil {
		return fmt.Errorf("recording order history: %w", err)
	}
	return nil
}

// settlingTechnician returns whose stock an actor settles an order against:
// the technician themselves, or the order's technician for an admin or
// coordinator override.
func settlingTechnician(actor model.Actor, order *model.Order) (int64, error) {
	switch {
	case actor.IsTechnician():
		if order.AssignedToID == nil || *order.AssignedToID != actor.UserID {
			return 0, forbidden("order %s is not assigned to you", order.Number)
		}
		return actor.UserID, nil
	case actor.IsSupervisor():
		if order.AssignedToID == nil {
			return 0, badRequest("order %s has no assigned technician", order.Number)
		}
		return *order.AssignedToID, nil
	}
	return 0, forbidden("role %q cannot settle orders", actor.Role)
}
