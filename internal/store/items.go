package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/erazemk/fieldstock/internal/model"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const itemSelect = `SELECT i.id, i.kind, i.name, i.category, i.serial_number, i.material_definition_id,
        i.quantity, i.unit, i.unit_price, i.status, i.assigned_to_id, i.location_id,
        i.photo IS NOT NULL, i.created_at, i.updated_at, pt.to_user_id
 FROM items i
 LEFT JOIN pending_transfers pt
        ON pt.item_id = i.id AND pt.kind = 'device' AND pt.status = 'requested'`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*model.Item, error) {
	var (
		item         model.Item
		name         string
		category     string
		serial       sql.NullString
		definitionID sql.NullInt64
		quantity     int
		unit         string
		unitPrice    decimal.Decimal
	)
	err := row.Scan(&item.ID, &item.Kind, &name, &category, &serial, &definitionID,
		&quantity, &unit, &unitPrice, &item.Status, &item.AssignedToID, &item.LocationID,
		&item.HasPhoto, &item.CreatedAt, &item.UpdatedAt, &item.TransferToID)
	if err != nil {
		return nil, err
	}

	item.TransferPending = item.TransferToID != nil
	switch item.Kind {
	case model.KindDevice:
		item.Device = &model.Device{
			Name:         name,
			Category:     category,
			SerialNumber: serial.String,
			UnitPrice:    unitPrice,
		}
	case model.KindMaterial:
		item.Material = &model.Material{
			DefinitionID: definitionID.Int64,
			Name:         name,
			Category:     category,
			Unit:         unit,
			Quantity:     quantity,
			UnitPrice:    unitPrice,
		}
	}
	return &item, nil
}

func queryItems(ctx context.Context, q querier, where string, args ...any) ([]model.Item, error) {
	rows, err := q.QueryContext(ctx, itemSelect+" WHERE "+where, args...)
	if err != nil {
		return nil, fmt.Errorf("listing items: %w", err)
	}
	defer rows.Close()

	var items []model.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning item: %w", err)
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

func getItem(ctx context.Context, q querier, id int64) (*model.Item, error) {
	item, err := scanItem(q.QueryRowContext(ctx, itemSelect+` WHERE i.id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting item: %w", err)
	}
	return item, nil
}

// GetItem returns an item by ID.
func GetItem(ctx context.Context, db *sql.DB, id int64) (*model.Item, error) {
	return getItem(ctx, db, id)
}

// GetDeviceBySerial returns the device with the given serial number, if any.
func GetDeviceBySerial(ctx context.Context, db *sql.DB, serial string) (*model.Item, error) {
	items, err := queryItems(ctx, db, `i.serial_number = ?`, model.NormalizeSerial(serial))
	if err != nil || len(items) == 0 {
		return nil, err
	}
	return &items[0], nil
}

// requireItem loads an item inside a transaction, failing with NotFound.
func requireItem(ctx context.Context, tx *sql.Tx, id int64) (*model.Item, error) {
	item, err := getItem(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, notFound("item %d not found", id)
	}
	return item, nil
}

// ListTechnicianStock returns what a technician holds: devices assigned to or
// collected by them and material rows with a positive quantity.
func ListTechnicianStock(ctx context.Context, db *sql.DB, technicianID int64) ([]model.Item, error) {
	return queryItems(ctx, db,
		`i.assigned_to_id = ? AND i.status IN ('assigned', 'collected_from_client') AND i.quantity > 0
		 ORDER BY i.kind, i.name, i.id`, technicianID)
}

// ListLocationStock returns the unowned stock at a location, including devices
// parked in an outgoing transfer batch.
func ListLocationStock(ctx context.Context, db *sql.DB, locationID int64) ([]model.Item, error) {
	return queryItems(ctx, db,
		`i.location_id = ? AND i.assigned_to_id IS NULL
		   AND i.status IN ('available', 'returned', 'transfer') AND i.quantity > 0
		 ORDER BY i.kind, i.name, i.id`, locationID)
}

// MaterialOnHand sums a technician's non-escrowed quantity of a material.
func MaterialOnHand(ctx context.Context, db *sql.DB, technicianID, definitionID int64) (int, error) {
	var total int
	err := db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(quantity), 0) FROM items
		 WHERE kind = 'material' AND assigned_to_id = ? AND material_definition_id = ?
		   AND status = 'assigned'`,
		technicianID, definitionID,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("summing material on hand: %w", err)
	}
	return total, nil
}

// LocationMaterialStock sums a location's quantity of a material.
func LocationMaterialStock(ctx context.Context, db *sql.DB, locationID, definitionID int64) (int, error) {
	var total int
	err := db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(quantity), 0) FROM items
		 WHERE kind = 'material' AND location_id = ? AND assigned_to_id IS NULL
		   AND material_definition_id = ? AND status = 'available'`,
		locationID, definitionID,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("summing location stock: %w", err)
	}
	return total, nil
}

// SetItemPhoto stores a processed photo on a device the actor holds.
func SetItemPhoto(ctx context.Context, db *sql.DB, actor model.Actor, id int64, photo []byte, mime string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	item, err := requireItem(ctx, tx, id)
	if err != nil {
		return err
	}
	if item.Device == nil {
		return badRequest("photos can only be attached to devices")
	}
	if !actor.IsSupervisor() && !item.HeldBy(actor.UserID) {
		return forbidden("device %s is not held by you", item.Name())
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE items SET photo = ?, photo_mime = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		photo, mime, id,
	); err != nil {
		return fmt.Errorf("setting item photo: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing item photo: %w", err)
	}
	return nil
}

// GetItemPhoto returns a device photo and its MIME type.
func GetItemPhoto(ctx context.Context, db *sql.DB, id int64) ([]byte, string, error) {
	var photo []byte
	var mime sql.NullString
	err := db.QueryRowContext(ctx,
		`SELECT photo, photo_mime FROM items WHERE id = ?`, id,
	).Scan(&photo, &mime)
	if err == sql.ErrNoRows {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("getting item photo: %w", err)
	}
	return photo, mime.String, nil
}
