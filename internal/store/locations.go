package store

import (
	"context"
	"database/sql"
	"fmt"
	"slices"

	"github.com/erazemk/fieldstock/internal/model"
)

// CreateLocation creates a new warehouse location.
func CreateLocation(ctx context.Context, db *sql.DB, name string) (*model.Location, error) {
	result, err := db.ExecContext(ctx, `INSERT INTO locations (name) VALUES (?)`, name)
	if err != nil {
		return nil, fmt.Errorf("creating location: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("getting location id: %w", err)
	}

	return GetLocation(ctx, db, id)
}

// GetLocation returns a location by ID.
func GetLocation(ctx context.Context, db *sql.DB, id int64) (*model.Location, error) {
	l := &model.Location{}
	err := db.QueryRowContext(ctx,
		`SELECT id, name, created_at, deleted_at FROM locations WHERE id = ?`, id,
	).Scan(&l.ID, &l.Name, &l.CreatedAt, &l.DeletedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting location: %w", err)
	}
	return l, nil
}

// ListLocations returns all non-deleted locations.
func ListLocations(ctx context.Context, db *sql.DB) ([]model.Location, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, name, created_at, deleted_at FROM locations
		 WHERE deleted_at IS NULL ORDER BY name`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing locations: %w", err)
	}
	defer rows.Close()

	var locations []model.Location
	for rows.Next() {
		var l model.Location
		if err := rows.Scan(&l.ID, &l.Name, &l.CreatedAt, &l.DeletedAt); err != nil {
			return nil, fmt.Errorf("scanning location: %w", err)
		}
		locations = append(locations, l)
	}
	return locations, rows.Err()
}

// DeleteLocation soft-deletes a location. Fails while it still holds stock.
func DeleteLocation(ctx context.Context, db *sql.DB, id int64) error {
	var count int
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM items
		 WHERE location_id = ? AND assigned_to_id IS NULL AND quantity > 0
		   AND status IN ('available', 'returned', 'transfer')`, id,
	).Scan(&count)
	if err != nil {
		return fmt.Errorf("checking location stock: %w", err)
	}
	if count > 0 {
		return conflict("cannot delete location: still holds %d stock rows", count)
	}

	_, err = db.ExecContext(ctx,
		`UPDATE locations SET deleted_at = CURRENT_TIMESTAMP WHERE id = ? AND deleted_at IS NULL`,
		id,
	)
	if err != nil {
		return fmt.Errorf("deleting location: %w", err)
	}
	return nil
}

// ResolveLocation returns the location an actor acts on. Technicians never
// pick a location; warehousemen may pick one of their own or default to their
// only one; admins and coordinators must name one.
func ResolveLocation(ctx context.Context, db *sql.DB, actor model.Actor, explicit *int64) (int64, error) {
	switch actor.Role {
	case model.RoleTechnician:
		if explicit != nil {
			return 0, forbidden("technicians cannot choose a location")
		}
		if len(actor.LocationIDs) != 1 {
			return 0, badRequest("technician has no single assigned location")
		}
		return actor.LocationIDs[0], nil

	case model.RoleWarehouseman:
		if explicit == nil {
			if len(actor.LocationIDs) != 1 {
				return 0, badRequest("location_id required")
			}
			return actor.LocationIDs[0], nil
		}
		if !slices.Contains(actor.LocationIDs, *explicit) {
			return 0, forbidden("not assigned to location %d", *explicit)
		}
		return *explicit, nil

	case model.RoleAdmin, model.RoleCoordinator:
		if explicit == nil {
			return 0, badRequest("location_id required")
		}
		l, err := GetLocation(ctx, db, *explicit)
		if err != nil {
			return 0, err
		}
		if l == nil || l.DeletedAt != nil {
			return 0, notFound("location %d not found", *explicit)
		}
		return l.ID, nil
	}
	return 0, forbidden("role %q cannot act on locations", actor.Role)
}

// requireLocation loads an active location inside a transaction.
func requireLocation(ctx context.Context, tx *sql.Tx, id int64) (*model.Location, error) {
	l := &model.Location{}
	err := tx.QueryRowContext(ctx,
		`SELECT id, name, created_at FROM locations WHERE id = ? AND deleted_at IS NULL`, id,
	).Scan(&l.ID, &l.Name, &l.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, notFound("location %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting location: %w", err)
	}
	return l, nil
}

// requireLocationActor checks that actor may move stock at locationID.
func requireLocationActor(actor model.Actor, locationID int64) error {
	if !actor.CanActOnLocation(locationID) {
		return forbidden("not allowed to act on location %d", locationID)
	}
	return nil
}
