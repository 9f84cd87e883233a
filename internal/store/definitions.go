package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/erazemk/fieldstock/internal/model"
)

const definitionColumns = `id, name, category, index_code, unit, unit_price, created_at`

// CreateMaterialDefinition creates a new material definition.
func CreateMaterialDefinition(ctx context.Context, db *sql.DB, name, category, indexCode, unit string, unitPrice decimal.Decimal) (*model.MaterialDefinition, error) {
	if unit == "" {
		unit = "pcs"
	}
	if unitPrice.IsNegative() {
		return nil, badRequest("unit price cannot be negative")
	}

	result, err := db.ExecContext(ctx,
		`INSERT INTO material_definitions (name, category, index_code, unit, unit_price)
		 VALUES (?, ?, ?, ?, ?)`,
		name, category, indexCode, unit, unitPrice.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("creating material definition: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("getting material definition id: %w", err)
	}

	return GetMaterialDefinition(ctx, db, id)
}

// GetMaterialDefinition returns a material definition by ID.
func GetMaterialDefinition(ctx context.Context, db *sql.DB, id int64) (*model.MaterialDefinition, error) {
	d := &model.MaterialDefinition{}
	err := db.QueryRowContext(ctx,
		`SELECT `+definitionColumns+` FROM material_definitions WHERE id = ?`, id,
	).Scan(&d.ID, &d.Name, &d.Category, &d.IndexCode, &d.Unit, &d.UnitPrice, &d.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting material definition: %w", err)
	}
	return d, nil
}

// ListMaterialDefinitions returns all material definitions.
func ListMaterialDefinitions(ctx context.Context, db *sql.DB) ([]model.MaterialDefinition, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+definitionColumns+` FROM material_definitions ORDER BY category, name`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing material definitions: %w", err)
	}
	defer rows.Close()

	var defs []model.MaterialDefinition
	for rows.Next() {
		var d model.MaterialDefinition
		if err := rows.Scan(&d.ID, &d.Name, &d.Category, &d.IndexCode, &d.Unit, &d.UnitPrice, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning material definition: %w", err)
		}
		defs = append(defs, d)
	}
	return defs, rows.Err()
}

// requireDefinition loads a material definition inside a transaction.
func requireDefinition(ctx context.Context, tx *sql.Tx, id int64) (*model.MaterialDefinition, error) {
	d := &model.MaterialDefinition{}
	err := tx.QueryRowContext(ctx,
		`SELECT `+definitionColumns+` FROM material_definitions WHERE id = ?`, id,
	).Scan(&d.ID, &d.Name, &d.Category, &d.IndexCode, &d.Unit, &d.UnitPrice, &d.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, notFound("material definition %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting material definition: %w", err)
	}
	return d, nil
}
