package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/erazemk/fieldstock/internal/idgen"
	"github.com/erazemk/fieldstock/internal/model"
)

// NewBatch describes a location-to-location transfer request.
type NewBatch struct {
	FromLocationID int64
	ToLocationID   int64
	Notes          string
	DeviceIDs      []int64
	Materials      []BatchMaterial
}

// BatchMaterial is a material line of a batch request.
type BatchMaterial struct {
	DefinitionID int64
	Quantity     int
}

// CreateBatch requests a transfer between two locations. Escrow is applied
// immediately: devices switch to transfer status and material quantities
// leave the source stock.
func CreateBatch(ctx context.Context, db *sql.DB, actor model.Actor, in NewBatch) (*model.TransferBatch, error) {
	if err := requireLocationActor(actor, in.FromLocationID); err != nil {
		return nil, err
	}
	if in.FromLocationID == in.ToLocationID {
		return nil, badRequest("source and destination location must differ")
	}
	if len(in.DeviceIDs) == 0 && len(in.Materials) == 0 {
		return nil, badRequest("transfer has no lines")
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := requireLocation(ctx, tx, in.FromLocationID); err != nil {
		return nil, err
	}
	if _, err := requireLocation(ctx, tx, in.ToLocationID); err != nil {
		return nil, err
	}

	result, err := tx.ExecContext(ctx,
		`INSERT INTO transfer_batches (number, from_location_id, to_location_id, notes, requested_by)
		 VALUES (?, ?, ?, ?, ?)`,
		idgen.Number("TRB"), in.FromLocationID, in.ToLocationID, in.Notes, actor.UserID,
	)
	if err != nil {
		return nil, fmt.Errorf("creating transfer batch: %w", err)
	}
	batchID, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("getting batch id: %w", err)
	}

	for _, id := range in.DeviceIDs {
		item, err := requireItem(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		if item.Device == nil {
			return nil, badRequest("%s is a material; add it as a material line", item.Name())
		}
		if item.Status != model.StatusAvailable || item.AssignedToID != nil ||
			item.LocationID == nil || *item.LocationID != in.FromLocationID {
			return nil, badRequest("device %s is not available at the source location", deviceLabel(item))
		}
		if item.TransferPending {
			return nil, conflict("device %s has a pending transfer", deviceLabel(item))
		}

		if err := setDeviceStatus(ctx, tx, id, model.StatusTransfer); err != nil {
			return nil, err
		}
		if err := insertBatchLine(ctx, tx, batchID, model.TransferLine{
			Kind:      model.KindDevice,
			ItemID:    &item.ID,
			Name:      item.Name(),
			Category:  item.Device.Category,
			IndexCode: item.Device.SerialNumber,
			Quantity:  1,
		}); err != nil {
			return nil, err
		}
	}

	for _, m := range in.Materials {
		if m.Quantity <= 0 {
			return nil, badRequest("quantity must be positive")
		}
		def, err := requireDefinition(ctx, tx, m.DefinitionID)
		if err != nil {
			return nil, err
		}
		row, err := findStockRow(ctx, tx, locationStock(def.ID, in.FromLocationID))
		if err != nil {
			return nil, err
		}
		if row == nil {
			return nil, badRequest("insufficient quantity of %s: requested %d", def.Name, m.Quantity)
		}
		if err := takeQuantity(ctx, tx, row, m.Quantity); err != nil {
			return nil, err
		}
		if err := insertBatchLine(ctx, tx, batchID, model.TransferLine{
			Kind:                 model.KindMaterial,
			MaterialDefinitionID: &def.ID,
			Name:                 def.Name,
			Category:             def.Category,
			IndexCode:            def.IndexCode,
			Unit:                 def.Unit,
			Quantity:             m.Quantity,
		}); err != nil {
			return nil, err
		}
	}

	batch, err := getBatch(ctx, tx, batchID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transfer batch: %w", err)
	}
	return batch, nil
}

// setDeviceStatus moves a device into or out of batch escrow without a
// history entry. The batch record is the audit trail for that hold.
func setDeviceStatus(ctx context.Context, tx *sql.Tx, itemID int64, status string) error {
	if _, err := tx.ExecContext(ctx,
		`UPDATE items SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ? AND kind = 'device'`,
		status, itemID,
	); err != nil {
		return fmt.Errorf("setting device status: %w", err)
	}
	return nil
}

func insertBatchLine(ctx context.Context, tx *sql.Tx, batchID int64, l model.TransferLine) error {
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO transfer_lines (batch_id, kind, item_id, material_definition_id,
		                             name, category, index_code, unit, quantity)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		batchID, l.Kind, l.ItemID, l.MaterialDefinitionID,
		l.Name, l.Category, l.IndexCode, l.Unit, l.Quantity,
	); err != nil {
		return fmt.Errorf("adding transfer line: %w", err)
	}
	return nil
}

// openBatch loads a requested batch and closes it with status.
func openBatch(ctx context.Context, tx *sql.Tx, actor model.Actor, id int64, status string) (*model.TransferBatch, error) {
	b, err := getBatch(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, notFound("transfer batch %d not found", id)
	}

	scope := b.ToLocationID
	if status == model.BatchCanceled {
		scope = b.FromLocationID
	}
	if err := requireLocationActor(actor, scope); err != nil {
		return nil, err
	}
	if b.Status != model.BatchRequested {
		return nil, badRequest("transfer batch %s is already %s", b.Number, b.Status)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE transfer_batches SET status = ?, resolved_by = ?, resolved_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND status = 'requested'`,
		status, actor.UserID, id,
	); err != nil {
		return nil, fmt.Errorf("resolving transfer batch: %w", err)
	}
	return b, nil
}

// ConfirmBatch receives a batch at its destination. It returns the history
// entries written, one per line.
func ConfirmBatch(ctx context.Context, db *sql.DB, actor model.Actor, batchID int64) (*model.TransferBatch, []int64, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	b, err := openBatch(ctx, tx, actor, batchID, model.BatchReceived)
	if err != nil {
		return nil, nil, err
	}

	var historyIDs []int64
	for _, line := range b.Lines {
		entry := model.HistoryEntry{
			Action:         model.ActionTransfer,
			PerformedBy:    &actor.UserID,
			FromLocationID: &b.FromLocationID,
			ToLocationID:   &b.ToLocationID,
			Notes:          b.Number,
		}

		var saved *model.HistoryEntry
		switch line.Kind {
		case model.KindDevice:
			item, err := requireItem(ctx, tx, *line.ItemID)
			if err != nil {
				return nil, nil, err
			}
			if item.Status != model.StatusTransfer {
				return nil, nil, conflict("device %s is no longer in transfer", deviceLabel(item))
			}
			_, saved, err = transition(ctx, tx, item, placement{
				status:   model.StatusAvailable,
				location: &b.ToLocationID,
			}, entry)
			if err != nil {
				return nil, nil, err
			}
		case model.KindMaterial:
			key := locationStock(*line.MaterialDefinitionID, b.ToLocationID)
			_, saved, err = moveQuantity(ctx, tx, nil, &key, line.Quantity, entry)
			if err != nil {
				return nil, nil, err
			}
		}
		historyIDs = append(historyIDs, saved.ID)
	}

	b, err = getBatch(ctx, tx, batchID)
	if err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("committing transfer batch: %w", err)
	}
	return b, historyIDs, nil
}

// RejectBatch refuses a batch at its destination.
func RejectBatch(ctx context.Context, db *sql.DB, actor model.Actor, batchID int64) (*model.TransferBatch, error) {
	return unwindBatch(ctx, db, actor, batchID, model.BatchRejected)
}

// CancelBatch withdraws a batch at its source.
func CancelBatch(ctx context.Context, db *sql.DB, actor model.Actor, batchID int64) (*model.TransferBatch, error) {
	return unwindBatch(ctx, db, actor, batchID, model.BatchCanceled)
}

// unwindBatch releases a batch's escrow back to the source location.
func unwindBatch(ctx context.Context, db *sql.DB, actor model.Actor, batchID int64, status string) (*model.TransferBatch, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	b, err := openBatch(ctx, tx, actor, batchID, status)
	if err != nil {
		return nil, err
	}

	for _, line := range b.Lines {
		switch line.Kind {
		case model.KindDevice:
			err = setDeviceStatus(ctx, tx, *line.ItemID, model.StatusAvailable)
		case model.KindMaterial:
			_, err = putQuantity(ctx, tx, locationStock(*line.MaterialDefinitionID, b.FromLocationID), line.Quantity)
		}
		if err != nil {
			return nil, err
		}
	}

	b, err = getBatch(ctx, tx, batchID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transfer batch %s: %w", status, err)
	}
	return b, nil
}

const batchColumns = `id, number, from_location_id, to_location_id, status, notes,
        requested_by, requested_at, resolved_by, resolved_at`

func scanBatch(row rowScanner) (*model.TransferBatch, error) {
	b := &model.TransferBatch{}
	err := row.Scan(&b.ID, &b.Number, &b.FromLocationID, &b.ToLocationID, &b.Status, &b.Notes,
		&b.RequestedBy, &b.RequestedAt, &b.ResolvedBy, &b.ResolvedAt)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func getBatch(ctx context.Context, q querier, id int64) (*model.TransferBatch, error) {
	b, err := scanBatch(q.QueryRowContext(ctx, `SELECT `+batchColumns+` FROM transfer_batches WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting transfer batch: %w", err)
	}

	rows, err := q.QueryContext(ctx,
		`SELECT id, kind, item_id, material_definition_id, name, category, index_code, unit, quantity
		 FROM transfer_lines WHERE batch_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("listing transfer lines: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var l model.TransferLine
		if err := rows.Scan(&l.ID, &l.Kind, &l.ItemID, &l.MaterialDefinitionID,
			&l.Name, &l.Category, &l.IndexCode, &l.Unit, &l.Quantity); err != nil {
			return nil, fmt.Errorf("scanning transfer line: %w", err)
		}
		b.Lines = append(b.Lines, l)
	}
	return b, rows.Err()
}

// GetBatch returns a transfer batch with its lines.
func GetBatch(ctx context.Context, db *sql.DB, id int64) (*model.TransferBatch, error) {
	return getBatch(ctx, db, id)
}

// ListBatches returns batches leaving or entering a location, newest first.
func ListBatches(ctx context.Context, db *sql.DB, locationID int64, status string) ([]model.TransferBatch, error) {
	query := `SELECT ` + batchColumns + ` FROM transfer_batches
	          WHERE (from_location_id = ? OR to_location_id = ?)`
	args := []any{locationID, locationID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY requested_at DESC, id DESC`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing transfer batches: %w", err)
	}
	defer rows.Close()

	var batches []model.TransferBatch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning transfer batch: %w", err)
		}
		batches = append(batches, *b)
	}
	return batches, rows.Err()
}
