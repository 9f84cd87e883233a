package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/erazemk/fieldstock/internal/model"
)

// RequestDeviceTransfer earmarks a device the actor holds for another
// technician. The device row is untouched until the recipient confirms.
func RequestDeviceTransfer(ctx context.Context, db *sql.DB, actor model.Actor, itemID, toUserID int64) (*model.PendingTransfer, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	item, err := requireTransferSource(ctx, tx, actor, itemID, toUserID)
	if err != nil {
		return nil, err
	}
	if item.Device == nil {
		return nil, badRequest("%s is a material; transfer a quantity instead", item.Name())
	}
	if item.Status != model.StatusAssigned && item.Status != model.StatusCollectedFromClient {
		return nil, badRequest("device %s cannot be transferred from status %s", deviceLabel(item), item.Status)
	}
	if item.TransferPending {
		return nil, conflict("device %s already has a pending transfer", deviceLabel(item))
	}

	t, err := insertTransfer(ctx, tx, model.KindDevice, itemID, actor.UserID, toUserID, 1)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transfer request: %w", err)
	}
	return t, nil
}

// RequestMaterialTransfer moves qty units of a material row the actor holds
// into escrow for another technician.
func RequestMaterialTransfer(ctx context.Context, db *sql.DB, actor model.Actor, itemID, toUserID int64, qty int) (*model.PendingTransfer, error) {
	if qty <= 0 {
		return nil, badRequest("quantity must be positive")
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	item, err := requireTransferSource(ctx, tx, actor, itemID, toUserID)
	if err != nil {
		return nil, err
	}
	if item.Material == nil || item.Status != model.StatusAssigned {
		return nil, badRequest("%s is not technician material stock", item.Name())
	}
	if err := takeQuantity(ctx, tx, item, qty); err != nil {
		return nil, err
	}

	t, err := insertTransfer(ctx, tx, model.KindMaterial, itemID, actor.UserID, toUserID, qty)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transfer request: %w", err)
	}
	return t, nil
}

func requireTransferSource(ctx context.Context, tx *sql.Tx, actor model.Actor, itemID, toUserID int64) (*model.Item, error) {
	if toUserID == actor.UserID {
		return nil, badRequest("cannot transfer to yourself")
	}
	item, err := requireItem(ctx, tx, itemID)
	if err != nil {
		return nil, err
	}
	if !item.HeldBy(actor.UserID) {
		return nil, forbidden("%s is not held by you", item.Name())
	}
	if _, err := requireTechnician(ctx, tx, toUserID); err != nil {
		return nil, err
	}
	return item, nil
}

func insertTransfer(ctx context.Context, tx *sql.Tx, kind string, itemID, fromID, toID int64, qty int) (*model.PendingTransfer, error) {
	result, err := tx.ExecContext(ctx,
		`INSERT INTO pending_transfers (kind, item_id, from_user_id, to_user_id, quantity)
		 VALUES (?, ?, ?, ?, ?)`,
		kind, itemID, fromID, toID, qty,
	)
	if err != nil {
		return nil, fmt.Errorf("creating transfer: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("getting transfer id: %w", err)
	}
	return requireTransfer(ctx, tx, id)
}

const transferSelect = `SELECT t.id, t.kind, t.item_id, t.from_user_id, t.to_user_id, t.quantity,
        t.status, t.requested_at, t.resolved_at, t.resolved_by, i.name
 FROM pending_transfers t
 JOIN items i ON i.id = t.item_id`

func scanTransfer(row rowScanner) (*model.PendingTransfer, error) {
	t := &model.PendingTransfer{}
	err := row.Scan(&t.ID, &t.Kind, &t.ItemID, &t.FromUserID, &t.ToUserID, &t.Quantity,
		&t.Status, &t.RequestedAt, &t.ResolvedAt, &t.ResolvedBy, &t.ItemName)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func getTransfer(ctx context.Context, q querier, id int64) (*model.PendingTransfer, error) {
	t, err := scanTransfer(q.QueryRowContext(ctx, transferSelect+` WHERE t.id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting transfer: %w", err)
	}
	return t, nil
}

func requireTransfer(ctx context.Context, tx *sql.Tx, id int64) (*model.PendingTransfer, error) {
	t, err := getTransfer(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, notFound("transfer %d not found", id)
	}
	return t, nil
}

// GetTransfer returns a technician transfer by ID.
func GetTransfer(ctx context.Context, db *sql.DB, id int64) (*model.PendingTransfer, error) {
	return getTransfer(ctx, db, id)
}

// ListTransfers returns the transfers a user sent or received, newest first,
// optionally filtered by status.
func ListTransfers(ctx context.Context, db *sql.DB, userID int64, status string) ([]model.PendingTransfer, error) {
	query := transferSelect + ` WHERE (t.from_user_id = ? OR t.to_user_id = ?)`
	args := []any{userID, userID}
	if status != "" {
		query += ` AND t.status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY t.requested_at DESC, t.id DESC`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing transfers: %w", err)
	}
	defer rows.Close()

	var transfers []model.PendingTransfer
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning transfer: %w", err)
		}
		transfers = append(transfers, *t)
	}
	return transfers, rows.Err()
}

// openTransfer loads a transfer that is still requested and closes it with
// status. Only one resolution ever succeeds.
func openTransfer(ctx context.Context, tx *sql.Tx, id int64, status string, actorID int64) (*model.PendingTransfer, error) {
	t, err := requireTransfer(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if t.Status != model.TransferRequested {
		return nil, conflict("transfer %d is already %s", id, t.Status)
	}

	switch status {
	case model.TransferConfirmed, model.TransferRejected:
		if actorID != t.ToUserID {
			return nil, forbidden("only the recipient can %s transfer %d", verb(status), id)
		}
	case model.TransferCanceled:
		if actorID != t.FromUserID {
			return nil, forbidden("only the sender can cancel transfer %d", id)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE pending_transfers SET status = ?, resolved_at = CURRENT_TIMESTAMP, resolved_by = ?
		 WHERE id = ? AND status = 'requested'`,
		status, actorID, id,
	); err != nil {
		return nil, fmt.Errorf("resolving transfer: %w", err)
	}
	return t, nil
}

func verb(status string) string {
	switch status {
	case model.TransferConfirmed:
		return "confirm"
	case model.TransferRejected:
		return "reject"
	}
	return "cancel"
}

// ConfirmTransfer hands the transferred device or quantity to the recipient
// and records one transfer entry attributed to the sender.
func ConfirmTransfer(ctx context.Context, db *sql.DB, actor model.Actor, transferID int64) (*model.Item, *model.HistoryEntry, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	t, err := openTransfer(ctx, tx, transferID, model.TransferConfirmed, actor.UserID)
	if err != nil {
		return nil, nil, err
	}
	item, err := requireItem(ctx, tx, t.ItemID)
	if err != nil {
		return nil, nil, err
	}

	entry := model.HistoryEntry{
		Action:       model.ActionTransfer,
		PerformedBy:  &t.FromUserID,
		AssignedToID: &t.ToUserID,
		Notes:        fmt.Sprintf("transfer %d", t.ID),
	}

	var saved *model.HistoryEntry
	switch t.Kind {
	case model.KindDevice:
		if !item.HeldBy(t.FromUserID) {
			return nil, nil, conflict("device %s is no longer held by the sender", deviceLabel(item))
		}
		item, saved, err = transition(ctx, tx, item, placement{
			status:     item.Status,
			assignedTo: &t.ToUserID,
			location:   item.LocationID,
		}, entry)
	case model.KindMaterial:
		key := technicianStock(item.Material.DefinitionID, t.ToUserID)
		item, saved, err = moveQuantity(ctx, tx, nil, &key, t.Quantity, entry)
	}
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("committing transfer: %w", err)
	}
	return item, saved, nil
}

// RejectTransfer declines a transfer as its recipient.
func RejectTransfer(ctx context.Context, db *sql.DB, actor model.Actor, transferID int64) error {
	return unwindTransfer(ctx, db, actor, transferID, model.TransferRejected)
}

// CancelTransfer withdraws a transfer as its sender.
func CancelTransfer(ctx context.Context, db *sql.DB, actor model.Actor, transferID int64) error {
	return unwindTransfer(ctx, db, actor, transferID, model.TransferCanceled)
}

// unwindTransfer closes a transfer without a custody change: escrowed
// material goes back onto the row it was taken from.
func unwindTransfer(ctx context.Context, db *sql.DB, actor model.Actor, transferID int64, status string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	t, err := openTransfer(ctx, tx, transferID, status, actor.UserID)
	if err != nil {
		return err
	}
	if t.Kind == model.KindMaterial {
		if _, err := tx.ExecContext(ctx,
			`UPDATE items SET quantity = quantity + ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
			t.Quantity, t.ItemID,
		); err != nil {
			return fmt.Errorf("restoring escrowed quantity: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transfer %s: %w", status, err)
	}
	return nil
}
