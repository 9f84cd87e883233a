package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/erazemk/fieldstock/internal/model"
)

// appendHistory writes one history entry. It is only called by the ledger
// primitives, which pair every row change with exactly one entry.
func appendHistory(ctx context.Context, tx *sql.Tx, entry model.HistoryEntry) (*model.HistoryEntry, error) {
	result, err := tx.ExecContext(ctx,
		`INSERT INTO history (item_id, action, performed_by, quantity, order_id,
		                      assigned_to_id, from_location_id, to_location_id, notes)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ItemID, entry.Action, entry.PerformedBy, entry.Quantity, entry.OrderID,
		entry.AssignedToID, entry.FromLocationID, entry.ToLocationID, entry.Notes,
	)
	if err != nil {
		return nil, fmt.Errorf("recording history: %w", err)
	}

	entry.ID, err = result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("getting history id: %w", err)
	}
	if err := tx.QueryRowContext(ctx,
		`SELECT performed_at FROM history WHERE id = ?`, entry.ID,
	).Scan(&entry.PerformedAt); err != nil {
		return nil, fmt.Errorf("reading history timestamp: %w", err)
	}
	return &entry, nil
}

const historySelect = `SELECT h.id, h.item_id, h.action, h.performed_by, h.performed_at, h.quantity,
        h.order_id, h.assigned_to_id, h.from_location_id, h.to_location_id, h.notes,
        i.name, COALESCE(u.username, '')
 FROM history h
 JOIN items i ON i.id = h.item_id
 LEFT JOIN users u ON u.id = h.performed_by`

func queryHistory(ctx context.Context, q querier, where string, args ...any) ([]model.HistoryEntry, error) {
	rows, err := q.QueryContext(ctx, historySelect+" WHERE "+where+" ORDER BY h.performed_at, h.id", args...)
	if err != nil {
		return nil, fmt.Errorf("listing history: %w", err)
	}
	defer rows.Close()

	var entries []model.HistoryEntry
	for rows.Next() {
		var e model.HistoryEntry
		if err := rows.Scan(&e.ID, &e.ItemID, &e.Action, &e.PerformedBy, &e.PerformedAt, &e.Quantity,
			&e.OrderID, &e.AssignedToID, &e.FromLocationID, &e.ToLocationID, &e.Notes,
			&e.ItemName, &e.PerformerName); err != nil {
			return nil, fmt.Errorf("scanning history: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ListItemHistory returns an item's full provenance, oldest first.
func ListItemHistory(ctx context.Context, db *sql.DB, itemID int64) ([]model.HistoryEntry, error) {
	return queryHistory(ctx, db, `h.item_id = ?`, itemID)
}

// ListOrderItemHistory returns every ledger entry linked to an order.
func ListOrderItemHistory(ctx context.Context, db *sql.DB, orderID int64) ([]model.HistoryEntry, error) {
	return queryHistory(ctx, db, `h.order_id = ?`, orderID)
}

// GetHistoryEntries returns the entries with the given ids, for export.
func GetHistoryEntries(ctx context.Context, db *sql.DB, ids []int64) ([]model.HistoryEntry, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	return queryHistory(ctx, db, `h.id IN (`+placeholders+`)`, args...)
}

// CountHistory returns the number of history entries for an item.
func CountHistory(ctx context.Context, db *sql.DB, itemID int64) (int, error) {
	var n int
	if err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM history WHERE item_id = ?`, itemID,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting history: %w", err)
	}
	return n, nil
}
