package model

import "time"

// History actions.
const (
	ActionReceived             = "received"
	ActionIssued               = "issued"
	ActionAssignedToOrder      = "assigned_to_order"
	ActionCollectedFromClient  = "collected_from_client"
	ActionReturned             = "returned"
	ActionReturnedToOperator   = "returned_to_operator"
	ActionReturnedToTechnician = "returned_to_technician"
	ActionTransfer             = "transfer"
)

// HistoryEntry is an immutable record of one ledger transition.
type HistoryEntry struct {
	ID             int64     `json:"id"`
	ItemID         int64     `json:"item_id"`
	Action         string    `json:"action"`
	PerformedBy    *int64    `json:"performed_by,omitempty"`
	PerformedAt    time.Time `json:"performed_at"`
	Quantity       *int      `json:"quantity,omitempty"`
	OrderID        *int64    `json:"order_id,omitempty"`
	AssignedToID   *int64    `json:"assigned_to_id,omitempty"`
	FromLocationID *int64    `json:"from_location_id,omitempty"`
	ToLocationID   *int64    `json:"to_location_id,omitempty"`
	Notes          string    `json:"notes,omitempty"`

	// Joined fields (not always populated).
	ItemName      string `json:"item_name,omitempty"`
	PerformerName string `json:"performer_name,omitempty"`
}
