package model

import "time"

// Technician transfer statuses.
const (
	TransferRequested = "requested"
	TransferConfirmed = "confirmed"
	TransferRejected  = "rejected"
	TransferCanceled  = "canceled"
)

// PendingTransfer is a technician-to-technician escrow record. For devices it
// earmarks the device row; for materials it holds the escrowed quantity taken
// from the sender's row.
type PendingTransfer struct {
	ID          int64      `json:"id"`
	Kind        string     `json:"kind"`
	ItemID      int64      `json:"item_id"`
	FromUserID  int64      `json:"from_user_id"`
	ToUserID    int64      `json:"to_user_id"`
	Quantity    int        `json:"quantity"`
	Status      string     `json:"status"`
	RequestedAt time.Time  `json:"requested_at"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`
	ResolvedBy  *int64     `json:"resolved_by,omitempty"`

	// Joined fields (not always populated).
	ItemName string `json:"item_name,omitempty"`
}

// Transfer batch statuses.
const (
	BatchRequested = "requested"
	BatchReceived  = "received"
	BatchRejected  = "rejected"
	BatchCanceled  = "canceled"
)

// TransferBatch is a location-to-location multi-line transfer.
type TransferBatch struct {
	ID             int64          `json:"id"`
	Number         string         `json:"number"`
	FromLocationID int64          `json:"from_location_id"`
	ToLocationID   int64          `json:"to_location_id"`
	Status         string         `json:"status"`
	Notes          string         `json:"notes,omitempty"`
	RequestedBy    *int64         `json:"requested_by,omitempty"`
	RequestedAt    time.Time      `json:"requested_at"`
	ResolvedBy     *int64         `json:"resolved_by,omitempty"`
	ResolvedAt     *time.Time     `json:"resolved_at,omitempty"`
	Lines          []TransferLine `json:"lines"`
}

// TransferLine is a snapshot of one batch line.
type TransferLine struct {
	ID                   int64  `json:"id"`
	Kind                 string `json:"kind"`
	ItemID               *int64 `json:"item_id,omitempty"`
	MaterialDefinitionID *int64 `json:"material_definition_id,omitempty"`
	Name                 string `json:"name"`
	Category             string `json:"category,omitempty"`
	IndexCode            string `json:"index_code,omitempty"`
	Unit                 string `json:"unit,omitempty"`
	Quantity             int    `json:"quantity"`
}
