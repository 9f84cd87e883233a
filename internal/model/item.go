package model

import (
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"
)

// Item kinds.
const (
	KindDevice   = "device"
	KindMaterial = "material"
)

// Item statuses.
const (
	StatusAvailable           = "available"
	StatusAssigned            = "assigned"
	StatusAssignedToOrder     = "assigned_to_order"
	StatusCollectedFromClient = "collected_from_client"
	StatusReturned            = "returned"
	StatusReturnedToOperator  = "returned_to_operator"
	StatusTransfer            = "transfer"
)

// Item is one ledger row: the common envelope plus exactly one of Device or
// Material.
type Item struct {
	ID           int64  `json:"id"`
	Kind         string `json:"kind"`
	Status       string `json:"status"`
	AssignedToID *int64 `json:"assigned_to_id,omitempty"`
	LocationID   *int64 `json:"location_id,omitempty"`

	// Derived from an open technician transfer, never stored on the row.
	TransferPending bool   `json:"transfer_pending"`
	TransferToID    *int64 `json:"transfer_to_id,omitempty"`

	Device   *Device   `json:"device,omitempty"`
	Material *Material `json:"material,omitempty"`

	HasPhoto  bool      `json:"has_photo"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Device is the payload of a serialized, single-unit item.
type Device struct {
	Name         string          `json:"name"`
	Category     string          `json:"category"`
	SerialNumber string          `json:"serial_number,omitempty"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
}

// Material is the payload of a fungible, quantity-bearing item row.
type Material struct {
	DefinitionID int64           `json:"definition_id"`
	Name         string          `json:"name"`
	Category     string          `json:"category"`
	Unit         string          `json:"unit"`
	Quantity     int             `json:"quantity"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
}

// Name returns the display name of either payload.
func (i *Item) Name() string {
	if i.Device != nil {
		return i.Device.Name
	}
	if i.Material != nil {
		return i.Material.Name
	}
	return ""
}

// Quantity returns the units held by the row; devices always hold one.
func (i *Item) Quantity() int {
	if i.Material != nil {
		return i.Material.Quantity
	}
	return 1
}

// HeldBy reports whether technician userID currently holds the item.
func (i *Item) HeldBy(userID int64) bool {
	return i.AssignedToID != nil && *i.AssignedToID == userID
}

// NormalizeSerial trims a serial number, drops all whitespace and upper-cases it.
func NormalizeSerial(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return unicode.ToUpper(r)
	}, s)
}
