package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order types.
const (
	OrderTypeInstallation = "installation"
	OrderTypeService      = "service"
	OrderTypeOutage       = "outage"
)

// Order statuses.
const (
	OrderPending      = "pending"
	OrderAssigned     = "assigned"
	OrderCompleted    = "completed"
	OrderNotCompleted = "not_completed"
	OrderCanceled     = "canceled"
)

// Equipment link roles.
const (
	EquipmentInstalled = "installed"
	EquipmentIssued    = "issued"
	EquipmentCollected = "collected"
)

// Order is a unit of field work.
type Order struct {
	ID            int64      `json:"id"`
	Number        string     `json:"number"`
	Type          string     `json:"type"`
	Status        string     `json:"status"`
	Client        string     `json:"client,omitempty"`
	Address       string     `json:"address,omitempty"`
	AssignedToID  *int64     `json:"assigned_to_id,omitempty"`
	Notes         string     `json:"notes,omitempty"`
	FailureReason string     `json:"failure_reason,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`

	// Children (populated by GetOrder).
	Settlements []SettlementEntry `json:"settlements,omitempty"`
	Materials   []OrderMaterial   `json:"materials,omitempty"`
	Equipment   []OrderEquipment  `json:"equipment,omitempty"`
	Services    []OrderService    `json:"services,omitempty"`
}

// SettlementEntry is a billable work code with a quantity.
type SettlementEntry struct {
	Code     string `json:"code"`
	Quantity int    `json:"quantity"`
}

// OrderMaterial is a frozen snapshot of material used on an order.
type OrderMaterial struct {
	ID           int64           `json:"id"`
	DefinitionID int64           `json:"definition_id"`
	Name         string          `json:"name"`
	Unit         string          `json:"unit"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	Quantity     int             `json:"quantity"`
}

// Value returns quantity times the frozen unit price.
func (m OrderMaterial) Value() decimal.Decimal {
	return m.UnitPrice.Mul(decimal.NewFromInt(int64(m.Quantity)))
}

// OrderEquipment links a device row to an order.
type OrderEquipment struct {
	ItemID int64  `json:"item_id"`
	Role   string `json:"role"`
}

// OrderService is an installed service record.
type OrderService struct {
	ID             int64         `json:"id"`
	Type           string        `json:"type"`
	DeviceID       *int64        `json:"device_id,omitempty"`
	DeviceSerial   string        `json:"device_serial,omitempty"`
	DeviceCategory string        `json:"device_category,omitempty"`
	ClientDeclared bool          `json:"client_declared"`
	DownloadMbps   *float64      `json:"download_mbps,omitempty"`
	UploadMbps     *float64      `json:"upload_mbps,omitempty"`
	SignalDBm      *float64      `json:"signal_dbm,omitempty"`
	Notes          string        `json:"notes,omitempty"`
	ExtraDevices   []ExtraDevice `json:"extra_devices,omitempty"`
}

// ExtraDevice is an additional device recorded on a service, either taken
// from technician stock (ItemID set) or declared by hand.
type ExtraDevice struct {
	ID       int64  `json:"id"`
	ItemID   *int64 `json:"item_id,omitempty"`
	Name     string `json:"name,omitempty"`
	Category string `json:"category,omitempty"`
	Serial   string `json:"serial,omitempty"`
}

// OrderHistory records an order status change or amendment.
type OrderHistory struct {
	ID             int64     `json:"id"`
	OrderID        int64     `json:"order_id"`
	ChangedBy      *int64    `json:"changed_by,omitempty"`
	ChangedAt      time.Time `json:"changed_at"`
	PreviousStatus string    `json:"previous_status"`
	NewStatus      string    `json:"new_status"`
	Notes          string    `json:"notes,omitempty"`
}
