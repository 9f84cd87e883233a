package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Location is a warehouse holding unowned stock.
type Location struct {
	ID        int64      `json:"id"`
	Name      string     `json:"name"`
	CreatedAt time.Time  `json:"created_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// MaterialDefinition describes a fungible material type.
type MaterialDefinition struct {
	ID        int64           `json:"id"`
	Name      string          `json:"name"`
	Category  string          `json:"category"`
	IndexCode string          `json:"index_code"`
	Unit      string          `json:"unit"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	CreatedAt time.Time       `json:"created_at"`
}
