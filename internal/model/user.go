package model

import (
	"fmt"
	"slices"
	"time"
)

// User represents an authentication user.
type User struct {
	ID           int64      `json:"id"`
	Username     string     `json:"username"`
	PasswordHash string     `json:"-"`
	Role         string     `json:"role"`
	LocationIDs  []int64    `json:"location_ids,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	DeletedAt    *time.Time `json:"deleted_at,omitempty"`
}

// Roles.
const (
	RoleAdmin        = "admin"
	RoleCoordinator  = "coordinator"
	RoleWarehouseman = "warehouseman"
	RoleTechnician   = "technician"
)

// ValidRole reports whether role is one of the known roles.
func ValidRole(role string) bool {
	switch role {
	case RoleAdmin, RoleCoordinator, RoleWarehouseman, RoleTechnician:
		return true
	}
	return false
}

// HasRole reports whether role is one of allowed. Unknown roles fail closed.
func HasRole(role string, allowed ...string) bool {
	return ValidRole(role) && slices.Contains(allowed, role)
}

// MinPasswordLength is the shortest accepted password.
const MinPasswordLength = 8

// ValidatePassword checks password strength rules.
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return fmt.Errorf("password must be at least %d characters", MinPasswordLength)
	}
	return nil
}

// Actor is the resolved caller of a ledger operation.
type Actor struct {
	UserID      int64
	Role        string
	LocationIDs []int64
}

// IsTechnician reports whether the actor acts as a field technician.
func (a Actor) IsTechnician() bool { return a.Role == RoleTechnician }

// IsSupervisor reports whether the actor may act on any location or order.
func (a Actor) IsSupervisor() bool {
	return a.Role == RoleAdmin || a.Role == RoleCoordinator
}

// CanActOnLocation reports whether the actor may move stock at locationID.
func (a Actor) CanActOnLocation(locationID int64) bool {
	switch a.Role {
	case RoleAdmin, RoleCoordinator:
		return true
	case RoleWarehouseman:
		return slices.Contains(a.LocationIDs, locationID)
	}
	return false
}
