package model

import "testing"

func TestHasRole(t *testing.T) {
	tests := []struct {
		role     string
		allowed  []string
		expected bool
	}{
		{RoleAdmin, []string{RoleAdmin}, true},
		{RoleCoordinator, []string{RoleAdmin, RoleCoordinator}, true},
		{RoleWarehouseman, []string{RoleAdmin, RoleCoordinator}, false},
		{RoleTechnician, []string{RoleTechnician}, true},
		{RoleTechnician, nil, false},
		// Unknown roles fail-closed.
		{"unknown", []string{"unknown"}, false},
		{"", []string{""}, false},
	}

	for _, tt := range tests {
		got := HasRole(tt.role, tt.allowed...)
		if got != tt.expected {
			t.Errorf("HasRole(%q, %v) = %v, want %v", tt.role, tt.allowed, got, tt.expected)
		}
	}
}

func TestValidatePassword(t *testing.T) {
	tests := []struct {
		password string
		wantErr  bool
	}{
		{"", true},
		{"short", true},
		{"1234567", true},
		{"12345678", false},
		{"a-valid-password", false},
	}

	for _, tt := range tests {
		err := ValidatePassword(tt.password)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidatePassword(%q) error = %v, wantErr %v", tt.password, err, tt.wantErr)
		}
	}
}

func TestActorCanActOnLocation(t *testing.T) {
	tests := []struct {
		name     string
		actor    Actor
		location int64
		expected bool
	}{
		{"admin anywhere", Actor{Role: RoleAdmin}, 7, true},
		{"coordinator anywhere", Actor{Role: RoleCoordinator}, 7, true},
		{"warehouseman assigned", Actor{Role: RoleWarehouseman, LocationIDs: []int64{3, 7}}, 7, true},
		{"warehouseman elsewhere", Actor{Role: RoleWarehouseman, LocationIDs: []int64{3}}, 7, false},
		{"technician never", Actor{Role: RoleTechnician, LocationIDs: []int64{7}}, 7, false},
	}

	for _, tt := range tests {
		if got := tt.actor.CanActOnLocation(tt.location); got != tt.expected {
			t.Errorf("%s: CanActOnLocation(%d) = %v, want %v", tt.name, tt.location, got, tt.expected)
		}
	}
}

func TestNormalizeSerial(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"abc123", "ABC123"},
		{"  ab c 12 3 ", "ABC123"},
		{"\tAbC-9\n", "ABC-9"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NormalizeSerial(tt.in); got != tt.want {
			t.Errorf("NormalizeSerial(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
