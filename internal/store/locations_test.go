package store

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/erazemk/fieldstock/internal/model"
)

func TestResolveLocation(t *testing.T) {
	f := newFixture(t)
	other := f.loc2

	tests := []struct {
		name     string
		actor    model.Actor
		explicit *int64
		want     int64
		kind     ErrorKind
	}{
		{"technician implicit", f.techA, nil, f.loc1, 0},
		{"technician explicit", f.techA, &other, 0, KindForbidden},
		{"warehouseman default", f.warehouse, nil, f.loc1, 0},
		{"warehouseman own", f.warehouse, &f.loc1, f.loc1, 0},
		{"warehouseman foreign", f.warehouse, &other, 0, KindForbidden},
		{"admin explicit", f.admin, &other, f.loc2, 0},
		{"admin missing", f.admin, nil, 0, KindBadRequest},
		{"admin unknown", f.admin, ptr(int64(999)), 0, KindNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveLocation(f.ctx, f.db, tt.actor, tt.explicit)
			if tt.kind != 0 {
				wantKind(t, err, tt.kind)
				return
			}
			if err != nil {
				t.Fatalf("ResolveLocation: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected location %d, got %d", tt.want, got)
			}
		})
	}
}

func TestDeleteLocationWithStock(t *testing.T) {
	f := newFixture(t)
	f.stockKabel(5)

	wantKind(t, DeleteLocation(f.ctx, f.db, f.loc1), KindConflict)

	if err := DeleteLocation(f.ctx, f.db, f.loc2); err != nil {
		t.Fatalf("DeleteLocation: %v", err)
	}
	locations, err := ListLocations(f.ctx, f.db)
	if err != nil {
		t.Fatalf("ListLocations: %v", err)
	}
	if len(locations) != 1 {
		t.Errorf("expected 1 location, got %d", len(locations))
	}
}

func TestMaterialDefinitions(t *testing.T) {
	f := newFixture(t)

	def, err := CreateMaterialDefinition(f.ctx, f.db, "Konektor", "", "K-7", "", decimal.RequireFromString("1.20"))
	if err != nil {
		t.Fatalf("CreateMaterialDefinition: %v", err)
	}
	if def.Unit != "pcs" {
		t.Errorf("expected default unit pcs, got %q", def.Unit)
	}
	if !def.UnitPrice.Equal(decimal.RequireFromString("1.2")) {
		t.Errorf("expected unit price 1.2, got %s", def.UnitPrice)
	}

	_, err = CreateMaterialDefinition(f.ctx, f.db, "Bad", "", "", "", decimal.NewFromInt(-1))
	wantKind(t, err, KindBadRequest)

	defs, err := ListMaterialDefinitions(f.ctx, f.db)
	if err != nil {
		t.Fatalf("ListMaterialDefinitions: %v", err)
	}
	if len(defs) != 2 {
		t.Errorf("expected 2 definitions, got %d", len(defs))
	}
}
