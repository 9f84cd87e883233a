package store

import (
	"context"
	"database/sql"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/erazemk/fieldstock/internal/db"
	"github.com/erazemk/fieldstock/internal/model"
)

// fixture is a small warehouse: two locations, an admin, a warehouseman at
// the first location and two technicians.
type fixture struct {
	t   *testing.T
	ctx context.Context
	db  *sql.DB

	loc1, loc2 int64

	admin     model.Actor
	warehouse model.Actor
	techA     model.Actor
	techB     model.Actor

	kabel *model.MaterialDefinition
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{t: t, ctx: context.Background(), db: db.NewTestDB(t)}

	l1, err := CreateLocation(f.ctx, f.db, "Ljubljana")
	if err != nil {
		t.Fatalf("CreateLocation: %v", err)
	}
	l2, err := CreateLocation(f.ctx, f.db, "Maribor")
	if err != nil {
		t.Fatalf("CreateLocation: %v", err)
	}
	f.loc1, f.loc2 = l1.ID, l2.ID

	f.admin = f.actor("admin", model.RoleAdmin)
	f.warehouse = f.actor("skladiscnik", model.RoleWarehouseman, f.loc1)
	f.techA = f.actor("ana", model.RoleTechnician, f.loc1)
	f.techB = f.actor("bor", model.RoleTechnician, f.loc1)

	f.kabel, err = CreateMaterialDefinition(f.ctx, f.db, "Kabel", "cable", "K-100", "m", decimal.RequireFromString("0.45"))
	if err != nil {
		t.Fatalf("CreateMaterialDefinition: %v", err)
	}
	return f
}

func (f *fixture) actor(username, role string, locations ...int64) model.Actor {
	f.t.Helper()
	u, err := CreateUser(f.ctx, f.db, username, "hash", role)
	if err != nil {
		f.t.Fatalf("CreateUser %s: %v", username, err)
	}
	if len(locations) > 0 {
		if err := SetUserLocations(f.ctx, f.db, u.ID, locations); err != nil {
			f.t.Fatalf("SetUserLocations: %v", err)
		}
	}
	a, err := GetActor(f.ctx, f.db, u.ID)
	if err != nil {
		f.t.Fatalf("GetActor: %v", err)
	}
	return *a
}

// device receives a device at loc1.
func (f *fixture) device(serial string) *model.Item {
	f.t.Helper()
	item, _, err := ReceiveDevice(f.ctx, f.db, f.warehouse, f.loc1, DeviceInput{
		Name: "Router " + serial, Category: "router", SerialNumber: serial,
	})
	if err != nil {
		f.t.Fatalf("ReceiveDevice %s: %v", serial, err)
	}
	return item
}

// issuedDevice receives a device and issues it to tech.
func (f *fixture) issuedDevice(serial string, tech model.Actor) *model.Item {
	f.t.Helper()
	item := f.device(serial)
	item, _, err := Issue(f.ctx, f.db, f.warehouse, item.ID, tech.UserID, 0)
	if err != nil {
		f.t.Fatalf("Issue %s: %v", serial, err)
	}
	return item
}

// stockKabel receives qty of Kabel at loc1.
func (f *fixture) stockKabel(qty int) *model.Item {
	f.t.Helper()
	row, _, err := ReceiveMaterial(f.ctx, f.db, f.warehouse, f.loc1, f.kabel.ID, qty)
	if err != nil {
		f.t.Fatalf("ReceiveMaterial: %v", err)
	}
	return row
}

// issueKabel stocks loc1 and hands qty of Kabel to tech, returning the
// technician's row.
func (f *fixture) issueKabel(tech model.Actor, qty int) *model.Item {
	f.t.Helper()
	row := f.stockKabel(qty)
	techRow, _, err := Issue(f.ctx, f.db, f.warehouse, row.ID, tech.UserID, qty)
	if err != nil {
		f.t.Fatalf("Issue Kabel: %v", err)
	}
	return techRow
}

func (f *fixture) order(typ string, tech model.Actor) *model.Order {
	f.t.Helper()
	o, err := CreateOrder(f.ctx, f.db, f.admin, NewOrder{Type: typ, Client: "Novak", AssignedToID: &tech.UserID})
	if err != nil {
		f.t.Fatalf("CreateOrder: %v", err)
	}
	return o
}

func (f *fixture) item(id int64) *model.Item {
	f.t.Helper()
	item, err := GetItem(f.ctx, f.db, id)
	if err != nil {
		f.t.Fatalf("GetItem: %v", err)
	}
	if item == nil {
		f.t.Fatalf("item %d not found", id)
	}
	return item
}

func (f *fixture) onHand(tech model.Actor, def *model.MaterialDefinition) int {
	f.t.Helper()
	n, err := MaterialOnHand(f.ctx, f.db, tech.UserID, def.ID)
	if err != nil {
		f.t.Fatalf("MaterialOnHand: %v", err)
	}
	return n
}

func (f *fixture) locationStock(locationID int64, def *model.MaterialDefinition) int {
	f.t.Helper()
	n, err := LocationMaterialStock(f.ctx, f.db, locationID, def.ID)
	if err != nil {
		f.t.Fatalf("LocationMaterialStock: %v", err)
	}
	return n
}

func (f *fixture) historyCount() int {
	f.t.Helper()
	var n int
	if err := f.db.QueryRowContext(f.ctx, `SELECT COUNT(*) FROM history`).Scan(&n); err != nil {
		f.t.Fatalf("counting history: %v", err)
	}
	return n
}

func wantKind(t *testing.T, err error, kind ErrorKind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", kind)
	}
	if got := KindOf(err); got != kind {
		t.Fatalf("expected %s error, got %s: %v", kind, got, err)
	}
}
