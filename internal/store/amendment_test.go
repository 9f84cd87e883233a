package store

import (
	"reflect"
	"testing"
	"time"

	"github.com/erazemk/fieldstock/internal/model"
)

const window = 15 * time.Minute

func TestAmendNeverCreditsMaterial(t *testing.T) {
	f := newFixture(t)
	f.issueKabel(f.techA, 10)
	o := f.order(model.OrderTypeInstallation, f.techA)
	now := time.Now()

	if _, err := CompleteOrder(f.ctx, f.db, f.techA, o.ID,
		installation([]UsedMaterial{{DefinitionID: f.kabel.ID, Quantity: 4}}), now); err != nil {
		t.Fatalf("CompleteOrder: %v", err)
	}
	if got := f.onHand(f.techA, f.kabel); got != 6 {
		t.Fatalf("expected 6 on hand, got %d", got)
	}

	res, err := AmendOrder(f.ctx, f.db, f.techA, o.ID,
		installation([]UsedMaterial{{DefinitionID: f.kabel.ID, Quantity: 2}}), now.Add(5*time.Minute), window)
	if err != nil {
		t.Fatalf("AmendOrder: %v", err)
	}
	if got := f.onHand(f.techA, f.kabel); got != 6 {
		t.Errorf("expected amendment not to credit stock, got %d on hand", got)
	}
	if len(res.Order.Materials) != 1 || res.Order.Materials[0].Quantity != 2 {
		t.Errorf("expected snapshot of 2, got %+v", res.Order.Materials)
	}

	// Going back up to 4 draws nothing: 4 were already drawn for this order.
	if _, err := AmendOrder(f.ctx, f.db, f.techA, o.ID,
		installation([]UsedMaterial{{DefinitionID: f.kabel.ID, Quantity: 4}}), now.Add(6*time.Minute), window); err != nil {
		t.Fatalf("AmendOrder: %v", err)
	}
	if got := f.onHand(f.techA, f.kabel); got != 6 {
		t.Errorf("expected 6 on hand, got %d", got)
	}

	// Using more than was ever drawn draws the difference.
	if _, err := AmendOrder(f.ctx, f.db, f.techA, o.ID,
		installation([]UsedMaterial{{DefinitionID: f.kabel.ID, Quantity: 7}}), now.Add(7*time.Minute), window); err != nil {
		t.Fatalf("AmendOrder: %v", err)
	}
	if got := f.onHand(f.techA, f.kabel); got != 3 {
		t.Errorf("expected 3 on hand, got %d", got)
	}
}

func TestAmendWindow(t *testing.T) {
	f := newFixture(t)
	o := f.order(model.OrderTypeInstallation, f.techA)
	now := time.Now()
	if _, err := CompleteOrder(f.ctx, f.db, f.techA, o.ID, installation(nil), now); err != nil {
		t.Fatalf("CompleteOrder: %v", err)
	}

	_, err := AmendOrder(f.ctx, f.db, f.techA, o.ID, installation(nil), now.Add(16*time.Minute), window)
	wantKind(t, err, KindBadRequest)

	if _, err := AmendOrder(f.ctx, f.db, f.admin, o.ID, installation(nil), now.Add(48*time.Hour), window); err != nil {
		t.Errorf("expected admin amendment without time limit, got %v", err)
	}

	_, err = AmendOrder(f.ctx, f.db, f.techB, o.ID, installation(nil), now, window)
	wantKind(t, err, KindForbidden)
}

func TestAmendUnsettledOrder(t *testing.T) {
	f := newFixture(t)
	o := f.order(model.OrderTypeInstallation, f.techA)

	_, err := AmendOrder(f.ctx, f.db, f.techA, o.ID, installation(nil), time.Now(), window)
	wantKind(t, err, KindBadRequest)
}

func TestAmendReturnsDroppedDevice(t *testing.T) {
	f := newFixture(t)
	d1 := f.issuedDevice("SN1", f.techA)
	d2 := f.issuedDevice("SN2", f.techA)
	o := f.order(model.OrderTypeInstallation, f.techA)
	now := time.Now()

	if _, err := CompleteOrder(f.ctx, f.db, f.techA, o.ID, installation(nil, d1.ID, d2.ID), now); err != nil {
		t.Fatalf("CompleteOrder: %v", err)
	}

	res, err := AmendOrder(f.ctx, f.db, f.techA, o.ID, installation(nil, d1.ID), now.Add(time.Minute), window)
	if err != nil {
		t.Fatalf("AmendOrder: %v", err)
	}
	if len(res.Order.Equipment) != 1 || res.Order.Equipment[0].ItemID != d1.ID {
		t.Errorf("expected only SN1 linked, got %+v", res.Order.Equipment)
	}

	got := f.item(d2.ID)
	if got.Status != model.StatusAssigned || !got.HeldBy(f.techA.UserID) {
		t.Errorf("expected SN2 back with the technician, got %+v", got)
	}
	history, err := ListItemHistory(f.ctx, f.db, d2.ID)
	if err != nil {
		t.Fatalf("ListItemHistory: %v", err)
	}
	if last := history[len(history)-1]; last.Action != model.ActionReturnedToTechnician {
		t.Errorf("expected returned_to_technician, got %s", last.Action)
	}

	// The returned device can be used on another order.
	o2 := f.order(model.OrderTypeInstallation, f.techA)
	if _, err := CompleteOrder(f.ctx, f.db, f.techA, o2.ID, installation(nil, d2.ID), now); err != nil {
		t.Errorf("expected SN2 reusable, got %v", err)
	}
}

func TestAmendIdempotent(t *testing.T) {
	f := newFixture(t)
	f.issueKabel(f.techA, 10)
	ont := f.issuedDevice("ONT1", f.techA)
	stb := f.issuedDevice("STB1", f.techA)
	o := f.order(model.OrderTypeService, f.techA)
	now := time.Now()

	s := Settlement{
		Status:    model.OrderCompleted,
		Materials: []UsedMaterial{{DefinitionID: f.kabel.ID, Quantity: 3}},
		IssuedIDs: []int64{ont.ID},
		Collected: []CollectedDevice{{Name: "Old", SerialNumber: "OLD1"}},
		Services: []ServiceInput{{
			Type:         "internet",
			DeviceID:     &ont.ID,
			ExtraDevices: []ExtraDeviceInput{{ItemID: &stb.ID}},
		}},
	}
	if _, err := CompleteOrder(f.ctx, f.db, f.techA, o.ID, s, now); err != nil {
		t.Fatalf("CompleteOrder: %v", err)
	}

	once, err := AmendOrder(f.ctx, f.db, f.techA, o.ID, s, now.Add(time.Minute), window)
	if err != nil {
		t.Fatalf("first AmendOrder: %v", err)
	}
	onHand := f.onHand(f.techA, f.kabel)
	rows := countRows(t, f)

	twice, err := AmendOrder(f.ctx, f.db, f.techA, o.ID, s, now.Add(2*time.Minute), window)
	if err != nil {
		t.Fatalf("second AmendOrder: %v", err)
	}

	if !reflect.DeepEqual(once.Order.Equipment, twice.Order.Equipment) {
		t.Errorf("equipment differs: %+v vs %+v", once.Order.Equipment, twice.Order.Equipment)
	}
	if !reflect.DeepEqual(stripIDs(once.Order), stripIDs(twice.Order)) {
		t.Errorf("materials or services differ between amendments")
	}
	if got := f.onHand(f.techA, f.kabel); got != onHand || got != 7 {
		t.Errorf("expected 7 on hand after both amendments, got %d", got)
	}
	if got := countRows(t, f); got != rows {
		t.Errorf("expected %d item rows, got %d", rows, got)
	}
	if len(twice.HistoryIDs) != 0 {
		t.Errorf("expected no ledger changes from a repeated amendment, got %d entries", len(twice.HistoryIDs))
	}
}

// stripIDs drops row ids that change when children are re-inserted.
func stripIDs(o *model.Order) *model.Order {
	c := *o
	c.Materials = append([]model.OrderMaterial(nil), o.Materials...)
	for i := range c.Materials {
		c.Materials[i].ID = 0
	}
	c.Services = append([]model.OrderService(nil), o.Services...)
	for i := range c.Services {
		c.Services[i].ID = 0
		extras := append([]model.ExtraDevice(nil), c.Services[i].ExtraDevices...)
		for j := range extras {
			extras[j].ID = 0
		}
		c.Services[i].ExtraDevices = extras
	}
	c.UpdatedAt = time.Time{}
	return &c
}

func TestAmendCollectedDevices(t *testing.T) {
	tests := []struct {
		name        string
		amender     func(f *fixture) model.Actor
		wantDeleted bool
	}{
		{"technician detaches", func(f *fixture) model.Actor { return f.techA }, false},
		{"admin deletes", func(f *fixture) model.Actor { return f.admin }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			o := f.order(model.OrderTypeOutage, f.techA)
			now := time.Now()

			res, err := CompleteOrder(f.ctx, f.db, f.techA, o.ID, Settlement{
				Status:    model.OrderCompleted,
				Collected: []CollectedDevice{{Name: "Old", SerialNumber: "OLD1"}, {Name: "Older", SerialNumber: "OLD2"}},
			}, now)
			if err != nil {
				t.Fatalf("CompleteOrder: %v", err)
			}
			if len(res.Order.Equipment) != 2 {
				t.Fatalf("expected 2 collected links, got %d", len(res.Order.Equipment))
			}
			dropped, _ := GetDeviceBySerial(f.ctx, f.db, "OLD2")

			res, err = AmendOrder(f.ctx, f.db, tt.amender(f), o.ID, Settlement{
				Status:    model.OrderCompleted,
				Collected: []CollectedDevice{{SerialNumber: "old1"}},
			}, now.Add(time.Minute), window)
			if err != nil {
				t.Fatalf("AmendOrder: %v", err)
			}
			if len(res.Order.Equipment) != 1 {
				t.Errorf("expected 1 collected link, got %+v", res.Order.Equipment)
			}

			got, err := GetItem(f.ctx, f.db, dropped.ID)
			if err != nil {
				t.Fatalf("GetItem: %v", err)
			}
			if tt.wantDeleted {
				if got != nil {
					t.Errorf("expected OLD2 deleted, got %+v", got)
				}
				return
			}
			if got == nil || got.Status != model.StatusCollectedFromClient || !got.HeldBy(f.techA.UserID) {
				t.Errorf("expected OLD2 kept in technician custody, got %+v", got)
			}
		})
	}
}

func TestAmendSweepsOrphans(t *testing.T) {
	f := newFixture(t)
	dev := f.issuedDevice("SN1", f.techA)
	o := f.order(model.OrderTypeInstallation, f.techA)
	now := time.Now()

	if _, err := CompleteOrder(f.ctx, f.db, f.techA, o.ID, installation(nil, dev.ID), now); err != nil {
		t.Fatalf("CompleteOrder: %v", err)
	}
	// Leave the device consumed without any order link.
	if _, err := f.db.ExecContext(f.ctx, `DELETE FROM order_equipment WHERE item_id = ?`, dev.ID); err != nil {
		t.Fatalf("deleting link: %v", err)
	}

	// A device consumed by a different order is not touched.
	other := f.issuedDevice("SN2", f.techA)
	o2 := f.order(model.OrderTypeInstallation, f.techA)
	if _, err := CompleteOrder(f.ctx, f.db, f.techA, o2.ID, installation(nil, other.ID), now); err != nil {
		t.Fatalf("CompleteOrder: %v", err)
	}

	res, err := AmendOrder(f.ctx, f.db, f.techA, o.ID, installation(nil), now.Add(time.Minute), window)
	if err != nil {
		t.Fatalf("AmendOrder: %v", err)
	}
	if len(res.HistoryIDs) != 1 {
		t.Errorf("expected one return entry, got %d", len(res.HistoryIDs))
	}
	if got := f.item(dev.ID); got.Status != model.StatusAssigned || !got.HeldBy(f.techA.UserID) {
		t.Errorf("expected orphan back with technician, got %+v", got)
	}
	if got := f.item(other.ID); got.Status != model.StatusAssignedToOrder {
		t.Errorf("expected SN2 to stay with its order, got %s", got.Status)
	}
}

func TestAmendRecordsOrderHistory(t *testing.T) {
	f := newFixture(t)
	o := f.order(model.OrderTypeInstallation, f.techA)
	now := time.Now()
	if _, err := CompleteOrder(f.ctx, f.db, f.techA, o.ID, installation(nil), now); err != nil {
		t.Fatalf("CompleteOrder: %v", err)
	}

	if _, err := AmendOrder(f.ctx, f.db, f.techA, o.ID, Settlement{
		Status:        model.OrderNotCompleted,
		FailureReason: "no signal",
	}, now.Add(time.Minute), window); err != nil {
		t.Fatalf("AmendOrder: %v", err)
	}

	history, err := ListOrderHistory(f.ctx, f.db, o.ID)
	if err != nil {
		t.Fatalf("ListOrderHistory: %v", err)
	}
	last := history[len(history)-1]
	if last.PreviousStatus != model.OrderCompleted || last.NewStatus != model.OrderNotCompleted || last.Notes != "amended" {
		t.Errorf("unexpected closing entry: %+v", last)
	}
	if *last.ChangedBy != f.techA.UserID {
		t.Errorf("expected amendment attributed to technician, got %v", *last.ChangedBy)
	}
}

func TestAmendKeepsCollectedDeviceMovements(t *testing.T) {
	f := newFixture(t)
	o := f.order(model.OrderTypeOutage, f.techA)
	now := time.Now()
	s := Settlement{
		Status:    model.OrderCompleted,
		Collected: []CollectedDevice{{Name: "Old modem", SerialNumber: "OLD1"}},
	}

	if _, err := CompleteOrder(f.ctx, f.db, f.techA, o.ID, s, now); err != nil {
		t.Fatalf("CompleteOrder: %v", err)
	}
	old, err := GetDeviceBySerial(f.ctx, f.db, "OLD1")
	if err != nil || old == nil {
		t.Fatalf("GetDeviceBySerial: %v %v", old, err)
	}

	// Back in the warehouse.
	if _, _, err := ReturnToLocation(f.ctx, f.db, f.warehouse, old.ID, f.loc1, 0); err != nil {
		t.Fatalf("ReturnToLocation: %v", err)
	}
	if _, err := AmendOrder(f.ctx, f.db, f.techA, o.ID, s, now.Add(time.Minute), window); err != nil {
		t.Fatalf("AmendOrder after return: %v", err)
	}
	if got := f.item(old.ID); got.Status != model.StatusReturned || got.AssignedToID != nil {
		t.Errorf("expected OLD1 to stay returned, got %+v", got)
	}

	// Shipped to the operator.
	if _, err := ReturnToOperator(f.ctx, f.db, f.warehouse, f.loc1, []OperatorReturn{{ItemID: old.ID}}); err != nil {
		t.Fatalf("ReturnToOperator: %v", err)
	}
	before, err := CountHistory(f.ctx, f.db, old.ID)
	if err != nil {
		t.Fatalf("CountHistory: %v", err)
	}
	res, err := AmendOrder(f.ctx, f.db, f.admin, o.ID, s, now.Add(time.Hour), window)
	if err != nil {
		t.Fatalf("AmendOrder after operator return: %v", err)
	}
	if got := f.item(old.ID); got.Status != model.StatusReturnedToOperator || got.AssignedToID != nil {
		t.Errorf("expected OLD1 to stay with the operator, got %+v", got)
	}
	after, err := CountHistory(f.ctx, f.db, old.ID)
	if err != nil {
		t.Fatalf("CountHistory: %v", err)
	}
	if after != before {
		t.Errorf("expected no new history for OLD1, had %d now %d", before, after)
	}
	if len(res.Order.Equipment) != 1 || res.Order.Equipment[0].ItemID != old.ID {
		t.Errorf("expected OLD1 to stay linked, got %+v", res.Order.Equipment)
	}
}

func TestAmendDrawsEarlierShortfall(t *testing.T) {
	f := newFixture(t)
	f.issueKabel(f.techA, 3)
	o := f.order(model.OrderTypeInstallation, f.techA)
	now := time.Now()
	s := installation([]UsedMaterial{{DefinitionID: f.kabel.ID, Quantity: 5}})

	res, err := CompleteOrder(f.ctx, f.db, f.techA, o.ID, s, now)
	if err != nil {
		t.Fatalf("CompleteOrder: %v", err)
	}
	if len(res.Warnings) != 1 {
		t.Fatalf("expected a shortage warning, got %v", res.Warnings)
	}

	// Restocked before the window closes: the same settlement takes only
	// what the first draw missed.
	f.issueKabel(f.techA, 4)
	res, err = AmendOrder(f.ctx, f.db, f.techA, o.ID, s, now.Add(time.Minute), window)
	if err != nil {
		t.Fatalf("AmendOrder: %v", err)
	}
	if len(res.Warnings) != 0 {
		t.Errorf("expected no warnings, got %v", res.Warnings)
	}
	if got := f.onHand(f.techA, f.kabel); got != 2 {
		t.Errorf("expected 2 Kabel left, got %d", got)
	}

	// Nothing outstanding any more.
	if _, err := AmendOrder(f.ctx, f.db, f.techA, o.ID, s, now.Add(2*time.Minute), window); err != nil {
		t.Fatalf("AmendOrder: %v", err)
	}
	if got := f.onHand(f.techA, f.kabel); got != 2 {
		t.Errorf("expected repeat amendment to draw nothing, got %d left", got)
	}
}
