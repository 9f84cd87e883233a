package store

import (
	"strings"
	"testing"
	"time"

	"github.com/erazemk/fieldstock/internal/model"
)

func TestCreateOrder(t *testing.T) {
	f := newFixture(t)

	pending, err := CreateOrder(f.ctx, f.db, f.admin, NewOrder{Type: model.OrderTypeService, Client: "Novak"})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if pending.Status != model.OrderPending || pending.AssignedToID != nil {
		t.Errorf("expected unassigned pending order, got %+v", pending)
	}
	if !strings.HasPrefix(pending.Number, "ORD-") {
		t.Errorf("expected ORD- number, got %q", pending.Number)
	}

	assigned := f.order(model.OrderTypeInstallation, f.techA)
	if assigned.Status != model.OrderAssigned || assigned.Number == pending.Number {
		t.Errorf("unexpected assigned order: %+v", assigned)
	}

	_, err = CreateOrder(f.ctx, f.db, f.admin, NewOrder{Type: "repair"})
	wantKind(t, err, KindBadRequest)

	_, err = CreateOrder(f.ctx, f.db, f.admin, NewOrder{Type: model.OrderTypeOutage, AssignedToID: &f.warehouse.UserID})
	wantKind(t, err, KindBadRequest)
}

func TestAssignOrder(t *testing.T) {
	f := newFixture(t)
	o, err := CreateOrder(f.ctx, f.db, f.admin, NewOrder{Type: model.OrderTypeOutage})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	o, err = AssignOrder(f.ctx, f.db, f.admin, o.ID, f.techA.UserID)
	if err != nil {
		t.Fatalf("AssignOrder: %v", err)
	}
	if o.Status != model.OrderAssigned || *o.AssignedToID != f.techA.UserID {
		t.Errorf("unexpected order after assign: %+v", o)
	}

	// Reassigning an open order is allowed.
	o, err = AssignOrder(f.ctx, f.db, f.admin, o.ID, f.techB.UserID)
	if err != nil {
		t.Fatalf("reassign: %v", err)
	}
	if *o.AssignedToID != f.techB.UserID {
		t.Errorf("expected order with techB, got %d", *o.AssignedToID)
	}

	_, err = AssignOrder(f.ctx, f.db, f.admin, 999, f.techA.UserID)
	wantKind(t, err, KindNotFound)

	history, err := ListOrderHistory(f.ctx, f.db, o.ID)
	if err != nil {
		t.Fatalf("ListOrderHistory: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("expected created and two assignments, got %d", len(history))
	}
	if history[0].PreviousStatus != "" || history[1].PreviousStatus != model.OrderPending {
		t.Errorf("unexpected history: %+v", history)
	}
}

func TestCancelOrder(t *testing.T) {
	f := newFixture(t)
	o := f.order(model.OrderTypeService, f.techA)

	if err := CancelOrder(f.ctx, f.db, f.admin, o.ID, "client moved"); err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
	got, err := GetOrder(f.ctx, f.db, o.ID)
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if got.Status != model.OrderCanceled {
		t.Errorf("expected canceled, got %s", got.Status)
	}

	wantKind(t, CancelOrder(f.ctx, f.db, f.admin, o.ID, ""), KindBadRequest)
	_, err = AssignOrder(f.ctx, f.db, f.admin, o.ID, f.techB.UserID)
	wantKind(t, err, KindBadRequest)
	_, err = CompleteOrder(f.ctx, f.db, f.techA, o.ID, Settlement{Status: model.OrderNotCompleted, FailureReason: "x"}, time.Now())
	wantKind(t, err, KindBadRequest)
}

func TestListOrders(t *testing.T) {
	f := newFixture(t)
	f.order(model.OrderTypeService, f.techA)
	f.order(model.OrderTypeOutage, f.techA)
	f.order(model.OrderTypeInstallation, f.techB)

	all, err := ListOrders(f.ctx, f.db, nil, "")
	if err != nil {
		t.Fatalf("ListOrders: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("expected 3 orders, got %d", len(all))
	}

	mine, err := ListOrders(f.ctx, f.db, &f.techA.UserID, model.OrderAssigned)
	if err != nil {
		t.Fatalf("ListOrders: %v", err)
	}
	if len(mine) != 2 {
		t.Errorf("expected 2 orders for techA, got %d", len(mine))
	}

	none, err := ListOrders(f.ctx, f.db, &f.techA.UserID, model.OrderCompleted)
	if err != nil {
		t.Fatalf("ListOrders: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("expected no completed orders, got %d", len(none))
	}
}
