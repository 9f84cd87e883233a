package api

import (
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"github.com/erazemk/fieldstock/internal/model"
	"github.com/erazemk/fieldstock/internal/store"
)

// OrdersHandler handles orders and their settlement.
type OrdersHandler struct {
	DB *sql.DB

	// AmendWindow is how long technicians may amend a completed order.
	AmendWindow time.Duration

	// Now returns the current time. Tests replace it to move past the
	// amendment window.
	Now func() time.Time
}

type createOrderRequest struct {
	Type         string `json:"type" validate:"required,oneof=installation service outage"`
	Client       string `json:"client"`
	Address      string `json:"address"`
	Notes        string `json:"notes"`
	AssignedToID *int64 `json:"assigned_to_id" validate:"omitempty,gt=0"`
}

type assignOrderRequest struct {
	TechnicianID int64 `json:"technician_id" validate:"required,gt=0"`
}

type cancelOrderRequest struct {
	Notes string `json:"notes"`
}

type consumeRequest struct {
	ItemIDs []int64 `json:"item_ids" validate:"required,min=1,dive,gt=0"`
}

type collectRequest struct {
	Name         string `json:"name" validate:"required"`
	Category     string `json:"category"`
	SerialNumber string `json:"serial_number" validate:"required"`
}

type settlementRequest struct {
	Status        string                  `json:"status" validate:"required,oneof=completed not_completed"`
	Notes         string                  `json:"notes"`
	FailureReason string                  `json:"failure_reason"`
	WorkCodes     []model.SettlementEntry `json:"work_codes" validate:"dive"`
	Materials     []usedMaterialRequest   `json:"materials" validate:"dive"`
	EquipmentIDs  []int64                 `json:"equipment_ids" validate:"dive,gt=0"`
	IssuedIDs     []int64                 `json:"issued_ids" validate:"dive,gt=0"`
	Collected     []collectRequest        `json:"collected" validate:"dive"`
	Services      []serviceRequest        `json:"services" validate:"dive"`
}

type usedMaterialRequest struct {
	DefinitionID int64 `json:"definition_id" validate:"required,gt=0"`
	Quantity     int   `json:"quantity" validate:"required,gt=0"`
}

type serviceRequest struct {
	Type           string               `json:"type" validate:"required"`
	DeviceID       *int64               `json:"device_id" validate:"omitempty,gt=0"`
	DeviceSerial   string               `json:"device_serial"`
	DeviceCategory string               `json:"device_category"`
	DownloadMbps   *float64             `json:"download_mbps" validate:"omitempty,gte=0"`
	UploadMbps     *float64             `json:"upload_mbps" validate:"omitempty,gte=0"`
	SignalDBm      *float64             `json:"signal_dbm"`
	Notes          string               `json:"notes"`
	ExtraDevices   []extraDeviceRequest `json:"extra_devices" validate:"dive"`
}

type extraDeviceRequest struct {
	ItemID   *int64 `json:"item_id" validate:"omitempty,gt=0"`
	Name     string `json:"name"`
	Category string `json:"category"`
	Serial   string `json:"serial"`
}

type orderHistoryResponse struct {
	Status []model.OrderHistory `json:"status"`
	Items  []model.HistoryEntry `json:"items"`
}

func (req *settlementRequest) settlement() store.Settlement {
	s := store.Settlement{
		Status:        req.Status,
		Notes:         req.Notes,
		FailureReason: req.FailureReason,
		WorkCodes:     req.WorkCodes,
		EquipmentIDs:  req.EquipmentIDs,
		IssuedIDs:     req.IssuedIDs,
	}
	for _, m := range req.Materials {
		s.Materials = append(s.Materials, store.UsedMaterial{DefinitionID: m.DefinitionID, Quantity: m.Quantity})
	}
	for _, c := range req.Collected {
		s.Collected = append(s.Collected, store.CollectedDevice{Name: c.Name, Category: c.Category, SerialNumber: c.SerialNumber})
	}
	for _, svc := range req.Services {
		in := store.ServiceInput{
			Type:           svc.Type,
			DeviceID:       svc.DeviceID,
			DeviceSerial:   svc.DeviceSerial,
			DeviceCategory: svc.DeviceCategory,
			DownloadMbps:   svc.DownloadMbps,
			UploadMbps:     svc.UploadMbps,
			SignalDBm:      svc.SignalDBm,
			Notes:          svc.Notes,
		}
		for _, x := range svc.ExtraDevices {
			in.ExtraDevices = append(in.ExtraDevices, store.ExtraDeviceInput(x))
		}
		s.Services = append(s.Services, in)
	}
	return s
}

// viewable reports whether the actor may see the order. Technicians only see
// orders assigned to them.
func viewable(actor model.Actor, o *model.Order) bool {
	if !actor.IsTechnician() {
		return true
	}
	return o.AssignedToID != nil && *o.AssignedToID == actor.UserID
}

// List handles GET /api/orders.
func (h *OrdersHandler) List(w http.ResponseWriter, r *http.Request) {
	actor, _ := GetActor(r.Context())
	technicianID, ok := queryID(w, r, "technician_id")
	if !ok {
		return
	}
	if actor.IsTechnician() {
		technicianID = &actor.UserID
	}

	orders, err := store.ListOrders(r.Context(), h.DB, technicianID, r.URL.Query().Get("status"))
	if err != nil {
		storeError(w, r, err, "list orders")
		return
	}
	jsonResponse(w, http.StatusOK, nonNil(orders))
}

// Create handles POST /api/orders.
func (h *OrdersHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	actor, _ := GetActor(r.Context())

	order, err := store.CreateOrder(r.Context(), h.DB, actor, store.NewOrder{
		Type:         req.Type,
		Client:       req.Client,
		Address:      req.Address,
		Notes:        req.Notes,
		AssignedToID: req.AssignedToID,
	})
	if err != nil {
		storeError(w, r, err, "create order")
		return
	}

	slog.Info("order created", "by", actor.UserID, "order", order.Number, "type", order.Type)
	jsonResponse(w, http.StatusCreated, order)
}

// Get handles GET /api/orders/{id}.
func (h *OrdersHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	order, err := store.GetOrder(r.Context(), h.DB, id)
	if err != nil {
		storeError(w, r, err, "get order")
		return
	}
	actor, _ := GetActor(r.Context())
	if order == nil || !viewable(actor, order) {
		jsonError(w, http.StatusNotFound, "order not found")
		return
	}
	jsonResponse(w, http.StatusOK, order)
}

// Assign handles PUT /api/orders/{id}/assign.
func (h *OrdersHandler) Assign(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req assignOrderRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	actor, _ := GetActor(r.Context())

	order, err := store.AssignOrder(r.Context(), h.DB, actor, id, req.TechnicianID)
	if err != nil {
		storeError(w, r, err, "assign order")
		return
	}

	slog.Info("order assigned", "by", actor.UserID, "order", order.Number, "technician_id", req.TechnicianID)
	jsonResponse(w, http.StatusOK, order)
}

// Cancel handles POST /api/orders/{id}/cancel.
func (h *OrdersHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req cancelOrderRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	actor, _ := GetActor(r.Context())

	if err := store.CancelOrder(r.Context(), h.DB, actor, id, req.Notes); err != nil {
		storeError(w, r, err, "cancel order")
		return
	}
	slog.Info("order canceled", "by", actor.UserID, "order_id", id)
	w.WriteHeader(http.StatusNoContent)
}

// Complete handles POST /api/orders/{id}/complete.
func (h *OrdersHandler) Complete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req settlementRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	actor, _ := GetActor(r.Context())

	res, err := store.CompleteOrder(r.Context(), h.DB, actor, id, req.settlement(), h.Now())
	if err != nil {
		storeError(w, r, err, "complete order")
		return
	}

	h.logSettlement("order settled", actor, res)
	jsonResponse(w, http.StatusOK, res)
}

// Amend handles PUT /api/orders/{id}/settlement.
func (h *OrdersHandler) Amend(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req settlementRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	actor, _ := GetActor(r.Context())

	res, err := store.AmendOrder(r.Context(), h.DB, actor, id, req.settlement(), h.Now(), h.AmendWindow)
	if err != nil {
		storeError(w, r, err, "amend order")
		return
	}

	h.logSettlement("order amended", actor, res)
	jsonResponse(w, http.StatusOK, res)
}

func (h *OrdersHandler) logSettlement(msg string, actor model.Actor, res *store.SettlementResult) {
	slog.Info(msg, "by", actor.UserID, "order", res.Order.Number, "status", res.Order.Status, "entries", len(res.HistoryIDs))
	for _, warning := range res.Warnings {
		slog.Warn("settlement warning", "order", res.Order.Number, "warning", warning)
	}
}

// Consume handles POST /api/orders/{id}/consume.
func (h *OrdersHandler) Consume(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req consumeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	actor, _ := GetActor(r.Context())

	ids, err := store.ConsumeForOrder(r.Context(), h.DB, actor, id, req.ItemIDs)
	if err != nil {
		storeError(w, r, err, "consume devices")
		return
	}

	slog.Info("devices consumed", "by", actor.UserID, "order_id", id, "devices", len(ids))
	jsonResponse(w, http.StatusOK, historyIDsResponse{HistoryIDs: nonNil(ids)})
}

// Collect handles POST /api/orders/{id}/collect.
func (h *OrdersHandler) Collect(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req collectRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	actor, _ := GetActor(r.Context())

	item, entry, err := store.CollectFromClient(r.Context(), h.DB, actor, id, store.CollectedDevice{
		Name:         req.Name,
		Category:     req.Category,
		SerialNumber: req.SerialNumber,
	})
	if err != nil {
		storeError(w, r, err, "collect device")
		return
	}

	slog.Info("device collected", "by", actor.UserID, "order_id", id, "item_id", item.ID, "serial", item.Device.SerialNumber)
	jsonResponse(w, http.StatusOK, movementResponse{Item: item, History: entry})
}

// History handles GET /api/orders/{id}/history.
func (h *OrdersHandler) History(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	order, err := store.GetOrder(r.Context(), h.DB, id)
	if err != nil {
		storeError(w, r, err, "get order history")
		return
	}
	actor, _ := GetActor(r.Context())
	if order == nil || !viewable(actor, order) {
		jsonError(w, http.StatusNotFound, "order not found")
		return
	}

	status, err := store.ListOrderHistory(r.Context(), h.DB, id)
	if err != nil {
		storeError(w, r, err, "get order history")
		return
	}
	items, err := store.ListOrderItemHistory(r.Context(), h.DB, id)
	if err != nil {
		storeError(w, r, err, "get order history")
		return
	}
	jsonResponse(w, http.StatusOK, orderHistoryResponse{Status: nonNil(status), Items: nonNil(items)})
}
