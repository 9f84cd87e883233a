package api

import (
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/erazemk/fieldstock/internal/imaging"
	"github.com/erazemk/fieldstock/internal/model"
	"github.com/erazemk/fieldstock/internal/store"
)

// LedgerHandler handles stock movements: receipts, issues, returns and
// shipments back to the operator, plus stock and history views.
type LedgerHandler struct {
	DB *sql.DB
}

type receiveDeviceRequest struct {
	LocationID   *int64          `json:"location_id"`
	Name         string          `json:"name" validate:"required"`
	Category     string          `json:"category"`
	SerialNumber string          `json:"serial_number" validate:"required"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
}

type receiveMaterialRequest struct {
	LocationID   *int64 `json:"location_id"`
	DefinitionID int64  `json:"definition_id" validate:"required,gt=0"`
	Quantity     int    `json:"quantity" validate:"required,gt=0"`
}

type issueRequest struct {
	TechnicianID int64 `json:"technician_id" validate:"required,gt=0"`
	Quantity     int   `json:"quantity" validate:"omitempty,gt=0"`
}

type returnRequest struct {
	LocationID *int64 `json:"location_id"`
	Quantity   int    `json:"quantity" validate:"omitempty,gt=0"`
}

type operatorReturnRequest struct {
	LocationID *int64               `json:"location_id"`
	Lines      []operatorReturnLine `json:"lines" validate:"required,min=1,dive"`
}

type operatorReturnLine struct {
	ItemID   int64 `json:"item_id" validate:"required,gt=0"`
	Quantity int   `json:"quantity" validate:"omitempty,gt=0"`
}

type movementResponse struct {
	Item    *model.Item         `json:"item"`
	History *model.HistoryEntry `json:"history"`
}

type historyIDsResponse struct {
	HistoryIDs []int64 `json:"history_ids"`
}

// quantityOrOne defaults an omitted quantity to a single unit.
func quantityOrOne(q int) int {
	if q == 0 {
		return 1
	}
	return q
}

// ReceiveDevice handles POST /api/stock/devices.
func (h *LedgerHandler) ReceiveDevice(w http.ResponseWriter, r *http.Request) {
	var req receiveDeviceRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	actor, _ := GetActor(r.Context())
	locationID, err := store.ResolveLocation(r.Context(), h.DB, actor, req.LocationID)
	if err != nil {
		storeError(w, r, err, "resolve location")
		return
	}

	item, entry, err := store.ReceiveDevice(r.Context(), h.DB, actor, locationID, store.DeviceInput{
		Name:         req.Name,
		Category:     req.Category,
		SerialNumber: req.SerialNumber,
		UnitPrice:    req.UnitPrice,
	})
	if err != nil {
		storeError(w, r, err, "receive device")
		return
	}

	slog.Info("device received", "by", actor.UserID, "item_id", item.ID, "serial", item.Device.SerialNumber, "location_id", locationID)
	jsonResponse(w, http.StatusCreated, movementResponse{Item: item, History: entry})
}

// ReceiveMaterial handles POST /api/stock/materials.
func (h *LedgerHandler) ReceiveMaterial(w http.ResponseWriter, r *http.Request) {
	var req receiveMaterialRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	actor, _ := GetActor(r.Context())
	locationID, err := store.ResolveLocation(r.Context(), h.DB, actor, req.LocationID)
	if err != nil {
		storeError(w, r, err, "resolve location")
		return
	}

	item, entry, err := store.ReceiveMaterial(r.Context(), h.DB, actor, locationID, req.DefinitionID, req.Quantity)
	if err != nil {
		storeError(w, r, err, "receive material")
		return
	}

	slog.Info("material received", "by", actor.UserID, "definition_id", req.DefinitionID, "quantity", req.Quantity, "location_id", locationID)
	jsonResponse(w, http.StatusCreated, movementResponse{Item: item, History: entry})
}

// Issue handles POST /api/items/{id}/issue.
func (h *LedgerHandler) Issue(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req issueRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	actor, _ := GetActor(r.Context())

	item, entry, err := store.Issue(r.Context(), h.DB, actor, id, req.TechnicianID, quantityOrOne(req.Quantity))
	if err != nil {
		storeError(w, r, err, "issue item")
		return
	}

	slog.Info("item issued", "by", actor.UserID, "item_id", id, "technician_id", req.TechnicianID, "quantity", quantityOrOne(req.Quantity))
	jsonResponse(w, http.StatusOK, movementResponse{Item: item, History: entry})
}

// Return handles POST /api/items/{id}/return.
func (h *LedgerHandler) Return(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req returnRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	actor, _ := GetActor(r.Context())
	locationID, err := store.ResolveLocation(r.Context(), h.DB, actor, req.LocationID)
	if err != nil {
		storeError(w, r, err, "resolve location")
		return
	}

	item, entry, err := store.ReturnToLocation(r.Context(), h.DB, actor, id, locationID, quantityOrOne(req.Quantity))
	if err != nil {
		storeError(w, r, err, "return item")
		return
	}

	slog.Info("item returned", "by", actor.UserID, "item_id", id, "location_id", locationID)
	jsonResponse(w, http.StatusOK, movementResponse{Item: item, History: entry})
}

// ReturnToOperator handles POST /api/operator-returns.
func (h *LedgerHandler) ReturnToOperator(w http.ResponseWriter, r *http.Request) {
	var req operatorReturnRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	actor, _ := GetActor(r.Context())
	locationID, err := store.ResolveLocation(r.Context(), h.DB, actor, req.LocationID)
	if err != nil {
		storeError(w, r, err, "resolve location")
		return
	}

	lines := make([]store.OperatorReturn, len(req.Lines))
	for i, l := range req.Lines {
		lines[i] = store.OperatorReturn{ItemID: l.ItemID, Quantity: quantityOrOne(l.Quantity)}
	}
	ids, err := store.ReturnToOperator(r.Context(), h.DB, actor, locationID, lines)
	if err != nil {
		storeError(w, r, err, "return to operator")
		return
	}

	slog.Info("stock returned to operator", "by", actor.UserID, "location_id", locationID, "lines", len(lines))
	jsonResponse(w, http.StatusOK, historyIDsResponse{HistoryIDs: ids})
}

// LocationStock handles GET /api/stock. Technicians see their own location;
// others pass location_id unless they have exactly one.
func (h *LedgerHandler) LocationStock(w http.ResponseWriter, r *http.Request) {
	explicit, ok := queryID(w, r, "location_id")
	if !ok {
		return
	}
	actor, _ := GetActor(r.Context())
	locationID, err := store.ResolveLocation(r.Context(), h.DB, actor, explicit)
	if err != nil {
		storeError(w, r, err, "resolve location")
		return
	}

	items, err := store.ListLocationStock(r.Context(), h.DB, locationID)
	if err != nil {
		storeError(w, r, err, "list stock")
		return
	}
	jsonResponse(w, http.StatusOK, nonNil(items))
}

// TechnicianStock handles GET /api/technicians/{id}/stock. Technicians may
// only look at their own.
func (h *LedgerHandler) TechnicianStock(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	actor, _ := GetActor(r.Context())
	if actor.IsTechnician() && actor.UserID != id {
		jsonError(w, http.StatusForbidden, "technicians can only view their own stock")
		return
	}

	items, err := store.ListTechnicianStock(r.Context(), h.DB, id)
	if err != nil {
		storeError(w, r, err, "list stock")
		return
	}
	jsonResponse(w, http.StatusOK, nonNil(items))
}

// Get handles GET /api/items/{id}.
func (h *LedgerHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	item, err := store.GetItem(r.Context(), h.DB, id)
	if err != nil {
		storeError(w, r, err, "get item")
		return
	}
	if item == nil {
		jsonError(w, http.StatusNotFound, "item not found")
		return
	}
	jsonResponse(w, http.StatusOK, item)
}

// History handles GET /api/items/{id}/history.
func (h *LedgerHandler) History(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	entries, err := store.ListItemHistory(r.Context(), h.DB, id)
	if err != nil {
		storeError(w, r, err, "get history")
		return
	}
	jsonResponse(w, http.StatusOK, nonNil(entries))
}

// UploadPhoto handles PUT /api/items/{id}/photo. The body is the raw image.
func (h *LedgerHandler) UploadPhoto(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	defer r.Body.Close()

	photo, err := imaging.Normalize(r.Body)
	if errors.Is(err, imaging.ErrTooLarge) {
		jsonError(w, http.StatusRequestEntityTooLarge, err.Error())
		return
	}
	if err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}

	actor, _ := GetActor(r.Context())
	if err := store.SetItemPhoto(r.Context(), h.DB, actor, id, photo.Data, photo.MIME); err != nil {
		storeError(w, r, err, "store photo")
		return
	}

	slog.Info("device photo stored", "by", actor.UserID, "item_id", id, "width", photo.Width, "height", photo.Height)
	w.WriteHeader(http.StatusNoContent)
}

// GetPhoto handles GET /api/items/{id}/photo.
func (h *LedgerHandler) GetPhoto(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	data, mime, err := store.GetItemPhoto(r.Context(), h.DB, id)
	if err != nil {
		storeError(w, r, err, "get photo")
		return
	}
	if data == nil {
		jsonError(w, http.StatusNotFound, "no photo")
		return
	}

	w.Header().Set("Content-Type", mime)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.Write(data)
}
