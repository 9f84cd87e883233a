package api

import (
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/erazemk/fieldstock/internal/model"
	"github.com/erazemk/fieldstock/internal/store"
)

// TransfersHandler handles technician-to-technician transfers.
type TransfersHandler struct {
	DB *sql.DB
}

type createTransferRequest struct {
	ItemID   int64 `json:"item_id" validate:"required,gt=0"`
	ToUserID int64 `json:"to_user_id" validate:"required,gt=0"`
	Quantity int   `json:"quantity" validate:"omitempty,gt=0"`
}

type confirmTransferResponse struct {
	Item    *model.Item         `json:"item"`
	History *model.HistoryEntry `json:"history"`
}

// Create handles POST /api/transfers.
func (h *TransfersHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createTransferRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	actor, _ := GetActor(r.Context())

	item, err := store.GetItem(r.Context(), h.DB, req.ItemID)
	if err != nil {
		storeError(w, r, err, "request transfer")
		return
	}
	if item == nil {
		jsonError(w, http.StatusNotFound, "item not found")
		return
	}

	var t *model.PendingTransfer
	if item.Kind == model.KindDevice {
		t, err = store.RequestDeviceTransfer(r.Context(), h.DB, actor, req.ItemID, req.ToUserID)
	} else {
		t, err = store.RequestMaterialTransfer(r.Context(), h.DB, actor, req.ItemID, req.ToUserID, quantityOrOne(req.Quantity))
	}
	if err != nil {
		storeError(w, r, err, "request transfer")
		return
	}

	slog.Info("transfer requested", "by", actor.UserID, "transfer_id", t.ID, "item_id", t.ItemID, "to", t.ToUserID, "quantity", t.Quantity)
	jsonResponse(w, http.StatusCreated, t)
}

// List handles GET /api/transfers. Technicians see their own transfers;
// others may pass user_id.
func (h *TransfersHandler) List(w http.ResponseWriter, r *http.Request) {
	actor, _ := GetActor(r.Context())
	userID := actor.UserID

	other, ok := queryID(w, r, "user_id")
	if !ok {
		return
	}
	if other != nil && *other != actor.UserID {
		if actor.IsTechnician() {
			jsonError(w, http.StatusForbidden, "technicians can only view their own transfers")
			return
		}
		userID = *other
	}

	status := r.URL.Query().Get("status")
	transfers, err := store.ListTransfers(r.Context(), h.DB, userID, status)
	if err != nil {
		storeError(w, r, err, "list transfers")
		return
	}
	jsonResponse(w, http.StatusOK, nonNil(transfers))
}

// Get handles GET /api/transfers/{id}.
func (h *TransfersHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	t, err := store.GetTransfer(r.Context(), h.DB, id)
	if err != nil {
		storeError(w, r, err, "get transfer")
		return
	}
	actor, _ := GetActor(r.Context())
	if t == nil || (actor.IsTechnician() && actor.UserID != t.FromUserID && actor.UserID != t.ToUserID) {
		jsonError(w, http.StatusNotFound, "transfer not found")
		return
	}
	jsonResponse(w, http.StatusOK, t)
}

// Confirm handles POST /api/transfers/{id}/confirm.
func (h *TransfersHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	actor, _ := GetActor(r.Context())

	item, entry, err := store.ConfirmTransfer(r.Context(), h.DB, actor, id)
	if err != nil {
		storeError(w, r, err, "confirm transfer")
		return
	}

	slog.Info("transfer confirmed", "by", actor.UserID, "transfer_id", id, "item_id", item.ID)
	jsonResponse(w, http.StatusOK, confirmTransferResponse{Item: item, History: entry})
}

// Reject handles POST /api/transfers/{id}/reject.
func (h *TransfersHandler) Reject(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	actor, _ := GetActor(r.Context())

	if err := store.RejectTransfer(r.Context(), h.DB, actor, id); err != nil {
		storeError(w, r, err, "reject transfer")
		return
	}
	slog.Info("transfer rejected", "by", actor.UserID, "transfer_id", id)
	w.WriteHeader(http.StatusNoContent)
}

// Cancel handles POST /api/transfers/{id}/cancel.
func (h *TransfersHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	actor, _ := GetActor(r.Context())

	if err := store.CancelTransfer(r.Context(), h.DB, actor, id); err != nil {
		storeError(w, r, err, "cancel transfer")
		return
	}
	slog.Info("transfer canceled", "by", actor.UserID, "transfer_id", id)
	w.WriteHeader(http.StatusNoContent)
}
