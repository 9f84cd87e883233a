package api

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/erazemk/fieldstock/internal/model"
	"github.com/erazemk/fieldstock/internal/store"
)

// BatchesHandler handles location-to-location transfer batches.
type BatchesHandler struct {
	DB *sql.DB
}

type createBatchRequest struct {
	FromLocationID *int64                 `json:"from_location_id"`
	ToLocationID   int64                  `json:"to_location_id" validate:"required,gt=0"`
	Notes          string                 `json:"notes"`
	DeviceIDs      []int64                `json:"device_ids" validate:"dive,gt=0"`
	Materials      []batchMaterialRequest `json:"materials" validate:"dive"`
}

type batchMaterialRequest struct {
	DefinitionID int64 `json:"definition_id" validate:"required,gt=0"`
	Quantity     int   `json:"quantity" validate:"required,gt=0"`
}

type confirmBatchResponse struct {
	Batch      *model.TransferBatch `json:"batch"`
	HistoryIDs []int64              `json:"history_ids"`
}

// Create handles POST /api/batches.
func (h *BatchesHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createBatchRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.DeviceIDs) == 0 && len(req.Materials) == 0 {
		jsonError(w, http.StatusBadRequest, "a batch needs at least one device or material")
		return
	}

	actor, _ := GetActor(r.Context())
	from, err := store.ResolveLocation(r.Context(), h.DB, actor, req.FromLocationID)
	if err != nil {
		storeError(w, r, err, "resolve location")
		return
	}

	in := store.NewBatch{
		FromLocationID: from,
		ToLocationID:   req.ToLocationID,
		Notes:          req.Notes,
		DeviceIDs:      req.DeviceIDs,
	}
	for _, m := range req.Materials {
		in.Materials = append(in.Materials, store.BatchMaterial{DefinitionID: m.DefinitionID, Quantity: m.Quantity})
	}

	batch, err := store.CreateBatch(r.Context(), h.DB, actor, in)
	if err != nil {
		storeError(w, r, err, "create batch")
		return
	}

	slog.Info("batch requested", "by", actor.UserID, "batch", batch.Number, "from", from, "to", req.ToLocationID, "lines", len(batch.Lines))
	jsonResponse(w, http.StatusCreated, batch)
}

// List handles GET /api/batches. Batches touching the resolved location are
// listed, optionally filtered by status.
func (h *BatchesHandler) List(w http.ResponseWriter, r *http.Request) {
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

	batches, err := store.ListBatches(r.Context(), h.DB, locationID, r.URL.Query().Get("status"))
	if err != nil {
		storeError(w, r, err, "list batches")
		return
	}
	jsonResponse(w, http.StatusOK, nonNil(batches))
}

// Get handles GET /api/batches/{id}.
func (h *BatchesHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	batch, err := store.GetBatch(r.Context(), h.DB, id)
	if err != nil {
		storeError(w, r, err, "get batch")
		return
	}
	if batch == nil {
		jsonError(w, http.StatusNotFound, "batch not found")
		return
	}
	jsonResponse(w, http.StatusOK, batch)
}

// Confirm handles POST /api/batches/{id}/confirm.
func (h *BatchesHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	actor, _ := GetActor(r.Context())

	batch, ids, err := store.ConfirmBatch(r.Context(), h.DB, actor, id)
	if err != nil {
		storeError(w, r, err, "confirm batch")
		return
	}

	slog.Info("batch received", "by", actor.UserID, "batch", batch.Number, "entries", len(ids))
	jsonResponse(w, http.StatusOK, confirmBatchResponse{Batch: batch, HistoryIDs: nonNil(ids)})
}

// Reject handles POST /api/batches/{id}/reject.
func (h *BatchesHandler) Reject(w http.ResponseWriter, r *http.Request) {
	h.unwind(w, r, "reject", store.RejectBatch)
}

// Cancel handles POST /api/batches/{id}/cancel.
func (h *BatchesHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.unwind(w, r, "cancel", store.CancelBatch)
}

func (h *BatchesHandler) unwind(w http.ResponseWriter, r *http.Request, action string,
	fn func(context.Context, *sql.DB, model.Actor, int64) (*model.TransferBatch, error),
) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	actor, _ := GetActor(r.Context())

	batch, err := fn(r.Context(), h.DB, actor, id)
	if err != nil {
		storeError(w, r, err, action+" batch")
		return
	}

	slog.Info("batch "+batch.Status, "by", actor.UserID, "batch", batch.Number)
	jsonResponse(w, http.StatusOK, batch)
}
