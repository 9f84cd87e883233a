package api

import (
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/erazemk/fieldstock/internal/store"
)

// LocationsHandler handles warehouse locations and material definitions.
type LocationsHandler struct {
	DB *sql.DB
}

type createLocationRequest struct {
	Name string `json:"name" validate:"required"`
}

type createDefinitionRequest struct {
	Name      string          `json:"name" validate:"required"`
	Category  string          `json:"category"`
	IndexCode string          `json:"index_code"`
	Unit      string          `json:"unit"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// List handles GET /api/locations.
func (h *LocationsHandler) List(w http.ResponseWriter, r *http.Request) {
	locations, err := store.ListLocations(r.Context(), h.DB)
	if err != nil {
		storeError(w, r, err, "list locations")
		return
	}
	jsonResponse(w, http.StatusOK, nonNil(locations))
}

// Create handles POST /api/locations.
func (h *LocationsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createLocationRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	loc, err := store.CreateLocation(r.Context(), h.DB, req.Name)
	if err != nil {
		storeError(w, r, err, "create location")
		return
	}
	slog.Info("location created", "by", GetClaims(r.Context()).Username, "location_id", loc.ID, "name", loc.Name)
	jsonResponse(w, http.StatusCreated, loc)
}

// Delete handles DELETE /api/locations/{id}.
func (h *LocationsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := store.DeleteLocation(r.Context(), h.DB, id); err != nil {
		storeError(w, r, err, "delete location")
		return
	}
	slog.Info("location deleted", "by", GetClaims(r.Context()).Username, "location_id", id)
	w.WriteHeader(http.StatusNoContent)
}

// ListDefinitions handles GET /api/materials.
func (h *LocationsHandler) ListDefinitions(w http.ResponseWriter, r *http.Request) {
	defs, err := store.ListMaterialDefinitions(r.Context(), h.DB)
	if err != nil {
		storeError(w, r, err, "list materials")
		return
	}
	jsonResponse(w, http.StatusOK, nonNil(defs))
}

// CreateDefinition handles POST /api/materials.
func (h *LocationsHandler) CreateDefinition(w http.ResponseWriter, r *http.Request) {
	var req createDefinitionRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	def, err := store.CreateMaterialDefinition(r.Context(), h.DB,
		req.Name, req.Category, req.IndexCode, req.Unit, req.UnitPrice)
	if err != nil {
		storeError(w, r, err, "create material")
		return
	}
	slog.Info("material defined", "by", GetClaims(r.Context()).Username, "definition_id", def.ID, "name", def.Name)
	jsonResponse(w, http.StatusCreated, def)
}
