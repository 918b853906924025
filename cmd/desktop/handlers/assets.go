package handlers

import (
	"net/http"

	"github.com/kimhsiao/fitsync/internal/bridge"
)

// AssetHandler handles the upload queue.
type AssetHandler struct {
	core *bridge.Bridge
}

// NewAssetHandler creates a new AssetHandler.
func NewAssetHandler(core *bridge.Bridge) *AssetHandler {
	return &AssetHandler{core: core}
}

// List handles GET /api/assets
func (h *AssetHandler) List(w http.ResponseWriter, r *http.Request) {
	out, err := h.core.AssetList()
	if err != nil {
		writeError(w, err)
		return
	}
	writeRaw(w, http.StatusOK, out)
}

// Add handles POST /api/assets
func (h *AssetHandler) Add(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeError(w, err)
		return
	}
	out, err := h.core.AssetAdd(r.Context(), body)
	if err != nil {
		writeError(w, err)
		return
	}
	writeRaw(w, http.StatusCreated, out)
}

// Retry handles POST /api/assets/{id}/retry
func (h *AssetHandler) Retry(w http.ResponseWriter, r *http.Request) {
	if err := h.core.AssetRetry(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Remove handles DELETE /api/assets/{id}
func (h *AssetHandler) Remove(w http.ResponseWriter, r *http.Request) {
	if err := h.core.AssetRemove(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
