package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/kimhsiao/fitsync/internal/bridge"
	apperrors "github.com/kimhsiao/fitsync/internal/errors"
)

// SyncHandler handles sync operations and lifecycle signals.
type SyncHandler struct {
	core *bridge.Bridge
}

// NewSyncHandler creates a new SyncHandler.
func NewSyncHandler(core *bridge.Bridge) *SyncHandler {
	return &SyncHandler{core: core}
}

// SyncNow handles POST /api/sync
// Blocks until the cycle finishes and returns its result.
func (h *SyncHandler) SyncNow(w http.ResponseWriter, r *http.Request) {
	out, err := h.core.SyncNow(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeRaw(w, http.StatusOK, out)
}

// Refresh handles POST /api/sync/refresh
func (h *SyncHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	if err := h.core.Refresh(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{"status": "triggered"})
}

// Reset handles POST /api/sync/reset
func (h *SyncHandler) Reset(w http.ResponseWriter, r *http.Request) {
	if err := h.core.Reset(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{"status": "cancelled"})
}

// Status handles GET /api/sync/status
func (h *SyncHandler) Status(w http.ResponseWriter, r *http.Request) {
	out, err := h.core.Status()
	if err != nil {
		writeError(w, err)
		return
	}
	writeRaw(w, http.StatusOK, out)
}

// SetOnline handles PUT /api/sync/online with {"online": bool}.
func (h *SyncHandler) SetOnline(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Online *bool `json:"online"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Online == nil {
		writeError(w, apperrors.New(apperrors.ErrInvalid, `body must be {"online": true|false}`))
		return
	}
	if err := h.core.SetOnline(*req.Online); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetForeground handles PUT /api/sync/foreground with {"foreground": bool}.
func (h *SyncHandler) SetForeground(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Foreground *bool `json:"foreground"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Foreground == nil {
		writeError(w, apperrors.New(apperrors.ErrInvalid, `body must be {"foreground": true|false}`))
		return
	}
	if err := h.core.SetForeground(*req.Foreground); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Conflicts handles GET /api/sync/conflicts?limit=N
func (h *SyncHandler) Conflicts(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	out, err := h.core.Conflicts(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeRaw(w, http.StatusOK, out)
}
