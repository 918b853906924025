package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/kimhsiao/fitsync/internal/bridge"
	apperrors "github.com/kimhsiao/fitsync/internal/errors"
	"github.com/kimhsiao/fitsync/internal/models"
)

const maxBodyBytes = 1 << 20

// RecordHandler handles record CRUD for every collection.
type RecordHandler struct {
	core *bridge.Bridge
}

// NewRecordHandler creates a new RecordHandler.
func NewRecordHandler(core *bridge.Bridge) *RecordHandler {
	return &RecordHandler{core: core}
}

func readBody(r *http.Request) (string, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return "", apperrors.Wrap(apperrors.ErrInvalid, "failed to read request body", err)
	}
	return string(body), nil
}

// List handles GET /api/records/{collection}
// Query parameters limit, include_deleted and status (comma separated) are
// reserved; any other parameter filters by field equality.
func (h *RecordHandler) List(w http.ResponseWriter, r *http.Request) {
	var filter bridge.ListFilter
	for key, values := range r.URL.Query() {
		value := values[0]
		switch key {
		case "limit":
			filter.Limit, _ = strconv.Atoi(value)
		case "include_deleted":
			filter.IncludeDeleted, _ = strconv.ParseBool(value)
		case "status":
			for _, s := range strings.Split(value, ",") {
				filter.Status = append(filter.Status, models.SyncStatus(strings.TrimSpace(s)))
			}
		default:
			if filter.Where == nil {
				filter.Where = make(map[string]interface{})
			}
			filter.Where[key] = value
		}
	}
	encoded, _ := json.Marshal(filter)

	out, err := h.core.RecordList(r.Context(), r.PathValue("collection"), string(encoded))
	if err != nil {
		writeError(w, err)
		return
	}
	writeRaw(w, http.StatusOK, out)
}

// Create handles POST /api/records/{collection}
func (h *RecordHandler) Create(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeError(w, err)
		return
	}
	out, err := h.core.RecordCreate(r.Context(), r.PathValue("collection"), body)
	if err != nil {
		writeError(w, err)
		return
	}
	writeRaw(w, http.StatusCreated, out)
}

// Get handles GET /api/records/{collection}/{id}
func (h *RecordHandler) Get(w http.ResponseWriter, r *http.Request) {
	out, err := h.core.RecordGet(r.Context(), r.PathValue("collection"), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeRaw(w, http.StatusOK, out)
}

// Update handles PATCH /api/records/{collection}/{id}
func (h *RecordHandler) Update(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeError(w, err)
		return
	}
	out, err := h.core.RecordUpdate(r.Context(), r.PathValue("collection"), r.PathValue("id"), body)
	if err != nil {
		writeError(w, err)
		return
	}
	writeRaw(w, http.StatusOK, out)
}

// Delete handles DELETE /api/records/{collection}/{id}
func (h *RecordHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.core.RecordDelete(r.Context(), r.PathValue("collection"), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
