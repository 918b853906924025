// Package handlers provides the REST API of the desktop companion server.
// Every handler is a thin adapter over the bridge.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/kimhsiao/fitsync/internal/bridge"
	apperrors "github.com/kimhsiao/fitsync/internal/errors"
)

// writeRaw writes an already encoded JSON body.
func writeRaw(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write([]byte(body))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeRaw(w, StatusFor(err), bridge.EncodeError(err))
}

// StatusFor maps an error code onto an HTTP status.
func StatusFor(err error) int {
	switch apperrors.Code(err) {
	case apperrors.ErrInvalid:
		return http.StatusBadRequest
	case apperrors.ErrNotFound:
		return http.StatusNotFound
	case apperrors.ErrConnectivity:
		return http.StatusServiceUnavailable
	case apperrors.ErrServerRejection, apperrors.ErrSyncFailed:
		return http.StatusBadGateway
	case apperrors.ErrSyncCancelled:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
