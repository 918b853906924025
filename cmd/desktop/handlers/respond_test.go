package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	apperrors "github.com/kimhsiao/fitsync/internal/errors"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{apperrors.New(apperrors.ErrInvalid, "bad"), http.StatusBadRequest},
		{apperrors.New(apperrors.ErrNotFound, "gone"), http.StatusNotFound},
		{apperrors.New(apperrors.ErrConnectivity, "offline"), http.StatusServiceUnavailable},
		{apperrors.New(apperrors.ErrServerRejection, "1 item(s) rejected"), http.StatusBadGateway},
		{apperrors.New(apperrors.ErrSyncCancelled, "sync cancelled"), http.StatusConflict},
		{apperrors.New(apperrors.ErrDatabase, "disk"), http.StatusInternalServerError},
		{context.Canceled, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := StatusFor(tt.err); got != tt.want {
			t.Errorf("StatusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestWriteError(t *testing.T) {
	w := httptest.NewRecorder()
	writeError(w, apperrors.New(apperrors.ErrNotFound, "clients/c1 not found"))

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	if body := w.Body.String(); body != `{"code":"NOT_FOUND","message":"clients/c1 not found"}` {
		t.Errorf("body = %s", body)
	}
}
