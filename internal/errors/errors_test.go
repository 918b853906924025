package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		appError *AppError
		want     string
	}{
		{
			name:     "error without underlying error",
			appError: &AppError{Code: ErrInternal, Message: "something failed"},
			want:     "[INTERNAL_ERROR] something failed",
		},
		{
			name:     "error with underlying error",
			appError: &AppError{Code: ErrDatabase, Message: "query failed", Err: errors.New("disk full")},
			want:     "[DATABASE_ERROR] query failed: disk full",
		},
		{
			name:     "connectivity error",
			appError: &AppError{Code: ErrConnectivity, Message: "push timed out"},
			want:     "[CONNECTIVITY] push timed out",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.appError.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestWrap(t *testing.T) {
	underlying := errors.New("underlying")

	err := Wrap(ErrDatabase, "query failed", underlying)
	if err.Code != ErrDatabase {
		t.Errorf("Wrap() code = %q, want %q", err.Code, ErrDatabase)
	}
	if !errors.Is(err, underlying) {
		t.Error("Wrap() should keep the underlying error in the chain")
	}
}

func TestNewf(t *testing.T) {
	err := Newf(ErrNotFound, "clients/%s", "abc")
	if err.Message != "clients/abc" {
		t.Errorf("Newf() message = %q", err.Message)
	}
}

func TestIs(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code ErrorCode
		want bool
	}{
		{"matching AppError", New(ErrNotFound, "x"), ErrNotFound, true},
		{"non-matching AppError", New(ErrNotFound, "x"), ErrInternal, false},
		{"non-AppError", errors.New("plain"), ErrInternal, false},
		{"nil error", nil, ErrInternal, false},
		{"fmt wrapped", fmt.Errorf("ctx: %w", New(ErrConnectivity, "x")), ErrConnectivity, true},
		{"nested AppError", Wrap(ErrSyncFailed, "cycle", New(ErrConnectivity, "x")), ErrConnectivity, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Is(tt.err, tt.code); got != tt.want {
				t.Errorf("Is() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCode(t *testing.T) {
	if got := Code(fmt.Errorf("x: %w", New(ErrServerRejection, "bad"))); got != ErrServerRejection {
		t.Errorf("Code() = %q, want %q", got, ErrServerRejection)
	}
	if got := Code(errors.New("plain")); got != ErrInternal {
		t.Errorf("Code() = %q, want %q", got, ErrInternal)
	}
}

func TestHelpers(t *testing.T) {
	if !IsNotFound(New(ErrNotFound, "x")) {
		t.Error("IsNotFound() = false")
	}
	if !IsConnectivity(Wrap(ErrConnectivity, "x", errors.New("timeout"))) {
		t.Error("IsConnectivity() = false")
	}
	if IsConnectivity(New(ErrDatabase, "x")) {
		t.Error("IsConnectivity() = true for database error")
	}
}

func TestErrorCodes_areUnique(t *testing.T) {
	codes := []ErrorCode{
		ErrInternal, ErrInvalid, ErrNotFound,
		ErrDatabase, ErrMigration,
		ErrConnectivity, ErrServerRejection, ErrSyncFailed, ErrSyncCancelled, ErrWriterClaimed,
		ErrAssetUploadFailed,
	}

	seen := make(map[ErrorCode]bool)
	for _, code := range codes {
		if seen[code] {
			t.Errorf("ErrorCode %q is duplicated", code)
		}
		seen[code] = true
	}
}
