// Package uuid generates and validates record and asset identifiers.
package uuid

import (
	"regexp"

	"github.com/google/uuid"

	apperrors "github.com/kimhsiao/fitsync/internal/errors"
)

// xxxxxxxx-xxxx-4xxx-yxxx-xxxxxxxxxxxx, y in [89ab]
var v4Pattern = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-4[0-9a-fA-F]{3}-[89abAB][0-9a-fA-F]{3}-[0-9a-fA-F]{12}$`)

// New generates a new UUID v4 string.
func New() string {
	return uuid.New().String()
}

// OrNew returns id unchanged, or a fresh UUID when id is empty.
func OrNew(id string) string {
	if id == "" {
		return New()
	}
	return id
}

// Parse parses s and requires it to be a version 4 UUID.
func Parse(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, apperrors.Wrap(apperrors.ErrInvalid, "invalid UUID", err)
	}
	if id.Version() != 4 {
		return uuid.Nil, apperrors.Newf(apperrors.ErrInvalid, "expected UUID v4, got v%d", id.Version())
	}
	return id, nil
}

// IsValid checks if a string is a dashed UUID v4 with correct variant bits.
func IsValid(s string) bool {
	return v4Pattern.MatchString(s)
}

// Validate returns an ErrInvalid error if s is not a valid UUID v4.
func Validate(s string) error {
	if !IsValid(s) {
		return apperrors.Newf(apperrors.ErrInvalid, "invalid UUID v4 format: %q", s)
	}
	return nil
}
