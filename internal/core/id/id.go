// Package id generates and parses sequence identifiers.
package id

import (
	"github.com/google/uuid"
)

// ID identifies a sequence. UUIDv7 keeps ids ordered by creation time.
type ID = uuid.UUID

// New returns a fresh UUIDv7, falling back to v4 if the clock source fails.
func New() ID {
	v, err := uuid.NewV7()
	if err != nil {
		return uuid.New()
	}
	return v
}

// Parse converts a string to an ID.
func Parse(s string) (ID, error) {
	return uuid.Parse(s)
}

// MustParse is Parse that panics. Tests only.
func MustParse(s string) ID {
	return uuid.MustParse(s)
}

// Nil returns the zero ID.
func Nil() ID {
	return uuid.Nil
}

// IsNil reports whether v is the zero ID.
func IsNil(v ID) bool {
	return v == uuid.Nil
}
