// Package sequence provides named numeric sequences and their periodic reset policy.
package sequence

import (
	"context"
	"strings"
	"time"

	"seqkeeper/internal/core/apperror"
	"seqkeeper/internal/core/id"
)

// ResetMode is the cadence on which a sequence restarts at 1.
type ResetMode string

const (
	ResetNone    ResetMode = "none"
	ResetMonthly ResetMode = "monthly"
	ResetYearly  ResetMode = "yearly"
)

// ParseResetMode maps a stored or user supplied value to a ResetMode.
// Matching is case-insensitive. Anything other than monthly or yearly,
// including the empty string, maps to ResetNone.
func ParseResetMode(s string) ResetMode {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "monthly":
		return ResetMonthly
	case "yearly":
		return ResetYearly
	default:
		return ResetNone
	}
}

// IsValid reports whether m is one of the three known modes.
func (m ResetMode) IsValid() bool {
	switch m {
	case ResetNone, ResetMonthly, ResetYearly:
		return true
	}
	return false
}

const (
	maxPadding  = 32
	maxCodeLen  = 64
	entityName  = "sequence"
	defaultStep = 1
)

// Sequence is a named persisted counter used to number records.
type Sequence struct {
	ID   id.ID  `db:"id" json:"id"`
	Code string `db:"code" json:"code"`
	Name string `db:"name" json:"name"`

	// Prefix and Suffix may contain {year}, {y}, {month} and {day} placeholders.
	Prefix string `db:"prefix" json:"prefix"`
	Suffix string `db:"suffix" json:"suffix"`

	// Padding is the minimum width of the numeric part. Zero disables padding.
	Padding int `db:"padding" json:"padding"`

	// Step is added to NextValue on every allocation.
	Step int64 `db:"step" json:"step"`

	// NextValue is the number the next allocation will return.
	NextValue int64 `db:"next_value" json:"nextValue"`

	ResetMode ResetMode `db:"reset_mode" json:"resetMode"`

	// Version for optimistic locking of definition changes.
	Version int `db:"version" json:"version"`

	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// NewSequence creates a sequence starting at 1 that never resets.
func NewSequence(code, name string) *Sequence {
	now := time.Now().UTC()
	return &Sequence{
		ID:        id.New(),
		Code:      code,
		Name:      name,
		Padding:   5,
		Step:      defaultStep,
		NextValue: 1,
		ResetMode: ResetNone,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Validate checks sequence invariants.
func (s *Sequence) Validate(ctx context.Context) error {
	if strings.TrimSpace(s.Code) == "" {
		return apperror.NewValidation("code is required").
			WithDetail("field", "code")
	}
	if len(s.Code) > maxCodeLen {
		return apperror.NewValidation("code is too long").
			WithDetail("field", "code").
			WithDetail("max", maxCodeLen)
	}
	if strings.TrimSpace(s.Name) == "" {
		return apperror.NewValidation("name is required").
			WithDetail("field", "name")
	}
	if s.Padding < 0 || s.Padding > maxPadding {
		return apperror.NewValidation("padding out of range").
			WithDetail("field", "padding").
			WithDetail("max", maxPadding)
	}
	if s.Step < 1 {
		return apperror.NewValidation("step must be positive").
			WithDetail("field", "step")
	}
	if s.NextValue < 1 {
		return apperror.NewValidation("next value must be positive").
			WithDetail("field", "nextValue")
	}
	if !s.ResetMode.IsValid() {
		return apperror.NewValidation("invalid reset mode").
			WithDetail("field", "resetMode").
			WithDetail("value", string(s.ResetMode))
	}
	return nil
}
