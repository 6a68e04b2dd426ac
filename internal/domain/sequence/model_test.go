package sequence

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"seqkeeper/internal/core/apperror"
)

func TestParseResetMode(t *testing.T) {
	tests := map[string]ResetMode{
		"monthly":  ResetMonthly,
		"MONTHLY":  ResetMonthly,
		" monthly": ResetMonthly,
		"yearly":   ResetYearly,
		"Yearly":   ResetYearly,
		"month":    ResetNone,
		"year":     ResetNone,
		"none":     ResetNone,
		"never":    ResetNone,
		"":         ResetNone,
		"weekly":   ResetNone,
		"garbage!": ResetNone,
	}

	for in, want := range tests {
		assert.Equal(t, want, ParseResetMode(in), "input %q", in)
	}
}

func TestSequence_Validate(t *testing.T) {
	ctx := context.Background()

	valid := NewSequence("INV", "Customer invoices")
	assert.NoError(t, valid.Validate(ctx))

	tests := []struct {
		name   string
		mutate func(s *Sequence)
		field  string
	}{
		{"empty code", func(s *Sequence) { s.Code = "  " }, "code"},
		{"empty name", func(s *Sequence) { s.Name = "" }, "name"},
		{"negative padding", func(s *Sequence) { s.Padding = -1 }, "padding"},
		{"huge padding", func(s *Sequence) { s.Padding = 33 }, "padding"},
		{"zero step", func(s *Sequence) { s.Step = 0 }, "step"},
		{"zero next", func(s *Sequence) { s.NextValue = 0 }, "nextValue"},
		{"bad mode", func(s *Sequence) { s.ResetMode = "weekly" }, "resetMode"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSequence("INV", "Customer invoices")
			tt.mutate(s)

			err := s.Validate(ctx)
			appErr, ok := apperror.AsAppError(err)
			if assert.True(t, ok, "expected AppError, got %v", err) {
				assert.Equal(t, apperror.CodeValidation, appErr.Code)
				assert.Equal(t, tt.field, appErr.Details["field"])
			}
		})
	}
}
