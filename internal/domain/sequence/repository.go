package sequence

import (
	"context"

	"seqkeeper/internal/core/id"
)

// ListFilter contains filtering options for List.
type ListFilter struct {
	// Search matches code or name, case-insensitive.
	Search string

	// ResetMode limits results to one cadence when set.
	ResetMode *ResetMode

	Limit  int
	Offset int
}

// DefaultListFilter returns sensible defaults.
func DefaultListFilter() ListFilter {
	return ListFilter{Limit: 50}
}

// ListResult contains paginated results.
type ListResult struct {
	Items      []*Sequence `json:"items"`
	TotalCount int64       `json:"totalCount"`
	Limit      int         `json:"limit"`
	Offset     int         `json:"offset"`
}

// Repository defines persistence for sequences.
//
// Allocate, SetNextValue and ResetNextValue must each be a single atomic
// update of next_value; implementations never read the counter, modify it
// in memory and write it back.
type Repository interface {
	Create(ctx context.Context, seq *Sequence) error
	GetByID(ctx context.Context, seqID id.ID) (*Sequence, error)
	GetByCode(ctx context.Context, code string) (*Sequence, error)
	List(ctx context.Context, filter ListFilter) (ListResult, error)

	// FindAll returns every sequence with no filtering.
	FindAll(ctx context.Context) ([]*Sequence, error)

	// Update changes the definition fields, never next_value.
	// Returns a concurrent modification error when Version is stale.
	Update(ctx context.Context, seq *Sequence) error

	Delete(ctx context.Context, seqID id.ID) error

	// Allocate returns the current next_value of the sequence identified by
	// code and advances it by step in the same statement.
	Allocate(ctx context.Context, code string) (seq *Sequence, value int64, err error)

	// SetNextValue overwrites next_value and returns the previous value.
	SetNextValue(ctx context.Context, seqID id.ID, value int64) (previous int64, err error)

	// ResetNextValue sets next_value to 1 and returns the previous value.
	ResetNextValue(ctx context.Context, seqID id.ID) (previous int64, err error)
}
