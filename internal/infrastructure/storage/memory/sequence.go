// Package memory provides an in-memory sequence store for development and tests.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"seqkeeper/internal/core/apperror"
	"seqkeeper/internal/core/id"
	"seqkeeper/internal/domain/sequence"
)

// SequenceStore implements sequence.Repository in memory.
// All counter updates happen under one mutex.
type SequenceStore struct {
	mu     sync.RWMutex
	byID   map[id.ID]*sequence.Sequence
	byCode map[string]id.ID
}

var _ sequence.Repository = (*SequenceStore)(nil)

// NewSequenceStore creates an empty store.
func NewSequenceStore() *SequenceStore {
	return &SequenceStore{
		byID:   make(map[id.ID]*sequence.Sequence),
		byCode: make(map[string]id.ID),
	}
}

func clone(s *sequence.Sequence) *sequence.Sequence {
	c := *s
	return &c
}

// Create inserts a sequence.
func (m *SequenceStore) Create(_ context.Context, seq *sequence.Sequence) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byCode[seq.Code]; exists {
		return apperror.NewDuplicate("sequence", "code", seq.Code)
	}
	if _, exists := m.byID[seq.ID]; exists {
		return apperror.NewDuplicate("sequence", "id", seq.ID.String())
	}

	m.byID[seq.ID] = clone(seq)
	m.byCode[seq.Code] = seq.ID
	return nil
}

// GetByID retrieves a sequence by id.
func (m *SequenceStore) GetByID(_ context.Context, seqID id.ID) (*sequence.Sequence, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seq, ok := m.byID[seqID]
	if !ok {
		return nil, apperror.NewNotFound("sequence", seqID.String())
	}
	return clone(seq), nil
}

// GetByCode retrieves a sequence by code.
func (m *SequenceStore) GetByCode(_ context.Context, code string) (*sequence.Sequence, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seqID, ok := m.byCode[code]
	if !ok {
		return nil, apperror.NewNotFound("sequence", code)
	}
	return clone(m.byID[seqID]), nil
}

// List returns sequences ordered by code.
func (m *SequenceStore) List(_ context.Context, filter sequence.ListFilter) (sequence.ListResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	search := strings.ToLower(filter.Search)
	matched := make([]*sequence.Sequence, 0, len(m.byID))
	for _, seq := range m.byID {
		if search != "" &&
			!strings.Contains(strings.ToLower(seq.Code), search) &&
			!strings.Contains(strings.ToLower(seq.Name), search) {
			continue
		}
		if filter.ResetMode != nil && sequence.ParseResetMode(string(seq.ResetMode)) != *filter.ResetMode {
			continue
		}
		matched = append(matched, clone(seq))
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Code < matched[j].Code })

	result := sequence.ListResult{
		TotalCount: int64(len(matched)),
		Limit:      filter.Limit,
		Offset:     filter.Offset,
	}

	start := min(filter.Offset, len(matched))
	end := len(matched)
	if filter.Limit > 0 {
		end = min(start+filter.Limit, len(matched))
	}
	result.Items = matched[start:end]
	return result, nil
}

// FindAll returns every sequence ordered by code.
func (m *SequenceStore) FindAll(ctx context.Context) ([]*sequence.Sequence, error) {
	res, err := m.List(ctx, sequence.ListFilter{})
	if err != nil {
		return nil, err
	}
	return res.Items, nil
}

// Update changes definition fields with optimistic locking.
func (m *SequenceStore) Update(_ context.Context, seq *sequence.Sequence) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.byID[seq.ID]
	if !ok {
		return apperror.NewNotFound("sequence", seq.ID.String())
	}
	if current.Version != seq.Version {
		return apperror.NewConcurrentModification("sequence", seq.ID.String())
	}
	if owner, taken := m.byCode[seq.Code]; taken && owner != seq.ID {
		return apperror.NewDuplicate("sequence", "code", seq.Code)
	}

	updated := clone(seq)
	updated.NextValue = current.NextValue
	updated.CreatedAt = current.CreatedAt
	updated.Version = current.Version + 1

	delete(m.byCode, current.Code)
	m.byCode[updated.Code] = updated.ID
	m.byID[updated.ID] = updated
	return nil
}

// Delete removes a sequence.
func (m *SequenceStore) Delete(_ context.Context, seqID id.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	seq, ok := m.byID[seqID]
	if !ok {
		return apperror.NewNotFound("sequence", seqID.String())
	}
	delete(m.byCode, seq.Code)
	delete(m.byID, seqID)
	return nil
}

// Allocate returns next_value and advances it by step.
func (m *SequenceStore) Allocate(_ context.Context, code string) (*sequence.Sequence, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	seqID, ok := m.byCode[code]
	if !ok {
		return nil, 0, apperror.NewNotFound("sequence", code)
	}
	seq := m.byID[seqID]
	value := seq.NextValue
	seq.NextValue += seq.Step
	return clone(seq), value, nil
}

// SetNextValue overwrites next_value.
func (m *SequenceStore) SetNextValue(_ context.Context, seqID id.ID, value int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	seq, ok := m.byID[seqID]
	if !ok {
		return 0, apperror.NewNotFound("sequence", seqID.String())
	}
	previous := seq.NextValue
	seq.NextValue = value
	return previous, nil
}

// ResetNextValue sets next_value to 1.
func (m *SequenceStore) ResetNextValue(ctx context.Context, seqID id.ID) (int64, error) {
	return m.SetNextValue(ctx, seqID, 1)
}
