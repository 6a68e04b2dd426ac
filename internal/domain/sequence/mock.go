package sequence

import (
	"context"

	"seqkeeper/internal/core/id"
)

// MockRepository is a test implementation of Repository.
// Calls go to the matching Func field when set, otherwise to Base.
type MockRepository struct {
	Base Repository

	FindAllFunc        func(ctx context.Context) ([]*Sequence, error)
	ResetNextValueFunc func(ctx context.Context, seqID id.ID) (int64, error)
	AllocateFunc       func(ctx context.Context, code string) (*Sequence, int64, error)
}

// Create implements Repository.
func (m *MockRepository) Create(ctx context.Context, seq *Sequence) error {
	return m.Base.Create(ctx, seq)
}

// GetByID implements Repository.
func (m *MockRepository) GetByID(ctx context.Context, seqID id.ID) (*Sequence, error) {
	return m.Base.GetByID(ctx, seqID)
}

// GetByCode implements Repository.
func (m *MockRepository) GetByCode(ctx context.Context, code string) (*Sequence, error) {
	return m.Base.GetByCode(ctx, code)
}

// List implements Repository.
func (m *MockRepository) List(ctx context.Context, filter ListFilter) (ListResult, error) {
	return m.Base.List(ctx, filter)
}

// FindAll implements Repository.
func (m *MockRepository) FindAll(ctx context.Context) ([]*Sequence, error) {
	if m.FindAllFunc != nil {
		return m.FindAllFunc(ctx)
	}
	return m.Base.FindAll(ctx)
}

// Update implements Repository.
func (m *MockRepository) Update(ctx context.Context, seq *Sequence) error {
	return m.Base.Update(ctx, seq)
}

// Delete implements Repository.
func (m *MockRepository) Delete(ctx context.Context, seqID id.ID) error {
	return m.Base.Delete(ctx, seqID)
}

// Allocate implements Repository.
func (m *MockRepository) Allocate(ctx context.Context, code string) (*Sequence, int64, error) {
	if m.AllocateFunc != nil {
		return m.AllocateFunc(ctx, code)
	}
	return m.Base.Allocate(ctx, code)
}

// SetNextValue implements Repository.
func (m *MockRepository) SetNextValue(ctx context.Context, seqID id.ID, value int64) (int64, error) {
	return m.Base.SetNextValue(ctx, seqID, value)
}

// ResetNextValue implements Repository.
func (m *MockRepository) ResetNextValue(ctx context.Context, seqID id.ID) (int64, error) {
	if m.ResetNextValueFunc != nil {
		return m.ResetNextValueFunc(ctx, seqID)
	}
	return m.Base.ResetNextValue(ctx, seqID)
}

// Ensure compile-time interface compliance.
var _ Repository = (*MockRepository)(nil)
