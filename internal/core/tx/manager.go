// Package tx defines the transaction boundary used by domain services.
package tx

import (
	"context"
)

// Manager runs a function inside one database transaction.
// The implementation lives in infrastructure/storage/postgres.
type Manager interface {
	// RunInTransaction commits when fn returns nil and rolls back otherwise.
	// A call made while a transaction is already in ctx joins it.
	RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// ReadOnlyManager adds read-only transactions for consistent multi-query reads.
type ReadOnlyManager interface {
	Manager
	ReadOnly(ctx context.Context, fn func(ctx context.Context) error) error
}
