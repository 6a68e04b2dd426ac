package memory

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"seqkeeper/internal/core/apperror"
	"seqkeeper/internal/domain/sequence"
)

func TestSequenceStore_AllocateIsAtomic(t *testing.T) {
	ctx := context.Background()
	store := NewSequenceStore()
	seq := sequence.NewSequence("INV", "Invoices")
	require.NoError(t, store.Create(ctx, seq))

	const workers, perWorker = 8, 50
	var (
		mu   sync.Mutex
		seen = make(map[int64]bool)
		wg   sync.WaitGroup
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perWorker {
				_, v, err := store.Allocate(ctx, "INV")
				if !assert.NoError(t, err) {
					return
				}
				mu.Lock()
				seen[v] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, workers*perWorker)
	got, err := store.GetByCode(ctx, "INV")
	require.NoError(t, err)
	assert.Equal(t, int64(workers*perWorker+1), got.NextValue)
}

func TestSequenceStore_ResetReturnsPrevious(t *testing.T) {
	ctx := context.Background()
	store := NewSequenceStore()
	seq := sequence.NewSequence("INV", "Invoices")
	seq.NextValue = 57
	require.NoError(t, store.Create(ctx, seq))

	prev, err := store.ResetNextValue(ctx, seq.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(57), prev)

	got, err := store.GetByID(ctx, seq.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.NextValue)
}

func TestSequenceStore_UpdateKeepsCounter(t *testing.T) {
	ctx := context.Background()
	store := NewSequenceStore()
	seq := sequence.NewSequence("INV", "Invoices")
	require.NoError(t, store.Create(ctx, seq))
	_, _, err := store.Allocate(ctx, "INV")
	require.NoError(t, err)

	edit := *seq
	edit.Code = "INV2"
	edit.NextValue = 999
	require.NoError(t, store.Update(ctx, &edit))

	got, err := store.GetByCode(ctx, "INV2")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.NextValue)
	assert.Equal(t, 2, got.Version)

	_, err = store.GetByCode(ctx, "INV")
	appErr, ok := apperror.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperror.CodeNotFound, appErr.Code)

	err = store.Update(ctx, &edit)
	appErr, ok = apperror.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperror.CodeConcurrentModification, appErr.Code)
}

func TestSequenceStore_CreateDuplicate(t *testing.T) {
	ctx := context.Background()
	store := NewSequenceStore()
	require.NoError(t, store.Create(ctx, sequence.NewSequence("INV", "Invoices")))

	err := store.Create(ctx, sequence.NewSequence("INV", "Other"))
	appErr, ok := apperror.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperror.CodeDuplicate, appErr.Code)
}

func TestSequenceStore_ListResetModeFilter(t *testing.T) {
	ctx := context.Background()
	store := NewSequenceStore()
	for code, mode := range map[string]sequence.ResetMode{
		"M":     sequence.ResetMonthly,
		"Y":     sequence.ResetYearly,
		"N":     sequence.ResetNone,
		"MONTH": "month",
	} {
		seq := sequence.NewSequence(code, code)
		seq.ResetMode = mode
		require.NoError(t, store.Create(ctx, seq))
	}

	codes := func(mode sequence.ResetMode) []string {
		res, err := store.List(ctx, sequence.ListFilter{ResetMode: &mode})
		require.NoError(t, err)
		out := make([]string, 0, len(res.Items))
		for _, s := range res.Items {
			out = append(out, s.Code)
		}
		return out
	}

	assert.Equal(t, []string{"M"}, codes(sequence.ResetMonthly))
	assert.Equal(t, []string{"Y"}, codes(sequence.ResetYearly))
	assert.Equal(t, []string{"MONTH", "N"}, codes(sequence.ResetNone))
}
