package sequence_test

import (
	"context"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"seqkeeper/internal/core/apperror"
	appctx "seqkeeper/internal/core/context"
	"seqkeeper/internal/core/id"
	"seqkeeper/internal/core/security"
	"seqkeeper/internal/domain/sequence"
	"seqkeeper/internal/infrastructure/storage/memory"
	"seqkeeper/pkg/logger"
)

func adminCtx() context.Context {
	return appctx.WithUser(context.Background(), &appctx.UserContext{UserID: "admin", IsAdmin: true})
}

func userCtx(perms ...security.Permission) context.Context {
	p := make([]string, 0, len(perms))
	for _, perm := range perms {
		p = append(p, string(perm))
	}
	return appctx.WithUser(context.Background(), &appctx.UserContext{UserID: "u1", Permissions: p})
}

func newService(t *testing.T) (*sequence.Service, *memory.SequenceStore, *recordingAuditor) {
	t.Helper()
	store := memory.NewSequenceStore()
	auditor := &recordingAuditor{}
	svc := sequence.NewService(sequence.ServiceConfig{
		Repo:    store,
		Auditor: auditor,
		Clock:   testclock.NewClock(time.Date(2024, time.March, 7, 10, 0, 0, 0, time.UTC)),
		Logger:  logger.NewNop(),
	})
	return svc, store, auditor
}

func TestService_Create(t *testing.T) {
	svc, store, auditor := newService(t)
	ctx := adminCtx()

	seq := &sequence.Sequence{Code: "  INV ", Name: "Invoices", Padding: 4}
	require.NoError(t, svc.Create(ctx, seq))

	assert.False(t, id.IsNil(seq.ID))
	assert.Equal(t, "INV", seq.Code)
	assert.Equal(t, int64(1), seq.Step)
	assert.Equal(t, int64(1), seq.NextValue)
	assert.Equal(t, sequence.ResetNone, seq.ResetMode)
	assert.Equal(t, 1, seq.Version)

	stored, err := store.GetByCode(ctx, "INV")
	require.NoError(t, err)
	assert.Equal(t, seq.ID, stored.ID)

	require.Len(t, auditor.changes, 1)
	assert.Equal(t, sequence.ActionCreate, auditor.changes[0].Action)
}

func TestService_Create_Rejects(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := adminCtx()
	require.NoError(t, svc.Create(ctx, &sequence.Sequence{Code: "INV", Name: "Invoices"}))

	t.Run("duplicate code", func(t *testing.T) {
		err := svc.Create(ctx, &sequence.Sequence{Code: "INV", Name: "Other"})
		appErr, ok := apperror.AsAppError(err)
		require.True(t, ok)
		assert.Equal(t, apperror.CodeDuplicate, appErr.Code)
	})

	t.Run("invalid padding", func(t *testing.T) {
		err := svc.Create(ctx, &sequence.Sequence{Code: "X", Name: "X", Padding: 40})
		appErr, ok := apperror.AsAppError(err)
		require.True(t, ok)
		assert.Equal(t, apperror.CodeValidation, appErr.Code)
	})

	t.Run("missing permission", func(t *testing.T) {
		err := svc.Create(userCtx(security.PermissionSequenceRead), &sequence.Sequence{Code: "Y", Name: "Y"})
		assert.True(t, apperror.IsForbidden(err))
	})
}

func TestService_Next(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := adminCtx()

	seq := &sequence.Sequence{Code: "INV", Name: "Invoices", Prefix: "INV/{year}/", Padding: 4, Step: 10, NextValue: 7}
	require.NoError(t, svc.Create(ctx, seq))

	first, err := svc.Next(ctx, "INV", time.Time{})
	require.NoError(t, err)
	assert.Equal(t, "INV/2024/0007", first)

	second, err := svc.Next(ctx, "INV", time.Date(2025, time.January, 2, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, "INV/2025/0017", second)

	got, err := svc.Get(ctx, seq.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(27), got.NextValue)
}

func TestService_Next_UnknownCode(t *testing.T) {
	svc, _, _ := newService(t)

	_, err := svc.Next(adminCtx(), "MISSING", time.Time{})
	assert.True(t, apperror.IsNotFound(err))
}

func TestService_Next_RequiresPermission(t *testing.T) {
	svc, _, _ := newService(t)
	require.NoError(t, svc.Create(adminCtx(), &sequence.Sequence{Code: "INV", Name: "Invoices"}))

	_, err := svc.Next(userCtx(security.PermissionSequenceRead), "INV", time.Time{})
	assert.True(t, apperror.IsForbidden(err))

	_, err = svc.Next(userCtx(security.PermissionSequenceNext), "INV", time.Time{})
	assert.NoError(t, err)
}

func TestService_Update(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := adminCtx()

	seq := &sequence.Sequence{Code: "INV", Name: "Invoices", NextValue: 40}
	require.NoError(t, svc.Create(ctx, seq))

	edit := *seq
	edit.Name = "Sales invoices"
	edit.ResetMode = sequence.ResetYearly
	edit.NextValue = 1
	require.NoError(t, svc.Update(ctx, &edit))
	assert.Equal(t, 2, edit.Version)

	got, err := svc.Get(ctx, seq.ID)
	require.NoError(t, err)
	assert.Equal(t, "Sales invoices", got.Name)
	assert.Equal(t, sequence.ResetYearly, got.ResetMode)
	assert.Equal(t, int64(40), got.NextValue, "update must not move the counter")

	stale := *seq
	stale.Name = "Stale"
	err = svc.Update(ctx, &stale)
	assert.True(t, apperror.IsConcurrentModification(err))
}

func TestService_Update_CodeTaken(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := adminCtx()

	require.NoError(t, svc.Create(ctx, &sequence.Sequence{Code: "A", Name: "A"}))
	b := &sequence.Sequence{Code: "B", Name: "B"}
	require.NoError(t, svc.Create(ctx, b))

	b.Code = "A"
	err := svc.Update(ctx, b)
	appErr, ok := apperror.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperror.CodeDuplicate, appErr.Code)
}

func TestService_Delete(t *testing.T) {
	svc, _, auditor := newService(t)
	ctx := adminCtx()

	seq := &sequence.Sequence{Code: "INV", Name: "Invoices"}
	require.NoError(t, svc.Create(ctx, seq))
	require.NoError(t, svc.Delete(ctx, seq.ID))

	_, err := svc.Get(ctx, seq.ID)
	assert.True(t, apperror.IsNotFound(err))
	assert.Equal(t, sequence.ActionDelete, auditor.changes[len(auditor.changes)-1].Action)
}

func TestService_SetNextValue(t *testing.T) {
	svc, _, auditor := newService(t)
	ctx := adminCtx()

	seq := &sequence.Sequence{Code: "INV", Name: "Invoices", NextValue: 12}
	require.NoError(t, svc.Create(ctx, seq))

	err := svc.SetNextValue(ctx, seq.ID, 0)
	appErr, ok := apperror.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperror.CodeValidation, appErr.Code)

	require.NoError(t, svc.SetNextValue(ctx, seq.ID, 500))
	got, err := svc.Get(ctx, seq.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(500), got.NextValue)

	last := auditor.changes[len(auditor.changes)-1]
	assert.Equal(t, sequence.ActionSetNext, last.Action)
	assert.Equal(t, int64(12), last.Previous)
	assert.Equal(t, int64(500), last.Current)
}

func TestService_List(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := adminCtx()

	for _, s := range []*sequence.Sequence{
		{Code: "INV", Name: "Invoices", ResetMode: sequence.ResetYearly},
		{Code: "ORD", Name: "Orders", ResetMode: sequence.ResetMonthly},
		{Code: "RCPT", Name: "Receipts"},
	} {
		require.NoError(t, svc.Create(ctx, s))
	}

	all, err := svc.List(ctx, sequence.ListFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), all.TotalCount)
	assert.Equal(t, 50, all.Limit)

	monthly := sequence.ResetMonthly
	onlyMonthly, err := svc.List(ctx, sequence.ListFilter{ResetMode: &monthly})
	require.NoError(t, err)
	require.Len(t, onlyMonthly.Items, 1)
	assert.Equal(t, "ORD", onlyMonthly.Items[0].Code)

	search, err := svc.List(ctx, sequence.ListFilter{Search: "rec"})
	require.NoError(t, err)
	require.Len(t, search.Items, 1)
	assert.Equal(t, "RCPT", search.Items[0].Code)

	paged, err := svc.List(ctx, sequence.ListFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, paged.Items, 1)
	assert.Equal(t, "ORD", paged.Items[0].Code)
	assert.Equal(t, int64(3), paged.TotalCount)
}
