package sequence_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appctx "seqkeeper/internal/core/context"
	"seqkeeper/internal/core/id"
	"seqkeeper/internal/core/security"
	"seqkeeper/internal/domain/sequence"
	"seqkeeper/internal/infrastructure/storage/memory"
	"seqkeeper/pkg/logger"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 23, 50, 0, 0, time.UTC)
}

func seed(t *testing.T, store *memory.SequenceStore, code string, mode sequence.ResetMode, next int64) *sequence.Sequence {
	t.Helper()
	seq := sequence.NewSequence(code, code)
	seq.ResetMode = mode
	seq.NextValue = next
	require.NoError(t, store.Create(context.Background(), seq))
	return seq
}

func nextValue(t *testing.T, store *memory.SequenceStore, seqID id.ID) int64 {
	t.Helper()
	seq, err := store.GetByID(context.Background(), seqID)
	require.NoError(t, err)
	return seq.NextValue
}

func newPolicy(repo sequence.Repository, opts ...func(*sequence.ResetPolicyConfig)) *sequence.ResetPolicy {
	cfg := sequence.ResetPolicyConfig{Repo: repo, Logger: logger.NewNop()}
	for _, o := range opts {
		o(&cfg)
	}
	return sequence.NewResetPolicy(cfg)
}

func TestShouldReset_Table(t *testing.T) {
	tests := []struct {
		name string
		mode sequence.ResetMode
		now  time.Time
		want bool
	}{
		{"monthly on last day of january", sequence.ResetMonthly, day(2024, time.January, 31), true},
		{"monthly on day before last", sequence.ResetMonthly, day(2024, time.January, 30), false},
		{"monthly on first of month", sequence.ResetMonthly, day(2024, time.February, 1), false},
		{"monthly on leap day", sequence.ResetMonthly, day(2024, time.February, 29), true},
		{"monthly on feb 28 of leap year", sequence.ResetMonthly, day(2024, time.February, 28), false},
		{"monthly on feb 28 of common year", sequence.ResetMonthly, day(2023, time.February, 28), true},
		{"monthly on dec 31", sequence.ResetMonthly, day(2024, time.December, 31), true},
		{"yearly on dec 31", sequence.ResetYearly, day(2024, time.December, 31), true},
		{"yearly on dec 30", sequence.ResetYearly, day(2024, time.December, 30), false},
		{"yearly on jan 31", sequence.ResetYearly, day(2024, time.January, 31), false},
		{"yearly on jan 1", sequence.ResetYearly, day(2025, time.January, 1), false},
		{"none on dec 31", sequence.ResetNone, day(2024, time.December, 31), false},
		{"unknown mode on dec 31", sequence.ResetMode("weekly"), day(2024, time.December, 31), false},
		{"empty mode on jan 31", sequence.ResetMode(""), day(2024, time.January, 31), false},
		{"month is not monthly", sequence.ResetMode("month"), day(2024, time.April, 30), false},
		{"year is not yearly", sequence.ResetMode("year"), day(2024, time.December, 31), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, sequence.ShouldReset(tt.mode, tt.now))
		})
	}
}

func TestShouldReset_WholeYear(t *testing.T) {
	monthly, yearly := 0, 0
	for d := day(2024, time.January, 1); d.Year() == 2024; d = d.AddDate(0, 0, 1) {
		lastOfMonth := d.AddDate(0, 0, 1).Day() == 1
		assert.Equal(t, lastOfMonth, sequence.ShouldReset(sequence.ResetMonthly, d), d.Format(time.DateOnly))

		isDec31 := d.Month() == time.December && d.Day() == 31
		assert.Equal(t, isDec31, sequence.ShouldReset(sequence.ResetYearly, d), d.Format(time.DateOnly))

		assert.False(t, sequence.ShouldReset(sequence.ResetNone, d))

		if sequence.ShouldReset(sequence.ResetMonthly, d) {
			monthly++
		}
		if sequence.ShouldReset(sequence.ResetYearly, d) {
			yearly++
		}
	}
	assert.Equal(t, 12, monthly)
	assert.Equal(t, 1, yearly)
}

func TestApplyResets_Scenarios(t *testing.T) {
	ctx := context.Background()

	t.Run("monthly on 2024-01-31 resets 57 to 1", func(t *testing.T) {
		store := memory.NewSequenceStore()
		s1 := seed(t, store, "S1", sequence.ResetMonthly, 57)

		report, err := newPolicy(store).ApplyResets(ctx, day(2024, time.January, 31))
		require.NoError(t, err)
		assert.Equal(t, int64(1), nextValue(t, store, s1.ID))
		require.Len(t, report.Reset, 1)
		assert.Equal(t, int64(57), report.Reset[0].Previous)
	})

	t.Run("monthly on 2024-01-30 keeps 57", func(t *testing.T) {
		store := memory.NewSequenceStore()
		s1 := seed(t, store, "S1", sequence.ResetMonthly, 57)

		report, err := newPolicy(store).ApplyResets(ctx, day(2024, time.January, 30))
		require.NoError(t, err)
		assert.Equal(t, int64(57), nextValue(t, store, s1.ID))
		assert.Empty(t, report.Reset)
		assert.Equal(t, 1, report.Evaluated)
	})

	t.Run("yearly on 2024-12-31 resets 900 to 1", func(t *testing.T) {
		store := memory.NewSequenceStore()
		s2 := seed(t, store, "S2", sequence.ResetYearly, 900)

		_, err := newPolicy(store).ApplyResets(ctx, day(2024, time.December, 31))
		require.NoError(t, err)
		assert.Equal(t, int64(1), nextValue(t, store, s2.ID))
	})
}

func TestApplyResets_NoneNeverMutated(t *testing.T) {
	ctx := context.Background()
	store := memory.NewSequenceStore()
	none := seed(t, store, "NONE", sequence.ResetNone, 314)
	odd := seed(t, store, "ODD", sequence.ResetMode("fortnightly"), 27)
	month := seed(t, store, "MONTH", sequence.ResetMode("month"), 57)
	year := seed(t, store, "YEAR", sequence.ResetMode("year"), 57)
	policy := newPolicy(store)

	for d := day(2024, time.January, 1); d.Year() == 2024; d = d.AddDate(0, 0, 1) {
		_, err := policy.ApplyResets(ctx, d)
		require.NoError(t, err)
	}

	assert.Equal(t, int64(314), nextValue(t, store, none.ID))
	assert.Equal(t, int64(27), nextValue(t, store, odd.ID))
	assert.Equal(t, int64(57), nextValue(t, store, month.ID))
	assert.Equal(t, int64(57), nextValue(t, store, year.ID))
}

func TestApplyResets_Idempotent(t *testing.T) {
	ctx := context.Background()
	store := memory.NewSequenceStore()
	monthly := seed(t, store, "M", sequence.ResetMonthly, 57)
	yearly := seed(t, store, "Y", sequence.ResetYearly, 900)
	none := seed(t, store, "N", sequence.ResetNone, 12)
	policy := newPolicy(store)
	now := day(2024, time.December, 31)

	_, err := policy.ApplyResets(ctx, now)
	require.NoError(t, err)
	first := []int64{nextValue(t, store, monthly.ID), nextValue(t, store, yearly.ID), nextValue(t, store, none.ID)}

	_, err = policy.ApplyResets(ctx, now)
	require.NoError(t, err)
	second := []int64{nextValue(t, store, monthly.ID), nextValue(t, store, yearly.ID), nextValue(t, store, none.ID)}

	assert.Equal(t, []int64{1, 1, 12}, first)
	assert.Equal(t, first, second)
}

func TestApplyResets_FailureIsIndependent(t *testing.T) {
	ctx := context.Background()
	store := memory.NewSequenceStore()
	a := seed(t, store, "A", sequence.ResetMonthly, 10)
	b := seed(t, store, "B", sequence.ResetMonthly, 20)

	writeErr := errors.New("deadlock detected")
	repo := &sequence.MockRepository{
		Base: store,
		ResetNextValueFunc: func(ctx context.Context, seqID id.ID) (int64, error) {
			if seqID == a.ID {
				return 0, writeErr
			}
			return store.ResetNextValue(ctx, seqID)
		},
	}

	report, err := newPolicy(repo).ApplyResets(ctx, day(2024, time.January, 31))

	require.Error(t, err)
	assert.ErrorIs(t, err, writeErr)
	assert.Contains(t, err.Error(), "reset A")

	assert.Equal(t, int64(10), nextValue(t, store, a.ID))
	assert.Equal(t, int64(1), nextValue(t, store, b.ID))

	require.Len(t, report.Failed, 1)
	assert.Equal(t, "A", report.Failed[0].Code)
	require.Len(t, report.Reset, 1)
	assert.Equal(t, "B", report.Reset[0].Code)
	assert.Equal(t, 2, report.Evaluated)
}

func TestApplyResets_LoadFailurePropagates(t *testing.T) {
	loadErr := errors.New("connection refused")
	repo := &sequence.MockRepository{
		Base: memory.NewSequenceStore(),
		FindAllFunc: func(context.Context) ([]*sequence.Sequence, error) {
			return nil, loadErr
		},
	}

	_, err := newPolicy(repo).ApplyResets(context.Background(), day(2024, time.January, 31))
	assert.ErrorIs(t, err, loadErr)
}

func TestApplyResets_RunsElevated(t *testing.T) {
	store := memory.NewSequenceStore()
	seq := seed(t, store, "INV", sequence.ResetMonthly, 57)

	clerk := appctx.WithUser(context.Background(), &appctx.UserContext{
		UserID:      "clerk",
		Permissions: []string{string(security.PermissionSequenceRead)},
	})

	// The clerk cannot rewrite counters directly.
	svc := sequence.NewService(sequence.ServiceConfig{Repo: store, Logger: logger.NewNop()})
	err := svc.SetNextValue(clerk, seq.ID, 1)
	require.Error(t, err)

	var sawElevated bool
	repo := &sequence.MockRepository{
		Base: store,
		ResetNextValueFunc: func(ctx context.Context, seqID id.ID) (int64, error) {
			sawElevated = security.IsElevated(ctx)
			assert.Equal(t, "clerk", security.OnBehalfOf(ctx))
			return store.ResetNextValue(ctx, seqID)
		},
	}

	_, err = newPolicy(repo).ApplyResets(clerk, day(2024, time.January, 31))
	require.NoError(t, err)
	assert.True(t, sawElevated)
	assert.Equal(t, int64(1), nextValue(t, store, seq.ID))
}

type recordingAuditor struct {
	changes []sequence.Change
	err     error
}

func (r *recordingAuditor) Record(_ context.Context, c sequence.Change) error {
	if r.err != nil {
		return r.err
	}
	r.changes = append(r.changes, c)
	return nil
}

type countingTx struct {
	calls int
}

func (c *countingTx) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	c.calls++
	return fn(ctx)
}

func TestApplyResets_AuditsInOwnTransaction(t *testing.T) {
	store := memory.NewSequenceStore()
	seed(t, store, "M1", sequence.ResetMonthly, 5)
	seed(t, store, "M2", sequence.ResetMonthly, 6)
	seed(t, store, "Y1", sequence.ResetYearly, 7)

	auditor := &recordingAuditor{}
	txm := &countingTx{}
	policy := newPolicy(store, func(c *sequence.ResetPolicyConfig) {
		c.Auditor = auditor
		c.TxManager = txm
	})

	report, err := policy.ApplyResets(context.Background(), day(2024, time.March, 31))
	require.NoError(t, err)

	assert.Len(t, report.Reset, 2)
	assert.Equal(t, 2, txm.calls)
	require.Len(t, auditor.changes, 2)
	for _, c := range auditor.changes {
		assert.Equal(t, sequence.ActionReset, c.Action)
		assert.Equal(t, int64(1), c.Current)
	}
}

func TestApplyResets_AuditFailureCountsAsFailure(t *testing.T) {
	store := memory.NewSequenceStore()
	seed(t, store, "M1", sequence.ResetMonthly, 5)

	auditErr := errors.New("audit table missing")
	policy := newPolicy(store, func(c *sequence.ResetPolicyConfig) {
		c.Auditor = &recordingAuditor{err: auditErr}
	})

	report, err := policy.ApplyResets(context.Background(), day(2024, time.March, 31))
	assert.ErrorIs(t, err, auditErr)
	assert.Len(t, report.Failed, 1)
}

func TestRun_UsesPolicyClock(t *testing.T) {
	store := memory.NewSequenceStore()
	seq := seed(t, store, "M", sequence.ResetMonthly, 99)

	clk := testclock.NewClock(day(2024, time.June, 29))
	policy := newPolicy(store, func(c *sequence.ResetPolicyConfig) { c.Clock = clk })

	_, err := policy.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(99), nextValue(t, store, seq.ID))

	clk.Advance(24 * time.Hour)
	report, err := policy.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), nextValue(t, store, seq.ID))
	assert.Equal(t, 30, report.RunAt.Day())
}

func TestApplyResets_AuditStampsWriteTime(t *testing.T) {
	store := memory.NewSequenceStore()
	seed(t, store, "M", sequence.ResetMonthly, 57)

	written := time.Date(2025, time.June, 1, 10, 0, 0, 0, time.UTC)
	auditor := &recordingAuditor{}
	policy := newPolicy(store, func(c *sequence.ResetPolicyConfig) {
		c.Auditor = auditor
		c.Clock = testclock.NewClock(written)
	})

	asOf := day(2024, time.January, 31)
	_, err := policy.ApplyResets(context.Background(), asOf)
	require.NoError(t, err)

	require.Len(t, auditor.changes, 1)
	c := auditor.changes[0]
	assert.Equal(t, written, c.At)
	assert.Equal(t, asOf, c.AsOf)
	assert.Equal(t, "2024-01-31T23:50:00Z", sequence.ChangeSet(c)["as_of"])
}
