package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"seqkeeper/internal/core/security"
	"seqkeeper/internal/domain/sequence"
	"seqkeeper/internal/infrastructure/storage/memory"
	"seqkeeper/pkg/logger"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type stubResetter struct {
	calls    atomic.Int32
	lastNow  atomic.Value
	elevated atomic.Bool
	err      error
}

func (r *stubResetter) ApplyResets(ctx context.Context, now time.Time) (sequence.ResetReport, error) {
	r.calls.Add(1)
	r.lastNow.Store(now)
	r.elevated.Store(security.IsElevated(ctx))
	return sequence.ResetReport{RunAt: now}, r.err
}

type stubCleaner struct {
	calls atomic.Int32
}

func (c *stubCleaner) CleanupExpired(context.Context) (int64, error) {
	c.calls.Add(1)
	return 3, nil
}

func newScheduler(r Resetter, clk *testclock.Clock, loc *time.Location) *ResetScheduler {
	cfg := DefaultSchedulerConfig()
	cfg.Resets = r
	cfg.Clock = clk
	cfg.Location = loc
	cfg.Logger = logger.NewNop()
	return NewResetScheduler(cfg)
}

func TestNextRun(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)
	s := newScheduler(&stubResetter{}, testclock.NewClock(time.Time{}), berlin)

	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{"before fire time", time.Date(2024, 1, 31, 10, 0, 0, 0, berlin), time.Date(2024, 1, 31, 23, 50, 0, 0, berlin)},
		{"exactly at fire time", time.Date(2024, 1, 31, 23, 50, 0, 0, berlin), time.Date(2024, 2, 1, 23, 50, 0, 0, berlin)},
		{"after fire time", time.Date(2024, 12, 31, 23, 55, 0, 0, berlin), time.Date(2025, 1, 1, 23, 50, 0, 0, berlin)},
		{"utc input", time.Date(2024, 3, 30, 23, 0, 0, 0, time.UTC), time.Date(2024, 3, 31, 23, 50, 0, 0, berlin)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.want.Equal(s.NextRun(tt.now)), "got %s", s.NextRun(tt.now))
		})
	}
}

func TestRunOnce_ElevatesAndCleans(t *testing.T) {
	clk := testclock.NewClock(time.Date(2024, 1, 31, 22, 50, 0, 0, time.UTC))
	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)

	r := &stubResetter{err: errors.New("reset A: boom")}
	c := &stubCleaner{}
	s := newScheduler(r, clk, berlin)
	s.cleaner = c

	_, err = s.RunOnce(context.Background())
	assert.ErrorContains(t, err, "boom")
	assert.True(t, r.elevated.Load())
	assert.Equal(t, int32(1), c.calls.Load())

	now := r.lastNow.Load().(time.Time)
	assert.Equal(t, berlin, now.Location())
	assert.Equal(t, 23, now.Hour())
}

func TestScheduler_FiresAtConfiguredTime(t *testing.T) {
	clk := testclock.NewClock(time.Date(2024, 1, 31, 12, 0, 0, 0, time.UTC))

	store := memory.NewSequenceStore()
	seq := sequence.NewSequence("INV", "Invoices")
	seq.ResetMode = sequence.ResetMonthly
	seq.NextValue = 57
	require.NoError(t, store.Create(context.Background(), seq))

	policy := sequence.NewResetPolicy(sequence.ResetPolicyConfig{Repo: store, Clock: clk, Logger: logger.NewNop()})
	s := newScheduler(policy, clk, time.UTC)

	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.Start(context.Background()))

	// Nothing fires before 23:50.
	require.NoError(t, clk.WaitAdvance(11*time.Hour, time.Second, 1))
	got, err := store.GetByID(context.Background(), seq.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(57), got.NextValue)

	require.NoError(t, clk.WaitAdvance(50*time.Minute, time.Second, 1))
	require.Eventually(t, func() bool {
		got, err := store.GetByID(context.Background(), seq.ID)
		return err == nil && got.NextValue == 1
	}, time.Second, 5*time.Millisecond)

	s.Stop()
	s.Stop()
}

func TestScheduler_StopWithoutStart(t *testing.T) {
	s := newScheduler(&stubResetter{}, testclock.NewClock(time.Now()), time.UTC)
	s.Stop()
}

func TestScheduler_StartTwice(t *testing.T) {
	clk := testclock.NewClock(time.Date(2024, 1, 31, 12, 0, 0, 0, time.UTC))
	s := newScheduler(&stubResetter{}, clk, time.UTC)

	require.NoError(t, s.Start(context.Background()))
	err := s.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already running")
	s.Stop()

	// A stopped scheduler can be started again.
	require.NoError(t, s.Start(context.Background()))
	s.Stop()
}
