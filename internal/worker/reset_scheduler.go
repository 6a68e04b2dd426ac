// Package worker runs background jobs: the daily sequence reset and
// housekeeping of expired idempotency keys.
package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/juju/clock"

	"seqkeeper/internal/core/security"
	"seqkeeper/internal/domain/sequence"
	"seqkeeper/pkg/logger"
)

// Resetter applies sequence resets for a moment in time.
type Resetter interface {
	ApplyResets(ctx context.Context, now time.Time) (sequence.ResetReport, error)
}

// Cleaner removes expired records. *postgres.IdempotencyStore implements it.
type Cleaner interface {
	CleanupExpired(ctx context.Context) (int64, error)
}

// SchedulerConfig configures ResetScheduler.
type SchedulerConfig struct {
	Resets Resetter

	// Cleaner runs after every reset. Optional.
	Cleaner Cleaner

	// Hour and Minute give the local fire time.
	Hour     int
	Minute   int
	Location *time.Location

	Clock  clock.Clock
	Logger *logger.Logger
}

// ResetScheduler fires the reset policy once a day at a fixed local time.
// It runs in a single goroutine.
type ResetScheduler struct {
	resets  Resetter
	cleaner Cleaner
	hour    int
	minute  int
	loc     *time.Location
	clock   clock.Clock
	log     *logger.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// DefaultSchedulerConfig fires at 23:50 UTC, the last calendar day's
// final run before any new-period allocation.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{Hour: 23, Minute: 50, Location: time.UTC}
}

// NewResetScheduler creates a scheduler. Call Start or Run to begin.
func NewResetScheduler(cfg SchedulerConfig) *ResetScheduler {
	s := &ResetScheduler{
		resets:  cfg.Resets,
		cleaner: cfg.Cleaner,
		hour:    cfg.Hour,
		minute:  cfg.Minute,
		loc:     cfg.Location,
		clock:   cfg.Clock,
		log:     cfg.Logger,
	}
	if s.loc == nil {
		s.loc = time.UTC
	}
	if s.clock == nil {
		s.clock = clock.WallClock
	}
	if s.log == nil {
		s.log = logger.Default()
	}
	s.log = s.log.WithComponent("reset-scheduler")
	return s
}

// NextRun returns the first fire time strictly after t.
func (s *ResetScheduler) NextRun(t time.Time) time.Time {
	local := t.In(s.loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), s.hour, s.minute, 0, 0, s.loc)
	if !next.After(local) {
		next = time.Date(local.Year(), local.Month(), local.Day()+1, s.hour, s.minute, 0, 0, s.loc)
	}
	return next
}

// RunOnce applies resets for the current local time and then runs the cleaner.
func (s *ResetScheduler) RunOnce(ctx context.Context) (sequence.ResetReport, error) {
	ctx = security.Elevate(ctx)
	now := s.clock.Now().In(s.loc)
	log := s.log.WithContext(ctx)

	report, err := s.resets.ApplyResets(ctx, now)
	switch {
	case err != nil:
		log.Errorw("sequence reset run finished with errors",
			"run_at", now,
			"evaluated", report.Evaluated,
			"reset", len(report.Reset),
			"failed", len(report.Failed),
			"error", err,
		)
	case len(report.Reset) > 0:
		log.Infow("sequence reset run finished",
			"run_at", now, "evaluated", report.Evaluated, "reset", len(report.Reset))
	default:
		log.Debugw("sequence reset run: nothing to reset", "run_at", now, "evaluated", report.Evaluated)
	}

	if s.cleaner != nil {
		removed, cerr := s.cleaner.CleanupExpired(ctx)
		if cerr != nil {
			log.Warnw("cleanup of expired idempotency keys failed", "error", cerr)
		} else if removed > 0 {
			log.Infow("cleaned up idempotency keys", "count", removed)
		}
	}

	return report, err
}

// Run blocks, firing once per day, until ctx is cancelled.
func (s *ResetScheduler) Run(ctx context.Context) {
	s.log.Infow("reset scheduler started",
		"at", time.Date(0, 1, 1, s.hour, s.minute, 0, 0, s.loc).Format("15:04"),
		"timezone", s.loc.String(),
	)
	for {
		now := s.clock.Now()
		next := s.NextRun(now)
		s.log.Debugw("next reset scheduled", "next_run", next)

		select {
		case <-ctx.Done():
			s.log.Info("reset scheduler stopped")
			return
		case <-s.clock.After(next.Sub(now)):
			// Run errors are logged by RunOnce.
			_, _ = s.RunOnce(ctx)
		}
	}
}

// Start runs the scheduler in a background goroutine. It is an error to
// start a running scheduler.
func (s *ResetScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		return errors.New("reset scheduler already running")
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	done := s.done
	go func() {
		defer close(done)
		s.Run(ctx)
	}()
	return nil
}

// Stop cancels a started scheduler and waits for its goroutine to exit.
func (s *ResetScheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}
