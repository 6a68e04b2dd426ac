package sequence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/juju/clock"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"seqkeeper/internal/core/id"
	"seqkeeper/internal/core/security"
	"seqkeeper/internal/core/tx"
	"seqkeeper/pkg/logger"
)

var tracer = otel.Tracer("seqkeeper/sequence")

// ShouldReset reports whether a sequence with the given mode must restart
// at 1 when the policy runs at now.
//
// The test compares now with now + 1 calendar day, so it fires on the LAST
// day of the period, not on the first day of the next one. The scheduler
// therefore has to run before midnight for the reset to apply to the first
// number of the new period. This is the established behaviour and must not
// be changed to an "is today the 1st" check, which would move every reset
// by one day.
func ShouldReset(mode ResetMode, now time.Time) bool {
	tomorrow := now.AddDate(0, 0, 1)
	switch ParseResetMode(string(mode)) {
	case ResetMonthly:
		return tomorrow.Month() != now.Month()
	case ResetYearly:
		return tomorrow.Year() != now.Year()
	default:
		return false
	}
}

// ResetResult describes one sequence that was reset.
type ResetResult struct {
	ID       id.ID
	Code     string
	Mode     ResetMode
	Previous int64
}

// ResetFailure describes one sequence whose reset write failed.
type ResetFailure struct {
	ID   id.ID
	Code string
	Err  error
}

// ResetReport summarises one ApplyResets run.
type ResetReport struct {
	RunAt     time.Time
	Evaluated int
	Reset     []ResetResult
	Failed    []ResetFailure
}

// ResetPolicy restarts monthly and yearly sequences at period boundaries.
type ResetPolicy struct {
	repo      Repository
	txManager tx.Manager
	auditor   Auditor
	clock     clock.Clock
	log       *logger.Logger
}

// ResetPolicyConfig configures the reset policy.
type ResetPolicyConfig struct {
	Repo Repository

	// TxManager wraps each per-sequence write. Optional.
	TxManager tx.Manager

	// Auditor records each reset in the same transaction. Optional.
	Auditor Auditor

	// Clock supplies now() for Run and the audit timestamp of each reset.
	// Defaults to the wall clock.
	Clock clock.Clock

	Logger *logger.Logger
}

// NewResetPolicy creates a reset policy.
func NewResetPolicy(cfg ResetPolicyConfig) *ResetPolicy {
	p := &ResetPolicy{
		repo:      cfg.Repo,
		txManager: cfg.TxManager,
		auditor:   cfg.Auditor,
		clock:     cfg.Clock,
		log:       cfg.Logger,
	}
	if p.auditor == nil {
		p.auditor = noopAuditor{}
	}
	if p.clock == nil {
		p.clock = clock.WallClock
	}
	if p.log == nil {
		p.log = logger.Default()
	}
	p.log = p.log.WithComponent("sequence-reset")
	return p
}

// Run applies resets for the current time of the policy clock.
func (p *ResetPolicy) Run(ctx context.Context) (ResetReport, error) {
	return p.ApplyResets(ctx, p.clock.Now())
}

// ApplyResets evaluates every sequence against now and resets those whose
// period ends today.
//
// Each reset is written in its own transaction. A failed write does not
// stop the remaining sequences; all failures are returned joined. Writes
// run with elevated privilege regardless of the caller's permissions.
func (p *ResetPolicy) ApplyResets(ctx context.Context, now time.Time) (ResetReport, error) {
	ctx, span := tracer.Start(ctx, "sequence.apply_resets",
		trace.WithAttributes(attribute.String("reset.now", now.Format(time.RFC3339))))
	defer span.End()

	report := ResetReport{RunAt: now}

	ctx = security.Elevate(ctx)

	sequences, err := p.repo.FindAll(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "load sequences")
		return report, fmt.Errorf("load sequences: %w", err)
	}

	var errs []error
	for _, seq := range sequences {
		report.Evaluated++
		if !ShouldReset(seq.ResetMode, now) {
			continue
		}

		previous, err := p.resetOne(ctx, seq, now)
		if err != nil {
			p.log.WithContext(ctx).Errorw("sequence reset failed",
				"sequence_id", seq.ID, "code", seq.Code, "error", err)
			report.Failed = append(report.Failed, ResetFailure{ID: seq.ID, Code: seq.Code, Err: err})
			errs = append(errs, fmt.Errorf("reset %s: %w", seq.Code, err))
			continue
		}

		report.Reset = append(report.Reset, ResetResult{
			ID:       seq.ID,
			Code:     seq.Code,
			Mode:     ParseResetMode(string(seq.ResetMode)),
			Previous: previous,
		})
	}

	span.SetAttributes(
		attribute.Int("reset.evaluated", report.Evaluated),
		attribute.Int("reset.count", len(report.Reset)),
		attribute.Int("reset.failed", len(report.Failed)),
	)

	joined := errors.Join(errs...)
	if joined != nil {
		span.SetStatus(codes.Error, "some resets failed")
	}
	return report, joined
}

func (p *ResetPolicy) resetOne(ctx context.Context, seq *Sequence, now time.Time) (int64, error) {
	var previous int64
	err := p.inTx(ctx, func(ctx context.Context) error {
		if err := security.Require(ctx, security.PermissionSequenceUpdate); err != nil {
			return err
		}

		prev, err := p.repo.ResetNextValue(ctx, seq.ID)
		if err != nil {
			return err
		}
		previous = prev

		return p.auditor.Record(ctx, Change{
			Sequence: seq,
			Action:   ActionReset,
			Previous: prev,
			Current:  1,
			At:       p.clock.Now().UTC(),
			AsOf:     now,
		})
	})
	return previous, err
}

func (p *ResetPolicy) inTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if p.txManager == nil {
		return fn(ctx)
	}
	return p.txManager.RunInTransaction(ctx, fn)
}
