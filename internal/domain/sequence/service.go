package sequence

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/juju/clock"

	"seqkeeper/internal/core/apperror"
	"seqkeeper/internal/core/id"
	"seqkeeper/internal/core/security"
	"seqkeeper/internal/core/tx"
	"seqkeeper/pkg/logger"
)

const maxListLimit = 500

// Service provides business logic for sequences.
type Service struct {
	repo      Repository
	txManager tx.Manager
	auditor   Auditor
	clock     clock.Clock
	log       *logger.Logger
}

// ServiceConfig configures the sequence service.
type ServiceConfig struct {
	Repo      Repository
	TxManager tx.Manager // optional
	Auditor   Auditor    // optional
	Clock     clock.Clock
	Logger    *logger.Logger
}

// NewService creates a new sequence service.
func NewService(cfg ServiceConfig) *Service {
	s := &Service{
		repo:      cfg.Repo,
		txManager: cfg.TxManager,
		auditor:   cfg.Auditor,
		clock:     cfg.Clock,
		log:       cfg.Logger,
	}
	if s.auditor == nil {
		s.auditor = noopAuditor{}
	}
	if s.clock == nil {
		s.clock = clock.WallClock
	}
	if s.log == nil {
		s.log = logger.Default()
	}
	s.log = s.log.WithComponent("sequence")
	return s
}

// Create validates and stores a new sequence.
func (s *Service) Create(ctx context.Context, seq *Sequence) error {
	if err := security.Require(ctx, security.PermissionSequenceCreate); err != nil {
		return err
	}

	seq.Code = strings.TrimSpace(seq.Code)
	if id.IsNil(seq.ID) {
		seq.ID = id.New()
	}
	if seq.Step == 0 {
		seq.Step = defaultStep
	}
	if seq.NextValue == 0 {
		seq.NextValue = 1
	}
	if seq.ResetMode == "" {
		seq.ResetMode = ResetNone
	}
	if err := seq.Validate(ctx); err != nil {
		return err
	}

	if err := s.checkCodeFree(ctx, seq.Code, seq.ID); err != nil {
		return err
	}

	now := s.clock.Now().UTC()
	seq.Version = 1
	seq.CreatedAt = now
	seq.UpdatedAt = now

	err := s.inTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Create(ctx, seq); err != nil {
			return err
		}
		return s.auditor.Record(ctx, Change{
			Sequence: seq,
			Action:   ActionCreate,
			Current:  seq.NextValue,
			At:       now,
		})
	})
	if err != nil {
		return err
	}

	s.log.WithContext(ctx).Infow("sequence created", "sequence_id", seq.ID, "code", seq.Code, "reset_mode", seq.ResetMode)
	return nil
}

// Get retrieves a sequence by id.
func (s *Service) Get(ctx context.Context, seqID id.ID) (*Sequence, error) {
	return s.repo.GetByID(ctx, seqID)
}

// GetByCode retrieves a sequence by its unique code.
func (s *Service) GetByCode(ctx context.Context, code string) (*Sequence, error) {
	return s.repo.GetByCode(ctx, code)
}

// List returns sequences matching filter.
func (s *Service) List(ctx context.Context, filter ListFilter) (ListResult, error) {
	if filter.Limit <= 0 {
		filter.Limit = DefaultListFilter().Limit
	}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	var res ListResult
	err := s.readOnly(ctx, func(ctx context.Context) error {
		var err error
		res, err = s.repo.List(ctx, filter)
		return err
	})
	return res, err
}

// Update changes the definition of a sequence. NextValue is left as stored.
func (s *Service) Update(ctx context.Context, seq *Sequence) error {
	if err := security.Require(ctx, security.PermissionSequenceUpdate); err != nil {
		return err
	}

	seq.Code = strings.TrimSpace(seq.Code)
	if err := seq.Validate(ctx); err != nil {
		return err
	}
	if err := s.checkCodeFree(ctx, seq.Code, seq.ID); err != nil {
		return err
	}

	now := s.clock.Now().UTC()
	seq.UpdatedAt = now

	err := s.inTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Update(ctx, seq); err != nil {
			return err
		}
		return s.auditor.Record(ctx, Change{Sequence: seq, Action: ActionUpdate, At: now})
	})
	if err != nil {
		return err
	}

	seq.Version++
	return nil
}

// Delete removes a sequence.
func (s *Service) Delete(ctx context.Context, seqID id.ID) error {
	if err := security.Require(ctx, security.PermissionSequenceDelete); err != nil {
		return err
	}

	seq, err := s.repo.GetByID(ctx, seqID)
	if err != nil {
		return err
	}

	err = s.inTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Delete(ctx, seqID); err != nil {
			return err
		}
		return s.auditor.Record(ctx, Change{
			Sequence: seq,
			Action:   ActionDelete,
			Previous: seq.NextValue,
			At:       s.clock.Now().UTC(),
		})
	})
	if err != nil {
		return err
	}

	s.log.WithContext(ctx).Infow("sequence deleted", "sequence_id", seqID, "code", seq.Code)
	return nil
}

// Next allocates the next number of the sequence identified by code and
// returns it formatted. at supplies the date placeholders; zero means now.
func (s *Service) Next(ctx context.Context, code string, at time.Time) (string, error) {
	if err := security.Require(ctx, security.PermissionSequenceNext); err != nil {
		return "", err
	}
	if at.IsZero() {
		at = s.clock.Now()
	}

	seq, value, err := s.repo.Allocate(ctx, code)
	if err != nil {
		return "", fmt.Errorf("allocate %s: %w", code, err)
	}

	return Format(seq, value, at), nil
}

// SetNextValue overwrites the counter of a sequence.
func (s *Service) SetNextValue(ctx context.Context, seqID id.ID, value int64) error {
	if err := security.Require(ctx, security.PermissionSequenceUpdate); err != nil {
		return err
	}
	if value < 1 {
		return apperror.NewValidation("next value must be positive").
			WithDetail("field", "nextValue")
	}

	seq, err := s.repo.GetByID(ctx, seqID)
	if err != nil {
		return err
	}

	return s.inTx(ctx, func(ctx context.Context) error {
		prev, err := s.repo.SetNextValue(ctx, seqID, value)
		if err != nil {
			return err
		}
		return s.auditor.Record(ctx, Change{
			Sequence: seq,
			Action:   ActionSetNext,
			Previous: prev,
			Current:  value,
			At:       s.clock.Now().UTC(),
		})
	})
}

func (s *Service) checkCodeFree(ctx context.Context, code string, self id.ID) error {
	existing, err := s.repo.GetByCode(ctx, code)
	if err != nil {
		if apperror.IsNotFound(err) {
			return nil
		}
		return err
	}
	if existing.ID != self {
		return apperror.NewDuplicate(entityName, "code", code)
	}
	return nil
}

func (s *Service) inTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.txManager == nil {
		return fn(ctx)
	}
	return s.txManager.RunInTransaction(ctx, fn)
}

// readOnly keeps the page and its total count on one snapshot when the
// transaction manager supports it.
func (s *Service) readOnly(ctx context.Context, fn func(ctx context.Context) error) error {
	if ro, ok := s.txManager.(tx.ReadOnlyManager); ok {
		return ro.ReadOnly(ctx, fn)
	}
	return fn(ctx)
}
