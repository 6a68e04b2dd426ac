// Package app wires configuration into the storage, domain and auth
// components shared by the seqkeeper binaries.
package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/juju/clock"

	"seqkeeper/internal/config"
	"seqkeeper/internal/core/tx"
	"seqkeeper/internal/domain/auth"
	"seqkeeper/internal/domain/sequence"
	"seqkeeper/internal/infrastructure/storage/memory"
	"seqkeeper/internal/infrastructure/storage/postgres"
	"seqkeeper/internal/infrastructure/storage/postgres/sequence_repo"
	"seqkeeper/pkg/logger"
)

// MemoryDSN selects the in-memory stores instead of PostgreSQL.
const MemoryDSN = "memory://"

// App holds the wired components.
type App struct {
	Config *config.Config
	Log    *logger.Logger
	Clock  clock.Clock

	// Pool is nil in memory mode.
	Pool        *postgres.Pool
	TxManager   tx.Manager
	Repo        sequence.Repository
	Auditor     sequence.Auditor
	History     sequence.HistoryReader
	Idempotency *postgres.IdempotencyStore // nil when disabled or in memory mode

	Sequences *sequence.Service
	Resets    *sequence.ResetPolicy
	JWT       *auth.JWTService
}

// NewLogger builds the process logger from cfg.
func NewLogger(cfg *config.Config) (*logger.Logger, error) {
	return logger.New(logger.Config{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
	})
}

// IsMemory reports whether cfg selects the in-memory stores.
func IsMemory(cfg *config.Config) bool {
	return strings.HasPrefix(cfg.Database.URL, MemoryDSN)
}

// New connects storage and builds the services.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	a := &App{
		Config: cfg,
		Log:    log,
		Clock:  clock.WallClock,
	}

	if IsMemory(cfg) {
		log.Warn("using in-memory storage; data is lost on exit")
		audit := memory.NewAuditLog()
		a.Repo = memory.NewSequenceStore()
		a.Auditor = audit
		a.History = audit
	} else {
		if err := a.openPostgres(ctx); err != nil {
			return nil, err
		}
	}

	a.Sequences = sequence.NewService(sequence.ServiceConfig{
		Repo:      a.Repo,
		TxManager: a.TxManager,
		Auditor:   a.Auditor,
		Clock:     a.Clock,
		Logger:    log,
	})
	a.Resets = sequence.NewResetPolicy(sequence.ResetPolicyConfig{
		Repo:      a.Repo,
		TxManager: a.TxManager,
		Auditor:   a.Auditor,
		Clock:     a.Clock,
		Logger:    log,
	})

	jwtCfg := auth.DefaultJWTConfig(cfg.Auth.JWTSecret)
	if cfg.Auth.TokenTTL > 0 {
		jwtCfg.AccessTokenTTL = cfg.Auth.TokenTTL
	}
	a.JWT = auth.NewJWTService(jwtCfg)

	return a, nil
}

func (a *App) openPostgres(ctx context.Context) error {
	cfg := a.Config

	poolCfg := postgres.DefaultPoolConfig(cfg.Database.URL)
	if cfg.Database.MaxConns > 0 {
		poolCfg.MaxConns = cfg.Database.MaxConns
	}
	poolCfg.MinConns = cfg.Database.MinConns

	pool, err := postgres.NewPool(ctx, poolCfg)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	a.Pool = pool

	txm := postgres.NewTxManager(pool).WithStatementTimeout(cfg.Database.StatementTimeout)
	audit, err := postgres.NewAuditLog(txm, cfg.Audit.CompressThreshold)
	if err != nil {
		pool.Close()
		return fmt.Errorf("audit log: %w", err)
	}

	a.TxManager = txm
	a.Repo = sequence_repo.NewSequenceRepo(txm)
	a.Auditor = audit
	a.History = audit
	if cfg.Idempotency.Enabled {
		a.Idempotency = postgres.NewIdempotencyStore(txm, cfg.Idempotency.TTL)
	}
	return nil
}

// Close releases the database pool.
func (a *App) Close() {
	if a.Pool != nil {
		a.Pool.Close()
	}
}
