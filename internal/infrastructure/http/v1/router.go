// Package v1 provides HTTP API version 1.
package v1

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/juju/clock"

	"seqkeeper/internal/domain/sequence"
	"seqkeeper/internal/infrastructure/http/v1/handlers"
	"seqkeeper/internal/infrastructure/http/v1/middleware"
	"seqkeeper/pkg/logger"
)

// RouterConfig holds router dependencies.
type RouterConfig struct {
	Logger       *logger.Logger
	JWTValidator middleware.JWTValidator

	Sequences *sequence.Service
	Resets    handlers.ResetRunner
	History   sequence.HistoryReader // optional

	// Idempotency enables Idempotency-Key handling on allocation. Optional.
	Idempotency middleware.IdempotencyStore

	// DB backs the readiness probe. Optional.
	DB handlers.Pinger

	Clock    clock.Clock
	Location *time.Location
	Version  string
	Debug    bool
}

// NewRouter creates and configures the gin engine.
func NewRouter(cfg RouterConfig) *gin.Engine {
	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Default()
	}

	router := gin.New()

	// ErrorHandler sits outside Recovery so recovered panics are still rendered.
	router.Use(middleware.Trace())
	router.Use(middleware.Logger(cfg.Logger))
	router.Use(middleware.ErrorHandler())
	router.Use(middleware.Recovery())

	health := handlers.NewHealthHandler(cfg.DB, cfg.Version)
	hg := router.Group("/health")
	{
		hg.GET("/live", health.Live)
		hg.GET("/ready", health.Ready)
		hg.GET("/info", health.Info)
	}

	base := handlers.NewBaseHandler(cfg.Location)
	seqHandler := handlers.NewSequenceHandler(base, cfg.Sequences, cfg.Resets, cfg.History, cfg.Clock)

	api := router.Group("/api/v1")
	api.Use(middleware.Auth(cfg.JWTValidator))
	RegisterSequenceRoutes(api.Group("/sequences"), seqHandler, middleware.Idempotency(cfg.Idempotency))

	return router
}
