package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Pinger reports database reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler provides health check endpoints.
type HealthHandler struct {
	db        Pinger
	version   string
	startedAt time.Time
}

// NewHealthHandler creates a health handler. db may be nil for in-memory mode.
func NewHealthHandler(db Pinger, version string) *HealthHandler {
	return &HealthHandler{db: db, version: version, startedAt: time.Now()}
}

// Live handles GET /health/live.
func (h *HealthHandler) Live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Ready handles GET /health/ready.
func (h *HealthHandler) Ready(c *gin.Context) {
	checks := map[string]string{"database": "not configured"}
	if h.db != nil {
		if err := h.db.Ping(c.Request.Context()); err != nil {
			checks["database"] = "unhealthy: " + err.Error()
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error", "checks": checks})
			return
		}
		checks["database"] = "healthy"
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "checks": checks})
}

// Info handles GET /health/info.
func (h *HealthHandler) Info(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"app":       "seqkeeper",
		"version":   h.version,
		"startedAt": h.startedAt.UTC(),
		"uptime":    time.Since(h.startedAt).Round(time.Second).String(),
	})
}
