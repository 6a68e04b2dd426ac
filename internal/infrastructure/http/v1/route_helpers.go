package v1

import (
	"github.com/gin-gonic/gin"

	"seqkeeper/internal/core/security"
	"seqkeeper/internal/infrastructure/http/v1/middleware"
)

// SequenceRouteHandler is implemented by handlers.SequenceHandler.
type SequenceRouteHandler interface {
	List(c *gin.Context)
	Create(c *gin.Context)
	Get(c *gin.Context)
	Update(c *gin.Context)
	Delete(c *gin.Context)
	SetNextValue(c *gin.Context)
	History(c *gin.Context)
	Next(c *gin.Context)
	Reset(c *gin.Context)
}

// RegisterSequenceRoutes wires sequence endpoints with their permissions.
// idem guards allocation against client retries.
func RegisterSequenceRoutes(group *gin.RouterGroup, h SequenceRouteHandler, idem gin.HandlerFunc) {
	perm := middleware.RequirePermission

	group.GET("", perm(security.PermissionSequenceRead), h.List)
	group.POST("", perm(security.PermissionSequenceCreate), h.Create)
	group.GET("/:id", perm(security.PermissionSequenceRead), h.Get)
	group.PUT("/:id", perm(security.PermissionSequenceUpdate), h.Update)
	group.DELETE("/:id", perm(security.PermissionSequenceDelete), h.Delete)
	group.PUT("/:id/next-value", perm(security.PermissionSequenceUpdate), h.SetNextValue)
	group.GET("/:id/history", perm(security.PermissionAuditRead), h.History)
	group.POST("/by-code/:code/next", perm(security.PermissionSequenceNext), idem, h.Next)
	group.POST("/resets", perm(security.PermissionSequenceReset), h.Reset)
}
