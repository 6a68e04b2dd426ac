package middleware

import (
	"github.com/gin-gonic/gin"

	"seqkeeper/internal/core/apperror"
	appctx "seqkeeper/internal/core/context"
	"seqkeeper/internal/core/security"
)

// RequirePermission aborts with 403 unless the user holds perm.
// Admins hold every permission.
func RequirePermission(perm security.Permission) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := appctx.GetUser(c.Request.Context())
		if user == nil {
			_ = c.Error(apperror.NewUnauthorized("authentication required"))
			c.Abort()
			return
		}
		if !user.HasPermission(string(perm)) {
			_ = c.Error(apperror.NewForbidden("insufficient permissions").
				WithDetail("required_permission", string(perm)))
			c.Abort()
			return
		}
		c.Next()
	}
}
