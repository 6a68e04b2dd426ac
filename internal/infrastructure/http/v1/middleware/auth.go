package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"seqkeeper/internal/core/apperror"
	appctx "seqkeeper/internal/core/context"
)

// JWTValidator validates bearer tokens.
type JWTValidator interface {
	ValidateToken(tokenString string) (*appctx.UserContext, error)
}

// Auth requires a valid bearer token and stores the user in the request context.
func Auth(validator JWTValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		scheme, token, ok := strings.Cut(c.GetHeader("Authorization"), " ")
		if !ok || !strings.EqualFold(scheme, "bearer") || token == "" {
			_ = c.Error(apperror.NewUnauthorized("missing or malformed authorization header"))
			c.Abort()
			return
		}

		user, err := validator.ValidateToken(strings.TrimSpace(token))
		if err != nil {
			if _, isApp := apperror.AsAppError(err); !isApp {
				err = apperror.NewUnauthorized("invalid token").WithCause(err)
			}
			_ = c.Error(err)
			c.Abort()
			return
		}

		c.Request = c.Request.WithContext(appctx.WithUser(c.Request.Context(), user))
		c.Set("user_id", user.UserID)
		c.Next()
	}
}
