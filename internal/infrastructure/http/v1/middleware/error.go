package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"seqkeeper/internal/core/apperror"
	appctx "seqkeeper/internal/core/context"
	"seqkeeper/internal/infrastructure/http/v1/dto"
	"seqkeeper/pkg/logger"
)

// ErrorHandler renders the last error registered with c.Error as JSON.
// Internal causes are logged, never returned.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		err := c.Errors.Last().Err

		status := http.StatusInternalServerError
		body := dto.ErrorResponse{
			Code:    apperror.CodeInternal,
			Message: "Internal server error",
			Details: map[string]any{"request_id": appctx.GetRequestID(c.Request.Context())},
		}

		if appErr, ok := apperror.AsAppError(err); ok {
			if appErr.Err != nil {
				logger.Error(c.Request.Context(), "request error", "code", appErr.Code, "cause", appErr.Err)
			}
			status = appErr.HTTPStatus
			body = dto.ErrorResponse{Code: appErr.Code, Message: appErr.Message, Details: appErr.Details}
		} else {
			logger.Error(c.Request.Context(), "unhandled error", "error", err)
		}

		FailIdempotency(c, status, body)
		c.JSON(status, body)
	}
}
