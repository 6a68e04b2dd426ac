package middleware

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	appctx "seqkeeper/internal/core/context"
)

const (
	HeaderRequestID = "X-Request-ID"
	HeaderTraceID   = "X-Trace-ID"
)

var tracer = otel.Tracer("seqkeeper/http")

// Trace starts a server span and stores request correlation ids in context.
func Trace() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), c.Request.Method+" "+c.FullPath())
		defer span.End()

		t := appctx.NewTraceContext(ctx, c.GetHeader(HeaderRequestID))
		if incoming := c.GetHeader(HeaderTraceID); incoming != "" {
			t.TraceID = incoming
		}
		span.SetAttributes(attribute.String("request.id", t.RequestID))

		c.Request = c.Request.WithContext(appctx.WithTrace(ctx, t))
		c.Set("request_id", t.RequestID)
		c.Header(HeaderRequestID, t.RequestID)
		c.Header(HeaderTraceID, t.TraceID)

		c.Next()

		span.SetAttributes(attribute.Int("http.status_code", c.Writer.Status()))
	}
}
