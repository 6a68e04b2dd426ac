package context

import (
	"context"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

// TraceContext carries request correlation ids.
type TraceContext struct {
	TraceID   string
	SpanID    string
	RequestID string
}

type traceContextKey struct{}

// WithTrace adds TraceContext to context.
func WithTrace(ctx context.Context, t *TraceContext) context.Context {
	return context.WithValue(ctx, traceContextKey{}, t)
}

// GetTrace returns TraceContext from context, or nil.
func GetTrace(ctx context.Context) *TraceContext {
	if v, ok := ctx.Value(traceContextKey{}).(*TraceContext); ok {
		return v
	}
	return nil
}

// GetRequestID returns the request id from context or "".
func GetRequestID(ctx context.Context) string {
	if t := GetTrace(ctx); t != nil {
		return t.RequestID
	}
	return ""
}

// NewTraceContext builds a TraceContext for ctx. When an otel span is
// active its ids are reused, otherwise fresh ids are generated.
// requestID is kept as given when non-empty.
func NewTraceContext(ctx context.Context, requestID string) *TraceContext {
	if requestID == "" {
		requestID = uuid.NewString()
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		return &TraceContext{
			TraceID:   sc.TraceID().String(),
			SpanID:    sc.SpanID().String(),
			RequestID: requestID,
		}
	}
	return &TraceContext{
		TraceID:   uuid.NewString(),
		SpanID:    uuid.NewString()[:16],
		RequestID: requestID,
	}
}
