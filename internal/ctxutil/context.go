// Package ctxutil provides context helpers shared across the service.
package ctxutil

import (
	"context"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

type contextKey string

// TraceIDKey is the context key under which the trace ID is stored.
const TraceIDKey contextKey = "trace_id"

const traceIDSize = 16

// NewTraceID generates a new trace ID.
func NewTraceID() string {
	return gonanoid.Must(traceIDSize)
}

// GetTraceID gets the trace ID from the context.
func GetTraceID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(TraceIDKey).(string); ok {
		return v
	}
	return ""
}

// WithTraceID returns a context carrying the given trace ID.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// EnsureTraceID ensures that a trace ID exists in the context.
func EnsureTraceID(ctx context.Context) (context.Context, string) {
	if id := GetTraceID(ctx); id != "" {
		return ctx, id
	}
	id := NewTraceID()
	return WithTraceID(ctx, id), id
}

// DefaultAsyncTimeout is the default timeout for detached async operations.
const DefaultAsyncTimeout = 5 * time.Second

// WithAsyncContext creates a context suitable for async operations.
// It detaches from the parent's cancellation but preserves trace information,
// so background work is not torn down when the originating request ends.
func WithAsyncContext(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout == 0 {
		timeout = DefaultAsyncTimeout
	}
	return context.WithTimeout(context.WithoutCancel(parent), timeout)
}
