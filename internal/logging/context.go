package logging

import (
	"context"

	"github.com/google/uuid"
)

type contextKey int

const (
	correlationIDKey contextKey = iota
	loggerKey
)

// NewCorrelationID returns a fresh correlation ID.
func NewCorrelationID() string {
	return uuid.NewString()
}

// WithCorrelationIDCtx returns a new context with the correlation ID set.
func WithCorrelationIDCtx(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}

// CorrelationIDFromCtx extracts the correlation ID from the context.
func CorrelationIDFromCtx(ctx context.Context) string {
	id, _ := ctx.Value(correlationIDKey).(string)
	return id
}

// WithLoggerCtx returns a new context with the logger attached.
func WithLoggerCtx(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// FromCtx returns the logger attached to ctx, falling back to base and then
// the global logger. A correlation ID on the context is applied to the result.
func FromCtx(ctx context.Context, base *Logger) *Logger {
	l, _ := ctx.Value(loggerKey).(*Logger)
	if l == nil {
		l = base
	}
	if l == nil {
		l = Global()
	}
	if id := CorrelationIDFromCtx(ctx); id != "" && id != l.correlationID {
		l = l.WithCorrelationID(id)
	}
	return l
}
