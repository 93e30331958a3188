package events

import (
	"context"
)

type ctxKey struct{ name string }

var (
	loggerKey    = ctxKey{"logger"}
	requestIDKey = ctxKey{"request_id"}
)

// FromContext returns the logger stored in ctx, or a discarding logger.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerKey).(*Logger); ok {
		return l
	}
	return Discard()
}

// WithLogger stores logger in ctx.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// WithRequestID tags ctx with the id of the invocation that started the work,
// such as a Lambda request id.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	ctx = context.WithValue(ctx, requestIDKey, id)
	if l, ok := ctx.Value(loggerKey).(*Logger); ok {
		ctx = WithLogger(ctx, l.WithField("request_id", id))
	}
	return ctx
}

// RequestID returns the request id carried by ctx.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// Scoped returns base annotated with the request id carried by ctx, if any.
// Services hold their own logger; Scoped lets one invocation's lines be correlated.
func Scoped(ctx context.Context, base *Logger) *Logger {
	if id := RequestID(ctx); id != "" {
		return base.WithField("request_id", id)
	}
	return base
}
