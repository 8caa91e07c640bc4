package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/feltd/internal/sanitize"
)

type (
	userCtxKey    struct{}
	turnCtxKey    struct{}
	requestCtxKey struct{}
	loggerCtxKey  struct{}
)

// ContextFields extracts correlation fields from ctx.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 6)
	if sc := trace.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}
	if id := UserIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("user.id", id))
	}
	if id := TurnIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("turn.id", id))
	}
	if id := RequestIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("request.id", id))
	}
	return fields
}

// ValidateID checks that id is usable as a correlation field.
func ValidateID(id string) error {
	return sanitize.ValidateID(id)
}

func withID(ctx context.Context, key any, id string) context.Context {
	if ValidateID(id) != nil {
		return ctx
	}
	return context.WithValue(ctx, key, id)
}

func idFrom(ctx context.Context, key any) string {
	s, _ := ctx.Value(key).(string)
	return s
}

// WithUserID adds a user id to ctx. Invalid ids are ignored.
func WithUserID(ctx context.Context, id string) context.Context {
	return withID(ctx, userCtxKey{}, id)
}

// UserIDFromContext returns the user id, or "".
func UserIDFromContext(ctx context.Context) string { return idFrom(ctx, userCtxKey{}) }

// WithTurnID adds a turn id to ctx. Invalid ids are ignored.
func WithTurnID(ctx context.Context, id string) context.Context {
	return withID(ctx, turnCtxKey{}, id)
}

// TurnIDFromContext returns the turn id, or "".
func TurnIDFromContext(ctx context.Context) string { return idFrom(ctx, turnCtxKey{}) }

// WithRequestID adds a request id to ctx. Invalid ids are ignored.
func WithRequestID(ctx context.Context, id string) context.Context {
	return withID(ctx, requestCtxKey{}, id)
}

// RequestIDFromContext returns the request id, or "".
func RequestIDFromContext(ctx context.Context) string { return idFrom(ctx, requestCtxKey{}) }

// WithLogger stores logger in ctx.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext returns the stored logger, or a nop logger.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return Nop()
}
