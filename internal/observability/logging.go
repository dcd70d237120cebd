// Package observability carries build and request identifiers on a context
// so log lines emitted deep in the pipeline are attributable.
package observability

import (
	"context"
	"log/slog"

	"git.home.luguber.info/inful/protohost/internal/logfields"
)

// LogContext holds the identifiers attached to a context.
type LogContext struct {
	BuildID     string
	PrototypeID string
	Stage       string
	RequestID   string
	User        string
}

type logContextKeyType string

const logContextKey logContextKeyType = "log-context"

// WithBuildID adds a build record id to the context.
func WithBuildID(ctx context.Context, buildID string) context.Context {
	lc := FromContext(ctx)
	lc.BuildID = buildID
	return context.WithValue(ctx, logContextKey, lc)
}

// WithPrototypeID adds a prototype id to the context.
func WithPrototypeID(ctx context.Context, id string) context.Context {
	lc := FromContext(ctx)
	lc.PrototypeID = id
	return context.WithValue(ctx, logContextKey, lc)
}

// WithStage adds a pipeline stage name to the context.
func WithStage(ctx context.Context, stage string) context.Context {
	lc := FromContext(ctx)
	lc.Stage = stage
	return context.WithValue(ctx, logContextKey, lc)
}

// WithRequestID adds an HTTP request id to the context.
func WithRequestID(ctx context.Context, id string) context.Context {
	lc := FromContext(ctx)
	lc.RequestID = id
	return context.WithValue(ctx, logContextKey, lc)
}

// WithUser adds the acting user to the context.
func WithUser(ctx context.Context, user string) context.Context {
	lc := FromContext(ctx)
	lc.User = user
	return context.WithValue(ctx, logContextKey, lc)
}

// FromContext returns the LogContext stored in ctx, or a zero value.
func FromContext(ctx context.Context) LogContext {
	if lc, ok := ctx.Value(logContextKey).(LogContext); ok {
		return lc
	}
	return LogContext{}
}

// Attrs returns the non-empty identifiers as slog attributes.
func (lc LogContext) Attrs() []slog.Attr {
	attrs := make([]slog.Attr, 0, 5)
	if lc.BuildID != "" {
		attrs = append(attrs, logfields.BuildID(lc.BuildID))
	}
	if lc.PrototypeID != "" {
		attrs = append(attrs, logfields.PrototypeID(lc.PrototypeID))
	}
	if lc.Stage != "" {
		attrs = append(attrs, logfields.Stage(lc.Stage))
	}
	if lc.RequestID != "" {
		attrs = append(attrs, logfields.RequestID(lc.RequestID))
	}
	if lc.User != "" {
		attrs = append(attrs, logfields.User(lc.User))
	}
	return attrs
}

func logAttrs(ctx context.Context, level slog.Level, msg string, attrs []slog.Attr) {
	all := append(FromContext(ctx).Attrs(), attrs...)
	slog.LogAttrs(ctx, level, msg, all...)
}

// InfoContext logs at info level with the context identifiers.
func InfoContext(ctx context.Context, msg string, attrs ...slog.Attr) {
	logAttrs(ctx, slog.LevelInfo, msg, attrs)
}

// WarnContext logs at warn level with the context identifiers.
func WarnContext(ctx context.Context, msg string, attrs ...slog.Attr) {
	logAttrs(ctx, slog.LevelWarn, msg, attrs)
}

// ErrorContext logs at error level with the context identifiers.
func ErrorContext(ctx context.Context, msg string, attrs ...slog.Attr) {
	logAttrs(ctx, slog.LevelError, msg, attrs)
}

// DebugContext logs at debug level with the context identifiers.
func DebugContext(ctx context.Context, msg string, attrs ...slog.Attr) {
	logAttrs(ctx, slog.LevelDebug, msg, attrs)
}
