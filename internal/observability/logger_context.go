package observability

import (
	"context"
	"log/slog"
)

// loggerContextKey is the private context key used to store a *slog.Logger.
type loggerContextKey struct{}

// requestIDContextKey is the private context key used to store the originating
// HTTP request_id so that background workers and deeper layers can correlate
// their logs with the original request.
type requestIDContextKey struct{}

// jobIDContextKey stores the job id a worker is currently processing so that
// research and repo layers can tag their logs without threading the id
// through every signature.
type jobIDContextKey struct{}

// ContextWithLogger attaches a non-nil logger to the context.
func ContextWithLogger(ctx context.Context, lg *slog.Logger) context.Context {
	if ctx == nil || lg == nil {
		return ctx
	}
	return context.WithValue(ctx, loggerContextKey{}, lg)
}

// LoggerFromContext returns the logger stored in the context or the default
// slog logger when none is present.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if ctx == nil {
		return slog.Default()
	}
	if v := ctx.Value(loggerContextKey{}); v != nil {
		if lg, ok := v.(*slog.Logger); ok && lg != nil {
			return lg
		}
	}
	return slog.Default()
}

// ContextWithRequestID stores a non-empty request_id in the context so that
// downstream layers (queue workers, AI client, etc.) can correlate their logs
// with the originating HTTP request.
func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	if ctx == nil || requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDContextKey{}, requestID)
}

// RequestIDFromContext retrieves the request_id from the context, or an empty
// string when none is present.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v := ctx.Value(requestIDContextKey{}); v != nil {
		if rid, ok := v.(string); ok {
			return rid
		}
	}
	return ""
}

// ContextWithJobID stores the job id being processed in the context.
func ContextWithJobID(ctx context.Context, jobID int64) context.Context {
	if ctx == nil || jobID == 0 {
		return ctx
	}
	return context.WithValue(ctx, jobIDContextKey{}, jobID)
}

// JobIDFromContext retrieves the job id from the context, or 0 when absent.
func JobIDFromContext(ctx context.Context) int64 {
	if ctx == nil {
		return 0
	}
	if v := ctx.Value(jobIDContextKey{}); v != nil {
		if id, ok := v.(int64); ok {
			return id
		}
	}
	return 0
}
