package slogx

import (
	"context"
	"log/slog"
)

type ctxKey struct{}

func WithContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

func FromContext(ctx context.Context) *slog.Logger {
	l, ok := ctx.Value(ctxKey{}).(*slog.Logger)
	if !ok {
		return slog.Default()
	}
	return l
}

// WithCorrelationID tags the context logger with the correlation id of the
// current token acquisition so all cache and credential logs line up.
func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	l := FromContext(ctx)
	return WithContext(ctx, l.With("correlation_id", correlationID))
}
