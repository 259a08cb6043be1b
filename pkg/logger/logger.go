// Package logger configures the process-wide slog logger and provides
// helpers for attaching pipeline context (component, collector run,
// document identity) to log records.
package logger

import (
	"context"
	"log/slog"
	"os"
)

type runIDKey struct{}

// Setup installs the default slog logger with the given level and format
// ("json" or "text").
func Setup(level string, format string) {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	var handler slog.Handler
	switch format {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// WithComponent returns a logger tagged with the component name.
func WithComponent(component string) *slog.Logger {
	return slog.Default().With("component", component)
}

// WithDocument returns a logger tagged with a document's origin identity.
func WithDocument(l *slog.Logger, sourceType, externalID string) *slog.Logger {
	return l.With("source_type", sourceType, "external_id", externalID)
}

// WithRunID stores a collector run id in the context so log records emitted
// during that run can be correlated.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey{}, runID)
}

// FromContext returns the default logger, tagged with the run id if the
// context carries one.
func FromContext(ctx context.Context) *slog.Logger {
	l := slog.Default()
	if runID, ok := ctx.Value(runIDKey{}).(string); ok {
		l = l.With("run_id", runID)
	}
	return l
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
