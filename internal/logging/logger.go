// Package logging provides structured logging configuration using log/slog.
//
// Loggers pick up chi's request id when one is on the context, and loads
// carry a load id so every tier transition of a single call can be
// correlated in the output.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
)

type loadKey struct{}

// Setup configures the global slog logger based on level and format.
//
// Level values: "debug", "info", "warn", "error" (default: "info")
// Format values: "text", "json" (default: "text")
func Setup(level, format string) {
	slog.SetDefault(New(os.Stdout, level, format))
}

// New builds a logger writing to w. The CLI uses it to send logs to stderr
// so stdout stays clean for load results.
func New(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: parseLevel(level),
	}

	var handler slog.Handler
	if strings.ToLower(format) == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// parseLevel converts a string log level to slog.Level.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// FromContext returns a logger enriched with request and load context.
//
// A chi RequestID on ctx adds request_id; a load attached by WithLoad adds
// load_id and table.
func FromContext(ctx context.Context) *slog.Logger {
	logger := slog.Default()

	if reqID := middleware.GetReqID(ctx); reqID != "" {
		logger = logger.With("request_id", reqID)
	}
	if attrs, ok := ctx.Value(loadKey{}).([]any); ok {
		logger = logger.With(attrs...)
	}

	return logger
}

// WithLoad returns a context whose loggers carry the load id and target table.
//
//	ctx = logging.WithLoad(ctx, loadID, "bronze.orders")
//	logging.FromContext(ctx).Info("tier started", "tier", "bulk_copy")
func WithLoad(ctx context.Context, loadID, table string) context.Context {
	return context.WithValue(ctx, loadKey{}, []any{"load_id", loadID, "table", table})
}

// WithFields returns a logger with additional structured fields.
func WithFields(ctx context.Context, args ...any) *slog.Logger {
	return FromContext(ctx).With(args...)
}
