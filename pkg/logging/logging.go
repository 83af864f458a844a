package logging

import (
	"context"
	"io"
	"log/slog"

	"github.com/samber/lo"
	slogmulti "github.com/samber/slog-multi"
)

type loggingCtxKey struct{}

// FromContext returns the logger carried by ctx, falling back to slog.Default()
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggingCtxKey{}).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

func ToContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggingCtxKey{}, logger)
}

// New builds the CLI logger. Human readable progress lines go to w.
// If jsonSink is non-nil, every record (including debug) is also written there as JSON.
func New(verbose bool, w io.Writer, jsonSink io.Writer) *slog.Logger {
	handlers := []slog.Handler{
		slog.NewTextHandler(w, &slog.HandlerOptions{
			Level: lo.Ternary(verbose, slog.LevelDebug, slog.LevelInfo),
		}),
	}
	if jsonSink != nil {
		handlers = append(handlers, slog.NewJSONHandler(jsonSink, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	return slog.New(slogmulti.Fanout(handlers...))
}

func NoOpLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
