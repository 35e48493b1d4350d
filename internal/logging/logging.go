// Package logging configures the process-wide logger: console output at a
// chosen level, plus an append-only errors file that accumulates warnings
// and errors across runs for post-hoc diagnosis.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// New creates a console slog.Logger at the given level. If errorsFile is
// non-empty, records at WARN and above are also appended there.
// The returned closer releases the errors file.
func New(level, errorsFile string) (*slog.Logger, io.Closer, error) {
	console := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: levelFromString(level),
	})

	if errorsFile == "" {
		return slog.New(console), nopCloser{}, nil
	}

	f, err := os.OpenFile(errorsFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening errors file: %w", err)
	}
	fileHandler := slog.NewTextHandler(f, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	})

	return slog.New(fanout{console, fileHandler}), f, nil
}

func levelFromString(value string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "error":
		return slog.LevelError
	case "warn", "warning":
		return slog.LevelWarn
	case "info":
		return slog.LevelInfo
	case "debug":
		return slog.LevelDebug
	default:
		return slog.LevelWarn
	}
}

// fanout delivers each record to every handler that accepts its level.
type fanout []slog.Handler

func (f fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	var firstErr error
	for _, h := range f {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f fanout) WithGroup(name string) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
