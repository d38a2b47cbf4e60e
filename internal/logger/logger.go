// Package logger provides the process-wide structured logger.
//
// It wraps log/slog with a package default that honours the LOG_LEVEL
// environment variable and can be switched to debug output from the CLI.
// Components take a *slog.Logger and fall back to Default() when none is
// given.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

var defaultLogger atomic.Pointer[slog.Logger]

func init() {
	level := ParseLevel(os.Getenv("LOG_LEVEL"))
	defaultLogger.Store(newLogger(os.Stderr, level))
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// ParseLevel maps a level name to a slog level. Unknown names map to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

// Default returns the package logger.
func Default() *slog.Logger {
	return defaultLogger.Load()
}

// SetLevel replaces the package logger with one writing to stderr at level.
func SetLevel(level slog.Level) {
	defaultLogger.Store(newLogger(os.Stderr, level))
}

// SetOutput replaces the package logger with one writing to w at level.
// Tests use it to capture output.
func SetOutput(w io.Writer, level slog.Level) {
	defaultLogger.Store(newLogger(w, level))
}

// SetVerbose switches between debug and info output.
func SetVerbose(verbose bool) {
	if verbose {
		SetLevel(slog.LevelDebug)
		return
	}
	SetLevel(slog.LevelInfo)
}

// Or returns l, or the package logger when l is nil.
func Or(l *slog.Logger) *slog.Logger {
	if l != nil {
		return l
	}
	return Default()
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Info logs at info level on the package logger.
func Info(msg string, args ...any) { Default().Info(msg, args...) }

// Warn logs at warn level on the package logger.
func Warn(msg string, args ...any) { Default().Warn(msg, args...) }

// Error logs at error level on the package logger.
func Error(msg string, args ...any) { Default().Error(msg, args...) }

// Debug logs at debug level on the package logger.
func Debug(msg string, args ...any) { Default().Debug(msg, args...) }

// InfoContext logs at info level with ctx.
func InfoContext(ctx context.Context, msg string, args ...any) {
	Default().InfoContext(ctx, msg, args...)
}
