package common

import (
	"io"
	"log/slog"
	"os"

	"github.com/phsym/console-slog"
)

// SlogOptions configures the slog-backed logger created by NewSlogLogger.
type SlogOptions struct {
	// Writer receives the log output. Defaults to os.Stdout.
	Writer io.Writer

	// Debug lowers the minimum level from Info to Debug.
	Debug bool

	// Console switches from JSON output to human-readable colored console
	// output, intended for interactive development sessions.
	Console bool
}

type slogAdapter struct {
	l *slog.Logger
}

// NewSlogLogger creates a Logger backed by the standard library slog package.
// With Console enabled the handler renders colored, aligned output; otherwise
// records are emitted as JSON lines.
func NewSlogLogger(opts SlogOptions) Logger {
	writer := opts.Writer
	if writer == nil {
		writer = os.Stdout
	}

	level := slog.LevelInfo
	if opts.Debug {
		level = slog.LevelDebug
	}

	var handler slog.Handler
	if opts.Console {
		handler = console.NewHandler(writer, &console.HandlerOptions{Level: level})
	} else {
		handler = slog.NewJSONHandler(writer, &slog.HandlerOptions{Level: level})
	}

	return &slogAdapter{l: slog.New(handler)}
}

func (a *slogAdapter) Debug(msg string, kv ...interface{}) { a.l.Debug(msg, kv...) }
func (a *slogAdapter) Info(msg string, kv ...interface{})  { a.l.Info(msg, kv...) }
func (a *slogAdapter) Warn(msg string, kv ...interface{})  { a.l.Warn(msg, kv...) }
func (a *slogAdapter) Error(msg string, kv ...interface{}) { a.l.Error(msg, kv...) }
