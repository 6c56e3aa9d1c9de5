// Package log provides the engine's structured logger: a process-wide
// log/slog logger configured once from the engine config's log level and
// format, with rule/phase/target-scoped derived loggers.
package log

import (
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	once   sync.Once
	logger *slog.Logger
)

// Setup initializes the global logger from a level ("debug"|"info"|"warn"|"error",
// case-insensitive, defaulting to info) and a format ("json"|"text", defaulting
// to json). Subsequent calls are no-ops: the logger is configured exactly once
// per process, at startup, from the resolved engine config.
func Setup(level, format string) {
	once.Do(func() {
		logger = newLogger(level, format)
		slog.SetDefault(logger)
	})
}

func newLogger(level, format string) *slog.Logger {
	var l slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		l = slog.LevelDebug
	case "WARN":
		l = slog.LevelWarn
	case "ERROR":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: l}

	var handler slog.Handler
	if strings.ToLower(format) == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}

// Get returns the configured logger, defaulting to info/json if Setup has
// not yet been called (e.g. in tests that exercise a package directly).
func Get() *slog.Logger {
	if logger == nil {
		Setup("info", "json")
	}
	return logger
}

// WithRule returns a logger scoped to a qualified rule name.
func WithRule(name string) *slog.Logger {
	return Get().With(slog.String("rule", name))
}

// WithPhase returns a logger scoped to an evaluation/execution phase.
func WithPhase(phase string) *slog.Logger {
	return Get().With(slog.String("phase", phase))
}

// WithTarget returns a logger scoped to a user-selected CLI target.
func WithTarget(target string) *slog.Logger {
	return Get().With(slog.String("target", target))
}

func Info(msg string, args ...any)  { Get().Info(msg, args...) }
func Debug(msg string, args ...any) { Get().Debug(msg, args...) }
func Warn(msg string, args ...any)  { Get().Warn(msg, args...) }
func Error(msg string, args ...any) { Get().Error(msg, args...) }
