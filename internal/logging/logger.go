// Package logging builds the JSON loggers handed to every timeline component
// and the attribute helpers they share.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

const (
	KeyOp        = "op"
	KeyActor     = "actor"
	KeyCode      = "code"
	KeyErr       = "err"
	KeyComponent = "component"
)

type Options struct {
	Level     string
	Writer    io.Writer
	Component string
}

// NewLogger returns a JSON logger. Unknown levels log at info.
func NewLogger(opts Options) *slog.Logger {
	writer := opts.Writer
	if writer == nil {
		writer = os.Stderr
	}
	level, ok := ParseLevel(opts.Level)
	if !ok {
		level = slog.LevelInfo
	}
	lg := slog.New(slog.NewJSONHandler(writer, &slog.HandlerOptions{Level: level}))
	if c := strings.TrimSpace(opts.Component); c != "" {
		lg = lg.With(KeyComponent, c)
	}
	return lg
}

// Discard is the logger used when a component is built without one.
func Discard() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// ParseLevel reads a configured level name. ok is false for names it does
// not know, including the empty string.
func ParseLevel(level string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return slog.LevelInfo, false
	}
}

// NormalizeLevel returns the canonical name of level, or fallback when
// level is unset or unknown.
func NormalizeLevel(level, fallback string) string {
	l, ok := ParseLevel(level)
	if !ok {
		return fallback
	}
	return strings.ToLower(l.String())
}

// ForMutation scopes lg to one engine operation issued by actor.
func ForMutation(lg *slog.Logger, op, actor string) *slog.Logger {
	return lg.With(KeyOp, op, KeyActor, actor)
}

// Code tags a rejection with its error code.
func Code(code string) slog.Attr {
	return slog.String(KeyCode, code)
}

func Err(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyErr, "")
	}
	return slog.String(KeyErr, err.Error())
}
