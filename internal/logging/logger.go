// Package logging provides the component-tagged, printf-style logger used
// throughout the runtime. It wraps log/slog so structured output (JSON) and
// the classic bracketed text line are both available from one Logger value.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"reflect"
)

// Logger is the printf-style interface every component depends on. Fields
// attached with With are carried on every subsequent call.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
	With(key string, value any) Logger
}

// Format selects how log records are rendered.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// Config controls level, rendering, and destination for a Logger built by New.
type Config struct {
	Level  string
	Format Format
	Output io.Writer
}

func levelFromString(s string) slog.Level {
	switch s {
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

type componentLogger struct {
	slog   *slog.Logger
	fields []any
}

// NewComponentLogger returns a text-format, info-level logger tagged with
// component, writing to stderr. It is the entry point most packages use.
func NewComponentLogger(component string) Logger {
	return New(Config{Level: "info", Format: FormatText, Output: os.Stderr}).With("component", component)
}

// New builds a Logger from cfg.
func New(cfg Config) Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: levelFromString(cfg.Level)}
	var handler slog.Handler
	if cfg.Format == FormatJSON {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = &textHandler{out: out, level: opts.Level}
	}
	return &componentLogger{slog: slog.New(handler)}
}

func (l *componentLogger) log(level slog.Level, format string, args ...any) {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	l.slog.Log(context.Background(), level, msg, l.fields...)
}

func (l *componentLogger) Debug(format string, args ...any) { l.log(slog.LevelDebug, format, args...) }
func (l *componentLogger) Info(format string, args ...any)  { l.log(slog.LevelInfo, format, args...) }
func (l *componentLogger) Warn(format string, args ...any)  { l.log(slog.LevelWarn, format, args...) }
func (l *componentLogger) Error(format string, args ...any) { l.log(slog.LevelError, format, args...) }

func (l *componentLogger) With(key string, value any) Logger {
	next := &componentLogger{slog: l.slog}
	next.fields = append(append([]any{}, l.fields...), key, value)
	return next
}

// textHandler renders "<timestamp> [<level>] <message> k=v k=v" lines,
// matching the bracketed text format the rest of the fleet's services emit.
type textHandler struct {
	out   io.Writer
	level slog.Level
}

func (h *textHandler) Enabled(_ context.Context, level slog.Level) bool { return level >= h.level }

func (h *textHandler) Handle(_ context.Context, r slog.Record) error {
	line := fmt.Sprintf("%s [%s] %s", r.Time.Format("2006-01-02 15:04:05"), r.Level.String(), r.Message)
	r.Attrs(func(a slog.Attr) bool {
		line += fmt.Sprintf(" %s=%v", a.Key, a.Value.Any())
		return true
	})
	_, err := fmt.Fprintln(h.out, line)
	return err
}

func (h *textHandler) WithAttrs(_ []slog.Attr) slog.Handler { return h }
func (h *textHandler) WithGroup(_ string) slog.Handler      { return h }

// IsNil reports whether logger is a nil interface or a typed nil pointer
// hiding behind the interface, which a plain `logger == nil` check misses.
func IsNil(logger Logger) bool {
	if logger == nil {
		return true
	}
	v := reflect.ValueOf(logger)
	return v.Kind() == reflect.Ptr && v.IsNil()
}

// OrNop returns logger, or a no-op Logger if logger is nil (including a
// typed-nil pointer), so optional Logger fields never need a nil guard at
// every call site.
func OrNop(logger Logger) Logger {
	if IsNil(logger) {
		return nopLogger{}
	}
	return logger
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any)      {}
func (nopLogger) Info(string, ...any)       {}
func (nopLogger) Warn(string, ...any)       {}
func (nopLogger) Error(string, ...any)      {}
func (n nopLogger) With(string, any) Logger { return n }
