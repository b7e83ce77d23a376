// Package logger provides a process-wide structured logger built on log/slog.
//
// Every subsystem (policy engine, lifecycle manager, transfer engine, backend
// connectors) logs through this package rather than holding its own *slog.Logger,
// so level and format changes at startup apply uniformly and log call sites stay
// terse.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync/atomic"
	"time"
)

// Level mirrors slog.Level with names that match the config file vocabulary.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

func (l Level) slogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Format selects the slog handler used to render log lines.
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// Config configures the global logger.
type Config struct {
	Level  Level
	Format Format
}

// DefaultConfig returns the configuration used before Init is called.
func DefaultConfig() Config {
	return Config{Level: LevelInfo, Format: FormatText}
}

var (
	current atomic.Pointer[slog.Logger]
	level   atomic.Pointer[slog.LevelVar]
)

func init() {
	lv := &slog.LevelVar{}
	level.Store(lv)
	current.Store(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lv})))
}

// Init configures the global logger from cfg, writing to stderr.
func Init(cfg Config) {
	InitWithWriter(cfg, os.Stderr)
}

// InitWithWriter configures the global logger from cfg, writing to w.
// Exposed separately so tests can capture log output.
func InitWithWriter(cfg Config, w io.Writer) {
	lv := &slog.LevelVar{}
	lv.Set(cfg.Level.slogLevel())

	opts := &slog.HandlerOptions{Level: lv}

	var handler slog.Handler
	if cfg.Format == FormatJSON {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	level.Store(lv)
	current.Store(slog.New(handler))
}

// SetLevel adjusts the active log level without rebuilding the handler.
func SetLevel(l Level) {
	if lv := level.Load(); lv != nil {
		lv.Set(l.slogLevel())
	}
}

func logger() *slog.Logger {
	return current.Load()
}

// contextKey namespaces values this package stashes on a context.Context.
type contextKey struct{ name string }

var fieldsKey = contextKey{"logger.fields"}

// WithFields returns a context that carries structured fields to be appended to
// every log call made with the *Ctx variants against that context.
func WithFields(ctx context.Context, args ...any) context.Context {
	existing, _ := ctx.Value(fieldsKey).([]any)
	merged := make([]any, 0, len(existing)+len(args))
	merged = append(merged, existing...)
	merged = append(merged, args...)
	return context.WithValue(ctx, fieldsKey, merged)
}

func fromContext(ctx context.Context) []any {
	fields, _ := ctx.Value(fieldsKey).([]any)
	return fields
}

// Debug logs at debug level.
func Debug(msg string, args ...any) { logger().Debug(msg, args...) }

// Info logs at info level.
func Info(msg string, args ...any) { logger().Info(msg, args...) }

// Warn logs at warn level.
func Warn(msg string, args ...any) { logger().Warn(msg, args...) }

// Error logs at error level.
func Error(msg string, args ...any) { logger().Error(msg, args...) }

// DebugCtx logs at debug level with fields attached via WithFields appended.
func DebugCtx(ctx context.Context, msg string, args ...any) {
	logger().Debug(msg, append(fromContext(ctx), args...)...)
}

// InfoCtx logs at info level with fields attached via WithFields appended.
func InfoCtx(ctx context.Context, msg string, args ...any) {
	logger().Info(msg, append(fromContext(ctx), args...)...)
}

// WarnCtx logs at warn level with fields attached via WithFields appended.
func WarnCtx(ctx context.Context, msg string, args ...any) {
	logger().Warn(msg, append(fromContext(ctx), args...)...)
}

// ErrorCtx logs at error level with fields attached via WithFields appended.
func ErrorCtx(ctx context.Context, msg string, args ...any) {
	logger().Error(msg, append(fromContext(ctx), args...)...)
}

// With returns a logger with the given fields bound, for call sites that log
// repeatedly with the same context (e.g. one FileStorage across a sweep).
func With(args ...any) *slog.Logger {
	return logger().With(args...)
}

// Duration is a convenience wrapper so call sites read naturally:
// logger.Info("sweep done", logger.Duration("elapsed", time.Since(start)))
func Duration(key string, d time.Duration) slog.Attr {
	return slog.Duration(key, d)
}
