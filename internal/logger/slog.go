package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
)

// SlogLogger adapts log/slog to the Goob logging contract. Messages are
// formatted printf-style; attributes added with With are carried on every record.
type SlogLogger struct {
	logger *slog.Logger
}

// NewSlogLogger creates a SlogLogger over handler.
func NewSlogLogger(handler slog.Handler) *SlogLogger {
	return &SlogLogger{logger: slog.New(handler)}
}

// NewJSONLogger creates a SlogLogger that writes JSON records to w.
func NewJSONLogger(w io.Writer, level Level) *SlogLogger {
	return NewSlogLogger(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level.slog()}))
}

// NewTextLogger creates a SlogLogger that writes key=value records to w.
func NewTextLogger(w io.Writer, level Level) *SlogLogger {
	return NewSlogLogger(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level.slog()}))
}

// With returns a logger that adds the given key/value pairs to each record.
func (l *SlogLogger) With(args ...any) *SlogLogger {
	return &SlogLogger{logger: l.logger.With(args...)}
}

func (l *SlogLogger) Info(msg string, args ...any) {
	l.log(slog.LevelInfo, msg, args)
}

func (l *SlogLogger) Warn(msg string, args ...any) {
	l.log(slog.LevelWarn, msg, args)
}

func (l *SlogLogger) Error(msg string, args ...any) {
	l.log(slog.LevelError, msg, args)
}

func (l *SlogLogger) Debug(msg string, args ...any) {
	l.log(slog.LevelDebug, msg, args)
}

func (l *SlogLogger) log(level slog.Level, msg string, args []any) {
	ctx := context.Background()
	if !l.logger.Enabled(ctx, level) {
		return
	}
	if len(args) > 0 {
		msg = fmt.Sprintf(msg, args...)
	}
	l.logger.Log(ctx, level, msg)
}

func (lv Level) slog() slog.Level {
	switch lv {
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

// New builds the configured logger: format "json" or "text" selects slog,
// anything else the plain [LEVEL] logger.
func New(w io.Writer, format string, level Level) Logger {
	switch format {
	case "json":
		return NewJSONLogger(w, level)
	case "text":
		return NewTextLogger(w, level)
	default:
		return NewStdLoggerTo(w, level)
	}
}
