package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
)

// Logger defines the Goob logging contract.
// Implementations should support standard log levels and be safe for concurrent use.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	Debug(msg string, args ...any)
}

// Level is a minimum severity.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// ParseLevel maps "debug", "info", "warn" or "error" to a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// StdLogger wraps Go's standard logger to implement the Goob logging contract.
type StdLogger struct {
	logger *log.Logger
	level  Level
}

// NewStdLogger creates a new StdLogger using Go's standard logger.
func NewStdLogger() *StdLogger {
	return NewStdLoggerTo(os.Stdout, LevelInfo)
}

// NewStdLoggerTo creates a StdLogger writing to w at the given minimum level.
func NewStdLoggerTo(w io.Writer, level Level) *StdLogger {
	return &StdLogger{
		logger: log.New(w, "", log.LstdFlags),
		level:  level,
	}
}

func (l *StdLogger) Info(msg string, args ...any) {
	l.print(LevelInfo, "[INFO] ", msg, args)
}

func (l *StdLogger) Warn(msg string, args ...any) {
	l.print(LevelWarn, "[WARN] ", msg, args)
}

func (l *StdLogger) Error(msg string, args ...any) {
	l.print(LevelError, "[ERROR] ", msg, args)
}

func (l *StdLogger) Debug(msg string, args ...any) {
	l.print(LevelDebug, "[DEBUG] ", msg, args)
}

func (l *StdLogger) print(level Level, prefix, msg string, args []any) {
	if level < l.level {
		return
	}
	l.logger.Printf(prefix+msg, args...)
}

// Discard returns a Logger that drops everything.
func Discard() Logger {
	return NewStdLoggerTo(io.Discard, LevelError+1)
}

// Default provides a global default logger instance using Go's standard logger.
var Default Logger = NewStdLogger()
