package modtest

import (
	"fmt"
	"testing"
)

// Logger defines the interface for harness logging.
// The harness uses structured logging with key-value pairs so that its
// output can be routed through whatever logging backend the application
// under test already uses.
//
// The Logger interface uses variadic arguments in key-value pairs:
//
//	logger.Info("message", "key1", "value1", "key2", "value2")
//
// This shape is compatible with slog, logrus, zap sugared loggers, and
// similar structured logging libraries, so adapting an existing logger
// is a four-method wrapper.
type Logger interface {
	// Info logs an informational message with optional key-value pairs.
	Info(msg string, args ...any)

	// Error logs an error message with optional key-value pairs.
	Error(msg string, args ...any)

	// Warn logs a warning message with optional key-value pairs.
	Warn(msg string, args ...any)

	// Debug logs a debug message with optional key-value pairs.
	Debug(msg string, args ...any)
}

// TestLogger routes harness log output through a testing.TB so it is
// captured per-test and only shown for failures (or with -v).
// It is the default logger installed by New when none is configured.
type TestLogger struct {
	tb testing.TB
}

// NewTestLogger creates a Logger backed by the given testing.TB.
func NewTestLogger(tb testing.TB) *TestLogger {
	return &TestLogger{tb: tb}
}

func (l *TestLogger) Info(msg string, args ...any)  { l.log("INFO", msg, args) }
func (l *TestLogger) Error(msg string, args ...any) { l.log("ERROR", msg, args) }
func (l *TestLogger) Warn(msg string, args ...any)  { l.log("WARN", msg, args) }
func (l *TestLogger) Debug(msg string, args ...any) { l.log("DEBUG", msg, args) }

func (l *TestLogger) log(level, msg string, args []any) {
	l.tb.Helper()
	if len(args) == 0 {
		l.tb.Logf("%s %s", level, msg)
		return
	}
	kv := ""
	for i := 0; i+1 < len(args); i += 2 {
		kv += fmt.Sprintf(" %v=%v", args[i], args[i+1])
	}
	if len(args)%2 != 0 {
		kv += fmt.Sprintf(" %v", args[len(args)-1])
	}
	l.tb.Logf("%s %s%s", level, msg, kv)
}

// noopLogger discards all output. Used where a nil logger would otherwise
// require guards at every call site.
type noopLogger struct{}

func (noopLogger) Info(msg string, args ...any)  {}
func (noopLogger) Error(msg string, args ...any) {}
func (noopLogger) Warn(msg string, args ...any)  {}
func (noopLogger) Debug(msg string, args ...any) {}
