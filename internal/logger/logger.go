// Package logger provides structured, level-gated logging for the anonymizer.
//
// Each entry is written as a single line with fixed-width columns:
//
//	2006-01-02 15:04:05.000 | MODULE       | ACTION               | LEVEL | message
//
// Levels (lowest to highest): debug, info, warn, error.
// Entries below the configured minimum level are silently dropped.
//
// Loggers are passed explicitly to every component; there is no package-level
// default. A Logger is safe for concurrent use.
//
// Usage:
//
//	log := logger.New("DETECTOR", cfg.LogLevel)
//	log.Infof("regex_chunks", "%d chunks for %d bytes", n, len(text))
//	log.Warnf("oracle_failed", "chunk at offset %d: %v", off, err)
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync/atomic"
	"time"
)

// Level represents a log severity.
type Level int32

// Log severity constants, ordered lowest to highest.
const (
	LevelDebug Level = iota // fine-grained diagnostic output
	LevelInfo               // normal operational messages
	LevelWarn               // unexpected but recoverable conditions
	LevelError              // failures requiring attention
	levelOff                // used by Nop
)

// Logger writes structured log lines for a single module.
type Logger struct {
	module string
	level  atomic.Int32
	out    *log.Logger
}

// New creates a Logger for the given module writing to stderr, gated at the
// given level string. Unrecognized level strings default to "info".
func New(module, levelStr string) *Logger {
	return NewWithWriter(module, levelStr, os.Stderr)
}

// NewWithWriter is New with an explicit destination.
func NewWithWriter(module, levelStr string, w io.Writer) *Logger {
	l := &Logger{
		module: strings.ToUpper(module),
		// No prefix or flags: the full line is built in write.
		out: log.New(w, "", 0),
	}
	l.level.Store(int32(ParseLevel(levelStr)))
	return l
}

// Nop returns a Logger that discards everything.
func Nop() *Logger {
	l := &Logger{module: "NOP", out: log.New(io.Discard, "", 0)}
	l.level.Store(int32(levelOff))
	return l
}

// Module returns a Logger for another module sharing this one's level and
// destination.
func (l *Logger) Module(module string) *Logger {
	c := &Logger{module: strings.ToUpper(module), out: l.out}
	c.level.Store(l.level.Load())
	return c
}

// SetLevel changes the minimum log level at runtime.
func (l *Logger) SetLevel(levelStr string) {
	l.level.Store(int32(ParseLevel(levelStr)))
}

// Enabled reports whether entries at level would be written.
func (l *Logger) Enabled(level Level) bool {
	return int32(level) >= l.level.Load()
}

// Debug logs at DEBUG level.
func (l *Logger) Debug(action, msg string) { l.write(LevelDebug, "DEBUG", action, msg) }

// Info logs at INFO level.
func (l *Logger) Info(action, msg string) { l.write(LevelInfo, "INFO ", action, msg) }

// Warn logs at WARN level.
func (l *Logger) Warn(action, msg string) { l.write(LevelWarn, "WARN ", action, msg) }

// Error logs at ERROR level.
func (l *Logger) Error(action, msg string) { l.write(LevelError, "ERROR", action, msg) }

// Debugf logs a formatted message at DEBUG level.
func (l *Logger) Debugf(action, format string, args ...any) {
	if l.Enabled(LevelDebug) {
		l.Debug(action, fmt.Sprintf(format, args...))
	}
}

// Infof logs a formatted message at INFO level.
func (l *Logger) Infof(action, format string, args ...any) {
	if l.Enabled(LevelInfo) {
		l.Info(action, fmt.Sprintf(format, args...))
	}
}

// Warnf logs a formatted message at WARN level.
func (l *Logger) Warnf(action, format string, args ...any) {
	if l.Enabled(LevelWarn) {
		l.Warn(action, fmt.Sprintf(format, args...))
	}
}

// Errorf logs a formatted message at ERROR level.
func (l *Logger) Errorf(action, format string, args ...any) {
	l.Error(action, fmt.Sprintf(format, args...))
}

// write emits one log line if level is enabled.
func (l *Logger) write(level Level, levelLabel, action, msg string) {
	if !l.Enabled(level) {
		return
	}
	ts := time.Now().Format("2006-01-02 15:04:05.000")
	l.out.Printf("%s | %-12s | %-22s | %s | %s", ts, l.module, action, levelLabel, msg)
}

// ParseLevel converts a string to a Level, defaulting to LevelInfo.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}
