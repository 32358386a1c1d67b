// Package logging provides the structured, levelled logger shared by every
// Cookie Monster component, backed by zerolog.
package logging

import (
	"os"
	"sync"

	"github.com/rs/zerolog"
)

// Level represents a logging verbosity level.
type Level int

const (
	// LevelDebug emits all messages.
	LevelDebug Level = iota
	// LevelInfo emits INFO and ERROR messages.
	LevelInfo
	// LevelError emits only ERROR messages.
	LevelError
)

func (l Level) zerolog() zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelInfo:
		return zerolog.InfoLevel
	default:
		return zerolog.ErrorLevel
	}
}

// Logger is a structured, levelled logger wrapping a zerolog.Logger.
//
// Thread-safety: zerolog.Logger writes are safe for concurrent use. The
// mutex here guards only the dynamic level field so SetLevel may be called
// concurrently with logging methods.
type Logger struct {
	base  zerolog.Logger
	mu    sync.RWMutex
	level Level
}

// New creates a Logger that writes console-formatted records to stderr at
// the given minimum level.
func New(level Level) *Logger {
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"}
	return &Logger{
		base:  zerolog.New(out).With().Timestamp().Logger(),
		level: level,
	}
}

// NewWithComponent returns a Logger whose records carry a "component" field,
// so output from the cookie jar, the retrieval manager and the processor
// pool can be told apart in aggregated logs.
func NewWithComponent(level Level, component string) *Logger {
	l := New(level)
	l.base = l.base.With().Str("component", component).Logger()
	return l
}

// SetLevel changes the minimum log level at runtime. Safe for concurrent use.
func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	l.level = level
	l.mu.Unlock()
}

func (l *Logger) currentLevel() Level {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.level
}

// Info logs a message at INFO level.
func (l *Logger) Info(msg string) {
	if l.currentLevel() <= LevelInfo {
		l.base.Info().Msg(msg)
	}
}

// Infof logs a formatted message at INFO level.
func (l *Logger) Infof(format string, args ...any) {
	if l.currentLevel() <= LevelInfo {
		l.base.Info().Msgf(format, args...)
	}
}

// Error logs a message at ERROR level.
func (l *Logger) Error(msg string) {
	if l.currentLevel() <= LevelError {
		l.base.Error().Msg(msg)
	}
}

// Errorf logs a formatted message at ERROR level.
func (l *Logger) Errorf(format string, args ...any) {
	if l.currentLevel() <= LevelError {
		l.base.Error().Msgf(format, args...)
	}
}

// ErrorErr logs err at ERROR level alongside a message, attaching err as a
// structured field rather than interpolating it into the message text.
func (l *Logger) ErrorErr(err error, msg string) {
	if l.currentLevel() <= LevelError {
		l.base.Error().Err(err).Msg(msg)
	}
}

// Debug logs a message at DEBUG level.
func (l *Logger) Debug(msg string) {
	if l.currentLevel() <= LevelDebug {
		l.base.Debug().Msg(msg)
	}
}

// Debugf logs a formatted message at DEBUG level.
func (l *Logger) Debugf(format string, args ...any) {
	if l.currentLevel() <= LevelDebug {
		l.base.Debug().Msgf(format, args...)
	}
}
