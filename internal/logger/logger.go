// Package logger provides the leveled logger the core depends on as an
// external collaborator, with levels data/debug/info/notice/warning/
// error/fatal.
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Level is one of the seven levels the core emits through.
type Level int

const (
	LevelData Level = iota
	LevelDebug
	LevelInfo
	LevelNotice
	LevelWarning
	LevelError
	LevelFatal
)

func (l Level) zerologLevel() zerolog.Level {
	switch l {
	case LevelData, LevelDebug:
		return zerolog.DebugLevel
	case LevelInfo, LevelNotice:
		return zerolog.InfoLevel
	case LevelWarning:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	case LevelFatal:
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

// Logger is a thin, struct-held wrapper around zerolog: no
// package-level logger, no mutable global minimum level.
type Logger struct {
	base  zerolog.Logger
	debug bool
}

// New creates a logger writing to w. When debug is true, Debug/Data
// entries are emitted; otherwise they are suppressed, giving a
// one-line condition message in normal operation and a fuller trail
// in debug mode.
func New(w io.Writer, debug bool) *Logger {
	if w == nil {
		w = os.Stderr
	}
	console := zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	base := zerolog.New(console).Level(level).With().Timestamp().Logger()
	return &Logger{base: base, debug: debug}
}

// With returns a child logger with a persistent field attached, used
// to scope log lines to a table, index, or phase name without any
// shared mutable state.
func (l *Logger) With(key, value string) *Logger {
	return &Logger{base: l.base.With().Str(key, value).Logger(), debug: l.debug}
}

func (l *Logger) Log(level Level, format string, args ...interface{}) {
	ev := l.base.WithLevel(level.zerologLevel())
	if len(args) == 0 {
		ev.Msg(format)
		return
	}
	ev.Msgf(format, args...)
}

func (l *Logger) Data(format string, args ...interface{})    { l.Log(LevelData, format, args...) }
func (l *Logger) Debug(format string, args ...interface{})   { l.Log(LevelDebug, format, args...) }
func (l *Logger) Info(format string, args ...interface{})    { l.Log(LevelInfo, format, args...) }
func (l *Logger) Notice(format string, args ...interface{})  { l.Log(LevelNotice, format, args...) }
func (l *Logger) Warning(format string, args ...interface{}) { l.Log(LevelWarning, format, args...) }
func (l *Logger) Error(format string, args ...interface{})   { l.Log(LevelError, format, args...) }

// Fatal logs at fatal level and exits the process with code 1.
func (l *Logger) Fatal(format string, args ...interface{}) {
	l.Log(LevelFatal, format, args...)
	os.Exit(1)
}
