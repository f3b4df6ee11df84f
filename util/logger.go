// Package util provides low-level helpers shared by all other packages.
package util

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// LogLevel controls output verbosity.
type LogLevel int

const (
	LogQuiet   LogLevel = 0
	LogNormal  LogLevel = 1
	LogVerbose LogLevel = 2
	LogDebug   LogLevel = 3
)

// Logger writes levelled, %N-interpolated messages through a zerolog
// sink. %1, %2, ... in a format string are replaced by the
// corresponding argument (1-based, matching the source daemon's Lua
// logging convention); unmatched verbs and extra args are left alone,
// and a bare %N format with no args degrades to plain text.
type Logger struct {
	level LogLevel
	zl    zerolog.Logger
	mu    sync.Mutex
}

// NewLogger returns a Logger that prints messages at or below the given
// verbosity (0 = quiet, 1 = normal, 2 = verbose, 3 = debug), writing to
// stderr with RFC3339 timestamps.
func NewLogger(verbosity int) *Logger {
	return NewLoggerTo(verbosity, os.Stderr)
}

// NewLoggerTo is like NewLogger but writes to an arbitrary writer,
// letting callers route output to a log file (the `-L` flag) instead
// of stderr.
func NewLoggerTo(verbosity int, w io.Writer) *Logger {
	zl := zerolog.New(w).With().Timestamp().Logger()
	return &Logger{level: LogLevel(verbosity), zl: zl}
}

// SetOutput repoints the underlying zerolog sink.
func (l *Logger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.zl = l.zl.Output(w)
}

// Level returns the current log level.
func (l *Logger) Level() LogLevel { return l.level }

// Info prints when verbosity ≥ 1.
func (l *Logger) Info(format string, args ...interface{}) {
	if l.level >= LogNormal {
		l.write(zerolog.InfoLevel, format, args...)
	}
}

// Warn prints when verbosity ≥ 1.
func (l *Logger) Warn(format string, args ...interface{}) {
	if l.level >= LogNormal {
		l.write(zerolog.WarnLevel, format, args...)
	}
}

// Verbose prints when verbosity ≥ 2.
func (l *Logger) Verbose(format string, args ...interface{}) {
	if l.level >= LogVerbose {
		l.write(zerolog.DebugLevel, format, args...)
	}
}

// Debug prints when verbosity ≥ 3.
func (l *Logger) Debug(format string, args ...interface{}) {
	if l.level >= LogDebug {
		l.write(zerolog.DebugLevel, format, args...)
	}
}

// Error always prints regardless of verbosity.
func (l *Logger) Error(format string, args ...interface{}) {
	l.write(zerolog.ErrorLevel, format, args...)
}

func (l *Logger) write(level zerolog.Level, format string, args ...interface{}) {
	msg := interpolate(format, args)

	l.mu.Lock()
	zl := l.zl
	l.mu.Unlock()

	zl.WithLevel(level).Msg(msg)
}

// interpolate expands %1, %2, ... placeholders with args, 1-based. A
// placeholder beyond len(args) or a malformed %N is left verbatim so a
// logging call with a literal "%" in it never panics or silently eats
// text.
func interpolate(format string, args []interface{}) string {
	if len(args) == 0 || !strings.Contains(format, "%") {
		return format
	}

	var b strings.Builder
	for i := 0; i < len(format); i++ {
		c := format[i]
		if c != '%' || i+1 >= len(format) {
			b.WriteByte(c)
			continue
		}
		j := i + 1
		for j < len(format) && format[j] >= '0' && format[j] <= '9' {
			j++
		}
		if j == i+1 {
			// "%" not followed by digits: pass through untouched.
			b.WriteByte(c)
			continue
		}
		n, err := strconv.Atoi(format[i+1 : j])
		if err != nil || n < 1 || n > len(args) {
			b.WriteString(format[i:j])
			i = j - 1
			continue
		}
		fmtValue(&b, args[n-1])
		i = j - 1
	}
	return b.String()
}

func fmtValue(b *strings.Builder, v interface{}) {
	switch t := v.(type) {
	case string:
		b.WriteString(t)
	case fmt.Stringer:
		b.WriteString(t.String())
	default:
		fmt.Fprint(b, v)
	}
}
