// Package util provides low-level helpers shared by all other packages.
package util

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// LogLevel controls diagnostic verbosity.  It never affects the record
// stream on stdout, only the operator messages on stderr.
type LogLevel int

const (
	LogQuiet   LogLevel = 0
	LogNormal  LogLevel = 1
	LogVerbose LogLevel = 2
	LogDebug   LogLevel = 3
)

// Logger writes levelled diagnostics to stderr.
type Logger struct {
	level      LogLevel
	output     io.Writer
	mu         sync.Mutex
	timestamps bool
	now        func() time.Time
}

// NewLogger returns a Logger that prints messages at or below the given
// verbosity (0 = errors only, 1 = normal, 2 = verbose, 3 = debug).
func NewLogger(verbosity int) *Logger {
	return &Logger{
		level:      LogLevel(verbosity),
		output:     os.Stderr,
		timestamps: verbosity >= int(LogDebug),
		now:        time.Now,
	}
}

// SetTimestamps enables or disables timestamp prefixes.
func (l *Logger) SetTimestamps(on bool) {
	l.mu.Lock()
	l.timestamps = on
	l.mu.Unlock()
}

// SetOutput overrides the output writer (default: os.Stderr).
func (l *Logger) SetOutput(w io.Writer) {
	l.mu.Lock()
	l.output = w
	l.mu.Unlock()
}

// Level returns the current log level.
func (l *Logger) Level() LogLevel { return l.level }

// Enabled reports whether messages at lvl would be printed.
func (l *Logger) Enabled(lvl LogLevel) bool { return l != nil && l.level >= lvl }

// Info prints when verbosity ≥ 1.
func (l *Logger) Info(format string, args ...interface{}) { l.logf(LogNormal, "INF", format, args...) }

// Warn prints when verbosity ≥ 1.
func (l *Logger) Warn(format string, args ...interface{}) { l.logf(LogNormal, "WRN", format, args...) }

// Verbose prints when verbosity ≥ 2.
func (l *Logger) Verbose(format string, args ...interface{}) {
	l.logf(LogVerbose, "VRB", format, args...)
}

// Debug prints when verbosity ≥ 3.
func (l *Logger) Debug(format string, args ...interface{}) {
	l.logf(LogDebug, "DBG", format, args...)
}

// Error always prints regardless of verbosity.
func (l *Logger) Error(format string, args ...interface{}) {
	l.logf(LogQuiet, "ERR", format, args...)
}

func (l *Logger) logf(lvl LogLevel, tag, format string, args ...interface{}) {
	if l == nil || l.level < lvl {
		return
	}
	msg := fmt.Sprintf(format, args...)

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.timestamps {
		fmt.Fprintf(l.output, "%s [%s] %s\n", l.now().Format("15:04:05.000"), tag, msg)
		return
	}
	fmt.Fprintf(l.output, "[%s] %s\n", tag, msg)
}
