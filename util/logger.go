// Package util provides low-level helpers shared by all other packages.
package util

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// LogLevel is the -v count plus one; errors print even when quiet.
type LogLevel int

const (
	LogQuiet LogLevel = iota
	LogNormal
	LogVerbose
	LogDebug
)

// sink is shared by a Logger and its Named children, so their lines
// never interleave.
type sink struct {
	mu         sync.Mutex
	output     io.Writer
	timestamps bool
}

// Logger writes "[TAG] name: message" lines, optionally timestamped.
// Loggers made with Named share their parent's writer and level.
type Logger struct {
	level LogLevel
	name  string
	sink  *sink
}

// NewLogger writes to stderr.  Debug verbosity turns on timestamps.
func NewLogger(verbosity int) *Logger {
	lvl := LogLevel(verbosity)
	return &Logger{level: lvl, sink: &sink{output: os.Stderr, timestamps: lvl >= LogDebug}}
}

// Named returns a child logger whose lines are tagged with name.  The
// child shares the parent's level, writer and lock.
func (l *Logger) Named(name string) *Logger {
	if l.name != "" {
		name = l.name + "/" + name
	}
	return &Logger{level: l.level, name: name, sink: l.sink}
}

// SetTimestamps toggles the "15:04:05.000" prefix.
func (l *Logger) SetTimestamps(on bool) {
	l.sink.mu.Lock()
	l.sink.timestamps = on
	l.sink.mu.Unlock()
}

// SetOutput redirects this logger and every logger sharing its sink.
func (l *Logger) SetOutput(w io.Writer) {
	l.sink.mu.Lock()
	l.sink.output = w
	l.sink.mu.Unlock()
}

// Level returns the current log level.
func (l *Logger) Level() LogLevel { return l.level }

// Error always prints.
func (l *Logger) Error(format string, args ...interface{}) { l.logf(LogQuiet, "ERR", format, args...) }

// Warn and Info print at the normal level and above.
func (l *Logger) Warn(format string, args ...interface{}) { l.logf(LogNormal, "WRN", format, args...) }
func (l *Logger) Info(format string, args ...interface{}) { l.logf(LogNormal, "INF", format, args...) }

// Verbose prints with -v: per-connection lifecycle.
func (l *Logger) Verbose(format string, args ...interface{}) {
	l.logf(LogVerbose, "VRB", format, args...)
}

// Debug prints with -vv: close handshakes, dial retries, net/http noise.
func (l *Logger) Debug(format string, args ...interface{}) { l.logf(LogDebug, "DBG", format, args...) }

func (l *Logger) logf(at LogLevel, tag, format string, args ...interface{}) {
	if l.level < at {
		return
	}
	line := fmt.Sprintf(format, args...)
	if l.name != "" {
		line = l.name + ": " + line
	}

	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	if l.sink.timestamps {
		fmt.Fprintf(l.sink.output, "%s [%s] %s\n", time.Now().Format("15:04:05.000"), tag, line)
		return
	}
	fmt.Fprintf(l.sink.output, "[%s] %s\n", tag, line)
}
