// Package logging provides a minimal leveled logger with text and JSON output.
// The package-level functions are safe for concurrent use.
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Level represents a log severity level.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns the upper-case name of the level.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	}
	return "UNKNOWN"
}

// ParseLevel parses a level name. Accepts debug, info, warn, warning, error
// in any case. Whitespace is not trimmed.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return LevelDebug, nil
	case "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	}
	return LevelInfo, fmt.Errorf("unknown log level: %q", s)
}

var (
	mu     sync.Mutex
	level  = LevelInfo
	format = "text"
	out    io.Writer
)

// SetLevel sets the minimum level that will be written.
func SetLevel(l Level) {
	mu.Lock()
	defer mu.Unlock()
	level = l
}

// GetLevel returns the current minimum level.
func GetLevel() Level {
	mu.Lock()
	defer mu.Unlock()
	return level
}

// SetFormat sets the output format: "text" or "json".
func SetFormat(f string) {
	mu.Lock()
	defer mu.Unlock()
	if f == "json" || f == "text" {
		format = f
	}
}

// SetOutput redirects log output. Passing nil restores stderr.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	out = w
}

// Debug logs at debug level.
func Debug(msg string, args ...interface{}) { write(LevelDebug, msg, args...) }

// Info logs at info level.
func Info(msg string, args ...interface{}) { write(LevelInfo, msg, args...) }

// Warn logs at warn level.
func Warn(msg string, args ...interface{}) { write(LevelWarn, msg, args...) }

// Error logs at error level.
func Error(msg string, args ...interface{}) { write(LevelError, msg, args...) }

func write(l Level, msg string, args ...interface{}) {
	mu.Lock()
	defer mu.Unlock()

	if l < level {
		return
	}

	w := out
	if w == nil {
		w = os.Stderr
	}

	rendered := msg
	if len(args) > 0 {
		rendered = fmt.Sprintf(msg, args...)
	}

	if format == "json" {
		entry := map[string]string{
			"ts":    time.Now().UTC().Format(time.RFC3339Nano),
			"level": strings.ToLower(l.String()),
			"msg":   rendered,
		}
		b, err := json.Marshal(entry)
		if err != nil {
			return
		}
		fmt.Fprintln(w, string(b))
		return
	}

	fmt.Fprintf(w, "%s [%s] %s\n", time.Now().Format("2006-01-02 15:04:05"), l, rendered)
}
