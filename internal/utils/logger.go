package utils

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
)

// LogLevel represents an enumeration of log levels
type LogLevel int

const (
	Error   LogLevel = 40
	Warning LogLevel = 30
	Info    LogLevel = 20
	Debug   LogLevel = 10
)

// LevelFromString maps a config value ("debug", "info", "warn", "error")
// to a LogLevel. Unknown values fall back to Info.
func LevelFromString(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return Debug
	case "info", "":
		return Info
	case "warn", "warning":
		return Warning
	case "error":
		return Error
	default:
		return Info
	}
}

// Logger provides leveled key/value logging with a component prefix.
type Logger struct {
	prefix string
	logger *log.Logger

	mu    sync.Mutex
	level LogLevel
}

// NewLogger creates a new logger with a given component prefix.
func NewLogger(prefix string, level ...LogLevel) *Logger {
	lv := Info
	if len(level) > 0 {
		lv = level[0]
	}
	return &Logger{
		prefix: prefix,
		logger: log.New(os.Stdout, fmt.Sprintf("[%s] ", prefix), log.LstdFlags),
		level:  lv,
	}
}

// Named returns a logger for a sub-component, inheriting the level.
func (l *Logger) Named(name string) *Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	return NewLogger(l.prefix+"/"+name, l.level)
}

// SetLevel sets the logging level.
func (l *Logger) SetLevel(level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

// Debug logs a debug message
func (l *Logger) Debug(msg string, keyvals ...any) { l.log(Debug, "DEBUG", msg, keyvals...) }

// Info logs an informational message
func (l *Logger) Info(msg string, keyvals ...any) { l.log(Info, "INFO", msg, keyvals...) }

// Warn logs a warning message
func (l *Logger) Warn(msg string, keyvals ...any) { l.log(Warning, "WARN", msg, keyvals...) }

// Error logs an error message
func (l *Logger) Error(msg string, keyvals ...any) { l.log(Error, "ERROR", msg, keyvals...) }

func (l *Logger) log(level LogLevel, tag, msg string, keyvals ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.level > level {
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", tag, msg)
	for i := 0; i+1 < len(keyvals); i += 2 {
		fmt.Fprintf(&b, " %v=%v", keyvals[i], keyvals[i+1])
	}
	l.logger.Println(b.String())
}
