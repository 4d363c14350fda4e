package logging

import (
	"io"
	"os"
	"sync"
)

var (
	globalLogger = DefaultLogger()
	globalMu     sync.RWMutex
)

// SetGlobal sets the global logger.
func SetGlobal(l *Logger) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalLogger = l
}

// Global returns the global logger.
func Global() *Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalLogger
}

// Configure creates a logger from config values, installs it as the global
// logger and returns it. Caller info is added at debug level.
func Configure(level, format string) *Logger {
	return ConfigureOutput(level, format, os.Stderr)
}

// ConfigureOutput is Configure with an explicit writer.
func ConfigureOutput(level, format string, out io.Writer) *Logger {
	lvl := ParseLevel(level)
	l := New(Config{
		Level:     lvl,
		Format:    ParseFormat(format),
		Output:    out,
		AddCaller: lvl == LevelDebug,
	})
	SetGlobal(l)
	return l
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return New(Config{Level: LevelError + 1, Output: io.Discard})
}

// Info logs an info message to the global logger.
func Info(msg string) { Global().Info(msg) }

// Infof logs an info message with fields to the global logger.
func Infof(msg string, fields map[string]any) { Global().Infof(msg, fields) }

// Warnf logs a warning message with fields to the global logger.
func Warnf(msg string, fields map[string]any) { Global().Warnf(msg, fields) }

// Errorf logs an error message with fields to the global logger.
func Errorf(msg string, fields map[string]any) { Global().Errorf(msg, fields) }
