// Package utils provides the logging stack shared by every fabric
// subsystem: leveled structured loggers with a rotating file sink and a
// console sink.
package utils

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"
)

// LogLevel represents logging severity
type LogLevel int

const (
	TRACE LogLevel = iota
	DEBUG
	INFO
	WARN
	ERROR
	FATAL
)

// String returns the string representation of a log level
func (l LogLevel) String() string {
	switch l {
	case TRACE:
		return "trace"
	case DEBUG:
		return "debug"
	case INFO:
		return "info"
	case WARN:
		return "warn"
	case ERROR:
		return "error"
	case FATAL:
		return "fatal"
	default:
		return "unknown"
	}
}

// ParseLevel converts a level name to a LogLevel; unknown names map to DEBUG.
func ParseLevel(name string) LogLevel {
	switch strings.ToLower(name) {
	case "trace":
		return TRACE
	case "debug":
		return DEBUG
	case "info":
		return INFO
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	case "fatal":
		return FATAL
	default:
		return DEBUG
	}
}

// LoggerConfig holds configuration for a subsystem logger
type LoggerConfig struct {
	Level    LogLevel
	Console  io.Writer       // nil disables the console sink
	Rotation *RotationConfig // nil disables the file sink
}

// DefaultLoggerConfig returns the default configuration: debug level,
// console on stdout, no file sink.
func DefaultLoggerConfig() *LoggerConfig {
	return &LoggerConfig{
		Level:   DEBUG,
		Console: os.Stdout,
	}
}

// StructuredLogger is a leveled logger bound to one named subsystem.
// Records are written as
// [2006-01-02 15:04:05.000] [level] [goroutine] component: message {k=v}.
type StructuredLogger struct {
	mu        sync.Mutex
	component string
	level     LogLevel
	console   io.Writer
	rotator   *LogRotator
	fields    map[string]interface{}
}

// NewStructuredLogger creates a logger for the named subsystem.
func NewStructuredLogger(component string, config *LoggerConfig) (*StructuredLogger, error) {
	if config == nil {
		config = DefaultLoggerConfig()
	}

	logger := &StructuredLogger{
		component: component,
		level:     config.Level,
		console:   config.Console,
	}

	if config.Rotation != nil {
		rotator, err := NewLogRotator(config.Rotation)
		if err != nil {
			return nil, fmt.Errorf("failed to create log rotator: %w", err)
		}
		logger.rotator = rotator
	}

	return logger, nil
}

// Discard returns a logger that drops every record; used in tests.
func Discard(component string) *StructuredLogger {
	return &StructuredLogger{component: component, level: FATAL, console: io.Discard}
}

// WithField returns a child logger carrying an additional context field.
func (sl *StructuredLogger) WithField(key string, value interface{}) *StructuredLogger {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	fields := make(map[string]interface{}, len(sl.fields)+1)
	for k, v := range sl.fields {
		fields[k] = v
	}
	fields[key] = value

	return &StructuredLogger{
		component: sl.component,
		level:     sl.level,
		console:   sl.console,
		rotator:   sl.rotator,
		fields:    fields,
	}
}

// SetLevel sets the logger level
func (sl *StructuredLogger) SetLevel(level LogLevel) {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	sl.level = level
}

// Component returns the subsystem name this logger is bound to.
func (sl *StructuredLogger) Component() string {
	return sl.component
}

func (sl *StructuredLogger) log(level LogLevel, message string, fields map[string]interface{}) {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	if level < sl.level {
		return
	}

	var sb strings.Builder
	sb.WriteString("[")
	sb.WriteString(time.Now().Format("2006-01-02 15:04:05.000"))
	sb.WriteString("] [")
	sb.WriteString(level.String())
	sb.WriteString("] [")
	sb.WriteString(goroutineID())
	sb.WriteString("] ")
	sb.WriteString(sl.component)
	sb.WriteString(": ")
	sb.WriteString(message)

	if len(sl.fields) > 0 || len(fields) > 0 {
		sb.WriteString(" {")
		first := true
		for k, v := range sl.fields {
			if !first {
				sb.WriteString(", ")
			}
			first = false
			fmt.Fprintf(&sb, "%s=%v", k, v)
		}
		for k, v := range fields {
			if !first {
				sb.WriteString(", ")
			}
			first = false
			fmt.Fprintf(&sb, "%s=%v", k, v)
		}
		sb.WriteString("}")
	}
	sb.WriteString("\n")

	record := []byte(sb.String())
	if sl.console != nil {
		_, _ = sl.console.Write(record)
	}
	if sl.rotator != nil {
		_, _ = sl.rotator.Write(record)
	}
}

// goroutineID extracts the current goroutine id from the runtime stack
// header; it stands in for the thread id of the record format.
func goroutineID() string {
	buf := make([]byte, 64)
	buf = buf[:runtime.Stack(buf, false)]
	// header shape: "goroutine 12 [running]:"
	buf = bytes.TrimPrefix(buf, []byte("goroutine "))
	if i := bytes.IndexByte(buf, ' '); i > 0 {
		return string(buf[:i])
	}
	return "0"
}

// Trace logs a trace message
func (sl *StructuredLogger) Trace(message string, fields ...map[string]interface{}) {
	sl.log(TRACE, message, firstOrNil(fields))
}

// Debug logs a debug message
func (sl *StructuredLogger) Debug(message string, fields ...map[string]interface{}) {
	sl.log(DEBUG, message, firstOrNil(fields))
}

// Info logs an info message
func (sl *StructuredLogger) Info(message string, fields ...map[string]interface{}) {
	sl.log(INFO, message, firstOrNil(fields))
}

// Warn logs a warning message
func (sl *StructuredLogger) Warn(message string, fields ...map[string]interface{}) {
	sl.log(WARN, message, firstOrNil(fields))
}

// Error logs an error message
func (sl *StructuredLogger) Error(message string, fields ...map[string]interface{}) {
	sl.log(ERROR, message, firstOrNil(fields))
}

// Debugf logs a formatted debug message
func (sl *StructuredLogger) Debugf(format string, args ...interface{}) {
	sl.log(DEBUG, fmt.Sprintf(format, args...), nil)
}

// Infof logs a formatted info message
func (sl *StructuredLogger) Infof(format string, args ...interface{}) {
	sl.log(INFO, fmt.Sprintf(format, args...), nil)
}

// Warnf logs a formatted warning message
func (sl *StructuredLogger) Warnf(format string, args ...interface{}) {
	sl.log(WARN, fmt.Sprintf(format, args...), nil)
}

// Errorf logs a formatted error message
func (sl *StructuredLogger) Errorf(format string, args ...interface{}) {
	sl.log(ERROR, fmt.Sprintf(format, args...), nil)
}

// Close releases the file sink, if any.
func (sl *StructuredLogger) Close() error {
	if sl.rotator != nil {
		return sl.rotator.Close()
	}
	return nil
}

// Sync flushes the file sink, if any.
func (sl *StructuredLogger) Sync() error {
	if sl.rotator != nil {
		return sl.rotator.Sync()
	}
	return nil
}

func firstOrNil(fields []map[string]interface{}) map[string]interface{} {
	if len(fields) > 0 {
		return fields[0]
	}
	return nil
}
