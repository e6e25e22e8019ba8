// Package logx provides the logger used across the host runtime: a
// level-gated Logger interface with a standard-library-backed default
// implementation, extended with structured key/value scoping (With) since
// the Manager and Installer need per-server/per-install-id log context
// that a bare format-string logger can't carry.
package logx

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
)

// LogLevel is the severity a Logger is gated at.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// Logger is the logging interface every component of the host runtime
// takes a dependency on, never a concrete type.
type Logger interface {
	Debug(format string, v ...interface{})
	Info(format string, v ...interface{})
	Warn(format string, v ...interface{})
	Error(format string, v ...interface{})
	SetLevel(level LogLevel)
	IsLevelEnabled(level LogLevel) bool
	// With returns a Logger that prefixes every message with the given
	// key/value pairs, e.g. With("serverID", id).Info("started").
	With(kv ...interface{}) Logger
}

// DefaultLogger writes to a standard library *log.Logger, gated by level.
type DefaultLogger struct {
	logger *log.Logger
	level  LogLevel
	fields string
	mu     *sync.Mutex
}

// NewDefaultLogger creates a new logger writing to stderr at info level.
func NewDefaultLogger() *DefaultLogger {
	return &DefaultLogger{
		logger: log.New(os.Stderr, "[mcphostd] ", log.LstdFlags|log.Lmsgprefix),
		level:  LogLevelInfo,
		mu:     &sync.Mutex{},
	}
}

// NewLogger builds a Logger, interpreting logType as a level string
// ("debug"/"info"/"warn"/"error"); unrecognized values default to info.
func NewLogger(logType string) Logger {
	l := NewDefaultLogger()
	SetLogLevelFromString(l, logType)
	return l
}

func (l *DefaultLogger) format(format string) string {
	if l.fields == "" {
		return format
	}
	return l.fields + " " + format
}

func (l *DefaultLogger) Debug(format string, v ...interface{}) {
	if !l.IsLevelEnabled(LogLevelDebug) {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.logger.Printf("DEBUG: "+l.format(format), v...)
}

func (l *DefaultLogger) Info(format string, v ...interface{}) {
	if !l.IsLevelEnabled(LogLevelInfo) {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.logger.Printf("INFO: "+l.format(format), v...)
}

func (l *DefaultLogger) Warn(format string, v ...interface{}) {
	if !l.IsLevelEnabled(LogLevelWarn) {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.logger.Printf("WARN: "+l.format(format), v...)
}

func (l *DefaultLogger) Error(format string, v ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.logger.Printf("ERROR: "+l.format(format), v...)
}

func (l *DefaultLogger) SetLevel(level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

func (l *DefaultLogger) IsLevelEnabled(level LogLevel) bool {
	configuredSeverity := levelToSeverity(l.level)
	msgSeverity := levelToSeverity(level)
	return msgSeverity <= configuredSeverity
}

// With returns a child logger sharing this one's destination and level,
// prefixing every message with "key=value" pairs.
func (l *DefaultLogger) With(kv ...interface{}) Logger {
	child := &DefaultLogger{logger: l.logger, level: l.level, mu: l.mu, fields: appendFields(l.fields, kv)}
	return child
}

func appendFields(prefix string, kv []interface{}) string {
	var b strings.Builder
	b.WriteString(prefix)
	for i := 0; i+1 < len(kv); i += 2 {
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%v=%v", kv[i], kv[i+1])
	}
	return b.String()
}

// levelToSeverity maps a level to a permissiveness score: a higher score
// means more messages are logged at that configured level. debug is the
// most permissive, error the least.
func levelToSeverity(level LogLevel) int {
	switch level {
	case LogLevelDebug:
		return 100
	case LogLevelInfo:
		return 80
	case LogLevelWarn:
		return 50
	case LogLevelError:
		return 40
	default:
		return 80
	}
}

var _ Logger = (*DefaultLogger)(nil)

// SetLogLevelFromString sets logger's level from a free-form string,
// defaulting to info for anything unrecognized.
func SetLogLevelFromString(logger Logger, levelStr string) {
	var level LogLevel
	switch levelStr {
	case "debug":
		level = LogLevelDebug
	case "warn", "warning":
		level = LogLevelWarn
	case "error":
		level = LogLevelError
	default:
		level = LogLevelInfo
	}
	logger.SetLevel(level)
}

// StandardLoggerAdapter adapts a caller-supplied *log.Logger (e.g. one the
// host embedding us already configured) to the Logger interface.
type StandardLoggerAdapter struct {
	*DefaultLogger
}

// NewStandardLoggerAdapter wraps logger (or a stderr default if nil).
func NewStandardLoggerAdapter(logger *log.Logger) Logger {
	if logger == nil {
		logger = log.New(os.Stderr, "[mcphostd] ", log.LstdFlags)
	}
	return &StandardLoggerAdapter{DefaultLogger: &DefaultLogger{logger: logger, level: LogLevelInfo, mu: &sync.Mutex{}}}
}
