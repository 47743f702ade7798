// Package logging provides structured logging for the Catnip userspace
// network stack: plain text or JSON output, and chainable per-queue and
// per-flow context so a log line from deep inside a TCP flow or an
// ioqueue operation carries its queue descriptor / flow identity without
// every call site having to pass it explicitly.
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"
)

// Logger wraps stdlib log with level support, an optional JSON output
// mode, and immutable context fields attached via the With* methods.
type Logger struct {
	core   *core
	fields []field
}

type field struct {
	key string
	val any
}

// core is the shared, mutable state behind every Logger derived from the
// same root via With*; derived loggers only ever append to fields, never
// mutate core, so they can share one writer/mutex safely.
type core struct {
	mu      sync.Mutex
	logger  *log.Logger
	level   LogLevel
	format  string // "text" or "json"
	output  io.Writer
	noColor bool
	sync    bool
}

var (
	defaultLogger *Logger
	mu            sync.RWMutex
)

// LogLevel represents the available log levels
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// levelColor returns the ANSI color code for a level in text mode.
func levelColor(l LogLevel) string {
	switch l {
	case LevelDebug:
		return "\x1b[36m" // cyan
	case LevelInfo:
		return "\x1b[32m" // green
	case LevelWarn:
		return "\x1b[33m" // yellow
	case LevelError:
		return "\x1b[31m" // red
	default:
		return ""
	}
}

const colorReset = "\x1b[0m"

// Config holds logging configuration.
type Config struct {
	Level LogLevel
	// Format is "text" (default) or "json".
	Format string
	Output io.Writer
	// Sync forces output to be flushed (via a Sync() method, if Output
	// implements one) after every log call. Useful for tests asserting
	// on buffer contents and for crash-prone environments.
	Sync bool
	// NoColor disables ANSI color codes in text-mode level prefixes.
	NoColor bool
}

// DefaultConfig returns a sensible default configuration
func DefaultConfig() *Config {
	return &Config{
		Level:  LevelInfo,
		Format: "text",
		Output: os.Stderr,
	}
}

// NewLogger creates a new logger
func NewLogger(config *Config) *Logger {
	if config == nil {
		config = DefaultConfig()
	}
	output := config.Output
	if output == nil {
		output = os.Stderr
	}
	format := config.Format
	if format == "" {
		format = "text"
	}
	c := &core{
		logger:  log.New(output, "", log.LstdFlags),
		level:   config.Level,
		format:  format,
		output:  output,
		noColor: config.NoColor,
		// Sync is honored per-write in log.
		sync: config.Sync,
	}
	return &Logger{core: c}
}

// Default returns the default logger, creating it if necessary
func Default() *Logger {
	mu.RLock()
	if defaultLogger != nil {
		defer mu.RUnlock()
		return defaultLogger
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if defaultLogger == nil {
		defaultLogger = NewLogger(nil)
	}
	return defaultLogger
}

// SetDefault sets the default logger
func SetDefault(logger *Logger) {
	mu.Lock()
	defer mu.Unlock()
	defaultLogger = logger
}

// WithQueue returns a derived logger that tags every line with the given
// ioqueue descriptor, for tracing one queue's accept/push/pop lifecycle
// across log output.
func (l *Logger) WithQueue(qd uint32) *Logger {
	return l.with(field{"queue_id", qd})
}

// WithFlow returns a derived logger that tags every line with a TCP
// flow's local/remote port pair, for tracing one connection's segment
// history across log output.
func (l *Logger) WithFlow(localPort, remotePort uint16) *Logger {
	return l.with(field{"local_port", localPort}, field{"remote_port", remotePort})
}

// WithError returns a derived logger that tags every line with err.
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.with(field{"error", err.Error()})
}

func (l *Logger) with(fs ...field) *Logger {
	next := make([]field, 0, len(l.fields)+len(fs))
	next = append(next, l.fields...)
	next = append(next, fs...)
	return &Logger{core: l.core, fields: next}
}

func (l *Logger) log(level LogLevel, msg string, args ...any) {
	if level < l.core.level {
		return
	}
	l.core.mu.Lock()
	defer l.core.mu.Unlock()
	switch l.core.format {
	case "json":
		l.emitJSON(level, msg, args)
	default:
		l.emitText(level, msg, args)
	}
	if !l.core.sync {
		return
	}
	if s, ok := l.core.output.(interface{ Sync() error }); ok {
		_ = s.Sync()
	}
}

func (l *Logger) emitText(level LogLevel, msg string, args []any) {
	prefix := "[" + level.String() + "]"
	if !l.core.noColor {
		prefix = levelColor(level) + prefix + colorReset
	}
	l.core.logger.Printf("%s %s%s", prefix, msg, formatArgs(args, l.fields))
}

func (l *Logger) emitJSON(level LogLevel, msg string, args []any) {
	rec := map[string]any{
		"time":  time.Now().Format(time.RFC3339Nano),
		"level": level.String(),
		"msg":   msg,
	}
	for _, f := range l.fields {
		rec[f.key] = f.val
	}
	for i := 0; i+1 < len(args); i += 2 {
		if key, ok := args[i].(string); ok {
			rec[key] = args[i+1]
		}
	}
	enc := json.NewEncoder(l.core.output)
	_ = enc.Encode(rec)
}

// formatArgs renders context fields and call-site key-value args as a
// trailing " key=value key=value" suffix.
func formatArgs(args []any, ctx []field) string {
	var result string
	for _, f := range ctx {
		if result != "" {
			result += " "
		}
		result += fmt.Sprintf("%s=%v", f.key, f.val)
	}
	for i := 0; i < len(args); i += 2 {
		if i+1 < len(args) {
			if result != "" {
				result += " "
			}
			result += fmt.Sprintf("%v=%v", args[i], args[i+1])
		}
	}
	if result != "" {
		return " " + result
	}
	return ""
}

func (l *Logger) Debug(msg string, args ...any) {
	l.log(LevelDebug, msg, args...)
}

func (l *Logger) Info(msg string, args ...any) {
	l.log(LevelInfo, msg, args...)
}

func (l *Logger) Warn(msg string, args ...any) {
	l.log(LevelWarn, msg, args...)
}

func (l *Logger) Error(msg string, args ...any) {
	l.log(LevelError, msg, args...)
}

// Printf-style logging
func (l *Logger) Debugf(format string, args ...any) {
	l.log(LevelDebug, fmt.Sprintf(format, args...))
}

func (l *Logger) Infof(format string, args ...any) {
	l.log(LevelInfo, fmt.Sprintf(format, args...))
}

func (l *Logger) Warnf(format string, args ...any) {
	l.log(LevelWarn, fmt.Sprintf(format, args...))
}

func (l *Logger) Errorf(format string, args ...any) {
	l.log(LevelError, fmt.Sprintf(format, args...))
}

// Printf for compatibility with the interfaces.Logger contract.
func (l *Logger) Printf(format string, args ...any) {
	l.Infof(format, args...)
}

// Global convenience functions
func Debug(msg string, args ...any) {
	Default().Debug(msg, args...)
}

func Info(msg string, args ...any) {
	Default().Info(msg, args...)
}

func Warn(msg string, args ...any) {
	Default().Warn(msg, args...)
}

func Error(msg string, args ...any) {
	Default().Error(msg, args...)
}
