// Package logging provides the leveled logger used across cortexmind.
// It wraps zerolog with component sub-loggers, optional file output, and a
// process-wide global instance.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ═══════════════════════════════════════════════════════════════════════════════
// LOG LEVELS
// ═══════════════════════════════════════════════════════════════════════════════

// Level represents the severity of a log message.
type Level int

const (
	LevelDebug Level = iota // Detailed debugging information
	LevelInfo               // General operational information
	LevelWarn               // Warning conditions
	LevelError              // Error conditions
)

// String returns the string representation of a log level.
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
	default:
		return "UNKNOWN"
	}
}

func (l Level) zerolog() zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// ParseLevel converts a level name to a Level. Unknown names map to LevelInfo.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// LOGGER
// ═══════════════════════════════════════════════════════════════════════════════

// Logger is a zerolog-backed logger with a component name and sticky fields.
// base carries the sticky fields; zl adds the component on top.
type Logger struct {
	mu        sync.Mutex
	base      zerolog.Logger
	zl        zerolog.Logger
	level     Level
	component string
	file      *os.File
}

// Config configures the logger behavior.
type Config struct {
	Level     Level  // Minimum level to log
	FilePath  string // Optional file path; when set, logs go there instead of stderr
	Console   bool   // Human-readable console output instead of JSON
	Component string // Component name attached to every entry
}

// DefaultConfig returns the configuration used by the global logger.
func DefaultConfig() *Config {
	return &Config{
		Level:   LevelInfo,
		Console: true,
	}
}

// New creates a new Logger instance writing to stderr or to cfg.FilePath.
func New(cfg *Config) *Logger {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	l := &Logger{level: cfg.Level, component: cfg.Component}

	var out io.Writer = os.Stderr
	if cfg.FilePath != "" {
		f, err := openLogFile(cfg.FilePath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to open log file: %v\n", err)
		} else {
			l.file = f
			out = f
		}
	}
	if cfg.Console && l.file == nil {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.TimeOnly}
	}

	l.base = newZerolog(out, cfg.Level)
	l.zl = withComponent(l.base, cfg.Component)
	return l
}

// NewWithWriter creates a JSON logger writing to w. Used by tests and by
// callers that manage their own sinks.
func NewWithWriter(w io.Writer, level Level) *Logger {
	zl := newZerolog(w, level)
	return &Logger{level: level, base: zl, zl: zl}
}

func newZerolog(w io.Writer, level Level) zerolog.Logger {
	return zerolog.New(w).Level(level.zerolog()).With().Timestamp().Logger()
}

func withComponent(base zerolog.Logger, component string) zerolog.Logger {
	if component == "" {
		return base
	}
	return base.With().Str("component", component).Logger()
}

// derive returns a child sharing l's level but not its file handle.
func (l *Logger) derive(base zerolog.Logger, component string) *Logger {
	return &Logger{
		level:     l.level,
		component: component,
		base:      base,
		zl:        withComponent(base, component),
	}
}

func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return f, nil
}

// ═══════════════════════════════════════════════════════════════════════════════
// GLOBAL LOGGER
// ═══════════════════════════════════════════════════════════════════════════════

var (
	globalLogger *Logger
	globalMu     sync.RWMutex
)

func init() {
	globalLogger = New(DefaultConfig())
}

// SetGlobal sets the global logger instance.
func SetGlobal(l *Logger) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalLogger = l
}

// Global returns the global logger instance.
func Global() *Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalLogger
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return &Logger{level: LevelError, base: zerolog.Nop(), zl: zerolog.Nop()}
}

// ═══════════════════════════════════════════════════════════════════════════════
// LOGGER METHODS
// ═══════════════════════════════════════════════════════════════════════════════

// Level returns the minimum level this logger emits.
func (l *Logger) Level() Level {
	return l.level
}

// Zerolog exposes the underlying zerolog logger, component included, for
// call sites that log typed fields.
func (l *Logger) Zerolog() zerolog.Logger {
	return l.zl
}

// Close closes any open file handle.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		err := l.file.Close()
		l.file = nil
		return err
	}
	return nil
}

// WithComponent returns a child logger tagged with a component name,
// replacing any component the parent had.
func (l *Logger) WithComponent(name string) *Logger {
	return l.derive(l.base, name)
}

// WithField returns a child logger with an additional field.
func (l *Logger) WithField(key string, value any) *Logger {
	return l.derive(l.base.With().Interface(key, value).Logger(), l.component)
}

// WithFields returns a child logger with additional fields.
func (l *Logger) WithFields(fields map[string]any) *Logger {
	return l.derive(l.base.With().Fields(fields).Logger(), l.component)
}

// ═══════════════════════════════════════════════════════════════════════════════
// LOG METHODS
// ═══════════════════════════════════════════════════════════════════════════════

// Debug logs a debug message.
func (l *Logger) Debug(format string, args ...any) {
	l.zl.Debug().Msgf(format, args...)
}

// Info logs an info message.
func (l *Logger) Info(format string, args ...any) {
	l.zl.Info().Msgf(format, args...)
}

// Warn logs a warning message.
func (l *Logger) Warn(format string, args ...any) {
	l.zl.Warn().Msgf(format, args...)
}

// Error logs an error message.
func (l *Logger) Error(format string, args ...any) {
	l.zl.Error().Msgf(format, args...)
}
