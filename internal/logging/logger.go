package logging

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, pretty
	Output io.Writer
}

// DefaultLogConfig returns sensible defaults
func DefaultLogConfig() *LogConfig {
	return &LogConfig{
		Level:  "info",
		Format: "pretty",
		Output: os.Stderr,
	}
}

// Setup configures the global logger
func Setup(config *LogConfig) error {
	level, err := zerolog.ParseLevel(config.Level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", config.Level, err)
	}
	zerolog.SetGlobalLevel(level)

	out := config.Output
	if out == nil {
		out = os.Stderr
	}

	switch config.Format {
	case "pretty", "":
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	case "json":
	default:
		return fmt.Errorf("invalid log format %q (want json or pretty)", config.Format)
	}

	log.Logger = zerolog.New(out).With().Timestamp().Logger()
	return nil
}

// Logger provides structured logging for pipeline components
type Logger struct {
	prefix string
	logger zerolog.Logger
}

// NewLogger creates a new logger tagged with a component name
func NewLogger(prefix string) *Logger {
	return &Logger{
		prefix: prefix,
		logger: log.With().Str("component", prefix).Logger(),
	}
}

// NewLoggerWith builds a logger on top of an explicit zerolog logger (tests)
func NewLoggerWith(prefix string, zl zerolog.Logger) *Logger {
	return &Logger{
		prefix: prefix,
		logger: zl.With().Str("component", prefix).Logger(),
	}
}

// With returns a child logger carrying extra key-value pairs
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	ctx := l.logger.With()
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		ctx = ctx.Interface(fmt.Sprint(keysAndValues[i]), keysAndValues[i+1])
	}
	return &Logger{prefix: l.prefix, logger: ctx.Logger()}
}

// Info logs an informational message with key-value pairs
func (l *Logger) Info(msg string, keysAndValues ...interface{}) {
	l.logWithKV(l.logger.Info(), msg, keysAndValues...)
}

// Warn logs a warning message with key-value pairs
func (l *Logger) Warn(msg string, keysAndValues ...interface{}) {
	l.logWithKV(l.logger.Warn(), msg, keysAndValues...)
}

// Error logs an error message with key-value pairs
func (l *Logger) Error(msg string, keysAndValues ...interface{}) {
	l.logWithKV(l.logger.Error(), msg, keysAndValues...)
}

// Debug logs a debug message with key-value pairs
func (l *Logger) Debug(msg string, keysAndValues ...interface{}) {
	l.logWithKV(l.logger.Debug(), msg, keysAndValues...)
}

func (l *Logger) logWithKV(ev *zerolog.Event, msg string, keysAndValues ...interface{}) {
	if ev == nil {
		return
	}
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key := fmt.Sprint(keysAndValues[i])
		switch v := keysAndValues[i+1].(type) {
		case error:
			ev = ev.AnErr(key, v)
		case time.Duration:
			ev = ev.Dur(key, v)
		default:
			ev = ev.Interface(key, v)
		}
	}
	ev.Msg(msg)
}

// Zerolog exposes the underlying logger for libraries that need it
func (l *Logger) Zerolog() zerolog.Logger {
	return l.logger
}
