// Package logger provides structured logging for addressd
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog with addressd-specific functionality
type Logger struct {
	zlog zerolog.Logger
}

// Config holds logger configuration
type Config struct {
	Level      string // debug, info, warn, error
	Pretty     bool   // pretty-print for development
	Output     io.Writer
	WithCaller bool
}

// New creates a new structured logger
func New(cfg Config) *Logger {
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	// Pretty printing for development
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}
	}

	zlog := zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		Str("service", "addressd").
		Logger()

	if cfg.WithCaller {
		zlog = zlog.With().Caller().Logger()
	}

	return &Logger{zlog: zlog}
}

// Nop returns a logger that discards everything. Packages accept a nil
// *Logger and route through this, so library code never nil-checks events.
func Nop() *Logger {
	return &Logger{zlog: zerolog.Nop()}
}

// GetZerolog returns the underlying zerolog logger
func (l *Logger) GetZerolog() *zerolog.Logger {
	return &l.zlog
}

func (l *Logger) orNop() *Logger {
	if l == nil {
		return Nop()
	}
	return l
}

// Info logs an info message
func (l *Logger) Info() *zerolog.Event {
	return l.orNop().zlog.Info()
}

// Debug logs a debug message
func (l *Logger) Debug() *zerolog.Event {
	return l.orNop().zlog.Debug()
}

// Warn logs a warning message
func (l *Logger) Warn() *zerolog.Event {
	return l.orNop().zlog.Warn()
}

// Error logs an error message
func (l *Logger) Error() *zerolog.Event {
	return l.orNop().zlog.Error()
}

// Fatal logs a fatal message and exits
func (l *Logger) Fatal() *zerolog.Event {
	return l.orNop().zlog.Fatal()
}

// Component returns a logger tagged with a component name
// (ingest, download, index, search, http).
func (l *Logger) Component(name string) *Logger {
	return &Logger{
		zlog: l.orNop().zlog.With().Str("component", name).Logger(),
	}
}

// WithFields returns a logger with additional fields
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	ctx := l.orNop().zlog.With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	return &Logger{zlog: ctx.Logger()}
}

// LogHTTPRequest logs a completed HTTP request with structured fields
func (l *Logger) LogHTTPRequest(method, path string, status int, duration time.Duration) {
	event := l.orNop().zlog.Info()
	if status >= 500 {
		event = l.orNop().zlog.Error()
	}
	event.
		Str("component", "http").
		Str("method", method).
		Str("path", path).
		Int("status", status).
		Dur("duration_ms", duration).
		Msg("request completed")
}

// LogIndexOperation logs a bulk index operation with structured fields
func (l *Logger) LogIndexOperation(operation string, duration time.Duration, docCount int, err error) {
	event := l.orNop().zlog.Debug().
		Str("component", "index").
		Str("operation", operation).
		Dur("duration_ms", duration).
		Int("doc_count", docCount)

	if err != nil {
		event = l.orNop().zlog.Error().
			Str("component", "index").
			Str("operation", operation).
			Dur("duration_ms", duration).
			Int("doc_count", docCount).
			Err(err)
	}

	event.Msg("index operation completed")
}
