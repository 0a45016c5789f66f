package logger

import (
	"context"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type contextKey string

const LoggerKey contextKey = "logger"

// ConsoleTimeFormat matches the day-first timestamps operators read in container logs.
const ConsoleTimeFormat = "02.01.2006 15:04:05 MST"

// HumanTimeFormat renders schedule times for people, e.g. "Monday, January 02, 2006 03:04 PM".
const HumanTimeFormat = "Monday, January 02, 2006 03:04 PM"

var (
	outputMu sync.RWMutex
	output   io.Writer = os.Stdout
)

// Meta carries the static fields attached to every log line.
type Meta struct {
	Environment string
	Version     string
}

var meta = Meta{Environment: "development", Version: "unknown"}

type Logger struct {
	*zerolog.Logger
}

// New creates a new logger instance with service context
func New(service string) *Logger {
	hostname, _ := os.Hostname()

	outputMu.RLock()
	out := output
	m := meta
	outputMu.RUnlock()

	logger := zerolog.New(out).
		With().
		Timestamp().
		Str("service", service).
		Str("hostname", hostname).
		Str("environment", m.Environment).
		Str("version", m.Version).
		Logger()

	return &Logger{&logger}
}

// NewWithWriter creates a logger writing to w, used by tests that inspect output.
func NewWithWriter(service string, w io.Writer) *Logger {
	logger := zerolog.New(w).With().Timestamp().Str("service", service).Logger()
	return &Logger{&logger}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	logger := zerolog.Nop()
	return &Logger{&logger}
}

// WithContext returns a logger from context or creates a new one
func WithContext(ctx context.Context, service string) *Logger {
	if logger, ok := ctx.Value(LoggerKey).(*Logger); ok {
		return logger
	}
	return New(service)
}

// ToContext adds logger to context
func (l *Logger) ToContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, LoggerKey, l)
}

// WithRunID tags every line with the invocation it belongs to
func (l *Logger) WithRunID(runID string) *Logger {
	logger := l.Logger.With().Str("run_id", runID).Logger()
	return &Logger{&logger}
}

// WithJob adds job context for cron jobs
func (l *Logger) WithJob(jobName string) *Logger {
	logger := l.Logger.With().
		Str("job_name", jobName).
		Str("job_type", "cron").
		Logger()
	return &Logger{&logger}
}

// WithError adds error context
func (l *Logger) WithError(err error) *Logger {
	logger := l.Logger.With().Err(err).Logger()
	return &Logger{&logger}
}

// LogJobStart logs job execution start
func (l *Logger) LogJobStart(jobName string, schedule string, command []string) {
	l.Info().
		Str("action", "job_start").
		Str("job_name", jobName).
		Str("schedule", schedule).
		Strs("command", command).
		Msg("Starting job execution")
}

// LogJobComplete logs job completion
func (l *Logger) LogJobComplete(jobName string, duration time.Duration, exitCode int) {
	l.Info().
		Str("action", "job_complete").
		Str("job_name", jobName).
		Dur("duration", duration).
		Int("exit_code", exitCode).
		Msg("Job execution completed")
}

// LogNextDue logs a freshly computed due time
func (l *Logger) LogNextDue(jobName string, due time.Time) {
	l.Info().
		Str("action", "next_due").
		Str("job_name", jobName).
		Time("next_due", due).
		Str("next_due_human", due.Format(HumanTimeFormat)).
		Msg("Next execution planned")
}

// ParseLevel maps LOG_LEVEL values onto zerolog levels, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "trace":
		return zerolog.TraceLevel
	default:
		return zerolog.InfoLevel
	}
}

// Setup configures the global log level, the output format and the static
// fields. Pretty output uses a console writer for development.
func Setup(level string, pretty bool, m Meta) {
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.TimestampFieldName = "@timestamp" // ELK compatible
	zerolog.SetGlobalLevel(ParseLevel(level))

	outputMu.Lock()
	defer outputMu.Unlock()

	if m.Environment != "" {
		meta.Environment = m.Environment
	}
	if m.Version != "" {
		meta.Version = m.Version
	}

	if pretty {
		output = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: ConsoleTimeFormat}
		return
	}
	output = os.Stdout
}
