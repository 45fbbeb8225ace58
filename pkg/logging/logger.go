// Package logging provides structured logging configuration using zerolog.
package logging

import (
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel is the minimum level written, as accepted from LOG_LEVEL or flags.
type LogLevel string

// Supported levels.
const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// Environment variables read by ConfigFromEnv.
const (
	EnvLevel  = "LOG_LEVEL"
	EnvPretty = "LOG_PRETTY"
)

// Config holds logger configuration.
type Config struct {
	Level LogLevel

	// Pretty switches from JSON lines to zerolog's console writer.
	Pretty bool

	// Output defaults to os.Stderr.
	Output io.Writer
}

// DefaultConfig returns JSON logging at info level on stderr.
func DefaultConfig() Config {
	return Config{Level: LevelInfo, Output: os.Stderr}
}

// ConfigFromEnv returns DefaultConfig overridden by LOG_LEVEL and LOG_PRETTY.
func ConfigFromEnv() Config {
	return configFromLookup(os.LookupEnv)
}

func configFromLookup(lookup func(string) (string, bool)) Config {
	cfg := DefaultConfig()
	if v, ok := lookup(EnvLevel); ok && v != "" {
		cfg.Level = LogLevel(strings.ToLower(strings.TrimSpace(v)))
	}
	if v, ok := lookup(EnvPretty); ok {
		if pretty, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			cfg.Pretty = pretty
		}
	}
	return cfg
}

// Setup configures the global zerolog logger and returns it.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(cfg.Level.zerolog())

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: time.TimeOnly}
	}

	logger := zerolog.New(output).With().Timestamp().Logger()
	log.Logger = logger

	return logger
}

// zerolog maps l to a zerolog level. Unknown levels log at info.
func (l LogLevel) zerolog() zerolog.Level {
	name := strings.ToLower(strings.TrimSpace(string(l)))
	if name == "warning" {
		name = string(LevelWarn)
	}
	switch level, err := zerolog.ParseLevel(name); {
	case err != nil, name == "", level < zerolog.DebugLevel, level > zerolog.ErrorLevel:
		return zerolog.InfoLevel
	default:
		return level
	}
}

// NewLogger derives a logger for component from the global logger.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// ForJob adds the job id, and the run id when known, to logger.
func ForJob(logger zerolog.Logger, jobID, runID string) zerolog.Logger {
	ctx := logger.With().Str("job_id", jobID)
	if runID != "" {
		ctx = ctx.Str("run_id", runID)
	}
	return ctx.Logger()
}

// Log Level Guidelines:
//
// Debug: Detailed information for debugging
//   - Per-item outcomes (imported, merged, skipped)
//   - Upstream request flow (conditional requests, ETags, cache refreshes)
//   - Rate limit observations
//
// Info: Normal operation events
//   - Job transitions (start, resume, pause, reset, completion)
//   - Batch summaries
//   - Runner waits for a rate-limit reset
//   - Server startup/shutdown
//
// Warn: Warning conditions that don't prevent operation
//   - Item failures (counted, the job continues)
//   - Retry attempts
//   - Rate-limit pauses
//   - Cache errors (fallback to a full request)
//
// Error: Error conditions requiring attention
//   - Listing failures that move a job to the error state
//   - Store failures
//   - Configuration errors
//
// Context Fields:
//   - job_id, run_id: Job and Running attempt
//   - status: Job status after the operation
//   - processed, total: Cursor position
//   - identity: Upstream id or login of an item
//   - endpoint: Upstream endpoint label (search, profile)
//   - error_class: Error classification (client, server, rate_limit, network)
//   - rate_limit_remaining, reset_at: Observed quota
