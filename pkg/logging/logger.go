// Package logging configures the zerolog logger shared by the stackcache
// packages and the stackcache binary.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs debug messages and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs info messages and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs warning messages and above.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
	LevelError LogLevel = "error"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// Setup configures the global zerolog logger and returns it.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output}
	}

	logger := zerolog.New(output).With().Timestamp().Logger()
	log.Logger = logger

	return logger
}

// ParseLevel converts a free-form level name (as found in config files or
// flags) into a LogLevel. Unknown names map to LevelInfo.
func ParseLevel(name string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug", "trace":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error", "fatal":
		return LevelError
	default:
		return LevelInfo
	}
}

// parseLevel converts LogLevel to zerolog.Level.
func parseLevel(level LogLevel) zerolog.Level {
	switch strings.ToLower(string(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Log Level Guidelines:
//
// Debug: Detailed information for debugging
//   - Page fetches (resource, page, item count)
//   - Throttle waits and queue hand-offs
//   - Cache scans and replaces (partition, item count)
//
// Info: Normal operation events
//   - Completed partition syncs
//   - Mode changes (online/offline)
//   - Server startup/shutdown
//
// Warn: Warning conditions that don't prevent operation
//   - Server-imposed backoff, low remaining quota
//   - Retry attempts
//   - Cache write failures after a successful fetch
//   - Fallback to cached data after a failed fetch
//
// Error: Error conditions requiring attention
//   - Failed syncs (after retries)
//   - Exhausted quota
//   - Cache store unavailable
//
// Context Fields:
//   - component: emitting package (transport, ratelimit, pagination, cache, syncer)
//   - resource: API resource path
//   - page / page_size: paging cursor position
//   - partition: cache partition key
//   - status_code: HTTP status code
//   - error_class: client, server, rate_limit, network
//   - wait: throttle or backoff wait duration
//   - quota_remaining: remaining API quota
//   - outcome: sync outcome (fresh, cached, degraded, no_cached_data)
