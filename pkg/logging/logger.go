// Package logging provides structured logging configuration using zerolog.
package logging

import (
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
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

	// Service is added to every entry when set.
	Service string
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:   LevelInfo,
		Pretty:  false,
		Output:  os.Stderr,
		Service: "movietracker-sw",
	}
}

// Setup configures the global zerolog logger and returns it.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(ParseLevel(cfg.Level))
	zerolog.DurationFieldUnit = time.Millisecond

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: time.TimeOnly}
	}

	ctx := zerolog.New(output).With().Timestamp()
	if cfg.Service != "" {
		ctx = ctx.Str("service", cfg.Service)
	}
	logger := ctx.Logger()

	log.Logger = logger
	return logger
}

// ParseLevel converts a LogLevel to a zerolog.Level. Unknown values map to Info.
func ParseLevel(level LogLevel) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(string(level))) {
	case "debug":
		return zerolog.DebugLevel
	case "info", "":
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

// Middleware attaches logger to each request context and writes one access
// entry per request. Requests under skipPrefix (health pings) are not logged.
func Middleware(logger zerolog.Logger, skipPrefix string, next http.Handler) http.Handler {
	access := hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		if skipPrefix != "" && strings.HasPrefix(r.URL.Path, skipPrefix) {
			return
		}
		event := hlog.FromRequest(r).Info()
		if status >= http.StatusInternalServerError {
			event = hlog.FromRequest(r).Warn()
		}
		event.
			Str("method", r.Method).
			Str("url", r.URL.String()).
			Int("status_code", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("Request served")
	})
	return hlog.NewHandler(logger)(access(next))
}

// Log Level Guidelines:
//
// Debug: request flow inside the worker
//   - Cache hit/miss per partition
//   - Strategy selection and the source a response came from
//   - Background refresh outcomes (stored, not modified, skipped)
//
// Info: lifecycle and operator-visible events
//   - Install, activate, partitions pruned
//   - Sync flushed, push shown, notification clicked
//   - Connectivity restored, server startup/shutdown
//
// Warn: degraded but serving
//   - Cache storage errors (response still returned)
//   - Seed failures of single manifest entries
//   - Retry attempts, outbox replays kept for later
//   - Going offline
//
// Error: requires attention
//   - Startup failures (config, Redis, outbox database)
//   - Requests failing with no cached fallback
//
// Context Fields:
//   - url: request URL
//   - method: HTTP method
//   - partition: cache partition name
//   - strategy: cache-first, network-first, network-first-offline
//   - status_code: HTTP status code
//   - duration: request duration
//   - error_class: client, server, rate_limit, network
//   - tag: background sync tag
