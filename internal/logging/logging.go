// Package logging configures the global rs/zerolog logger, following the
// Init/InitFromEnv shape from andriipushkar-shop's internal/logger package.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

var log zerolog.Logger

// Config holds logger configuration.
type Config struct {
	Level  string // debug, info, warn, error
	Pretty bool   // console writer for local runs
}

// DefaultConfig returns the default logger configuration.
func DefaultConfig() Config {
	return Config{Level: "info", Pretty: false}
}

// Init initializes the global logger.
func Init(cfg Config) {
	var output io.Writer = os.Stdout
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	zerolog.TimeFieldFormat = time.RFC3339
	log = zerolog.New(output).
		Level(parseLevel(cfg.Level)).
		With().
		Timestamp().
		Logger()
}

func parseLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Get returns the global logger.
func Get() zerolog.Logger { return log }

// WithRun returns a logger scoped to one sync run.
func WithRun(runID string) zerolog.Logger {
	return log.With().Str("run_id", runID).Logger()
}

// WithPlatform returns a logger scoped to one marketplace.
func WithPlatform(platform string) zerolog.Logger {
	return log.With().Str("platform", platform).Logger()
}
