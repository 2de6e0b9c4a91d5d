// Package klog initializes the process-wide zerolog logger and hands out
// per-component child loggers, following the console/JSON writer split in
// HoNfigurator-Portal-energizer's internal/util.InitLogger.
package klog

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Options configures the root logger.
type Options struct {
	Level   string // parsed with zerolog.ParseLevel; invalid/empty falls back to info
	Console bool   // human-readable ConsoleWriter to stderr instead of JSON
}

// DefaultOptions matches the CLI's defaults.
func DefaultOptions() Options {
	return Options{Level: "info", Console: true}
}

// Init builds the root logger described by opts.
func Init(opts Options) zerolog.Logger {
	level, err := zerolog.ParseLevel(opts.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	var out = os.Stderr
	var log zerolog.Logger
	if opts.Console {
		log = zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"})
	} else {
		log = zerolog.New(out)
	}

	return log.With().Timestamp().Logger()
}

// Component returns a child logger tagged with a "component" field, the
// way ComponentLogger does for Energizer's subsystems.
func Component(base zerolog.Logger, name string) zerolog.Logger {
	return base.With().Str("component", name).Logger()
}
