// Package logging centralises zerolog construction so every component gets
// a consistently-shaped, component-scoped logger.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New builds the root logger. Output defaults to a human-readable console
// writer; set KBX_LOG_JSON=1 to emit raw JSON lines instead (useful when
// shipping to a log aggregator).
func New(w io.Writer) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}

	if os.Getenv("KBX_LOG_JSON") == "" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	level := zerolog.InfoLevel
	if lvl, err := zerolog.ParseLevel(os.Getenv("KBX_LOG_LEVEL")); err == nil && os.Getenv("KBX_LOG_LEVEL") != "" {
		level = lvl
	}

	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// Component returns a child logger tagged with the given component name,
// e.g. logging.Component(root, "ingest").
func Component(base zerolog.Logger, name string) zerolog.Logger {
	return base.With().Str("component", name).Logger()
}
