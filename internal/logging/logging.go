// Package logging builds the process logger. Operational logs go to
// stderr; stdout belongs to the chat console.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New builds the root logger for one process. level is a zerolog level
// name ("debug", "info", ...); format is "console" or "json". Unknown
// values fall back to info-level console output.
func New(service, level, format string) zerolog.Logger {
	return NewWithWriter(os.Stderr, service, level, format)
}

// NewWithWriter is New with an explicit destination.
func NewWithWriter(w io.Writer, service, level, format string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	out := w
	if format != "json" {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).Level(lvl).With().Timestamp().Str("service", service).Logger()
}
