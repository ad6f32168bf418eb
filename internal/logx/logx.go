// Package logx sets up the process logger on top of zerolog.
package logx

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

const timeFormat = "2006-01-02T15:04:05.000Z07:00"

// New returns a logger writing to w. format is "console" or "json"; source
// is attached to every line.
func New(w io.Writer, level, format, source string) zerolog.Logger {
	zerolog.TimeFieldFormat = timeFormat
	zerolog.ErrorFieldName = "err"

	if w == nil {
		w = os.Stderr
	}
	if strings.EqualFold(format, "console") {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: timeFormat}
	}

	return zerolog.New(w).
		Level(ParseLevel(level, zerolog.InfoLevel)).
		With().
		Timestamp().
		Str("source", source).
		Logger()
}

// ParseLevel maps a level name to a zerolog level, falling back to def.
func ParseLevel(level string, def zerolog.Level) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	}
	return def
}
