// Package logging builds the service's slog logger.
//
// Two formats are supported: "json" writes one JSON object per line (the default, for
// log shippers) and "text" writes colored, human readable lines through tint.
package logging

import (
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// New returns a logger writing to w in the given format at the given level.
func New(w io.Writer, format, level string) *slog.Logger {
	lvl := ParseLevel(level)

	var handler slog.Handler
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "text", "tint":
		handler = tint.NewHandler(w, &tint.Options{
			Level:      lvl,
			TimeFormat: time.Kitchen,
		})
	default:
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})
	}
	return slog.New(handler)
}

// ParseLevel maps debug, info, warn and error to slog levels. Anything else is info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
