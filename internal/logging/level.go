package logging

import (
	"context"
	"log/slog"
	"strings"
)

const (
	// LevelVerbose sits below debug and carries per-tier chatter such as
	// cache hits.
	LevelVerbose = slog.LevelDebug - 4
	// LevelNone disables every record.
	LevelNone = slog.LevelError + 100
)

// ParseLevel maps a configured level name to a slog level. Unknown names
// fall back to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "verbose", "trace":
		return LevelVerbose
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	case "none", "off":
		return LevelNone
	case "info", "":
		return slog.LevelInfo
	default:
		return slog.LevelInfo
	}
}

// Verbose logs at LevelVerbose.
func Verbose(logger *slog.Logger, msg string, attrs ...Attr) {
	if logger == nil {
		return
	}
	logger.LogAttrs(context.Background(), LevelVerbose, msg, attrs...)
}

func levelLabel(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "ERROR"
	case level >= slog.LevelWarn:
		return "WARN"
	case level >= slog.LevelInfo:
		return "INFO"
	case level >= slog.LevelDebug:
		return "DEBUG"
	default:
		return "VERBOSE"
	}
}
