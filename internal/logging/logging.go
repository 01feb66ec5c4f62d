package logging

import (
	"io"
	"log/slog"
)

// New creates a configured application logger.
// It writes to w (stderr in the CLI, keeping stdout for device output).
// It standardizes common keys (e.g., "error" -> "err").
func New(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			// Standardize 'error' key to 'err'
			if a.Key == "error" {
				a.Key = "err"
			}
			return a
		},
	}))
}

// NewNop returns a no-op logger.
func NewNop() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// LevelFromVerbosity maps a -v count to a level: warnings by default,
// info with -v, debug with -vv.
func LevelFromVerbosity(n int) slog.Level {
	switch {
	case n <= 0:
		return slog.LevelWarn
	case n == 1:
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}
