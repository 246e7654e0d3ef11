package smoothie

import (
	"io"
	"log/slog"
)

// NopLogger returns a logger that discards all output. New falls back to it
// when no WithLogger option is supplied, so every internal component's
// `.With("component", ...)` call still has a non-nil *slog.Logger to tag.
func NopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
