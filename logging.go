package haltty

import (
	"context"
	"io"
	"log/slog"
)

// discardLogger is the default *slog.Logger for a Session that has not
// been given one via WithLogger: haltty is a library, so it never writes
// to stderr on the caller's behalf unless asked.
func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// warnInactive logs the misuse case spec.md §7 calls out explicitly:
// touching an inactive session is a warning, never a hard error.
func warnInactive(logger *slog.Logger, op string) {
	logger.Log(context.Background(), slog.LevelWarn, "haltty: operation on inactive session", "op", op)
}
