package logging

import (
	"io"
	"log/slog"
)

// New builds the service's JSON logger.
func New(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{AddSource: true, Level: level}))
}
