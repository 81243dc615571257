package utils

import (
	"io"
	"log/slog"
	"os"
)

// NewLogger creates the application logger; format "json" selects the JSON handler
func NewLogger(format string) *slog.Logger {
	return newLogger(os.Stdout, format)
}

func newLogger(w io.Writer, format string) *slog.Logger {
	opts := &slog.HandlerOptions{AddSource: true}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
