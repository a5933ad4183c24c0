package logger

import (
	"log/slog"
	"os"
)

// New returns the service-wide structured logger. Level defaults to info and
// can be lowered via CREDENCE_LOG_LEVEL=debug.
func New() *slog.Logger {
	level := slog.LevelInfo
	if os.Getenv("CREDENCE_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	return slog.New(handler)
}
