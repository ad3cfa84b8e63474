// Package logging configures the process-wide zerolog logger, following the
// dev/prod handler-switch shape of the teacher's shared/logger package but
// built on zerolog rather than log/slog (see SPEC_FULL.md Ambient Stack).
package logging

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Init configures zerolog's global logger. In "production" env it emits
// single-line JSON suitable for ingestion; otherwise it emits a colorized
// console writer for local development.
func Init(env, level string) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339

	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	var logger zerolog.Logger
	if strings.EqualFold(env, "production") {
		logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	} else {
		writer := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}
		logger = zerolog.New(writer).With().Timestamp().Logger()
	}
	zerolog.DefaultContextLogger = &logger
	return logger
}
