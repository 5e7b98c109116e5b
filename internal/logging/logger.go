// Package logging builds the process logger.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/nucleus/sprint-worklog/internal/config"
)

// New returns a console logger in dev and a JSON logger otherwise. Output
// goes to stderr so command output on stdout stays clean.
func New(cfg *config.Config) zerolog.Logger {
	return NewWithWriter(cfg, os.Stderr)
}

// NewWithWriter is New with an explicit destination.
func NewWithWriter(cfg *config.Config, w io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if cfg.IsDev() {
		output := zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
		logger = zerolog.New(output).With().Timestamp().Logger()
	} else {
		zerolog.TimeFieldFormat = time.RFC3339
		logger = zerolog.New(w).With().Timestamp().Logger()
	}
	logger = logger.Level(level)
	log.Logger = logger
	return logger
}
