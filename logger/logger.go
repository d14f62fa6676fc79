// Package logger builds the process logger.
package logger

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// New returns a zerolog logger for the environment. Development gets a
// human-readable console writer at debug level; everything else gets JSON
// at info level.
func New(environment string) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339

	switch strings.ToLower(environment) {
	case "development", "dev", "local", "test":
		out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
		return zerolog.New(out).Level(zerolog.DebugLevel).With().Timestamp().Logger()
	default:
		return zerolog.New(os.Stdout).Level(zerolog.InfoLevel).With().
			Timestamp().
			Str("service", "benefit-engine").
			Logger()
	}
}
