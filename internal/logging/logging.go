// Package logging builds the zerolog logger used across bucketslurp.
//
// The logger travels in the context; packages retrieve it with
// zerolog.Ctx(ctx), which yields a disabled logger when none was attached.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Options configures the logger.
type Options struct {
	// Level is a zerolog level name. Default: info
	Level string

	// Output is where log lines are written.
	// Default: os.Stderr
	Output io.Writer

	// NoColor disables ANSI colors in the console output.
	NoColor bool
}

// New returns a console logger. An unknown level falls back to info and
// the fallback is logged as a warning.
func New(opts Options) zerolog.Logger {
	if opts.Output == nil {
		opts.Output = os.Stderr
	}

	output := zerolog.ConsoleWriter{
		Out:        opts.Output,
		TimeFormat: "2006-01-02 15:04:05",
		NoColor:    opts.NoColor,
	}
	log := zerolog.New(output).With().Timestamp().Logger()

	level, err := ParseLevel(opts.Level)
	if err != nil {
		log.Warn().Str("level", opts.Level).Msg("invalid log level, defaulting to info")
	}
	return log.Level(level)
}

// ParseLevel parses a level name. The empty string means info.
func ParseLevel(s string) (zerolog.Level, error) {
	if s == "" {
		return zerolog.InfoLevel, nil
	}
	level, err := zerolog.ParseLevel(s)
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel, err
	}
	return level, nil
}

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
}
