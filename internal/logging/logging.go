package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Format selects the log output encoding.
type Format string

const (
	FormatJSON   Format = "json"   // structured output for log shippers
	FormatPretty Format = "pretty" // human-readable console output
)

// Config holds logger configuration.
type Config struct {
	Level  string // debug, info, warn, error
	Format Format
}

// New builds the service logger. JSON output with timestamps by default,
// console output when Format is "pretty".
func New(config Config) zerolog.Logger {
	var output io.Writer = os.Stdout

	level, err := zerolog.ParseLevel(config.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	if config.Format == FormatPretty {
		output = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
	}

	return zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		Str("service", "tripgated").
		Logger()
}
