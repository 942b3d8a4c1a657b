package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// New constructs the service logger. Development environments get a console
// writer; everything else logs JSON to stdout.
func New(env, level string) zerolog.Logger {
	return NewWithWriter(os.Stdout, env, level)
}

// NewWithWriter is New with an explicit destination.
func NewWithWriter(w io.Writer, env, level string) zerolog.Logger {
	lvl := ParseLevel(level)

	out := w
	if strings.EqualFold(env, "development") {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	return zerolog.New(out).
		Level(lvl).
		With().
		Timestamp().
		Logger()
}

// ParseLevel maps a config log level onto zerolog, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// Component returns a child logger tagged with a component name.
func Component(l zerolog.Logger, name string) zerolog.Logger {
	return l.With().Str("component", name).Logger()
}
