package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// New builds the process logger. format "console" gives human readable output,
// anything else JSON lines. Unknown levels fall back to info.
func New(service, level, format string) zerolog.Logger {
	return newWithWriter(os.Stdout, service, level, format)
}

func newWithWriter(w io.Writer, service, level, format string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	if strings.EqualFold(format, "console") {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).
		Level(lvl).
		With().
		Timestamp().
		Str("service", service).
		Int("pid", os.Getpid()).
		Logger()
}
