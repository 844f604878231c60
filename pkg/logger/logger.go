// Package logger builds the process-wide zerolog logger.
package logger

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"
)

var globalMu sync.Mutex

// Options controls logger construction.
type Options struct {
	Level      string
	Production bool
	// Output overrides stderr; used by tests.
	Output io.Writer
}

// New returns a logger and installs it as the zerolog global logger.
// Production always writes JSON; development uses the console writer on a TTY.
func New(opts Options) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(opts.Level)))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	logger := zerolog.New(selectOutput(opts)).Level(level).With().Timestamp().Logger()

	globalMu.Lock()
	log.Logger = logger
	globalMu.Unlock()

	return logger
}

func selectOutput(opts Options) io.Writer {
	if opts.Output != nil {
		return opts.Output
	}
	if !opts.Production && term.IsTerminal(int(os.Stderr.Fd())) && os.Getenv("NO_COLOR") == "" {
		return zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	}
	return os.Stderr
}
