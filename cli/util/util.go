// Package util provides process-level helpers for the bundage CLI.
package util

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"
)

// IsTerminal reports whether f is attached to a terminal
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// NewLogger logs human-readable lines to a terminal and JSON lines
// otherwise.
func NewLogger(w io.Writer, tty bool) zerolog.Logger {
	if tty {
		return zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}).With().Timestamp().Logger()
	}
	return zerolog.New(w).With().Timestamp().Logger()
}

// SetupLogging installs the global logger writing to stderr
func SetupLogging() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.Logger = NewLogger(os.Stderr, IsTerminal(os.Stderr))
}
