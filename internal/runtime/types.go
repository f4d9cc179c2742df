package runtime

import (
	"errors"
	"io"
	"time"
)

// ExitCodeTimeout is reported when the deadline interrupts a script
const ExitCodeTimeout = 124

// ErrTimeout is returned alongside ExitCodeTimeout
var ErrTimeout = errors.New("execution timed out")

// Options configure one execution of an embedded-target artifact
type Options struct {
	// Args are appended to process.argv after the interpreter and script.
	Args []string

	Stdout io.Writer
	Stderr io.Writer

	// Timeout bounds execution including pending timers. Zero means none.
	Timeout time.Duration
}

// Result is the outcome of one execution
type Result struct {
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration"`
}

// exitRequest is passed through goja.Interrupt by process.exit.
type exitRequest struct {
	code int
}
