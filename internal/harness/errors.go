package harness

import "errors"

// Common errors for the harness package
var (
	// ErrSandboxRuntime is the Result cause when code inside the page throws an uncaught error
	ErrSandboxRuntime = errors.New("sandbox runtime error")

	// ErrUnsupportedContentType is returned when the static server is asked for an extension missing from its content-type table
	ErrUnsupportedContentType = errors.New("unsupported content type")

	// ErrTimeout is returned when the run exceeds its timeout
	ErrTimeout = errors.New("harness timed out")

	// ErrUnknownCommand is returned to the sandbox for an unrecognized privileged call
	ErrUnknownCommand = errors.New("unknown command")

	// ErrInvalidArgument is returned to the sandbox when a privileged call has malformed arguments
	ErrInvalidArgument = errors.New("invalid argument")
)
