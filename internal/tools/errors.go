package tools

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is wrapped by dispatch when a tool name is unknown.
var ErrNotFound = errors.New("tool not found")

// InvalidArgsError reports that tool arguments failed schema validation.
// It is recoverable: the originating agent may ask the user for the
// missing fields instead of failing the run.
type InvalidArgsError struct {
	// Tool is the tool whose schema rejected the arguments.
	Tool string

	// Issues lists the individual validation failures.
	Issues []string
}

func (e *InvalidArgsError) Error() string {
	return fmt.Sprintf("invalid arguments for tool %q: %s", e.Tool, strings.Join(e.Issues, "; "))
}

// TimeoutError reports that a tool exceeded its deadline. It is treated as
// recoverable unless the tool is registered as critical.
type TimeoutError struct {
	// Tool is the tool that timed out.
	Tool string

	// Deadline is the timeout that was exceeded.
	Deadline time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("tool %q exceeded its %s deadline", e.Tool, e.Deadline)
}

// IsInvalidArgs reports whether err is an InvalidArgsError.
func IsInvalidArgs(err error) bool {
	var target *InvalidArgsError
	return errors.As(err, &target)
}

// IsTimeout reports whether err is a TimeoutError.
func IsTimeout(err error) bool {
	var target *TimeoutError
	return errors.As(err, &target)
}
