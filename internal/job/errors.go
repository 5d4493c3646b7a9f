package job

import (
	"errors"
	"fmt"
)

// #region sentinels
var (
	// ErrExecutableNotFound means the program is not on the search path. Fatal.
	ErrExecutableNotFound = errors.New("executable not found")
	// ErrMissingOutputFile means a declared output was absent after exit.
	ErrMissingOutputFile = errors.New("missing output file")
	// ErrMalformedOutput means an output existed but could not be parsed.
	ErrMalformedOutput = errors.New("malformed output")
	// ErrStepTimeout means the step ran past its configured limit. Fatal.
	ErrStepTimeout = errors.New("step timed out")
)

// #endregion sentinels

// #region typed-errors

// ExecutableNotFoundError names the program that could not be resolved.
type ExecutableNotFoundError struct {
	Program string
	Err     error
}

func (e *ExecutableNotFoundError) Error() string {
	return fmt.Sprintf("executable not found: %s", e.Program)
}

func (e *ExecutableNotFoundError) Unwrap() []error {
	return []error{ErrExecutableNotFound, e.Err}
}

// MissingOutputError names the step and the file it failed to produce.
type MissingOutputError struct {
	Step string
	File string
}

func (e *MissingOutputError) Error() string {
	return fmt.Sprintf("%s: missing output file %s", e.Step, e.File)
}

func (e *MissingOutputError) Unwrap() error { return ErrMissingOutputFile }

// ExitError is returned when a program exits non-zero.
type ExitError struct {
	Step   string
	Code   int
	Stderr string // last lines of stderr
}

func (e *ExitError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("%s exited with status %d", e.Step, e.Code)
	}
	return fmt.Sprintf("%s exited with status %d: %s", e.Step, e.Code, e.Stderr)
}

// Malformed wraps a parse failure of a step's output.
func Malformed(step, format string, args ...any) error {
	return fmt.Errorf("%s: %w: %s", step, ErrMalformedOutput, fmt.Sprintf(format, args...))
}

// #endregion typed-errors
