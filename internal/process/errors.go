package process

import (
	"fmt"
	"time"
)

// ExitError reports a command that ran and exited non-zero.
type ExitError struct {
	Command  string
	ExitCode int
	Output   string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s failed with exit code %d\n%s", e.Command, e.ExitCode, e.Output)
}

// StartError reports a command that could not be spawned.
type StartError struct {
	Command string
	Err     error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("Failed to start %s: %v", e.Command, e.Err)
}

func (e *StartError) Unwrap() error { return e.Err }

// TimeoutError reports a command killed because its deadline passed.
type TimeoutError struct {
	Command string
	Elapsed time.Duration
	Output  string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Command, e.Elapsed.Round(time.Millisecond))
}

// Timeout lets callers detect the condition without importing this package.
func (e *TimeoutError) Timeout() bool { return true }

// CanceledError reports a command killed because its context was canceled.
type CanceledError struct {
	Command string
	Output  string
	Err     error
}

func (e *CanceledError) Error() string {
	return fmt.Sprintf("%s canceled: %v", e.Command, e.Err)
}

func (e *CanceledError) Unwrap() error { return e.Err }
