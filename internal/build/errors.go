package build

import (
	"errors"
	"fmt"
	"time"

	ferrors "git.home.luguber.info/inful/protohost/internal/foundation/errors"
	"git.home.luguber.info/inful/protohost/internal/git"
	"git.home.luguber.info/inful/protohost/internal/process"
	"git.home.luguber.info/inful/protohost/internal/project"
	"git.home.luguber.info/inful/protohost/internal/prototype"
)

// ErrBuildInProgress is returned when another build holds the lease for the same prototype.
var ErrBuildInProgress = errors.New("a build for this prototype is already in progress")

// PersistenceError wraps a failed store call.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("failed to %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// CloneFailure wraps a failed repository fetch.
type CloneFailure struct {
	URL string
	Err error
}

func (e *CloneFailure) Error() string {
	var ce *git.CloneError
	if errors.As(e.Err, &ce) {
		return ce.Error()
	}
	return fmt.Sprintf("failed to clone repository %s: %v", e.URL, e.Err)
}

func (e *CloneFailure) Unwrap() error { return e.Err }

// BuildToolFailure is a build command that exited non-zero or could not start.
type BuildToolFailure struct {
	Command  string
	ExitCode int
	Output   string
	Err      error
}

func (e *BuildToolFailure) Error() string { return e.Err.Error() }

func (e *BuildToolFailure) Unwrap() error { return e.Err }

// UnsupportedProjectTypeError is returned when detection finds nothing buildable.
type UnsupportedProjectTypeError struct {
	Type project.Type
}

func (e *UnsupportedProjectTypeError) Error() string {
	return fmt.Sprintf("Unsupported project type: %s", e.Type)
}

// TimeoutError is a clone or build step cut off by its deadline.
type TimeoutError struct {
	Stage string
	Limit time.Duration
	Err   error
}

func (e *TimeoutError) Error() string {
	if e.Limit <= 0 {
		return fmt.Sprintf("%s timed out", e.Stage)
	}
	return fmt.Sprintf("%s timed out after %s", e.Stage, e.Limit)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

func (e *TimeoutError) Timeout() bool { return true }

// OutputNotFoundError is returned when a react build leaves none of the expected directories.
type OutputNotFoundError struct {
	Looked []string
}

func (e *OutputNotFoundError) Error() string {
	return "Build output directory not found (looked for /build and /dist)"
}

// CanceledError is returned when the caller's context ends mid-build.
type CanceledError struct {
	Stage string
	Err   error
}

func (e *CanceledError) Error() string {
	return fmt.Sprintf("build canceled during %s: %v", e.Stage, e.Err)
}

func (e *CanceledError) Unwrap() error { return e.Err }

// Kind maps a build error to the error kind stored on its record.
func Kind(err error) prototype.ErrorKind {
	var (
		pe  *PersistenceError
		cf  *CloneFailure
		bt  *BuildToolFailure
		ue  *UnsupportedProjectTypeError
		te  *TimeoutError
		one *OutputNotFoundError
		ce  *CanceledError
	)
	switch {
	case err == nil:
		return prototype.KindNone
	case errors.As(err, &te):
		return prototype.KindTimeout
	case errors.As(err, &ce):
		return prototype.KindCanceled
	case errors.As(err, &pe):
		return prototype.KindPersistence
	case errors.As(err, &cf):
		return prototype.KindClone
	case errors.As(err, &bt):
		return prototype.KindBuildTool
	case errors.As(err, &ue):
		return prototype.KindUnsupported
	case errors.As(err, &one):
		return prototype.KindOutputMissing
	default:
		return prototype.KindInternal
	}
}

// Classify converts a build error into a ClassifiedError for the HTTP and CLI adapters.
// Errors that are already classified pass through unchanged.
func Classify(err error) error {
	if err == nil || ferrors.IsClassified(err) {
		return err
	}
	if errors.Is(err, ErrBuildInProgress) {
		return ferrors.ConflictError("A build is already running for this prototype").WithCause(err).Build()
	}

	var cf *CloneFailure
	if errors.As(err, &cf) {
		var ce *git.CloneError
		if errors.As(err, &ce) {
			return ce.Classified()
		}
	}

	b := ferrors.WrapError(err, ferrors.CategoryInternal, err.Error())
	switch Kind(err) {
	case prototype.KindPersistence:
		b.WithCategory(ferrors.CategoryPersistence).Retryable()
	case prototype.KindClone:
		b.WithCategory(ferrors.CategoryGit)
	case prototype.KindBuildTool:
		b.WithCategory(ferrors.CategoryBuild)
		var bt *BuildToolFailure
		if errors.As(err, &bt) {
			b.WithContext("command", bt.Command).WithContext("exit_code", bt.ExitCode)
		}
	case prototype.KindUnsupported:
		b.WithCategory(ferrors.CategoryUnsupported).UserAction()
	case prototype.KindTimeout:
		b.WithCategory(ferrors.CategoryTimeout).Retryable()
	case prototype.KindOutputMissing:
		b.WithCategory(ferrors.CategoryBuild).UserAction()
	case prototype.KindCanceled:
		b.WithCategory(ferrors.CategoryRuntime).Warning()
	}
	return b.Build()
}

// toolError converts a runner error for one build step.
func toolError(stage string, limit time.Duration, err error) error {
	var (
		exit  *process.ExitError
		start *process.StartError
		to    *process.TimeoutError
		cxl   *process.CanceledError
	)
	switch {
	case errors.As(err, &to):
		return &TimeoutError{Stage: stage, Limit: limit, Err: err}
	case errors.As(err, &cxl):
		return &CanceledError{Stage: stage, Err: err}
	case errors.As(err, &exit):
		return &BuildToolFailure{Command: exit.Command, ExitCode: exit.ExitCode, Output: exit.Output, Err: err}
	case errors.As(err, &start):
		return &BuildToolFailure{Command: start.Command, ExitCode: -1, Err: err}
	default:
		return &BuildToolFailure{Command: stage, ExitCode: -1, Err: err}
	}
}

// toolOutput returns whatever output the runner captured before failing.
func toolOutput(err error) string {
	var (
		exit *process.ExitError
		to   *process.TimeoutError
		cxl  *process.CanceledError
	)
	switch {
	case errors.As(err, &exit):
		return exit.Output
	case errors.As(err, &to):
		return to.Output
	case errors.As(err, &cxl):
		return cxl.Output
	}
	return ""
}
