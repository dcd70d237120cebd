package errors

import "maps"

// ErrorCategory routes an error to an HTTP status, CLI exit code, or build
// failure kind.
type ErrorCategory string

// Caller errors.
const (
	CategoryConfig        ErrorCategory = "config"
	CategoryValidation    ErrorCategory = "validation"
	CategoryAuth          ErrorCategory = "auth"
	CategoryPermission    ErrorCategory = "permission"
	CategoryNotFound      ErrorCategory = "not_found"
	CategoryAlreadyExists ErrorCategory = "already_exists"
	CategoryConflict      ErrorCategory = "conflict"
)

// Upstream errors: the git remote or the GitHub API.
const (
	CategoryNetwork  ErrorCategory = "network"
	CategoryGit      ErrorCategory = "git"
	CategoryUpstream ErrorCategory = "upstream"
)

// Build pipeline errors.
const (
	CategoryBuild       ErrorCategory = "build"
	CategoryUnsupported ErrorCategory = "unsupported"
	CategoryTimeout     ErrorCategory = "timeout"
	CategoryPersistence ErrorCategory = "persistence"
	CategoryEventStore  ErrorCategory = "eventstore"
)

// Process errors.
const (
	CategoryRuntime  ErrorCategory = "runtime"
	CategoryInternal ErrorCategory = "internal"
)

// ErrorSeverity controls the log level an adapter reports at.
type ErrorSeverity string

const (
	SeverityFatal   ErrorSeverity = "fatal"
	SeverityError   ErrorSeverity = "error"
	SeverityWarning ErrorSeverity = "warning"
	SeverityInfo    ErrorSeverity = "info"
)

// RetryStrategy tells the build queue and API clients whether a retry can help.
type RetryStrategy string

const (
	RetryNever      RetryStrategy = "never"
	RetryImmediate  RetryStrategy = "immediate"
	RetryBackoff    RetryStrategy = "backoff"
	RetryRateLimit  RetryStrategy = "rate_limit"
	RetryUserAction RetryStrategy = "user"
)

// ErrorContext holds structured details surfaced in HTTP error bodies.
type ErrorContext map[string]any

// Get returns the value stored under key.
func (c ErrorContext) Get(key string) (any, bool) {
	v, ok := c[key]
	return v, ok
}

// GetString returns the value under key when it is a string.
func (c ErrorContext) GetString(key string) (string, bool) {
	s, ok := c[key].(string)
	return s, ok
}

// with returns a copy of c with key set.
func (c ErrorContext) with(key string, value any) ErrorContext {
	out := make(ErrorContext, len(c)+1)
	maps.Copy(out, c)
	out[key] = value
	return out
}
