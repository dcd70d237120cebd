// Package errors provides foundational, type-safe error primitives used across protohost.
//
// ClassifiedError carries a category, severity, retry strategy, and structured
// context. Packages build them through the fluent ErrorBuilder and adapters turn
// them into HTTP responses or CLI exit codes.
//
// Example usage:
//
//	err := errors.WrapError(cause, errors.CategoryGit, "clone failed").
//		Retryable().
//		WithContext("url", repoURL).
//		Build()
package errors
