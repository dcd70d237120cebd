package git

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/transport"

	ferrors "git.home.luguber.info/inful/protohost/internal/foundation/errors"
)

// Reason narrows down why a clone failed.
type Reason string

const (
	ReasonAuth                Reason = "auth"
	ReasonNotFound            Reason = "not_found"
	ReasonNetwork             Reason = "network"
	ReasonUnsupportedProtocol Reason = "unsupported_protocol"
	ReasonInvalidURL          Reason = "invalid_url"
	ReasonEmptyRepository     Reason = "empty_repository"
	ReasonTimeout             Reason = "timeout"
	ReasonCanceled            Reason = "canceled"
	ReasonUnknown             Reason = "unknown"
)

// CloneError is returned by Client.Clone for every failed fetch.
type CloneError struct {
	URL    string
	Reason Reason
	Err    error
}

func (e *CloneError) Error() string {
	return fmt.Sprintf("failed to clone repository %s: %v", e.URL, e.Err)
}

func (e *CloneError) Unwrap() error { return e.Err }

// Timeout reports whether the clone was cut off by its deadline.
func (e *CloneError) Timeout() bool { return e.Reason == ReasonTimeout }

// Classified converts the failure into a ClassifiedError for the HTTP and CLI adapters.
func (e *CloneError) Classified() *ferrors.ClassifiedError {
	b := ferrors.WrapError(e, ferrors.CategoryGit, "repository clone failed").
		WithContext("url", e.URL).
		WithContext("reason", string(e.Reason))
	switch e.Reason {
	case ReasonAuth:
		b.WithCategory(ferrors.CategoryAuth)
	case ReasonNotFound:
		b.WithCategory(ferrors.CategoryNotFound)
	case ReasonNetwork:
		b.WithCategory(ferrors.CategoryNetwork).Retryable()
	case ReasonTimeout:
		b.WithCategory(ferrors.CategoryTimeout).Retryable()
	case ReasonInvalidURL, ReasonUnsupportedProtocol:
		b.WithCategory(ferrors.CategoryValidation)
	}
	return b.Build()
}

func classifyCloneError(ctx context.Context, url string, err error) error {
	ce := &CloneError{URL: url, Reason: ReasonUnknown, Err: err}
	if ctxErr := ctx.Err(); ctxErr != nil {
		ce.Reason = ReasonCanceled
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			ce.Reason = ReasonTimeout
		}
		return ce
	}

	switch {
	case errors.Is(err, transport.ErrAuthenticationRequired), errors.Is(err, transport.ErrAuthorizationFailed):
		ce.Reason = ReasonAuth
		return ce
	case errors.Is(err, transport.ErrRepositoryNotFound):
		ce.Reason = ReasonNotFound
		return ce
	case errors.Is(err, transport.ErrEmptyRemoteRepository):
		ce.Reason = ReasonEmptyRepository
		return ce
	case errors.Is(err, transport.ErrInvalidAuthMethod):
		ce.Reason = ReasonAuth
		return ce
	}

	l := strings.ToLower(err.Error())
	switch {
	case strings.Contains(l, "authentication") || strings.Contains(l, "not authorized") || strings.Contains(l, "could not read username"):
		ce.Reason = ReasonAuth
	case strings.Contains(l, "not found") || strings.Contains(l, "does not exist"):
		ce.Reason = ReasonNotFound
	case strings.Contains(l, "unsupported protocol") || strings.Contains(l, "unsupported scheme"):
		ce.Reason = ReasonUnsupportedProtocol
	case strings.Contains(l, "invalid url") || strings.Contains(l, "invalid endpoint"):
		ce.Reason = ReasonInvalidURL
	case strings.Contains(l, "connection refused") || strings.Contains(l, "connection reset") ||
		strings.Contains(l, "no such host") || strings.Contains(l, "i/o timeout") || strings.Contains(l, "remote hung up"):
		ce.Reason = ReasonNetwork
	}
	return ce
}
