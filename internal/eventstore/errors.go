package eventstore

import (
	"git.home.luguber.info/inful/protohost/internal/foundation/errors"
)

// Sentinels; match with errors.Is. Wrapped failures carry the driver error as cause.
var (
	ErrInitializeSchemaFailed = errors.EventStoreError("event schema setup failed").Fatal().Build()
	ErrEventAppendFailed      = errors.EventStoreError("build event append failed").Retryable().Build()
	ErrEventQueryFailed       = errors.EventStoreError("build event query failed").Retryable().Build()
	ErrMarshalPayloadFailed   = errors.EventStoreError("build event payload is not JSON-encodable").Build()
	ErrUnmarshalPayloadFailed = errors.EventStoreError("build event payload is malformed").Build()
)

func wrap(sentinel *errors.ClassifiedError, err error) error {
	b := errors.WrapError(err, sentinel.Category(), sentinel.Message()).WithSeverity(sentinel.Severity())
	if sentinel.CanRetry() {
		b = b.Retryable()
	}
	return b.Build()
}
