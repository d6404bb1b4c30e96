package realtime

import (
	"errors"

	"github.com/codecanvas-io/collab/internal/modules/service"
	"github.com/codecanvas-io/collab/internal/pkg/transform"
	"github.com/codecanvas-io/collab/internal/relay"
)

// Error categories reported to clients.
const (
	CategoryUnauthorized = "unauthorized"
	CategoryNotFound     = "not_found"
	CategoryMalformed    = "malformed"
	CategoryConflict     = "conflict"
	CategoryInternal     = "internal"
)

func categorize(err error) string {
	switch {
	case errors.Is(err, relay.ErrForbidden),
		errors.Is(err, relay.ErrProjectMismatch):
		return CategoryUnauthorized
	case errors.Is(err, relay.ErrNotJoined),
		errors.Is(err, service.ErrProjectNotFound),
		errors.Is(err, service.ErrFileNotFound),
		errors.Is(err, service.ErrUserNotFound):
		return CategoryNotFound
	case errors.Is(err, service.ErrFileExists):
		return CategoryConflict
	case errors.Is(err, errMalformed),
		errors.Is(err, relay.ErrInvalidFileOp),
		errors.Is(err, service.ErrInvalidPath),
		errors.Is(err, service.ErrInvalidID),
		errors.Is(err, transform.ErrUnknownKind),
		errors.Is(err, transform.ErrInvalidPayload),
		errors.Is(err, transform.ErrNegativeOffset),
		errors.Is(err, transform.ErrEmptyOperation):
		return CategoryMalformed
	}
	return CategoryInternal
}

// errorPayload builds the client-facing error. Internal failures are not
// described.
func errorPayload(err error) ErrorPayload {
	cat := categorize(err)
	msg := err.Error()
	if cat == CategoryInternal {
		msg = "internal error"
	}
	return ErrorPayload{Error: cat, Message: msg}
}
