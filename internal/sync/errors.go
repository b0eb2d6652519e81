package sync

import (
	"context"
	"errors"

	"github.com/mschirtzinger/todosync/internal/identity"
	"github.com/mschirtzinger/todosync/internal/linestore"
)

// Errors returned by engine operations.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, sync.ErrMalformedIdentifier) {
//	    // the caller sent a remote id this collection never issued
//	}
var (
	// ErrStorageUnavailable is returned when the todo file (or its staging
	// file) cannot be opened in the required mode.
	ErrStorageUnavailable = linestore.ErrStorageUnavailable

	// ErrMalformedIdentifier is returned when a remote id lacks the
	// separator, names another collection, or (positional scheme) ends in
	// something other than a non-negative integer. No file is touched.
	ErrMalformedIdentifier = identity.ErrMalformedIdentifier

	// ErrMissingPayload is returned when a create or update request carries
	// no todo payload.
	ErrMissingPayload = errors.New("missing todo payload")

	// ErrNotRegistered is returned when an operation runs before a
	// collection has been registered.
	ErrNotRegistered = errors.New("no collection registered")
)

// IsBroken reports whether err should flip the collection to StatusBroken.
// Every operation failure does, except cancellation by the caller.
func IsBroken(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// IsRequestError reports whether err was caused by the request itself
// rather than by the file: retrying the same request cannot succeed.
func IsRequestError(err error) bool {
	return errors.Is(err, ErrMalformedIdentifier) ||
		errors.Is(err, ErrMissingPayload) ||
		errors.Is(err, linestore.ErrMultiline)
}
