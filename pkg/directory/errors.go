package directory

import "errors"

// Failure kinds surfaced to the transport. InvalidInput and Unauthorized
// are terminal for the request and never leave partial state behind;
// Internal indicates a backing-store failure after retries.
var (
	ErrInvalidInput = errors.New("invalid input")
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotFound     = errors.New("not found")
	ErrInternal     = errors.New("internal error")
)
