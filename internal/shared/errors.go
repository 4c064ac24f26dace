package shared

import "errors"

var (
	// ErrActorMissing indicates a request without an X-User-ID header.
	ErrActorMissing = errors.New("actor missing")
	// ErrActorUnknown indicates an X-User-ID that resolves to no user.
	ErrActorUnknown = errors.New("actor unknown")
)
