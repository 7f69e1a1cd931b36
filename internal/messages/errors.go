package messages

import "errors"

// Caller-facing failure classes. Anything else bubbling out of the engine is
// a storage problem and maps to a 500.
var (
	ErrNotFound     = errors.New("not found")
	ErrForbidden    = errors.New("forbidden")
	ErrInvalidInput = errors.New("invalid input")
)
