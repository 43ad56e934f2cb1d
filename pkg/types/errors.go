package types

import "errors"

// Shared error taxonomy. Subsystems wrap these so callers can classify
// failures with errors.Is without importing every internal package.
var (
	// ErrNotInitialized indicates a missing store or producer.
	ErrNotInitialized = errors.New("not initialized")
	// ErrCancelled indicates a cooperative cancellation was observed.
	ErrCancelled = errors.New("cancelled")
	// ErrInvalidInput indicates malformed arguments, oversize input, or a
	// vector dimension mismatch.
	ErrInvalidInput = errors.New("invalid input")
)
