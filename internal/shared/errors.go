package shared

import "errors"

// Error classes. Domain packages wrap these so adapters can map failures without importing
// every domain package.
var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates the resource state does not allow the operation.
	ErrConflict = errors.New("conflict")
	// ErrValidation indicates malformed or incomplete input.
	ErrValidation = errors.New("validation failed")
)
