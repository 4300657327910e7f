package storage

import "errors"

// Sentinel errors for storage operations.
var (
	// ErrNotFound is returned when the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a write violates a uniqueness
	// constraint (duplicate email or tenant slug).
	ErrConflict = errors.New("already exists")

	// ErrQuotaExceeded is returned when a conditional usage update
	// would push a counter past the tenant's limit.
	ErrQuotaExceeded = errors.New("quota exceeded")
)
