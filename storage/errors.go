package storage

import "errors"

// Common storage errors.
var (
	// ErrNotFound is returned when no snapshot exists for a run id.
	ErrNotFound = errors.New("run not found")

	// ErrInvalidRunID is returned for ids that cannot name a snapshot.
	ErrInvalidRunID = errors.New("invalid run id")

	// ErrLocked is returned when another live process holds a run.
	ErrLocked = errors.New("run is locked by another process")
)
