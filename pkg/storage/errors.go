package storage

import (
	"errors"
)

var (
	// ErrCollision if an item already exists within the store.
	ErrCollision = errors.New("item already exists")

	ErrInvalidContinuationToken = errors.New("invalid continuation token")

	// ErrCancelled is returned when the read was aborted because the caller
	// went away.
	ErrCancelled = errors.New("request has been cancelled")

	ErrNotFound = errors.New("not found")
)
