// Package domain errors.go contains sentinel errors
package domain

import "errors"

// Sentinel domain-level errors reused by higher layers. The HTTP layer maps each
// of them to a distinct status code.
var (
	ErrUnauthorized     = errors.New("unauthorized")
	ErrInvalidID        = errors.New("invalid story id")
	ErrNotFound         = errors.New("story not found")
	ErrCapacityExceeded = errors.New("story capacity exceeded")
	ErrPayloadRejected  = errors.New("payload rejected")
	ErrStorageWrite     = errors.New("storage write failed")
)
