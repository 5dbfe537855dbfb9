package storage

import "errors"

var (
	// ErrSessionNotFound is returned when no row exists for an (account, device) pair.
	ErrSessionNotFound = errors.New("device session not found")

	// ErrDeviceLimitReached is returned by the conditional insert when
	// admitting a new device would exceed the account's device cap.
	ErrDeviceLimitReached = errors.New("device limit reached")

	// ErrStorageUnavailable wraps infrastructure failures so callers can
	// distinguish "the store is down" from "no sessions". It must never be
	// collapsed into an empty result.
	ErrStorageUnavailable = errors.New("storage unavailable")
)
