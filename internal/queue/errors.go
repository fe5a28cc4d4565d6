package queue

import "errors"

var (
	// ErrQueueFull is returned by Submit when a queue cap is configured and reached.
	ErrQueueFull = errors.New("request queue is full")

	// ErrNotFound is returned for operations on an unknown request ID.
	ErrNotFound = errors.New("request not found")

	// ErrTerminal is returned when cancelling a request that already finished.
	ErrTerminal = errors.New("request already terminal")
)
