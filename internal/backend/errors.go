package backend

import "errors"

var (
	// ErrDuplicateBackend is returned when registering an ID that is already present.
	ErrDuplicateBackend = errors.New("backend already registered")

	// ErrUnknownBackend is returned when selecting an ID that was never registered.
	ErrUnknownBackend = errors.New("unknown backend")

	// ErrBackendNotReady is returned when selecting a backend that failed
	// initialization or did not become ready within the selection timeout.
	ErrBackendNotReady = errors.New("backend not ready")
)
