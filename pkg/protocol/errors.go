package protocol

// Error codes surfaced on the event stream.
const (
	ErrInvalidRequest    = "INVALID_REQUEST"
	ErrUnavailable       = "UNAVAILABLE"
	ErrNotFound          = "NOT_FOUND"
	ErrAlreadyExists     = "ALREADY_EXISTS"
	ErrResourceExhausted = "RESOURCE_EXHAUSTED"
	ErrBackendNotReady   = "BACKEND_NOT_READY"
	ErrQueueFull         = "QUEUE_FULL"
	ErrInternal          = "INTERNAL"
)
