package protocol

// Event names pushed from server to client.
const (
	EventRequest  = "request"
	EventTurn     = "turn"
	EventBackend  = "backend"
	EventHealth   = "health"
	EventShutdown = "shutdown"
)

// Request event subtypes (in payload.type)
const (
	RequestEventQueued    = "request.queued"
	RequestEventRunning   = "request.running"
	RequestEventSucceeded = "request.succeeded"
	RequestEventFailed    = "request.failed"
	RequestEventCancelled = "request.cancelled"
)

// Backend event subtypes (in payload.type)
const (
	BackendEventInitializing = "backend.initializing"
	BackendEventReady        = "backend.ready"
	BackendEventFailed       = "backend.failed"
	BackendEventSelected     = "backend.selected"
)

// RPC method names accepted on the event stream.
const (
	MethodConnect        = "connect"
	MethodSubmit         = "chat.submit"
	MethodCancel         = "chat.cancel"
	MethodBackendsList   = "backends.list"
	MethodBackendsSelect = "backends.select"
	MethodSpeech         = "speech.converse"
	MethodHealth         = "health"
)
