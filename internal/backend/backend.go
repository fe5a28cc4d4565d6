// Package backend provides the lifecycle registry shared by every capability
// family (transcription, synthesis). A registry owns a set of interchangeable
// providers, brings them to readiness, tracks a selected provider that can be
// hot-swapped at runtime, and reports aggregated health.
package backend

import (
	"context"
	"time"
)

// Provider is the minimal contract a backend implementation must satisfy.
// Capability families embed Provider in their own interface (Transcriber,
// Synthesizer) and add the family-specific operation.
//
// Readiness preparation and the serving operation are deliberately separate
// concerns: Prepare may download assets and load models, Probe is a cheap
// liveness check safe to call often.
type Provider interface {
	ID() string
	DisplayName() string

	// Prepare brings the provider to readiness (asset download, model
	// load). The registry calls it at most once per process lifetime. It
	// must be idempotent against partial prior failures.
	Prepare(ctx context.Context) error

	// Probe is a cheap health check of an already-prepared provider.
	Probe(ctx context.Context) error
}

// State is a provider's readiness state within a registry.
type State string

const (
	StateUnregistered State = "unregistered"
	StateInitializing State = "initializing"
	StateReady        State = "ready"
	StateDegraded     State = "degraded" // selected and serving, but health-check failing
	StateFailed       State = "failed"
)

// Health is a point-in-time status snapshot for one provider.
type Health struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name"`
	State       State     `json:"state"`
	Selected    bool      `json:"selected"`
	Reason      string    `json:"reason,omitempty"` // failure / degradation cause
	CheckedAt   time.Time `json:"checked_at"`
}
