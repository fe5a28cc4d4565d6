package backend

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/errgroup"
)

const (
	defaultSelectTimeout = 30 * time.Second
	defaultProbeTimeout  = 2 * time.Second
	defaultProbeTTL      = 10 * time.Second
	probeCacheSize       = 32
)

// StateHandler observes provider state transitions (for progress events).
type StateHandler func(family, id string, state State, reason string)

type probeResult struct {
	reason    string
	ok        bool
	checkedAt time.Time
}

type entry[P Provider] struct {
	provider P
	state    State
	reason   string
	prepared bool          // Prepare has been attempted this process lifetime
	done     chan struct{} // closed when initialization resolves
}

// Registry owns the providers of one capability family. Exactly one provider
// is selected at a time; selection is a single pointer updated atomically
// under the registry lock, so concurrent readers always observe one
// consistent value and in-flight holders of a previously returned provider
// keep a valid reference across a swap.
type Registry[P Provider] struct {
	family        string
	preferred     string
	selectTimeout time.Duration

	mu       sync.RWMutex
	entries  map[string]*entry[P]
	order    []string // registration order, used for fallback selection
	selected *entry[P]

	// Cached cheap probes so Health never re-runs expensive checks
	// back-to-back. Entries expire after a short TTL.
	probes   *expirable.LRU[string, probeResult]
	onState  StateHandler
	onSelect func(family, id string)
}

// NewRegistry creates a registry for one capability family. preferred is the
// ID selected after initialization when it comes up ready.
func NewRegistry[P Provider](family, preferred string) *Registry[P] {
	return &Registry[P]{
		family:        family,
		preferred:     preferred,
		selectTimeout: defaultSelectTimeout,
		entries:       make(map[string]*entry[P]),
		probes:        expirable.NewLRU[string, probeResult](probeCacheSize, nil, defaultProbeTTL),
	}
}

// Family returns the capability family name ("transcription", "synthesis").
func (r *Registry[P]) Family() string { return r.family }

// SetSelectTimeout bounds how long Select waits for an initializing provider.
func (r *Registry[P]) SetSelectTimeout(d time.Duration) {
	if d > 0 {
		r.selectTimeout = d
	}
}

// SetStateHandler registers a transition observer. Must be set before
// InitializeAll; the handler should be non-blocking.
func (r *Registry[P]) SetStateHandler(h StateHandler) { r.onState = h }

// SetSelectHandler registers an observer for selection changes.
func (r *Registry[P]) SetSelectHandler(h func(family, id string)) { r.onSelect = h }

// Register adds a provider under its ID.
func (r *Registry[P]) Register(p P) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := p.ID()
	if _, exists := r.entries[id]; exists {
		return fmt.Errorf("%w: %s/%s", ErrDuplicateBackend, r.family, id)
	}
	r.entries[id] = &entry[P]{provider: p, state: StateUnregistered, done: make(chan struct{})}
	r.order = append(r.order, id)
	return nil
}

// InitializeAll brings every registered provider to ready or failed.
// Providers are independent: preparation fans out concurrently and one
// failure never blocks or fails the others. Preparation runs at most once
// per provider per process lifetime; repeated calls only cover providers
// registered since the last call. After the fan-out the registry guarantees
// a selection exists, preferring the configured ID, then the first ready
// provider in registration order, then the preferred entry even if failed
// (with its failure reason retrievable through Health).
func (r *Registry[P]) InitializeAll(ctx context.Context) {
	r.mu.Lock()
	var pending []*entry[P]
	for _, id := range r.order {
		e := r.entries[id]
		if !e.prepared {
			e.prepared = true
			e.state = StateInitializing
			pending = append(pending, e)
		}
	}
	r.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, e := range pending {
		e := e
		r.emit(e.provider.ID(), StateInitializing, "")
		g.Go(func() error {
			err := e.provider.Prepare(gctx)

			r.mu.Lock()
			if err != nil {
				e.state = StateFailed
				e.reason = err.Error()
			} else {
				e.state = StateReady
				e.reason = ""
			}
			close(e.done)
			r.mu.Unlock()

			if err != nil {
				slog.Warn("backend initialization failed",
					"family", r.family, "backend", e.provider.ID(), "error", err)
				r.emit(e.provider.ID(), StateFailed, err.Error())
			} else {
				slog.Info("backend ready", "family", r.family, "backend", e.provider.ID())
				r.emit(e.provider.ID(), StateReady, "")
			}
			return nil // provider failures are local, never abort the group
		})
	}
	_ = g.Wait() // goroutines always return nil; failures are recorded per provider

	r.ensureSelection()
}

// ensureSelection establishes the post-initialization selection invariant.
func (r *Registry[P]) ensureSelection() {
	r.mu.Lock()
	if r.selected != nil {
		r.mu.Unlock()
		return
	}

	pick := func() *entry[P] {
		if e, ok := r.entries[r.preferred]; ok && e.state == StateReady {
			return e
		}
		for _, id := range r.order {
			if e := r.entries[id]; e.state == StateReady {
				slog.Warn("preferred backend unavailable, falling back",
					"family", r.family, "preferred", r.preferred, "selected", id)
				return e
			}
		}
		// Nothing ready: keep a selection anyway so callers get the
		// failure reason instead of a nil pointer.
		if e, ok := r.entries[r.preferred]; ok {
			return e
		}
		if len(r.order) > 0 {
			return r.entries[r.order[0]]
		}
		return nil
	}

	e := pick()
	var id string
	if e != nil {
		r.selected = e
		id = e.provider.ID()
	}
	r.mu.Unlock()

	if e != nil {
		slog.Info("backend selected", "family", r.family, "backend", id)
		if r.onSelect != nil {
			r.onSelect(r.family, id)
		}
	}
}

// Reinitialize retries preparation for a failed provider. On success the
// provider becomes ready and eligible for selection again; it is not
// auto-selected.
func (r *Registry[P]) Reinitialize(ctx context.Context, id string) error {
	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s/%s", ErrUnknownBackend, r.family, id)
	}
	if e.state == StateInitializing {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s/%s is still initializing", ErrBackendNotReady, r.family, id)
	}
	e.prepared = true
	e.state = StateInitializing
	e.done = make(chan struct{})
	r.mu.Unlock()

	r.emit(id, StateInitializing, "")
	err := e.provider.Prepare(ctx)

	r.mu.Lock()
	if err != nil {
		e.state = StateFailed
		e.reason = err.Error()
	} else {
		e.state = StateReady
		e.reason = ""
	}
	close(e.done)
	r.mu.Unlock()

	if err != nil {
		r.emit(id, StateFailed, err.Error())
		return fmt.Errorf("reinitialize %s/%s: %w", r.family, id, err)
	}
	r.emit(id, StateReady, "")
	return nil
}

// Select atomically points the registry at the given provider. Selecting a
// provider that is still initializing blocks until it resolves, bounded by
// the select timeout. A failed attempt leaves the previous selection intact.
func (r *Registry[P]) Select(ctx context.Context, id string) error {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s/%s", ErrUnknownBackend, r.family, id)
	}

	r.mu.RLock()
	state := e.state
	done := e.done
	r.mu.RUnlock()

	if state == StateInitializing {
		timer := time.NewTimer(r.selectTimeout)
		defer timer.Stop()
		select {
		case <-done:
		case <-timer.C:
			return fmt.Errorf("%w: %s/%s did not become ready within %s",
				ErrBackendNotReady, r.family, id, r.selectTimeout)
		case <-ctx.Done():
			return fmt.Errorf("select %s/%s: %w", r.family, id, ctx.Err())
		}
	}

	r.mu.Lock()
	switch e.state {
	case StateReady, StateDegraded:
		r.selected = e
		r.mu.Unlock()
		slog.Info("backend selected", "family", r.family, "backend", id)
		if r.onSelect != nil {
			r.onSelect(r.family, id)
		}
		return nil
	case StateFailed:
		reason := e.reason
		r.mu.Unlock()
		return fmt.Errorf("%w: %s/%s failed initialization: %s",
			ErrBackendNotReady, r.family, id, reason)
	default:
		state := e.state
		r.mu.Unlock()
		return fmt.Errorf("%w: %s/%s is %s", ErrBackendNotReady, r.family, id, state)
	}
}

// Current returns the selected provider. It never blocks and returns the
// best-known selection even if the provider is degraded or failed. The error
// is non-nil only before the registry has completed its own initialization.
func (r *Registry[P]) Current() (P, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.selected == nil {
		var zero P
		return zero, fmt.Errorf("%w: %s registry has no selection yet", ErrBackendNotReady, r.family)
	}
	return r.selected.provider, nil
}

// SelectedID returns the selected provider ID, or "" before initialization.
func (r *Registry[P]) SelectedID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.selected == nil {
		return ""
	}
	return r.selected.provider.ID()
}

// Get returns a registered provider by ID regardless of selection.
func (r *Registry[P]) Get(id string) (P, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		var zero P
		return zero, fmt.Errorf("%w: %s/%s", ErrUnknownBackend, r.family, id)
	}
	return e.provider, nil
}

// IDs returns all registered provider IDs in registration order.
func (r *Registry[P]) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, len(r.order))
	copy(ids, r.order)
	return ids
}

// Health returns a per-provider status snapshot. Ready and degraded
// providers are probed through a short-TTL cache so repeated calls stay
// cheap; a failing probe demotes ready→degraded and a passing one restores
// degraded→ready. Failed and initializing providers are reported as-is.
func (r *Registry[P]) Health(ctx context.Context) []Health {
	r.mu.RLock()
	ids := make([]string, len(r.order))
	copy(ids, r.order)
	selected := r.selected
	r.mu.RUnlock()

	out := make([]Health, 0, len(ids))
	for _, id := range ids {
		r.mu.RLock()
		e := r.entries[id]
		state := e.state
		reason := e.reason
		r.mu.RUnlock()

		checkedAt := time.Now()
		if state == StateReady || state == StateDegraded {
			pr := r.cachedProbe(ctx, e)
			checkedAt = pr.checkedAt
			r.mu.Lock()
			if pr.ok {
				e.state = StateReady
				e.reason = ""
			} else {
				e.state = StateDegraded
				e.reason = pr.reason
			}
			state = e.state
			reason = e.reason
			r.mu.Unlock()
		}

		out = append(out, Health{
			ID:          id,
			DisplayName: e.provider.DisplayName(),
			State:       state,
			Selected:    e == selected,
			Reason:      reason,
			CheckedAt:   checkedAt,
		})
	}
	return out
}

func (r *Registry[P]) cachedProbe(ctx context.Context, e *entry[P]) probeResult {
	id := e.provider.ID()
	if pr, ok := r.probes.Get(id); ok {
		return pr
	}

	probeCtx, cancel := context.WithTimeout(ctx, defaultProbeTimeout)
	defer cancel()

	pr := probeResult{ok: true, checkedAt: time.Now()}
	if err := e.provider.Probe(probeCtx); err != nil {
		pr.ok = false
		pr.reason = err.Error()
	}
	r.probes.Add(id, pr)
	return pr
}

func (r *Registry[P]) emit(id string, state State, reason string) {
	if r.onState != nil {
		r.onState(r.family, id, state, reason)
	}
}
