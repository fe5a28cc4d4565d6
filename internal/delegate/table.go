package delegate

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ErrNotFound is returned by Lookup for an unregistered delegate name.
var ErrNotFound = errors.New("delegate not found")

// Table manages delegate registration and invocation. It is the delegate
// mapping a reasoning loop holds for the lifetime of a session.
type Table struct {
	delegates map[string]Delegate
	mu        sync.RWMutex
	limiter   *rate.Limiter // nil = no rate limiting
}

func NewTable() *Table {
	return &Table{delegates: make(map[string]Delegate)}
}

// SetRateLimit caps delegate invocations per minute across the table.
// Pass 0 to disable.
func (t *Table) SetRateLimit(perMinute, burst int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if perMinute <= 0 {
		t.limiter = nil
		return
	}
	if burst <= 0 {
		burst = 5
	}
	t.limiter = rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), burst)
}

// Register adds a delegate to the table. Later registrations under the same
// name replace earlier ones; the manifest built at startup is the source of
// truth for what is callable.
func (t *Table) Register(d Delegate) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.delegates[d.Name()] = d
}

// Lookup returns a delegate by name.
func (t *Table) Lookup(name string) (Delegate, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	d, ok := t.delegates[name]
	if !ok {
		return nil, ErrNotFound
	}
	return d, nil
}

// Unregister removes a delegate from the table by name.
func (t *Table) Unregister(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.delegates, name)
}

// Invoke runs a delegate by name with the given arguments and timeout.
// It never returns a nil result: unknown names, rate-limit rejections,
// timeouts, and delegate errors all come back as structured error results.
func (t *Table) Invoke(ctx context.Context, name string, args map[string]interface{}, timeout time.Duration) *Result {
	t.mu.RLock()
	d, ok := t.delegates[name]
	limiter := t.limiter
	t.mu.RUnlock()

	if !ok {
		return ErrorResult(CodeNotFound, "unknown delegate: "+name).WithError(ErrNotFound)
	}

	if limiter != nil && !limiter.Allow() {
		return ErrorResult(CodeDenied, "delegate rate limit exceeded")
	}

	invokeCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		invokeCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	result := d.Invoke(invokeCtx, args)
	duration := time.Since(start)

	if result == nil {
		result = ErrorResult(CodeFailure, "delegate "+name+" returned no result")
	}
	if invokeCtx.Err() == context.DeadlineExceeded && !result.IsError {
		result = ErrorResult(CodeTimeout, "delegate "+name+" timed out after "+timeout.String())
	}

	slog.Debug("delegate invoked",
		"delegate", name,
		"duration_ms", duration.Milliseconds(),
		"is_error", result.IsError,
	)

	return result
}

// List returns all registered delegate names, sorted.
func (t *Table) List() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	names := make([]string, 0, len(t.delegates))
	for name := range t.delegates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of registered delegates.
func (t *Table) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.delegates)
}

// Catalog returns name/description pairs for prompt rendering.
func (t *Table) Catalog() []Descriptor {
	t.mu.RLock()
	defer t.mu.RUnlock()
	descs := make([]Descriptor, 0, len(t.delegates))
	for _, d := range t.delegates {
		descs = append(descs, Descriptor{Name: d.Name(), Description: d.Description()})
	}
	sort.Slice(descs, func(i, j int) bool { return descs[i].Name < descs[j].Name })
	return descs
}

// Descriptor is lightweight metadata about a registered delegate.
type Descriptor struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}
