// Package queue is the single entry point for new requests: a strict-FIFO
// work queue with one logical worker, so at most one reasoning loop runs at
// any instant. Enqueueing never blocks on the current run; lifecycle and
// turn progress fan out through the bus.
package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/voxd/internal/agent"
	"github.com/nextlevelbuilder/voxd/internal/bus"
	"github.com/nextlevelbuilder/voxd/pkg/protocol"
)

// Status is a request's lifecycle state. Transitions are monotonic:
// queued→running→{succeeded|failed|cancelled}, with queued→cancelled for
// never-started requests.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether s is a terminal status.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCancelled
}

// Request is the record for one submission. The queue owns it; callers get
// copies via Get/List so the worker's mutations never race with readers.
type Request struct {
	ID         string        `json:"id"`
	Input      string        `json:"input"`
	Status     Status        `json:"status"`
	Outcome    agent.Outcome `json:"outcome,omitempty"` // set at terminal
	Answer     string        `json:"answer,omitempty"`
	Reason     string        `json:"reason,omitempty"`
	Trace      []agent.Turn  `json:"trace,omitempty"`
	EnqueuedAt time.Time     `json:"enqueued_at"`
	StartedAt  time.Time     `json:"started_at,omitempty"`
	FinishedAt time.Time     `json:"finished_at,omitempty"`
}

// RunFunc executes the reasoning loop for one request. The queue calls it
// from the worker goroutine with a per-run cancellable context; onTurn is
// invoked once per recorded turn.
type RunFunc func(ctx context.Context, input string, onTurn agent.TurnHandler) (*agent.RunResult, error)

// History persists terminal request records. Implementations must be safe
// for calls from the worker goroutine.
type History interface {
	SaveRequest(ctx context.Context, req *Request) error
}

// Queue serializes request execution behind a single worker.
type Queue struct {
	runFn   RunFunc
	bus     *bus.Bus
	history History // nil = no persistence
	cap     int     // 0 = unbounded

	mu      sync.Mutex
	pending []*Request
	records map[string]*Request
	cancels map[string]context.CancelFunc

	notify chan struct{}
	wg     sync.WaitGroup
}

// Option configures a Queue.
type Option func(*Queue)

// WithCap bounds queue depth; Submit fails fast with ErrQueueFull beyond it.
func WithCap(n int) Option {
	return func(q *Queue) { q.cap = n }
}

// WithHistory persists terminal records through the given store.
func WithHistory(h History) Option {
	return func(q *Queue) { q.history = h }
}

// New creates a queue. Call Start to launch the worker.
func New(b *bus.Bus, runFn RunFunc, opts ...Option) *Queue {
	q := &Queue{
		runFn:   runFn,
		bus:     b,
		records: make(map[string]*Request),
		cancels: make(map[string]context.CancelFunc),
		notify:  make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Start launches the worker goroutine. The worker exits when ctx is
// cancelled; Wait blocks until it has drained its current run.
func (q *Queue) Start(ctx context.Context) {
	q.wg.Add(1)
	go q.worker(ctx)
}

// Wait blocks until the worker has stopped.
func (q *Queue) Wait() { q.wg.Wait() }

// Submit enqueues a request. It never blocks on the current run; with a
// configured cap it fails fast instead of blocking the caller.
func (q *Queue) Submit(input string) (*Request, error) {
	req := &Request{
		ID:         uuid.NewString(),
		Input:      input,
		Status:     StatusQueued,
		EnqueuedAt: time.Now().UTC(),
	}

	q.mu.Lock()
	if q.cap > 0 && len(q.pending) >= q.cap {
		q.mu.Unlock()
		return nil, ErrQueueFull
	}
	q.pending = append(q.pending, req)
	q.records[req.ID] = req
	snapshot := *req
	q.mu.Unlock()

	q.bus.Publish(protocol.RequestEventQueued, req.ID, snapshot)
	slog.Debug("request queued", "request", req.ID, "depth", q.Depth())

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return &snapshot, nil
}

// Cancel cancels a request. A queued request transitions straight to
// cancelled without ever running. A running request is cancelled
// cooperatively: the flag is seen at the next turn boundary, and a delegate
// call already in flight runs to completion or its own timeout first.
func (q *Queue) Cancel(id string) error {
	q.mu.Lock()
	req, ok := q.records[id]
	if !ok {
		q.mu.Unlock()
		return ErrNotFound
	}

	switch {
	case req.Status == StatusQueued:
		req.Status = StatusCancelled
		req.Outcome = agent.OutcomeCancelled
		req.Reason = "cancelled before start"
		req.FinishedAt = time.Now().UTC()
		snapshot := *req
		q.mu.Unlock()
		q.bus.Publish(protocol.RequestEventCancelled, id, snapshot)
		return nil

	case req.Status == StatusRunning:
		cancel := q.cancels[id]
		q.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		return nil

	default:
		q.mu.Unlock()
		return ErrTerminal
	}
}

// Get returns a copy of the request record.
func (q *Queue) Get(id string) (*Request, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	req, ok := q.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	snapshot := *req
	snapshot.Trace = append([]agent.Turn(nil), req.Trace...)
	return &snapshot, nil
}

// Depth returns the number of queued (not yet started) requests.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, req := range q.pending {
		if req.Status == StatusQueued {
			n++
		}
	}
	return n
}

// Running returns the ID of the currently running request, or "".
func (q *Queue) Running() string {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, req := range q.records {
		if req.Status == StatusRunning {
			return req.ID
		}
	}
	return ""
}

func (q *Queue) worker(ctx context.Context) {
	defer q.wg.Done()
	for {
		req := q.next()
		if req == nil {
			select {
			case <-q.notify:
				continue
			case <-ctx.Done():
				return
			}
		}

		if ctx.Err() != nil {
			return
		}
		q.execute(ctx, req)
	}
}

// next pops the first still-queued request in enqueue order.
func (q *Queue) next() *Request {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.pending) > 0 {
		req := q.pending[0]
		q.pending = q.pending[1:]
		if req.Status == StatusQueued {
			return req
		}
		// cancelled while queued, already terminal, skip
	}
	return nil
}

func (q *Queue) execute(ctx context.Context, req *Request) {
	runCtx, cancel := context.WithCancel(ctx)

	q.mu.Lock()
	req.Status = StatusRunning
	req.StartedAt = time.Now().UTC()
	q.cancels[req.ID] = cancel
	snapshot := *req
	q.mu.Unlock()

	q.bus.Publish(protocol.RequestEventRunning, req.ID, snapshot)
	slog.Info("request running", "request", req.ID)

	onTurn := func(turn agent.Turn) {
		q.mu.Lock()
		req.Trace = append(req.Trace, turn)
		q.mu.Unlock()
		q.bus.Publish(protocol.EventTurn, req.ID, turn)
	}

	result, err := q.runFn(runCtx, req.Input, onTurn)
	cancel()

	q.mu.Lock()
	delete(q.cancels, req.ID)
	req.FinishedAt = time.Now().UTC()

	eventType := protocol.RequestEventFailed
	switch {
	case err != nil:
		req.Status = StatusFailed
		req.Outcome = agent.OutcomeError
		req.Reason = err.Error()
	case result.Outcome == agent.OutcomeFinal:
		req.Status = StatusSucceeded
		req.Outcome = result.Outcome
		req.Answer = result.Answer
		eventType = protocol.RequestEventSucceeded
	case result.Outcome == agent.OutcomeCancelled:
		req.Status = StatusCancelled
		req.Outcome = result.Outcome
		req.Reason = result.Reason
		eventType = protocol.RequestEventCancelled
	default: // error, budget_exceeded
		req.Status = StatusFailed
		req.Outcome = result.Outcome
		req.Reason = result.Reason
	}
	terminal := *req
	terminal.Trace = append([]agent.Turn(nil), req.Trace...)
	q.mu.Unlock()

	q.bus.Publish(eventType, req.ID, terminal)
	slog.Info("request finished",
		"request", req.ID, "status", terminal.Status, "turns", len(terminal.Trace))

	if q.history != nil {
		if err := q.history.SaveRequest(context.Background(), &terminal); err != nil {
			slog.Warn("history save failed", "request", req.ID, "error", err)
		}
	}
}
