package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/nextlevelbuilder/voxd/internal/delegate"
)

const (
	DefaultMaxIterations = 8
	DefaultTurnTimeout   = 60 * time.Second
)

// Reasoner is the external language-model collaborator. Given the input and
// the accumulated trace it returns the next structured turn. A parse failure
// is reported as an error wrapping ErrMalformedTurn.
type Reasoner interface {
	Complete(ctx context.Context, input string, trace []Turn) (*Turn, error)
}

// Config bounds a single loop run.
type Config struct {
	MaxIterations int           // iteration budget; 0 = DefaultMaxIterations
	TurnTimeout   time.Duration // per delegate invocation; 0 = DefaultTurnTimeout
	WallClock     time.Duration // whole-run budget; 0 = unbounded
}

// TurnHandler observes turns as the loop records them (progress streaming).
type TurnHandler func(turn Turn)

// Loop drives the observe→plan→act state machine for one agent.
// A Loop is safe to reuse across sequential runs; the orchestration queue
// guarantees runs never overlap.
type Loop struct {
	name     string
	reasoner Reasoner
	table    *delegate.Table
	cfg      Config
	onTurn   TurnHandler
	running  atomic.Bool
}

// NewLoop creates a reasoning loop over the given delegate table.
func NewLoop(name string, reasoner Reasoner, table *delegate.Table, cfg Config) *Loop {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	if cfg.TurnTimeout <= 0 {
		cfg.TurnTimeout = DefaultTurnTimeout
	}
	return &Loop{name: name, reasoner: reasoner, table: table, cfg: cfg}
}

func (l *Loop) Name() string { return l.name }

// IsRunning reports whether a run is currently executing.
func (l *Loop) IsRunning() bool { return l.running.Load() }

// SetTurnHandler registers a handler called once per recorded turn.
// Must be set before Run; the handler should be non-blocking.
func (l *Loop) SetTurnHandler(h TurnHandler) { l.onTurn = h }

// Run executes the loop until a terminal outcome. Delegate failures are
// recoverable: the failure text is fed back as the next observation and the
// loop continues. Unknown delegate names, malformed turns, and reasoning
// backend failures are terminal. Cancellation is cooperative: the context is
// checked at turn boundaries, never mid-delegate-call.
func (l *Loop) Run(ctx context.Context, input string) (*RunResult, error) {
	if l.reasoner == nil {
		return nil, errors.New("loop has no reasoner")
	}

	l.running.Store(true)
	defer l.running.Store(false)

	var deadline time.Time
	if l.cfg.WallClock > 0 {
		deadline = time.Now().Add(l.cfg.WallClock)
	}

	trace := make([]Turn, 0, l.cfg.MaxIterations)

	for iter := 1; iter <= l.cfg.MaxIterations; iter++ {
		if err := ctx.Err(); err != nil {
			return l.finish(OutcomeCancelled, "", fmt.Sprintf("run cancelled before iteration %d", iter), trace), nil
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return l.finish(OutcomeBudgetExceeded, "",
				fmt.Sprintf("wall-clock budget of %s exhausted after %d turns", l.cfg.WallClock, len(trace)), trace), nil
		}

		turn, err := l.reasoner.Complete(ctx, input, trace)
		if err != nil {
			if ctx.Err() != nil {
				return l.finish(OutcomeCancelled, "",
					fmt.Sprintf("run cancelled during iteration %d", iter), trace), nil
			}
			reason := fmt.Sprintf("reasoning backend failed at iteration %d: %v", iter, err)
			if errors.Is(err, ErrMalformedTurn) {
				reason = fmt.Sprintf("reasoning backend produced a malformed turn at iteration %d: %v", iter, err)
			}
			return l.finish(OutcomeError, "", reason, trace), nil
		}

		switch turn.Action {
		case ActionAnswer:
			trace = l.record(trace, *turn)
			return l.finish(OutcomeFinal, turn.Response, "", trace), nil

		case ActionTool:
			if turn.Call == nil || turn.Call.Name == "" {
				turn.Result = "no valid delegate call found in response"
				turn.ResultIsError = true
				trace = l.record(trace, *turn)
				continue
			}
			if _, err := l.table.Lookup(turn.Call.Name); errors.Is(err, delegate.ErrNotFound) {
				trace = l.record(trace, *turn)
				reason := fmt.Sprintf("delegate not found: %s (registered: %v)", turn.Call.Name, l.table.List())
				return l.finish(OutcomeError, "", reason, trace), nil
			}

			// Detached from run cancellation: an in-flight delegate runs to
			// completion or its own timeout; the cancel check happens at the
			// top of the next iteration.
			result := l.table.Invoke(context.WithoutCancel(ctx), turn.Call.Name, turn.Call.Args, l.cfg.TurnTimeout)
			turn.Result = result.Text
			turn.ResultIsError = result.IsError
			trace = l.record(trace, *turn)

			if result.IsError {
				slog.Debug("delegate failed, feeding back as observation",
					"agent", l.name, "delegate", turn.Call.Name, "code", result.Code, "iteration", iter)
			}

		default:
			trace = l.record(trace, *turn)
			return l.finish(OutcomeError, "",
				fmt.Sprintf("reasoning backend produced unknown action %q at iteration %d", turn.Action, iter), trace), nil
		}
	}

	return l.finish(OutcomeBudgetExceeded, "",
		fmt.Sprintf("iteration budget of %d exhausted without a final answer", l.cfg.MaxIterations), trace), nil
}

func (l *Loop) record(trace []Turn, turn Turn) []Turn {
	trace = append(trace, turn)
	if l.onTurn != nil {
		l.onTurn(turn)
	}
	return trace
}

func (l *Loop) finish(outcome Outcome, answer, reason string, trace []Turn) *RunResult {
	switch outcome {
	case OutcomeFinal:
		slog.Info("loop finished", "agent", l.name, "outcome", outcome, "turns", len(trace))
	default:
		slog.Warn("loop finished", "agent", l.name, "outcome", outcome, "turns", len(trace), "reason", reason)
	}
	return &RunResult{Outcome: outcome, Answer: answer, Reason: reason, Trace: trace}
}
