package agent

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nextlevelbuilder/voxd/internal/delegate"
)

// scriptedReasoner returns a fixed sequence of turns, then repeats the last.
type scriptedReasoner struct {
	turns []Turn
	calls atomic.Int32
}

func (s *scriptedReasoner) Complete(_ context.Context, _ string, _ []Turn) (*Turn, error) {
	n := int(s.calls.Add(1)) - 1
	if n >= len(s.turns) {
		n = len(s.turns) - 1
	}
	turn := s.turns[n]
	return &turn, nil
}

// failingReasoner always fails with the given error.
type failingReasoner struct{ err error }

func (f *failingReasoner) Complete(_ context.Context, _ string, _ []Turn) (*Turn, error) {
	return nil, f.err
}

type stubDelegate struct {
	name   string
	result *delegate.Result
	calls  atomic.Int32
	args   map[string]interface{}
}

func (d *stubDelegate) Name() string        { return d.name }
func (d *stubDelegate) Description() string { return "stub" }
func (d *stubDelegate) Invoke(_ context.Context, args map[string]interface{}) *delegate.Result {
	d.calls.Add(1)
	d.args = args
	return d.result
}

func TestLoop_ToolThenAnswer(t *testing.T) {
	search := &stubDelegate{name: "search", result: delegate.NewResult("42")}
	tbl := delegate.NewTable()
	tbl.Register(search)

	reasoner := &scriptedReasoner{turns: []Turn{
		{Action: ActionTool, Call: &Call{Name: "search", Args: map[string]interface{}{"q": "answer"}}},
		{Action: ActionAnswer, Response: "The answer is 42"},
	}}

	loop := NewLoop("orchestrator", reasoner, tbl, Config{MaxIterations: 8})
	res, err := loop.Run(context.Background(), "what is the answer?")
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if res.Outcome != OutcomeFinal {
		t.Fatalf("outcome = %q, want final (reason: %s)", res.Outcome, res.Reason)
	}
	if res.Answer != "The answer is 42" {
		t.Errorf("answer = %q, want %q", res.Answer, "The answer is 42")
	}
	if len(res.Trace) != 2 {
		t.Errorf("trace length = %d, want 2", len(res.Trace))
	}
	if n := search.calls.Load(); n != 1 {
		t.Errorf("delegate invoked %d times, want exactly 1", n)
	}
	if search.args["q"] != "answer" {
		t.Errorf("delegate args = %v, want q=answer", search.args)
	}
	if res.Trace[0].Result != "42" {
		t.Errorf("turn 0 result = %q, want %q", res.Trace[0].Result, "42")
	}
}

func TestLoop_DelegateFailureIsRecoverable(t *testing.T) {
	failing := &stubDelegate{name: "flaky", result: delegate.ErrorResult(delegate.CodeFailure, "boom")}
	tbl := delegate.NewTable()
	tbl.Register(failing)

	const maxIters = 4
	reasoner := &scriptedReasoner{turns: []Turn{
		{Action: ActionTool, Call: &Call{Name: "flaky", Args: nil}},
	}}

	loop := NewLoop("a", reasoner, tbl, Config{MaxIterations: maxIters})
	res, err := loop.Run(context.Background(), "x")
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if res.Outcome != OutcomeBudgetExceeded {
		t.Fatalf("outcome = %q, want budget_exceeded", res.Outcome)
	}
	if len(res.Trace) != maxIters {
		t.Errorf("trace length = %d, want %d", len(res.Trace), maxIters)
	}
	if n := failing.calls.Load(); n != maxIters {
		t.Errorf("delegate invoked %d times, want %d", n, maxIters)
	}
	if res.Reason == "" {
		t.Error("budget_exceeded result must carry a reason")
	}
}

func TestLoop_UnknownDelegateIsTerminal(t *testing.T) {
	tbl := delegate.NewTable()
	reasoner := &scriptedReasoner{turns: []Turn{
		{Action: ActionTool, Call: &Call{Name: "ghost"}},
		{Action: ActionAnswer, Response: "should never get here"},
	}}

	loop := NewLoop("a", reasoner, tbl, Config{MaxIterations: 8})
	res, err := loop.Run(context.Background(), "x")
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if res.Outcome != OutcomeError {
		t.Fatalf("outcome = %q, want error", res.Outcome)
	}
	if !strings.Contains(res.Reason, "delegate not found") || !strings.Contains(res.Reason, "ghost") {
		t.Errorf("reason = %q, want delegate-not-found mentioning %q", res.Reason, "ghost")
	}
	if len(res.Trace) != 1 {
		t.Errorf("trace length = %d, want 1", len(res.Trace))
	}
}

func TestLoop_MalformedTurnIsTerminal(t *testing.T) {
	tbl := delegate.NewTable()
	loop := NewLoop("a", &failingReasoner{err: ErrMalformedTurn}, tbl, Config{MaxIterations: 8})

	res, err := loop.Run(context.Background(), "x")
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if res.Outcome != OutcomeError {
		t.Fatalf("outcome = %q, want error", res.Outcome)
	}
	if !strings.Contains(res.Reason, "malformed") {
		t.Errorf("reason = %q, want to mention malformed turn", res.Reason)
	}
}

func TestLoop_UnknownActionIsTerminal(t *testing.T) {
	tbl := delegate.NewTable()
	reasoner := &scriptedReasoner{turns: []Turn{{Action: Action("web_search"), Response: "x"}}}

	loop := NewLoop("a", reasoner, tbl, Config{MaxIterations: 8})
	res, _ := loop.Run(context.Background(), "x")
	if res.Outcome != OutcomeError {
		t.Fatalf("outcome = %q, want error", res.Outcome)
	}
	if !strings.Contains(res.Reason, "web_search") {
		t.Errorf("reason = %q, want to name the bad action", res.Reason)
	}
}

func TestLoop_MissingCallFeedsBackObservation(t *testing.T) {
	tbl := delegate.NewTable()
	reasoner := &scriptedReasoner{turns: []Turn{
		{Action: ActionTool, Call: nil},
		{Action: ActionAnswer, Response: "recovered"},
	}}

	loop := NewLoop("a", reasoner, tbl, Config{MaxIterations: 8})
	res, _ := loop.Run(context.Background(), "x")
	if res.Outcome != OutcomeFinal {
		t.Fatalf("outcome = %q, want final", res.Outcome)
	}
	if !res.Trace[0].ResultIsError {
		t.Error("turn 0 should carry a failure observation")
	}
	if len(res.Trace) != 2 {
		t.Errorf("trace length = %d, want 2", len(res.Trace))
	}
}

func TestLoop_CancelledAtTurnBoundary(t *testing.T) {
	tbl := delegate.NewTable()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	reasoner := &scriptedReasoner{turns: []Turn{{Action: ActionAnswer, Response: "x"}}}
	loop := NewLoop("a", reasoner, tbl, Config{MaxIterations: 8})
	res, _ := loop.Run(ctx, "x")
	if res.Outcome != OutcomeCancelled {
		t.Fatalf("outcome = %q, want cancelled", res.Outcome)
	}
	if len(res.Trace) != 0 {
		t.Errorf("trace length = %d, want 0 for pre-run cancel", len(res.Trace))
	}
}

func TestLoop_WallClockBudget(t *testing.T) {
	slow := &stubDelegate{name: "slow", result: delegate.NewResult("ok")}
	tbl := delegate.NewTable()
	tbl.Register(slow)

	reasoner := &scriptedReasonerWithDelay{
		inner: &scriptedReasoner{turns: []Turn{{Action: ActionTool, Call: &Call{Name: "slow"}}}},
		delay: 30 * time.Millisecond,
	}

	loop := NewLoop("a", reasoner, tbl, Config{MaxIterations: 100, WallClock: 50 * time.Millisecond})
	res, _ := loop.Run(context.Background(), "x")
	if res.Outcome != OutcomeBudgetExceeded {
		t.Fatalf("outcome = %q, want budget_exceeded", res.Outcome)
	}
	if len(res.Trace) >= 100 {
		t.Errorf("trace length = %d, wall clock should have stopped the run early", len(res.Trace))
	}
}

type scriptedReasonerWithDelay struct {
	inner *scriptedReasoner
	delay time.Duration
}

func (s *scriptedReasonerWithDelay) Complete(ctx context.Context, input string, trace []Turn) (*Turn, error) {
	time.Sleep(s.delay)
	return s.inner.Complete(ctx, input, trace)
}

func TestLoop_TurnHandlerSeesEveryTurn(t *testing.T) {
	search := &stubDelegate{name: "search", result: delegate.NewResult("42")}
	tbl := delegate.NewTable()
	tbl.Register(search)

	reasoner := &scriptedReasoner{turns: []Turn{
		{Action: ActionTool, Call: &Call{Name: "search"}},
		{Action: ActionAnswer, Response: "done"},
	}}

	var seen []Turn
	loop := NewLoop("a", reasoner, tbl, Config{MaxIterations: 8})
	loop.SetTurnHandler(func(turn Turn) { seen = append(seen, turn) })

	res, _ := loop.Run(context.Background(), "x")
	if len(seen) != len(res.Trace) {
		t.Errorf("handler saw %d turns, trace has %d", len(seen), len(res.Trace))
	}
	if seen[0].Result != "42" {
		t.Errorf("handler should see turns after the delegate result is attached, got %q", seen[0].Result)
	}
}

func TestSubAgent_MapsOutcomes(t *testing.T) {
	tbl := delegate.NewTable()
	child := NewLoop("researcher", &scriptedReasoner{turns: []Turn{
		{Action: ActionAnswer, Response: "child answer"},
	}}, tbl, Config{MaxIterations: 4})

	sub := NewSubAgent(child, "research sub-agent")
	if sub.Name() != "researcher" {
		t.Errorf("name = %q, want researcher", sub.Name())
	}

	res := sub.Invoke(context.Background(), map[string]interface{}{"query": "go"})
	if res.IsError {
		t.Fatalf("unexpected error: %s", res.Text)
	}
	if res.Text != "child answer" {
		t.Errorf("text = %q, want %q", res.Text, "child answer")
	}

	res = sub.Invoke(context.Background(), map[string]interface{}{})
	if !res.IsError {
		t.Error("missing query should be an error result")
	}
}

// blockingDelegate waits out its full duration and records whether the
// invocation context was cancelled underneath it.
type blockingDelegate struct {
	name      string
	duration  time.Duration
	preempted atomic.Bool
	finished  atomic.Bool
}

func (d *blockingDelegate) Name() string        { return d.name }
func (d *blockingDelegate) Description() string { return "blocking" }
func (d *blockingDelegate) Invoke(ctx context.Context, _ map[string]interface{}) *delegate.Result {
	select {
	case <-ctx.Done():
		d.preempted.Store(true)
		return delegate.ErrorResult(delegate.CodeFailure, "aborted: "+ctx.Err().Error())
	case <-time.After(d.duration):
		d.finished.Store(true)
		return delegate.NewResult("done")
	}
}

func TestLoop_CancelDoesNotPreemptDelegate(t *testing.T) {
	slow := &blockingDelegate{name: "slow", duration: 150 * time.Millisecond}
	tbl := delegate.NewTable()
	tbl.Register(slow)

	reasoner := &scriptedReasoner{turns: []Turn{
		{Action: ActionTool, Call: &Call{Name: "slow"}},
	}}

	loop := NewLoop("a", reasoner, tbl, Config{MaxIterations: 8, TurnTimeout: time.Second})
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	res, err := loop.Run(ctx, "x")
	if err != nil {
		t.Fatal(err)
	}
	if slow.preempted.Load() {
		t.Fatal("in-flight delegate observed cancellation")
	}
	if !slow.finished.Load() {
		t.Fatal("delegate did not run to completion")
	}
	if res.Outcome != OutcomeCancelled {
		t.Fatalf("outcome = %q, want cancelled at the next turn boundary", res.Outcome)
	}
	if len(res.Trace) != 1 {
		t.Errorf("trace length = %d, want 1", len(res.Trace))
	}
	if res.Trace[0].Result != "done" {
		t.Errorf("turn result = %q, want the completed delegate output", res.Trace[0].Result)
	}
}

// cancelAwareReasoner propagates context cancellation like a real HTTP client.
type cancelAwareReasoner struct{}

func (cancelAwareReasoner) Complete(ctx context.Context, _ string, _ []Turn) (*Turn, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(200 * time.Millisecond):
		return &Turn{Action: ActionAnswer, Response: "late"}, nil
	}
}

func TestLoop_CancelDuringReasoningIsCancelledNotError(t *testing.T) {
	tbl := delegate.NewTable()
	loop := NewLoop("a", cancelAwareReasoner{}, tbl, Config{MaxIterations: 8})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	res, err := loop.Run(ctx, "x")
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != OutcomeCancelled {
		t.Fatalf("outcome = %q, want cancelled", res.Outcome)
	}
}
