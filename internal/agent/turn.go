// Package agent implements the reasoning loop: an observe→plan→act state
// machine that consults a reasoning backend each iteration and dispatches
// delegate calls until the backend produces a final answer or the run
// budget is exhausted.
package agent

import "errors"

// ErrMalformedTurn is returned (possibly wrapped) by a Reasoner when the
// backend output cannot be parsed into a structured Turn.
var ErrMalformedTurn = errors.New("malformed turn")

// Action is what the backend decided to do this iteration.
type Action string

const (
	ActionTool   Action = "tool"   // invoke a delegate
	ActionAnswer Action = "answer" // emit the final answer
)

// Call is a structured delegate invocation request parsed from a turn.
type Call struct {
	Name string                 `json:"name"`
	Args map[string]interface{} `json:"args"`
}

// Turn is one iteration of the reasoning loop. Turns are immutable once the
// loop has recorded them; the sequence of turns for one request is its trace.
type Turn struct {
	Observation string   `json:"observation"`
	Plan        []string `json:"plan,omitempty"`
	Action      Action   `json:"action"`
	Response    string   `json:"response"`
	Call        *Call    `json:"call,omitempty"` // parsed from Response when Action == tool

	// Filled in by the loop after dispatch: the delegate's result text,
	// which becomes the observation the backend sees next iteration.
	Result        string `json:"result,omitempty"`
	ResultIsError bool   `json:"result_is_error,omitempty"`
}

// Outcome is the terminal state of a reasoning-loop run.
type Outcome string

const (
	OutcomeFinal          Outcome = "final"
	OutcomeError          Outcome = "error"
	OutcomeBudgetExceeded Outcome = "budget_exceeded"
	OutcomeCancelled      Outcome = "cancelled"
)

// RunResult is what a completed loop run produces.
type RunResult struct {
	Outcome Outcome `json:"outcome"`
	Answer  string  `json:"answer,omitempty"` // set when Outcome == final
	Reason  string  `json:"reason,omitempty"` // human-readable cause for non-final outcomes
	Trace   []Turn  `json:"trace"`
}
