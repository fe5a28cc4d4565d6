package agent

import (
	"context"

	"github.com/nextlevelbuilder/voxd/internal/delegate"
)

// SubAgent exposes a child reasoning loop as a delegate, so an orchestrating
// agent can hand off a task the same way it calls any tool. Sub-agents are
// wired from a fixed manifest at startup.
type SubAgent struct {
	loop        *Loop
	description string
}

// NewSubAgent wraps a loop as a delegate. The description is what the parent
// agent's prompt advertises for selection.
func NewSubAgent(loop *Loop, description string) *SubAgent {
	return &SubAgent{loop: loop, description: description}
}

func (s *SubAgent) Name() string        { return s.loop.Name() }
func (s *SubAgent) Description() string { return s.description }

// Invoke runs the child loop on args["query"] and maps its terminal outcome
// to a delegate result. A non-final child outcome is a delegate failure the
// parent loop can recover from.
func (s *SubAgent) Invoke(ctx context.Context, args map[string]interface{}) *delegate.Result {
	query, _ := args["query"].(string)
	if query == "" {
		return delegate.ErrorResult(delegate.CodeFailure, s.Name()+": query is required")
	}

	res, err := s.loop.Run(ctx, query)
	if err != nil {
		return delegate.ErrorResult(delegate.CodeFailure, s.Name()+": "+err.Error()).WithError(err)
	}

	switch res.Outcome {
	case OutcomeFinal:
		return delegate.NewResult(res.Answer)
	case OutcomeCancelled:
		return delegate.ErrorResult(delegate.CodeTimeout, s.Name()+": run cancelled")
	default:
		return delegate.ErrorResult(delegate.CodeFailure, s.Name()+": "+res.Reason)
	}
}
