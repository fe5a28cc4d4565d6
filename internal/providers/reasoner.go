package providers

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pkoukk/tiktoken-go"

	"github.com/nextlevelbuilder/voxd/internal/agent"
	"github.com/nextlevelbuilder/voxd/internal/delegate"
)

const defaultMaxPromptTokens = 24000

const formatInstructions = `## RESPONSE FORMAT

Respond with a single JSON object containing these fields:

- **observation** (string): One short sentence about current context, key facts, or constraints.
- **plan** (list): 0-3 short, concrete next steps. Use [] when obvious.
- **action** (string): MUST be EXACTLY "tool" or EXACTLY "answer". Never write a delegate name here.
- **response** (string): If action="tool": the delegate call as delegate_name({"key": "value"}). If action="answer": the final response text.

Important: Output ONLY the JSON object, no markdown fences.`

// Reasoner renders the observe-plan-act prompt, calls a completion
// backend, and parses the output into structured turns. It implements
// agent.Reasoner.
type Reasoner struct {
	client          Completer
	table           *delegate.Table
	system          string
	maxPromptTokens int
	encoder         *tiktoken.Tiktoken
}

// ReasonerOption configures a Reasoner.
type ReasonerOption func(*Reasoner)

// WithSystemInstructions sets the leading system prompt.
func WithSystemInstructions(s string) ReasonerOption {
	return func(r *Reasoner) { r.system = s }
}

// WithMaxPromptTokens bounds the rendered prompt; oldest trace turns are
// dropped first when over budget.
func WithMaxPromptTokens(n int) ReasonerOption {
	return func(r *Reasoner) { r.maxPromptTokens = n }
}

// NewReasoner creates a reasoner over the given completion client and
// delegate table.
func NewReasoner(client Completer, table *delegate.Table, opts ...ReasonerOption) *Reasoner {
	r := &Reasoner{
		client:          client,
		table:           table,
		maxPromptTokens: defaultMaxPromptTokens,
	}
	for _, opt := range opts {
		opt(r)
	}
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		// token counting degrades to a character heuristic
		slog.Warn("tiktoken encoding unavailable", "error", err)
	} else {
		r.encoder = enc
	}
	return r
}

// Complete runs one reasoning iteration.
func (r *Reasoner) Complete(ctx context.Context, input string, trace []agent.Turn) (*agent.Turn, error) {
	prompt := r.render(input, r.trim(input, trace))

	raw, err := r.client.Complete(ctx, []Message{
		{Role: "user", Content: prompt},
	})
	if err != nil {
		return nil, fmt.Errorf("completion: %w", err)
	}

	turn, err := ParseTurn(raw)
	if err != nil {
		return nil, err
	}
	return turn, nil
}

// render assembles the full prompt: system instructions, context, the
// delegate catalog, format rules, the trace so far, and the request.
func (r *Reasoner) render(input string, trace []agent.Turn) string {
	var parts []string

	if r.system != "" {
		parts = append(parts, r.system)
	}

	parts = append(parts, fmt.Sprintf("## CONTEXT\nCurrent UTC time: %s",
		time.Now().UTC().Format(time.RFC3339)))

	if catalog := r.table.Catalog(); len(catalog) > 0 {
		var b strings.Builder
		b.WriteString("## AVAILABLE DELEGATES\n")
		for _, d := range catalog {
			fmt.Fprintf(&b, "\n## %s\n**Description**:\n%s\n**Usage**: %s({\"key\": \"value\"})\n",
				d.Name, d.Description, d.Name)
		}
		b.WriteString("\n## DELEGATE INVOCATION FORMAT\n\nUse exact format: delegate_name({\"param\": \"value\"})")
		parts = append(parts, b.String())
	}

	parts = append(parts, formatInstructions)

	if len(trace) > 0 {
		var b strings.Builder
		b.WriteString("## PROGRESS SO FAR\n")
		for i, turn := range trace {
			fmt.Fprintf(&b, "\n### Iteration %d\n", i+1)
			if turn.Observation != "" {
				fmt.Fprintf(&b, "Observation: %s\n", turn.Observation)
			}
			fmt.Fprintf(&b, "Action: %s\n", turn.Action)
			if turn.Call != nil {
				fmt.Fprintf(&b, "Delegate: %s\n", turn.Call.Name)
			}
			if turn.Result != "" {
				label := "Result"
				if turn.ResultIsError {
					label = "Result (FAILED)"
				}
				fmt.Fprintf(&b, "%s: %s\n", label, turn.Result)
			}
		}
		parts = append(parts, b.String())
	}

	parts = append(parts, fmt.Sprintf("## CURRENT REQUEST\n\n%s", input))
	return strings.Join(parts, "\n\n")
}

// trim drops the oldest trace turns until the rendered prompt fits the
// token budget. The newest turns carry the freshest delegate results, so
// they survive.
func (r *Reasoner) trim(input string, trace []agent.Turn) []agent.Turn {
	for len(trace) > 1 {
		if r.countTokens(r.render(input, trace)) <= r.maxPromptTokens {
			break
		}
		slog.Debug("trimming oldest trace turn", "remaining", len(trace)-1)
		trace = trace[1:]
	}
	return trace
}

func (r *Reasoner) countTokens(text string) int {
	if r.encoder != nil {
		return len(r.encoder.Encode(text, nil, nil))
	}
	return len(text) / 4
}
