package providers

import (
	"context"
	"strings"
	"testing"

	"github.com/nextlevelbuilder/voxd/internal/agent"
	"github.com/nextlevelbuilder/voxd/internal/delegate"
)

type scriptedCompleter struct {
	reply   string
	prompts []string
}

func (c *scriptedCompleter) Complete(_ context.Context, messages []Message) (string, error) {
	c.prompts = append(c.prompts, messages[len(messages)-1].Content)
	return c.reply, nil
}

type noopDelegate struct{ name, desc string }

func (d *noopDelegate) Name() string        { return d.name }
func (d *noopDelegate) Description() string { return d.desc }
func (d *noopDelegate) Invoke(context.Context, map[string]interface{}) *delegate.Result {
	return delegate.NewResult("ok")
}

func TestReasonerRendersCatalogAndRequest(t *testing.T) {
	table := delegate.NewTable()
	table.Register(&noopDelegate{name: "clock", desc: "tells the time"})

	client := &scriptedCompleter{reply: `{"action": "answer", "response": "noon"}`}
	r := NewReasoner(client, table, WithSystemInstructions("You are a helpful assistant."))

	turn, err := r.Complete(context.Background(), "what time is it", nil)
	if err != nil {
		t.Fatal(err)
	}
	if turn.Action != agent.ActionAnswer || turn.Response != "noon" {
		t.Fatalf("turn = %+v", turn)
	}

	prompt := client.prompts[0]
	for _, want := range []string{
		"You are a helpful assistant.",
		"clock",
		"tells the time",
		"RESPONSE FORMAT",
		"what time is it",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestReasonerRendersTraceWithResults(t *testing.T) {
	table := delegate.NewTable()
	client := &scriptedCompleter{reply: `{"action": "answer", "response": "done"}`}
	r := NewReasoner(client, table)

	trace := []agent.Turn{
		{
			Observation: "need the weather",
			Action:      agent.ActionTool,
			Call:        &agent.Call{Name: "weather"},
			Result:      "rainy, 12C",
		},
		{
			Observation:   "retry",
			Action:        agent.ActionTool,
			Call:          &agent.Call{Name: "weather"},
			Result:        "service down",
			ResultIsError: true,
		},
	}
	if _, err := r.Complete(context.Background(), "weather?", trace); err != nil {
		t.Fatal(err)
	}

	prompt := client.prompts[0]
	if !strings.Contains(prompt, "rainy, 12C") {
		t.Error("prompt missing delegate result")
	}
	if !strings.Contains(prompt, "Result (FAILED): service down") {
		t.Error("prompt missing failed result marker")
	}
}

func TestReasonerTrimsOldestTurns(t *testing.T) {
	table := delegate.NewTable()
	client := &scriptedCompleter{reply: `{"action": "answer", "response": "ok"}`}
	r := NewReasoner(client, table, WithMaxPromptTokens(1))

	trace := []agent.Turn{
		{Observation: "oldest-marker", Action: agent.ActionTool, Result: strings.Repeat("x", 4000)},
		{Observation: "newest-marker", Action: agent.ActionTool, Result: strings.Repeat("y", 4000)},
	}
	if _, err := r.Complete(context.Background(), "q", trace); err != nil {
		t.Fatal(err)
	}

	prompt := client.prompts[0]
	if strings.Contains(prompt, "oldest-marker") {
		t.Error("oldest turn not trimmed")
	}
	if !strings.Contains(prompt, "newest-marker") {
		t.Error("newest turn must survive trimming")
	}
}

func TestReasonerPropagatesMalformedOutput(t *testing.T) {
	table := delegate.NewTable()
	client := &scriptedCompleter{reply: "no structure here at all"}
	r := NewReasoner(client, table)

	if _, err := r.Complete(context.Background(), "q", nil); err == nil {
		t.Fatal("expected error for unparsable output")
	}
}
