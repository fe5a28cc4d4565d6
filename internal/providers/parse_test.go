package providers

import (
	"errors"
	"testing"

	"github.com/nextlevelbuilder/voxd/internal/agent"
)

func TestParseTurnStrictJSON(t *testing.T) {
	raw := `{"observation": "user wants the time", "plan": ["check clock"], "action": "tool", "response": "clock({\"tz\": \"UTC\"})"}`
	turn, err := ParseTurn(raw)
	if err != nil {
		t.Fatal(err)
	}
	if turn.Action != agent.ActionTool {
		t.Fatalf("action = %s", turn.Action)
	}
	if turn.Call == nil || turn.Call.Name != "clock" {
		t.Fatalf("call = %+v", turn.Call)
	}
	if turn.Call.Args["tz"] != "UTC" {
		t.Fatalf("args = %v", turn.Call.Args)
	}
	if len(turn.Plan) != 1 || turn.Plan[0] != "check clock" {
		t.Fatalf("plan = %v", turn.Plan)
	}
}

func TestParseTurnAnswer(t *testing.T) {
	raw := `Sure, here you go: {"observation": "done", "action": "answer", "response": "It is noon."}`
	turn, err := ParseTurn(raw)
	if err != nil {
		t.Fatal(err)
	}
	if turn.Action != agent.ActionAnswer {
		t.Fatalf("action = %s", turn.Action)
	}
	if turn.Response != "It is noon." {
		t.Fatalf("response = %q", turn.Response)
	}
	if turn.Call != nil {
		t.Fatal("answer turn has a call")
	}
}

func TestParseTurnJSON5Fallback(t *testing.T) {
	// trailing comma and unquoted keys are invalid strict JSON
	raw := `{observation: "ok", action: "answer", response: "fine",}`
	turn, err := ParseTurn(raw)
	if err != nil {
		t.Fatal(err)
	}
	if turn.Action != agent.ActionAnswer || turn.Response != "fine" {
		t.Fatalf("turn = %+v", turn)
	}
}

func TestParseTurnCoercesDelegateNameInAction(t *testing.T) {
	raw := `{"action": "web_search", "response": "web_search({\"query\": \"go releases\"})"}`
	turn, err := ParseTurn(raw)
	if err != nil {
		t.Fatal(err)
	}
	if turn.Action != agent.ActionTool {
		t.Fatalf("action = %s, want tool", turn.Action)
	}
	if turn.Call == nil || turn.Call.Name != "web_search" {
		t.Fatalf("call = %+v", turn.Call)
	}
	if turn.Call.Args["query"] != "go releases" {
		t.Fatalf("args = %v", turn.Call.Args)
	}
}

func TestParseTurnBareDelegateNameWithPlainResponse(t *testing.T) {
	raw := `{"action": "calculator", "response": "2+2"}`
	turn, err := ParseTurn(raw)
	if err != nil {
		t.Fatal(err)
	}
	if turn.Action != agent.ActionTool {
		t.Fatalf("action = %s", turn.Action)
	}
	if turn.Call == nil || turn.Call.Name != "calculator" {
		t.Fatalf("call = %+v", turn.Call)
	}
	if turn.Call.Args["query"] != "2+2" {
		t.Fatalf("args = %v", turn.Call.Args)
	}
}

func TestParseTurnInlineCallInActionField(t *testing.T) {
	raw := `{"action": "search({\"q\": \"news\"})", "response": ""}`
	turn, err := ParseTurn(raw)
	if err != nil {
		t.Fatal(err)
	}
	if turn.Action != agent.ActionTool {
		t.Fatalf("action = %s", turn.Action)
	}
	if turn.Call == nil || turn.Call.Name != "search" {
		t.Fatalf("call = %+v", turn.Call)
	}
}

func TestParseTurnNoObjectIsMalformed(t *testing.T) {
	_, err := ParseTurn("I think the answer is probably 42.")
	if !errors.Is(err, agent.ErrMalformedTurn) {
		t.Fatalf("err = %v, want ErrMalformedTurn", err)
	}
}

func TestParseTurnPlanAsString(t *testing.T) {
	raw := `{"action": "answer", "plan": "- look\n- decide", "response": "ok"}`
	turn, err := ParseTurn(raw)
	if err != nil {
		t.Fatal(err)
	}
	if len(turn.Plan) != 2 || turn.Plan[0] != "look" || turn.Plan[1] != "decide" {
		t.Fatalf("plan = %v", turn.Plan)
	}
}

func TestParseTurnResponseAsList(t *testing.T) {
	raw := `{"action": "answer", "response": ["part one", "part two"]}`
	turn, err := ParseTurn(raw)
	if err != nil {
		t.Fatal(err)
	}
	if turn.Response != "part one\npart two" {
		t.Fatalf("response = %q", turn.Response)
	}
}

func TestParseTurnUnparsableArgsBecomeQuery(t *testing.T) {
	raw := `{"action": "tool", "response": "search({bad broken})"}`
	turn, err := ParseTurn(raw)
	if err != nil {
		t.Fatal(err)
	}
	if turn.Call == nil || turn.Call.Name != "search" {
		t.Fatalf("call = %+v", turn.Call)
	}
	if turn.Call.Args["query"] != "{bad broken}" {
		t.Fatalf("args = %v", turn.Call.Args)
	}
}

func TestParseTurnStripsWrappingQuotes(t *testing.T) {
	raw := `{"observation": "'quoted'", "action": "answer", "response": "\"hello\""}`
	turn, err := ParseTurn(raw)
	if err != nil {
		t.Fatal(err)
	}
	if turn.Observation != "quoted" {
		t.Fatalf("observation = %q", turn.Observation)
	}
	if turn.Response != "hello" {
		t.Fatalf("response = %q", turn.Response)
	}
}
