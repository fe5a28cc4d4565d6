package providers

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/titanous/json5"

	"github.com/nextlevelbuilder/voxd/internal/agent"
)

// callPattern matches delegate invocations of the form name({"key": "val"}).
var callPattern = regexp.MustCompile(`(?s)(\w+)\s*\(\s*(\{.*?\})\s*\)`)

// rawTurn tolerates the field shapes models actually emit: plan as array
// or newline string, response as string or array.
type rawTurn struct {
	Observation string      `json:"observation"`
	Thinking    string      `json:"thinking"`
	Plan        interface{} `json:"plan"`
	Action      string      `json:"action"`
	Response    interface{} `json:"response"`
}

// ParseTurn converts raw model output into a structured turn. Strict JSON
// is tried first, then JSON5 for output with trailing commas or unquoted
// keys. An action value that is neither "tool" nor "answer" but looks
// like an inline delegate call is coerced to a tool turn. Output with no
// recognizable structure fails with agent.ErrMalformedTurn.
func ParseTurn(raw string) (*agent.Turn, error) {
	obj, ok := extractObject(raw)
	if !ok {
		return nil, fmt.Errorf("%w: no JSON object in output", agent.ErrMalformedTurn)
	}

	var rt rawTurn
	if err := json.Unmarshal([]byte(obj), &rt); err != nil {
		if err5 := json5.Unmarshal([]byte(obj), &rt); err5 != nil {
			return nil, fmt.Errorf("%w: %v", agent.ErrMalformedTurn, err)
		}
	}

	turn := &agent.Turn{
		Observation: stripQuotes(rt.Observation),
		Plan:        coercePlan(rt.Plan),
		Response:    stripQuotes(flattenResponse(rt.Response)),
	}

	action := strings.TrimSpace(rt.Action)
	switch action {
	case string(agent.ActionAnswer):
		turn.Action = agent.ActionAnswer
	case string(agent.ActionTool):
		turn.Action = agent.ActionTool
	case "":
		turn.Action = agent.ActionAnswer
	default:
		// Models sometimes put the delegate name or the whole call in the
		// action field. Treat it as a tool turn; an inline call wins over
		// whatever is in response.
		turn.Action = agent.ActionTool
		if strings.ContainsAny(action, "({") && turn.Response == "" {
			turn.Response = action
		}
	}

	if turn.Action == agent.ActionTool {
		turn.Call = parseCall(turn.Response, action)
	}
	return turn, nil
}

// extractObject returns the first balanced {...} block in text.
func extractObject(text string) (string, bool) {
	depth, start := 0, -1
	for i, ch := range text {
		switch ch {
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			depth--
			if depth == 0 && start >= 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}

// parseCall extracts a delegate call from the response text, falling back
// to a bare delegate name from the action field.
func parseCall(response, action string) *agent.Call {
	if m := callPattern.FindStringSubmatch(response); m != nil {
		args := map[string]interface{}{}
		if err := json.Unmarshal([]byte(m[2]), &args); err != nil {
			if err5 := json5.Unmarshal([]byte(m[2]), &args); err5 != nil {
				// unparsable args still identify the delegate; hand the
				// raw text over as a query
				args = map[string]interface{}{"query": m[2]}
			}
		}
		return &agent.Call{Name: m[1], Args: args}
	}
	// "action: web_search" with plain text in response
	if action != "" && action != string(agent.ActionTool) && !strings.ContainsAny(action, "({") {
		return &agent.Call{Name: action, Args: map[string]interface{}{"query": response}}
	}
	return nil
}

func coercePlan(v interface{}) []string {
	switch val := v.(type) {
	case nil:
		return nil
	case []interface{}:
		out := make([]string, 0, len(val))
		for _, item := range val {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
		return out
	case string:
		var out []string
		for _, line := range strings.Split(val, "\n") {
			line = strings.TrimSpace(line)
			line = strings.TrimLeft(line, "-* ")
			if line != "" {
				out = append(out, line)
			}
		}
		return out
	default:
		return nil
	}
}

func flattenResponse(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case []interface{}:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			if s, ok := item.(string); ok {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, "\n")
	default:
		return ""
	}
}

func stripQuotes(s string) string {
	t := strings.TrimSpace(s)
	if len(t) >= 2 && t[0] == t[len(t)-1] && (t[0] == '\'' || t[0] == '"') {
		return t[1 : len(t)-1]
	}
	return s
}
