// Package delegate defines the uniform capability contract used by the
// reasoning loop. A delegate is a named unit of capability (a tool, a
// sub-agent, or a bridged external server) with a single entry point.
package delegate

import "context"

// Delegate is the interface all capabilities must implement.
type Delegate interface {
	Name() string
	Description() string
	Invoke(ctx context.Context, args map[string]interface{}) *Result
}

// Result is the unified return type from a delegate invocation.
type Result struct {
	Text    string `json:"text"`               // content fed back to the reasoning loop
	IsError bool   `json:"is_error"`           // marks a structured failure
	Code    string `json:"code,omitempty"`     // failure code when IsError
	Err     error  `json:"-"`                  // internal error (not serialized)
}

// Failure codes carried on error results.
const (
	CodeTimeout  = "delegate_timeout"
	CodeFailure  = "delegate_failure"
	CodeNotFound = "delegate_not_found"
	CodeDenied   = "delegate_denied"
)

func NewResult(text string) *Result {
	return &Result{Text: text}
}

func ErrorResult(code, message string) *Result {
	return &Result{Text: message, IsError: true, Code: code}
}

func (r *Result) WithError(err error) *Result {
	r.Err = err
	return r
}
