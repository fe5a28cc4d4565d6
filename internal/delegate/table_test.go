package delegate

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

// mockDelegate is a minimal delegate for testing the table.
type mockDelegate struct {
	name     string
	invokeFn func(ctx context.Context, args map[string]interface{}) *Result
}

func (m *mockDelegate) Name() string        { return m.name }
func (m *mockDelegate) Description() string { return "mock delegate" }
func (m *mockDelegate) Invoke(ctx context.Context, args map[string]interface{}) *Result {
	if m.invokeFn != nil {
		return m.invokeFn(ctx, args)
	}
	return NewResult("ok")
}

func TestTable_RegisterAndLookup(t *testing.T) {
	tbl := NewTable()
	tbl.Register(&mockDelegate{name: "search"})

	d, err := tbl.Lookup("search")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if d.Name() != "search" {
		t.Errorf("name = %q, want %q", d.Name(), "search")
	}
}

func TestTable_LookupUnknown(t *testing.T) {
	tbl := NewTable()
	_, err := tbl.Lookup("nonexistent")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestTable_InvokeUnknown(t *testing.T) {
	tbl := NewTable()
	result := tbl.Invoke(context.Background(), "missing", nil, 0)
	if !result.IsError {
		t.Fatal("expected error result for unknown delegate")
	}
	if result.Code != CodeNotFound {
		t.Errorf("code = %q, want %q", result.Code, CodeNotFound)
	}
	if !errors.Is(result.Err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", result.Err)
	}
}

func TestTable_InvokePassesArgs(t *testing.T) {
	tbl := NewTable()
	var got map[string]interface{}
	var calls atomic.Int32
	tbl.Register(&mockDelegate{
		name: "search",
		invokeFn: func(_ context.Context, args map[string]interface{}) *Result {
			calls.Add(1)
			got = args
			return NewResult("42")
		},
	})

	result := tbl.Invoke(context.Background(), "search", map[string]interface{}{"q": "answer"}, 0)
	if result.IsError {
		t.Fatalf("unexpected error: %s", result.Text)
	}
	if result.Text != "42" {
		t.Errorf("text = %q, want %q", result.Text, "42")
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("invocations = %d, want exactly 1", n)
	}
	if got["q"] != "answer" {
		t.Errorf("args[q] = %v, want %q", got["q"], "answer")
	}
}

func TestTable_InvokeTimeout(t *testing.T) {
	tbl := NewTable()
	tbl.Register(&mockDelegate{
		name: "slow",
		invokeFn: func(ctx context.Context, _ map[string]interface{}) *Result {
			<-ctx.Done()
			return NewResult("done anyway")
		},
	})

	result := tbl.Invoke(context.Background(), "slow", nil, 20*time.Millisecond)
	if !result.IsError {
		t.Fatal("expected timeout error result")
	}
	if result.Code != CodeTimeout {
		t.Errorf("code = %q, want %q", result.Code, CodeTimeout)
	}
}

func TestTable_Unregister(t *testing.T) {
	tbl := NewTable()
	tbl.Register(&mockDelegate{name: "d1"})
	tbl.Unregister("d1")
	if _, err := tbl.Lookup("d1"); err == nil {
		t.Error("delegate should be unregistered")
	}
}

func TestTable_Catalog(t *testing.T) {
	tbl := NewTable()
	tbl.Register(&mockDelegate{name: "zeta"})
	tbl.Register(&mockDelegate{name: "alpha"})

	cat := tbl.Catalog()
	if len(cat) != 2 {
		t.Fatalf("catalog len = %d, want 2", len(cat))
	}
	if cat[0].Name != "alpha" || cat[1].Name != "zeta" {
		t.Errorf("catalog not sorted: %v", cat)
	}
}

func TestTable_RateLimit(t *testing.T) {
	tbl := NewTable()
	tbl.Register(&mockDelegate{name: "d"})
	tbl.SetRateLimit(60, 2)

	okCount := 0
	for i := 0; i < 5; i++ {
		result := tbl.Invoke(context.Background(), "d", nil, 0)
		if !result.IsError {
			okCount++
		}
	}
	if okCount > 2 {
		t.Errorf("allowed %d invocations, want <= burst of 2", okCount)
	}
}
