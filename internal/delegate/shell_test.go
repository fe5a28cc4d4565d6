package delegate

import (
	"context"
	"strings"
	"testing"
)

func TestShellDelegate_Echo(t *testing.T) {
	d := NewShellDelegate("")
	result := d.Invoke(context.Background(), map[string]interface{}{"command": "echo hello"})
	if result.IsError {
		t.Fatalf("unexpected error: %s", result.Text)
	}
	if !strings.Contains(result.Text, "hello") {
		t.Errorf("output = %q, want to contain %q", result.Text, "hello")
	}
}

func TestShellDelegate_MissingCommand(t *testing.T) {
	d := NewShellDelegate("")
	result := d.Invoke(context.Background(), map[string]interface{}{})
	if !result.IsError {
		t.Error("expected error for missing command")
	}
}

func TestShellDelegate_DenyPatterns(t *testing.T) {
	d := NewShellDelegate("")
	denied := []string{
		"rm -rf /",
		"dd if=/dev/zero of=/dev/sda",
		"shutdown -h now",
	}
	for _, cmd := range denied {
		result := d.Invoke(context.Background(), map[string]interface{}{"command": cmd})
		if !result.IsError || result.Code != CodeDenied {
			t.Errorf("command %q: expected denied result, got %+v", cmd, result)
		}
	}
}
