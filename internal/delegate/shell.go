package delegate

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"

	shellwords "github.com/mattn/go-shellwords"
)

// Command patterns that are never executed, regardless of what the model asks for.
var denyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\brm\s+(-[a-z]*[rf][a-z]*\s+)+/`),
	regexp.MustCompile(`\bmkfs\b`),
	regexp.MustCompile(`\bdd\s+.*of=/dev/`),
	regexp.MustCompile(`:\(\)\s*\{.*\};\s*:`),
	regexp.MustCompile(`\bshutdown\b|\breboot\b`),
	regexp.MustCompile(`>\s*/dev/s?da`),
}

const maxShellOutput = 16 * 1024

// ShellDelegate executes a command line on the local machine.
// The command string is tokenized with shellwords: no shell interpolation,
// no pipes, no redirection.
type ShellDelegate struct {
	workdir string
}

// NewShellDelegate creates a shell delegate rooted at the given working directory.
func NewShellDelegate(workdir string) *ShellDelegate {
	return &ShellDelegate{workdir: workdir}
}

func (s *ShellDelegate) Name() string { return "shell" }

func (s *ShellDelegate) Description() string {
	return "Run a command line on the local machine and return its output. " +
		`Usage: shell({"command": "ls -la"})`
}

func (s *ShellDelegate) Invoke(ctx context.Context, args map[string]interface{}) *Result {
	command, _ := args["command"].(string)
	if strings.TrimSpace(command) == "" {
		return ErrorResult(CodeFailure, "shell: command is required")
	}

	for _, pattern := range denyPatterns {
		if pattern.MatchString(command) {
			return ErrorResult(CodeDenied, "shell: command denied by safety policy")
		}
	}

	parts, err := shellwords.Parse(command)
	if err != nil {
		return ErrorResult(CodeFailure, fmt.Sprintf("shell: parse error: %v", err)).WithError(err)
	}
	if len(parts) == 0 {
		return ErrorResult(CodeFailure, "shell: empty command")
	}

	cmd := exec.CommandContext(ctx, parts[0], parts[1:]...)
	cmd.Dir = s.workdir

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	runErr := cmd.Run()
	output := buf.String()
	if len(output) > maxShellOutput {
		output = output[:maxShellOutput] + "\n... (output truncated)"
	}

	if ctx.Err() == context.DeadlineExceeded {
		return ErrorResult(CodeTimeout, "shell: command timed out").WithError(ctx.Err())
	}
	if runErr != nil {
		msg := fmt.Sprintf("shell: %v", runErr)
		if output != "" {
			msg += "\n" + output
		}
		return ErrorResult(CodeFailure, msg).WithError(runErr)
	}

	if output == "" {
		output = "(no output)"
	}
	return NewResult(output)
}
