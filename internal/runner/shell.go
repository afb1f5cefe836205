package runner

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/swarmguard/taskengine/internal/model"
)

// ShellRunner executes a fixed allowlist of commands for local/dev use.
// DANGEROUS if the allowlist is widened — kept intentionally small.
type ShellRunner struct {
	allowed map[string]bool
	tracer  trace.Tracer
}

// NewShellRunner builds a runner restricted to a small, safe command set.
func NewShellRunner() *ShellRunner {
	return &ShellRunner{
		allowed: map[string]bool{
			"echo": true, "cat": true, "grep": true, "awk": true,
			"sed": true, "jq": true, "curl": true, "wget": true, "python3": true,
		},
		tracer: otel.Tracer("taskengine-runner-shell"),
	}
}

func (r *ShellRunner) Run(ctx context.Context, task model.Task) (string, error) {
	_, span := r.tracer.Start(ctx, "runner.shell.run")
	defer span.End()

	parts := strings.Fields(task.AgentInstructions)
	if len(parts) == 0 {
		return "", fmt.Errorf("empty command")
	}
	if !r.allowed[parts[0]] {
		return "", fmt.Errorf("command not allowed: %s", parts[0])
	}

	cmd := exec.CommandContext(ctx, parts[0], parts[1:]...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("command failed: %w: %s", err, stderr.String())
	}
	return stdout.String(), nil
}
