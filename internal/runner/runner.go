// Package runner abstracts the external callback a worker invokes to perform
// the work described by a task. The core ships a stub runner plus a small
// registry so deployments can plug in real agent invocation without
// touching the scheduling core.
package runner

import (
	"context"
	"strings"

	"github.com/swarmguard/taskengine/internal/model"
)

// Runner performs the work described by a task and returns its outcome.
type Runner interface {
	Run(ctx context.Context, task model.Task) (result string, err error)
}

// Registry routes execution to a Runner selected by the task's AgentName.
// Selection is by prefix convention: "http:" and "shell:" delegate to their
// respective runners, anything else falls back to the stub.
type Registry struct {
	stub  Runner
	http  Runner
	shell Runner
}

// NewRegistry builds a registry with the reference stub runner plus the
// optional HTTP- and shell-delegating runners.
func NewRegistry(httpRunner, shellRunner Runner) *Registry {
	return &Registry{
		stub:  NewStubRunner(),
		http:  httpRunner,
		shell: shellRunner,
	}
}

// Run dispatches a task to the runner selected by its agent name prefix.
func (r *Registry) Run(ctx context.Context, task model.Task) (string, error) {
	switch {
	case strings.HasPrefix(task.AgentName, "http:") && r.http != nil:
		return r.http.Run(ctx, task)
	case strings.HasPrefix(task.AgentName, "shell:") && r.shell != nil:
		return r.shell.Run(ctx, task)
	default:
		return r.stub.Run(ctx, task)
	}
}
