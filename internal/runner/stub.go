package runner

import (
	"context"
	"time"

	"github.com/swarmguard/taskengine/internal/model"
)

// StubRunner sleeps briefly and reports success, mirroring the reference
// implementation's placeholder agent invocation so the scheduler, worker
// pool, and webhook pipeline are exercisable without real agent infra.
type StubRunner struct {
	Delay time.Duration
}

// NewStubRunner returns a StubRunner with a short, fixed delay.
func NewStubRunner() *StubRunner {
	return &StubRunner{Delay: 200 * time.Millisecond}
}

func (s *StubRunner) Run(ctx context.Context, task model.Task) (string, error) {
	select {
	case <-time.After(s.Delay):
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return "task " + task.Name + " executed successfully", nil
}
