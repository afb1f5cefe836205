// Package resultproc consumes worker results and is the sole authority that
// transitions a task from Running to a terminal state.
package resultproc

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/swarmguard/taskengine/internal/model"
	"github.com/swarmguard/taskengine/internal/worker"
)

// EventPublisher is the subset of events.Publisher the processor depends on.
// A nil EventPublisher is valid and simply disables publishing.
type EventPublisher interface {
	PublishTaskOutcome(ctx context.Context, t model.Task)
}

// Store is the subset of store.Store the result processor depends on.
type Store interface {
	GetTask(id string) (model.Task, bool)
	UpdateTaskResult(id, result string) (model.Task, error)
	UpdateTaskError(id, errText string) (model.Task, error)
	AddTaskLog(taskID string, level model.LogLevel, message string, metadata map[string]string) error
}

// WorkflowRollup is the subset of workflow.Manager the processor depends on.
type WorkflowRollup interface {
	Rollup(workflowID string) error
	RollupPhase(workflowID, phaseID string) error
}

// Processor drains a worker pool's result channel.
type Processor struct {
	store    Store
	workflow WorkflowRollup
	events   EventPublisher

	completed metric.Int64Counter
	failed    metric.Int64Counter
}

// New builds a Processor. events may be nil to disable event publishing.
func New(store Store, wf WorkflowRollup, events EventPublisher) *Processor {
	meter := otel.Meter("swarm-taskengine-resultproc")
	completed, _ := meter.Int64Counter("taskengine_results_completed_total")
	failed, _ := meter.Int64Counter("taskengine_results_failed_total")
	return &Processor{store: store, workflow: wf, events: events, completed: completed, failed: failed}
}

// Run consumes results until the channel closes or ctx is cancelled.
func (p *Processor) Run(ctx context.Context, results <-chan worker.TaskResult) {
	for {
		select {
		case <-ctx.Done():
			return
		case res, ok := <-results:
			if !ok {
				return
			}
			p.process(ctx, res)
		case <-time.After(time.Second):
		}
	}
}

func (p *Processor) process(ctx context.Context, res worker.TaskResult) {
	var (
		task model.Task
		err  error
	)
	if res.Success {
		task, err = p.store.UpdateTaskResult(res.TaskID, res.Result)
		if err == nil {
			_ = p.store.AddTaskLog(res.TaskID, model.LogInfo, "Task completed successfully", nil)
			p.completed.Add(ctx, 1)
		}
	} else {
		task, err = p.store.UpdateTaskError(res.TaskID, res.Error)
		if err == nil {
			_ = p.store.AddTaskLog(res.TaskID, model.LogError, "Task failed", map[string]string{"error": res.Error})
			p.failed.Add(ctx, 1)
		}
	}
	if err != nil {
		slog.Warn("resultproc: failed to persist task outcome", "task_id", res.TaskID, "error", err)
		return
	}

	// Webhook delivery is discovered and delivered independently by the
	// webhook pipeline's own poll of PendingWebhookTasks — no direct
	// coupling here.
	if p.events != nil {
		p.events.PublishTaskOutcome(ctx, task)
	}

	if task.WorkflowID == "" {
		return
	}
	if task.PhaseID != "" {
		if err := p.workflow.RollupPhase(task.WorkflowID, task.PhaseID); err != nil {
			slog.Warn("resultproc: phase rollup failed", "workflow_id", task.WorkflowID, "phase_id", task.PhaseID, "error", err)
		}
	}
	if err := p.workflow.Rollup(task.WorkflowID); err != nil {
		slog.Warn("resultproc: workflow rollup failed", "workflow_id", task.WorkflowID, "error", err)
	}
}
