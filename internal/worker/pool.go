// Package worker implements the long-lived worker pool that consumes queue
// commands, invokes the task runner, and publishes results.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/swarmguard/taskengine/internal/model"
	"github.com/swarmguard/taskengine/internal/queue"
)

// TaskResult is published by a worker after attempting a task.
type TaskResult struct {
	TaskID  string
	Success bool
	Result  string
	Error   string
}

// Store is the subset of store.Store the pool depends on.
type Store interface {
	GetTask(id string) (model.Task, bool)
	BeginExecution(id string) (model.Task, error)
	UpdateTaskStatus(id string, status model.Status) (model.Task, error)
	ResetTaskForRetry(id string) (model.Task, error)
	AddTaskLog(taskID string, level model.LogLevel, message string, metadata map[string]string) error
}

// Runner is the pluggable callback that performs a task's work.
type Runner interface {
	Run(ctx context.Context, task model.Task) (result string, err error)
}

// Pool is N long-lived workers draining the command queue.
type Pool struct {
	store   Store
	runner  Runner
	queue   *queue.Queue
	results chan TaskResult
	count   int

	tasksStarted  metric.Int64Counter
	tasksFailed   metric.Int64Counter
	tasksSkipped  metric.Int64Counter
	executionTime metric.Float64Histogram

	wg sync.WaitGroup
}

// New builds a worker pool of size count publishing results on a buffered channel.
func New(store Store, runner Runner, q *queue.Queue, count int) *Pool {
	if count < 1 {
		count = 4
	}
	meter := otel.Meter("swarm-taskengine-worker")
	started, _ := meter.Int64Counter("taskengine_worker_tasks_started_total")
	failed, _ := meter.Int64Counter("taskengine_worker_tasks_failed_total")
	skipped, _ := meter.Int64Counter("taskengine_worker_tasks_skipped_total")
	execTime, _ := meter.Float64Histogram("taskengine_worker_execution_seconds")

	return &Pool{
		store:         store,
		runner:        runner,
		queue:         q,
		results:       make(chan TaskResult, 1000),
		count:         count,
		tasksStarted:  started,
		tasksFailed:   failed,
		tasksSkipped:  skipped,
		executionTime: execTime,
	}
}

// Results exposes the channel the result processor consumes.
func (p *Pool) Results() <-chan TaskResult {
	return p.results
}

// Start launches the worker goroutines. They exit when they each receive a
// Shutdown command or ctx is cancelled.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.count; i++ {
		p.wg.Add(1)
		go p.runWorker(ctx, i)
	}
}

// Wait blocks until every worker goroutine has exited.
func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) runWorker(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case cmd, ok := <-p.queue.Receive():
			if !ok {
				return
			}
			switch cmd.Kind {
			case queue.Shutdown:
				return
			case queue.Execute:
				p.execute(ctx, cmd.TaskID)
			case queue.Cancel:
				p.cancel(cmd.TaskID)
			case queue.Retry:
				p.retry(cmd.TaskID)
			}
		case <-time.After(time.Second):
			// cooperative wakeup so ctx.Done() is observed within ~1s even
			// under low traffic.
		}
	}
}

func (p *Pool) execute(ctx context.Context, taskID string) {
	task, ok := p.store.GetTask(taskID)
	if !ok {
		p.tasksSkipped.Add(ctx, 1)
		return
	}
	if task.Status != model.StatusPending {
		p.tasksSkipped.Add(ctx, 1)
		return
	}

	task, err := p.store.BeginExecution(taskID)
	if err != nil {
		return
	}
	_ = p.store.AddTaskLog(taskID, model.LogInfo, "Task started", nil)
	p.tasksStarted.Add(ctx, 1, metric.WithAttributes(attribute.String("agent_name", task.AgentName)))

	runCtx := ctx
	var cancel context.CancelFunc
	if task.TimeoutSeconds > 0 {
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(task.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	start := time.Now()
	result, runErr := p.runSafely(runCtx, task)
	p.executionTime.Record(ctx, time.Since(start).Seconds())

	if runErr != nil {
		p.tasksFailed.Add(ctx, 1)
		p.results <- TaskResult{TaskID: taskID, Success: false, Error: runErr.Error()}
		return
	}
	p.results <- TaskResult{TaskID: taskID, Success: true, Result: result}
}

// runSafely recovers a panicking runner into a regular error, matching the
// core's requirement that no single bad task can crash a worker.
func (p *Pool) runSafely(ctx context.Context, task model.Task) (result string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("runner panicked: %v", r)
		}
	}()
	return p.runner.Run(ctx, task)
}

func (p *Pool) cancel(taskID string) {
	if _, err := p.store.UpdateTaskStatus(taskID, model.StatusCancelled); err != nil {
		return
	}
	_ = p.store.AddTaskLog(taskID, model.LogInfo, "Task cancelled", nil)
}

func (p *Pool) retry(taskID string) {
	if _, err := p.store.ResetTaskForRetry(taskID); err != nil {
		return
	}
	_ = p.store.AddTaskLog(taskID, model.LogInfo, "Task retry requested", nil)
}
