// Package scheduler periodically scans the store for dependency-ready tasks
// and enqueues Execute commands for them.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/swarmguard/taskengine/internal/model"
	"github.com/swarmguard/taskengine/internal/platform/periodic"
	"github.com/swarmguard/taskengine/internal/queue"
)

// Store is the subset of store.Store the scheduler depends on.
type Store interface {
	GetPendingTasks(limit int) []model.Task
	AreDependenciesCompleted(t model.Task) bool
	GetPhase(workflowID, phaseID string) (model.WorkflowPhase, bool)
	ArePhaseDependenciesCompleted(workflowID string, phase model.WorkflowPhase) bool
}

// Scheduler is the single recurring sweep described in the core's component design.
type Scheduler struct {
	store    Store
	queue    *queue.Queue
	interval time.Duration
	batch    int

	evaluated metric.Int64Counter
	enqueued  metric.Int64Counter

	loop *periodic.Loop
}

// New builds a Scheduler that ticks every interval and considers up to batch
// pending tasks per tick.
func New(store Store, q *queue.Queue, interval time.Duration, batch int) *Scheduler {
	if batch <= 0 {
		batch = 100
	}
	meter := otel.Meter("swarm-taskengine-scheduler")
	evaluated, _ := meter.Int64Counter("taskengine_scheduler_evaluated_total")
	enqueued, _ := meter.Int64Counter("taskengine_scheduler_enqueued_total")
	return &Scheduler{
		store:     store,
		queue:     q,
		interval:  interval,
		batch:     batch,
		evaluated: evaluated,
		enqueued:  enqueued,
	}
}

// Start begins the periodic sweep. It is a no-op to call Start twice.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.loop != nil {
		return nil
	}
	loop, err := periodic.NewLoop(s.interval, func() { s.tick(ctx) })
	if err != nil {
		return err
	}
	s.loop = loop
	return nil
}

// Stop halts the periodic sweep.
func (s *Scheduler) Stop() {
	if s.loop != nil {
		s.loop.Stop()
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	candidates := s.store.GetPendingTasks(s.batch)
	for _, t := range candidates {
		s.evaluated.Add(ctx, 1)
		if !s.store.AreDependenciesCompleted(t) {
			continue
		}
		if t.WorkflowID != "" && t.PhaseID != "" {
			phase, ok := s.store.GetPhase(t.WorkflowID, t.PhaseID)
			if !ok || !s.store.ArePhaseDependenciesCompleted(t.WorkflowID, phase) {
				continue
			}
		}
		if err := s.queue.SubmitExecute(t.ID); err != nil {
			slog.Warn("scheduler: failed to enqueue execute", "task_id", t.ID, "error", err)
			continue
		}
		s.enqueued.Add(ctx, 1)
	}
}
