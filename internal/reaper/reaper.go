// Package reaper re-homes tasks left Running by a crashed worker back to
// Pending after a configurable staleness threshold. This is additive
// behavior beyond the minimum core, documented as such.
package reaper

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/swarmguard/taskengine/internal/model"
	"github.com/swarmguard/taskengine/internal/platform/periodic"
)

// Store is the subset of store.Store the reaper depends on.
type Store interface {
	ListTasks(status model.Status, workflowID string, limit int) []model.Task
	ResetStaleRunning(id string) (model.Task, error)
	AddTaskLog(taskID string, level model.LogLevel, message string, metadata map[string]string) error
}

// Reaper sweeps for stale Running tasks on a fixed interval.
type Reaper struct {
	store       Store
	interval    time.Duration
	staleAfter  time.Duration
	reapedCount metric.Int64Counter
	loop        *periodic.Loop
}

// New builds a Reaper that considers a Running task stale after staleAfter
// has elapsed since its started_at.
func New(store Store, interval, staleAfter time.Duration) *Reaper {
	meter := otel.Meter("swarm-taskengine-reaper")
	reaped, _ := meter.Int64Counter("taskengine_reaper_reaped_total")
	return &Reaper{store: store, interval: interval, staleAfter: staleAfter, reapedCount: reaped}
}

// Start begins the periodic sweep.
func (r *Reaper) Start(ctx context.Context) error {
	loop, err := periodic.NewLoop(r.interval, func() { r.tick(ctx) })
	if err != nil {
		return err
	}
	r.loop = loop
	return nil
}

// Stop halts the periodic sweep.
func (r *Reaper) Stop() {
	if r.loop != nil {
		r.loop.Stop()
	}
}

func (r *Reaper) tick(ctx context.Context) {
	running := r.store.ListTasks(model.StatusRunning, "", 0)
	now := time.Now().UTC()
	for _, t := range running {
		if t.StartedAt == nil || now.Sub(*t.StartedAt) < r.staleAfter {
			continue
		}
		if _, err := r.store.ResetStaleRunning(t.ID); err != nil {
			slog.Warn("reaper: failed to reset stale task", "task_id", t.ID, "error", err)
			continue
		}
		_ = r.store.AddTaskLog(t.ID, model.LogWarn, "Task reaped: stale Running state", nil)
		r.reapedCount.Add(ctx, 1)
	}
}
