package resultproc

import (
	"context"
	"testing"
	"time"

	"github.com/swarmguard/taskengine/internal/model"
	"github.com/swarmguard/taskengine/internal/worker"
)

type fakeStore struct {
	tasks map[string]model.Task
	logs  []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{tasks: make(map[string]model.Task)}
}

func (f *fakeStore) GetTask(id string) (model.Task, bool) {
	t, ok := f.tasks[id]
	return t, ok
}

func (f *fakeStore) UpdateTaskResult(id, result string) (model.Task, error) {
	t := f.tasks[id]
	t.Status = model.StatusCompleted
	t.Result = result
	f.tasks[id] = t
	return t, nil
}

func (f *fakeStore) UpdateTaskError(id, errText string) (model.Task, error) {
	t := f.tasks[id]
	t.Status = model.StatusFailed
	t.Error = errText
	f.tasks[id] = t
	return t, nil
}

func (f *fakeStore) AddTaskLog(taskID string, level model.LogLevel, message string, metadata map[string]string) error {
	f.logs = append(f.logs, message)
	return nil
}

type fakeRollup struct {
	rolledUp      []string
	phaseRolledUp []string
}

func (f *fakeRollup) Rollup(workflowID string) error {
	f.rolledUp = append(f.rolledUp, workflowID)
	return nil
}

func (f *fakeRollup) RollupPhase(workflowID, phaseID string) error {
	f.phaseRolledUp = append(f.phaseRolledUp, workflowID+"/"+phaseID)
	return nil
}

type fakeEvents struct {
	published []string
}

func (f *fakeEvents) PublishTaskOutcome(ctx context.Context, t model.Task) {
	f.published = append(f.published, t.ID)
}

func TestProcessSuccessTriggersRollup(t *testing.T) {
	store := newFakeStore()
	store.tasks["t1"] = model.Task{ID: "t1", WorkflowID: "wf1", PhaseID: "p1"}
	rollup := &fakeRollup{}
	events := &fakeEvents{}
	p := New(store, rollup, events)

	results := make(chan worker.TaskResult, 1)
	results <- worker.TaskResult{TaskID: "t1", Success: true, Result: "ok"}
	close(results)
	p.Run(context.Background(), results)

	if store.tasks["t1"].Status != model.StatusCompleted {
		t.Fatalf("expected task to be Completed, got %v", store.tasks["t1"].Status)
	}
	if len(rollup.rolledUp) != 1 || rollup.rolledUp[0] != "wf1" {
		t.Fatalf("expected workflow rollup to be triggered, got %v", rollup.rolledUp)
	}
	if len(rollup.phaseRolledUp) != 1 || rollup.phaseRolledUp[0] != "wf1/p1" {
		t.Fatalf("expected phase rollup to be triggered, got %v", rollup.phaseRolledUp)
	}
	if len(events.published) != 1 || events.published[0] != "t1" {
		t.Fatalf("expected event publisher to be notified, got %v", events.published)
	}
}

func TestProcessFailureSkipsRollupWithoutWorkflow(t *testing.T) {
	store := newFakeStore()
	store.tasks["t1"] = model.Task{ID: "t1"}
	rollup := &fakeRollup{}
	p := New(store, rollup, nil)

	results := make(chan worker.TaskResult, 1)
	results <- worker.TaskResult{TaskID: "t1", Success: false, Error: "boom"}
	close(results)
	p.Run(context.Background(), results)

	if store.tasks["t1"].Status != model.StatusFailed {
		t.Fatalf("expected task to be Failed, got %v", store.tasks["t1"].Status)
	}
	if len(rollup.rolledUp) != 0 {
		t.Fatalf("task with no workflow should not trigger a rollup, got %v", rollup.rolledUp)
	}
}

func TestProcessStopsOnContextCancellation(t *testing.T) {
	store := newFakeStore()
	p := New(store, &fakeRollup{}, nil)

	results := make(chan worker.TaskResult)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx, results)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
