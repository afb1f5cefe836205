package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/swarmguard/taskengine/internal/model"
	"github.com/swarmguard/taskengine/internal/queue"
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

func (f *fakeStore) BeginExecution(id string) (model.Task, error) {
	t, ok := f.tasks[id]
	if !ok {
		return model.Task{}, errors.New("not found")
	}
	t.Status = model.StatusRunning
	f.tasks[id] = t
	return t, nil
}

func (f *fakeStore) UpdateTaskStatus(id string, status model.Status) (model.Task, error) {
	t, ok := f.tasks[id]
	if !ok {
		return model.Task{}, errors.New("not found")
	}
	t.Status = status
	f.tasks[id] = t
	return t, nil
}

func (f *fakeStore) ResetTaskForRetry(id string) (model.Task, error) {
	t, ok := f.tasks[id]
	if !ok {
		return model.Task{}, errors.New("not found")
	}
	if !t.CanRetry() {
		return model.Task{}, errors.New("not retry-eligible")
	}
	t.Status = model.StatusPending
	f.tasks[id] = t
	return t, nil
}

func (f *fakeStore) AddTaskLog(taskID string, level model.LogLevel, message string, metadata map[string]string) error {
	f.logs = append(f.logs, message)
	return nil
}

type fakeRunner struct {
	result string
	err    error
}

func (f *fakeRunner) Run(ctx context.Context, task model.Task) (string, error) {
	return f.result, f.err
}

type panicRunner struct{}

func (panicRunner) Run(ctx context.Context, task model.Task) (string, error) {
	panic("boom")
}

func TestExecutePublishesSuccessResult(t *testing.T) {
	store := newFakeStore()
	store.tasks["t1"] = model.Task{ID: "t1", Status: model.StatusPending}
	p := New(store, &fakeRunner{result: "done"}, queue.New(10), 1)

	p.execute(context.Background(), "t1")

	select {
	case res := <-p.Results():
		if !res.Success || res.Result != "done" {
			t.Fatalf("unexpected result: %+v", res)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a result to be published")
	}
}

func TestExecuteSkipsNonPendingTask(t *testing.T) {
	store := newFakeStore()
	store.tasks["t1"] = model.Task{ID: "t1", Status: model.StatusRunning}
	p := New(store, &fakeRunner{result: "done"}, queue.New(10), 1)

	p.execute(context.Background(), "t1")

	select {
	case res := <-p.Results():
		t.Fatalf("did not expect a result for a non-pending task, got %+v", res)
	default:
	}
}

func TestExecuteRecoversFromPanickingRunner(t *testing.T) {
	store := newFakeStore()
	store.tasks["t1"] = model.Task{ID: "t1", Status: model.StatusPending}
	p := New(store, panicRunner{}, queue.New(10), 1)

	p.execute(context.Background(), "t1")

	select {
	case res := <-p.Results():
		if res.Success {
			t.Fatal("expected a failed result from a panicking runner")
		}
	case <-time.After(time.Second):
		t.Fatal("expected a result to be published even when the runner panics")
	}
}

func TestCancelMarksTaskCancelled(t *testing.T) {
	store := newFakeStore()
	store.tasks["t1"] = model.Task{ID: "t1", Status: model.StatusRunning}
	p := New(store, &fakeRunner{}, queue.New(10), 1)

	p.cancel("t1")

	if store.tasks["t1"].Status != model.StatusCancelled {
		t.Fatalf("expected task to be Cancelled, got %v", store.tasks["t1"].Status)
	}
}

func TestRetryResetsTaskToPending(t *testing.T) {
	store := newFakeStore()
	store.tasks["t1"] = model.Task{ID: "t1", Status: model.StatusFailed, RetryCount: 0, MaxRetries: 3}
	p := New(store, &fakeRunner{}, queue.New(10), 1)

	p.retry("t1")

	if store.tasks["t1"].Status != model.StatusPending {
		t.Fatalf("expected task to be reset to Pending, got %v", store.tasks["t1"].Status)
	}
}

func TestRetryCommandFlowsThroughTheQueueToTheWorker(t *testing.T) {
	store := newFakeStore()
	store.tasks["t1"] = model.Task{ID: "t1", Status: model.StatusFailed, RetryCount: 0, MaxRetries: 3}
	q := queue.New(10)
	p := New(store, &fakeRunner{}, q, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)

	if err := q.SubmitRetry("t1"); err != nil {
		t.Fatalf("SubmitRetry: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if store.tasks["t1"].Status == model.StatusPending {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected task to reach Pending, got %v", store.tasks["t1"].Status)
}
